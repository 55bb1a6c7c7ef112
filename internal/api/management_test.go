package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func (ts *testServer) login(t *testing.T) (token, userID string) {
	t.Helper()
	if w := ts.post(t, "/api/auth/register", map[string]any{
		"email": "mgmt@example.com", "password": "hunter22",
	}); w.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}
	w := ts.post(t, "/api/auth/login", map[string]any{
		"email": "mgmt@example.com", "password": "hunter22",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token  string `json:"token"`
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp.Token, resp.UserID
}

func (ts *testServer) authed(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	ts.Engine.ServeHTTP(w, req)
	return w
}

func TestAccountAndStrategyManagementFlow(t *testing.T) {
	ts := newTestServer(t)
	token, userID := ts.login(t)

	// Store an account; credentials are encrypted at rest.
	w := ts.authed(t, http.MethodPost, "/api/accounts", token, map[string]any{
		"exchange":   "BINANCE",
		"name":       "managed",
		"api_key":    "plain-key",
		"api_secret": "plain-secret",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create account: %d %s", w.Code, w.Body.String())
	}
	var acc struct {
		AccountID string `json:"account_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &acc); err != nil {
		t.Fatalf("decode account: %v", err)
	}

	stored, err := ts.database.GetAccountByID(context.Background(), userID, acc.AccountID)
	if err != nil {
		t.Fatalf("fetch stored account: %v", err)
	}
	if stored.APIKeyEncrypted == "plain-key" || stored.APISecretEncrypted == "plain-secret" {
		t.Fatal("credentials stored in plaintext")
	}

	// Register a signal group.
	w = ts.authed(t, http.MethodPost, "/api/strategies", token, map[string]any{
		"name":        "Managed Alpha",
		"group_name":  "managed-alpha",
		"market_type": "FUTURES",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create strategy: %d %s", w.Code, w.Body.String())
	}
	var st struct {
		StrategyID string `json:"strategy_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode strategy: %v", err)
	}

	// group_name is the webhook routing key; duplicates conflict.
	if w := ts.authed(t, http.MethodPost, "/api/strategies", token, map[string]any{
		"group_name": "managed-alpha", "market_type": "FUTURES",
	}); w.Code != http.StatusConflict {
		t.Fatalf("duplicate group_name: %d", w.Code)
	}

	w = ts.authed(t, http.MethodGet, "/api/strategies", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list strategies: %d", w.Code)
	}
	var listed struct {
		Strategies []map[string]any `json:"strategies"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed.Strategies) != 1 {
		t.Fatalf("strategies = %+v", listed.Strategies)
	}

	// Link the account and seed its capital.
	w = ts.authed(t, http.MethodPost, "/api/strategies/"+st.StrategyID+"/accounts", token, map[string]any{
		"account_id":        acc.AccountID,
		"leverage":          3,
		"allocated_capital": "2500",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("link account: %d %s", w.Code, w.Body.String())
	}
	var link struct {
		StrategyAccountID string `json:"strategy_account_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &link); err != nil {
		t.Fatalf("decode link: %v", err)
	}

	capital, err := ts.database.GetStrategyCapital(context.Background(), link.StrategyAccountID)
	if err != nil {
		t.Fatalf("capital: %v", err)
	}
	if !capital.AllocatedCapital.Equal(d("2500")) {
		t.Fatalf("allocated = %s, want 2500", capital.AllocatedCapital)
	}

	// Linking someone else's account is a 404.
	if w := ts.authed(t, http.MethodPost, "/api/strategies/"+st.StrategyID+"/accounts", token, map[string]any{
		"account_id": "acc1",
	}); w.Code != http.StatusNotFound {
		t.Fatalf("foreign account link: %d", w.Code)
	}
}

func TestSubscribePublicStrategy(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.login(t)

	// The seeded strategy st1 is private.
	if w := ts.authed(t, http.MethodPost, "/api/strategies/st1/subscribe", token, nil); w.Code != http.StatusForbidden {
		t.Fatalf("private subscribe: %d", w.Code)
	}

	w := ts.authed(t, http.MethodPost, "/api/strategies", token, map[string]any{
		"group_name": "open-alpha", "market_type": "SPOT", "is_public": true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create public strategy: %d %s", w.Code, w.Body.String())
	}
	var st struct {
		StrategyID string `json:"strategy_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if w := ts.authed(t, http.MethodPost, "/api/strategies/"+st.StrategyID+"/subscribe", token, nil); w.Code != http.StatusOK {
		t.Fatalf("public subscribe: %d %s", w.Code, w.Body.String())
	}

	if w := ts.authed(t, http.MethodPost, "/api/strategies/missing/subscribe", token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing strategy subscribe: %d", w.Code)
	}
}
