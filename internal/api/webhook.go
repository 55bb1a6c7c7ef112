package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/internal/core"
	"github.com/binee108/signalbridge/pkg/db"
	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// webhookOrder is one order instruction inside a webhook payload.
type webhookOrder struct {
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	OrderType string          `json:"order_type"`
	Qty       decimal.Decimal `json:"qty"`
	QtyPer    decimal.Decimal `json:"qty_per"`
	Price     decimal.Decimal `json:"price"`
	StopPrice decimal.Decimal `json:"stop_price"`
	OrderID   string          `json:"order_id"`
}

// webhookPayload is the signal body. When Orders is present the payload is a
// batch and the top-level order fields are ignored.
type webhookPayload struct {
	GroupName string `json:"group_name"`
	Token     string `json:"token"`
	TestMode  bool   `json:"test_mode"`
	webhookOrder
	Orders []webhookOrder `json:"orders"`
}

func (o webhookOrder) intent() core.OrderIntent {
	return core.OrderIntent{
		Symbol:    o.Symbol,
		Side:      common.Side(o.Side),
		OrderType: common.OrderType(o.OrderType),
		Qty:       o.Qty,
		QtyPer:    o.QtyPer,
		Price:     o.Price,
		StopPrice: o.StopPrice,
		OrderID:   o.OrderID,
	}
}

// validatePayload checks the fields the core cannot default.
func validatePayload(p webhookPayload) error {
	if p.GroupName == "" {
		return fmt.Errorf("group_name is required")
	}
	if !p.TestMode && p.Token == "" {
		return fmt.Errorf("token is required")
	}
	orders := p.Orders
	if len(orders) == 0 {
		orders = []webhookOrder{p.webhookOrder}
	}
	for i, o := range orders {
		if o.Symbol == "" && common.OrderType(o.OrderType) != common.OrderTypeCancelAll {
			return fmt.Errorf("orders[%d]: symbol is required", i)
		}
		if o.OrderType == "" {
			return fmt.Errorf("orders[%d]: order_type is required", i)
		}
	}
	return nil
}

// handleWebhook ingests one signal: validate, execute, audit.
func (s *Server) handleWebhook(c *gin.Context) {
	started := time.Now()

	var payload webhookPayload
	raw, err := c.GetRawData()
	if err == nil {
		err = json.Unmarshal(raw, &payload)
	}
	if err != nil {
		s.logWebhook(c, "", raw, "rejected", err.Error(), started)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid JSON payload"})
		return
	}
	if err := validatePayload(payload); err != nil {
		s.logWebhook(c, payload.GroupName, raw, "rejected", err.Error(), started)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	validationMs := float64(time.Since(started).Microseconds()) / 1000

	sig := core.Signal{
		GroupName: payload.GroupName,
		Token:     payload.Token,
		TestMode:  payload.TestMode,
	}
	if len(payload.Orders) > 0 {
		for _, o := range payload.Orders {
			sig.Intents = append(sig.Intents, o.intent())
		}
	} else {
		sig.Intents = []core.OrderIntent{payload.webhookOrder.intent()}
	}

	resp := s.Core.Execute(c.Request.Context(), sig, validationMs)

	status := "processed"
	errMsg := ""
	if !resp.Success {
		status = "failed"
		if len(resp.Results) > 0 {
			errMsg = resp.Results[0].Error
		}
	}
	s.logWebhook(c, payload.GroupName, raw, status, errMsg, started)

	code := http.StatusOK
	if !resp.Success {
		code = http.StatusUnprocessableEntity
	}
	c.JSON(code, resp)
}

// logWebhook appends the audit row; failures are logged, never surfaced.
func (s *Server) logWebhook(c *gin.Context, groupName string, raw []byte, status, errMsg string, started time.Time) {
	entry := db.WebhookLog{
		ID:        uuid.NewString(),
		NodeID:    s.NodeID,
		GroupName: groupName,
		Payload:   string(raw),
		Status:    status,
		Error:     errMsg,
		TotalMs:   float64(time.Since(started).Microseconds()) / 1000,
	}
	if err := s.DB.InsertWebhookLog(c.Request.Context(), entry); err != nil {
		log.Printf("api: webhook log insert failed: %v", err)
	}
}
