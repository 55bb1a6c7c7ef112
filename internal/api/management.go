package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/pkg/db"
	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// createAccount stores an exchange account with encrypted credentials.
func (s *Server) createAccount(c *gin.Context) {
	var req struct {
		Exchange    string `json:"exchange"`
		AccountType string `json:"account_type"`
		Name        string `json:"name"`
		APIKey      string `json:"api_key"`
		APISecret   string `json:"api_secret"`
		Passphrase  string `json:"passphrase"`
		IsTestnet   bool   `json:"is_testnet"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	if req.Exchange == "" || req.Name == "" || req.APIKey == "" || req.APISecret == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "MISSING_FIELDS",
			"error": "exchange, name, api_key and api_secret are required",
		})
		return
	}
	if s.Encryptor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":  "ENCRYPTION_DISABLED",
			"error": "server has no encryption key configured",
		})
		return
	}

	accountType := common.AccountType(strings.ToUpper(req.AccountType))
	if accountType == "" {
		accountType = common.AccountCrypto
	}

	keyEnc, err := s.Encryptor.Encrypt(req.APIKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": "failed to encrypt credentials"})
		return
	}
	secretEnc, err := s.Encryptor.Encrypt(req.APISecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": "failed to encrypt credentials"})
		return
	}
	passEnc := ""
	if req.Passphrase != "" {
		passEnc, err = s.Encryptor.Encrypt(req.Passphrase)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": "failed to encrypt credentials"})
			return
		}
	}

	account := db.Account{
		ID:                  uuid.NewString(),
		UserID:              CurrentUserID(c),
		Exchange:            common.ExchangeName(strings.ToUpper(req.Exchange)),
		AccountType:         accountType,
		Name:                req.Name,
		APIKeyEncrypted:     keyEnc,
		APISecretEncrypted:  secretEnc,
		PassphraseEncrypted: passEnc,
		KeyVersion:          s.Encryptor.Version(),
		IsTestnet:           req.IsTestnet,
		IsActive:            true,
	}
	if err := s.DB.CreateAccount(c.Request.Context(), account); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"account_id": account.ID})
}

// listStrategies returns the caller's own strategies.
func (s *Server) listStrategies(c *gin.Context) {
	strategies, err := s.DB.ListStrategiesByUser(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(strategies))
	for _, st := range strategies {
		out = append(out, gin.H{
			"id":          st.ID,
			"name":        st.Name,
			"group_name":  st.GroupName,
			"market_type": st.MarketType,
			"is_active":   st.IsActive,
			"is_public":   st.IsPublic,
			"created_at":  st.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"strategies": out})
}

// createStrategy registers a signal group. group_name is the webhook routing
// key and must be globally unique.
func (s *Server) createStrategy(c *gin.Context) {
	var req struct {
		Name       string `json:"name"`
		GroupName  string `json:"group_name"`
		MarketType string `json:"market_type"`
		IsPublic   bool   `json:"is_public"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	if req.GroupName == "" || req.MarketType == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "MISSING_FIELDS",
			"error": "group_name and market_type are required",
		})
		return
	}
	if req.Name == "" {
		req.Name = req.GroupName
	}

	strategy := db.Strategy{
		ID:         uuid.NewString(),
		UserID:     CurrentUserID(c),
		Name:       req.Name,
		GroupName:  req.GroupName,
		MarketType: common.MarketType(strings.ToUpper(req.MarketType)),
		IsActive:   true,
		IsPublic:   req.IsPublic,
	}
	if err := s.DB.CreateStrategy(c.Request.Context(), strategy); err != nil {
		if db.IsUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{
				"code":  "GROUP_NAME_TAKEN",
				"error": "group_name is already registered",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"strategy_id": strategy.ID})
}

// linkAccount attaches one of the caller's accounts to one of their
// strategies and seeds the link's capital.
func (s *Server) linkAccount(c *gin.Context) {
	var req struct {
		AccountID        string          `json:"account_id"`
		Weight           float64         `json:"weight"`
		Leverage         int             `json:"leverage"`
		MaxSymbols       int             `json:"max_symbols"`
		AllocatedCapital decimal.Decimal `json:"allocated_capital"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	if req.AccountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MISSING_FIELDS", "error": "account_id is required"})
		return
	}
	if req.Weight <= 0 {
		req.Weight = 1
	}
	if req.Leverage <= 0 {
		req.Leverage = 1
	}

	ctx := c.Request.Context()
	userID := CurrentUserID(c)

	strategy, err := s.DB.GetStrategyByID(ctx, c.Param("id"))
	if err != nil || strategy.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
		return
	}
	if _, err := s.DB.GetAccountByID(ctx, userID, req.AccountID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	link := db.StrategyAccount{
		ID:         uuid.NewString(),
		StrategyID: strategy.ID,
		AccountID:  req.AccountID,
		Weight:     req.Weight,
		Leverage:   req.Leverage,
		MaxSymbols: req.MaxSymbols,
		IsActive:   true,
	}
	if err := s.DB.LinkStrategyAccount(ctx, link, req.AllocatedCapital); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"strategy_account_id": link.ID})
}

// subscribeStrategy lets a user follow a public strategy so their webhook
// token can trade it.
func (s *Server) subscribeStrategy(c *gin.Context) {
	ctx := c.Request.Context()

	strategy, err := s.DB.GetStrategyByID(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
		return
	}
	if !strategy.IsPublic {
		c.JSON(http.StatusForbidden, gin.H{
			"code":  "STRATEGY_PRIVATE",
			"error": "strategy is not public",
		})
		return
	}

	if err := s.DB.SubscribeStrategy(ctx, strategy.ID, CurrentUserID(c)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscribed": true, "strategy_id": strategy.ID})
}
