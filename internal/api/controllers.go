package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/binee108/signalbridge/pkg/db"
	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

func (s *Server) listPositions(c *gin.Context) {
	positions, err := s.DB.ListPositionsByUser(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(positions))
	for _, p := range positions {
		out = append(out, gin.H{
			"strategy_account_id": p.StrategyAccountID,
			"symbol":              p.Symbol,
			"quantity":            p.Quantity.String(),
			"entry_price":         p.EntryPrice.String(),
			"last_updated":        p.LastUpdated,
		})
	}
	c.JSON(http.StatusOK, gin.H{"positions": out})
}

func (s *Server) listTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	trades, err := s.DB.ListTradesByUser(c.Request.Context(), CurrentUserID(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(trades))
	for _, t := range trades {
		row := gin.H{
			"id":                  t.ID,
			"strategy_account_id": t.StrategyAccountID,
			"exchange_order_id":   t.ExchangeOrderID,
			"symbol":              t.Symbol,
			"side":                t.Side,
			"quantity":            t.Quantity.String(),
			"price":               t.Price.String(),
			"order_type":          t.OrderType,
			"is_entry":            t.IsEntry,
			"fee":                 t.Fee.String(),
			"executed_at":         t.ExecutedAt,
		}
		if t.PnL != nil {
			row["pnl"] = t.PnL.String()
		}
		out = append(out, row)
	}
	c.JSON(http.StatusOK, gin.H{"trades": out})
}

func (s *Server) listOpenOrders(c *gin.Context) {
	f := db.OpenOrderFilter{
		StrategyAccountID: c.Query("strategy_account_id"),
		Symbol:            c.Query("symbol"),
		Side:              common.Side(c.Query("side")),
	}
	orders, err := s.DB.ListOpenOrders(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(orders))
	for _, o := range orders {
		out = append(out, gin.H{
			"strategy_account_id": o.StrategyAccountID,
			"exchange_order_id":   o.ExchangeOrderID,
			"symbol":              o.Symbol,
			"side":                o.Side,
			"order_type":          o.OrderType,
			"quantity":            o.Quantity.String(),
			"filled_quantity":     o.FilledQuantity.String(),
			"price":               o.Price.String(),
			"stop_price":          o.StopPrice.String(),
			"status":              o.Status,
			"created_at":          o.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"open_orders": out})
}

func (s *Server) listAccounts(c *gin.Context) {
	accounts, err := s.DB.ListAccountsByUser(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(accounts))
	for _, a := range accounts {
		// Credentials never leave the server.
		out = append(out, gin.H{
			"id":           a.ID,
			"exchange":     a.Exchange,
			"account_type": a.AccountType,
			"name":         a.Name,
			"is_testnet":   a.IsTestnet,
			"created_at":   a.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

func (s *Server) listSummaries(c *gin.Context) {
	accountID := c.Param("id")
	if _, err := s.DB.GetAccountByID(c.Request.Context(), CurrentUserID(c), accountID); err != nil {
		if err == db.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "30"))
	summaries, err := s.DB.ListDailySummaries(c.Request.Context(), accountID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(summaries))
	for _, sm := range summaries {
		out = append(out, gin.H{
			"date":         sm.Date,
			"balance":      sm.Balance.String(),
			"realized_pnl": sm.RealizedPnL.String(),
			"trade_count":  sm.TradeCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"summaries": out})
}

// cancelOrders cancels tracked orders matching query filters.
func (s *Server) cancelOrders(c *gin.Context) {
	f := db.OpenOrderFilter{
		StrategyAccountID: c.Query("strategy_account_id"),
		Symbol:            c.Query("symbol"),
		Side:              common.Side(c.Query("side")),
	}
	if f.StrategyAccountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "strategy_account_id is required"})
		return
	}

	report, err := s.Core.Orders().CancelByFilter(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":          len(report.Failed) == 0,
		"cancelled_orders": report.Cancelled,
		"failed_orders":    report.Failed,
	})
}

// connectionStats snapshots the WebSocket pool for diagnostics.
func (s *Server) connectionStats(c *gin.Context) {
	if s.Pool == nil {
		c.JSON(http.StatusOK, gin.H{"connections": gin.H{}})
		return
	}
	stats := s.Pool.Snapshot()
	out := make(map[string]gin.H, len(stats))
	for key, st := range stats {
		out[key] = gin.H{
			"state":           st.State,
			"healthy":         st.Healthy,
			"last_ping":       st.LastPing,
			"last_message":    st.LastMessage,
			"bytes_received":  st.BytesReceived,
			"bytes_sent":      st.BytesSent,
			"reconnect_count": st.ReconnectCount,
			"last_error":      st.LastError,
		}
	}
	c.JSON(http.StatusOK, gin.H{"connections": out})
}
