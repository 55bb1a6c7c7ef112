// Package api exposes the HTTP surface: the signal webhook, the per-user SSE
// event stream, and JWT-protected read endpoints.
package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/binee108/signalbridge/internal/core"
	"github.com/binee108/signalbridge/internal/events"
	"github.com/binee108/signalbridge/internal/wspool"
	"github.com/binee108/signalbridge/pkg/crypto"
	"github.com/binee108/signalbridge/pkg/db"
)

// Server wires gin routes to the trading core.
type Server struct {
	Engine    *gin.Engine
	DB        *db.Database
	Core      *core.Core
	Bus       *events.Bus
	Pool      *wspool.Pool
	Encryptor *crypto.Encryptor
	JWTSecret string
	NodeID    string
	startedAt time.Time
}

// NewServer builds the HTTP server and registers routes.
func NewServer(database *db.Database, tradingCore *core.Core, bus *events.Bus, pool *wspool.Pool, encryptor *crypto.Encryptor, jwtSecret, nodeID string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(CORSMiddleware())
	engine.Use(RequestIDMiddleware())
	engine.Use(RequestLogger())

	s := &Server{
		Engine:    engine,
		DB:        database,
		Core:      tradingCore,
		Bus:       bus,
		Pool:      pool,
		Encryptor: encryptor,
		JWTSecret: jwtSecret,
		NodeID:    nodeID,
		startedAt: time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Engine.GET("/health", s.health)

	s.Engine.POST("/webhook", RateLimitMiddleware(), s.handleWebhook)

	auth := s.Engine.Group("/api/auth")
	{
		auth.POST("/register", s.registerUser)
		auth.POST("/login", s.loginUser)
	}

	protected := s.Engine.Group("/api")
	protected.Use(AuthMiddleware(s.JWTSecret))
	{
		protected.GET("/events", s.streamEvents)
		protected.GET("/positions", s.listPositions)
		protected.GET("/trades", s.listTrades)
		protected.GET("/orders/open", s.listOpenOrders)
		protected.GET("/accounts", s.listAccounts)
		protected.POST("/accounts", s.createAccount)
		protected.GET("/accounts/:id/summaries", s.listSummaries)
		protected.GET("/strategies", s.listStrategies)
		protected.POST("/strategies", s.createStrategy)
		protected.POST("/strategies/:id/accounts", s.linkAccount)
		protected.POST("/strategies/:id/subscribe", s.subscribeStrategy)
		protected.DELETE("/orders", s.cancelOrders)
		protected.GET("/system/connections", s.connectionStats)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"node_id": s.NodeID,
		"uptime":  time.Since(s.startedAt).String(),
	})
}

// Start runs the HTTP listener.
func (s *Server) Start(addr string) error {
	log.Printf("api: listening on %s", addr)
	return s.Engine.Run(addr)
}
