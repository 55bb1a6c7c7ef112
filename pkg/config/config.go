package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/joho/godotenv"
)

// defaultMarketRetryDelays is the fill-poll backoff schedule used when
// MARKET_ORDER_RETRY_DELAYS_MS is unset or unparseable.
var defaultMarketRetryDelays = []time.Duration{
	125 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
}

// Config holds environment-driven settings for the middleware.
type Config struct {
	Port   string
	NodeID string // stable per-host id stamped on webhook logs and events

	// Database
	DBPath string

	// Auth / secrets
	JWTSecret     string
	EncryptionKey string // 32-byte AES-256 key, hex or raw

	// Exchange behaviour
	Testnet bool

	// MARKET immediate-fill polling
	MarketOrderDelay       time.Duration   // optional sleep before the first poll
	MarketOrderRetryDelays []time.Duration // backoff schedule between polls
	MaxMarketOrderRetries  int

	// Fan-out
	BatchAccountTimeout time.Duration // per-account deadline inside one signal
	MaxSignalWorkers    int

	// Background jobs
	CapitalAutoRefresh   time.Duration
	ReconcileInterval    time.Duration
	RebalanceInterval    time.Duration
	DailySummaryCronSpec string

	// Pricing
	PriceCacheTTL time.Duration

	// Symbol filter overrides (yaml), optional
	SymbolRulesPath string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	nodeID, err := machineid.ProtectedID("signalbridge")
	if err != nil {
		// Host id is best-effort; fall back to hostname.
		nodeID, _ = os.Hostname()
	}
	if len(nodeID) > 12 {
		nodeID = nodeID[:12]
	}

	return &Config{
		Port:                   getEnv("PORT", "8080"),
		NodeID:                 nodeID,
		DBPath:                 getEnv("DB_PATH", "./data/signalbridge.db"),
		JWTSecret:              getEnv("JWT_SECRET", "dev-secret"),
		EncryptionKey:          os.Getenv("ENCRYPTION_KEY"),
		Testnet:                getEnv("TESTNET", "false") == "true",
		MarketOrderDelay:       time.Duration(getEnvInt("MARKET_ORDER_DELAY_MS", 0)) * time.Millisecond,
		MarketOrderRetryDelays: parseRetryDelays(os.Getenv("MARKET_ORDER_RETRY_DELAYS_MS")),
		MaxMarketOrderRetries:  getEnvInt("MAX_MARKET_ORDER_RETRIES", 5),
		BatchAccountTimeout:    time.Duration(getEnvInt("BATCH_ACCOUNT_TIMEOUT_SEC", 30)) * time.Second,
		MaxSignalWorkers:       getEnvInt("MAX_SIGNAL_WORKERS", 10),
		CapitalAutoRefresh:     time.Duration(getEnvInt("CAPITAL_AUTO_REFRESH_SECONDS", 300)) * time.Second,
		ReconcileInterval:      time.Duration(getEnvInt("RECONCILE_INTERVAL_SECONDS", 60)) * time.Second,
		RebalanceInterval:      time.Duration(getEnvInt("QUEUE_REBALANCE_INTERVAL_SECONDS", 15)) * time.Second,
		DailySummaryCronSpec:   getEnv("DAILY_SUMMARY_CRON", "5 0 * * *"),
		PriceCacheTTL:          time.Duration(getEnvInt("PRICE_CACHE_TTL_SECONDS", 10)) * time.Second,
		SymbolRulesPath:        getEnv("SYMBOL_RULES_PATH", ""),
	}, nil
}

// parseRetryDelays parses a comma-separated millisecond list. Invalid input
// falls back to the default schedule; an empty list still yields one attempt,
// which the caller guarantees by polling at least once before consulting the
// schedule.
func parseRetryDelays(raw string) []time.Duration {
	if raw == "" {
		return defaultMarketRetryDelays
	}
	parts := strings.Split(raw, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ms, err := strconv.Atoi(p)
		if err != nil || ms < 0 {
			log.Printf("config: invalid MARKET_ORDER_RETRY_DELAYS_MS %q, using defaults", raw)
			return defaultMarketRetryDelays
		}
		out = append(out, time.Duration(ms)*time.Millisecond)
	}
	if len(out) == 0 {
		return defaultMarketRetryDelays
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
