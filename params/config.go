package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Account struct {
	// Wallet is the funder address; trades where it appears as maker are
	// resolved from the maker side.
	Wallet     string
	APIKey     string
	APISecret  string
	Passphrase string
}

type Stream struct {
	MarketURL      string
	UserURL        string
	PingInterval   time.Duration
	ReconnectDelay time.Duration
}

type Gateway struct {
	RelayURL   string
	DataAPIURL string
	Timeout    time.Duration
	// DryRun routes every command to the in-memory paper gateway.
	DryRun bool
}

// Engine holds the knobs of the decision pass and the reconciliation loop.
type Engine struct {
	// ReconcileGrace keeps an authoritative refresh from overwriting a size
	// that was updated locally less than this long ago.
	ReconcileGrace time.Duration
	// ImproveMultiplier × min size is the resting size a level needs before
	// we quote one tick inside it.
	ImproveMultiplier float64
	MinMergeSize      float64
	DepthPrimary      float64
	DepthFallback     float64
	BandPct           float64
	// PositionCap is an absolute ceiling on buys regardless of market max size.
	PositionCap       float64
	PriceTolerance    float64
	SizeTolerance     float64
	MaxReferenceDrift float64

	PendingTTL        time.Duration
	ReconcileInterval time.Duration
	PassPause         time.Duration
}

type Storage struct {
	CooldownBackend string // "file" or "pebble"
	CooldownDir     string
	PebblePath      string
}

type Config struct {
	Account     Account
	Stream      Stream
	Gateway     Gateway
	Engine      Engine
	Storage     Storage
	MarketsFile string
	APIAddr     string
	LogFile     string
	LogLevel    string
}

func Default() Config {
	return Config{
		Stream: Stream{
			MarketURL:      "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			UserURL:        "wss://ws-subscriptions-clob.polymarket.com/ws/user",
			PingInterval:   5 * time.Second,
			ReconnectDelay: 5 * time.Second,
		},
		Gateway: Gateway{
			RelayURL:   "http://localhost:8090",
			DataAPIURL: "https://data-api.polymarket.com",
			Timeout:    15 * time.Second,
		},
		Engine: Engine{
			ReconcileGrace:    5 * time.Second,
			ImproveMultiplier: 1.5,
			MinMergeSize:      20,
			DepthPrimary:      100,
			DepthFallback:     20,
			BandPct:           0.1,
			PositionCap:       250,
			PriceTolerance:    0.005,
			SizeTolerance:     0.1,
			MaxReferenceDrift: 0.05,
			PendingTTL:        15 * time.Second,
			ReconcileInterval: 5 * time.Second,
			PassPause:         2 * time.Second,
		},
		Storage: Storage{
			CooldownBackend: "file",
			CooldownDir:     "positions",
			PebblePath:      "data/cooldowns",
		},
		MarketsFile: "markets.yaml",
		APIAddr:     ":8080",
		LogFile:     "data/maker.log",
		LogLevel:    "info",
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Account.Wallet = getEnv("BROWSER_ADDRESS", cfg.Account.Wallet)
	cfg.Account.APIKey = getEnv("POLY_API_KEY", cfg.Account.APIKey)
	cfg.Account.APISecret = getEnv("POLY_API_SECRET", cfg.Account.APISecret)
	cfg.Account.Passphrase = getEnv("POLY_API_PASSPHRASE", cfg.Account.Passphrase)

	cfg.Stream.MarketURL = getEnv("MARKET_WS_URL", cfg.Stream.MarketURL)
	cfg.Stream.UserURL = getEnv("USER_WS_URL", cfg.Stream.UserURL)
	envMillis("WS_PING_MS", &cfg.Stream.PingInterval)
	envMillis("WS_RECONNECT_DELAY_MS", &cfg.Stream.ReconnectDelay)

	cfg.Gateway.RelayURL = getEnv("RELAY_URL", cfg.Gateway.RelayURL)
	cfg.Gateway.DataAPIURL = getEnv("DATA_API_URL", cfg.Gateway.DataAPIURL)
	envMillis("GATEWAY_TIMEOUT_MS", &cfg.Gateway.Timeout)
	if dry := os.Getenv("DRY_RUN"); dry != "" {
		cfg.Gateway.DryRun = dry == "true"
	}

	envMillis("RECONCILE_GRACE_MS", &cfg.Engine.ReconcileGrace)
	envFloat("IMPROVE_SIZE_MULTIPLIER", &cfg.Engine.ImproveMultiplier)
	envFloat("MIN_MERGE_SIZE", &cfg.Engine.MinMergeSize)
	envFloat("DEPTH_PRIMARY", &cfg.Engine.DepthPrimary)
	envFloat("DEPTH_FALLBACK", &cfg.Engine.DepthFallback)
	envFloat("BAND_PCT", &cfg.Engine.BandPct)
	envFloat("POSITION_CAP", &cfg.Engine.PositionCap)
	envFloat("PRICE_TOLERANCE", &cfg.Engine.PriceTolerance)
	envFloat("SIZE_TOLERANCE", &cfg.Engine.SizeTolerance)
	envFloat("MAX_REFERENCE_DRIFT", &cfg.Engine.MaxReferenceDrift)
	envMillis("PENDING_TTL_MS", &cfg.Engine.PendingTTL)
	envMillis("RECONCILE_INTERVAL_MS", &cfg.Engine.ReconcileInterval)
	envMillis("PASS_PAUSE_MS", &cfg.Engine.PassPause)

	cfg.Storage.CooldownBackend = getEnv("COOLDOWN_BACKEND", cfg.Storage.CooldownBackend)
	cfg.Storage.CooldownDir = getEnv("COOLDOWN_DIR", cfg.Storage.CooldownDir)
	cfg.Storage.PebblePath = getEnv("PEBBLE_PATH", cfg.Storage.PebblePath)

	cfg.MarketsFile = getEnv("MARKETS_FILE", cfg.MarketsFile)
	cfg.APIAddr = getEnv("API_ADDR", cfg.APIAddr)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envMillis(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(ms) * time.Millisecond
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
