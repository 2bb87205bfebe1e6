package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Trading API configuration
	API APIConfig

	// Price feed configuration
	Feed FeedConfig

	// Alpaca market data configuration
	Alpaca AlpacaConfig

	// Persistent cache configuration
	Cache CacheConfig

	// Risk evaluator configuration
	Risk RiskConfig

	// Reconciliation policy configuration
	Reconciliation ReconciliationConfig

	// Circuit breaker configuration
	Breaker BreakerConfig

	// HTTP configuration
	HTTP HTTPConfig

	// Logging configuration
	Log LogConfig
}

// APIConfig holds the challenge backend configuration
type APIConfig struct {
	BaseURL        string
	TimeoutSeconds int
	MaxRetries     int
}

// FeedConfig holds price feed configuration
type FeedConfig struct {
	IntervalSeconds int
	Source          string // backend or alpaca
	RatePerSecond   int
	Symbols         []string
}

// AlpacaConfig holds Alpaca API configuration
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	DataURL   string
}

// CacheConfig holds persistent cache configuration
type CacheConfig struct {
	Backend     string // file, postgres, sqlite or memory
	Dir         string
	Passphrase  string
	DatabaseURL string
	SQLitePath  string
}

// RiskConfig holds risk evaluation configuration
type RiskConfig struct {
	RiskFraction          float64
	ExposureMultiple      float64
	DefaultDailyLossPct   float64
	DefaultMaxDrawdownPct float64
	DefaultProfitPct      float64
	PlansFile             string
}

// ReconciliationConfig holds reconciliation policy configuration
type ReconciliationConfig struct {
	OptimisticOpen bool
}

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	MaxRequests      int
	IntervalSeconds  int
	TimeoutSeconds   int
	FailureThreshold int
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Addr               string
	CORSAllowedOrigins string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string
	Production bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		API: APIConfig{
			BaseURL:        getEnvString("LEDGER_API_URL", "http://localhost:8000/api"),
			TimeoutSeconds: getEnvInt("LEDGER_API_TIMEOUT_SECONDS", 10),
			MaxRetries:     getEnvInt("LEDGER_API_MAX_RETRIES", 3),
		},
		Feed: FeedConfig{
			IntervalSeconds: getEnvInt("FEED_INTERVAL_SECONDS", 5),
			Source:          strings.ToLower(getEnvString("FEED_SOURCE", "backend")),
			RatePerSecond:   getEnvInt("FEED_RATE_PER_SECOND", 10),
			Symbols:         getEnvList("FEED_SYMBOLS", nil),
		},
		Alpaca: AlpacaConfig{
			APIKey:    os.Getenv("ALPACA_API_KEY"),
			APISecret: os.Getenv("ALPACA_API_SECRET"),
			DataURL:   os.Getenv("ALPACA_DATA_URL"),
		},
		Cache: CacheConfig{
			Backend:     strings.ToLower(getEnvString("CACHE_BACKEND", "file")),
			Dir:         getEnvString("CACHE_DIR", defaultCacheDir()),
			Passphrase:  os.Getenv("CACHE_PASSPHRASE"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
			SQLitePath:  getEnvString("CACHE_SQLITE_PATH", "ledger-cache.db"),
		},
		Risk: RiskConfig{
			RiskFraction:          getEnvFloatRange("RISK_FRACTION", 0.01, 0.001, 1.0),
			ExposureMultiple:      getEnvFloatRange("RISK_EXPOSURE_MULTIPLE", 1.0, 0.01, 100),
			DefaultDailyLossPct:   getEnvFloatRange("RISK_DAILY_LOSS_PERCENT", 5, 0, 100),
			DefaultMaxDrawdownPct: getEnvFloatRange("RISK_MAX_DRAWDOWN_PERCENT", 10, 0, 100),
			DefaultProfitPct:      getEnvFloatRange("RISK_PROFIT_TARGET_PERCENT", 10, 0, 1000),
			PlansFile:             os.Getenv("PLANS_FILE"),
		},
		Reconciliation: ReconciliationConfig{
			OptimisticOpen: getEnvBool("OPTIMISTIC_OPEN_ENABLED", true),
		},
		Breaker: BreakerConfig{
			MaxRequests:      getEnvInt("BREAKER_MAX_REQUESTS", 3),
			IntervalSeconds:  getEnvInt("BREAKER_INTERVAL_SECONDS", 60),
			TimeoutSeconds:   getEnvInt("BREAKER_TIMEOUT_SECONDS", 30),
			FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		},
		HTTP: HTTPConfig{
			Addr:               getEnvString("HTTP_ADDR", ":8090"),
			CORSAllowedOrigins: getEnvString("CORS_ALLOWED_ORIGINS", "*"),
		},
		Log: LogConfig{
			Level:      getEnvString("LOG_LEVEL", "info"),
			Production: getEnvBool("PRODUCTION", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("LEDGER_API_URL must not be empty")
	}
	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("LEDGER_API_TIMEOUT_SECONDS must be positive, got %d", c.API.TimeoutSeconds)
	}

	// The terminal view polls every 5 to 10 seconds
	if c.Feed.IntervalSeconds < 5 || c.Feed.IntervalSeconds > 10 {
		return fmt.Errorf("FEED_INTERVAL_SECONDS must be between 5 and 10, got %d", c.Feed.IntervalSeconds)
	}
	switch c.Feed.Source {
	case "backend":
	case "alpaca":
		if !c.HasAlpaca() {
			return fmt.Errorf("FEED_SOURCE=alpaca requires ALPACA_API_KEY and ALPACA_API_SECRET")
		}
	default:
		return fmt.Errorf("FEED_SOURCE must be backend or alpaca, got %q", c.Feed.Source)
	}

	switch c.Cache.Backend {
	case "file":
		if c.Cache.Dir == "" {
			return fmt.Errorf("CACHE_DIR must not be empty for the file cache")
		}
	case "postgres":
		if !c.HasDatabase() {
			return fmt.Errorf("CACHE_BACKEND=postgres requires DATABASE_URL")
		}
	case "sqlite":
		if c.Cache.SQLitePath == "" {
			return fmt.Errorf("CACHE_SQLITE_PATH must not be empty for the sqlite cache")
		}
	case "memory":
	default:
		return fmt.Errorf("CACHE_BACKEND must be file, postgres, sqlite or memory, got %q", c.Cache.Backend)
	}

	if c.Risk.RiskFraction <= 0 || c.Risk.RiskFraction > 1 {
		return fmt.Errorf("RISK_FRACTION must be in (0, 1], got %.4f", c.Risk.RiskFraction)
	}
	if c.Risk.ExposureMultiple <= 0 {
		return fmt.Errorf("RISK_EXPOSURE_MULTIPLE must be positive, got %.2f", c.Risk.ExposureMultiple)
	}

	return nil
}

// HasDatabase returns true if database configuration is available
func (c *Config) HasDatabase() bool {
	return c.Cache.DatabaseURL != ""
}

// HasAlpaca returns true if Alpaca configuration is available
func (c *Config) HasAlpaca() bool {
	return c.Alpaca.APIKey != "" && c.Alpaca.APISecret != ""
}

// HasPlansFile returns true if an offline plan catalog is configured
func (c *Config) HasPlansFile() bool {
	return c.Risk.PlansFile != ""
}

// RequestTimeout returns the per-call timeout for the trading API
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// FeedInterval returns the price feed poll interval
func (c *Config) FeedInterval() time.Duration {
	return time.Duration(c.Feed.IntervalSeconds) * time.Second
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + string(os.PathSeparator) + "prop-ledger"
	}
	return ".prop-ledger"
}

func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloatRange(key string, defaultValue, minVal, maxVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil && parsed >= minVal && parsed <= maxVal {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if s := strings.ToUpper(strings.TrimSpace(part)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// NewTestConfig creates a Config with default values for testing
func NewTestConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "http://localhost:8000/api",
			TimeoutSeconds: 10,
			MaxRetries:     3,
		},
		Feed: FeedConfig{
			IntervalSeconds: 5,
			Source:          "backend",
			RatePerSecond:   10,
		},
		Alpaca: AlpacaConfig{},
		Cache: CacheConfig{
			Backend:    "memory",
			SQLitePath: "ledger-cache.db",
		},
		Risk: RiskConfig{
			RiskFraction:          0.01,
			ExposureMultiple:      1.0,
			DefaultDailyLossPct:   5,
			DefaultMaxDrawdownPct: 10,
			DefaultProfitPct:      10,
		},
		Reconciliation: ReconciliationConfig{
			OptimisticOpen: true,
		},
		Breaker: BreakerConfig{
			MaxRequests:      3,
			IntervalSeconds:  60,
			TimeoutSeconds:   30,
			FailureThreshold: 5,
		},
		HTTP: HTTPConfig{
			Addr:               ":8090",
			CORSAllowedOrigins: "*",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
