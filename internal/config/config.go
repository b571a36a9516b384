package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/Kellyhimself/POS-sub002/pkg/config"
)

// Config holds all configuration for the POS daemon. Every value comes from
// the environment.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Local API
	HTTPAddr       string   `env:"POS_HTTP_ADDR" envDefault:"127.0.0.1:8080"`
	AllowedOrigins []string `env:"POS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`

	// Device identity
	StoreID  string `env:"POS_STORE_ID,required"`
	DeviceID string `env:"POS_DEVICE_ID"`

	// Durable local store
	DBPath          string        `env:"POS_DB_PATH" envDefault:"pos.db"`
	DBBusyTimeout   time.Duration `env:"POS_DB_BUSY_TIMEOUT" envDefault:"5s"`
	SlowQueryThresh time.Duration `env:"LOG_SLOW_QUERY" envDefault:"500ms"`

	// Remote system of record. Empty runs against an in-process remote.
	RemoteDatabaseURL string `env:"REMOTE_DATABASE_URL"`
	RemoteMaxConns    int32  `env:"REMOTE_DB_MAX_CONNS" envDefault:"4"`

	// Tax gateway (eTIMS)
	TaxGatewayURL     string        `env:"ETIMS_BASE_URL"`
	TaxGatewayToken   string        `env:"ETIMS_STORE_TOKEN"`
	TaxGatewayTimeout time.Duration `env:"ETIMS_TIMEOUT" envDefault:"15s"`

	// Identity provider
	IdentityURL string `env:"IDENTITY_BASE_URL"`

	// Shared rate-limit windows. Empty keeps windows in process.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Sync outcome events. Empty disables publishing.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_SYNC_TOPIC" envDefault:"pos.sync"`

	// Sync engine
	SyncInterval   time.Duration `env:"SYNC_INTERVAL" envDefault:"5m"`
	StockBatchSize int           `env:"SYNC_STOCK_BATCH_SIZE" envDefault:"0"`

	// Rate limiting and retry
	RateLimitWindow       time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
	RateLimitMaxRequests  int           `env:"RATE_LIMIT_MAX_REQUESTS" envDefault:"50"`
	RetryMaxAttempts      int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay        time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`
	RetryMaxDelay         time.Duration `env:"RETRY_MAX_DELAY" envDefault:"5s"`
	MaxConcurrentRequests int64         `env:"MAX_CONCURRENT_REQUESTS" envDefault:"4"`

	// Mode manager
	ModePreference        string        `env:"MODE_PREFERENCE" envDefault:"auto"`
	OfflineSwitchDelay    time.Duration `env:"OFFLINE_SWITCH_THRESHOLD" envDefault:"30s"`
	ConnectivityProbeURL  string        `env:"CONNECTIVITY_PROBE_URL"`
	ConnectivityProbeTick time.Duration `env:"CONNECTIVITY_PROBE_INTERVAL" envDefault:"10s"`

	// Auth
	OfflineSessionTTL time.Duration `env:"OFFLINE_SESSION_TTL" envDefault:"720h"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load pos config: %w", err)
	}
	return cfg, nil
}

// LoadFrom reads configuration from vars instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.LoadFrom(cfg, vars); err != nil {
		return nil, fmt.Errorf("load pos config: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("POS_DB_PATH is required")
	}
	if c.SyncInterval < time.Second {
		return fmt.Errorf("SYNC_INTERVAL must be at least 1s, got %s", c.SyncInterval)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0, got %s", c.RateLimitWindow)
	}
	if c.RateLimitMaxRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_REQUESTS must be > 0, got %d", c.RateLimitMaxRequests)
	}
	if c.RetryMaxAttempts < 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 0, got %d", c.RetryMaxAttempts)
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("retry delays must satisfy 0 < RETRY_BASE_DELAY <= RETRY_MAX_DELAY, got %s and %s",
			c.RetryBaseDelay, c.RetryMaxDelay)
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_REQUESTS must be > 0, got %d", c.MaxConcurrentRequests)
	}
	if c.StockBatchSize < 0 {
		return fmt.Errorf("SYNC_STOCK_BATCH_SIZE must be >= 0, got %d", c.StockBatchSize)
	}
	switch c.ModePreference {
	case "auto", "online", "offline":
	default:
		return fmt.Errorf("MODE_PREFERENCE must be auto, online or offline, got %q", c.ModePreference)
	}
	if c.OfflineSwitchDelay < 0 {
		return fmt.Errorf("OFFLINE_SWITCH_THRESHOLD must be >= 0, got %s", c.OfflineSwitchDelay)
	}
	if c.ConnectivityProbeURL != "" && c.ConnectivityProbeTick <= 0 {
		return fmt.Errorf("CONNECTIVITY_PROBE_INTERVAL must be > 0 when a probe URL is set")
	}
	if c.OfflineSessionTTL <= 0 {
		return fmt.Errorf("OFFLINE_SESSION_TTL must be > 0, got %s", c.OfflineSessionTTL)
	}
	if c.TaxGatewayURL != "" && c.TaxGatewayToken == "" {
		return fmt.Errorf("ETIMS_STORE_TOKEN is required when ETIMS_BASE_URL is set")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}
