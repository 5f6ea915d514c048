package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/preorder/internal/domain/retention"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Mirror sinks.
const (
	SinkNone    = "none"
	SinkLog     = "log"
	SinkWebhook = "webhook"
	SinkPubSub  = "pubsub"
)

// Config holds the complete application configuration, loadable from
// environment variables (PREORDER_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (PREORDER_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (PREORDER_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Storage      StorageConfig
	Retention    RetentionConfig
	Mirror       MirrorConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// StorageConfig selects the order, promotion and API key backend.
type StorageConfig struct {
	Driver string `default:"postgres" usage:"Storage driver: postgres or memory"`
	// OperatorAPIKey seeds a single operator key for the memory driver.
	OperatorAPIKey string `usage:"Operator API key accepted by the memory driver" flag:"operator-api-key"`
}

// RetentionConfig controls the periodic sweep of stale orders.
type RetentionConfig struct {
	Enabled              bool          `default:"true" usage:"Run the retention scheduler"`
	Interval             time.Duration `default:"6h"   usage:"Time between sweeps"`
	Timeout              time.Duration `default:"5m"   usage:"Upper bound of a single sweep"`
	AwaitingPaymentGrace time.Duration `default:"72h"  usage:"Age after which unpaid orders are deleted"`
	ReclaimableGrace     time.Duration `default:"168h" usage:"Age after which reported and confirmed orders are deleted"`
	IncludeCancelled     bool          `default:"false" usage:"Also delete cancelled orders"`
	CancelledGrace       time.Duration `default:"168h" usage:"Age after which cancelled orders are deleted"`
	BatchSize            int           `default:"1000" usage:"Rows deleted per statement"`
}

// Policy converts the section into a retention.Config.
func (c RetentionConfig) Policy() retention.Config {
	return retention.Config{
		AwaitingPaymentGrace: c.AwaitingPaymentGrace,
		ReclaimableGrace:     c.ReclaimableGrace,
		IncludeCancelled:     c.IncludeCancelled,
		CancelledGrace:       c.CancelledGrace,
		BatchSize:            c.BatchSize,
	}
}

// MirrorConfig controls outbound delivery of order events.
type MirrorConfig struct {
	Sink          string        `default:"log" usage:"Event sink: none, log, webhook or pubsub"`
	WebhookURL    string        `usage:"Webhook receiving order events" flag:"mirror-webhook-url"`
	PubSubProject string        `usage:"Google Cloud project of the Pub/Sub topic" flag:"mirror-pubsub-project"`
	PubSubTopic   string        `usage:"Pub/Sub topic receiving order events" flag:"mirror-pubsub-topic"`
	QueueSize     int           `default:"256" usage:"Events buffered before new ones are dropped"`
	MaxRetries    uint64        `default:"5"   usage:"Delivery retries per event"`
	Timeout       time.Duration `default:"5s"  usage:"Upper bound of a single delivery attempt"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "PREORDER",
		Files:     []string{"config.yaml", "/etc/preorder/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements aconfig cannot express.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set PREORDER_DATABASE_URL or DATABASE_URL")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Mirror.Sink {
	case SinkNone, SinkLog:
	case SinkWebhook:
		if c.Mirror.WebhookURL == "" {
			return errors.New("mirror webhook URL is required for the webhook sink")
		}
	case SinkPubSub:
		if c.Mirror.PubSubProject == "" || c.Mirror.PubSubTopic == "" {
			return errors.New("mirror pubsub project and topic are required for the pubsub sink")
		}
	default:
		return errors.Errorf("unknown mirror sink %q", c.Mirror.Sink)
	}

	if c.Retention.Enabled && c.Retention.Interval <= 0 {
		return errors.New("retention interval must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's PREORDER_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
