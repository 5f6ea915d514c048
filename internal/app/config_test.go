package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/preorder/internal/domain/retention"
)

func validConfig() Config {
	return Config{
		Addr:        "0.0.0.0:8080",
		DatabaseURL: "postgres://localhost/preorder",
		Storage:     StorageConfig{Driver: DriverPostgres},
		Retention:   RetentionConfig{Enabled: true, Interval: 6 * time.Hour},
		Mirror:      MirrorConfig{Sink: SinkLog},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "postgres needs url",
			mutate:  func(c *Config) { c.DatabaseURL = "" },
			wantErr: "database URL is required",
		},
		{
			name: "memory needs no url",
			mutate: func(c *Config) {
				c.DatabaseURL = ""
				c.Storage.Driver = DriverMemory
			},
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Storage.Driver = "sqlite" },
			wantErr: "unknown storage driver",
		},
		{
			name:    "webhook needs url",
			mutate:  func(c *Config) { c.Mirror.Sink = SinkWebhook },
			wantErr: "webhook URL is required",
		},
		{
			name: "pubsub needs topic",
			mutate: func(c *Config) {
				c.Mirror.Sink = SinkPubSub
				c.Mirror.PubSubProject = "proj"
			},
			wantErr: "project and topic are required",
		},
		{
			name:    "unknown sink",
			mutate:  func(c *Config) { c.Mirror.Sink = "kafka" },
			wantErr: "unknown mirror sink",
		},
		{
			name:    "retention interval",
			mutate:  func(c *Config) { c.Retention.Interval = 0 },
			wantErr: "retention interval",
		},
		{
			name: "disabled retention ignores interval",
			mutate: func(c *Config) {
				c.Retention.Enabled = false
				c.Retention.Interval = 0
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9090")

	cfg := Config{Addr: "0.0.0.0:8080"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)

	cfg = Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://explicit/db"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit/db", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
}

func TestRetentionConfig_Policy(t *testing.T) {
	rc := RetentionConfig{
		AwaitingPaymentGrace: 72 * time.Hour,
		ReclaimableGrace:     168 * time.Hour,
		IncludeCancelled:     true,
		CancelledGrace:       24 * time.Hour,
		BatchSize:            500,
	}
	assert.Equal(t, retention.Config{
		AwaitingPaymentGrace: 72 * time.Hour,
		ReclaimableGrace:     168 * time.Hour,
		IncludeCancelled:     true,
		CancelledGrace:       24 * time.Hour,
		BatchSize:            500,
	}, rc.Policy())
}
