package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`

	GatewayDriver  string        `env:"GATEWAY_DRIVER" envDefault:"fake"`
	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	WebhookSecret  string        `env:"WEBHOOK_SECRET,required"`

	WebhookPollInterval time.Duration `env:"WEBHOOK_POLL_INTERVAL" envDefault:"2s"`
	WebhookBatchSize    int           `env:"WEBHOOK_BATCH_SIZE" envDefault:"20"`
	WebhookMaxAttempts  int           `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"8"`

	PlanCatalogPath string `env:"PLAN_CATALOG_PATH"`
	AutoMigrate     bool   `env:"AUTO_MIGRATE" envDefault:"true"`

	ReconcileInterval   time.Duration `env:"RECONCILE_INTERVAL" envDefault:"24h"`
	ExpirySweepInterval time.Duration `env:"EXPIRY_SWEEP_INTERVAL" envDefault:"15m"`
	ExpiryBatchSize     int           `env:"EXPIRY_BATCH_SIZE" envDefault:"500"`
	JobWorkers          int           `env:"JOB_WORKERS" envDefault:"10"`

	UOWMaxRetries int `env:"UOW_MAX_RETRIES" envDefault:"3"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if cfg.GatewayDriver != "fake" {
		return nil, fmt.Errorf("config.Load: unsupported GATEWAY_DRIVER %q", cfg.GatewayDriver)
	}
	for name, d := range map[string]time.Duration{
		"GATEWAY_TIMEOUT":       cfg.GatewayTimeout,
		"WEBHOOK_POLL_INTERVAL": cfg.WebhookPollInterval,
		"RECONCILE_INTERVAL":    cfg.ReconcileInterval,
		"EXPIRY_SWEEP_INTERVAL": cfg.ExpirySweepInterval,
	} {
		if d <= 0 {
			return nil, fmt.Errorf("config.Load: %s must be positive", name)
		}
	}
	if cfg.JobWorkers < 1 {
		return nil, fmt.Errorf("config.Load: JOB_WORKERS must be at least 1")
	}
	return &cfg, nil
}
