package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Env is the process configuration read from DATAGATE_* variables.
type Env struct {
	Database    string        `env:"DATAGATE_DB" envDefault:"datagate.db"`
	Workers     int           `env:"DATAGATE_WORKERS" envDefault:"64"`
	LockTimeout time.Duration `env:"DATAGATE_LOCK_TIMEOUT" envDefault:"10s"`

	// RateLimit is commands per second; 0 disables throttling.
	RateLimit float64 `env:"DATAGATE_RATE_LIMIT" envDefault:"0"`
	RateBurst int     `env:"DATAGATE_RATE_BURST" envDefault:"16"`

	TokenSecret string `env:"DATAGATE_TOKEN_SECRET"`
	TokenIssuer string `env:"DATAGATE_TOKEN_ISSUER" envDefault:"datagate"`

	// OTelEndpoint enables tracing when set.
	OTelEndpoint    string  `env:"DATAGATE_OTEL_ENDPOINT"`
	OTelSampleRatio float64 `env:"DATAGATE_OTEL_SAMPLE_RATIO" envDefault:"1"`
	ServiceName     string  `env:"DATAGATE_SERVICE_NAME" envDefault:"datagate"`
}

// LoadEnv reads Env from the environment.
func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	if e.Workers <= 0 {
		return Env{}, fmt.Errorf("parse env: DATAGATE_WORKERS must be positive, got %d", e.Workers)
	}
	if e.LockTimeout <= 0 {
		return Env{}, fmt.Errorf("parse env: DATAGATE_LOCK_TIMEOUT must be positive, got %s", e.LockTimeout)
	}
	return e, nil
}
