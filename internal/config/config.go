// Package config parses and validates all application configuration from
// environment variables using caarlos0/env/v11.
//
// Call [Load] once at startup; pass the resulting [Config] to subcommands.
// The process exits if any field tagged "required" is missing.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration sourced from environment variables.
type Config struct {
	// ── Database ─────────────────────────────────────────────────────────────────
	DatabaseURL          string        `env:"DATABASE_URL,required"`
	DBMaxConns           int32         `env:"DB_MAX_CONNS"            envDefault:"25"`
	DBMaxConnIdleTime    time.Duration `env:"DB_MAX_CONN_IDLE_TIME"   envDefault:"5m"`
	DBStatementTimeoutMS int           `env:"DB_STATEMENT_TIMEOUT_MS" envDefault:"14000"`
	// DBQueryExecMode: "simple_protocol" (PgBouncer-compatible) or "extended_protocol".
	DBQueryExecMode string `env:"DB_QUERY_EXEC_MODE" envDefault:"simple_protocol"`

	// ── Server ───────────────────────────────────────────────────────────────────
	ListenAddr             string `env:"LISTEN_ADDR"              envDefault:":8080"`
	AppEnv                 string `env:"APP_ENV"                  envDefault:"development"`
	ShutdownTimeoutSeconds int    `env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"60"`

	// ── Workers ──────────────────────────────────────────────────────────────────
	// WorkerCount is the number of independent claim/process/complete loops
	// this process runs. Each loop holds at most one step at a time.
	WorkerCount int `env:"WORKER_COUNT" envDefault:"4"`
	// LeaseDuration bounds how long a claimed step stays owned before any
	// other worker may reclaim it.
	LeaseDuration time.Duration `env:"LEASE_DURATION" envDefault:"5m"`
	// ClaimsPerSecond caps each loop's claim rate. 0 disables the cap.
	ClaimsPerSecond float64 `env:"CLAIMS_PER_SECOND" envDefault:"0"`

	// ── Backoff ──────────────────────────────────────────────────────────────────
	// Idle backoff applied on empty claims and transient store errors:
	// starts at the floor, doubles per unproductive cycle, capped at the
	// ceiling, with ±jitter-fraction proportional jitter. Setting the
	// fraction to 0 disables jitter entirely.
	BackoffFloor          time.Duration `env:"BACKOFF_FLOOR"           envDefault:"1s"`
	BackoffCeiling        time.Duration `env:"BACKOFF_CEILING"         envDefault:"30s"`
	BackoffJitterFraction float64       `env:"BACKOFF_JITTER_FRACTION" envDefault:"0.2"`

	// ── Logging ──────────────────────────────────────────────────────────────────
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses and returns Config from environment variables.
// Returns an error if any required field is missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
