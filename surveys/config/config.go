package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

/**
 * ==========================================================================
 * ==== All variables used by the survey engine must be loaded here.     ====
 * ==== This is to make the data flow clear so that a user can see what  ====
 * ==== variables are exposed, and how the values are propagated through ====
 * ==== the system.                                                      ====
 * ==========================================================================
 */
type Env struct {
	// Exactly one of DatabaseUri and SqliteDir selects the backend.
	DatabaseUri string `env:"DATABASE_URI"`
	SqliteDir   string `env:"SQLITE_DIR"`

	AdminApiKey      string `env:"ADMIN_API_KEY"`
	JwtSecret        string `env:"JWT_SECRET,required,notEmpty"`
	JwtExpireMinutes int    `env:"JWT_EXPIRE_MINUTES" envDefault:"480"`

	AppName        string   `env:"APP_NAME" envDefault:"Strategic Survey Engine"`
	Debug          bool     `env:"DEBUG" envDefault:"false"`
	LogDir         string   `env:"LOG_DIR" envDefault:"logs"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30"`
}

func LoadEnvFile(envFile string) error {
	slog.Info(fmt.Sprintf("loading env from file %v", envFile))
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("error loading .env file '%v': %w", envFile, err)
	}
	return nil
}

func LoadEnv() (*Env, error) {
	cfg := &Env{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (e *Env) validate() error {
	if (e.DatabaseUri == "") == (e.SqliteDir == "") {
		return errors.New("must specify exactly one of DATABASE_URI or SQLITE_DIR")
	}
	if e.DatabaseUri != "" && !strings.HasPrefix(e.DatabaseUri, "postgres://") && !strings.HasPrefix(e.DatabaseUri, "postgresql://") {
		return fmt.Errorf("DATABASE_URI must be a postgres url")
	}
	if e.JwtExpireMinutes <= 0 {
		return fmt.Errorf("JWT_EXPIRE_MINUTES must be positive, got %d", e.JwtExpireMinutes)
	}
	if e.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", e.RateLimitPerMinute)
	}
	return nil
}

func (e *Env) JwtExpiry() time.Duration {
	return time.Duration(e.JwtExpireMinutes) * time.Minute
}

func (e *Env) UsesSqlite() bool {
	return e.SqliteDir != ""
}
