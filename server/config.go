package server

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every runtime setting. It is immutable after start-up;
// all server state flows through explicit handles built from it.
type Config struct {
	Issuer         string `env:"FANTASMA_ISSUER"`
	Bind           string `env:"FANTASMA_BIND" envDefault:"127.0.0.1:8470"`
	DatabaseURL    string `env:"DATABASE_URL"`
	AdminKey       string `env:"FANTASMA_ADMIN_KEY"`
	ProofWorkers   int    `env:"FANTASMA_PROOF_WORKERS" envDefault:"4"`
	SigningKeyPath string `env:"FANTASMA_SIGNING_KEY_PATH" envDefault:"./keys"`
	KeyPassphrase  string `env:"FANTASMA_KEY_PASSPHRASE" envDefault:"fantasma-dev"`

	AccessTokenTTL  time.Duration `env:"FANTASMA_ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL time.Duration `env:"FANTASMA_REFRESH_TOKEN_TTL" envDefault:"720h"`
	AuthCodeTTL     time.Duration `env:"FANTASMA_AUTH_CODE_TTL" envDefault:"10m"`
	ConsentTTL      time.Duration `env:"FANTASMA_CONSENT_TTL" envDefault:"15m"`
	ProofWait       time.Duration `env:"FANTASMA_PROOF_WAIT" envDefault:"120s"`
	ProofTTL        time.Duration `env:"FANTASMA_PROOF_TTL" envDefault:"24h"`

	PseudonymHexLen int `env:"FANTASMA_PSEUDONYM_HEX_LEN" envDefault:"40"`

	ReadTimeout     time.Duration `env:"FANTASMA_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"FANTASMA_WRITE_TIMEOUT" envDefault:"150s"`
	IdleTimeout     time.Duration `env:"FANTASMA_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"FANTASMA_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxRequestSize  int64         `env:"FANTASMA_MAX_REQUEST_SIZE" envDefault:"1048576"`

	EnableCORS  bool     `env:"FANTASMA_ENABLE_CORS" envDefault:"true"`
	CorsOrigins []string `env:"FANTASMA_CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	LogLevel  string `env:"FANTASMA_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"FANTASMA_LOG_FORMAT" envDefault:"text"`
}

// LoadConfig reads the environment (after loading an optional .env file)
// and validates the result.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings a running server depends on.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("FANTASMA_ISSUER is required")
	}
	u, err := url.Parse(c.Issuer)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("FANTASMA_ISSUER must be an absolute URL, got %q", c.Issuer)
	}
	if c.ProofWorkers < 1 {
		return fmt.Errorf("FANTASMA_PROOF_WORKERS must be >= 1, got %d", c.ProofWorkers)
	}
	if c.PseudonymHexLen < 8 || c.PseudonymHexLen > 64 {
		return fmt.Errorf("FANTASMA_PSEUDONYM_HEX_LEN must be between 8 and 64, got %d", c.PseudonymHexLen)
	}
	if c.AuthCodeTTL <= 0 || c.AuthCodeTTL > 10*time.Minute {
		return fmt.Errorf("FANTASMA_AUTH_CODE_TTL must be positive and at most 10m")
	}
	return nil
}
