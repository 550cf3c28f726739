package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Issuer:          "https://idp.test",
		ProofWorkers:    4,
		PseudonymHexLen: 40,
		AuthCodeTTL:     10 * time.Minute,
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	c := validConfig()
	c.Issuer = ""
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Issuer = "not-a-url"
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Issuer = "/relative/path"
	assert.Error(t, c.Validate())

	c = validConfig()
	c.ProofWorkers = 0
	assert.Error(t, c.Validate())

	c = validConfig()
	c.PseudonymHexLen = 4
	assert.Error(t, c.Validate())

	c = validConfig()
	c.AuthCodeTTL = time.Hour
	assert.Error(t, c.Validate(), "auth code lifetime is capped at ten minutes")
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("FANTASMA_ISSUER", "https://id.example.com")
	t.Setenv("FANTASMA_BIND", "0.0.0.0:9000")
	t.Setenv("FANTASMA_PROOF_WORKERS", "8")
	t.Setenv("FANTASMA_CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://id.example.com", cfg.Issuer)
	assert.Equal(t, "0.0.0.0:9000", cfg.Bind)
	assert.Equal(t, 8, cfg.ProofWorkers)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CorsOrigins)
	assert.Equal(t, time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, 120*time.Second, cfg.ProofWait)
	assert.Equal(t, 40, cfg.PseudonymHexLen)
}
