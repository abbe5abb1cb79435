package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/broker")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, "https://api.kie.ai", cfg.KieBaseURL)
	assert.Equal(t, 30*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, int64(30), cfg.SubmitRateLimit)
	assert.Equal(t, int64(50), cfg.StandardWeeklyCredits)
	assert.Equal(t, 4380*time.Hour, cfg.FreeJobRetention)
}

func TestLoad_MemoryDriverSkipsDSN(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.StoreDriver)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing dsn", map[string]string{"POSTGRES_DSN": "", "REDIS_ADDR": "x"}},
		{"missing redis", map[string]string{"POSTGRES_DSN": "x", "REDIS_ADDR": ""}},
		{"bad driver", map[string]string{"STORE_DRIVER": "sqlite", "REDIS_ADDR": "x"}},
		{"bad timeout", map[string]string{"POSTGRES_DSN": "x", "REDIS_ADDR": "x", "PROVIDER_TIMEOUT": "soon"}},
		{"bad rate limit", map[string]string{"POSTGRES_DSN": "x", "REDIS_ADDR": "x", "SUBMIT_RATE_LIMIT": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
