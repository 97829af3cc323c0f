package authbridge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientConfig_ApplyDefaults(t *testing.T) {
	cfg := &ClientConfig{BaseURL: "https://api.example.com"}
	cfg.ApplyDefaults()

	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultBaseBackoff, cfg.BaseBackoff)
	assert.Equal(t, DefaultMaxBackoff, cfg.MaxBackoff)
	assert.Equal(t, DefaultRefreshPath, cfg.RefreshPath)
	assert.Equal(t, DefaultLoginPath, cfg.LoginPath)
	assert.NotNil(t, cfg.Store)
	assert.Equal(t, DefaultMaxRetries, cfg.maxRetries())
}

func TestClientConfig_Validate(t *testing.T) {
	neg := -1
	tests := []struct {
		name string
		cfg  ClientConfig
		ok   bool
	}{
		{"valid", ClientConfig{BaseURL: "https://api.example.com"}, true},
		{"relative base", ClientConfig{BaseURL: "api.example.com"}, false},
		{"ftp base", ClientConfig{BaseURL: "ftp://api.example.com"}, false},
		{"negative retries", ClientConfig{BaseURL: "https://api.example.com", MaxRetries: &neg}, false},
		{"negative timeout", ClientConfig{BaseURL: "https://api.example.com", Timeout: -time.Second}, false},
		{"base above max", ClientConfig{BaseURL: "https://api.example.com", BaseBackoff: time.Minute, MaxBackoff: time.Second}, false},
		{"no base, relative refresh", ClientConfig{}, false},
		{"no base, absolute refresh", ClientConfig{RefreshPath: "https://auth.example.com/web/auth/refresh/"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.ApplyDefaults()
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestClientConfig_CloneIsDeep(t *testing.T) {
	n := 2
	orig := &ClientConfig{
		DefaultHeaders:    map[string]string{"X-Tenant": "a"},
		IdempotentMethods: []string{"GET"},
		MaxRetries:        &n,
	}
	cp := orig.clone()
	cp.DefaultHeaders["X-Tenant"] = "b"
	cp.IdempotentMethods[0] = "POST"
	*cp.MaxRetries = 9

	assert.Equal(t, "a", orig.DefaultHeaders["X-Tenant"])
	assert.Equal(t, "GET", orig.IdempotentMethods[0])
	assert.Equal(t, 2, *orig.MaxRetries)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base-url: https://admin.example.com
timeout: 5s
headers:
  X-Tenant: clinic-7
max-retries: 5
idempotent-methods: [GET, HEAD]
max-backoff: 20s
refresh-path: /api/token/refresh/
`), 0o600))

	t.Setenv("AUTHBRIDGE_TIMEOUT", "3s")
	t.Setenv("AUTHBRIDGE_DEBUG", "true")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://admin.example.com", cfg.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Timeout, "env overrides file")
	assert.Equal(t, "clinic-7", cfg.DefaultHeaders["X-Tenant"])
	require.NotNil(t, cfg.MaxRetries)
	assert.Equal(t, 5, *cfg.MaxRetries)
	assert.Equal(t, []string{"GET", "HEAD"}, cfg.IdempotentMethods)
	assert.Equal(t, 20*time.Second, cfg.MaxBackoff)
	assert.Equal(t, DefaultBaseBackoff, cfg.BaseBackoff)
	assert.Equal(t, "/api/token/refresh/", cfg.RefreshPath)
	assert.True(t, cfg.Debug)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("base-url: [unterminated"), 0o600))
	_, err = LoadConfig(bad)
	assert.Error(t, err)

	t.Setenv("AUTHBRIDGE_BASE_URL", "https://api.example.com")
	t.Setenv("AUTHBRIDGE_MAX_RETRIES", "many")
	_, err = LoadConfig("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"AUTHBRIDGE_BASE_URL":           "https://api.example.com",
		"AUTHBRIDGE_MAX_RETRIES":        "0",
		"AUTHBRIDGE_BASE_BACKOFF":       "250ms",
		"AUTHBRIDGE_IDEMPOTENT_METHODS": "GET,PUT",
		"AUTHBRIDGE_LOGIN_PATH":         "   ",
	}
	cfg := &ClientConfig{LoginPath: "/signin"}
	require.NoError(t, cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	assert.Equal(t, "https://api.example.com", cfg.BaseURL)
	assert.Equal(t, 0, *cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.BaseBackoff)
	assert.Equal(t, []string{"GET", "PUT"}, cfg.IdempotentMethods)
	assert.Equal(t, "/signin", cfg.LoginPath, "blank values are ignored")
}
