// config.go
// ----------
// ClientConfig carries everything NewClient needs: where the backend lives,
// how long an attempt may take, the retry policy overrides and the refresh
// endpoint. Serializable fields load from YAML; runtime collaborators
// (store, logout notifier, transport, logger) are set in code.
package authbridge

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opengovern/resilient-authbridge/store"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultRefreshPath = "/web/auth/refresh/"
	DefaultLoginPath   = "/login"
	DefaultUserAgent   = "resilient-authbridge"

	envPrefix = "AUTHBRIDGE_"
)

type ClientConfig struct {
	BaseURL        string            `yaml:"base-url"`
	Timeout        time.Duration     `yaml:"timeout"` // per attempt
	DefaultHeaders map[string]string `yaml:"headers,omitempty"`

	MaxRetries        *int          `yaml:"max-retries,omitempty"` // nil keeps DefaultMaxRetries
	IdempotentMethods []string      `yaml:"idempotent-methods,omitempty"`
	BaseBackoff       time.Duration `yaml:"base-backoff"`
	MaxBackoff        time.Duration `yaml:"max-backoff"`

	RefreshPath string `yaml:"refresh-path"`
	LoginPath   string `yaml:"login-path"`
	UserAgent   string `yaml:"user-agent"`
	Debug       bool   `yaml:"debug"`

	Store    store.CredentialStore `yaml:"-"`
	OnLogout LogoutNotifier        `yaml:"-"`
	Adapter  TransportAdapter      `yaml:"-"`
	Logger   *logrus.Logger        `yaml:"-"`
}

// ApplyDefaults fills every unset field.
func (c *ClientConfig) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.RefreshPath == "" {
		c.RefreshPath = DefaultRefreshPath
	}
	if c.LoginPath == "" {
		c.LoginPath = DefaultLoginPath
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Store == nil {
		c.Store = store.NewMemoryStore(store.Credentials{})
	}
}

func (c *ClientConfig) Validate() error {
	var errs []error
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("base url %q must be an absolute http(s) url", c.BaseURL))
		}
	}
	if c.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}
	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries must not be negative"))
	}
	if c.BaseBackoff < 0 || c.MaxBackoff < 0 {
		errs = append(errs, errors.New("backoff must not be negative"))
	}
	if c.BaseBackoff > 0 && c.MaxBackoff > 0 && c.BaseBackoff > c.MaxBackoff {
		errs = append(errs, fmt.Errorf("base backoff %v exceeds max backoff %v", c.BaseBackoff, c.MaxBackoff))
	}
	if c.BaseURL == "" && !isAbsoluteURL(c.RefreshPath) {
		errs = append(errs, errors.New("refresh path must be absolute when no base url is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c *ClientConfig) maxRetries() int {
	if c.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *c.MaxRetries
}

// clone copies c deeply enough that mutating the copy's maps, slices and
// pointers leaves c untouched. Runtime collaborators are shared.
func (c *ClientConfig) clone() *ClientConfig {
	out := *c
	if c.DefaultHeaders != nil {
		out.DefaultHeaders = make(map[string]string, len(c.DefaultHeaders))
		for k, v := range c.DefaultHeaders {
			out.DefaultHeaders[k] = v
		}
	}
	if c.IdempotentMethods != nil {
		out.IdempotentMethods = append([]string(nil), c.IdempotentMethods...)
	}
	if c.MaxRetries != nil {
		n := *c.MaxRetries
		out.MaxRetries = &n
	}
	return &out
}

// LoadConfig reads a YAML file, overlays AUTHBRIDGE_* environment
// variables and applies defaults. An empty path loads from the
// environment alone.
func LoadConfig(path string) (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ClientConfig) applyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("BASE_URL"); ok {
		c.BaseURL = v
	}
	if v, ok := get("REFRESH_PATH"); ok {
		c.RefreshPath = v
	}
	if v, ok := get("LOGIN_PATH"); ok {
		c.LoginPath = v
	}
	if v, ok := get("USER_AGENT"); ok {
		c.UserAgent = v
	}
	if v, ok := get("IDEMPOTENT_METHODS"); ok {
		c.IdempotentMethods = strings.Split(v, ",")
	}
	for name, dst := range map[string]*time.Duration{
		"TIMEOUT":      &c.Timeout,
		"BASE_BACKOFF": &c.BaseBackoff,
		"MAX_BACKOFF":  &c.MaxBackoff,
	} {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%w: %s%s: %w", ErrInvalidConfig, envPrefix, name, err)
			}
			*dst = d
		}
	}
	if v, ok := get("MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sMAX_RETRIES: %w", ErrInvalidConfig, envPrefix, err)
		}
		c.MaxRetries = &n
	}
	if v, ok := get("DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sDEBUG: %w", ErrInvalidConfig, envPrefix, err)
		}
		c.Debug = b
	}
	return nil
}
