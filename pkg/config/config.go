// Package config loads relay configuration from the process environment,
// optionally seeded from a dotenv file, using Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment variables read by Load.
const (
	EnvAPIURL      = "API_URL"
	EnvAPIKey      = "API_KEY"
	EnvModel       = "RELAY_MODEL"
	EnvTimeout     = "RELAY_UPSTREAM_TIMEOUT"
	EnvMaxRetries  = "RELAY_MAX_RETRIES"
	EnvBackoffBase = "RELAY_BACKOFF_BASE"
	EnvListen      = "RELAY_LISTEN"
	EnvDebug       = "RELAY_DEBUG"
)

// DefaultEnvFile is loaded when present; a missing file is not an error.
const DefaultEnvFile = ".env"

var bindings = map[string]string{
	"upstream.url":          EnvAPIURL,
	"upstream.api_key":      EnvAPIKey,
	"upstream.model":        EnvModel,
	"upstream.timeout":      EnvTimeout,
	"upstream.max_retries":  EnvMaxRetries,
	"upstream.backoff_base": EnvBackoffBase,
	"listen":                EnvListen,
	"debug":                 EnvDebug,
}

// Config is the process-wide configuration, read once at startup.
type Config struct {
	ListenAddr string
	Debug      bool
	Upstream   Upstream
}

// Upstream holds the chat-completion endpoint settings.
type Upstream struct {
	URL         string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
}

// Load reads envFile into the environment (without overriding variables
// that are already set) and builds the Config from the environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	cfg := &Config{
		ListenAddr: strings.TrimSpace(v.GetString("listen")),
		Debug:      v.GetBool("debug"),
		Upstream: Upstream{
			URL:         strings.TrimSpace(v.GetString("upstream.url")),
			APIKey:      strings.TrimSpace(v.GetString("upstream.api_key")),
			Model:       strings.TrimSpace(v.GetString("upstream.model")),
			Timeout:     v.GetDuration("upstream.timeout"),
			MaxRetries:  v.GetInt("upstream.max_retries"),
			BackoffBase: v.GetDuration("upstream.backoff_base"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", "0.0.0.0:5000")
	v.SetDefault("debug", false)
	v.SetDefault("upstream.model", "gpt-3.5-turbo")
	v.SetDefault("upstream.timeout", "30s")
	v.SetDefault("upstream.max_retries", 3)
	v.SetDefault("upstream.backoff_base", "1s")
}

// Validate checks the tunables. A missing upstream URL or key is not an
// error here; see Missing.
func (c *Config) Validate() error {
	var problems []string

	if c.ListenAddr == "" {
		problems = append(problems, EnvListen+" must not be empty")
	}
	if c.Upstream.Timeout <= 0 {
		problems = append(problems, EnvTimeout+" must be a positive duration (e.g. 30s)")
	}
	if c.Upstream.MaxRetries < 0 {
		problems = append(problems, EnvMaxRetries+" must not be negative")
	}
	if c.Upstream.BackoffBase <= 0 {
		problems = append(problems, EnvBackoffBase+" must be a positive duration (e.g. 1s)")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Missing returns the names of the upstream variables that are unset.
// Without them every outbound call fails.
func (c *Config) Missing() []string {
	var missing []string
	if c.Upstream.URL == "" {
		missing = append(missing, EnvAPIURL)
	}
	if c.Upstream.APIKey == "" {
		missing = append(missing, EnvAPIKey)
	}
	return missing
}
