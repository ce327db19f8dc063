package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Notify  NotifyConfig  `yaml:"notify"`
	API     APIConfig     `yaml:"api"`
	Session SessionConfig `yaml:"session"`
	Policy  PolicyConfig  `yaml:"policy"`
	Log     LogConfig     `yaml:"log"`
	Hub     HubConfig     `yaml:"hub"`
}

// NotifyConfig configures the notification connection. An empty URL
// disables it.
type NotifyConfig struct {
	URL               string        `yaml:"url"`
	Token             string        `yaml:"token"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	PongTimeout       time.Duration `yaml:"pong_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

// APIConfig configures the REST client used for desk rosters. An empty
// BaseURL is derived from Notify.URL.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// SessionConfig signs a user in at startup when UserID is set.
type SessionConfig struct {
	UserID string `yaml:"user_id"`
	RoleID string `yaml:"role_id"`
}

type PolicyConfig struct {
	BufferUntilDesksLoaded bool `yaml:"buffer_until_desks_loaded"`
	BufferLimit            int  `yaml:"buffer_limit"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	File        string `yaml:"file"`
}

type HubConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	AuthToken      string        `yaml:"auth_token"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxConnections int           `yaml:"max_connections"`
	SendBuffer     int           `yaml:"send_buffer"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	Roster         string        `yaml:"roster"`
}

func defaultConfig() *Config {
	return &Config{
		Notify: NotifyConfig{
			URL:               "ws://127.0.0.1:8090/ws",
			ReconnectInterval: 5 * time.Second,
			PingInterval:      30 * time.Second,
			PongTimeout:       60 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		API: APIConfig{
			Timeout: 10 * time.Second,
		},
		Policy: PolicyConfig{
			BufferUntilDesksLoaded: true,
			BufferLimit:            64,
		},
		Log: LogConfig{
			Level: "info",
		},
		Hub: HubConfig{
			Host:           "127.0.0.1",
			Port:           8090,
			MaxConnections: 1000,
			SendBuffer:     256,
			WriteTimeout:   10 * time.Second,
			PingInterval:   30 * time.Second,
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Notify.URL != "" {
		u, err := url.Parse(c.Notify.URL)
		if err != nil {
			return fmt.Errorf("notify.url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("notify.url: scheme %q, want ws or wss", u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("notify.url: missing host")
		}
	}
	switch {
	case c.Notify.ReconnectInterval <= 0:
		return fmt.Errorf("notify.reconnect_interval must be positive, got %s", c.Notify.ReconnectInterval)
	case c.Notify.PingInterval <= 0:
		return fmt.Errorf("notify.ping_interval must be positive, got %s", c.Notify.PingInterval)
	case c.Notify.PongTimeout < c.Notify.PingInterval:
		return fmt.Errorf("notify.pong_timeout (%s) must be at least ping_interval (%s)", c.Notify.PongTimeout, c.Notify.PingInterval)
	case c.API.Timeout <= 0:
		return fmt.Errorf("api.timeout must be positive, got %s", c.API.Timeout)
	case c.Policy.BufferLimit < 0:
		return fmt.Errorf("policy.buffer_limit must not be negative, got %d", c.Policy.BufferLimit)
	case c.Hub.Port < 0 || c.Hub.Port > 65535:
		return fmt.Errorf("hub.port out of range: %d", c.Hub.Port)
	case c.Hub.MaxConnections < 0:
		return fmt.Errorf("hub.max_connections must not be negative, got %d", c.Hub.MaxConnections)
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	return nil
}

// APIBase returns the REST base URL: api.base_url, or the scheme and host of
// notify.url mapped to http(s).
func (c *Config) APIBase() string {
	if c.API.BaseURL != "" {
		return strings.TrimRight(c.API.BaseURL, "/")
	}
	return deriveHTTPBase(c.Notify.URL)
}

// APIToken falls back to the notify token.
func (c *Config) APIToken() string {
	if c.API.Token != "" {
		return c.API.Token
	}
	return c.Notify.Token
}

// deriveHTTPBase converts ws://host:port/ws to http://host:port.
func deriveHTTPBase(wsURL string) string {
	if wsURL == "" {
		return ""
	}
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := "http"
	if strings.HasPrefix(u.Scheme, "wss") {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}

// Diff lists the dotted keys whose values differ between c and other.
// Only settings that can change while running are compared.
func (c *Config) Diff(other *Config) []string {
	var changed []string
	add := func(key string, differs bool) {
		if differs {
			changed = append(changed, key)
		}
	}
	add("notify.url", c.Notify.URL != other.Notify.URL)
	add("notify.token", c.Notify.Token != other.Notify.Token)
	add("notify.reconnect_interval", c.Notify.ReconnectInterval != other.Notify.ReconnectInterval)
	add("api.base_url", c.APIBase() != other.APIBase())
	add("policy.buffer_until_desks_loaded", c.Policy.BufferUntilDesksLoaded != other.Policy.BufferUntilDesksLoaded)
	add("policy.buffer_limit", c.Policy.BufferLimit != other.Policy.BufferLimit)
	add("log.level", !strings.EqualFold(c.Log.Level, other.Log.Level))
	return changed
}
