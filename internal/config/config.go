// Package config loads the heartbeat master's configuration from
// environment variables (required secrets and endpoints) and an optional
// config.yaml (tunables with safe defaults).
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// allowedGraphSchemes is the closed set of graph endpoint schemes accepted
// at startup (spec §6: schemes outside this set are rejected).
var allowedGraphSchemes = map[string]bool{
	"bolt":     true,
	"bolt+s":   true,
	"neo4j":    true,
	"neo4j+s":  true,
}

const (
	minGatewayTokenLen = 32
	minHMACSecretLen   = 64
)

// OTelConfig mirrors internal/otel.Config without importing it, avoiding a
// cross-package cycle; the two are kept structurally identical.
type OTelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Config is the heartbeat master's effective configuration: required
// secrets/endpoints from the environment, tunables from config.yaml.
type Config struct {
	HomeDir string `yaml:"-"`

	// Graph Store Client (C3) connection.
	GraphURI      string `yaml:"-"`
	GraphUser     string `yaml:"-"`
	GraphPassword string `yaml:"-"`

	// Delegation & Messaging (C4) gateway.
	GatewayURL      string `yaml:"-"`
	GatewayToken    string `yaml:"-"`
	AgentHMACSecret string `yaml:"-"`

	ProjectRoot string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	// CycleIntervalMinutes is the scheduler tick period; spec fixes this at 5.
	CycleIntervalMinutes int `yaml:"cycle_interval_minutes"`

	// TokenCapPerCycle is the cumulative handler token budget per cycle (spec default 8650).
	TokenCapPerCycle int `yaml:"token_cap_per_cycle"`

	// DefaultHandlerTimeoutSeconds is used when a registered task omits TimeoutSeconds.
	DefaultHandlerTimeoutSeconds int `yaml:"default_handler_timeout_seconds"`

	// RateLimitDelegatePerHour bounds main's delegate_task calls (spec default 60/h).
	RateLimitDelegatePerHour int `yaml:"rate_limit_delegate_per_hour"`

	// AllowOrigins controls accepted Origin headers for the dashboard event stream.
	// Empty means same-origin/no browser Origin required.
	AllowOrigins []string `yaml:"allow_origins"`

	OTel OTelConfig `yaml:"otel"`
}

// Default returns a Config with spec-mandated defaults for everything that
// isn't a required environment variable.
func Default() Config {
	return Config{
		BindAddr:                     ":8090",
		LogLevel:                     "info",
		CycleIntervalMinutes:         5,
		TokenCapPerCycle:             8650,
		DefaultHandlerTimeoutSeconds: 60,
		RateLimitDelegatePerHour:     60,
		OTel: OTelConfig{
			Exporter:    "stdout",
			ServiceName: "heartbeat-master",
			SampleRate:  1.0,
		},
	}
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml (if present) for tunables, then overlays required
// secrets and endpoints from the environment, validating per spec §6.
// Missing required environment variables or invalid schemes/lengths fail
// fast, matching the Fatal error class of spec §7.
func Load(homeDir string) (Config, error) {
	cfg := Default()
	cfg.HomeDir = homeDir

	path := ConfigPath(homeDir)
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.GraphURI = envOrDefault("GRAPH_URI", "bolt://localhost:7687")
	cfg.GraphUser = envOrDefault("GRAPH_USER", "neo4j")
	cfg.GraphPassword = os.Getenv("GRAPH_PASSWORD")
	cfg.GatewayURL = os.Getenv("GATEWAY_URL")
	cfg.GatewayToken = os.Getenv("GATEWAY_TOKEN")
	cfg.AgentHMACSecret = os.Getenv("AGENT_HMAC_SECRET")
	cfg.ProjectRoot = os.Getenv("PROJECT_ROOT")
	if cfg.ProjectRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.ProjectRoot = wd
		}
	}

	if v := os.Getenv("CYCLE_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CycleIntervalMinutes = n
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the Fatal-class startup checks of spec §6/§7.
func (c Config) Validate() error {
	if c.GraphPassword == "" {
		return fmt.Errorf("GRAPH_PASSWORD is required")
	}
	if c.GatewayURL == "" {
		return fmt.Errorf("GATEWAY_URL is required")
	}
	if c.GatewayToken == "" {
		return fmt.Errorf("GATEWAY_TOKEN is required")
	}
	if len(c.GatewayToken) < minGatewayTokenLen {
		return fmt.Errorf("GATEWAY_TOKEN must be at least %d characters", minGatewayTokenLen)
	}
	if c.AgentHMACSecret == "" {
		return fmt.Errorf("AGENT_HMAC_SECRET is required")
	}
	if len(c.AgentHMACSecret) < minHMACSecretLen {
		return fmt.Errorf("AGENT_HMAC_SECRET must be at least %d characters", minHMACSecretLen)
	}
	if err := validateGraphURI(c.GraphURI); err != nil {
		return err
	}
	if err := validateGatewayURL(c.GatewayURL); err != nil {
		return err
	}
	return nil
}

// validateGraphURI enforces the closed scheme allow-list of spec §6.
func validateGraphURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("GRAPH_URI is not a valid URI: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if !allowedGraphSchemes[scheme] {
		return fmt.Errorf("GRAPH_URI scheme %q is not in the allowed set {bolt, bolt+s, neo4j, neo4j+s}", scheme)
	}
	return nil
}

// validateGatewayURL accepts only http (intended for loopback) or https,
// per spec §6.
func validateGatewayURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("GATEWAY_URL is not a valid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("GATEWAY_URL scheme %q must be http or https", scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("GATEWAY_URL must include a host")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
