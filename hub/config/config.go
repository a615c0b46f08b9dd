// Package config handles hub configuration loading and validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvAdminPassword = "ADMIN_PASSWORD"
	EnvPort          = "PORT"
)

// knownWeakPasswords must never guard a hub reachable by anyone else.
var knownWeakPasswords = map[string]bool{
	"changeme": true,
	"password": true,
	"admin":    true,
}

// IsWeakPassword reports whether pw is on the list of passwords that are
// refused as the shared credential.
func IsWeakPassword(pw string) bool {
	return knownWeakPasswords[strings.ToLower(pw)]
}

// Config is the top-level hub configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Session   SessionConfig   `json:"session,omitempty"`
	Audit     AuditConfig     `json:"audit,omitempty"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
}

// ServerConfig defines the hub's listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr"`                      // e.g. ":3000"; PORT overrides
	TLSCert        string   `json:"tls_cert,omitempty"`        // used as-is when set with tls_key
	TLSKey         string   `json:"tls_key,omitempty"`         // used as-is when set with tls_cert
	UIStaticDir    string   `json:"ui_static_dir,omitempty"`   // path to the operator web UI
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // CORS and WebSocket origins; default ["*"]
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"`  // max request body size; default 1MB
	MaxFrameBytes  int64    `json:"max_frame_bytes,omitempty"` // max WebSocket frame from agents; default 1MB
}

// AuthConfig holds the single shared operator credential. When both are set
// the hash wins.
type AuthConfig struct {
	Password     string `json:"password,omitempty"`
	PasswordHash string `json:"password_hash,omitempty"` // bcrypt
}

// SessionConfig defines web session behavior.
type SessionConfig struct {
	IdleTimeout   Duration `json:"idle_timeout,omitempty"`   // default 30m
	SweepInterval Duration `json:"sweep_interval,omitempty"` // default 5m
	MaxSessions   int      `json:"max_sessions,omitempty"`   // 0 = unlimited
}

// AuditConfig defines the optional audit trail.
type AuditConfig struct {
	Driver    string   `json:"driver,omitempty"`    // "none" (default), "sqlite" or "postgres"
	DSN       string   `json:"dsn,omitempty"`       // e.g. "abracadabra.db" or "postgres://..."
	Retention Duration `json:"retention,omitempty"` // default 30 days
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // "json" or "text"
}

// RateLimitConfig defines per-IP rate limiting for the HTTP API.
type RateLimitConfig struct {
	RequestsPerSecond      float64 `json:"requests_per_second,omitempty"`       // default 100 per 15 minutes
	Burst                  int     `json:"burst,omitempty"`                     // default 100
	LoginRequestsPerSecond float64 `json:"login_requests_per_second,omitempty"` // default 1 per 10 seconds
	LoginBurst             int     `json:"login_burst,omitempty"`               // default 5
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Default returns a configuration with every default applied and no
// credential set.
func Default() *Config {
	cfg := &Config{Server: ServerConfig{Addr: ":3000"}}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates a config file. Files ending in .yaml or .yml are
// parsed as YAML with ${VAR} expansion; anything else is JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if isYAML(path) {
		data, err = yamlToJSON([]byte(expandEnvVars(string(data))))
		if err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadOrEnv loads path when it is non-empty. Without a file the hub runs on
// defaults plus the environment, enough for deployments that only set
// ADMIN_PASSWORD and PORT.
func LoadOrEnv(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	cfg := &Config{Server: ServerConfig{Addr: ":3000"}}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes cfg as indented JSON, or YAML when path ends in .yaml/.yml.
// The file holds a credential so it is created owner-only.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if isYAML(path) {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		if data, err = yaml.Marshal(v); err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
	} else {
		data = append(data, '\n')
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a YAML document as JSON so both formats share one set
// of struct tags and the Duration decoder.
func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if v == nil {
		v = map[string]any{}
	}
	return json.Marshal(v)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or the empty
// string when unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyEnv() {
	if pw := os.Getenv(EnvAdminPassword); pw != "" {
		c.Auth.Password = pw
		c.Auth.PasswordHash = ""
	}
	if port := os.Getenv(EnvPort); port != "" {
		c.Server.Addr = ":" + port
	}
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Auth.Password == "" && c.Auth.PasswordHash == "" {
		return fmt.Errorf("auth.password or auth.password_hash is required (or set %s)", EnvAdminPassword)
	}
	if c.Auth.PasswordHash == "" && IsWeakPassword(c.Auth.Password) {
		return fmt.Errorf("auth.password is a well-known weak password, choose another")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("server.tls_cert and server.tls_key must be set together")
	}
	switch c.Audit.Driver {
	case "", "none":
	case "sqlite", "postgres":
		if c.Audit.DSN == "" && c.Audit.Driver == "postgres" {
			return fmt.Errorf("audit.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown audit driver: %q", c.Audit.Driver)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown logging format: %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024 // 1MB
	}
	if c.Server.MaxFrameBytes == 0 {
		c.Server.MaxFrameBytes = 1024 * 1024 // 1MB
	}
	if c.Session.IdleTimeout.Duration == 0 {
		c.Session.IdleTimeout.Duration = 30 * time.Minute
	}
	if c.Session.SweepInterval.Duration == 0 {
		c.Session.SweepInterval.Duration = 5 * time.Minute
	}
	if c.Audit.Driver == "" {
		c.Audit.Driver = "none"
	}
	if c.Audit.Driver == "sqlite" && c.Audit.DSN == "" {
		c.Audit.DSN = "abracadabra.db"
	}
	if c.Audit.Retention.Duration == 0 {
		c.Audit.Retention.Duration = 30 * 24 * time.Hour // 30 days
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 100.0 / (15 * 60)
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 100
	}
	if c.RateLimit.LoginRequestsPerSecond == 0 {
		c.RateLimit.LoginRequestsPerSecond = 0.1
	}
	if c.RateLimit.LoginBurst == 0 {
		c.RateLimit.LoginBurst = 5
	}
}
