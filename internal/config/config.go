package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds all Trapdoor configuration
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Access posture (level, confirmation, path boundaries)
	Access AccessConfig `json:"access"`

	// Size and time ceilings for filesystem and exec operations
	Limits LimitsConfig `json:"limits"`

	// Command denylist rules
	Rules RulesConfig `json:"rules"`
}

type ServerConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"`
}

// AccessConfig controls the process-wide access posture. The level is fixed
// for the lifetime of the process; there is no per-request escalation.
type AccessConfig struct {
	Level string `json:"level"` // "limited", "solid", "full"

	// ConfirmFull skips the interactive confirmation required to start
	// at the "full" level (same as the -y flag).
	ConfirmFull bool `json:"confirmFull,omitempty"`

	// AllowedRoots, when non-empty, restricts every resolved path to
	// these directory trees. Empty means any path the OS permits.
	AllowedRoots []string `json:"allowedRoots,omitempty"`

	// ForbiddenPaths are never valid targets for write or delete
	// operations, regardless of level. Empty uses built-in defaults.
	ForbiddenPaths []string `json:"forbiddenPaths,omitempty"`
}

type LimitsConfig struct {
	MaxReadBytes   int64 `json:"maxReadBytes"`   // ceiling for /fs/read
	MaxOutputBytes int64 `json:"maxOutputBytes"` // per-stream exec capture ceiling
	ExecTimeoutSec int   `json:"execTimeoutSec"` // default exec timeout
	MaxTimeoutSec  int   `json:"maxTimeoutSec"`  // hard cap a caller cannot exceed
}

// RulesConfig points at an optional TOML file with extra denylist rules.
type RulesConfig struct {
	Path string `json:"path,omitempty"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     6969,
			DataDir:  filepath.Join(home, ".trapdoor"),
			LogLevel: "info",
		},
		Access: AccessConfig{
			Level: "limited",
		},
		Limits: LimitsConfig{
			MaxReadBytes:   10 * 1024 * 1024,
			MaxOutputBytes: 1024 * 1024,
			ExecTimeoutSec: 60,
			MaxTimeoutSec:  600,
		},
	}
}

// Load reads a config file, applying defaults for missing fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the config to disk as indented JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// Validate checks field values that would otherwise fail deep inside the
// serving path.
func (c *Config) Validate() error {
	switch c.Access.Level {
	case "limited", "solid", "full":
	default:
		return fmt.Errorf("invalid access level %q (want limited, solid or full)", c.Access.Level)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}

	if c.Limits.MaxReadBytes <= 0 {
		return fmt.Errorf("maxReadBytes must be positive")
	}
	if c.Limits.MaxOutputBytes <= 0 {
		return fmt.Errorf("maxOutputBytes must be positive")
	}
	if c.Limits.ExecTimeoutSec <= 0 || c.Limits.MaxTimeoutSec < c.Limits.ExecTimeoutSec {
		return fmt.Errorf("exec timeouts misconfigured: default %ds, max %ds",
			c.Limits.ExecTimeoutSec, c.Limits.MaxTimeoutSec)
	}

	return nil
}

// TokenPath returns the location of the persisted credential.
func (c *Config) TokenPath() string {
	return filepath.Join(c.Server.DataDir, "token")
}

// EnsureDataDir creates the data directory if missing.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.Server.DataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}
