package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths holds the directories padbridge uses.
type Paths struct {
	// RuntimeDir is the named-object namespace shared by primary and clients.
	RuntimeDir string `toml:"runtime_dir"`
	LogDir     string `toml:"log_dir"`
	StateDir   string `toml:"state_dir"`
}

// IPC tunes endpoint naming and the bounds of every blocking exchange.
type IPC struct {
	DisplayLabel       string `toml:"display_label"`
	ExclusionTimeoutMS int    `toml:"exclusion_timeout_ms"`
	NotifyTimeoutMS    int    `toml:"notify_timeout_ms"`
	MaxCommandLength   int    `toml:"max_command_length"`
	DialTimeoutMS      int    `toml:"dial_timeout_ms"`
	DeliveryTimeoutMS  int    `toml:"delivery_timeout_ms"`
}

// Slots describes the controller slots the primary manages.
type Slots struct {
	Count          int      `toml:"count"`
	DefaultProfile string   `toml:"default_profile"`
	Profiles       []string `toml:"profiles"`
	// Persist keeps assignments in state_dir across primary restarts.
	Persist bool `toml:"persist"`
}

// Devices configures controller hotplug monitoring.
type Devices struct {
	Monitor   bool   `toml:"monitor"`
	Subsystem string `toml:"subsystem"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for padbridge.
type Config struct {
	Paths   Paths   `toml:"paths"`
	IPC     IPC     `toml:"ipc"`
	Slots   Slots   `toml:"slots"`
	Devices Devices `toml:"devices"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file).DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config: %s", strings.TrimSpace(strict.String()))
			}
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
			path = env
		}
	}
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the runtime, log and state directories. The
// runtime directory is private to the user since it holds the endpoint socket.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Paths.RuntimeDir, 0o700); err != nil {
		return fmt.Errorf("create runtime directory %q: %w", c.Paths.RuntimeDir, err)
	}
	for _, dir := range []string{c.Paths.LogDir, c.Paths.StateDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ExclusionTimeout bounds waiting for the global query mutex.
func (c *Config) ExclusionTimeout() time.Duration {
	return time.Duration(c.IPC.ExclusionTimeoutMS) * time.Millisecond
}

// NotifyTimeout bounds waiting for a query answer.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.IPC.NotifyTimeoutMS) * time.Millisecond
}

// DialTimeout bounds connecting to the primary's socket.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.IPC.DialTimeoutMS) * time.Millisecond
}

// DeliveryTimeout bounds one command delivery round trip.
func (c *Config) DeliveryTimeout() time.Duration {
	return time.Duration(c.IPC.DeliveryTimeoutMS) * time.Millisecond
}

// SlotStorePath is the SQLite database holding persisted slot assignments.
func (c *Config) SlotStorePath() string {
	return filepath.Join(c.Paths.StateDir, "slots.db")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && pathValue[1] == '/' {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
