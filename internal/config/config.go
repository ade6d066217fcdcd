// Package config resolves the vdmsync home directory, the tool
// configuration and the per-user job defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// HomeEnv is the environment variable overriding the home directory.
const HomeEnv = "VDMSYNC_HOME"

// Config is the top-level tool configuration read from vdmsync.yaml.
type Config struct {
	Client ClientConfig `yaml:"client"`
	Sync   SyncConfig   `yaml:"sync"`
	Cron   CronConfig   `yaml:"cron"`
}

// ClientConfig holds command-line client settings.
type ClientConfig struct {
	Command string `yaml:"command"`
	Network string `yaml:"network"`
}

// SyncConfig holds synchronization run settings.
type SyncConfig struct {
	ForceRequestThreshold float64 `yaml:"force_request_threshold"`
	VerifyArchive         bool    `yaml:"verify_archive"`
}

// CronConfig holds scheduler settings.
type CronConfig struct {
	Hour   int `yaml:"hour"`
	Minute int `yaml:"minute"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			Command: "nms_client",
			Network: "IM",
		},
		Sync: SyncConfig{
			ForceRequestThreshold: 300,
			VerifyArchive:         true,
		},
		Cron: CronConfig{
			Hour:   1,
			Minute: 0,
		},
	}
}

// Load reads a config file from the given path, layered over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Sync.ForceRequestThreshold < 0 || cfg.Sync.ForceRequestThreshold > 86400 {
		return nil, fmt.Errorf("parsing config file: force_request_threshold %v out of range",
			cfg.Sync.ForceRequestThreshold)
	}
	return cfg, nil
}

// Home is a resolved vdmsync home directory and the well-known files
// inside it.
type Home struct {
	Dir string
}

// ResolveHome picks the home directory: the explicit flag wins, then the
// VDMSYNC_HOME environment variable, then ~/.vdmsync. The directory must
// already exist; vdmsync never creates it implicitly.
func ResolveHome(flag string) (Home, error) {
	dir := flag
	if dir == "" {
		dir = os.Getenv(HomeEnv)
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Home{}, fmt.Errorf("resolving home directory: %w", err)
		}
		dir = filepath.Join(home, ".vdmsync")
	}

	info, err := os.Stat(dir)
	if err != nil {
		return Home{}, fmt.Errorf("vdmsync home %q does not exist, create it first", dir)
	}
	if !info.IsDir() {
		return Home{}, fmt.Errorf("vdmsync home %q is not a directory", dir)
	}
	return Home{Dir: dir}, nil
}

// QueueFile returns the path of the persisted job queue.
func (h Home) QueueFile() string { return filepath.Join(h.Dir, "queue.json") }

// LogFile returns the path of the scheduler log.
func (h Home) LogFile() string { return filepath.Join(h.Dir, "log.txt") }

// DefaultsFile returns the path of the per-user job defaults.
func (h Home) DefaultsFile() string { return filepath.Join(h.Dir, "defaults.json") }

// DatabaseFile returns the path of the run-history database.
func (h Home) DatabaseFile() string { return filepath.Join(h.Dir, "vdmsync.db") }

// ConfigFile returns the path of the tool configuration, or "" when the
// file does not exist.
func (h Home) ConfigFile() string {
	path := filepath.Join(h.Dir, "vdmsync.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// LoadConfig reads the tool configuration from the home directory, falling
// back to the built-in defaults when no file is present.
func (h Home) LoadConfig() (*Config, error) {
	path := h.ConfigFile()
	if path == "" {
		return DefaultConfig(), nil
	}
	return Load(path)
}
