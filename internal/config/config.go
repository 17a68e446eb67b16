// Package config loads ecosync settings from a config file in the data
// directory, ECO_* environment variables and built-in defaults, in that
// order of precedence (environment wins over the file).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override, e.g.
// ECO_REMOTE_URL for remote.url.
const EnvPrefix = "ECO"

// FileName is the config file base name looked up in the data directory.
const FileName = "config"

// Config is the resolved configuration.
type Config struct {
	DataDir       string          `mapstructure:"data_dir"`
	DBPath        string          `mapstructure:"db_path"`
	SchemaVersion string          `mapstructure:"schema_version"`
	Remote        RemoteConfig    `mapstructure:"remote"`
	Queue         QueueConfig     `mapstructure:"queue"`
	History       HistoryConfig   `mapstructure:"history"`
	Daemon        DaemonConfig    `mapstructure:"daemon"`
	Dashboard     DashboardConfig `mapstructure:"dashboard"`
	Log           LogConfig       `mapstructure:"log"`

	// File is the config file that was read, empty if none.
	File string `mapstructure:"-"`
}

// RemoteConfig points at the backend. An empty URL means offline only.
type RemoteConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// QueueConfig tunes the offline action queue.
type QueueConfig struct {
	RetryCeiling int `mapstructure:"retry_ceiling"`
}

// HistoryConfig tunes search history.
type HistoryConfig struct {
	Limit int `mapstructure:"limit"`
}

// DaemonConfig tunes the background daemon.
type DaemonConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	Debounce      time.Duration `mapstructure:"debounce"`
	Inbox         string        `mapstructure:"inbox"`
}

// DashboardConfig tunes the dashboard server.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// LogConfig controls the rotating log file. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// DefaultDataDir returns ~/.ecosync, or .ecosync when there is no home.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ecosync"
	}
	return filepath.Join(home, ".ecosync")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("db_path", "")
	v.SetDefault("schema_version", "1.3.3")
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", 10*time.Second)
	v.SetDefault("queue.retry_ceiling", 3)
	v.SetDefault("history.limit", 10)
	v.SetDefault("daemon.probe_interval", 30*time.Second)
	v.SetDefault("daemon.debounce", 250*time.Millisecond)
	v.SetDefault("daemon.inbox", "")
	v.SetDefault("dashboard.port", 8080)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
}

// Load resolves the configuration. When file is empty, config.* is looked
// up in the data directory and a missing file is not an error.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(v.GetString("data_dir"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.fillDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// fillDerived fills paths that default to locations inside DataDir.
func (c *Config) fillDerived() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "cache.db")
	}
	if c.Daemon.Inbox == "" {
		c.Daemon.Inbox = filepath.Join(c.DataDir, "inbox")
	}
}

// LockPath is the daemon's single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "daemon.lock")
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Queue.RetryCeiling < 1:
		return fmt.Errorf("queue.retry_ceiling must be at least 1, got %d", c.Queue.RetryCeiling)
	case c.History.Limit < 1:
		return fmt.Errorf("history.limit must be at least 1, got %d", c.History.Limit)
	case c.Daemon.ProbeInterval <= 0:
		return fmt.Errorf("daemon.probe_interval must be positive, got %s", c.Daemon.ProbeInterval)
	case c.Daemon.Debounce <= 0:
		return fmt.Errorf("daemon.debounce must be positive, got %s", c.Daemon.Debounce)
	case c.Dashboard.Port < 0 || c.Dashboard.Port > 65535:
		return fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port)
	case c.SchemaVersion == "":
		return fmt.Errorf("schema_version must not be empty")
	}
	return nil
}

// starter mirrors the config file layout with durations as strings.
type starter struct {
	SchemaVersion string `toml:"schema_version"`
	Remote        struct {
		URL     string `toml:"url"`
		Token   string `toml:"token"`
		Timeout string `toml:"timeout"`
	} `toml:"remote"`
	Queue struct {
		RetryCeiling int `toml:"retry_ceiling"`
	} `toml:"queue"`
	History struct {
		Limit int `toml:"limit"`
	} `toml:"history"`
	Daemon struct {
		ProbeInterval string `toml:"probe_interval"`
		Debounce      string `toml:"debounce"`
	} `toml:"daemon"`
	Dashboard struct {
		Port int `toml:"port"`
	} `toml:"dashboard"`
	Log struct {
		File       string `toml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
	} `toml:"log"`
}

// WriteStarter writes a config.toml holding the current values into dir.
// An existing file is only replaced when force is set.
func WriteStarter(dir string, c *Config, force bool) (string, error) {
	path := filepath.Join(dir, FileName+".toml")
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	var s starter
	s.SchemaVersion = c.SchemaVersion
	s.Remote.URL = c.Remote.URL
	s.Remote.Token = c.Remote.Token
	s.Remote.Timeout = c.Remote.Timeout.String()
	s.Queue.RetryCeiling = c.Queue.RetryCeiling
	s.History.Limit = c.History.Limit
	s.Daemon.ProbeInterval = c.Daemon.ProbeInterval.String()
	s.Daemon.Debounce = c.Daemon.Debounce.String()
	s.Dashboard.Port = c.Dashboard.Port
	s.Log.File = c.Log.File
	s.Log.MaxSizeMB = c.Log.MaxSizeMB
	s.Log.MaxBackups = c.Log.MaxBackups

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(s); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}
