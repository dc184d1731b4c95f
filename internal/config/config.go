// Package config holds the persistent application configuration and the
// manager guarding concurrent access to it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sync"

	"github.com/procsentry/procsentry/internal/snapshot"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// Target is the executable name to monitor.
	Target string `json:"target" yaml:"target"`

	// IntervalSeconds is the tick cadence in seconds.
	IntervalSeconds int `json:"interval_seconds" yaml:"interval_seconds"`

	// Categories selects the metadata groups collected each tick.
	Categories snapshot.Categories `json:"categories" yaml:"categories"`

	// MediaPlayer optionally matches media sessions by player identity
	// instead of process id (for players whose bus connection lives in a
	// different process than the monitored one).
	MediaPlayer string `json:"media_player,omitempty" yaml:"media_player,omitempty"`

	ServerPort int    `json:"server_port" yaml:"server_port"`
	LogLevel   string `json:"log_level" yaml:"log_level"`
}

// Interval returns the tick cadence as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		IntervalSeconds: 3,
		Categories:      snapshot.DefaultCategories(),
		ServerPort:      8973,
		LogLevel:        "info",
	}
}

// Manager guards the configuration for concurrent readers and persists it to
// a yaml file.
type Manager struct {
	mu         sync.RWMutex
	config     *Config
	configPath string
}

// NewManager loads the configuration from path, or from the default location
// when path is empty. A missing file yields defaults without error.
func NewManager(path string) (*Manager, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		path = filepath.Join(home, ".config", "procsentry", "config.yaml")
	}

	m := &Manager{
		config:     Default(),
		configPath: path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, m.config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if m.config.IntervalSeconds <= 0 {
		m.config.IntervalSeconds = Default().IntervalSeconds
	}

	return m, nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

// GetConfigPath returns the path backing this manager.
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// Save writes the configuration to disk, creating parent directories as
// needed.
func (m *Manager) Save() error {
	m.mu.RLock()
	data, err := yaml.Marshal(m.config)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(m.configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SetTarget updates the monitored executable name.
func (m *Manager) SetTarget(target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Target = target
}

// SetInterval updates the tick cadence in seconds. Non-positive values are
// ignored.
func (m *Manager) SetInterval(seconds int) {
	if seconds <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.IntervalSeconds = seconds
}

// SetPort updates the API server port.
func (m *Manager) SetPort(port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.ServerPort = port
}

// SetLogLevel updates the log level.
func (m *Manager) SetLogLevel(level string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.LogLevel = level
}

// SetCategories replaces the collected category set.
func (m *Manager) SetCategories(cats snapshot.Categories) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Categories = cats
}

// SetMediaPlayer updates the explicit media-player match.
func (m *Manager) SetMediaPlayer(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.MediaPlayer = name
}
