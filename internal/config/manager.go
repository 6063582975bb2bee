package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Manager loads and saves the configuration file.
type Manager struct {
	config     *Config
	configPath string
	mu         sync.RWMutex
}

// NewManager creates a manager for the default config path
func NewManager() *Manager {
	return &Manager{configPath: DefaultConfigPath()}
}

// NewManagerWithPath creates a manager for a custom config path
func NewManagerWithPath(configPath string) *Manager {
	return &Manager{configPath: configPath}
}

// GetConfigPath returns the configuration file path
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// Load loads the configuration from file.
// If the file doesn't exist, the default config is written and returned.
func (m *Manager) Load() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			config := DefaultConfig()
			if saveErr := m.saveUnsafe(config); saveErr != nil {
				return nil, fmt.Errorf("failed to create default config: %w", saveErr)
			}
			m.config = config
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m.config = config
	return config, nil
}

// Save validates and writes the configuration to file
func (m *Manager) Save(config *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.saveUnsafe(config); err != nil {
		return err
	}
	m.config = config
	return nil
}

// Get returns the last loaded configuration, or nil before Load
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// saveUnsafe saves config without locking (internal use)
func (m *Manager) saveUnsafe(config *Config) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
