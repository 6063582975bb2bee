// Package config provides configuration management for the Warden guardian.
// It handles loading, saving, and validating configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultConfigDir is the default configuration directory
	DefaultConfigDir = "config"
	// DefaultConfigFile is the default configuration file name
	DefaultConfigFile = "warden.config.yaml"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Log       LogConfig       `yaml:"log" json:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Monitor   MonitorConfig   `yaml:"monitor" json:"monitor"`
	Safety    SafetyConfig    `yaml:"safety" json:"safety"`
	Journal   JournalConfig   `yaml:"journal" json:"journal"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	ReadTimeout  int    `yaml:"read_timeout" json:"readTimeout"`   // seconds
	WriteTimeout int    `yaml:"write_timeout" json:"writeTimeout"` // seconds
	CORSEnabled  bool   `yaml:"cors_enabled" json:"corsEnabled"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format     string `yaml:"format" json:"format"` // json, text
	Output     string `yaml:"output" json:"output"` // stdout, file, both
	Directory  string `yaml:"directory" json:"directory"`
	MaxSize    int    `yaml:"max_size" json:"maxSize"` // MB
	MaxBackups int    `yaml:"max_backups" json:"maxBackups"`
	MaxAge     int    `yaml:"max_age" json:"maxAge"` // days
}

// TelemetryConfig contains GPU telemetry configuration
type TelemetryConfig struct {
	SMIPath         string `yaml:"smi_path" json:"smiPath"`                  // nvidia-smi binary
	QueryTimeout    int    `yaml:"query_timeout" json:"queryTimeout"`        // seconds
	CPUSampleWindow int    `yaml:"cpu_sample_window" json:"cpuSampleWindow"` // milliseconds
}

// MonitorConfig contains supervisor loop configuration
type MonitorConfig struct {
	IntervalSeconds int `yaml:"interval_seconds" json:"intervalSeconds"`
	CooldownSeconds int `yaml:"cooldown_seconds" json:"cooldownSeconds"` // emergency cooldown
}

// SafetyConfig contains the process-wide, read-only safety limits that
// allocation admission and emergency detection are checked against.
type SafetyConfig struct {
	MaxGPUMemoryPercent    float64 `yaml:"max_gpu_memory_percent" json:"maxGpuMemoryPercent"`
	MaxSystemMemoryPercent float64 `yaml:"max_system_memory_percent" json:"maxSystemMemoryPercent"`
	MaxGPUTemperature      float64 `yaml:"max_gpu_temperature" json:"maxGpuTemperature"` // celsius
	MaxPowerPerGPU         float64 `yaml:"max_power_per_gpu" json:"maxPowerPerGpu"`      // watts
	MaxTotalPower          float64 `yaml:"max_total_power" json:"maxTotalPower"`         // watts
}

// JournalConfig contains allocation/emergency journal configuration
type JournalConfig struct {
	Type   string `yaml:"type" json:"type"`     // memory, sqlite
	Path   string `yaml:"path" json:"path"`     // sqlite database file
	Retain int    `yaml:"retain" json:"retain"` // memory backend ring size
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30,
			WriteTimeout: 30,
			CORSEnabled:  true,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			Directory:  "logs",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
		Telemetry: TelemetryConfig{
			SMIPath:         "nvidia-smi",
			QueryTimeout:    5,
			CPUSampleWindow: 1000,
		},
		Monitor: MonitorConfig{
			IntervalSeconds: 5,
			CooldownSeconds: 30,
		},
		Safety: SafetyConfig{
			MaxGPUMemoryPercent:    90,
			MaxSystemMemoryPercent: 85,
			MaxGPUTemperature:      82,
			MaxPowerPerGPU:         450,
			MaxTotalPower:          7200,
		},
		Journal: JournalConfig{
			Type:   "memory",
			Path:   "data/warden.db",
			Retain: 1000,
		},
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Monitor.IntervalSeconds <= 0 {
		return fmt.Errorf("monitor interval must be positive, got %d", c.Monitor.IntervalSeconds)
	}
	if c.Monitor.CooldownSeconds < 0 {
		return fmt.Errorf("emergency cooldown cannot be negative, got %d", c.Monitor.CooldownSeconds)
	}
	if c.Safety.MaxGPUMemoryPercent <= 0 || c.Safety.MaxGPUMemoryPercent > 100 {
		return fmt.Errorf("max_gpu_memory_percent must be in (0, 100], got %.1f", c.Safety.MaxGPUMemoryPercent)
	}
	if c.Safety.MaxSystemMemoryPercent <= 0 || c.Safety.MaxSystemMemoryPercent > 100 {
		return fmt.Errorf("max_system_memory_percent must be in (0, 100], got %.1f", c.Safety.MaxSystemMemoryPercent)
	}
	if c.Safety.MaxGPUTemperature <= 0 {
		return fmt.Errorf("max_gpu_temperature must be positive, got %.1f", c.Safety.MaxGPUTemperature)
	}
	if c.Safety.MaxPowerPerGPU <= 0 || c.Safety.MaxTotalPower <= 0 {
		return fmt.Errorf("power limits must be positive")
	}
	switch c.Journal.Type {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("unknown journal type: %s", c.Journal.Type)
	}
	if c.Journal.Type == "sqlite" && c.Journal.Path == "" {
		return fmt.Errorf("sqlite journal requires a path")
	}
	return nil
}

// GetConfigDir returns the configuration directory, honoring WARDEN_CONFIG_DIR
func GetConfigDir() string {
	if dir := os.Getenv("WARDEN_CONFIG_DIR"); dir != "" {
		return dir
	}
	return DefaultConfigDir
}

// DefaultConfigPath returns the full path of the default config file
func DefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), DefaultConfigFile)
}
