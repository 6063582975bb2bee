package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultConfigValid tests that the shipped defaults validate
func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Monitor.IntervalSeconds)
	assert.Equal(t, 30, cfg.Monitor.CooldownSeconds)
	assert.InDelta(t, 90.0, cfg.Safety.MaxGPUMemoryPercent, 0.01)
	assert.InDelta(t, 82.0, cfg.Safety.MaxGPUTemperature, 0.01)
	assert.InDelta(t, 7200.0, cfg.Safety.MaxTotalPower, 0.01)
}

// TestValidateRejectsBadValues tests validation failures
func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero interval", func(c *Config) { c.Monitor.IntervalSeconds = 0 }},
		{"negative cooldown", func(c *Config) { c.Monitor.CooldownSeconds = -1 }},
		{"gpu memory percent over 100", func(c *Config) { c.Safety.MaxGPUMemoryPercent = 150 }},
		{"zero thermal limit", func(c *Config) { c.Safety.MaxGPUTemperature = 0 }},
		{"zero power limit", func(c *Config) { c.Safety.MaxTotalPower = 0 }},
		{"unknown journal type", func(c *Config) { c.Journal.Type = "etcd" }},
		{"sqlite without path", func(c *Config) {
			c.Journal.Type = "sqlite"
			c.Journal.Path = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// TestManagerLoadCreatesDefault tests first-run default config creation
func TestManagerLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.config.yaml")
	mgr := NewManagerWithPath(path)

	cfg, err := mgr.Load()
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)

	// 配置文件应该已经写入磁盘
	_, err = os.Stat(path)
	require.NoError(t, err)
}

// TestManagerSaveLoadRoundtrip tests that saved values survive a reload
func TestManagerSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.config.yaml")
	mgr := NewManagerWithPath(path)

	cfg := DefaultConfig()
	cfg.Server.Port = 9100
	cfg.Safety.MaxGPUTemperature = 78
	cfg.Journal.Type = "sqlite"
	cfg.Journal.Path = filepath.Join(t.TempDir(), "warden.db")
	require.NoError(t, mgr.Save(cfg))

	loaded, err := NewManagerWithPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 9100, loaded.Server.Port)
	assert.InDelta(t, 78.0, loaded.Safety.MaxGPUTemperature, 0.01)
	assert.Equal(t, "sqlite", loaded.Journal.Type)
}

// TestManagerLoadRejectsInvalid tests that a bad file fails the load
func TestManagerLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: -1\n"), 0644))

	_, err := NewManagerWithPath(path).Load()
	assert.Error(t, err)
}
