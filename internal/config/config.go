package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config represents the recall configuration
type Config struct {
	Embedder EmbedderConfig           `yaml:"embedder"`
	Channels map[string]ChannelConfig `yaml:"channels"`

	mu sync.RWMutex
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	Endpoint          string  `yaml:"endpoint"`
	Model             string  `yaml:"model"`
	Dimension         int     `yaml:"dimension"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
	BurstSize         int     `yaml:"burst_size,omitempty"`
}

// ChannelConfig controls inbound handling for one channel.
type ChannelConfig struct {
	// Mode is the inbound rollout mode: "draft_only" or "disabled".
	Mode string `yaml:"mode"`
}

const (
	ModeDraftOnly = "draft_only"
	ModeDisabled  = "disabled"
)

// GetConfigDir returns the XDG-compliant config directory
func GetConfigDir() (string, error) {
	// Explicit override (useful for tests and portable installs)
	if override := os.Getenv("RECALL_CONFIG_DIR"); override != "" {
		return override, nil
	}

	var base string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		base = xdg
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "recall"), nil
}

// GetDataDir returns the platform-specific data directory
func GetDataDir() (string, error) {
	// Explicit override (useful for tests and portable installs)
	if override := os.Getenv("RECALL_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "Recall"), nil
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "recall"), nil
	}

	return filepath.Join(home, ".local", "share", "recall"), nil
}

// Path returns the config file path.
func Path() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// Load loads config from the config file
func Load() (*Config, error) {
	configPath, err := Path()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return default empty config
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Channels == nil {
		c.Channels = make(map[string]ChannelConfig)
	}
	if c.Embedder.Model == "" {
		c.Embedder.Model = "gemini-embedding-001"
	}
	if c.Embedder.Dimension <= 0 {
		c.Embedder.Dimension = 768
	}
	if c.Embedder.RequestsPerSecond <= 0 {
		c.Embedder.RequestsPerSecond = 10
	}
	if c.Embedder.BurstSize <= 0 {
		c.Embedder.BurstSize = 5
	}
}

// Save saves the config to the config file
func (c *Config) Save() error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	c.mu.RLock()
	data, err := yaml.Marshal(c)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ChannelMode returns the inbound rollout mode for a channel.
// Unknown channels default to draft_only.
func (c *Config) ChannelMode(channel string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ch, ok := c.Channels[strings.ToLower(channel)]; ok && ch.Mode != "" {
		return ch.Mode
	}
	return ModeDraftOnly
}

// ChannelModes returns a snapshot of all configured channel modes.
func (c *Config) ChannelModes() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.Channels))
	for name, ch := range c.Channels {
		mode := ch.Mode
		if mode == "" {
			mode = ModeDraftOnly
		}
		out[name] = mode
	}
	return out
}

// SetChannelMode updates one channel's mode in memory.
func (c *Config) SetChannelMode(channel, mode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Channels == nil {
		c.Channels = make(map[string]ChannelConfig)
	}
	c.Channels[strings.ToLower(channel)] = ChannelConfig{Mode: mode}
}

// replaceFrom swaps this config's contents for another's. The watcher
// uses it so long-lived holders of *Config observe reloaded values.
func (c *Config) replaceFrom(next *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Embedder = next.Embedder
	c.Channels = next.Channels
}
