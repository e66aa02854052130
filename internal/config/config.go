package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/viciniti/internal/ble"
	"github.com/chaz8081/viciniti/internal/ble/protocol"
)

// Config holds all application configuration.
type Config struct {
	EventID       string        `yaml:"event_id" env:"VICINITI_EVENT_ID"`
	Role          string        `yaml:"role" env:"VICINITI_ROLE"` // "participant" or "organizer"
	HoldThreshold time.Duration `yaml:"hold_threshold" env:"VICINITI_HOLD_THRESHOLD"`
	Radio         RadioConfig   `yaml:"radio"`
	Hotkey        HotkeyConfig  `yaml:"hotkey"`
	LogLevel      string        `yaml:"log_level" env:"VICINITI_LOG_LEVEL"`
}

// RadioConfig holds BLE radio settings.
type RadioConfig struct {
	Mode           string        `yaml:"mode" env:"VICINITI_RADIO_MODE"` // "auto", "hardware" or "simulator"
	SimulatorDelay time.Duration `yaml:"simulator_delay" env:"VICINITI_SIMULATOR_DELAY"`
	CompanyID      uint16        `yaml:"company_id" env:"VICINITI_COMPANY_ID"`
}

// HotkeyConfig holds the press-and-hold key combo.
type HotkeyConfig struct {
	Keys []string `yaml:"keys" env:"VICINITI_HOTKEY" envSeparator:"+"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "viciniti")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Role:          "participant",
		HoldThreshold: 800 * time.Millisecond,
		Radio: RadioConfig{
			Mode:           ble.ModeAuto,
			SimulatorDelay: ble.DefaultSimulatorDelay,
			CompanyID:      ble.DefaultCompanyID,
		},
		Hotkey: HotkeyConfig{
			Keys: []string{"ctrl", "shift", "b"},
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. A leading ~ in path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from VICINITI_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	return nil
}

// ParsedRole returns the configured role.
func (c *Config) ParsedRole() (protocol.Role, error) {
	return protocol.ParseRole(c.Role)
}

// Validate checks the config for invalid values. An empty event_id is
// allowed; callers generate one.
func (c *Config) Validate() error {
	if _, err := c.ParsedRole(); err != nil {
		return fmt.Errorf("role must be \"participant\" or \"organizer\", got %q", c.Role)
	}

	if strings.ContainsAny(c.EventID, " \t\n") {
		return fmt.Errorf("event_id must not contain whitespace, got %q", c.EventID)
	}

	if c.HoldThreshold <= 0 {
		return fmt.Errorf("hold_threshold must be > 0")
	}

	switch c.Radio.Mode {
	case ble.ModeAuto, ble.ModeHardware, ble.ModeSimulator:
	default:
		return fmt.Errorf("radio.mode must be auto, hardware, or simulator, got %q", c.Radio.Mode)
	}

	if c.Radio.SimulatorDelay <= 0 {
		return fmt.Errorf("radio.simulator_delay must be > 0")
	}

	if c.Radio.CompanyID == 0 {
		return fmt.Errorf("radio.company_id must be non-zero")
	}

	if len(c.Hotkey.Keys) == 0 {
		return fmt.Errorf("hotkey.keys must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// WriteDefault writes a commented default config to DefaultConfigPath.
// It returns the written path, or "" if a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	content := "# viciniti configuration\n" +
		"# event_id: the beacon/event to confirm presence for (generated if empty)\n" +
		"# role: participant or organizer\n" +
		"# radio.mode: auto, hardware, or simulator\n\n" +
		string(data)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
