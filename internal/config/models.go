package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/comfycap/comfycap/internal/capture"
	"github.com/comfycap/comfycap/internal/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalid is returned when a configuration value fails validation.
	ErrInvalid = errors.New("invalid configuration")

	// ErrUnknownKey is returned for keys that are not part of Config.
	ErrUnknownKey = errors.New("unknown configuration key")
)

// Config is the persisted application configuration
type Config struct {
	APIPort         int     `json:"api_port" yaml:"api_port"`
	CapturePort     int     `json:"capture_port" yaml:"capture_port"`
	ScaleFactor     float64 `json:"scale_factor" yaml:"scale_factor"`
	WindowTitle     string  `json:"window_title" yaml:"window_title"`
	AutoStart       bool    `json:"auto_start" yaml:"auto_start"`
	LogLevel        string  `json:"log_level" yaml:"log_level"`
	LogPretty       bool    `json:"log_pretty" yaml:"log_pretty"`
	PreviewMaxWidth int     `json:"preview_max_width" yaml:"preview_max_width"`
}

// Defaults returns the configuration written on first run.
func Defaults() *Config {
	return &Config{
		APIPort:         12665,
		CapturePort:     12666,
		ScaleFactor:     1.0,
		AutoStart:       false,
		LogLevel:        "info",
		LogPretty:       true,
		PreviewMaxWidth: 480,
	}
}

// Validate checks every field. Port 0 is accepted for capture_port and means
// any free port.
func (c *Config) Validate() error {
	if c.APIPort < 1 || c.APIPort > 65535 {
		return fmt.Errorf("%w: api_port %d out of range", ErrInvalid, c.APIPort)
	}
	if c.CapturePort < 0 || c.CapturePort > 65535 {
		return fmt.Errorf("%w: capture_port %d out of range", ErrInvalid, c.CapturePort)
	}
	if c.APIPort == c.CapturePort {
		return fmt.Errorf("%w: api_port and capture_port are both %d", ErrInvalid, c.APIPort)
	}
	if _, _, err := capture.ScaleDimensions(0, 0, c.ScaleFactor); err != nil {
		return fmt.Errorf("%w: scale_factor must be in (0, %v], got %v", ErrInvalid, capture.MaxScale, c.ScaleFactor)
	}
	if _, ok := logger.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: log_level %q (use: %s)", ErrInvalid, c.LogLevel, strings.Join(logger.Levels, ", "))
	}
	if c.PreviewMaxWidth < 0 {
		return fmt.Errorf("%w: preview_max_width must not be negative", ErrInvalid)
	}
	return nil
}

// setters maps each key to a parser that applies a raw string to a Config.
var setters = map[string]func(c *Config, raw string) error{
	"api_port": func(c *Config, raw string) error {
		return parseInt(raw, &c.APIPort)
	},
	"capture_port": func(c *Config, raw string) error {
		return parseInt(raw, &c.CapturePort)
	},
	"scale_factor": func(c *Config, raw string) error {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid number %q", ErrInvalid, raw)
		}
		c.ScaleFactor = v
		return nil
	},
	"window_title": func(c *Config, raw string) error {
		c.WindowTitle = raw
		return nil
	},
	"auto_start": func(c *Config, raw string) error {
		return parseBool(raw, &c.AutoStart)
	},
	"log_level": func(c *Config, raw string) error {
		c.LogLevel = strings.ToLower(raw)
		return nil
	},
	"log_pretty": func(c *Config, raw string) error {
		return parseBool(raw, &c.LogPretty)
	},
	"preview_max_width": func(c *Config, raw string) error {
		return parseInt(raw, &c.PreviewMaxWidth)
	},
}

func parseInt(raw string, dst *int) error {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: invalid number %q", ErrInvalid, raw)
	}
	*dst = v
	return nil
}

func parseBool(raw string, dst *bool) error {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: invalid boolean %q (use: true or false)", ErrInvalid, raw)
	}
	*dst = v
	return nil
}

// Keys lists the settable configuration keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultPath returns $HOME/.config/comfycap/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "comfycap", "config.yaml"), nil
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewManager loads configFile, or the default path when empty. A missing
// file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Int("capture_port", m.config.CapturePort).
		Msg("Config loaded")

	return m, nil
}

// load reads the configuration from disk. Keys missing from the file keep
// their default values.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	cfg := m.Get()

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update validates and persists cfg
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c := *cfg
	m.mu.Lock()
	m.config = &c
	m.mu.Unlock()
	return m.Save()
}

// Set parses raw for key, validates the result and persists it.
func (m *Manager) Set(key, raw string) error {
	apply, ok := setters[key]
	if !ok {
		return fmt.Errorf("%w: %s (known: %s)", ErrUnknownKey, key, strings.Join(Keys(), ", "))
	}
	cfg := m.Get()
	if err := apply(cfg, raw); err != nil {
		return err
	}
	return m.Update(cfg)
}

// SetCapturePort sets the capture listener port
func (m *Manager) SetCapturePort(port int) error {
	cfg := m.Get()
	cfg.CapturePort = port
	return m.Update(cfg)
}

// GetViper returns a viper instance loaded with the current configuration,
// for generic key lookups.
func (m *Manager) GetViper() (*viper.Viper, error) {
	data, err := yaml.Marshal(m.Get())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to load config into viper: %w", err)
	}
	return v, nil
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
