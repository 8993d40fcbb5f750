package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	DefaultCheckInterval   = 3
	DefaultRetryTimes      = 2
	DefaultRetryDelay      = 1
	DefaultInactiveTimeout = 1800
	DefaultDedupWindow     = 512
	DefaultDedupHorizon    = 600
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 5001
	DefaultRulesFile       = "config/rules.yaml"
)

type Config struct {
	Driver    DriverConfig    `yaml:"driver"`
	Poller    PollerConfig    `yaml:"poller"`
	Message   MessageConfig   `yaml:"message"`
	Session   SessionConfig   `yaml:"session"`
	Dedup     DedupConfig     `yaml:"dedup"`
	AutoReply AutoReplyConfig `yaml:"autoReply"`
	Server    ServerConfig    `yaml:"server"`
}

type DriverConfig struct {
	Type     string         `yaml:"type"` // "telegram" (default)
	Telegram TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Token     string   `yaml:"token"`
	Proxy     string   `yaml:"proxy,omitempty"`
	AllowFrom []string `yaml:"allowFrom,omitempty"`
}

type PollerConfig struct {
	CheckInterval int `yaml:"checkInterval"` // seconds between fetch ticks
}

type MessageConfig struct {
	RetryTimes int `yaml:"retryTimes"` // additional attempts after the first
	RetryDelay int `yaml:"retryDelay"` // seconds between attempts, fixed
}

type SessionConfig struct {
	InactiveTimeout int `yaml:"inactiveTimeout"` // seconds without activity before Inactive
}

type DedupConfig struct {
	Window  int `yaml:"window"`  // max fingerprints retained per contact
	Horizon int `yaml:"horizon"` // seconds a fingerprint stays recognizable
}

type AutoReplyConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RulesFile string `yaml:"rulesFile"`
	MatchCase bool   `yaml:"matchCase"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func DefaultConfig() *Config {
	return &Config{
		Driver: DriverConfig{Type: "telegram"},
		Poller: PollerConfig{CheckInterval: DefaultCheckInterval},
		Message: MessageConfig{
			RetryTimes: DefaultRetryTimes,
			RetryDelay: DefaultRetryDelay,
		},
		Session: SessionConfig{InactiveTimeout: DefaultInactiveTimeout},
		Dedup: DedupConfig{
			Window:  DefaultDedupWindow,
			Horizon: DefaultDedupHorizon,
		},
		AutoReply: AutoReplyConfig{
			Enabled:   true,
			RulesFile: DefaultRulesFile,
			MatchCase: true,
		},
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".shopclerk")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LoadConfig reads the YAML config at path (ConfigPath() when path is empty),
// applies environment overrides and validates ranges. A missing file yields
// the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if token := os.Getenv("SHOPCLERK_TELEGRAM_TOKEN"); token != "" {
		cfg.Driver.Telegram.Token = token
	}
	if proxy := os.Getenv("SHOPCLERK_TELEGRAM_PROXY"); proxy != "" {
		cfg.Driver.Telegram.Proxy = proxy
	}
	if interval := os.Getenv("SHOPCLERK_CHECK_INTERVAL"); interval != "" {
		if parsed, err := strconv.Atoi(interval); err == nil {
			cfg.Poller.CheckInterval = parsed
		}
	}
	if enabled := os.Getenv("SHOPCLERK_AUTOREPLY_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.AutoReply.Enabled = parsed
		}
	}
	if rulesFile := os.Getenv("SHOPCLERK_RULES_FILE"); rulesFile != "" {
		cfg.AutoReply.RulesFile = rulesFile
	}
	if port := os.Getenv("SHOPCLERK_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = parsed
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that every tunable sits in its allowed range.
func (c *Config) Validate() error {
	if c.Poller.CheckInterval < 1 || c.Poller.CheckInterval > 60 {
		return fmt.Errorf("checkInterval %d out of range 1-60", c.Poller.CheckInterval)
	}
	if c.Message.RetryTimes < 0 || c.Message.RetryTimes > 5 {
		return fmt.Errorf("retryTimes %d out of range 0-5", c.Message.RetryTimes)
	}
	if c.Message.RetryDelay < 0 || c.Message.RetryDelay > 10 {
		return fmt.Errorf("retryDelay %d out of range 0-10", c.Message.RetryDelay)
	}
	if c.Session.InactiveTimeout < 60 || c.Session.InactiveTimeout > 7200 {
		return fmt.Errorf("inactiveTimeout %d out of range 60-7200", c.Session.InactiveTimeout)
	}
	if c.Dedup.Window < 1 {
		return fmt.Errorf("dedup window must be positive, got %d", c.Dedup.Window)
	}
	if c.Dedup.Horizon < 1 {
		return fmt.Errorf("dedup horizon must be positive, got %d", c.Dedup.Horizon)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	return nil
}

func SaveConfig(cfg *Config, path string) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}
