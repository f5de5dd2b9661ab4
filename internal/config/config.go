package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/scienceol/barista/internal/power"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable, e.g. BARISTA_LISTEN.
const EnvPrefix = "BARISTA"

// DefaultListen is the loopback address of the control endpoint.
const DefaultListen = "127.0.0.1:7435"

// Preferences are the four sleep-prevention switches.
type Preferences struct {
	Display bool `yaml:"display"`
	Idle    bool `yaml:"idle"`
	Disk    bool `yaml:"disk"`
	AC      bool `yaml:"ac"`
}

// Options converts the switches to supervisor options.
func (p Preferences) Options() power.Options {
	return power.Options{
		PreventDisplaySleep:    p.Display,
		PreventSystemIdleSleep: p.Idle,
		PreventDiskIdleSleep:   p.Disk,
		KeepAwakeOnAC:          p.AC,
	}
}

type Config struct {
	// Enabled starts the helper as soon as barista runs.
	Enabled      bool          `yaml:"enabled"`
	Options      Preferences   `yaml:"options"`
	Binary       string        `yaml:"binary"`
	StartupGrace time.Duration `yaml:"startup_grace" split_words:"true"`
	StopTimeout  time.Duration `yaml:"stop_timeout" split_words:"true"`
	Listen       string        `yaml:"listen"`
	LogLevel     string        `yaml:"log_level" split_words:"true"`
	LogDev       bool          `yaml:"log_dev" split_words:"true"`
}

// Overrides carries command-line flags. Nil fields were not set by the user.
type Overrides struct {
	File     string
	Enabled  *bool
	Display  *bool
	Idle     *bool
	Disk     *bool
	AC       *bool
	Binary   *string
	Listen   *string
	LogLevel *string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StartupGrace: power.DefaultStartupGrace,
		StopTimeout:  power.DefaultStopTimeout,
		Listen:       DefaultListen,
		LogLevel:     "info",
	}
}

// Load resolves configuration from flags > env > config file > defaults.
func Load(ov Overrides) (*Config, error) {
	cfg := Default()

	// 1. Config file as base
	path := ov.File
	if path == "" {
		path = configFilePath()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// 2. Environment variables override config file
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	// 3. CLI flags override everything
	ov.apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.StartupGrace <= 0 {
		return errors.New("startup_grace must be positive")
	}
	if c.StopTimeout <= 0 {
		return errors.New("stop_timeout must be positive")
	}
	if c.Listen == "" {
		return errors.New("listen address is required (--listen, BARISTA_LISTEN, or config file)")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

func (ov Overrides) apply(cfg *Config) {
	setBool(&cfg.Enabled, ov.Enabled)
	setBool(&cfg.Options.Display, ov.Display)
	setBool(&cfg.Options.Idle, ov.Idle)
	setBool(&cfg.Options.Disk, ov.Disk)
	setBool(&cfg.Options.AC, ov.AC)
	setString(&cfg.Binary, ov.Binary)
	setString(&cfg.Listen, ov.Listen)
	setString(&cfg.LogLevel, ov.LogLevel)
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func configFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	p := filepath.Join(home, ".barista", "config.yaml")
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}
