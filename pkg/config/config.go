// Package config loads the isoview server configuration from YAML.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full server configuration.
type Config struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`

	// Page is the viewer page served at / and watched for edits.
	Page string `yaml:"page"`
	// Logic is the processing-logic script.
	Logic string `yaml:"logic"`

	Models      ModelsConfig      `yaml:"models"`
	Initial     InitialConfig     `yaml:"initial"`
	Reconstruct ReconstructConfig `yaml:"reconstruct"`
	Watch       WatchConfig       `yaml:"watch"`
	Hub         HubConfig         `yaml:"hub"`
}

// ModelsConfig locates the mesh assets.
type ModelsConfig struct {
	Dir        string   `yaml:"dir"`
	Extensions []string `yaml:"extensions"`
}

// InitialConfig selects the mesh shown before any viewer asks for one. An
// empty File means the first asset in the model list.
type InitialConfig struct {
	File        string  `yaml:"file"`
	LevelScalar float64 `yaml:"level_scalar"`
}

// ReconstructConfig is the strategy in effect until the processing-logic
// script has been evaluated.
type ReconstructConfig struct {
	Resolution  int     `yaml:"resolution"`
	Expand      float64 `yaml:"expand"`
	FlipWinding bool    `yaml:"flip_winding"`
}

// WatchConfig tunes the change watcher.
type WatchConfig struct {
	Interval time.Duration `yaml:"interval"`
	Backoff  time.Duration `yaml:"backoff"`
	// FSNotify enables early wake-ups on filesystem events.
	FSNotify bool `yaml:"fsnotify"`
}

// HubConfig tunes the websocket notification hub.
type HubConfig struct {
	Buffer       int           `yaml:"buffer"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":8000",
		LogLevel: "info",
		Page:     "templates/viewer.html",
		Logic:    "pipeline.zy",
		Models: ModelsConfig{
			Dir:        "models",
			Extensions: []string{".obj"},
		},
		Reconstruct: ReconstructConfig{
			Resolution:  50,
			Expand:      1.5,
			FlipWinding: true,
		},
		Watch: WatchConfig{
			Interval: time.Second,
			Backoff:  5 * time.Second,
			FSNotify: true,
		},
		Hub: HubConfig{
			Buffer:       16,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// LoadConfig reads and parses a YAML config file. Returns DefaultConfig
// merged with the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.Page == "" {
		return fmt.Errorf("page is required")
	}
	if c.Logic == "" {
		return fmt.Errorf("logic is required")
	}
	if c.Models.Dir == "" {
		return fmt.Errorf("models.dir is required")
	}
	if len(c.Models.Extensions) == 0 {
		return fmt.Errorf("models.extensions must not be empty")
	}
	for i, ext := range c.Models.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("models.extensions[%d]: %q must start with a dot", i, ext)
		}
	}
	if c.Reconstruct.Resolution < 2 {
		return fmt.Errorf("reconstruct.resolution must be >= 2")
	}
	if c.Reconstruct.Expand <= 0 {
		return fmt.Errorf("reconstruct.expand must be > 0")
	}
	if c.Watch.Interval <= 0 {
		return fmt.Errorf("watch.interval must be > 0")
	}
	if c.Watch.Backoff < 0 {
		return fmt.Errorf("watch.backoff must be >= 0")
	}
	if c.Hub.Buffer <= 0 {
		return fmt.Errorf("hub.buffer must be > 0")
	}
	return nil
}

// SlogLevel parses LogLevel (debug, info, warn, error).
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}
