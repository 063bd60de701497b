// Package config loads the consowatch daemon configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/consowatch/internal/browser"
	"github.com/hazyhaar/consowatch/mutation"
	"github.com/hazyhaar/consowatch/reading"
	"github.com/hazyhaar/consowatch/sink"
	"github.com/hazyhaar/consowatch/syncconfig"
)

// Config is the top-level daemon configuration.
type Config struct {
	Browser BrowserConfig   `yaml:"browser"`
	Page    PageConfig      `yaml:"page"`
	Store   StoreConfig     `yaml:"store"`
	HTTP    HTTPConfig      `yaml:"http"`
	MQTT    sink.MQTTConfig `yaml:"mqtt"` // disabled when broker is empty
	Stdout  bool            `yaml:"stdout"`
	History HistoryConfig   `yaml:"history"`

	// Sync seeds the persisted sync record on first start. Later edits go
	// through PUT /api/config, not this file.
	Sync syncconfig.SyncConfig `yaml:"sync"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote         string   `yaml:"remote"`
	Bin            string   `yaml:"bin"`
	Display        string   `yaml:"display"`
	BlockResources []string `yaml:"block_resources"`
}

// PageConfig describes the dashboard page.
type PageConfig struct {
	URL       string            `yaml:"url"`
	Stealth   string            `yaml:"stealth"` // http | headless | headful
	Selectors reading.Selectors `yaml:"selectors"`
	Marker    string            `yaml:"marker"` // value-container class
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// HistoryConfig controls the per-device reading history.
type HistoryConfig struct {
	Disabled      bool          `yaml:"disabled"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Retention     time.Duration `yaml:"retention"` // 0 keeps everything
}

// HTTPConfig controls the command API listener.
type HTTPConfig struct {
	Listen   string `yaml:"listen"`
	Disabled bool   `yaml:"disabled"`
}

// Default returns a configuration with every default applied and no page.
func Default() *Config {
	cfg := &Config{Sync: syncconfig.Defaults()}
	cfg.applyDefaults()
	return cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML. Keys absent from data keep their defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Config{Sync: syncconfig.Defaults()}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Browser.Display == "" {
		c.Browser.Display = ":99"
	}
	if c.Page.Stealth == "" {
		c.Page.Stealth = "headless"
	}
	c.Page.Stealth = strings.ToLower(c.Page.Stealth)
	if c.Page.Selectors == (reading.Selectors{}) {
		c.Page.Selectors = reading.DefaultSelectors()
	}
	if c.Page.Marker == "" {
		c.Page.Marker = mutation.DefaultMarker
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/consowatch.db"
	}
	if c.History.FlushInterval <= 0 {
		c.History.FlushInterval = 5 * time.Second
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = "127.0.0.1:8086"
	}
	c.Sync = c.Sync.Normalize()
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	if _, err := c.StealthLevel(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("config: sync: %w", err)
	}
	return nil
}

// StealthLevel maps Page.Stealth to a browser level.
func (c *Config) StealthLevel() (browser.StealthLevel, error) {
	switch c.Page.Stealth {
	case "http", "0":
		return browser.LevelHTTP, nil
	case "headless", "1":
		return browser.LevelHeadless, nil
	case "headful", "2":
		return browser.LevelHeadful, nil
	}
	return 0, fmt.Errorf("config: unknown stealth %q", c.Page.Stealth)
}

// BrowserManagerConfig converts the browser section for browser.NewManager.
func (c *Config) BrowserManagerConfig() browser.Config {
	return browser.Config{
		RemoteURL:      c.Browser.Remote,
		Bin:            c.Browser.Bin,
		Display:        c.Browser.Display,
		BlockResources: c.Browser.BlockResources,
	}
}
