package ratiometer

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level annotator configuration.
type Config struct {
	Browser     BrowserConfig     `yaml:"browser"`
	Page        PageConfig        `yaml:"page"`
	Store       StoreConfig       `yaml:"store"`
	API         APIConfig         `yaml:"api"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote  string `yaml:"remote"`  // WebSocket URL of external Chrome; empty = launch
	Headful bool   `yaml:"headful"` // disable headless (debugging)
}

// PageConfig defines the page to annotate.
type PageConfig struct {
	URL        string        `yaml:"url"`
	NavTimeout time.Duration `yaml:"nav_timeout"`
}

// StoreConfig locates the persistent KV database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// APIConfig controls the votes API client and its rate limiting.
type APIConfig struct {
	BaseURL  string        `yaml:"base_url"`
	MinDelay time.Duration `yaml:"min_delay"`
	Cooldown time.Duration `yaml:"cooldown"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DiagnosticsConfig controls the local diagnostics HTTP listener.
// Empty Addr disables it.
type DiagnosticsConfig struct {
	Addr string `yaml:"addr"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values. Safe to call on a hand-built Config.
func (c *Config) ApplyDefaults() {
	if c.Page.URL == "" {
		c.Page.URL = "https://www.youtube.com/"
	}
	if c.Page.NavTimeout <= 0 {
		c.Page.NavTimeout = 30 * time.Second
	}
	if c.Store.Path == "" {
		c.Store.Path = "ratiometer.db"
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = "https://returnyoutubedislikeapi.com"
	}
	if c.API.MinDelay <= 0 {
		c.API.MinDelay = 2 * time.Second
	}
	if c.API.Cooldown <= 0 {
		c.API.Cooldown = 60 * time.Second
	}
	if c.API.CacheTTL <= 0 {
		c.API.CacheTTL = 24 * time.Hour
	}
	if c.API.Timeout <= 0 {
		c.API.Timeout = 15 * time.Second
	}
}
