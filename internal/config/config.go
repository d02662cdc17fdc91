// Package config loads the comicscan YAML configuration and watches it for
// changes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "500ms" parse directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig configures the relay server.
type ServerConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	ClientOrigin string   `yaml:"client_origin"` // base URL baked into rendezvous QR codes
	SessionTTL   Duration `yaml:"session_ttl"`   // GC horizon for abandoned sessions
	RateRPM      int      `yaml:"rate_rpm"`      // per-IP upgrade rate limit, 0 disables
	RateBurst    int      `yaml:"rate_burst"`
}

// DecodeConfig configures the external barcode decode service client.
type DecodeConfig struct {
	URL           string   `yaml:"url"`
	ScanTimeout   Duration `yaml:"scan_timeout"`   // continuous loop submissions
	ManualTimeout Duration `yaml:"manual_timeout"` // single-shot submissions
}

// CaptureConfig configures the capture scheduler pacing.
type CaptureConfig struct {
	Interval Duration `yaml:"interval"` // frame submission tick
	Cooldown Duration `yaml:"cooldown"` // pause after a successful new scan
}

// CollectionConfig configures the local collection store.
type CollectionConfig struct {
	Path string `yaml:"path"` // sqlite database file
}

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Decode     DecodeConfig     `yaml:"decode"`
	Capture    CaptureConfig    `yaml:"capture"`
	Collection CollectionConfig `yaml:"collection"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8790,
			ClientOrigin: "http://localhost:8790",
			SessionTTL:   Duration(time.Hour),
			RateRPM:      120,
			RateBurst:    10,
		},
		Decode: DecodeConfig{
			URL:           "http://localhost:8000",
			ScanTimeout:   Duration(3 * time.Second),
			ManualTimeout: Duration(6 * time.Second),
		},
		Capture: CaptureConfig{
			Interval: Duration(500 * time.Millisecond),
			Cooldown: Duration(2500 * time.Millisecond),
		},
		Collection: CollectionConfig{
			Path: "comicscan.db",
		},
	}
}

// Load reads the config file at path, applying defaults for anything unset.
// A missing file is not an error: defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults backfills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.ClientOrigin == "" {
		c.Server.ClientOrigin = d.Server.ClientOrigin
	}
	if c.Server.SessionTTL <= 0 {
		c.Server.SessionTTL = d.Server.SessionTTL
	}
	if c.Server.RateBurst <= 0 {
		c.Server.RateBurst = d.Server.RateBurst
	}
	if c.Decode.URL == "" {
		c.Decode.URL = d.Decode.URL
	}
	if c.Decode.ScanTimeout <= 0 {
		c.Decode.ScanTimeout = d.Decode.ScanTimeout
	}
	if c.Decode.ManualTimeout <= 0 {
		c.Decode.ManualTimeout = d.Decode.ManualTimeout
	}
	if c.Capture.Interval <= 0 {
		c.Capture.Interval = d.Capture.Interval
	}
	if c.Capture.Cooldown <= 0 {
		c.Capture.Cooldown = d.Capture.Cooldown
	}
	if c.Collection.Path == "" {
		c.Collection.Path = d.Collection.Path
	}
}
