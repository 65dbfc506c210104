// Package config loads the gateway configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"meshgate/pkg/models"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListen          = ":8080"
	DefaultHealthInterval  = 30 * time.Second
	DefaultHealthTimeout   = 5 * time.Second
	DefaultRetryBackoff    = 5 * time.Second
	DefaultProxyTimeout    = 30 * time.Second
	DefaultProxyRetryMin   = 100 * time.Millisecond
	DefaultProxyRetryMax   = 2 * time.Second
	DefaultCORSMaxAge      = 86400
	DefaultShutdownTimeout = 10 * time.Second
)

var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrEmptyPath is returned by Load for an empty path.
	ErrEmptyPath = errors.New("config file path is empty")
)

// Config is the full gateway configuration.
type Config struct {
	Listen   string          `yaml:"listen"`
	Debug    bool            `yaml:"debug"`
	LogLevel string          `yaml:"log_level"`
	LogJSON  bool            `yaml:"log_json"`
	Database string          `yaml:"database"`
	Shutdown Duration        `yaml:"shutdown_timeout"`
	Health   HealthConfig    `yaml:"health"`
	Proxy    ProxyConfig     `yaml:"proxy"`
	CORS     CORSConfig      `yaml:"cors"`
	Services []ServiceConfig `yaml:"services"`
}

// HealthConfig tunes the background health check loop.
type HealthConfig struct {
	Interval     Duration `yaml:"interval"`
	Timeout      Duration `yaml:"timeout"`
	RetryBackoff Duration `yaml:"retry_backoff"`
}

// ProxyConfig tunes outbound forwarding. Retries apply to transport failures only.
type ProxyConfig struct {
	Timeout      Duration `yaml:"timeout"`
	Retries      int      `yaml:"retries"`
	RetryWaitMin Duration `yaml:"retry_wait_min"`
	RetryWaitMax Duration `yaml:"retry_wait_max"`
}

// CORSConfig mirrors the browser-facing CORS policy. An empty AllowOriginRegex
// allows every origin.
type CORSConfig struct {
	AllowOriginRegex string   `yaml:"allow_origin_regex"`
	AllowMethods     []string `yaml:"allow_methods"`
	AllowHeaders     []string `yaml:"allow_headers"`
	ExposeHeaders    []string `yaml:"expose_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

// ServiceConfig is a service registered at startup.
type ServiceConfig struct {
	Name           string            `yaml:"name"`
	BaseURL        string            `yaml:"base_url"`
	HealthCheckURL string            `yaml:"health_check_url"`
	Metadata       map[string]string `yaml:"metadata"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:   DefaultListen,
		LogLevel: "info",
		Shutdown: Duration(DefaultShutdownTimeout),
		Health: HealthConfig{
			Interval:     Duration(DefaultHealthInterval),
			Timeout:      Duration(DefaultHealthTimeout),
			RetryBackoff: Duration(DefaultRetryBackoff),
		},
		Proxy: ProxyConfig{
			Timeout:      Duration(DefaultProxyTimeout),
			RetryWaitMin: Duration(DefaultProxyRetryMin),
			RetryWaitMax: Duration(DefaultProxyRetryMax),
		},
		CORS: CORSConfig{
			AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH", "HEAD"},
			AllowHeaders: []string{"Accept", "Accept-Language", "Content-Language", "Content-Type", "Authorization", "X-Requested-With", "Origin"},
			MaxAge:       DefaultCORSMaxAge,
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges, the CORS regex and the seed services.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: listen address is empty", ErrInvalidConfig)
	}
	if c.Health.Interval <= 0 || c.Health.Timeout <= 0 || c.Health.RetryBackoff <= 0 {
		return fmt.Errorf("%w: health durations must be positive", ErrInvalidConfig)
	}
	if c.Health.Timeout >= c.Health.Interval {
		return fmt.Errorf("%w: health timeout %s must be below interval %s",
			ErrInvalidConfig, c.Health.Timeout.Duration(), c.Health.Interval.Duration())
	}
	if c.Proxy.Timeout <= 0 {
		return fmt.Errorf("%w: proxy timeout must be positive", ErrInvalidConfig)
	}
	if c.Proxy.Retries < 0 {
		return fmt.Errorf("%w: proxy retries must not be negative", ErrInvalidConfig)
	}
	if c.CORS.MaxAge < 0 {
		return fmt.Errorf("%w: cors max_age must not be negative", ErrInvalidConfig)
	}
	if c.CORS.AllowOriginRegex != "" {
		if _, err := regexp.Compile(c.CORS.AllowOriginRegex); err != nil {
			return fmt.Errorf("%w: cors allow_origin_regex: %w", ErrInvalidConfig, err)
		}
	}

	seen := make(map[string]struct{}, len(c.Services))
	for i, svc := range c.Services {
		rec := svc.Record()
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("%w: services[%d]: %w", ErrInvalidConfig, i, err)
		}
		if _, dup := seen[rec.Name]; dup {
			return fmt.Errorf("%w: services[%d]: duplicate name %q", ErrInvalidConfig, i, rec.Name)
		}
		seen[rec.Name] = struct{}{}
	}
	return nil
}

// Record converts a seed entry into a normalized service record.
func (s ServiceConfig) Record() models.ServiceRecord {
	rec := models.ServiceRecord{
		Name:           s.Name,
		BaseURL:        s.BaseURL,
		HealthCheckURL: s.HealthCheckURL,
		Metadata:       s.Metadata,
	}
	rec.Normalize()
	return rec
}
