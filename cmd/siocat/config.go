package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ramory-l/sioclient/engine"
	"github.com/rs/zerolog"
)

type fileConfig struct {
	URL               string  `toml:"url"`
	LogLevel          string  `toml:"log_level"`
	MetricsAddr       string  `toml:"metrics_addr"`
	HandshakePath     string  `toml:"handshake_path"`
	OpenRetryInterval string  `toml:"open_retry_interval"`
	OpenAttempts      int     `toml:"open_attempts"`
	BackoffInitial    string  `toml:"backoff_initial"`
	BackoffMax        string  `toml:"backoff_max"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	WriteTimeout      string  `toml:"write_timeout"`
	ReadLimit         int64   `toml:"read_limit"`
}

type cliConfig struct {
	URL         string
	LogLevel    zerolog.Level
	MetricsAddr string
	Engine      *engine.Config
}

func defaultCLIConfig() cliConfig {
	return cliConfig{
		LogLevel: zerolog.InfoLevel,
		Engine:   engine.DefaultConfig(),
	}
}

func loadConfig(path string) (cliConfig, error) {
	cfg := defaultCLIConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return cliConfig{}, fmt.Errorf("load siocat config: %w", err)
	}

	if meta.IsDefined("url") {
		cfg.URL = strings.TrimSpace(raw.URL)
	}

	if meta.IsDefined("log_level") {
		level, err := zerolog.ParseLevel(strings.TrimSpace(raw.LogLevel))
		if err != nil {
			return cliConfig{}, fmt.Errorf("parse log_level: %w", err)
		}
		cfg.LogLevel = level
	}

	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	if meta.IsDefined("handshake_path") {
		path := strings.TrimSpace(raw.HandshakePath)
		if path != "" {
			cfg.Engine.HandshakePath = "/" + strings.Trim(path, "/")
		}
	}

	if meta.IsDefined("open_retry_interval") {
		d, err := parseDuration("open_retry_interval", raw.OpenRetryInterval)
		if err != nil {
			return cliConfig{}, err
		}
		cfg.Engine.OpenRetryInterval = d
	}

	if meta.IsDefined("open_attempts") {
		if raw.OpenAttempts < 0 {
			return cliConfig{}, fmt.Errorf("open_attempts must not be negative: %d", raw.OpenAttempts)
		}
		cfg.Engine.OpenAttempts = raw.OpenAttempts
	}

	if meta.IsDefined("backoff_initial") {
		d, err := parseDuration("backoff_initial", raw.BackoffInitial)
		if err != nil {
			return cliConfig{}, err
		}
		cfg.Engine.Backoff.InitialDelay = d
	}

	if meta.IsDefined("backoff_max") {
		d, err := parseDuration("backoff_max", raw.BackoffMax)
		if err != nil {
			return cliConfig{}, err
		}
		cfg.Engine.Backoff.MaxDelay = d
	}

	if meta.IsDefined("backoff_multiplier") {
		if raw.BackoffMultiplier < 1 {
			return cliConfig{}, fmt.Errorf("backoff_multiplier must be at least 1: %v", raw.BackoffMultiplier)
		}
		cfg.Engine.Backoff.Multiplier = raw.BackoffMultiplier
	}

	if meta.IsDefined("write_timeout") {
		d, err := parseDuration("write_timeout", raw.WriteTimeout)
		if err != nil {
			return cliConfig{}, err
		}
		cfg.Engine.WriteTimeout = d
	}

	if meta.IsDefined("read_limit") {
		cfg.Engine.ReadLimit = raw.ReadLimit
	}

	return cfg, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative: %v", key, d)
	}
	return d, nil
}
