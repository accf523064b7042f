package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the qmm configuration file (~/.config/qmm/config.yaml).
// Numeric fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Device
	AICoreNum   *int64 `yaml:"ai_core_num"`
	MemoryLimit *int64 `yaml:"memory_limit"`

	// Launch
	BlockNum *int64 `yaml:"block_num"`
	Seed     *int64 `yaml:"seed"`

	// Server
	ServerAddress string   `yaml:"server_address"`
	LaunchRate    *float64 `yaml:"launch_rate"`
	LaunchBurst   *int64   `yaml:"launch_burst"`
	MaxRuns       *int64   `yaml:"max_runs"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "qmm", "config.yaml")
}

// LoadConfig reads the config file at path. A missing file yields a zero
// Config; unknown keys are an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// applyLoggingConfig applies config file defaults to the logging flags
// when the corresponding CLI flag was not explicitly set.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyDeviceConfig applies config file defaults to the device and launch
// flags.
func applyDeviceConfig(c *cli.Command, cfg Config) {
	if cfg.AICoreNum != nil && !c.IsSet("cores") {
		aiCoreNum = *cfg.AICoreNum
	}
	if cfg.MemoryLimit != nil && !c.IsSet("memory-limit") {
		memoryLimit = *cfg.MemoryLimit
	}
	if cfg.BlockNum != nil && !c.IsSet("block-num") {
		blockNum = *cfg.BlockNum
	}
}

// applySeedConfig applies the config file seed to a command's --seed flag.
func applySeedConfig(c *cli.Command, cfg Config, seed *int64) {
	if cfg.Seed != nil && !c.IsSet("seed") {
		*seed = *cfg.Seed
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, rate *float64, burst, maxRuns *int64) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.LaunchRate != nil && !c.IsSet("launch-rate") {
		*rate = *cfg.LaunchRate
	}
	if cfg.LaunchBurst != nil && !c.IsSet("launch-burst") {
		*burst = *cfg.LaunchBurst
	}
	if cfg.MaxRuns != nil && !c.IsSet("max-runs") {
		*maxRuns = *cfg.MaxRuns
	}
}
