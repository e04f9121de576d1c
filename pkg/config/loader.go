package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/taskpilot-ai/taskpilot/pkg/observer"
)

// configFileName is the single configuration file read from the config dir.
const configFileName = "taskpilot.yaml"

// taskpilotYAMLConfig represents the complete taskpilot.yaml file structure.
// Every section is optional; unset sections take built-in defaults.
type taskpilotYAMLConfig struct {
	Backend  *BackendConfig   `yaml:"backend"`
	Loop     *LoopConfig      `yaml:"loop"`
	Dual     *DualConfig      `yaml:"dual"`
	Journal  *JournalConfig   `yaml:"journal"`
	Server   *ServerConfig    `yaml:"server"`
	Observer *observer.Config `yaml:"observer"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read taskpilot.yaml from configDir (a missing file yields pure defaults)
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge user values over built-in defaults
//  5. Validate all configuration
//  6. Return Config ready for use
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"backend_driver", stats.Driver,
		"journal_dir", stats.JournalDir,
		"addr", stats.Addr,
		"observer_max_connections", stats.ObserverMaxConns,
		"dual_max_cycles", stats.DualCycles)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	var yamlCfg taskpilotYAMLConfig
	if err := loadYAML(configDir, configFileName, &yamlCfg); err != nil {
		return nil, NewLoadError(configFileName, err)
	}

	cfg := &Config{
		configDir: configDir,
		Backend:   DefaultBackendConfig(),
		Loop:      DefaultLoopConfig(),
		Dual:      DefaultDualConfig(),
		Journal:   DefaultJournalConfig(),
		Server:    DefaultServerConfig(),
		Observer:  &observer.Config{},
	}

	// Merge user-provided sections into the defaults; non-zero user values
	// override.
	sections := []struct {
		dst, src any
	}{
		{cfg.Backend, yamlCfg.Backend},
		{cfg.Loop, yamlCfg.Loop},
		{cfg.Dual, yamlCfg.Dual},
		{cfg.Journal, yamlCfg.Journal},
		{cfg.Server, yamlCfg.Server},
		{cfg.Observer, yamlCfg.Observer},
	}
	for _, s := range sections {
		if isNilSection(s.src) {
			continue
		}
		if err := mergo.Merge(s.dst, s.src, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config section: %w", err)
		}
	}

	// The observer carries its own zero-value defaults.
	withDefaults := cfg.Observer.WithDefaults()
	cfg.Observer = &withDefaults

	return cfg, nil
}

func isNilSection(src any) bool {
	switch v := src.(type) {
	case *BackendConfig:
		return v == nil
	case *LoopConfig:
		return v == nil
	case *DualConfig:
		return v == nil
	case *JournalConfig:
		return v == nil
	case *ServerConfig:
		return v == nil
	case *observer.Config:
		return v == nil
	default:
		return src == nil
	}
}

// loadYAML reads a config file, expands env vars, and parses it into target.
// A missing file is not an error: all sections then resolve to defaults.
func loadYAML(configDir, filename string, target any) error {
	path := filepath.Join(configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("No configuration file found, using defaults", "path", path)
			return nil
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing the YAML parser to fail with a clearer error message.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	return newValidator(cfg).validateAll()
}
