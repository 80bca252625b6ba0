// Package config provides configuration loading and management for imagingloader.
// Values are layered: built-in defaults, then a YAML file, then environment
// variables carrying the IMAGINGLOADER_ prefix.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"gopkg.in/yaml.v3"
)

// EnvPrefix marks environment variables that override file values.
// IMAGINGLOADER_CACHE_OUTPUTDIR maps to cache.outputDir.
const EnvPrefix = "IMAGINGLOADER_"

// Config represents the application configuration loaded from YAML
type Config struct {
	// Loader parameters
	Loader struct {
		// RootDirs are candidate roots a relative -input is resolved against
		RootDirs []string `yaml:"rootDirs" koanf:"rootDirs"`
	} `yaml:"loader" koanf:"loader"`

	// Cache parameters
	Cache struct {
		// Enabled toggles memoization of the summary
		Enabled bool `yaml:"enabled" koanf:"enabled"`

		// OutputDir holds the summary and its cache entry
		OutputDir string `yaml:"outputDir" koanf:"outputDir"`
	} `yaml:"cache" koanf:"cache"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose" koanf:"verbose"`

		// LogMode selects the logger encoding, "development" or "production"
		LogMode string `yaml:"logMode" koanf:"logMode"`

		// Previews writes JPEG slices of the summary images
		Previews bool `yaml:"previews" koanf:"previews"`

		// PreviewDir is the directory previews are written to
		PreviewDir string `yaml:"previewDir" koanf:"previewDir"`
	} `yaml:"output" koanf:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Loader.RootDirs = []string{}

	cfg.Cache.Enabled = true
	cfg.Cache.OutputDir = "imagingloader_output"

	cfg.Output.Verbose = false
	cfg.Output.LogMode = "development"
	cfg.Output.Previews = false
	cfg.Output.PreviewDir = "previews"

	return cfg
}

// LoadConfig loads configuration from a YAML file and the environment.
// A missing file is not an error; defaults and environment still apply.
func LoadConfig(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), kyaml.Parser()); err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue(k)), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	return cfg, nil
}

// envValue maps IMAGINGLOADER_SECTION_KEY onto the matching loaded key,
// ignoring case, and converts values of boolean keys with ValueToBool.
// Unknown variables are dropped.
func envValue(k *koanf.Koanf) func(string, string) (string, interface{}) {
	return func(name, value string) (string, interface{}) {
		key := strings.ReplaceAll(strings.TrimPrefix(name, EnvPrefix), "_", ".")
		for _, known := range k.Keys() {
			if !strings.EqualFold(known, key) {
				continue
			}
			switch k.Get(known).(type) {
			case bool:
				return known, ValueToBool(value)
			case []string, []interface{}:
				return known, strings.Split(value, ",")
			}
			return known, value
		}
		return "", nil
	}
}

// ValueToBool interprets y, yes, t, true, on and 1 as true, ignoring case.
// Anything else is false.
func ValueToBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "y", "yes", "t", "true", "on", "1":
		return true
	}
	return false
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
