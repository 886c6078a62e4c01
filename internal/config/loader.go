package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config file locations.
const (
	// GlobalConfigDir is the directory under $XDG_CONFIG_HOME (or ~/.config).
	GlobalConfigDir = "coachrun"
	// GlobalConfigFile is the global config file name.
	GlobalConfigFile = "config.yaml"
	// ProjectConfigDir is the project-local config directory.
	ProjectConfigDir = ".coachrun"
	// ProjectConfigFile is the project-local config file name.
	ProjectConfigFile = "config.yaml"
)

// EnvPrefix prefixes environment overrides, e.g. COACHRUN_AGENT_ENDPOINT.
const EnvPrefix = "COACHRUN"

// BindEnv makes v read COACHRUN_* variables, mapping nested keys and
// dashes to underscores.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

// configSource is one YAML file layered onto the defaults.
type configSource struct {
	name     string
	path     string
	required bool
}

// sources lists config files in merge order: global, project, then the
// explicit --config file (or COACHRUN_CONFIG), which must exist.
func sources(v *viper.Viper) []configSource {
	list := []configSource{
		{name: "global", path: globalConfigPath()},
		{name: "project", path: projectConfigPath()},
	}
	if explicit := v.GetString("config"); explicit != "" {
		list = append(list, configSource{name: "explicit", path: explicit, required: true})
	}
	return list
}

// LoadConfig builds the configuration. Later layers override earlier ones:
//  1. Default() values
//  2. ~/.config/coachrun/config.yaml (global)
//  3. .coachrun/config.yaml (project)
//  4. explicit --config file
//  5. Environment variables (COACHRUN_*)
//  6. CLI flags (applied by the caller)
//
// Missing optional files are skipped. The result is validated.
func LoadConfig(v *viper.Viper) (*Config, error) {
	cfg := Default()

	defaults, err := toSettings(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	if err := v.MergeConfigMap(defaults); err != nil {
		return nil, fmt.Errorf("merge defaults: %w", err)
	}

	for _, src := range sources(v) {
		if src.path == "" {
			continue
		}
		if err := mergeFile(v, src); err != nil {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg, decodeHooks()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// mergeFile reads one YAML file into a scratch viper and merges its
// settings into v.
func mergeFile(v *viper.Viper, src configSource) error {
	data, err := os.ReadFile(src.path)
	if err != nil {
		if os.IsNotExist(err) && !src.required {
			return nil
		}
		if src.required {
			return fmt.Errorf("config file: %w", err)
		}
		return fmt.Errorf("read %s config: %w", src.name, err)
	}

	file := viper.New()
	file.SetConfigType("yaml")
	if err := file.ReadConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("read %s: %w", src.path, err)
	}
	return v.MergeConfigMap(file.AllSettings())
}

// globalConfigPath returns the global config file path if it exists.
func globalConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return existing(filepath.Join(dir, GlobalConfigDir, GlobalConfigFile))
}

// projectConfigPath returns the project config file path if it exists.
func projectConfigPath() string {
	return existing(filepath.Join(ProjectConfigDir, ProjectConfigFile))
}

func existing(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// decodeHooks parses durations and comma separated lists from strings,
// which is how env vars and YAML carry them.
func decodeHooks() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

// toSettings flattens cfg into the nested map viper merges. Durations are
// written as strings so they round-trip through decodeHooks.
func toSettings(cfg *Config) (map[string]any, error) {
	settings := make(map[string]any)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "mapstructure",
		Result:     &settings,
		DecodeHook: durationString,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(cfg); err != nil {
		return nil, err
	}
	return settings, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func durationString(from, _ reflect.Type, data any) (any, error) {
	if from != durationType {
		return data, nil
	}
	return data.(time.Duration).String(), nil
}
