// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

const envPrefix = "EVIDENCE_ENGINE"

// Keys omitted from the default tree because they are empty, registered so
// they can still be set from the environment.
var secretKeys = []string{
	"generation.api_key",
	"embedding.api_key",
	"retrieval.api_key",
	"retrieval.email",
	"cache.dir",
}

// newViper returns a viper instance reading cfgFile, or the default
// locations when cfgFile is empty, with every config key bound to the
// EVIDENCE_ENGINE_ environment namespace.
func newViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("evidence-engine")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "evidence-engine"))
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults, err := defaultSettings()
	if err != nil {
		return nil, err
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for _, k := range secretKeys {
		if _, ok := defaults[k]; !ok {
			v.SetDefault(k, "")
		}
	}
	return v, nil
}

// loadConfig resolves the engine configuration. It returns the config file
// used, or "" when none was found.
func loadConfig(cfgFile string) (types.Config, string, error) {
	v, err := newViper(cfgFile)
	if err != nil {
		return types.Config{}, "", err
	}

	used := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return types.Config{}, "", fmt.Errorf("reading config: %w", err)
		}
	} else {
		used = v.ConfigFileUsed()
	}

	cfg := types.DefaultConfig()
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		return types.Config{}, "", fmt.Errorf("decoding config: %w", err)
	}
	return cfg, used, nil
}

// defaultSettings flattens types.DefaultConfig into dotted viper keys.
func defaultSettings() (map[string]any, error) {
	data, err := yaml.Marshal(types.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("encoding default config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decoding default config: %w", err)
	}
	out := make(map[string]any)
	flatten("", tree, out)
	return out, nil
}

func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if m, ok := v.(map[string]any); ok {
			flatten(key, m, out)
			continue
		}
		out[key] = v
	}
}

// loadRubric overlays the rubric fields present in a YAML file onto r.
func loadRubric(path string, r *types.RubricConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading rubric %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, r); err != nil {
		return fmt.Errorf("parsing rubric %s: %w", path, err)
	}
	return nil
}
