// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys and credentials from a directory of plain-text files
// and from an optional .env file. Each file in the directory represents one secret: the
// filename is the key name and the file contents (trimmed) are the value.
//
// Supported keys: anthropic-api-key, gemini-api-key, ncbi-api-key, ncbi-email.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Key names understood by Apply.
const (
	AnthropicAPIKey = "anthropic-api-key"
	GeminiAPIKey    = "gemini-api-key"
	NCBIAPIKey      = "ncbi-api-key"
	NCBIEmail       = "ncbi-email"
)

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files produce a warning on stderr but do not abort.
func Load(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not read secret %s: %v\n", name, err)
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// LoadEnv reads a dotenv file and returns its entries under secret key names:
// NCBI_API_KEY becomes ncbi-api-key. A missing file yields an empty map.
func LoadEnv(path string) (map[string]string, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading env file %s: %w", path, err)
	}

	secrets := make(map[string]string, len(env))
	for k, v := range env {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		secrets[strings.ReplaceAll(strings.ToLower(k), "_", "-")] = v
	}
	return secrets, nil
}

// Merge combines secret maps; earlier maps win.
func Merge(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for i := len(maps) - 1; i >= 0; i-- {
		for k, v := range maps[i] {
			out[k] = v
		}
	}
	return out
}

// Apply copies secrets into cfg wherever the corresponding field is empty.
// Explicit configuration always takes precedence.
func Apply(cfg *types.Config, s map[string]string) {
	genKey := AnthropicAPIKey
	switch cfg.Generation.Provider {
	case "genai", "gemini":
		genKey = GeminiAPIKey
	}
	setIfEmpty(&cfg.Generation.APIKey, s[genKey])
	setIfEmpty(&cfg.Embedding.APIKey, s[GeminiAPIKey])
	setIfEmpty(&cfg.Retrieval.APIKey, s[NCBIAPIKey])
	setIfEmpty(&cfg.Retrieval.Email, s[NCBIEmail])
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
