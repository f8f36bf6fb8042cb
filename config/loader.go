package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FromFile loads configuration from a file, auto-detecting format by extension.
// Supported extensions: .yaml, .yml, .json
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON parses JSON data into a Config.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}

// WithEnv returns a copy of c overlaid with environment variables starting
// with prefix+"_". The rest of the name is lowercased, and its first
// underscore becomes the section separator: PREFIX_REGISTRY_WAIT_SLOTS sets
// "registry.wait_slots".
func (c Config) WithEnv(prefix string) Config {
	env := make(map[string]string, len(c.env))
	for k, v := range c.env {
		env[k] = v
	}
	p := strings.ToUpper(prefix) + "_"
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, p) {
			continue
		}
		rest := strings.ToLower(strings.TrimPrefix(name, p))
		section, key, ok := strings.Cut(rest, "_")
		if !ok || section == "" || key == "" {
			env[rest] = value
			continue
		}
		env[section+"."+key] = value
	}
	return Config{data: c.data, env: env}
}
