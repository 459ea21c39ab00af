package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// envProvider marks the environment layer. The loader reads the environment itself.
type envProvider struct{}

func NewEnvProvider() Source {
	return &envProvider{}
}

func (e *envProvider) Load() (map[string]any, error) { return map[string]any{}, nil }
func (e *envProvider) Type() SourceType              { return SourceEnv }
func (e *envProvider) Close() error                  { return nil }

// flagPaths maps CLI flag names to configuration paths.
var flagPaths = map[string]string{
	"log-level":          "runtime.log_level",
	"log-json":           "runtime.log_json",
	"log-source":         "runtime.log_source",
	"max-steps":          "engine.max_run_steps",
	"max-iterator-depth": "engine.max_iterator_depth",
	"lookahead":          "engine.default_lookahead",
	"halt-on-manual":     "engine.halt_on_manual",
	"timeout":            "engine.run_timeout",
	"expr-cost-limit":    "expr.cost_limit",
	"store-url":          "store.redis_url",
	"host":               "server.host",
	"port":               "server.port",
	"definitions":        "server.definitions",
	"metrics":            "monitoring.enabled",
}

// FlagPath returns the configuration path bound to a CLI flag.
func FlagPath(flag string) (string, bool) {
	path, ok := flagPaths[flag]
	return path, ok
}

// cliProvider applies explicitly set CLI flags.
type cliProvider struct {
	flags map[string]any
}

// NewCLIProvider creates a source from flag name to value pairs. Unknown flags
// are ignored.
func NewCLIProvider(flags map[string]any) Source {
	return &cliProvider{flags: flags}
}

func (c *cliProvider) Load() (map[string]any, error) {
	config := make(map[string]any)
	for key, value := range c.flags {
		path, ok := flagPaths[key]
		if !ok {
			continue
		}
		if err := setNested(config, path, value); err != nil {
			return nil, fmt.Errorf("failed to set CLI flag %s: %w", key, err)
		}
	}
	return config, nil
}

func (c *cliProvider) Type() SourceType { return SourceCLI }
func (c *cliProvider) Close() error     { return nil }

// setNested sets a value in a nested map using dot notation.
func setNested(m map[string]any, path string, value any) error {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	current := m
	for i := 0; i < len(parts)-1; i++ {
		part := parts[i]
		if _, exists := current[part]; !exists {
			current[part] = make(map[string]any)
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return fmt.Errorf("configuration conflict: key %q is not a map", strings.Join(parts[:i+1], "."))
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
	return nil
}

// yamlProvider reads a YAML configuration file. A missing file is empty.
type yamlProvider struct {
	path string
}

func NewYAMLProvider(path string) Source {
	return &yamlProvider{path: path}
}

func (y *yamlProvider) Load() (map[string]any, error) {
	data, err := os.ReadFile(y.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("failed to read YAML file: %w", err)
	}
	var config map[string]any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML file: %w", err)
	}
	return filterNilValues(config), nil
}

// filterNilValues drops nil values so they do not override lower layers.
func filterNilValues(m map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range m {
		if v == nil {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			if filtered := filterNilValues(nested); len(filtered) > 0 {
				result[k] = filtered
			}
			continue
		}
		result[k] = v
	}
	return result
}

func (y *yamlProvider) Type() SourceType { return SourceYAML }
func (y *yamlProvider) Close() error     { return nil }
