package config

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/goccy/go-yaml"
)

// Loader loads and validates Config from a YAML file, expanding
// ${VAR}/${VAR:-default} environment references and ${scheme:ref} secret
// references before unmarshalling.
type Loader struct {
	Secrets *SecretRegistry
}

// NewLoader returns a Loader with the built-in env and file secret providers
// registered.
func NewLoader() *Loader {
	reg := NewSecretRegistry()
	reg.Register(&EnvProvider{})
	reg.Register(&FileProvider{})
	return &Loader{Secrets: reg}
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:-default} references in raw config
// bytes, leaving ${scheme:ref} secret references (handled later, post-parse)
// untouched.
func expandEnv(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		sub := envVarPattern.FindSubmatch(match)
		name := string(sub[1])
		if val, ok := os.LookupEnv(name); ok {
			return []byte(val)
		}
		if len(sub[2]) > 0 {
			return sub[3]
		}
		return match
	})
}

// Load reads, expands, parses, resolves secrets in, and validates the
// configuration at path.
func (l *Loader) Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}

	cfg := DefaultConfig()
	expanded := expandEnv(raw)
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := resolveSecretRefs(cfg, l.Secrets, context.Background()); err != nil {
		return nil, fmt.Errorf("resolving secrets in %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}
