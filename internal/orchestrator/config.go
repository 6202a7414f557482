package orchestrator

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ErrInvalidConfig is returned when a stored runtime config file fails to
// parse as TOML.
var ErrInvalidConfig = errors.New("invalid runtime config")

// HTTPAccessConfig is the "http access" substructure: a map of username to
// password protecting a published container with Basic auth.
type HTTPAccessConfig struct {
	Access map[string]string `toml:"access"`
}

// RuntimeConfig is the per manifest-reference record the orchestrator
// keeps under its configs/ tree.
type RuntimeConfig struct {
	HTTP HTTPAccessConfig `toml:"http"`
}

// LoadConfig reads and parses the runtime config for a manifest reference.
// An absent file yields a default-valued config, not an error.
func (o *Orchestrator) LoadConfig(repository, image, reference string) (RuntimeConfig, error) {
	path := o.runtime.Config(repository, image, trimReference(reference))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RuntimeConfig{}, nil
		}
		return RuntimeConfig{}, fmt.Errorf("read runtime config: %w", err)
	}
	var cfg RuntimeConfig
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return RuntimeConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// SaveConfig serializes cfg as pretty TOML, writes it (creating parent
// directories as needed), and reads it back to verify the write. Writes
// are not crash-atomic (documented limitation, spec.md §4.D).
func (o *Orchestrator) SaveConfig(repository, image, reference string, cfg RuntimeConfig) (RuntimeConfig, error) {
	path := o.runtime.Config(repository, image, trimReference(reference))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return RuntimeConfig{}, fmt.Errorf("create config directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return RuntimeConfig{}, fmt.Errorf("encode runtime config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return RuntimeConfig{}, fmt.Errorf("write runtime config: %w", err)
	}

	return o.LoadConfig(repository, image, reference)
}

func trimReference(reference string) string {
	if len(reference) > 0 && reference[0] == ':' {
		return reference[1:]
	}
	return reference
}
