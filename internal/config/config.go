// Package config loads rockslide's TOML configuration file and the small
// set of environment variables that influence startup, following the
// env-var/.env loading idiom the teacher project used in cmd/api/config.
package config

import (
	"crypto/subtle"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// MasterKey is either Locked (no secret configured, every authenticated
// request fails) or holds a secret compared in constant time.
type MasterKey struct {
	secret *string
}

// NewMasterKey builds a MasterKey from a possibly-empty configured secret.
// An empty string means Locked.
func NewMasterKey(secret string) MasterKey {
	if secret == "" {
		return MasterKey{}
	}
	return MasterKey{secret: &secret}
}

// Locked reports whether no secret is configured.
func (k MasterKey) Locked() bool { return k.secret == nil }

// Authenticate reports whether password matches the configured secret.
// Always false when Locked. Comparison is constant-time regardless of the
// username supplied alongside it (the master key authenticates by secret
// alone, per the registry's single shared credential model).
func (k MasterKey) Authenticate(password string) bool {
	if k.secret == nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(*k.secret)) == 1
}

// Secret returns the configured secret and true, or ("", false) if Locked.
// Used by the orchestrator to authenticate against the local registry.
func (k MasterKey) Secret() (string, bool) {
	if k.secret == nil {
		return "", false
	}
	return *k.secret, true
}

// RockslideConfig holds the top-level [rockslide] table.
type RockslideConfig struct {
	MasterKeySecret string `toml:"master_key"`
	Log             string `toml:"log"`
}

// RegistryConfig holds the [registry] table.
type RegistryConfig struct {
	StoragePath string `toml:"storage_path"`
}

// ContainerConfig holds the [containers] table.
type ContainerConfig struct {
	PodmanPath string `toml:"podman_path"`
}

// ReverseProxyConfig holds the [reverse_proxy] table.
type ReverseProxyConfig struct {
	HTTPBind string `toml:"http_bind"`
}

// Config is rockslide's full configuration.
type Config struct {
	Rockslide    RockslideConfig    `toml:"rockslide"`
	Registry     RegistryConfig     `toml:"registry"`
	Containers   ContainerConfig    `toml:"containers"`
	ReverseProxy ReverseProxyConfig `toml:"reverse_proxy"`

	// PodmanRemote is derived from PODMAN_IS_REMOTE, not the TOML file.
	PodmanRemote bool
}

// MasterKey returns the parsed master key.
func (c *Config) MasterKey() MasterKey { return NewMasterKey(c.Rockslide.MasterKeySecret) }

func defaults(remote bool) Config {
	bind := "127.0.0.1:3000"
	if remote {
		bind = "0.0.0.0:3000"
	}
	return Config{
		Rockslide:    RockslideConfig{Log: "rockslide=info"},
		Registry:     RegistryConfig{StoragePath: "./rockslide-storage"},
		Containers:   ContainerConfig{PodmanPath: "podman"},
		ReverseProxy: ReverseProxyConfig{HTTPBind: bind},
		PodmanRemote: remote,
	}
}

// Load reads environment variables from a .env file if present, then
// loads the TOML configuration at path (if path is non-empty) on top of
// the documented defaults. A missing path is not an error: defaults apply
// wholesale.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	remote := strings.EqualFold(os.Getenv("PODMAN_IS_REMOTE"), "true")
	cfg := defaults(remote)

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	cfg.PodmanRemote = remote

	return &cfg, nil
}
