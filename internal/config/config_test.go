package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasterKey_LockedByDefault(t *testing.T) {
	k := NewMasterKey("")
	assert.True(t, k.Locked())
	assert.False(t, k.Authenticate("anything"))
	_, ok := k.Secret()
	assert.False(t, ok)
}

func TestMasterKey_AuthenticatesConfiguredSecret(t *testing.T) {
	k := NewMasterKey("s3cr3t")
	assert.False(t, k.Locked())
	assert.True(t, k.Authenticate("s3cr3t"))
	assert.False(t, k.Authenticate("wrong"))
}

func TestLoad_DefaultsWhenNoPathGiven(t *testing.T) {
	t.Setenv("PODMAN_IS_REMOTE", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:3000", cfg.ReverseProxy.HTTPBind)
	assert.Equal(t, "./rockslide-storage", cfg.Registry.StoragePath)
	assert.Equal(t, "podman", cfg.Containers.PodmanPath)
	assert.Equal(t, "rockslide=info", cfg.Rockslide.Log)
	assert.True(t, cfg.MasterKey().Locked())
}

func TestLoad_RemoteEnvChangesDefaultBind(t *testing.T) {
	t.Setenv("PODMAN_IS_REMOTE", "true")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:3000", cfg.ReverseProxy.HTTPBind)
	assert.True(t, cfg.PodmanRemote)
}

func TestLoad_TOMLOverridesDefaults(t *testing.T) {
	t.Setenv("PODMAN_IS_REMOTE", "")
	path := filepath.Join(t.TempDir(), "rockslide.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[rockslide]
master_key = "hunter2"

[reverse_proxy]
http_bind = "127.0.0.1:9999"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.ReverseProxy.HTTPBind)
	assert.False(t, cfg.MasterKey().Locked())
	assert.True(t, cfg.MasterKey().Authenticate("hunter2"))
}
