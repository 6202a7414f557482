package orchestrator

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/rockslide/rockslide/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o := New(nil, t.TempDir(), nil, config.NewMasterKey("s"), "127.0.0.1:3000", nil)
	require.NoError(t, o.EnsureDirs())
	return o
}

func TestResolveVolume_StaysInsideVolumeRoot(t *testing.T) {
	o := newTestOrchestrator(t)
	root := filepath.Join(t.TempDir(), "volumeroot")

	hostDir, rel, ok := o.resolveVolume(root, "/data")
	require.True(t, ok)
	assert.Equal(t, "data", rel)
	assert.True(t, strings.HasPrefix(hostDir, root), "resolved host path must stay under the volume root")
}

func TestResolveVolume_RejectsTraversal(t *testing.T) {
	o := newTestOrchestrator(t)
	root := filepath.Join(t.TempDir(), "volumeroot")

	_, _, ok := o.resolveVolume(root, "/../../etc/passwd")
	assert.False(t, ok, "a path escaping the volume root must be rejected")
}

func TestResolveVolume_RejectsRootPath(t *testing.T) {
	o := newTestOrchestrator(t)
	root := filepath.Join(t.TempDir(), "volumeroot")

	_, _, ok := o.resolveVolume(root, "/")
	assert.False(t, ok)
}

func TestManagedLocation_ParsesContainerName(t *testing.T) {
	loc, ok := managedLocation([]string{"rockslide-myrepo-myimage"})
	require.True(t, ok)
	assert.Equal(t, "myrepo", loc.Repository)
	assert.Equal(t, "myimage", loc.Image)
}

func TestManagedLocation_IgnoresUnmanagedNames(t *testing.T) {
	_, ok := managedLocation([]string{"some-other-container"})
	assert.False(t, ok)
}

func TestLoadConfig_AbsentFileYieldsDefault(t *testing.T) {
	o := newTestOrchestrator(t)
	cfg, err := o.LoadConfig("foo", "bar", "prod")
	require.NoError(t, err)
	assert.Empty(t, cfg.HTTP.Access)
}

func TestSaveConfig_RoundTrips(t *testing.T) {
	o := newTestOrchestrator(t)
	saved, err := o.SaveConfig("foo", "bar", "prod", RuntimeConfig{
		HTTP: HTTPAccessConfig{Access: map[string]string{"user": "pw"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "pw", saved.HTTP.Access["user"])

	loaded, err := o.LoadConfig("foo", "bar", "prod")
	require.NoError(t, err)
	assert.Equal(t, "pw", loaded.HTTP.Access["user"])
}

func TestSaveConfig_TrimsLeadingColonFromDigestReference(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.SaveConfig("foo", "bar", ":abc123", RuntimeConfig{})
	require.NoError(t, err)

	path := o.runtime.Config("foo", "bar", "abc123")
	_, err = o.LoadConfig("foo", "bar", "abc123")
	require.NoError(t, err)
	assert.FileExists(t, path)
}
