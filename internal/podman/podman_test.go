package podman

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePodman writes an executable shell script standing in for the real
// podman binary, so Driver's argument-building and output-parsing can be
// exercised without a container runtime present.
func fakePodman(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake podman script requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "podman")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestPs_ParsesJSONOutput(t *testing.T) {
	path := fakePodman(t, `echo '[{"Id":"abc","Names":["rockslide-foo-bar"],"Ports":[{"host_ip":"127.0.0.1","host_port":1234}]}]'`)
	d := New(path, false)

	containers, err := d.Ps(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, containers, 1)
	assert.Equal(t, "abc", containers[0].ID)
	assert.Equal(t, []string{"rockslide-foo-bar"}, containers[0].Names)
	assert.Equal(t, uint16(1234), containers[0].Ports[0].HostPort)
}

func TestInspectImage_DefaultsNullVolumesToEmpty(t *testing.T) {
	path := fakePodman(t, `echo '[{"Config":{"Volumes":null}}]'`)
	d := New(path, false)

	inspect, err := d.InspectImage(context.Background(), "example/image:prod")
	require.NoError(t, err)
	assert.Empty(t, inspect.Volumes)
}

func TestInspectImage_ParsesVolumeKeys(t *testing.T) {
	path := fakePodman(t, `echo '[{"Config":{"Volumes":{"/data":{}}}}]'`)
	d := New(path, false)

	inspect, err := d.InspectImage(context.Background(), "example/image:prod")
	require.NoError(t, err)
	_, ok := inspect.Volumes["/data"]
	assert.True(t, ok)
}

func TestRun_NonZeroExitReturnsCommandErrorWithStreams(t *testing.T) {
	path := fakePodman(t, `echo "boom" >&2; exit 1`)
	d := New(path, false)

	_, err := d.Run(context.Background(), "example/image:prod", RunOptions{})
	require.Error(t, err)
	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Contains(t, string(cmdErr.Stderr), "boom")
}

func TestRun_OmitsCgroupFlagsWhenRemote(t *testing.T) {
	path := fakePodman(t, `echo "$@" > `+"`dirname $0`"+`/args.txt; echo fake-container-id`)
	d := New(path, true)

	id, err := d.Run(context.Background(), "example/image:prod", RunOptions{Name: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "fake-container-id", id)

	args, err := os.ReadFile(filepath.Join(filepath.Dir(path), "args.txt"))
	require.NoError(t, err)
	assert.NotContains(t, string(args), "cgroup-manager")
}

func TestLogin_NeverPutsPasswordOnArgv(t *testing.T) {
	path := fakePodman(t, `echo "$@" > `+"`dirname $0`"+`/args.txt; cat > /dev/null`)
	d := New(path, false)

	err := d.Login(context.Background(), "rockslide-podman", "super-secret", "127.0.0.1:3000", false)
	require.NoError(t, err)

	args, err := os.ReadFile(filepath.Join(filepath.Dir(path), "args.txt"))
	require.NoError(t, err)
	assert.NotContains(t, string(args), "super-secret")
	assert.Contains(t, string(args), "--password-stdin")
}
