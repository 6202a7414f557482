// Package podman is a thin, typed wrapper over an external podman-compatible
// CLI, grounded in the subprocess-wrapping idiom the teacher project used
// for its hypervisor process driver: build an *exec.Cmd, capture all three
// outcomes (status, stdout, stderr), and surface a single error type that
// carries the captured streams.
package podman

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
)

// Driver wraps invocations of a local podman-compatible binary.
type Driver struct {
	path   string
	remote bool
}

// New creates a Driver invoking the binary at path. remote mirrors the
// PODMAN_IS_REMOTE environment toggle: when true, flags that only make
// sense against a local daemon (cgroup manager, health check disabling)
// are omitted.
func New(path string, remote bool) *Driver {
	return &Driver{path: path, remote: remote}
}

// CommandError is returned for any non-zero exit, carrying both captured
// output streams alongside the underlying *exec.ExitError.
type CommandError struct {
	Err    error
	Stdout []byte
	Stderr []byte
}

func (e *CommandError) Error() string {
	msg := e.Err.Error()
	if len(e.Stdout) > 0 {
		msg += "\nstdout: " + string(e.Stdout)
	}
	if len(e.Stderr) > 0 {
		msg += "\nstderr: " + string(e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

func (d *Driver) command(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, d.path, args...)
}

func (d *Driver) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := d.command(ctx, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &CommandError{Err: err, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	}
	return stdout.Bytes(), nil
}

// Rm removes a container by name. force maps to `--force`. A missing
// container is reported as an error by podman (a *CommandError, not
// distinguished from other failures); callers that want "missing is fine"
// semantics (spec §4.D step 4) ignore the error.
func (d *Driver) Rm(ctx context.Context, name string, force bool) error {
	args := []string{"rm"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, name)
	_, err := d.run(ctx, args...)
	return err
}

// Login authenticates against registryHost using username/password. The
// password is never placed on the argument vector: it is written to a
// private temporary file, passed via --password-stdin redirected from
// that file, and the file is removed as soon as the command returns.
func (d *Driver) Login(ctx context.Context, username, password, registryHost string, tlsVerify bool) error {
	tmp, err := os.CreateTemp("", "rockslide-podman-login-*")
	if err != nil {
		return fmt.Errorf("create login secret file: %w", err)
	}
	path := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(path)
	}()

	if _, err := tmp.WriteString(password); err != nil {
		return fmt.Errorf("write login secret: %w", err)
	}
	if _, err := tmp.Seek(0, 0); err != nil {
		return fmt.Errorf("seek login secret: %w", err)
	}

	cmd := d.command(ctx, "login", "--username", username, "--password-stdin",
		fmt.Sprintf("--tls-verify=%t", tlsVerify), registryHost)
	cmd.Stdin = tmp
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &CommandError{Err: err, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	}
	return nil
}

// Pull pulls imageURL.
func (d *Driver) Pull(ctx context.Context, imageURL string) error {
	_, err := d.run(ctx, "pull", imageURL)
	return err
}

// RunOptions configures a `podman run` invocation.
type RunOptions struct {
	Name      string
	Rm        bool
	Rmi       bool
	TLSVerify bool
	Publish   []string          // host:container publish specs, e.g. "127.0.0.1::8000"
	Env       map[string]string
	Volumes   []string          // host:container bind-mount specs
}

// Run launches imageURL detached, returning the new container id from stdout.
func (d *Driver) Run(ctx context.Context, imageURL string, opts RunOptions) (string, error) {
	args := []string{"run", "--detach", fmt.Sprintf("--tls-verify=%t", opts.TLSVerify)}

	if opts.Rm {
		args = append(args, "--rm")
	}
	if opts.Rmi {
		args = append(args, "--rmi")
	}
	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}
	if !d.remote {
		args = append(args, "--health-cmd=none", "--cgroup-manager=cgroupfs")
	}
	for _, p := range opts.Publish {
		args = append(args, "-p", p)
	}
	for k, v := range opts.Env {
		args = append(args, "-e", k+"="+v)
	}
	for _, v := range opts.Volumes {
		args = append(args, "-v", v)
	}
	args = append(args, imageURL)

	out, err := d.run(ctx, args...)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(out)), nil
}

// ImageInspect is the subset of `podman inspect image` fields the
// orchestrator needs.
type ImageInspect struct {
	Volumes map[string]struct{}
}

// InspectImage runs `podman inspect image <ref>` and parses the first
// result's Config.Volumes, defaulting a null/absent map to empty.
func (d *Driver) InspectImage(ctx context.Context, ref string) (ImageInspect, error) {
	out, err := d.run(ctx, "inspect", "--type", "image", ref)
	if err != nil {
		return ImageInspect{}, err
	}

	var results []struct {
		Config struct {
			Volumes map[string]struct{} `json:"Volumes"`
		} `json:"Config"`
	}
	if err := json.Unmarshal(out, &results); err != nil {
		return ImageInspect{}, fmt.Errorf("parse inspect output: %w", err)
	}
	if len(results) == 0 {
		return ImageInspect{}, fmt.Errorf("inspect returned no results for %s", ref)
	}
	volumes := results[0].Config.Volumes
	if volumes == nil {
		volumes = map[string]struct{}{}
	}
	return ImageInspect{Volumes: volumes}, nil
}

// PortMapping is one entry of `podman ps`'s Ports array.
type PortMapping struct {
	HostIP        string `json:"host_ip"`
	ContainerPort uint16 `json:"container_port"`
	HostPort      uint16 `json:"host_port"`
	Range         uint16 `json:"range"`
	Protocol      string `json:"protocol"`
}

// Container is the subset of `podman ps` fields the orchestrator needs.
type Container struct {
	ID    string        `json:"Id"`
	Names []string      `json:"Names"`
	Ports []PortMapping `json:"Ports"`
}

// Ps lists containers. all maps to `--all`.
func (d *Driver) Ps(ctx context.Context, all bool) ([]Container, error) {
	args := []string{"ps", "--format", "json"}
	if all {
		args = append(args, "--all")
	}
	out, err := d.run(ctx, args...)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		ID    string        `json:"Id"`
		Names []string      `json:"Names"`
		Ports []PortMapping `json:"Ports"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parse ps output: %w", err)
	}

	containers := make([]Container, 0, len(raw))
	for _, r := range raw {
		containers = append(containers, Container{ID: r.ID, Names: r.Names, Ports: r.Ports})
	}
	return containers, nil
}
