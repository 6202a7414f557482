// Package orchestrator reconciles registry push events into running
// containers, grounded in the Manager/reconciliation pattern the teacher
// project used for its instance lifecycle manager, and feeds the proxy a
// fresh published-container set after every reconciliation.
package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/rockslide/rockslide/internal/config"
	"github.com/rockslide/rockslide/internal/layout"
	"github.com/rockslide/rockslide/internal/podman"
	"github.com/rockslide/rockslide/internal/proxy"
	"github.com/rockslide/rockslide/internal/store"
	"github.com/samber/lo"
)

// DefaultProductionTag is the tag whose push triggers (re)deployment. It
// is a single named constant rather than a config field. New always uses
// it; no constructor option sets a different production tag.
const DefaultProductionTag = "prod"

const containerNamePrefix = "rockslide-"

// ProxyUpdater is the subset of proxy.Registry the orchestrator drives.
type ProxyUpdater interface {
	Update(containers []proxy.PublishedContainer)
}

// Orchestrator consumes registry manifest-uploaded events and reconciles
// running containers against them.
type Orchestrator struct {
	podman        *podman.Driver
	runtime       *layout.Runtime
	proxy         ProxyUpdater
	masterKey     config.MasterKey
	localAddr     string
	productionTag string
	log           *slog.Logger
}

// New builds an Orchestrator. localAddr is the host:port at which this
// process's own registry is reachable from the podman CLI running on the
// same host (used for login/pull of the image it just received).
func New(driver *podman.Driver, runtimeDir string, proxyUpdater ProxyUpdater, masterKey config.MasterKey, localAddr string, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		podman:        driver,
		runtime:       layout.NewRuntime(runtimeDir),
		proxy:         proxyUpdater,
		masterKey:     masterKey,
		localAddr:     localAddr,
		productionTag: DefaultProductionTag,
		log:           log,
	}
}

// EnsureDirs creates the configs/ and volumes/ trees if absent.
func (o *Orchestrator) EnsureDirs() error {
	for _, d := range o.runtime.Dirs() {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create runtime directory %s: %w", d, err)
		}
	}
	return nil
}

// OnManifestUploaded implements registry.EventSink: it reconciles the
// pushed reference (a no-op unless it is the production tag) and then
// republishes the current container set regardless, matching the
// original "always refresh after any push" behavior.
func (o *Orchestrator) OnManifestUploaded(ctx context.Context, ref store.ManifestReference) {
	o.reconcile(ctx, ref)
	o.UpdatePublishedSet(ctx)
}

func (o *Orchestrator) reconcile(ctx context.Context, ref store.ManifestReference) {
	if !ref.Reference.IsTag() || ref.Reference.Tag() != o.productionTag {
		return
	}

	repo, image := ref.Location.Repository, ref.Location.Image
	containerName := containerNamePrefix + repo + "-" + image
	imageURL := fmt.Sprintf("%s/%s/%s:%s", o.localAddr, repo, image, o.productionTag)
	log := o.log.With("container", containerName, "image_url", imageURL)

	if _, err := name.ParseReference(imageURL, name.Insecure); err != nil {
		log.ErrorContext(ctx, "constructed image reference is not valid", "error", err)
		return
	}

	inspect, err := o.podman.InspectImage(ctx, imageURL)
	if err != nil {
		log.ErrorContext(ctx, "failed to inspect image", "error", err)
		return
	}

	log.InfoContext(ctx, "removing existing container if present")
	if err := o.podman.Rm(ctx, containerName, true); err != nil {
		// Per spec.md §4.D/§9: a missing container here is not an error
		// worth surfacing, so we log and continue rather than abort.
		log.WarnContext(ctx, "rm failed, continuing", "error", err)
	}

	secret, ok := o.masterKey.Secret()
	if !ok {
		log.ErrorContext(ctx, "cannot log in to local registry: master key is locked")
		return
	}
	log.InfoContext(ctx, "logging in to local registry")
	if err := o.podman.Login(ctx, "rockslide-podman", secret, o.localAddr, false); err != nil {
		log.ErrorContext(ctx, "failed to log in to local registry", "error", err)
		return
	}

	log.InfoContext(ctx, "pulling image")
	if err := o.podman.Pull(ctx, imageURL); err != nil {
		log.ErrorContext(ctx, "failed to pull image", "error", err)
		return
	}

	volumeRoot := o.runtime.VolumeRoot(repo, image, o.productionTag)
	var mounts []string
	for containerPath := range inspect.Volumes {
		hostDir, relMount, ok := o.resolveVolume(volumeRoot, containerPath)
		if !ok {
			log.WarnContext(ctx, "skipping illegal volume path", "path", containerPath)
			continue
		}
		if err := os.MkdirAll(hostDir, 0o755); err != nil {
			log.WarnContext(ctx, "failed to create volume directory, skipping", "path", hostDir, "error", err)
			continue
		}
		mounts = append(mounts, hostDir+":/"+relMount)
	}

	log.InfoContext(ctx, "starting container")
	if _, err := o.podman.Run(ctx, imageURL, podman.RunOptions{
		Name:      containerName,
		Rm:        true,
		Rmi:       true,
		TLSVerify: false,
		Publish:   []string{"127.0.0.1::8000"},
		Env:       map[string]string{"PORT": "8000"},
		Volumes:   mounts,
	}); err != nil {
		log.ErrorContext(ctx, "failed to launch container", "error", err)
		return
	}

	log.InfoContext(ctx, "new production image running")
}

// resolveVolume normalizes an image-declared container-side volume path
// into a host directory guaranteed to stay inside volumeRoot. A path with
// any ".." component is rejected outright; the rest is joined with
// SecureJoin so that symlinks under volumeRoot cannot lead outside it
// (spec.md §8 invariant 7).
func (o *Orchestrator) resolveVolume(volumeRoot, containerPath string) (hostDir, relMount string, ok bool) {
	rel := strings.TrimPrefix(containerPath, "/")
	if rel == "" || rel == "." {
		return "", "", false
	}
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return "", "", false
		}
	}
	joined, err := securejoin.SecureJoin(volumeRoot, rel)
	if err != nil {
		return "", "", false
	}
	return joined, rel, true
}

// UpdatePublishedSet lists running containers, filters to those this
// orchestrator manages, and hands the resulting set to the proxy.
func (o *Orchestrator) UpdatePublishedSet(ctx context.Context) {
	containers, err := o.podman.Ps(ctx, false)
	if err != nil {
		o.log.ErrorContext(ctx, "failed to list running containers", "error", err)
		return
	}

	managed := lo.Filter(containers, func(c podman.Container, _ int) bool {
		_, ok := managedLocation(c.Names)
		return ok && len(c.Ports) > 0
	})

	published := lo.Map(managed, func(c podman.Container, _ int) proxy.PublishedContainer {
		loc, _ := managedLocation(c.Names)
		port := c.Ports[0]
		cfg, err := o.LoadConfig(loc.Repository, loc.Image, o.productionTag)
		if err != nil {
			o.log.WarnContext(ctx, "failed to load runtime config, publishing unprotected", "location", loc.String(), "error", err)
		}
		return proxy.PublishedContainer{
			Location:   loc,
			Addr:       fmt.Sprintf("%s:%d", port.HostIP, port.HostPort),
			HTTPAccess: proxy.HTTPAccess(cfg.HTTP.Access),
		}
	})

	o.log.InfoContext(ctx, "updating published container set", "count", len(published))
	o.proxy.Update(published)
}

// managedLocation extracts the image location from a container's first
// name matching "rockslide-<repository>-<image>".
func managedLocation(names []string) (store.ImageLocation, bool) {
	for _, name := range names {
		sub, ok := strings.CutPrefix(name, containerNamePrefix)
		if !ok {
			continue
		}
		repo, image, ok := strings.Cut(sub, "-")
		if !ok {
			continue
		}
		return store.ImageLocation{Repository: repo, Image: image}, true
	}
	return store.ImageLocation{}, false
}

// LoadConfigTOML and SaveConfigTOML implement proxy.Manager, letting the
// management surface deal in raw TOML text without importing this package.

func (o *Orchestrator) LoadConfigTOML(_ context.Context, repository, image, reference string) (string, error) {
	cfg, err := o.LoadConfig(repository, image, reference)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return "", fmt.Errorf("encode runtime config: %w", err)
	}
	return buf.String(), nil
}

func (o *Orchestrator) SaveConfigTOML(_ context.Context, repository, image, reference, tomlText string) (string, error) {
	var cfg RuntimeConfig
	if _, err := toml.Decode(tomlText, &cfg); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	saved, err := o.SaveConfig(repository, image, reference, cfg)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(saved); err != nil {
		return "", fmt.Errorf("encode runtime config: %w", err)
	}
	return buf.String(), nil
}

func (o *Orchestrator) Refresh(ctx context.Context) {
	o.UpdatePublishedSet(ctx)
}
