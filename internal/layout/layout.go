// Package layout provides centralized, typed path construction for the two
// directory trees rockslide owns: the registry's content store and the
// orchestrator's runtime directory.
//
// Storage layout (rooted at the configured storage path):
//
//	<root>/uploads/<uuid>.partial
//	<root>/blobs/<hex-sha256>
//	<root>/manifests/<hex-sha256>
//	<root>/tags/<repo>/<image>/<tag>   # symlink to ../../../manifests/<hex-sha256>
//
// Runtime layout (rooted at the configured runtime directory):
//
//	<root>/configs/<repo>/<image>/<reference>   # TOML
//	<root>/volumes/<repo>/<image>/<reference>/<rel>/...
package layout

import "path/filepath"

// Storage provides typed path construction for the content store.
type Storage struct {
	root string
}

// NewStorage creates a Storage rooted at the given directory.
func NewStorage(root string) *Storage {
	return &Storage{root: root}
}

// Root returns the storage root directory.
func (s *Storage) Root() string { return s.root }

// UploadsDir returns the directory holding in-progress upload partials.
func (s *Storage) UploadsDir() string { return filepath.Join(s.root, "uploads") }

// UploadPartial returns the path to an upload's partial file.
func (s *Storage) UploadPartial(id string) string {
	return filepath.Join(s.UploadsDir(), id+".partial")
}

// BlobsDir returns the directory holding content-addressed blobs.
func (s *Storage) BlobsDir() string { return filepath.Join(s.root, "blobs") }

// Blob returns the path to a blob, named by its hex digest (no "sha256:" prefix).
func (s *Storage) Blob(hexDigest string) string {
	return filepath.Join(s.BlobsDir(), hexDigest)
}

// ManifestsDir returns the directory holding manifests, keyed by digest.
func (s *Storage) ManifestsDir() string { return filepath.Join(s.root, "manifests") }

// Manifest returns the path to a manifest, named by its hex digest.
func (s *Storage) Manifest(hexDigest string) string {
	return filepath.Join(s.ManifestsDir(), hexDigest)
}

// TagsDir returns the root directory of the tag index.
func (s *Storage) TagsDir() string { return filepath.Join(s.root, "tags") }

// TagDir returns the directory holding tags for one image.
func (s *Storage) TagDir(repository, image string) string {
	return filepath.Join(s.TagsDir(), repository, image)
}

// Tag returns the path to a tag symlink.
func (s *Storage) Tag(repository, image, tag string) string {
	return filepath.Join(s.TagDir(repository, image), tag)
}

// Dirs returns the set of top-level directories that must exist on startup.
func (s *Storage) Dirs() []string {
	return []string{s.UploadsDir(), s.BlobsDir(), s.ManifestsDir(), s.TagsDir()}
}

// Runtime provides typed path construction for the orchestrator's runtime directory.
type Runtime struct {
	root string
}

// NewRuntime creates a Runtime rooted at the given directory.
func NewRuntime(root string) *Runtime {
	return &Runtime{root: root}
}

// Root returns the runtime root directory.
func (r *Runtime) Root() string { return r.root }

// ConfigsDir returns the root directory of per-image runtime configs.
func (r *Runtime) ConfigsDir() string { return filepath.Join(r.root, "configs") }

// Config returns the path to a manifest reference's runtime config file.
func (r *Runtime) Config(repository, image, reference string) string {
	return filepath.Join(r.ConfigsDir(), repository, image, reference)
}

// VolumesDir returns the root directory of per-image volume roots.
func (r *Runtime) VolumesDir() string { return filepath.Join(r.root, "volumes") }

// VolumeRoot returns the volume root directory for one manifest reference.
func (r *Runtime) VolumeRoot(repository, image, reference string) string {
	return filepath.Join(r.VolumesDir(), repository, image, reference)
}

// Dirs returns the set of top-level directories that must exist on startup.
func (r *Runtime) Dirs() []string {
	return []string{r.ConfigsDir(), r.VolumesDir()}
}
