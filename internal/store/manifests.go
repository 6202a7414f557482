package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
)

// StoredManifest is the result of resolving a manifest reference.
type StoredManifest struct {
	Raw       []byte
	Digest    digest.Digest
	MediaType string
}

// PutManifest validates raw as an OCI manifest, stores it by digest, and
// if ref is a tag atomically publishes a tags/<repo>/<image>/<tag> symlink
// onto the stored manifest (spec.md §4.A, §6 layout). A digest reference
// is refused: clients cannot assign a digest as if it were a tag name.
func (s *Store) PutManifest(ctx context.Context, ref ManifestReference, raw []byte) (digest.Digest, error) {
	if !ref.Reference.IsTag() {
		return "", ErrNotATag
	}

	parsed, err := ValidateManifest(raw)
	if err != nil {
		return "", err
	}

	manifestPath := s.layout.Manifest(Hex(parsed.Digest))
	if _, err := os.Stat(manifestPath); err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("stat manifest: %w", err)
		}
		if err := os.WriteFile(manifestPath, parsed.Raw, 0o644); err != nil {
			return "", fmt.Errorf("write manifest: %w", err)
		}
	}

	tagDir := s.layout.TagDir(ref.Location.Repository, ref.Location.Image)
	if err := os.MkdirAll(tagDir, 0o755); err != nil {
		return "", fmt.Errorf("create tag directory: %w", err)
	}

	tmpLink := filepath.Join(tagDir, ".tmp-"+uuid.NewString())
	target := filepath.Join("..", "..", "..", "manifests", Hex(parsed.Digest))
	if err := os.Symlink(target, tmpLink); err != nil {
		return "", fmt.Errorf("create tag symlink: %w", err)
	}
	tagPath := s.layout.Tag(ref.Location.Repository, ref.Location.Image, ref.Reference.Tag())
	if err := os.Rename(tmpLink, tagPath); err != nil {
		os.Remove(tmpLink)
		return "", fmt.Errorf("publish tag: %w", err)
	}

	s.log.InfoContext(ctx, "manifest published", "ref", ref.String(), "digest", parsed.Digest.String())
	return parsed.Digest, nil
}

// GetManifest resolves a manifest reference to its stored bytes. Tag
// references are resolved via the tag symlink; digest references are
// opened directly. found is false if the reference does not resolve to
// anything in the store.
func (s *Store) GetManifest(ctx context.Context, ref ManifestReference) (StoredManifest, bool, error) {
	var manifestPath string
	var d digest.Digest

	if ref.Reference.IsTag() {
		tagPath := s.layout.Tag(ref.Location.Repository, ref.Location.Image, ref.Reference.Tag())
		target, err := os.Readlink(tagPath)
		if err != nil {
			if os.IsNotExist(err) {
				return StoredManifest{}, false, nil
			}
			return StoredManifest{}, false, fmt.Errorf("read tag symlink: %w", err)
		}
		manifestPath = filepath.Join(filepath.Dir(tagPath), target)
		d = digest.NewDigestFromEncoded(digest.SHA256, filepath.Base(manifestPath))
	} else {
		d = ref.Reference.Digest()
		manifestPath = s.layout.Manifest(Hex(d))
	}

	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return StoredManifest{}, false, nil
		}
		return StoredManifest{}, false, fmt.Errorf("read manifest: %w", err)
	}

	return StoredManifest{Raw: raw, Digest: d, MediaType: sniffMediaType(raw)}, true, nil
}
