package store

import (
	"fmt"
	"strings"

	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"
)

// ImageLocation is the registry-level name of an artifact: a pair of
// non-empty path segments. Equality is case-sensitive.
type ImageLocation struct {
	Repository string
	Image      string
}

// NewImageLocation validates and builds an ImageLocation. Both segments
// must be non-empty and, combined, must form a valid distribution-spec
// repository name.
func NewImageLocation(repository, image string) (ImageLocation, error) {
	if repository == "" || image == "" {
		return ImageLocation{}, fmt.Errorf("%w: repository and image must be non-empty", ErrInvalidPayload)
	}
	if _, err := reference.WithName(repository + "/" + image); err != nil {
		return ImageLocation{}, fmt.Errorf("%w: %s/%s: %v", ErrInvalidPayload, repository, image, err)
	}
	return ImageLocation{Repository: repository, Image: image}, nil
}

func (l ImageLocation) String() string {
	return l.Repository + "/" + l.Image
}

// Reference is a tagged union: either a human tag or a digest.
type Reference struct {
	tag    string
	digest digest.Digest
	isTag  bool
}

// ParseReference classifies a reference string: if it parses as a
// "sha256:<64 hex>" digest it is a digest reference, otherwise it is a tag.
func ParseReference(s string) Reference {
	if d, err := digest.Parse(s); err == nil && d.Algorithm() == digest.SHA256 {
		return Reference{digest: d, isTag: false}
	}
	return Reference{tag: s, isTag: true}
}

// TagReference builds a Reference that is always a tag, even if it
// happens to look like a digest string (used when the caller already
// knows the reference position is a tag slot, e.g. a URL path segment
// explicitly routed as a tag).
func TagReference(tag string) Reference {
	return Reference{tag: tag, isTag: true}
}

// IsTag reports whether this reference is a human tag.
func (r Reference) IsTag() bool { return r.isTag }

// Tag returns the tag string. Only meaningful if IsTag() is true.
func (r Reference) Tag() string { return r.tag }

// Digest returns the digest. Only meaningful if IsTag() is false.
func (r Reference) Digest() digest.Digest { return r.digest }

// String returns the wire form of the reference.
func (r Reference) String() string {
	if r.isTag {
		return r.tag
	}
	return r.digest.String()
}

// ManifestReference uniquely identifies a manifest-resolvable artifact.
type ManifestReference struct {
	Location  ImageLocation
	Reference Reference
}

func NewManifestReference(repository, image string, ref Reference) (ManifestReference, error) {
	loc, err := NewImageLocation(repository, image)
	if err != nil {
		return ManifestReference{}, err
	}
	return ManifestReference{Location: loc, Reference: ref}, nil
}

func (m ManifestReference) String() string {
	return m.Location.String() + "@" + m.Reference.String()
}

// TrimmedReference returns the reference string with any leading colon
// removed, used when the reference is stored as a filesystem path
// component (digests otherwise begin with the wire prefix's colon after
// the algorithm name is stripped by callers that already split on it).
func TrimmedReference(s string) string {
	return strings.TrimPrefix(s, ":")
}
