package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// ParsedManifest is the result of validating a manifest PUT body: the raw
// bytes, the digest computed over them, and the decoded structure needed
// to answer GET requests with the right Content-Type.
type ParsedManifest struct {
	Raw       []byte
	Digest    digest.Digest
	MediaType string
}

// ValidateManifest checks that raw parses as an OCI image manifest: a
// schema version, a required config descriptor (digest + size), and a
// required (possibly empty) layers array. It does not check that the
// referenced layer/config blobs actually exist in the store (spec.md §9,
// Open Question: not enforced).
func ValidateManifest(raw []byte) (ParsedManifest, error) {
	var probe struct {
		SchemaVersion int              `json:"schemaVersion"`
		MediaType     string           `json:"mediaType"`
		Config        *json.RawMessage `json:"config"`
		Layers        *json.RawMessage `json:"layers"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ParsedManifest{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if probe.SchemaVersion == 0 {
		return ParsedManifest{}, fmt.Errorf("%w: missing schemaVersion", ErrInvalidPayload)
	}
	if probe.Config == nil {
		return ParsedManifest{}, fmt.Errorf("%w: missing config descriptor", ErrInvalidPayload)
	}
	if probe.Layers == nil {
		return ParsedManifest{}, fmt.Errorf("%w: missing layers array", ErrInvalidPayload)
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return ParsedManifest{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if manifest.Config.Digest == "" {
		return ParsedManifest{}, fmt.Errorf("%w: config descriptor missing digest", ErrInvalidPayload)
	}
	if err := manifest.Config.Digest.Validate(); err != nil {
		return ParsedManifest{}, fmt.Errorf("%w: config digest: %v", ErrInvalidPayload, err)
	}
	var configProbe struct {
		Size *int64 `json:"size"`
	}
	if err := json.Unmarshal(*probe.Config, &configProbe); err != nil || configProbe.Size == nil {
		return ParsedManifest{}, fmt.Errorf("%w: config descriptor missing size", ErrInvalidPayload)
	}
	for _, l := range manifest.Layers {
		if err := l.Digest.Validate(); err != nil {
			return ParsedManifest{}, fmt.Errorf("%w: layer digest: %v", ErrInvalidPayload, err)
		}
	}

	mediaType := manifest.MediaType
	if mediaType == "" {
		mediaType = "application/vnd.oci.image.manifest.v1+json"
	}

	sum := sha256.Sum256(raw)
	d := digest.NewDigestFromBytes(digest.SHA256, sum[:])

	return ParsedManifest{Raw: raw, Digest: d, MediaType: mediaType}, nil
}

// Hex returns the bare hex-encoded digest value, with no algorithm prefix,
// used as the on-disk filename for blobs and manifests.
func Hex(d digest.Digest) string {
	return d.Encoded()
}

// sniffMediaType re-derives a stored manifest's media type from its raw
// bytes, since the on-disk layout keys manifests by digest alone and does
// not keep a separate sidecar for it.
func sniffMediaType(raw []byte) string {
	var probe struct {
		MediaType string `json:"mediaType"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.MediaType == "" {
		return "application/vnd.oci.image.manifest.v1+json"
	}
	return probe.MediaType
}
