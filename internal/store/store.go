// Package store implements the content-addressed blob/manifest storage
// described in spec.md §4.A: a filesystem tree rooted at a single
// directory, holding in-progress chunked uploads, immutable blobs,
// manifests keyed by digest, and a tag index of symlinks onto manifests.
package store

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/rockslide/rockslide/internal/layout"
)

// hashBufferSize is the fixed-size read buffer used to stream a
// finalization candidate through SHA-256, per spec.md §4.A ("on the order
// of hundreds of kilobytes to a few megabytes").
const hashBufferSize = 1 << 20 // 1 MiB

// Store is a filesystem-backed implementation of the registry's content
// store. All methods are safe for concurrent use on disjoint digests and
// upload ids (spec.md §5); concurrent writers to the same upload id are
// undefined, matching the contract.
type Store struct {
	layout *layout.Storage
	log    *slog.Logger
}

// New creates a Store rooted at dir, creating the four top-level
// subdirectories (uploads, blobs, manifests, tags) if absent.
func New(dir string, log *slog.Logger) (*Store, error) {
	l := layout.NewStorage(dir)
	for _, d := range l.Dirs() {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory %s: %w", d, err)
		}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{layout: l, log: log}, nil
}

// BeginUpload allocates a fresh upload id and creates its empty partial
// file. Ids are never reused.
func (s *Store) BeginUpload(ctx context.Context) (string, error) {
	id := uuid.NewString()
	f, err := os.Create(s.layout.UploadPartial(id))
	if err != nil {
		return "", fmt.Errorf("create upload partial: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close upload partial: %w", err)
	}
	s.log.DebugContext(ctx, "upload started", "upload_id", id)
	return id, nil
}

// UploadWriter returns a handle to append bytes to an in-progress upload,
// positioned at startAt. The caller is responsible for serializing calls
// on the same upload id (spec.md §5).
func (s *Store) UploadWriter(ctx context.Context, id string, startAt int64) (io.WriteCloser, error) {
	path := s.layout.UploadPartial(id)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrUploadNotFound
		}
		return nil, fmt.Errorf("stat upload: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	if _, err := f.Seek(startAt, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek upload: %w", err)
	}
	return f, nil
}

// UploadSize returns the current size of an in-progress upload's partial
// file, used by the protocol layer to report the Range high-water mark.
func (s *Store) UploadSize(id string) (int64, error) {
	info, err := os.Stat(s.layout.UploadPartial(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrUploadNotFound
		}
		return 0, fmt.Errorf("stat upload: %w", err)
	}
	return info.Size(), nil
}

// FinalizeUpload streams the whole partial through SHA-256 on a dedicated
// goroutine (never the caller's), compares it against expected in constant
// time, and on match renames the partial into the blob store. On mismatch
// the partial is left untouched and ErrDigestMismatch is returned.
func (s *Store) FinalizeUpload(ctx context.Context, id string, expected digest.Digest) (digest.Digest, error) {
	path := s.layout.UploadPartial(id)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", ErrUploadNotFound
		}
		return "", fmt.Errorf("stat upload: %w", err)
	}

	actual, err := hashFileOffThread(ctx, path)
	if err != nil {
		return "", err
	}

	if subtle.ConstantTimeCompare([]byte(actual.String()), []byte(expected.String())) != 1 {
		return "", ErrDigestMismatch
	}

	blobPath := s.layout.Blob(Hex(actual))
	if err := os.Rename(path, blobPath); err != nil {
		return "", fmt.Errorf("rename upload into blob store: %w", err)
	}
	s.log.InfoContext(ctx, "upload finalized", "upload_id", id, "digest", actual.String())
	return actual, nil
}

// hashFileOffThread computes the SHA-256 digest of the file at path on a
// dedicated goroutine, handing the result back over a channel so the
// caller's goroutine never performs the (potentially large) read itself.
// This mirrors the contract's requirement that hashing run off whatever
// serves concurrent requests.
func hashFileOffThread(ctx context.Context, path string) (digest.Digest, error) {
	type result struct {
		d   digest.Digest
		err error
	}
	done := make(chan result, 1)

	go func() {
		f, err := os.Open(path)
		if err != nil {
			done <- result{err: err}
			return
		}
		defer f.Close()

		h := sha256.New()
		buf := make([]byte, hashBufferSize)
		if _, err := io.CopyBuffer(h, f, buf); err != nil {
			done <- result{err: err}
			return
		}
		done <- result{d: digest.NewDigestFromBytes(digest.SHA256, h.Sum(nil))}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", &HashWorkerError{Err: res.err}
		}
		return res.d, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// BlobInfo describes a stored blob.
type BlobInfo struct {
	Digest digest.Digest
	Size   int64
}

// BlobMetadata returns a stored blob's size, or found=false if absent.
func (s *Store) BlobMetadata(d digest.Digest) (BlobInfo, bool, error) {
	info, err := os.Stat(s.layout.Blob(Hex(d)))
	if err != nil {
		if os.IsNotExist(err) {
			return BlobInfo{}, false, nil
		}
		return BlobInfo{}, false, fmt.Errorf("stat blob: %w", err)
	}
	return BlobInfo{Digest: d, Size: info.Size()}, true, nil
}

// BlobReader opens a stored blob for reading, or found=false if absent.
// The caller must close the returned reader.
func (s *Store) BlobReader(d digest.Digest) (io.ReadCloser, bool, error) {
	f, err := os.Open(s.layout.Blob(Hex(d)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("open blob: %w", err)
	}
	return f, true, nil
}
