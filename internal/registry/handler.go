// Package registry implements the OCI Distribution v1 HTTP surface on top
// of internal/store, in the handler-per-route style the teacher project
// used for its registry wrapper, but built directly against chi instead of
// wrapping an embedded distribution server.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opencontainers/go-digest"
	"github.com/rockslide/rockslide/internal/store"
)

// maxManifestBytes bounds a manifest PUT body; manifests are small JSON
// documents and never expected to approach this.
const maxManifestBytes = 4 << 20 // 4 MiB

// AuthProvider authenticates registry requests against a single shared
// secret, per spec's master-key model.
type AuthProvider interface {
	Locked() bool
	Authenticate(password string) bool
}

// EventSink is notified after a manifest is durably stored.
type EventSink interface {
	OnManifestUploaded(ctx context.Context, ref store.ManifestReference)
}

// Handler serves the registry HTTP surface.
type Handler struct {
	store *store.Store
	auth  AuthProvider
	hooks EventSink
	log   *slog.Logger
}

// New builds a registry Handler.
func New(s *store.Store, auth AuthProvider, hooks EventSink, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{store: s, auth: auth, hooks: hooks, log: log}
}

// Routes mounts the registry's HTTP surface onto r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/v2/", h.discover)
	r.Route("/v2/{repository}/{image}", func(r chi.Router) {
		r.Head("/blobs/{digest}", h.headBlob)
		r.Get("/blobs/{digest}", h.getBlob)
		r.Post("/blobs/uploads/", h.startUpload)
		r.Patch("/uploads/{id}", h.patchUpload)
		r.Put("/uploads/{id}", h.finalizeUpload)
		r.Put("/manifests/{reference}", h.putManifest)
		r.Get("/manifests/{reference}", h.getManifest)
	})
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request, realm string) bool {
	_, password, ok := r.BasicAuth()
	if !ok || !h.auth.Authenticate(password) {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm=%q`, realm))
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return false
	}
	return true
}

func (h *Handler) discover(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Basic realm="rockslide registry"`)
	if !h.requireAuth(w, r, "rockslide registry") {
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) headBlob(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w, r, "rockslide registry") {
		return
	}
	d, ok := parseDigestParam(w, r)
	if !ok {
		return
	}
	info, found, err := h.store.BlobMetadata(d)
	if err != nil {
		h.writeIOError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "BLOB_UNKNOWN", "blob not found")
		return
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size))
	w.Header().Set("Docker-Content-Digest", info.Digest.String())
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) getBlob(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w, r, "rockslide registry") {
		return
	}
	d, ok := parseDigestParam(w, r)
	if !ok {
		return
	}
	reader, found, err := h.store.BlobReader(d)
	if err != nil {
		h.writeIOError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "BLOB_UNKNOWN", "blob not found")
		return
	}
	defer reader.Close()

	info, _, err := h.store.BlobMetadata(d)
	if err == nil {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size))
	}
	w.Header().Set("Docker-Content-Digest", d.String())
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, reader); err != nil {
		h.log.ErrorContext(r.Context(), "failed streaming blob", "error", err)
	}
}

func (h *Handler) startUpload(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w, r, "rockslide registry") {
		return
	}
	repo, image := chi.URLParam(r, "repository"), chi.URLParam(r, "image")

	id, err := h.store.BeginUpload(r.Context())
	if err != nil {
		h.writeIOError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v2/%s/%s/uploads/%s", repo, image, id))
	w.Header().Set("Docker-Upload-UUID", id)
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) patchUpload(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w, r, "rockslide registry") {
		return
	}
	if r.Header.Get("Range") != "" {
		writeError(w, http.StatusBadRequest, "BLOB_UPLOAD_INVALID", "out-of-order chunked uploads are not supported")
		return
	}
	id := chi.URLParam(r, "id")

	startAt, err := h.store.UploadSize(id)
	if err != nil {
		h.writeUploadError(w, r, err)
		return
	}
	writer, err := h.store.UploadWriter(r.Context(), id, startAt)
	if err != nil {
		h.writeUploadError(w, r, err)
		return
	}
	n, err := io.Copy(writer, r.Body)
	closeErr := writer.Close()
	if err != nil {
		h.writeIOError(w, r, err)
		return
	}
	if closeErr != nil {
		h.writeIOError(w, r, closeErr)
		return
	}

	last := startAt + n - 1
	w.Header().Set("Docker-Upload-UUID", id)
	w.Header().Set("Range", fmt.Sprintf("0-%d", last))
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) finalizeUpload(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w, r, "rockslide registry") {
		return
	}
	id := chi.URLParam(r, "id")
	digestParam := r.URL.Query().Get("digest")
	if digestParam == "" {
		writeError(w, http.StatusBadRequest, "DIGEST_INVALID", "digest query parameter required")
		return
	}
	expected, err := digest.Parse(digestParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, "DIGEST_INVALID", "malformed digest")
		return
	}
	if r.ContentLength > 0 {
		writeError(w, http.StatusBadRequest, "BLOB_UPLOAD_INVALID", "finalize request body must be empty")
		return
	}

	final, err := h.store.FinalizeUpload(r.Context(), id, expected)
	if err != nil {
		h.writeUploadError(w, r, err)
		return
	}
	w.Header().Set("Docker-Content-Digest", final.String())
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) putManifest(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w, r, "rockslide registry") {
		return
	}
	repo, image := chi.URLParam(r, "repository"), chi.URLParam(r, "image")
	referenceParam := chi.URLParam(r, "reference")

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxManifestBytes+1))
	if err != nil {
		h.writeIOError(w, r, err)
		return
	}
	if len(raw) > maxManifestBytes {
		writeError(w, http.StatusBadRequest, "MANIFEST_INVALID", "manifest too large")
		return
	}

	mref, err := store.NewManifestReference(repo, image, store.ParseReference(referenceParam))
	if err != nil {
		writeError(w, http.StatusBadRequest, "NAME_INVALID", err.Error())
		return
	}

	d, err := h.store.PutManifest(r.Context(), mref, raw)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotATag):
			writeError(w, http.StatusBadRequest, "MANIFEST_INVALID", "cannot store a manifest under a digest reference")
		case errors.Is(err, store.ErrInvalidPayload):
			writeError(w, http.StatusBadRequest, "MANIFEST_INVALID", err.Error())
		default:
			h.writeIOError(w, r, err)
		}
		return
	}

	go h.hooks.OnManifestUploaded(context.Background(), mref)

	w.Header().Set("Docker-Content-Digest", d.String())
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) getManifest(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w, r, "rockslide registry") {
		return
	}
	repo, image := chi.URLParam(r, "repository"), chi.URLParam(r, "image")
	referenceParam := chi.URLParam(r, "reference")

	mref, err := store.NewManifestReference(repo, image, store.ParseReference(referenceParam))
	if err != nil {
		writeError(w, http.StatusBadRequest, "NAME_INVALID", err.Error())
		return
	}

	sm, found, err := h.store.GetManifest(r.Context(), mref)
	if err != nil {
		h.writeIOError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "MANIFEST_UNKNOWN", "manifest not found")
		return
	}

	w.Header().Set("Content-Type", sm.MediaType)
	w.Header().Set("Docker-Content-Digest", sm.Digest.String())
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(sm.Raw)))
	w.WriteHeader(http.StatusOK)
	w.Write(sm.Raw)
}

func parseDigestParam(w http.ResponseWriter, r *http.Request) (digest.Digest, bool) {
	raw := chi.URLParam(r, "digest")
	d, err := digest.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "DIGEST_INVALID", "malformed digest")
		return "", false
	}
	return d, true
}

func (h *Handler) writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrUploadNotFound):
		writeError(w, http.StatusNotFound, "BLOB_UPLOAD_UNKNOWN", "upload not found")
	case errors.Is(err, store.ErrDigestMismatch):
		// Server-side per spec §7: finalization already accepted the bytes.
		h.log.ErrorContext(r.Context(), "digest mismatch finalizing upload", "error", err)
		writeError(w, http.StatusInternalServerError, "DIGEST_INVALID", "digest mismatch")
	default:
		h.writeIOError(w, r, err)
	}
}

func (h *Handler) writeIOError(w http.ResponseWriter, r *http.Request, err error) {
	h.log.ErrorContext(r.Context(), "registry IO error", "error", err)
	writeError(w, http.StatusInternalServerError, "UNKNOWN", "internal error")
}
