package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rockslide/rockslide/internal/store"
)

func digestOfBytes(data []byte) digest.Digest {
	sum := sha256.Sum256(data)
	return digest.NewDigestFromEncoded(digest.SHA256, hex.EncodeToString(sum[:]))
}

type fakeAuth struct{ secret string }

func (a fakeAuth) Locked() bool { return a.secret == "" }
func (a fakeAuth) Authenticate(password string) bool {
	return a.secret != "" && password == a.secret
}

type recordingHooks struct {
	uploaded chan store.ManifestReference
}

func newRecordingHooks() *recordingHooks {
	return &recordingHooks{uploaded: make(chan store.ManifestReference, 8)}
}

func (r *recordingHooks) OnManifestUploaded(_ context.Context, ref store.ManifestReference) {
	r.uploaded <- ref
}

func newTestHandler(t *testing.T, secret string) (*Handler, *recordingHooks) {
	t.Helper()
	s, err := store.New(t.TempDir(), nil)
	require.NoError(t, err)
	hooks := newRecordingHooks()
	h := New(s, fakeAuth{secret: secret}, hooks, nil)
	return h, hooks
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func authed(req *http.Request, password string) *http.Request {
	req.SetBasicAuth("user", password)
	return req
}

func TestDiscover_UnauthenticatedReturns401(t *testing.T) {
	h, _ := newTestHandler(t, "s3cret")
	r := newRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/v2/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
}

func TestDiscover_AuthenticatedReturns200(t *testing.T) {
	h, _ := newTestHandler(t, "s3cret")
	r := newRouter(h)

	req := authed(httptest.NewRequest(http.MethodGet, "/v2/", nil), "s3cret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChunkedPushAndHead(t *testing.T) {
	h, _ := newTestHandler(t, "s3cret")
	r := newRouter(h)

	payload := []byte(strings.Repeat("a", 64))
	want := digestOfBytes(payload)

	startReq := authed(httptest.NewRequest(http.MethodPost, "/v2/tests/sample/blobs/uploads/", nil), "s3cret")
	startW := httptest.NewRecorder()
	r.ServeHTTP(startW, startReq)
	require.Equal(t, http.StatusAccepted, startW.Code)
	location := startW.Header().Get("Location")
	require.NotEmpty(t, location)

	chunkSize := 32
	for start := 0; start < len(payload); start += chunkSize {
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		req := authed(httptest.NewRequest(http.MethodPatch, location, strings.NewReader(string(payload[start:end]))), "s3cret")
		req.Header.Set("Content-Length", strconv.Itoa(end-start))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusAccepted, w.Code)
	}

	finalizeReq := authed(httptest.NewRequest(http.MethodPut, location+"?digest="+want.String(), nil), "s3cret")
	finalizeW := httptest.NewRecorder()
	r.ServeHTTP(finalizeW, finalizeReq)
	require.Equal(t, http.StatusCreated, finalizeW.Code)
	assert.Equal(t, want.String(), finalizeW.Header().Get("Docker-Content-Digest"))

	headReq := authed(httptest.NewRequest(http.MethodHead, "/v2/tests/sample/blobs/"+want.String(), nil), "s3cret")
	headW := httptest.NewRecorder()
	r.ServeHTTP(headW, headReq)
	assert.Equal(t, http.StatusOK, headW.Code)
	assert.Equal(t, want.String(), headW.Header().Get("Docker-Content-Digest"))
}

func TestManifestStoreAndDualResolve(t *testing.T) {
	h, hooks := newTestHandler(t, "s3cret")
	r := newRouter(h)

	manifest := `{"schemaVersion":2,"config":{"digest":"sha256:` + digestOfBytes([]byte("cfg")).Encoded() +
		`","size":3},"layers":[]}`

	putReq := authed(httptest.NewRequest(http.MethodPut, "/v2/tests/sample/manifests/latest", strings.NewReader(manifest)), "s3cret")
	putW := httptest.NewRecorder()
	r.ServeHTTP(putW, putReq)
	require.Equal(t, http.StatusCreated, putW.Code)
	digestHeader := putW.Header().Get("Docker-Content-Digest")
	require.NotEmpty(t, digestHeader)

	select {
	case ref := <-hooks.uploaded:
		assert.Equal(t, "latest", ref.Reference.Tag())
	case <-time.After(time.Second):
		t.Fatal("expected manifest-uploaded event to fire")
	}

	byTag := authed(httptest.NewRequest(http.MethodGet, "/v2/tests/sample/manifests/latest", nil), "s3cret")
	byTagW := httptest.NewRecorder()
	r.ServeHTTP(byTagW, byTag)
	require.Equal(t, http.StatusOK, byTagW.Code)

	byDigest := authed(httptest.NewRequest(http.MethodGet, "/v2/tests/sample/manifests/"+digestHeader, nil), "s3cret")
	byDigestW := httptest.NewRecorder()
	r.ServeHTTP(byDigestW, byDigest)
	require.Equal(t, http.StatusOK, byDigestW.Code)

	assert.Equal(t, byTagW.Body.String(), byDigestW.Body.String())
}

func TestGetManifest_404OnMissing(t *testing.T) {
	h, _ := newTestHandler(t, "s3cret")
	r := newRouter(h)

	req := authed(httptest.NewRequest(http.MethodGet, "/v2/doesnot/exist/manifests/latest", nil), "s3cret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)

	var body ociErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Errors, 1)
	assert.Equal(t, "MANIFEST_UNKNOWN", body.Errors[0].Code)
}
