package proxy

import (
	"context"
	"io"
	"net/http"
	"strings"
)

// Manager is the subset of the orchestrator the management surface
// depends on: loading/saving a manifest reference's runtime config as
// TOML text, and triggering an immediate republish afterward. Defined
// here (rather than imported from the orchestrator package) so proxy has
// no compile-time dependency on it; the orchestrator satisfies this
// interface structurally.
type Manager interface {
	LoadConfigTOML(ctx context.Context, repository, image, reference string) (string, error)
	SaveConfigTOML(ctx context.Context, repository, image, reference, tomlText string) (string, error)
	Refresh(ctx context.Context)
}

// serveManagement handles the /_rockslide/ branch: authenticate against
// the master key, then dispatch GET/PUT on
// /_rockslide/config/<repo>/<image>/<production tag>. Anything else under
// /_rockslide/ is 404.
func (h *Handler) serveManagement(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdminAuth(w, r) {
		return
	}

	const prefix = "/_rockslide/config/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	parts := splitNonEmpty(strings.TrimPrefix(r.URL.Path, prefix))
	if len(parts) != 3 || parts[2] != h.productionTag {
		http.NotFound(w, r)
		return
	}
	repository, image, reference := parts[0], parts[1], parts[2]

	switch r.Method {
	case http.MethodGet:
		text, err := h.manager.LoadConfigTOML(r.Context(), repository, image, reference)
		if err != nil {
			h.log.ErrorContext(r.Context(), "failed loading runtime config", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/toml")
		w.Write([]byte(text))

	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		text, err := h.manager.SaveConfigTOML(r.Context(), repository, image, reference, string(body))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		h.manager.Refresh(r.Context())
		w.Header().Set("Content-Type", "application/toml")
		w.Write([]byte(text))

	default:
		http.NotFound(w, r)
	}
}
