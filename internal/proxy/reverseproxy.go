package proxy

import (
	"crypto/subtle"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// maxForwardedBodyBytes caps a forwarded request body, per spec.md §4.E.
const maxForwardedBodyBytes = 1 << 20 // 1 MiB

// hopByHop lists the HTTP/1.1 hop-by-hop headers that must never be
// forwarded across the proxy boundary in either direction.
var hopByHop = map[string]struct{}{
	"keep-alive":          {},
	"transfer-encoding":   {},
	"te":                  {},
	"connection":          {},
	"trailer":             {},
	"upgrade":             {},
	"proxy-authorization": {},
	"proxy-authenticate":  {},
}

// AuthProvider authenticates the management surface against the shared
// master key.
type AuthProvider interface {
	Locked() bool
	Authenticate(password string) bool
}

// Handler serves both the reverse proxy fallback and the management
// surface under /_rockslide/.
type Handler struct {
	registry      *Registry
	auth          AuthProvider
	manager       Manager
	productionTag string
	client        *http.Client
	log           *slog.Logger
}

// New builds a proxy Handler.
func New(registry *Registry, auth AuthProvider, manager Manager, productionTag string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		registry:      registry,
		auth:          auth,
		manager:       manager,
		productionTag: productionTag,
		client:        &http.Client{},
		log:           log,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/_rockslide/") {
		h.serveManagement(w, r)
		return
	}

	table := h.registry.Snapshot()

	if host := hostOnly(r.Host); strings.Contains(host, ".") {
		if c, ok := table.ByDomain(host); ok {
			h.forward(w, r, c, r.URL.Path, "")
			return
		}
	}

	segments := splitNonEmpty(r.URL.Path)
	if len(segments) >= 2 {
		if c, ok := table.ByPath(segments[0], segments[1]); ok {
			remainder := segments[2:]
			destPath := "/" + strings.Join(remainder, "/")
			if strings.HasSuffix(r.URL.Path, "/") && !strings.HasSuffix(destPath, "/") {
				destPath += "/"
			}
			scriptName := "/" + segments[0] + "/" + segments[1]
			h.forward(w, r, c, destPath, scriptName)
			return
		}
	}

	http.NotFound(w, r)
}

func hostOnly(hostHeader string) string {
	if h, _, err := net.SplitHostPort(hostHeader); err == nil {
		return strings.ToLower(h)
	}
	return strings.ToLower(hostHeader)
}

func splitNonEmpty(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func (h *Handler) forward(w http.ResponseWriter, r *http.Request, c PublishedContainer, destPath, scriptName string) {
	if len(c.HTTPAccess) > 0 && !h.authenticateContainer(r, c.HTTPAccess) {
		w.Header().Set("WWW-Authenticate", `Basic realm="password protected container"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	target := "http://" + c.Addr + destPath
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	body := io.LimitReader(r.Body, maxForwardedBodyBytes)
	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target, body)
	if err != nil {
		h.log.ErrorContext(r.Context(), "failed building forwarded request", "error", err, "target", target)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	copyHeaders(outReq.Header, r.Header)
	outReq.Header.Set("X-Script-Name", scriptName)

	resp, err := h.client.Do(outReq)
	if err != nil {
		h.log.WarnContext(r.Context(), "forwarded request failed", "error", err, "target", target)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.log.WarnContext(r.Context(), "failed streaming forwarded response", "error", err)
	}
}

func (h *Handler) authenticateContainer(r *http.Request, access HTTPAccess) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	want, exists := access[user]
	if !exists {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(pass), []byte(want)) == 1
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if _, skip := hopByHop[strings.ToLower(key)]; skip {
			continue
		}
		if strings.EqualFold(key, "X-Script-Name") {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func (h *Handler) requireAdminAuth(w http.ResponseWriter, r *http.Request) bool {
	_, password, ok := r.BasicAuth()
	if !ok || !h.auth.Authenticate(password) {
		w.Header().Set("WWW-Authenticate", `Basic realm="internal"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}
