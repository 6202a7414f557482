// Package proxy implements the atomic-swap routing table and reverse
// proxy described in spec.md §4.E: readers snapshot a single immutable
// table value under a read lock and release it immediately, while the
// orchestrator replaces the whole value under a write lock.
package proxy

import (
	"strings"
	"sync"

	"github.com/rockslide/rockslide/internal/store"
)

// HTTPAccess is a username-to-password map protecting a published
// container with Basic auth. Empty or nil means unprotected.
type HTTPAccess map[string]string

// PublishedContainer is a running workload the proxy can forward to.
type PublishedContainer struct {
	Location   store.ImageLocation
	Addr       string // host:port
	HTTPAccess HTTPAccess
}

// Table is an immutable snapshot of the routing index: by image location
// for path-based routing, and by lowercase domain for host-based routing
// (only populated when the repository segment contains a dot).
type Table struct {
	byPath   map[store.ImageLocation]PublishedContainer
	byDomain map[string]PublishedContainer
}

// BuildTable constructs a Table from a full list of currently published
// containers. The result is never mutated after construction.
func BuildTable(containers []PublishedContainer) *Table {
	t := &Table{
		byPath:   make(map[store.ImageLocation]PublishedContainer, len(containers)),
		byDomain: make(map[string]PublishedContainer),
	}
	for _, c := range containers {
		t.byPath[c.Location] = c
		if strings.Contains(c.Location.Repository, ".") {
			t.byDomain[strings.ToLower(c.Location.Repository)] = c
		}
	}
	return t
}

// ByPath looks up a container by its image location.
func (t *Table) ByPath(repository, image string) (PublishedContainer, bool) {
	c, ok := t.byPath[store.ImageLocation{Repository: repository, Image: image}]
	return c, ok
}

// ByDomain looks up a container by lowercase domain.
func (t *Table) ByDomain(host string) (PublishedContainer, bool) {
	c, ok := t.byDomain[strings.ToLower(host)]
	return c, ok
}

// Registry holds the single current Table behind a reader-majority,
// writer-rare lock. Readers snapshot the pointer and release the lock
// immediately; they never observe a partially built table because
// BuildTable only ever produces complete values.
type Registry struct {
	mu    sync.RWMutex
	table *Table
}

// NewRegistry creates a Registry with an empty routing table.
func NewRegistry() *Registry {
	return &Registry{table: BuildTable(nil)}
}

// Update atomically replaces the routing table.
func (r *Registry) Update(containers []PublishedContainer) {
	t := BuildTable(containers)
	r.mu.Lock()
	r.table = t
	r.mu.Unlock()
}

// Snapshot returns the current table. The caller must not mutate it.
func (r *Registry) Snapshot() *Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table
}
