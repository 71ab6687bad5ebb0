package risk

import (
	"path/filepath"
	"strings"
	"sync"
)

// Whitelist holds paths that must never be cleaned. Matching is
// case-insensitive and separator-agnostic; a prefix entry protects the
// whole subtree underneath it. Safe for concurrent use, entries can be
// added while classification or execution is running.
type Whitelist struct {
	mu       sync.RWMutex
	exact    map[string]struct{}
	prefixes []string
}

func NewWhitelist(paths ...string) *Whitelist {
	w := &Whitelist{exact: make(map[string]struct{})}
	for _, p := range paths {
		w.Add(p)
	}
	return w
}

// Add protects a single path.
func (w *Whitelist) Add(path string) {
	norm := normalizePath(path)
	if norm == "" {
		return
	}
	w.mu.Lock()
	w.exact[norm] = struct{}{}
	w.mu.Unlock()
}

// AddPrefix protects a path and everything underneath it.
func (w *Whitelist) AddPrefix(prefix string) {
	norm := normalizePath(prefix)
	if norm == "" {
		return
	}
	w.mu.Lock()
	w.prefixes = append(w.prefixes, norm)
	w.mu.Unlock()
}

// Contains reports whether path is protected.
func (w *Whitelist) Contains(path string) bool {
	norm := normalizePath(path)
	if norm == "" {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if _, ok := w.exact[norm]; ok {
		return true
	}
	for _, p := range w.prefixes {
		if norm == p || strings.HasPrefix(norm, p+"/") {
			return true
		}
	}
	return false
}

// Len returns the number of entries, prefixes included.
func (w *Whitelist) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.exact) + len(w.prefixes)
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	norm := strings.ToLower(filepath.ToSlash(path))
	for len(norm) > 1 && strings.HasSuffix(norm, "/") {
		norm = strings.TrimSuffix(norm, "/")
	}
	return norm
}
