package uploader

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrCanceled is the distinguished outcome of a caller-initiated abort.
// Callers branch on it; it is not a failure to log as an error.
var ErrCanceled = errors.New("uploader: upload canceled")

// registration identifies one live registry entry. Deregister compares
// identity so a finished upload cannot evict a newer upload that reused
// its key.
type registration struct {
	cancel context.CancelFunc
}

// Registry tracks in-flight uploads by caller-supplied key so any upload
// can be canceled individually, or all of them en masse on sign-out.
// At most one live entry exists per key; registering a key again cancels
// and replaces the previous holder.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registration
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registration)}
}

// Register stores cancel under key, canceling any previous entry with the
// same key. The returned registration must be passed to Deregister when
// the upload terminates.
func (r *Registry) Register(key string, cancel context.CancelFunc) *registration {
	r.mu.Lock()
	prev := r.entries[key]

	reg := &registration{cancel: cancel}
	r.entries[key] = reg
	r.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}

	return reg
}

// Deregister removes the entry for key, but only while reg still owns it.
func (r *Registry) Deregister(key string, reg *registration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries[key] == reg {
		delete(r.entries, key)
	}
}

// Cancel aborts the upload registered under key and removes the entry.
// No-op if the key is absent, so repeated cancels are safe.
func (r *Registry) Cancel(key string) {
	r.mu.Lock()
	reg := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()

	if reg != nil {
		reg.cancel()
	}
}

// CancelAll aborts every live upload and clears the registry. Used on
// sign-out.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	regs := make([]*registration, 0, len(r.entries))
	for _, reg := range r.entries {
		regs = append(regs, reg)
	}

	r.entries = make(map[string]*registration)
	r.mu.Unlock()

	for _, reg := range regs {
		reg.cancel()
	}
}

// Active returns the keys of all in-flight uploads, sorted.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
