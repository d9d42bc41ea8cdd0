package cdr

import (
	"fmt"
	"strings"
	"sync"
)

const maxBackendNameLen = 20

// SinkFunc is called once per finalized record. Implementations must not
// retain r past return; the batch worker reuses/frees it once every
// backend has seen it.
type SinkFunc func(r *ExternalRecord) error

// Backend is a named, pluggable CDR sink. The concrete CSV/SQL/queue
// implementations under internal/cdrbackends satisfy this via a thin
// adapter each.
type Backend struct {
	Name        string
	Description string
	Sink        SinkFunc
}

// BackendRegistry is the thread-safe named-sink set at the top of the
// engine's lock-ordering hierarchy.
type BackendRegistry struct {
	mu       sync.RWMutex
	backends map[string]*Backend
	order    []string
}

func newBackendRegistry() *BackendRegistry {
	return &BackendRegistry{backends: make(map[string]*Backend)}
}

// Register adds backend under name (case-insensitive uniqueness), up to
// maxBackendNameLen characters.
func (r *BackendRegistry) Register(name, description string, sink SinkFunc) error {
	if len(name) == 0 || len(name) > maxBackendNameLen {
		return fmt.Errorf("cdr: backend name %q must be 1-%d characters", name, maxBackendNameLen)
	}
	key := strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[key]; exists {
		return fmt.Errorf("cdr: backend %q already registered", name)
	}
	r.backends[key] = &Backend{Name: name, Description: description, Sink: sink}
	r.order = append(r.order, key)
	return nil
}

// Unregister removes a previously registered backend by name.
func (r *BackendRegistry) Unregister(name string) {
	key := strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[key]; !exists {
		return
	}
	delete(r.backends, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// dispatchOne calls every registered backend with r, in registration
// order, under a read lock. A backend's failure is isolated: logged,
// never retried, never blocks the others.
func (r *BackendRegistry) dispatchOne(eng *Engine, rec *ExternalRecord) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, key := range r.order {
		b := r.backends[key]
		if err := b.Sink(rec); err != nil {
			eng.logger.Warn("cdr: backend failed", "backend", b.Name, "channel", rec.Channel, "err", err)
		}
	}
}

// list returns a snapshot of registered backend names and descriptions,
// used by the "cdr show status" CLI command.
func (r *BackendRegistry) list() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Backend, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, *r.backends[key])
	}
	return out
}
