// Package registry owns the lifecycle of loaded inference engines. Loading
// is expensive and happens at most once per key for the process lifetime
// unless the key is explicitly evicted. Concurrent requests for the same
// uncached key share a single load.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Engine is a loaded model. Engines are not assumed safe for concurrent
// inference; callers go through Handle.Do, which serializes access.
type Engine interface {
	Close() error
}

// Loader constructs the engine for a model key.
type Loader func(key string) (Engine, error)

// ModelUnavailableError reports a model that could not be loaded.
type ModelUnavailableError struct {
	Key string
	Err error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model %q unavailable: %v", e.Key, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// errEvictedDuringLoad reports a load that finished after the key it was
// loading for had been evicted.
var errEvictedDuringLoad = errors.New("evicted during load")

// Handle is an opaque reference to a loaded engine.
type Handle struct {
	key    string
	mu     sync.Mutex
	engine Engine
}

// Key returns the model key the handle was loaded under.
func (h *Handle) Key() string { return h.key }

// Do runs fn against the engine while holding the handle's inference lock.
func (h *Handle) Do(fn func(Engine) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(h.engine)
}

// Registry caches handles by model key.
type Registry struct {
	loader Loader

	group   singleflight.Group
	mu      sync.Mutex
	handles map[string]*Handle
	gens    map[string]uint64 // bumped by Evict; detects eviction during load
}

// New creates a registry backed by loader.
func New(loader Loader) *Registry {
	return &Registry{
		loader:  loader,
		handles: make(map[string]*Handle),
		gens:    make(map[string]uint64),
	}
}

// GetOrLoad returns the cached handle for key, loading it on first use.
// Loads for distinct keys proceed independently; a failed load is not cached,
// so a later call retries.
func (r *Registry) GetOrLoad(key string) (*Handle, error) {
	r.mu.Lock()
	if h, ok := r.handles[key]; ok {
		r.mu.Unlock()
		return h, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		// A concurrent caller may have completed the load while this call
		// waited on the flight group.
		r.mu.Lock()
		if h, ok := r.handles[key]; ok {
			r.mu.Unlock()
			return h, nil
		}
		gen := r.gens[key]
		r.mu.Unlock()

		engine, err := r.loader(key)
		if err != nil {
			return nil, &ModelUnavailableError{Key: key, Err: err}
		}
		h := &Handle{key: key, engine: engine}
		r.mu.Lock()
		if r.gens[key] != gen {
			// Evicted while loading: the fresh engine must not outlive the
			// eviction it raced with.
			r.mu.Unlock()
			_ = engine.Close()
			return nil, &ModelUnavailableError{Key: key, Err: errEvictedDuringLoad}
		}
		r.handles[key] = h
		r.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// Evict removes key from the cache and closes its engine. Waits for any
// in-flight inference on the handle to finish. A load still in flight for
// key observes the eviction when it completes: its engine is closed instead
// of cached, and the waiting callers get a ModelUnavailableError.
func (r *Registry) Evict(key string) error {
	r.mu.Lock()
	r.gens[key]++
	h, ok := r.handles[key]
	delete(r.handles, key)
	r.mu.Unlock()

	// Later GetOrLoad calls must start a fresh load, not join the doomed one.
	r.group.Forget(key)

	if !ok {
		return nil
	}
	return h.Do(func(e Engine) error { return e.Close() })
}

// Close evicts every cached handle.
func (r *Registry) Close() error {
	r.mu.Lock()
	keys := make([]string, 0, len(r.handles))
	for k := range r.handles {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	var firstErr error
	for _, k := range keys {
		if err := r.Evict(k); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
