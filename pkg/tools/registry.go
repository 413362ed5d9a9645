package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

const DefaultDescriptorTTL = 10 * time.Minute

// Registry caches tool descriptors discovered from the backend. The
// cache has its own TTL, independent of session lifetimes.
type Registry struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time

	mu        sync.RWMutex
	byName    map[string]Descriptor
	schemas   map[string]*gojsonschema.Schema
	fetchedAt time.Time
}

// NewRegistry creates a descriptor registry over the backend.
func NewRegistry(backend Backend, ttl time.Duration) (*Registry, error) {
	if backend == nil {
		return nil, fmt.Errorf("tool backend is required")
	}
	if ttl <= 0 {
		ttl = DefaultDescriptorTTL
	}

	return &Registry{
		backend: backend,
		ttl:     ttl,
		now:     time.Now,
		byName:  make(map[string]Descriptor),
		schemas: make(map[string]*gojsonschema.Schema),
	}, nil
}

// Discover returns the current descriptors, refreshing the cache when
// it has gone stale. A failed refresh with a stale cache is an error;
// stale descriptors are never served as current.
func (r *Registry) Discover(ctx context.Context) ([]Descriptor, error) {
	r.mu.RLock()
	fresh := !r.fetchedAt.IsZero() && r.now().Sub(r.fetchedAt) < r.ttl
	r.mu.RUnlock()

	if !fresh {
		if err := r.RefreshNow(ctx); err != nil {
			return nil, err
		}
	}

	return r.List(), nil
}

// RefreshNow fetches descriptors from the backend unconditionally.
func (r *Registry) RefreshNow(ctx context.Context) error {
	descriptors, err := r.backend.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("tool discovery failed: %w", err)
	}

	byName := make(map[string]Descriptor, len(descriptors))
	schemas := make(map[string]*gojsonschema.Schema, len(descriptors))

	for _, d := range descriptors {
		if d.Name == "" {
			log.Warn().Msg("Skipping descriptor without a name")
			continue
		}
		byName[d.Name] = d

		if d.Schema != nil {
			schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(d.Schema))
			if err != nil {
				log.Warn().
					Str("tool", d.Name).
					Err(err).
					Msg("Tool schema does not compile, arguments will not be validated")
				continue
			}
			schemas[d.Name] = schema
		}
	}

	r.mu.Lock()
	r.byName = byName
	r.schemas = schemas
	r.fetchedAt = r.now()
	r.mu.Unlock()

	log.Debug().
		Int("tools", len(byName)).
		Msg("Tool descriptors refreshed")

	return nil
}

// Get returns the cached descriptor for the name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Schema returns the compiled argument schema for the tool, nil when
// the tool declares none.
func (r *Registry) Schema(name string) *gojsonschema.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schemas[name]
}

// List returns the cached descriptors sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of cached descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Names returns the cached tool names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
