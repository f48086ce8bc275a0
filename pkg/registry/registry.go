// Package registry implements the process-wide factory registry: a map from
// processor-type tag to a constructor function, populated at startup by
// whatever collector packages register their processor types. Grounded
// directly on the teacher's connector-plugin registry
// (pkg/plugins.Registry): sync.RWMutex-guarded map, Register/Unregister/
// Get/List, duplicate-registration rejected.
package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/fluxcore/streamgraph/errs"
	"github.com/fluxcore/streamgraph/internal/processor"
)

// TypeInfo describes a registered processor type, for introspection.
type TypeInfo struct {
	TypeTag     string
	Descriptor  processor.Descriptor
}

// Registry is the factory registry consulted by the compiler's CREATE
// phase.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]processor.ConfigFactory
	describe  map[string]func() processor.Descriptor
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		factories: make(map[string]processor.ConfigFactory),
		describe:  make(map[string]func() processor.Descriptor),
	}
}

// Register adds a processor type under typeTag. describe returns the type's
// static descriptor without constructing an instance; Describe serves it.
func (r *Registry) Register(typeTag string, factory processor.ConfigFactory, describe func() processor.Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[typeTag]; exists {
		return errs.New(errs.Configuration, typeTag, "processor type already registered")
	}
	r.factories[typeTag] = factory
	r.describe[typeTag] = describe
	return nil
}

// Unregister removes a processor type. Existing instances are unaffected;
// the type simply becomes unavailable to future CREATE phases.
func (r *Registry) Unregister(typeTag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, typeTag)
	delete(r.describe, typeTag)
}

// Construct builds a new Processor instance from its type tag and opaque
// JSON configuration.
func (r *Registry) Construct(typeTag string, config json.RawMessage) (processor.Processor, error) {
	r.mu.RLock()
	factory, ok := r.factories[typeTag]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.Configuration, typeTag, "unknown processor type")
	}
	p, err := factory(config)
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, typeTag, "constructor failed", err)
	}
	return p, nil
}

// Describe returns the static descriptor for a registered type without
// constructing an instance.
func (r *Registry) Describe(typeTag string) (processor.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	describe, ok := r.describe[typeTag]
	if !ok {
		return processor.Descriptor{}, errs.New(errs.Configuration, typeTag, "unknown processor type")
	}
	return describe(), nil
}

// List returns every registered type tag, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of registered processor types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.factories)
}

func (t TypeInfo) String() string {
	return fmt.Sprintf("%s (%s)", t.TypeTag, t.Descriptor.Name)
}
