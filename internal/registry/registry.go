package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/luciancaetano/kephasrpc"
)

// Domain is a resolved domain. Exactly one of Commands and Invocator is set.
type Domain struct {
	Name      string
	Commands  kephasrpc.Commands
	Invocator kephasrpc.Invocator
}

type entry struct {
	resolve func() (*Domain, error)
}

// Registry maps domain names to lazily resolved domains.
type Registry struct {
	mu      sync.RWMutex
	domains map[string]*entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{domains: make(map[string]*entry)}
}

// Register adds a domain computed by supplier on first use.
//
// Names of one character are reserved for response markers. A name already
// registered fails with kephasrpc.ErrDomainExists, unless overridable is set,
// in which case the call does nothing.
func (r *Registry) Register(name string, supplier kephasrpc.DomainSupplier, overridable bool) error {
	if len(name) < 2 {
		return fmt.Errorf("%w: %q (names need at least two characters)", kephasrpc.ErrInvalidDomain, name)
	}
	if supplier == nil {
		return fmt.Errorf("%w: %q has no supplier", kephasrpc.ErrInvalidDomain, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.domains[name]; exists {
		if overridable {
			return nil
		}
		return fmt.Errorf("%w: %s", kephasrpc.ErrDomainExists, name)
	}

	r.domains[name] = &entry{
		resolve: sync.OnceValues(func() (*Domain, error) {
			return resolve(name, supplier)
		}),
	}
	return nil
}

// MustRegister is like Register but panics on error. Use it while wiring a
// server, where a registration conflict is a programming error.
func (r *Registry) MustRegister(name string, supplier kephasrpc.DomainSupplier, overridable bool) {
	if err := r.Register(name, supplier, overridable); err != nil {
		panic(err)
	}
}

func resolve(name string, supplier kephasrpc.DomainSupplier) (d *Domain, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %s supplier panicked: %v", kephasrpc.ErrInvalidDomain, name, rec)
		}
	}()

	switch h := supplier().(type) {
	case kephasrpc.Invocator:
		return &Domain{Name: name, Invocator: h}, nil
	case kephasrpc.Commands:
		if h == nil {
			break
		}
		return &Domain{Name: name, Commands: h}, nil
	case map[string]kephasrpc.HandlerFunc:
		if h == nil {
			break
		}
		return &Domain{Name: name, Commands: h}, nil
	case nil:
	default:
		return nil, fmt.Errorf("%w: %s supplier returned %T, want Commands or Invocator", kephasrpc.ErrInvalidDomain, name, h)
	}
	return nil, fmt.Errorf("%w: %s supplier returned nil", kephasrpc.ErrInvalidDomain, name)
}

// Resolve returns the domain registered under name, computing it on first use.
func (r *Registry) Resolve(name string) (*Domain, error) {
	r.mu.RLock()
	e, ok := r.domains[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", kephasrpc.ErrDomainNotFound, name)
	}
	return e.resolve()
}

// Names returns the registered domain names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.domains))
	for name := range r.domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
