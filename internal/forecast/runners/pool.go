package runners

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Handle is a leased reference to a loaded foundation-model backend. The
// backend stays loaded across leases; Release returns the lease without
// unloading, preserving load-once-reuse behavior.
type Handle struct {
	Variant string
	pool    *HandlePool
	backend Backend
}

// Backend returns the underlying inference backend.
func (h *Handle) Backend() Backend { return h.backend }

// Release returns the lease to the pool.
func (h *Handle) Release() {
	h.pool.release(h.Variant)
}

// HandlePool lazily initializes one backend per model variant and hands out
// counted leases. It replaces a process-wide model singleton with an
// explicitly passed, explicitly closed resource owner.
type HandlePool struct {
	mu       sync.Mutex
	factory  func(variant string) (Backend, error)
	backends map[string]Backend
	leases   map[string]int
}

// NewHandlePool creates a pool using factory to load variants on first use.
func NewHandlePool(factory func(variant string) (Backend, error)) *HandlePool {
	return &HandlePool{
		factory:  factory,
		backends: make(map[string]Backend),
		leases:   make(map[string]int),
	}
}

// Acquire returns a handle for the variant, loading the backend on first
// acquisition.
func (p *HandlePool) Acquire(variant string) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	backend, ok := p.backends[variant]
	if !ok {
		var err error
		backend, err = p.factory(variant)
		if err != nil {
			return nil, fmt.Errorf("load backend variant %q: %w", variant, err)
		}
		p.backends[variant] = backend
		log.Info().Str("variant", variant).Msg("foundation backend loaded")
	}
	p.leases[variant]++
	return &Handle{Variant: variant, pool: p, backend: backend}, nil
}

func (p *HandlePool) release(variant string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.leases[variant] > 0 {
		p.leases[variant]--
	}
}

// Close shuts down every loaded backend. Outstanding leases become invalid.
func (p *HandlePool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for variant, backend := range p.backends {
		if err := backend.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close backend %q: %w", variant, err)
		}
		delete(p.backends, variant)
		delete(p.leases, variant)
	}
	return firstErr
}
