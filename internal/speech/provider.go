package speech

import (
	"sync"
	"sync/atomic"
)

// Provider lazily builds and starts one shared Pipeline. It is owned by
// whoever composes the process; there is no package-level instance.
type Provider struct {
	build   func() (*Pipeline, error)
	mu      sync.Mutex
	current atomic.Pointer[Pipeline]
}

func NewProvider(build func() (*Pipeline, error)) *Provider {
	return &Provider{build: build}
}

// Get returns the shared pipeline, constructing and starting it on first use.
func (p *Provider) Get() (*Pipeline, error) {
	if pl := p.current.Load(); pl != nil {
		return pl, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if pl := p.current.Load(); pl != nil {
		return pl, nil
	}
	pl, err := p.build()
	if err != nil {
		return nil, err
	}
	pl.Start()
	p.current.Store(pl)
	return pl, nil
}

// Current returns the pipeline if one has been built, without building it.
func (p *Provider) Current() *Pipeline {
	return p.current.Load()
}

// Shutdown stops and forgets the current pipeline. A later Get builds a
// fresh one.
func (p *Provider) Shutdown() {
	p.mu.Lock()
	pl := p.current.Swap(nil)
	p.mu.Unlock()
	if pl != nil {
		pl.Stop()
	}
}
