package processor

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dkeye/mediacore/internal/config"
)

var ErrUnknownProcessor = errors.New("processor: unknown name")

// Factory builds a processor from the optional argument after '=' in its definition
// string (e.g. "fps-limit=15").
type Factory func(arg string, cfg config.Media) (Processor, error)

// Registry maps processor names to factories. Pipelines resolve names from
// configuration when they are built.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the built-in processors.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Add("passthrough", newPassthrough)
	r.Add("grayscale", newGrayscale)
	r.Add("background", newBackground)
	r.Add("fps-limit", newFPSLimit)
	return r
}

// Add registers or replaces a factory.
func (r *Registry) Add(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, name)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Build constructs one processor from "name" or "name=arg".
func (r *Registry) Build(def string, cfg config.Media) (Processor, error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(def), "=")
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcessor, name)
	}
	p, err := f(arg, cfg)
	if err != nil {
		return nil, fmt.Errorf("processor %q: %w", name, err)
	}
	return p, nil
}

// Chain resolves every definition in order into a new chain.
func (r *Registry) Chain(defs []string, cfg config.Media) (*Chain, error) {
	procs := make([]Processor, 0, len(defs))
	for _, s := range defs {
		p, err := r.Build(s, cfg)
		if err != nil {
			return nil, err
		}
		procs = append(procs, p)
	}
	return NewChain(procs...), nil
}
