// Package processor holds the per-track chain of raw frame transforms applied
// between capture and encode.
package processor

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/mediacore/internal/domain"
)

type Verdict int

const (
	Continue Verdict = iota
	Drop
)

func (v Verdict) String() string {
	if v == Drop {
		return "drop"
	}
	return "continue"
}

// Processor inspects or rewrites a raw frame in place. Returning Drop stops the
// chain and the frame is not encoded.
type Processor interface {
	Name() string
	Process(f *domain.RawFrame) Verdict
}

// Func adapts a plain function to Processor.
type Func struct {
	Label string
	Fn    func(f *domain.RawFrame) Verdict
}

func (p Func) Name() string                       { return p.Label }
func (p Func) Process(f *domain.RawFrame) Verdict { return p.Fn(f) }

// Chain runs processors in registration order. Register may race with Process:
// a frame sees either the old or the new list, never a partial one.
type Chain struct {
	mu    sync.Mutex // serializes writers
	procs atomic.Pointer[[]Processor]
}

func NewChain(procs ...Processor) *Chain {
	c := &Chain{}
	list := append([]Processor(nil), procs...)
	c.procs.Store(&list)
	return c
}

func (c *Chain) Register(p Processor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.load()
	next := make([]Processor, 0, len(old)+1)
	next = append(next, old...)
	next = append(next, p)
	c.procs.Store(&next)
}

// Process applies every processor until one drops the frame.
func (c *Chain) Process(f *domain.RawFrame) Verdict {
	for _, p := range c.load() {
		if p.Process(f) == Drop {
			return Drop
		}
	}
	return Continue
}

func (c *Chain) Len() int { return len(c.load()) }

func (c *Chain) Names() []string {
	procs := c.load()
	out := make([]string, len(procs))
	for i, p := range procs {
		out[i] = p.Name()
	}
	return out
}

func (c *Chain) load() []Processor {
	if p := c.procs.Load(); p != nil {
		return *p
	}
	return nil
}
