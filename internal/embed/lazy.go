package embed

import (
	"context"
	"fmt"
	"sync"
)

// Lazy defers provider construction until the first Embed call. Concurrent
// first callers share a single in-flight load via sync.Once; a failed load
// is remembered and surfaces as ErrModelUnavailable on every later call.
type Lazy struct {
	construct func() (Provider, error)
	dimension int

	once     sync.Once
	provider Provider
	loadErr  error
}

// NewLazy wraps a provider constructor. dimension is the expected output
// width, reportable before the underlying model is loaded.
func NewLazy(dimension int, construct func() (Provider, error)) *Lazy {
	return &Lazy{construct: construct, dimension: dimension}
}

func (l *Lazy) load() (Provider, error) {
	l.once.Do(func() {
		p, err := l.construct()
		if err != nil {
			l.loadErr = fmt.Errorf("%w: %v", ErrModelUnavailable, err)
			return
		}
		l.provider = p
	})
	return l.provider, l.loadErr
}

// Embed triggers the one-time load if needed, then delegates.
func (l *Lazy) Embed(ctx context.Context, text string) ([]float32, error) {
	p, err := l.load()
	if err != nil {
		return nil, err
	}
	return p.Embed(ctx, text)
}

// Dimension returns the configured vector width.
func (l *Lazy) Dimension() int {
	return l.dimension
}
