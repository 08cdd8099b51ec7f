package capability

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limited wraps inner so at most limit Generate calls are in flight across the
// whole process, protecting the upstream provider from concurrent runs.
func Limited(inner Generator, limit int64) Generator {
	if limit <= 0 {
		return inner
	}
	return &limitedGenerator{
		inner: inner,
		sem:   semaphore.NewWeighted(limit),
	}
}

type limitedGenerator struct {
	inner Generator
	sem   *semaphore.Weighted
}

func (g *limitedGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)
	return g.inner.Generate(ctx, req)
}
