package capability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Cached wraps inner with a bounded in-memory response cache keyed by role and
// prompt. Useful for pure read paths like review, where repeated calls over
// unchanged artifacts should not hit the provider again.
func Cached(inner Generator, size int) Generator {
	if size <= 0 {
		size = 64
	}
	return &cachedGenerator{
		inner:   inner,
		size:    size,
		entries: make(map[string]*Result),
	}
}

type cachedGenerator struct {
	inner Generator

	mu      sync.Mutex
	size    int
	entries map[string]*Result
	order   []string
}

func cacheKey(req Request) string {
	h := sha256.New()
	h.Write([]byte(req.Role))
	h.Write([]byte{0})
	h.Write([]byte(req.Prompt))
	for _, file := range req.Context {
		h.Write([]byte{0})
		h.Write([]byte(file.Path))
		h.Write([]byte{0})
		h.Write([]byte(file.Content))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (g *cachedGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	key := cacheKey(req)
	g.mu.Lock()
	if hit, ok := g.entries[key]; ok {
		g.mu.Unlock()
		return hit, nil
	}
	g.mu.Unlock()

	result, err := g.inner.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	if _, ok := g.entries[key]; !ok {
		g.entries[key] = result
		g.order = append(g.order, key)
		if len(g.order) > g.size {
			oldest := g.order[0]
			g.order = g.order[1:]
			delete(g.entries, oldest)
		}
	}
	g.mu.Unlock()
	return result, nil
}
