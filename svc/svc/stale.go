package svc

import (
	"context"
	"sort"
	"sync"
)

// MemStale is the in-process StaleTracker used when Redis is not
// configured. Flags are lost on restart.
type MemStale struct {
	mu    sync.Mutex
	slugs map[string]struct{}
}

func NewMemStale() *MemStale {
	return &MemStale{slugs: make(map[string]struct{})}
}
func (m *MemStale) FlagStale(_ context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slugs[slug] = struct{}{}
	return nil
}
func (m *MemStale) StaleSlugs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.slugs))
	for s := range m.slugs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}
func (m *MemStale) ClearStale(_ context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slugs, slug)
	return nil
}
