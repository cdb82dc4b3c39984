package credentials

import (
	"context"
	"maps"
	"sync"
)

// MemoryBackend keeps the key set in process memory. State is lost on exit.
type MemoryBackend struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryBackend returns a backend pre-populated with values, if any.
func NewMemoryBackend(values map[string]string) *MemoryBackend {
	return &MemoryBackend{values: maps.Clone(values)}
}

func (m *MemoryBackend) Read(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := maps.Clone(m.values)
	if out == nil {
		out = map[string]string{}
	}
	return out, nil
}

func (m *MemoryBackend) Write(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = maps.Clone(values)
	return nil
}

func (m *MemoryBackend) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = nil
	return nil
}

func (m *MemoryBackend) Name() string {
	return "memory"
}
