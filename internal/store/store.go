package store

import (
	"context"
	"errors"
	"sync"

	"github.com/xkilldash9x/relock/api/schemas"
)

// ErrNotFound is returned by repositories when a key has no stored value.
var ErrNotFound = errors.New("store: key not found")

// Memory is an ephemeral, in-memory StateRepository. It is the default
// backing for short-lived CLI runs and tests.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ schemas.StateRepository = (*Memory)(nil)

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	// Return a copy so callers cannot mutate stored state.
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}
