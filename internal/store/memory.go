package store

import (
	"context"
	"sync"

	"github.com/abelbrown/waitwiki/internal/model"
)

// Memory is an in-process key/value store with the same Get/Set contract
// as Store. Used by `waitwiki card --ephemeral` and tests.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte

	// Err, when set, fails every call. Tests use it to simulate a broken disk.
	Err error
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get returns copies of the values stored under keys.
func (m *Memory) Get(_ context.Context, keys ...string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, model.PersistenceUnavailable("get", m.Err)
	}

	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

// Set stores copies of values.
func (m *Memory) Set(_ context.Context, values map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return model.PersistenceUnavailable("set", m.Err)
	}

	for k, v := range values {
		m.data[k] = append([]byte(nil), v...)
	}
	return nil
}

// Len reports how many keys are stored.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}
