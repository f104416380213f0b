package session

import (
	"context"
	"errors"
	"sync"
)

// ErrDurableUnavailable wraps failures of the durable storage backend.
var ErrDurableUnavailable = errors.New("durable session storage unavailable")

// Durable persists the refresh token and the restore flag across process restarts.
type Durable interface {
	Load(ctx context.Context) (Persisted, error)
	Save(ctx context.Context, p Persisted) error
	Clear(ctx context.Context) error
}

// MemoryDurable is a process-local [Durable]. It is the default when no backend is configured.
type MemoryDurable struct {
	mu sync.Mutex
	p  Persisted
}

// NewMemoryDurable returns an empty in-memory backend.
func NewMemoryDurable() *MemoryDurable {
	return &MemoryDurable{}
}

func (m *MemoryDurable) Load(context.Context) (Persisted, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.p, nil
}

func (m *MemoryDurable) Save(_ context.Context, p Persisted) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.p = p
	return nil
}

func (m *MemoryDurable) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.p = Persisted{}
	return nil
}
