package storage

import (
	"context"
	"sync"

	"github.com/org/ephemera/pkg/models"
)

var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend keeps messages in process memory. It is only suitable for
// development and tests: the guarantees hold within a single process.
type MemoryBackend struct {
	mu       sync.Mutex
	messages map[string]models.Message
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{messages: make(map[string]models.Message)}
}

func (m *MemoryBackend) Insert(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[msg.ID]; ok {
		return ErrAlreadyExists
	}
	m.messages[msg.ID] = *msg
	return nil
}

func (m *MemoryBackend) Get(ctx context.Context, id string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &msg, nil
}

func (m *MemoryBackend) CompareAndDecrement(ctx context.Context, id string, expected int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || msg.ViewsRemaining != expected {
		return false, nil
	}
	msg.ViewsRemaining--
	m.messages[id] = msg
	return true, nil
}

func (m *MemoryBackend) CompareAndDelete(ctx context.Context, id string, expected int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || msg.ViewsRemaining != expected {
		return false, nil
	}
	delete(m.messages, id)
	return true, nil
}

func (m *MemoryBackend) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, id)
	return nil
}

func (m *MemoryBackend) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.messages)), nil
}

func (m *MemoryBackend) Ping(ctx context.Context) error { return nil }

func (m *MemoryBackend) Close() {}
