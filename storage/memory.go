package storage

import (
	"bytes"
	"context"
	"sync"

	"github.com/ruteri/mpc-custody/interfaces"
)

// MemoryBackend is an in-process StorageBackend for tests and development.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
	name string
}

func NewMemoryBackend(name string) *MemoryBackend {
	if name == "" {
		name = "default"
	}
	return &MemoryBackend{data: make(map[string][]byte), name: name}
}

func (b *MemoryBackend) Fetch(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	if !ok {
		return nil, interfaces.ErrContentNotFound
	}
	return bytes.Clone(v), nil
}

func (b *MemoryBackend) Store(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = bytes.Clone(data)
	return nil
}

func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

func (b *MemoryBackend) Name() string {
	return "memory-" + b.name
}

func (b *MemoryBackend) LocationURI() string {
	return "memory://" + b.name
}

// Keys returns the number of stored keys.
func (b *MemoryBackend) Keys() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// NewMemoryStore is a RecordStore over a fresh MemoryBackend.
func NewMemoryStore() *RecordStore {
	return NewRecordStore(NewMemoryBackend(""), nil)
}
