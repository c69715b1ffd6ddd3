package storage

import (
	"context"
	"sync"
)

const subscriberBuffer = 64

// MemoryBackend keeps every origin in process memory.
type MemoryBackend struct {
	mu      sync.Mutex
	origins map[string]*MemoryStore
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{origins: make(map[string]*MemoryStore)}
}

func (b *MemoryBackend) Origin(name string) Store {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.origins[name]
	if !ok {
		s = NewMemoryStore()
		b.origins[name] = s
	}
	return s
}

func (b *MemoryBackend) Close() error {
	return nil
}

// MemoryStore implements Store with a map and an in-process fan-out.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string

	subsMu sync.Mutex
	subs   map[chan Change]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]string),
		subs:   make(map[chan Change]struct{}),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()

	s.publish(Change{Key: key, Source: SourceFrom(ctx)})
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()

	s.publish(Change{Key: key, Source: SourceFrom(ctx)})
	return nil
}

func (s *MemoryStore) Watch(ctx context.Context) (<-chan Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan Change, subscriberBuffer)

	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subsMu.Lock()
		delete(s.subs, ch)
		close(ch)
		s.subsMu.Unlock()
	}()

	return ch, nil
}

// publish never blocks: a subscriber that is not keeping up loses the change.
func (s *MemoryStore) publish(change Change) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for ch := range s.subs {
		select {
		case ch <- change:
		default:
		}
	}
}
