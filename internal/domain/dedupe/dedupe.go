// Package dedupe remembers keys that were already reported.
package dedupe

import (
	"container/list"
	"context"
	"sync"
)

const defaultMaxSize = 4096

// Deduper records seen keys.
type Deduper interface {
	// SeenAndRecord reports whether key was seen and records it if not.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord forgets key so the next SeenAndRecord reports it as new.
	Unrecord(ctx context.Context, key string)

	Size() int
}

// set is a Deduper bounded by maxSize. When full, the oldest key is evicted.
type set struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List
	keys    map[string]*list.Element
}

// New creates a bounded Deduper.
func New(opts ...Option) Deduper {
	s := &set{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(s)
	}
	s.order = list.New()
	s.keys = make(map[string]*list.Element)
	return s
}

func (s *set) SeenAndRecord(_ context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key]; ok {
		return true
	}
	if s.maxSize > 0 && s.order.Len() >= s.maxSize {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.keys, oldest.Value.(string))
	}
	s.keys[key] = s.order.PushBack(key)
	return false
}

func (s *set) Unrecord(_ context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.keys[key]; ok {
		s.order.Remove(el)
		delete(s.keys, key)
	}
}

func (s *set) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
