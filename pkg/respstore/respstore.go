// Package respstore provides a thread-safe keyed map with at-most-one-writer-per-key
// semantics. A single mutex covers the whole map.
package respstore

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrKeyAlreadyPresent = errors.New("key already present")
	ErrKeyNotPresent     = errors.New("key not present")
	// ErrLockUnavailable is returned once a panic left the store poisoned.
	ErrLockUnavailable = errors.New("could not acquire store lock")
)

// KeyError reports which key an operation failed on.
type KeyError[K comparable] struct {
	Key K
	Err error
}

func (e *KeyError[K]) Error() string { return fmt.Sprintf("%v: %v", e.Err, e.Key) }
func (e *KeyError[K]) Unwrap() error { return e.Err }

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Store is a mutex-guarded map. Insertion never overwrites an existing key.
type Store[K comparable, V any] struct {
	mu       sync.Mutex
	poisoned bool
	items    map[K]*list.Element
	order    *list.List // insertion order, oldest at front

	maxEntries int
	onEvict    func(K, V)
}

// Option configures a Store with matching type parameters.
type Option[K comparable, V any] func(*Store[K, V])

// WithMaxEntries bounds the store. When full, adding a new key evicts the oldest
// inserted entry. Zero or negative means unbounded, which is the default.
func WithMaxEntries[K comparable, V any](n int) Option[K, V] {
	return func(s *Store[K, V]) { s.maxEntries = n }
}

// WithEvictHook registers fn to be called, under the store lock, for every evicted
// entry.
func WithEvictHook[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(s *Store[K, V]) { s.onEvict = fn }
}

func New[K comparable, V any](opts ...Option[K, V]) *Store[K, V] {
	s := &Store[K, V]{
		items: make(map[K]*list.Element),
		order: list.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store[K, V]) lock() error {
	s.mu.Lock()
	if s.poisoned {
		s.mu.Unlock()
		return ErrLockUnavailable
	}
	return nil
}

// unlock must be deferred directly so that recover observes a panic raised
// while the lock was held.
func (s *Store[K, V]) unlock() {
	if r := recover(); r != nil {
		s.poisoned = true
		s.mu.Unlock()
		panic(r)
	}
	s.mu.Unlock()
}

// AddEntry inserts value under key. If key exists the stored value is left in place,
// value is dropped and ErrKeyAlreadyPresent is returned.
func (s *Store[K, V]) AddEntry(key K, value V) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.unlock()

	if _, ok := s.items[key]; ok {
		return &KeyError[K]{Key: key, Err: ErrKeyAlreadyPresent}
	}
	if s.maxEntries > 0 && s.order.Len() >= s.maxEntries {
		s.evictOldest()
	}
	s.items[key] = s.order.PushBack(&entry[K, V]{key: key, value: value})
	return nil
}

// RemoveEntry removes key and returns the stored pair.
func (s *Store[K, V]) RemoveEntry(key K) (K, V, error) {
	var zero V
	if err := s.lock(); err != nil {
		return key, zero, err
	}
	defer s.unlock()

	el, ok := s.items[key]
	if !ok {
		return key, zero, &KeyError[K]{Key: key, Err: ErrKeyNotPresent}
	}
	e := s.order.Remove(el).(*entry[K, V])
	delete(s.items, key)
	return e.key, e.value, nil
}

// Lookup returns the value stored under key without removing it.
func (s *Store[K, V]) Lookup(key K) (V, error) {
	var zero V
	if err := s.lock(); err != nil {
		return zero, err
	}
	defer s.unlock()

	el, ok := s.items[key]
	if !ok {
		return zero, &KeyError[K]{Key: key, Err: ErrKeyNotPresent}
	}
	return el.Value.(*entry[K, V]).value, nil
}

// Len returns the number of stored entries, or 0 for a poisoned store.
func (s *Store[K, V]) Len() int {
	if err := s.lock(); err != nil {
		return 0
	}
	defer s.unlock()
	return len(s.items)
}

func (s *Store[K, V]) evictOldest() {
	front := s.order.Front()
	if front == nil {
		return
	}
	e := s.order.Remove(front).(*entry[K, V])
	delete(s.items, e.key)
	if s.onEvict != nil {
		s.onEvict(e.key, e.value)
	}
}
