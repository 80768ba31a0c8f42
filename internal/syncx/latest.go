// Package syncx provides extended synchronization primitives
package syncx

import "sync"

// Latest holds the most recent value of something published by one goroutine
// and read by others. Every write bumps a version, so readers can tell a
// fresh value from one they already handled. Version 0 means never written.
type Latest[T any] struct {
	mu      sync.RWMutex
	value   T
	version uint64
}

// NewLatest creates a cell holding initial at version 0.
func NewLatest[T any](initial T) *Latest[T] {
	return &Latest[T]{value: initial}
}

// Get returns a copy of the value and its version.
func (l *Latest[T]) Get() (T, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.value, l.version
}

// Value returns a copy of the value.
func (l *Latest[T]) Value() T {
	v, _ := l.Get()
	return v
}

// Set replaces the value and returns the new version.
func (l *Latest[T]) Set(v T) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.value = v
	l.version++
	return l.version
}

// Update mutates the value in place under the write lock and returns the
// result.
func (l *Latest[T]) Update(fn func(*T)) T {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(&l.value)
	l.version++
	return l.value
}

// Since returns the value if it was written after version seen.
func (l *Latest[T]) Since(seen uint64) (T, uint64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.value, l.version, l.version > seen
}
