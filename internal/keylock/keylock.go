// Package keylock provides mutual exclusion per string key.
package keylock

import "sync"

// Locker hands out one mutex per key. Mutexes exist only while held or
// waited on, so the number of tracked keys is bounded by concurrency, not by
// the number of keys ever used. The zero value is ready for use.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*keyMutex
}

type keyMutex struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until key is free and returns the function that releases it.
func (l *Locker) Lock(key string) (unlock func()) {
	m := l.acquire(key)
	m.mu.Lock()
	return func() { l.release(key, m) }
}

// TryLock locks key only if no one else holds it.
func (l *Locker) TryLock(key string) (unlock func(), ok bool) {
	m := l.acquire(key)
	if !m.mu.TryLock() {
		l.drop(key, m)
		return nil, false
	}
	return func() { l.release(key, m) }, true
}

// Len returns the number of keys currently held or waited on.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *Locker) acquire(key string) *keyMutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locks == nil {
		l.locks = make(map[string]*keyMutex)
	}
	m, ok := l.locks[key]
	if !ok {
		m = &keyMutex{}
		l.locks[key] = m
	}
	m.refs++
	return m
}

func (l *Locker) release(key string, m *keyMutex) {
	m.mu.Unlock()
	l.drop(key, m)
}

func (l *Locker) drop(key string, m *keyMutex) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m.refs--
	if m.refs == 0 {
		delete(l.locks, key)
	}
}
