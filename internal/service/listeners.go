package service

import (
	"sort"
	"sync"
)

// AuthListeners is a registry of auth state listeners for Auth implementations.
// The zero value is ready to use.
type AuthListeners struct {
	mu     sync.Mutex
	fns    map[int]func(AuthEvent)
	nextID int
}

// Add registers fn and returns a function that removes it. The returned
// function is safe to call more than once.
func (l *AuthListeners) Add(fn func(AuthEvent)) func() {
	l.mu.Lock()
	if l.fns == nil {
		l.fns = make(map[int]func(AuthEvent))
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

// Emit calls every listener in registration order, without holding the lock.
func (l *AuthListeners) Emit(ev AuthEvent) {
	l.mu.Lock()
	ids := make([]int, 0, len(l.fns))
	for id := range l.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(AuthEvent), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, l.fns[id])
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Len returns the number of registered listeners.
func (l *AuthListeners) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}
