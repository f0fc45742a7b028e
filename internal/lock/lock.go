// Package lock provides per-draft mutual exclusion for submission passes.
package lock

import (
	"context"
	"sync"

	"example.com/worklog/internal/domain"
)

// Local is an in-process domain.Locker. It never blocks: a held key fails
// fast with domain.ErrSubmissionInProgress.
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocal constructs a Local locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]bool)}
}

// Acquire implements domain.Locker.
func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrSubmissionInProgress
	}
	l.held[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// Chain acquires every locker in order and releases in reverse. It lets a
// process guard against its own goroutines cheaply before asking Redis.
type Chain []domain.Locker

// Acquire implements domain.Locker.
func (c Chain) Acquire(ctx context.Context, key string) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, l := range c {
		release, err := l.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
