// Package memory provides in-process stores used for local runs and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/observability"
)

// DraftRepository keeps every draft in memory, newest last per key.
type DraftRepository struct {
	mu     sync.RWMutex
	drafts map[string][]domain.Draft
}

// NewDraftRepository constructs an empty repository.
func NewDraftRepository() *DraftRepository {
	return &DraftRepository{drafts: make(map[string][]domain.Draft)}
}

// Create implements domain.DraftRepository.
func (r *DraftRepository) Create(ctx context.Context, draft domain.Draft) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	history := r.drafts[draft.Key]
	if n := len(history); n > 0 && !history[n-1].State.Terminal() {
		return domain.ErrDraftExists
	}
	r.drafts[draft.Key] = append(history, draft.Clone())
	return nil
}

// Get implements domain.DraftRepository.
func (r *DraftRepository) Get(ctx context.Context, key string) (*domain.Draft, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := r.drafts[key]
	if len(history) == 0 {
		return nil, nil
	}
	draft := history[len(history)-1].Clone()
	return &draft, nil
}

// List implements domain.DraftRepository.
func (r *DraftRepository) List(ctx context.Context, cursor *domain.Cursor, limit int) ([]domain.Draft, *domain.Cursor, error) {
	r.mu.RLock()
	var all []domain.Draft
	for _, history := range r.drafts {
		for _, d := range history {
			all = append(all, d.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	results := make([]domain.Draft, 0, limit)
	for _, d := range all {
		if cursor != nil && !before(d, *cursor) {
			continue
		}
		results = append(results, d)
		if len(results) == limit {
			break
		}
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, next, nil
}

func before(d domain.Draft, c domain.Cursor) bool {
	if d.CreatedAt.Equal(c.CreatedAt) {
		return d.ID < c.ID
	}
	return d.CreatedAt.Before(c.CreatedAt)
}

// Update implements domain.DraftRepository. The whole repository is locked
// for the duration of fn, which serializes writers for every key.
func (r *DraftRepository) Update(ctx context.Context, key string, fn func(*domain.Draft) error) (*domain.Draft, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	history := r.drafts[key]
	if len(history) == 0 {
		return nil, domain.ErrDraftNotFound
	}
	current := history[len(history)-1]
	working := current.Clone()
	if err := fn(&working); err != nil {
		if errors.Is(err, domain.ErrNoChange) {
			out := current.Clone()
			return &out, nil
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	working.Version = current.Version + 1
	if working.UpdatedAt.IsZero() {
		working.UpdatedAt = time.Now().UTC()
	}
	history[len(history)-1] = working
	if working.State != current.State {
		observability.RecordTransition(working.State.String())
	}
	out := working.Clone()
	return &out, nil
}
