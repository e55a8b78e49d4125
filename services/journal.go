package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Journal persists session records so live mix accounts survive a daemon
// restart and can be recovered.
type Journal interface {
	// Create stores a new record. Fails with ErrSessionExists when a record
	// with the same ID is already stored.
	Create(ctx context.Context, rec *SessionRecord) error
	Save(ctx context.Context, rec *SessionRecord) error
	Get(ctx context.Context, id string) (*SessionRecord, error)
	List(ctx context.Context) ([]*SessionRecord, error)
}

// InMemoryJournal implements Journal without a database.
type InMemoryJournal struct {
	mu      sync.RWMutex
	records map[string]*SessionRecord
}

// NewInMemoryJournal creates an in-memory journal.
func NewInMemoryJournal() *InMemoryJournal {
	return &InMemoryJournal{
		records: make(map[string]*SessionRecord),
	}
}

// Create stores a copy of a new record.
func (j *InMemoryJournal) Create(ctx context.Context, rec *SessionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.records[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, rec.ID)
	}
	j.records[rec.ID] = rec.clone()
	return nil
}

// Save stores a copy of the record.
func (j *InMemoryJournal) Save(ctx context.Context, rec *SessionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records[rec.ID] = rec.clone()
	return nil
}

// Get returns a copy of the record.
func (j *InMemoryJournal) Get(ctx context.Context, id string) (*SessionRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rec, ok := j.records[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return rec.clone(), nil
}

// List returns all records, oldest first.
func (j *InMemoryJournal) List(ctx context.Context) ([]*SessionRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]*SessionRecord, 0, len(j.records))
	for _, rec := range j.records {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out, nil
}
