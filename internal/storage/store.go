package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/org/ephemera/pkg/models"
)

const (
	// DefaultMaxViews bounds the quota a sender may request.
	DefaultMaxViews = 100

	insertAttempts = 3
)

// Store keeps consumable messages on top of a Backend. It owns id allocation,
// quota validation and the consume protocol; backends only supply atomic
// conditional writes.
type Store struct {
	backend  Backend
	maxViews int
	newID    func() string
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMaxViews sets the largest accepted quota.
func WithMaxViews(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxViews = n
		}
	}
}

// WithIDGenerator replaces the default UUIDv4 generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewStore creates a Store over b.
func NewStore(b Backend, opts ...Option) *Store {
	s := &Store{
		backend:  b,
		maxViews: DefaultMaxViews,
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxViews returns the largest accepted quota.
func (s *Store) MaxViews() int {
	return s.maxViews
}

// Put persists rec with the given view quota and returns its new id. The id
// is only returned once the backend has durably accepted the row.
func (s *Store) Put(ctx context.Context, rec models.SealedRecord, quota int) (string, error) {
	if rec.IsZero() {
		return "", ErrEmptyRecord
	}
	if quota < 1 || quota > s.maxViews {
		return "", fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidQuota, quota, s.maxViews)
	}
	for attempt := 0; attempt < insertAttempts; attempt++ {
		msg := &models.Message{
			ID:             s.newID(),
			Record:         rec,
			ViewsRemaining: quota,
			CreatedAt:      s.now(),
		}
		err := s.backend.Insert(ctx, msg)
		if err == nil {
			return msg.ID, nil
		}
		if !errors.Is(err, ErrAlreadyExists) {
			return "", fmt.Errorf("%w: inserting message: %w", ErrStorage, err)
		}
	}
	return "", fmt.Errorf("%w: could not allocate a unique id", ErrStorage)
}

// Take consumes one view of the message and returns its record. Concurrent
// takes on the same id are linearizable: for a quota of n exactly n calls
// succeed and every other caller gets ErrNotFound.
//
// A record returned here is gone from the store's point of view. If the
// caller drops it, that view is lost.
func (s *Store) Take(ctx context.Context, id string) (models.SealedRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return models.SealedRecord{}, err
		}

		msg, err := s.backend.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return models.SealedRecord{}, ErrNotFound
			}
			return models.SealedRecord{}, fmt.Errorf("%w: reading message: %w", ErrStorage, err)
		}
		if msg.Exhausted() {
			return models.SealedRecord{}, ErrNotFound
		}

		var won bool
		if msg.ViewsRemaining == 1 {
			won, err = s.backend.CompareAndDelete(ctx, id, 1)
		} else {
			won, err = s.backend.CompareAndDecrement(ctx, id, msg.ViewsRemaining)
		}
		if err != nil {
			return models.SealedRecord{}, fmt.Errorf("%w: consuming message: %w", ErrStorage, err)
		}
		if won {
			// Records never change after Put and ids are never reused, so
			// the record read above is the one whose view we just consumed.
			return msg.Record, nil
		}
		// Another taker moved views_remaining first; re-read.
	}
}

// Delete removes a message. Deleting an unknown id succeeds.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.backend.Delete(ctx, id); err != nil {
		return fmt.Errorf("%w: deleting message: %w", ErrStorage, err)
	}
	return nil
}

// Count returns the number of live messages.
func (s *Store) Count(ctx context.Context) (int64, error) {
	n, err := s.backend.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: counting messages: %w", ErrStorage, err)
	}
	return n, nil
}

// Ping checks the backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close closes the backend.
func (s *Store) Close() {
	s.backend.Close()
}
