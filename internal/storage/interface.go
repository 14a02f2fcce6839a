package storage

import (
	"context"
	"errors"

	"github.com/org/ephemera/pkg/models"
)

var (
	// ErrNotFound is returned when a message does not exist or has no views
	// left. Callers cannot tell the two cases apart.
	ErrNotFound = errors.New("message not found")

	// ErrAlreadyExists is returned by Backend.Insert when the id is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrStorage wraps failures of the backing store.
	ErrStorage = errors.New("storage failure")

	// ErrInvalidQuota is returned for view quotas outside the allowed range.
	ErrInvalidQuota = errors.New("invalid view quota")

	// ErrEmptyRecord is returned by Put for a record without nonce and
	// ciphertext.
	ErrEmptyRecord = errors.New("empty sealed record")
)

// Backend is the set of primitives a concrete store must offer for Store to
// implement the consume protocol. Every method is a single atomic operation
// on the backing store; no method may be emulated with a read followed by a
// separate write.
type Backend interface {
	// Insert creates msg. It fails with ErrAlreadyExists if msg.ID is taken
	// and never leaves a partially written row behind.
	Insert(ctx context.Context, msg *models.Message) error

	// Get returns the current state of a message or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Message, error)

	// CompareAndDecrement lowers views_remaining by one if and only if it
	// currently equals expected. It reports whether the write happened.
	CompareAndDecrement(ctx context.Context, id string, expected int) (bool, error)

	// CompareAndDelete removes the message if and only if views_remaining
	// currently equals expected. It reports whether the delete happened.
	CompareAndDelete(ctx context.Context, id string, expected int) (bool, error)

	// Delete removes the message unconditionally. Deleting a missing id is
	// not an error.
	Delete(ctx context.Context, id string) error

	// Count returns the number of stored messages.
	Count(ctx context.Context) (int64, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close()
}
