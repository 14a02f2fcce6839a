// Package relay composes the cipher and the consumable store into the
// send/receive operations exposed to clients.
package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/org/ephemera/internal/crypto"
	"github.com/org/ephemera/internal/storage"
	"github.com/org/ephemera/pkg/models"
)

const (
	DefaultMaxMessageBytes = 64 * 1024
	DefaultViews           = 1
)

var (
	ErrEmptyMessage    = errors.New("message is empty")
	ErrMessageTooLarge = errors.New("message too large")
)

var (
	messagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ephemera_messages_sent_total",
		Help: "Messages accepted and stored.",
	})
	messagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ephemera_messages_received_total",
		Help: "Views successfully delivered.",
	})
	messagesMissed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ephemera_messages_missed_total",
		Help: "Receive attempts for unknown or exhausted messages.",
	})
	integrityFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ephemera_integrity_failures_total",
		Help: "Stored records that failed authentication on receive.",
	})
)

func init() {
	prometheus.MustRegister(messagesSent, messagesReceived, messagesMissed, integrityFailures)
}

// MessageStore is what the relay needs from storage.Store.
type MessageStore interface {
	Put(ctx context.Context, rec models.SealedRecord, quota int) (string, error)
	Take(ctx context.Context, id string) (models.SealedRecord, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
	MaxViews() int
}

// Options tunes request validation.
type Options struct {
	MaxMessageBytes int
	DefaultViews    int
}

// Relay seals messages on the way in and unseals them on the way out.
type Relay struct {
	store  MessageStore
	cipher *crypto.Cipher
	opts   Options
}

// New creates a Relay. Zero options fall back to the package defaults.
func New(store MessageStore, cipher *crypto.Cipher, opts Options) *Relay {
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if opts.DefaultViews <= 0 {
		opts.DefaultViews = DefaultViews
	}
	return &Relay{store: store, cipher: cipher, opts: opts}
}

// MaxMessageBytes returns the largest accepted plaintext.
func (r *Relay) MaxMessageBytes() int {
	return r.opts.MaxMessageBytes
}

// MaxViews returns the largest quota a sender may request.
func (r *Relay) MaxViews() int {
	return r.store.MaxViews()
}

// DefaultViews returns the quota applied when a sender asks for none.
func (r *Relay) DefaultViews() int {
	return r.opts.DefaultViews
}

// Send encrypts plaintext and stores it with the given view quota. A quota of
// zero selects the configured default.
func (r *Relay) Send(ctx context.Context, plaintext []byte, views int) (string, error) {
	if len(plaintext) == 0 {
		return "", ErrEmptyMessage
	}
	if len(plaintext) > r.opts.MaxMessageBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrMessageTooLarge, len(plaintext), r.opts.MaxMessageBytes)
	}
	if views == 0 {
		views = r.opts.DefaultViews
	}

	rec, err := r.cipher.Seal(plaintext)
	if err != nil {
		return "", err
	}
	id, err := r.store.Put(ctx, rec, views)
	if err != nil {
		return "", err
	}
	messagesSent.Inc()
	log.Debug().Str("id", id).Int("views", views).Msg("message stored")
	return id, nil
}

// Receive consumes one view of the message and returns its plaintext.
// Unknown, exhausted and undecryptable messages all yield storage.ErrNotFound.
func (r *Relay) Receive(ctx context.Context, id string) ([]byte, error) {
	if _, err := uuid.Parse(id); err != nil {
		messagesMissed.Inc()
		return nil, storage.ErrNotFound
	}

	rec, err := r.store.Take(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			messagesMissed.Inc()
		}
		return nil, err
	}

	plaintext, err := r.cipher.Unseal(rec)
	if err != nil {
		integrityFailures.Inc()
		log.Warn().Err(err).Msg("stored message could not be decrypted")
		log.Debug().Str("id", id).Msg("integrity failure")
		return nil, storage.ErrNotFound
	}
	messagesReceived.Inc()
	return plaintext, nil
}

// Delete removes a message regardless of its remaining views.
func (r *Relay) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	return r.store.Delete(ctx, id)
}

// Pending returns the number of messages that still have views left.
func (r *Relay) Pending(ctx context.Context) (int64, error) {
	return r.store.Count(ctx)
}

// Ping reports whether the backing store is reachable.
func (r *Relay) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}
