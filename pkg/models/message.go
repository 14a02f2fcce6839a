package models

import "time"

// SealedRecord is the encrypted form of a message as it is stored and
// transmitted. Both fields are lowercase hex.
type SealedRecord struct {
	Nonce      string
	Ciphertext string // includes the GCM tag
}

// IsZero reports whether the record carries no data.
func (r SealedRecord) IsZero() bool {
	return r.Nonce == "" && r.Ciphertext == ""
}

// Message is a stored, consumable message.
type Message struct {
	ID             string
	Record         SealedRecord
	ViewsRemaining int
	CreatedAt      time.Time
}

// Exhausted reports whether no further views are permitted.
func (m *Message) Exhausted() bool {
	return m.ViewsRemaining < 1
}
