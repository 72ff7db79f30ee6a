// Package ids generates identifiers for arbitration records and messages.
package ids

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewUUIDv7 generates a time-ordered UUID v7.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewRecordID returns a string UUIDv7 for ledger records.
func NewRecordID() string {
	return NewUUIDv7().String()
}

// NewMessageID returns a ULID, the message ID format used by the stores.
func NewMessageID() string {
	return ulid.Make().String()
}
