// Package ledger is the append-only audit trail of every participant
// decision, arbitration outcome and moderation event. Records are never
// updated or deleted; appending an identical record twice is a no-op.
package ledger

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/eldtechnologies/aicq-arbiter/internal/models"
)

var (
	// ErrConflict is returned when a record ID is reused with different content.
	ErrConflict = errors.New("ledger record already exists with different content")
	// ErrInvalidRecord is returned for records without an ID.
	ErrInvalidRecord = errors.New("ledger record is missing required fields")
)

// Ledger defines the audit store. MemoryLedger, PostgresLedger and
// SQLiteLedger implement it; Retrying wraps any of them.
type Ledger interface {
	// Writes
	AppendDecision(ctx context.Context, d models.ParticipantDecision) error
	AppendOutcome(ctx context.Context, o models.ArbitrationOutcome) error
	AppendModeration(ctx context.Context, e models.ModerationEvent) error

	// Queries
	DecisionsByMessage(ctx context.Context, messageID string) ([]models.ParticipantDecision, error)
	DecisionsByParticipant(ctx context.Context, participantID string, from, to time.Time) ([]models.ParticipantDecision, error)
	DecisionsInRange(ctx context.Context, from, to time.Time) ([]models.ParticipantDecision, error)
	Outcome(ctx context.Context, messageID string) (*models.ArbitrationOutcome, error)
	OutcomesByRoom(ctx context.Context, roomID string, limit int) ([]models.ArbitrationOutcome, error)
	ModerationEvents(ctx context.Context, messageID string) ([]models.ModerationEvent, error)
	ModerationByParticipant(ctx context.Context, participantID string, from, to time.Time) ([]models.ModerationEvent, error)
	ModerationInRange(ctx context.Context, from, to time.Time) ([]models.ModerationEvent, error)

	// Connection management
	Ping(ctx context.Context) error
	Close()
}

// inRange reports whether t is within [from, to]. A zero bound is open.
func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

// sameRecord reports whether two records are deeply equal. Callers pass
// records through the normalize helpers first.
func sameRecord(a, b interface{}) bool {
	return reflect.DeepEqual(a, b)
}

func normalizeDecision(d models.ParticipantDecision) models.ParticipantDecision {
	d.CreatedAt = d.CreatedAt.UTC().Truncate(time.Microsecond)
	return d
}

func normalizeOutcome(o models.ArbitrationOutcome) models.ArbitrationOutcome {
	o.CompletedAt = o.CompletedAt.UTC().Truncate(time.Microsecond)
	if o.Accepted == nil {
		o.Accepted = []string{}
	}
	if o.Denied == nil {
		o.Denied = []models.Denial{}
	}
	return o
}

func normalizeModeration(e models.ModerationEvent) models.ModerationEvent {
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Microsecond)
	if e.Until != nil {
		u := e.Until.UTC().Truncate(time.Microsecond)
		e.Until = &u
	}
	return e
}
