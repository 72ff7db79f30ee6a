package models

import "time"

// OutcomeStatus is the terminal state recorded for an arbitration.
type OutcomeStatus string

const (
	StatusDispatched OutcomeStatus = "dispatched"
	StatusSuppressed OutcomeStatus = "suppressed"
)

// Denial records why a participant did not get to respond.
type Denial struct {
	ParticipantID string `json:"participant_id"`
	Reason        string `json:"reason"`
}

// ArbitrationOutcome is the single committed result of arbitrating a message.
type ArbitrationOutcome struct {
	ID          string        `json:"id"` // UUIDv7
	MessageID   string        `json:"message_id"`
	RoomID      string        `json:"room_id"`
	Status      OutcomeStatus `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	Collective  bool          `json:"collective"`
	Capacity    int           `json:"capacity"`
	Accepted    []string      `json:"accepted"`
	Denied      []Denial      `json:"denied"`
	CompletedAt time.Time     `json:"completed_at"`
}

// DenialReason returns the recorded denial reason for a participant.
func (o *ArbitrationOutcome) DenialReason(participantID string) (string, bool) {
	for _, d := range o.Denied {
		if d.ParticipantID == participantID {
			return d.Reason, true
		}
	}
	return "", false
}
