package models

import "time"

// DecisionTag is the provisional verdict of a single participant.
type DecisionTag string

const (
	TagRespond DecisionTag = "respond"
	TagSilent  DecisionTag = "silent"
)

// Reasons attached to decisions and denials.
const (
	ReasonMessageResolved    = "message-resolved"
	ReasonParticipantMuted   = "participant-muted"
	ReasonEvaluatorTimeout   = "evaluator-timeout"
	ReasonEvaluatorError     = "evaluator-error"
	ReasonBelowThreshold     = "below-threshold"
	ReasonLowerPriority      = "lower-priority-responding"
	ReasonCollectiveCapacity = "collective-mode-capacity-exceeded"
	ReasonLateDecision       = "late-decision-discarded"
	ReasonResolvedDuringEval = "resolved-during-evaluation"
	ReasonNoDecision         = "no-decision-before-window-close"
	ReasonNoResponder        = "no-responder"
	ReasonArbitrationError   = "arbitration-error"
)

// ParticipantDecision is one participant's verdict on one message.
// Decisions are immutable once appended to the ledger.
type ParticipantDecision struct {
	ID                 string        `json:"id"` // UUIDv7
	MessageID          string        `json:"message_id"`
	RoomID             string        `json:"room_id"`
	ParticipantID      string        `json:"participant_id"`
	RawConfidence      float64       `json:"raw_confidence"`
	AdjustedConfidence float64       `json:"adjusted_confidence"`
	Tag                DecisionTag   `json:"tag"`
	Reason             string        `json:"reason"`
	Priority           int           `json:"priority"`
	Latency            time.Duration `json:"latency_ns"`
	CreatedAt          time.Time     `json:"created_at"`

	// Set when the decision reached the coordinator after the outcome was
	// committed, or after the message was resolved mid-evaluation.
	Discarded       string `json:"discarded,omitempty"`
	MessageResolved bool   `json:"message_resolved,omitempty"`
}

// IsCandidate reports whether the decision competes for the response slot.
func (d *ParticipantDecision) IsCandidate() bool {
	return d.Tag == TagRespond && d.Discarded == ""
}
