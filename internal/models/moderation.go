package models

import "time"

// ModerationKind identifies a moderation command.
type ModerationKind string

const (
	ModerationResolve   ModerationKind = "resolve"
	ModerationUnresolve ModerationKind = "unresolve"
	ModerationMute      ModerationKind = "mute"
	ModerationUnmute    ModerationKind = "unmute"
	ModerationRole      ModerationKind = "role"
)

// ModerationEvent is the ledger entry written for every moderation command.
type ModerationEvent struct {
	ID            string         `json:"id"` // UUIDv7
	Kind          ModerationKind `json:"kind"`
	RoomID        string         `json:"room_id,omitempty"`
	MessageID     string         `json:"message_id,omitempty"`
	ParticipantID string         `json:"participant_id,omitempty"`
	ModeratorID   string         `json:"moderator_id,omitempty"`
	Until         *time.Time     `json:"until,omitempty"`
	Priority      *int           `json:"priority,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
