package models

import (
	"time"
)

// Participant is an AI agent eligible to answer in a room.
type Participant struct {
	ID         string     `json:"id"`
	Priority   int        `json:"priority"` // Higher tier wins ties
	MutedUntil *time.Time `json:"muted_until,omitempty"`
	LastChosen *time.Time `json:"last_selected_at,omitempty"`
}

// IsMuted reports whether the participant is muted at the given instant.
func (p *Participant) IsMuted(now time.Time) bool {
	return p.MutedUntil != nil && p.MutedUntil.After(now)
}

// Room represents a channel or group for messaging.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomState is a consistent snapshot of a room's arbitration state.
type RoomState struct {
	Room         Room          `json:"room"`
	Participants []Participant `json:"participants"`
	Collective   []string      `json:"collective_messages,omitempty"` // Messages with collective mode active
	TakenAt      time.Time     `json:"taken_at"`
}

// Participant returns the snapshot entry for id.
func (s *RoomState) Participant(id string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}
