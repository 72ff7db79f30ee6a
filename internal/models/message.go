package models

import "time"

// Message represents a chat message stored in Redis.
type Message struct {
	ID             string     `json:"id"` // ULID
	RoomID         string     `json:"room_id"`
	SenderID       string     `json:"from"`
	Content        string     `json:"body"`
	ReplyToID      string     `json:"reply_to,omitempty"` // Set on dispatched responses
	CreatedAt      time.Time  `json:"created_at"`
	CollectiveMode bool       `json:"collective,omitempty"`
	Resolved       bool       `json:"resolved"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// Age returns how long ago the message was created, relative to now.
func (m *Message) Age(now time.Time) time.Duration {
	if now.Before(m.CreatedAt) {
		return 0
	}
	return now.Sub(m.CreatedAt)
}
