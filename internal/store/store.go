package store

import (
	"context"
	"errors"
	"time"

	"github.com/eldtechnologies/aicq-arbiter/internal/models"
)

// ErrMessageNotFound is returned when mutating a message that does not exist.
var ErrMessageNotFound = errors.New("message not found")

// MessageStore defines storage for room messages.
// Both RedisStore and MemoryStore implement this interface.
type MessageStore interface {
	// Connection management
	Close() error
	Ping(ctx context.Context) error

	// Message operations
	AddMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, msgID string) (*models.Message, error)
	GetRoomMessages(ctx context.Context, roomID string, limit int, before time.Time) ([]models.Message, error)
	SetResolution(ctx context.Context, msgID string, resolved bool, by string, at time.Time) (*models.Message, error)
}

// Claimer hands out at-most-once dispatch rights keyed by
// (messageID, participantID).
type Claimer interface {
	ClaimDispatch(ctx context.Context, messageID, participantID string) (bool, error)
}

// ContextWindow returns up to size messages that precede msg in its room,
// oldest first. Messages created after msg are never visible.
func ContextWindow(ctx context.Context, s MessageStore, msg models.Message, size int) ([]models.Message, error) {
	recent, err := s.GetRoomMessages(ctx, msg.RoomID, size+1, msg.CreatedAt.Add(time.Millisecond))
	if err != nil {
		return nil, err
	}

	window := make([]models.Message, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		m := recent[i]
		if m.ID == msg.ID || m.CreatedAt.After(msg.CreatedAt) {
			continue
		}
		window = append(window, m)
	}
	if len(window) > size {
		window = window[len(window)-size:]
	}
	return window, nil
}

func applyResolution(msg *models.Message, resolved bool, by string, at time.Time) {
	msg.Resolved = resolved
	if resolved {
		msg.ResolvedBy = by
		t := at
		msg.ResolvedAt = &t
		return
	}
	msg.ResolvedBy = ""
	msg.ResolvedAt = nil
}
