package arbiter

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/aicq-arbiter/internal/models"
)

// EventType distinguishes the events fanned out to room subscribers.
type EventType string

const (
	EventOutcome  EventType = "outcome"
	EventResponse EventType = "response"
)

// Event is delivered to subscribers of a room.
type Event struct {
	Type    EventType                  `json:"type"`
	RoomID  string                     `json:"room_id"`
	Outcome *models.ArbitrationOutcome `json:"outcome,omitempty"`
	Message *models.Message            `json:"message,omitempty"`
}

// Publisher is the downstream transport for dispatched responses.
type Publisher interface {
	PublishResponse(msg models.Message)
}

const subscriberBuffer = 64

// Hub fans out room events to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Event]struct{}
	logger zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[chan Event]struct{}),
		logger: logger,
	}
}

// Subscribe registers for a room's events. The returned cancel func
// unsubscribes and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(roomID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[roomID] == nil {
		h.subs[roomID] = make(map[chan Event]struct{})
	}
	h.subs[roomID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[roomID], ch)
			if len(h.subs[roomID]) == 0 {
				delete(h.subs, roomID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber of e.RoomID.
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[e.RoomID] {
		select {
		case ch <- e:
		default:
			h.logger.Warn().Str("room_id", e.RoomID).Str("type", string(e.Type)).Msg("subscriber too slow, event dropped")
		}
	}
}

// PublishOutcome announces a committed outcome.
func (h *Hub) PublishOutcome(o models.ArbitrationOutcome) {
	h.Publish(Event{Type: EventOutcome, RoomID: o.RoomID, Outcome: &o})
}

// PublishResponse announces a dispatched response message.
func (h *Hub) PublishResponse(msg models.Message) {
	h.Publish(Event{Type: EventResponse, RoomID: msg.RoomID, Message: &msg})
}

// Subscribers returns the number of subscribers for a room.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[roomID])
}
