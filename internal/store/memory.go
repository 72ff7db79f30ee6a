package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eldtechnologies/aicq-arbiter/internal/ids"
	"github.com/eldtechnologies/aicq-arbiter/internal/models"
)

// MemoryStore keeps messages and dispatch claims in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]models.Message
	rooms    map[string][]string // room ID -> message IDs
	claims   map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]models.Message),
		rooms:    make(map[string][]string),
		claims:   make(map[string]struct{}),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ids.NewMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[msg.ID]; !exists {
		s.rooms[msg.RoomID] = append(s.rooms[msg.RoomID], msg.ID)
	}
	s.messages[msg.ID] = *msg
	return nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, msgID string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[msgID]
	if !ok {
		return nil, nil
	}
	return &msg, nil
}

// GetRoomMessages returns messages newest first, honoring the same
// millisecond-granularity before bound as RedisStore.
func (s *MemoryStore) GetRoomMessages(ctx context.Context, roomID string, limit int, before time.Time) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Message, 0)
	for _, id := range s.rooms[roomID] {
		msg := s.messages[id]
		if !before.IsZero() && msg.CreatedAt.UnixMilli() >= before.UnixMilli() {
			continue
		}
		out = append(out, msg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SetResolution(ctx context.Context, msgID string, resolved bool, by string, at time.Time) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[msgID]
	if !ok {
		return nil, ErrMessageNotFound
	}
	applyResolution(&msg, resolved, by, at)
	s.messages[msgID] = msg
	return &msg, nil
}

func (s *MemoryStore) ClaimDispatch(ctx context.Context, messageID, participantID string) (bool, error) {
	key := dispatchKey(messageID, participantID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.claims[key]; taken {
		return false, nil
	}
	s.claims[key] = struct{}{}
	return true, nil
}

var (
	_ MessageStore = (*MemoryStore)(nil)
	_ Claimer      = (*MemoryStore)(nil)
)
