package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eldtechnologies/aicq-arbiter/internal/models"
)

// MemoryLedger keeps the audit trail in process memory. It backs tests and
// development runs without a database.
type MemoryLedger struct {
	mu          sync.RWMutex
	decisions   []models.ParticipantDecision
	decisionIdx map[string]int
	outcomes    map[string]models.ArbitrationOutcome // by message ID
	outcomeIDs  map[string]string                    // outcome ID -> message ID
	outcomeSeq  []string                             // message IDs in commit order
	moderation  []models.ModerationEvent
	modIdx      map[string]int
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		decisionIdx: make(map[string]int),
		outcomes:    make(map[string]models.ArbitrationOutcome),
		outcomeIDs:  make(map[string]string),
		modIdx:      make(map[string]int),
	}
}

func (l *MemoryLedger) Ping(ctx context.Context) error { return nil }

func (l *MemoryLedger) Close() {}

// AppendDecision stores a decision once.
func (l *MemoryLedger) AppendDecision(ctx context.Context, d models.ParticipantDecision) error {
	if d.ID == "" || d.MessageID == "" || d.ParticipantID == "" {
		return ErrInvalidRecord
	}
	d = normalizeDecision(d)

	l.mu.Lock()
	defer l.mu.Unlock()
	if i, ok := l.decisionIdx[d.ID]; ok {
		if sameRecord(l.decisions[i], d) {
			return nil
		}
		return ErrConflict
	}
	l.decisionIdx[d.ID] = len(l.decisions)
	l.decisions = append(l.decisions, d)
	return nil
}

// AppendOutcome stores the outcome for a message. A message has at most one
// outcome; a second, different outcome for the same message is a conflict.
func (l *MemoryLedger) AppendOutcome(ctx context.Context, o models.ArbitrationOutcome) error {
	if o.ID == "" || o.MessageID == "" {
		return ErrInvalidRecord
	}
	o = normalizeOutcome(o)

	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.outcomes[o.MessageID]; ok {
		if sameRecord(existing, o) {
			return nil
		}
		return ErrConflict
	}
	if _, ok := l.outcomeIDs[o.ID]; ok {
		return ErrConflict
	}
	l.outcomes[o.MessageID] = o
	l.outcomeIDs[o.ID] = o.MessageID
	l.outcomeSeq = append(l.outcomeSeq, o.MessageID)
	return nil
}

// AppendModeration stores a moderation event once.
func (l *MemoryLedger) AppendModeration(ctx context.Context, e models.ModerationEvent) error {
	if e.ID == "" || e.Kind == "" {
		return ErrInvalidRecord
	}
	e = normalizeModeration(e)

	l.mu.Lock()
	defer l.mu.Unlock()
	if i, ok := l.modIdx[e.ID]; ok {
		if sameRecord(l.moderation[i], e) {
			return nil
		}
		return ErrConflict
	}
	l.modIdx[e.ID] = len(l.moderation)
	l.moderation = append(l.moderation, e)
	return nil
}

func (l *MemoryLedger) DecisionsByMessage(ctx context.Context, messageID string) ([]models.ParticipantDecision, error) {
	return l.filterDecisions(func(d *models.ParticipantDecision) bool {
		return d.MessageID == messageID
	}), nil
}

func (l *MemoryLedger) DecisionsByParticipant(ctx context.Context, participantID string, from, to time.Time) ([]models.ParticipantDecision, error) {
	return l.filterDecisions(func(d *models.ParticipantDecision) bool {
		return d.ParticipantID == participantID && inRange(d.CreatedAt, from, to)
	}), nil
}

func (l *MemoryLedger) DecisionsInRange(ctx context.Context, from, to time.Time) ([]models.ParticipantDecision, error) {
	return l.filterDecisions(func(d *models.ParticipantDecision) bool {
		return inRange(d.CreatedAt, from, to)
	}), nil
}

func (l *MemoryLedger) Outcome(ctx context.Context, messageID string) (*models.ArbitrationOutcome, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.outcomes[messageID]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

// OutcomesByRoom returns the most recent outcomes first.
func (l *MemoryLedger) OutcomesByRoom(ctx context.Context, roomID string, limit int) ([]models.ArbitrationOutcome, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []models.ArbitrationOutcome{}
	for i := len(l.outcomeSeq) - 1; i >= 0; i-- {
		o := l.outcomes[l.outcomeSeq[i]]
		if o.RoomID != roomID {
			continue
		}
		out = append(out, o)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (l *MemoryLedger) ModerationEvents(ctx context.Context, messageID string) ([]models.ModerationEvent, error) {
	return l.filterModeration(func(e *models.ModerationEvent) bool {
		return e.MessageID == messageID
	}), nil
}

func (l *MemoryLedger) ModerationByParticipant(ctx context.Context, participantID string, from, to time.Time) ([]models.ModerationEvent, error) {
	return l.filterModeration(func(e *models.ModerationEvent) bool {
		return e.ParticipantID == participantID && inRange(e.CreatedAt, from, to)
	}), nil
}

func (l *MemoryLedger) ModerationInRange(ctx context.Context, from, to time.Time) ([]models.ModerationEvent, error) {
	return l.filterModeration(func(e *models.ModerationEvent) bool {
		return inRange(e.CreatedAt, from, to)
	}), nil
}

func (l *MemoryLedger) filterModeration(match func(e *models.ModerationEvent) bool) []models.ModerationEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []models.ModerationEvent{}
	for i := range l.moderation {
		if match(&l.moderation[i]) {
			out = append(out, l.moderation[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// filterDecisions returns matches ordered by creation time.
func (l *MemoryLedger) filterDecisions(match func(d *models.ParticipantDecision) bool) []models.ParticipantDecision {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []models.ParticipantDecision{}
	for i := range l.decisions {
		if match(&l.decisions[i]) {
			out = append(out, l.decisions[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
