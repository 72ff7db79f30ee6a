package arbiter

import (
	"sort"
	"sync"
	"time"

	"github.com/eldtechnologies/aicq-arbiter/internal/agent"
	"github.com/eldtechnologies/aicq-arbiter/internal/models"
)

type member struct {
	participant models.Participant
	agent       agent.Agent
}

// roomState is the per-room arbitration state owned by the Coordinator.
// All access goes through mu.
type roomState struct {
	mu         sync.RWMutex
	room       models.Room
	members    map[string]*member
	collective map[string]struct{}
}

func newRoomState(room models.Room) *roomState {
	return &roomState{
		room:       room,
		members:    make(map[string]*member),
		collective: make(map[string]struct{}),
	}
}

// roster is a consistent copy of a room taken at evaluation start.
type roster struct {
	state  models.RoomState
	agents map[string]agent.Agent
}

func (r *roomState) snapshot(now time.Time) roster {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := roster{
		state: models.RoomState{
			Room:         r.room,
			Participants: make([]models.Participant, 0, len(r.members)),
			Collective:   make([]string, 0, len(r.collective)),
			TakenAt:      now,
		},
		agents: make(map[string]agent.Agent, len(r.members)),
	}
	for id, m := range r.members {
		out.state.Participants = append(out.state.Participants, copyParticipant(m.participant))
		out.agents[id] = m.agent
	}
	for msgID := range r.collective {
		out.state.Collective = append(out.state.Collective, msgID)
	}
	sort.Slice(out.state.Participants, func(i, j int) bool {
		return out.state.Participants[i].ID < out.state.Participants[j].ID
	})
	sort.Strings(out.state.Collective)
	return out
}

func copyParticipant(p models.Participant) models.Participant {
	if p.MutedUntil != nil {
		t := *p.MutedUntil
		p.MutedUntil = &t
	}
	if p.LastChosen != nil {
		t := *p.LastChosen
		p.LastChosen = &t
	}
	return p
}

// upsert registers a participant or replaces the agent of an existing one.
// An existing participant keeps its priority, mute and selection history;
// tier changes go through SetPriority so they reach the ledger.
func (r *roomState) upsert(p models.Participant, a agent.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[p.ID]; ok {
		m.agent = a
		return
	}
	r.members[p.ID] = &member{participant: copyParticipant(p), agent: a}
}

// update applies fn to a participant under the room lock.
func (r *roomState) update(participantID string, fn func(p *models.Participant)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[participantID]
	if !ok {
		return false
	}
	fn(&m.participant)
	return true
}

// lastSelected returns the last selection time of each participant that has
// ever been selected.
func (r *roomState) lastSelected() map[string]time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]time.Time, len(r.members))
	for id, m := range r.members {
		if m.participant.LastChosen != nil {
			out[id] = *m.participant.LastChosen
		}
	}
	return out
}

func (r *roomState) markSelected(ids []string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if m, ok := r.members[id]; ok {
			t := at
			m.participant.LastChosen = &t
		}
	}
}

func (r *roomState) setCollective(msgID string) {
	r.mu.Lock()
	r.collective[msgID] = struct{}{}
	r.mu.Unlock()
}

func (r *roomState) clearCollective(msgID string) {
	r.mu.Lock()
	delete(r.collective, msgID)
	r.mu.Unlock()
}

func (r *roomState) isCollective(msgID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.collective[msgID]
	return ok
}
