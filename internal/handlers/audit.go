package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/aicq-arbiter/internal/arbiter"
	"github.com/eldtechnologies/aicq-arbiter/internal/models"
)

// DecisionsResponse lists ledger decisions for an audit query.
type DecisionsResponse struct {
	MessageID     string                       `json:"message_id,omitempty"`
	ParticipantID string                       `json:"participant_id,omitempty"`
	From          *time.Time                   `json:"from,omitempty"`
	To            *time.Time                   `json:"to,omitempty"`
	Decisions     []models.ParticipantDecision `json:"decisions"`
}

// OutcomeResponse reports a message's lifecycle state and committed outcome.
type OutcomeResponse struct {
	MessageID string                     `json:"message_id"`
	State     arbiter.State              `json:"state"`
	Outcome   *models.ArbitrationOutcome `json:"outcome"`
}

// ModerationResponse lists ledger moderation events for an audit query.
type ModerationResponse struct {
	MessageID     string                   `json:"message_id,omitempty"`
	RoomID        string                   `json:"room_id,omitempty"`
	ParticipantID string                   `json:"participant_id,omitempty"`
	From          *time.Time               `json:"from,omitempty"`
	To            *time.Time               `json:"to,omitempty"`
	Events        []models.ModerationEvent `json:"events"`
}

func nonNilEvents(e []models.ModerationEvent) []models.ModerationEvent {
	if e == nil {
		return []models.ModerationEvent{}
	}
	return e
}

func nonNilDecisions(d []models.ParticipantDecision) []models.ParticipantDecision {
	if d == nil {
		return []models.ParticipantDecision{}
	}
	return d
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// MessageDecisions returns every decision logged for a message.
func (h *Handler) MessageDecisions(w http.ResponseWriter, r *http.Request) {
	msgID := chi.URLParam(r, "id")
	decisions, err := h.arbiter.Decisions(r.Context(), msgID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, DecisionsResponse{
		MessageID: msgID,
		Decisions: nonNilDecisions(decisions),
	})
}

// MessageOutcome returns the arbitration state and outcome of a message.
func (h *Handler) MessageOutcome(w http.ResponseWriter, r *http.Request) {
	msgID := chi.URLParam(r, "id")

	state, err := h.arbiter.State(r.Context(), msgID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	outcome, err := h.arbiter.Outcome(r.Context(), msgID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	if state == arbiter.StateUnknown && outcome == nil {
		h.Error(w, http.StatusNotFound, "no arbitration for message")
		return
	}

	h.JSON(w, http.StatusOK, OutcomeResponse{
		MessageID: msgID,
		State:     state,
		Outcome:   outcome,
	})
}

// MessageModeration returns the moderation history of a message.
func (h *Handler) MessageModeration(w http.ResponseWriter, r *http.Request) {
	msgID := chi.URLParam(r, "id")
	events, err := h.arbiter.ModerationEvents(r.Context(), msgID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, ModerationResponse{
		MessageID: msgID,
		Events:    nonNilEvents(events),
	})
}

// ParticipantModeration returns the mute, unmute and role history of a
// participant within ?from&to.
func (h *Handler) ParticipantModeration(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	pid := chi.URLParam(r, "pid")
	from, to, err := parseRange(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "from and to must be unix milliseconds or RFC 3339")
		return
	}

	events, err := h.arbiter.ParticipantModeration(r.Context(), roomID, pid, from, to)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, ModerationResponse{
		RoomID:        roomID,
		ParticipantID: pid,
		From:          optionalTime(from),
		To:            optionalTime(to),
		Events:        nonNilEvents(events),
	})
}

// ModerationInRange returns all moderation events within ?from&to. from is required.
func (h *Handler) ModerationInRange(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.requiredRange(w, r)
	if !ok {
		return
	}

	events, err := h.arbiter.ModerationInRange(r.Context(), from, to)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, ModerationResponse{
		From:   optionalTime(from),
		To:     optionalTime(to),
		Events: nonNilEvents(events),
	})
}

// requiredRange parses ?from&to, writing a 400 when from is missing or the
// range is inverted.
func (h *Handler) requiredRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	from, to, err := parseRange(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "from and to must be unix milliseconds or RFC 3339")
		return from, to, false
	}
	if from.IsZero() {
		h.Error(w, http.StatusBadRequest, "from is required")
		return from, to, false
	}
	if !to.IsZero() && to.Before(from) {
		h.Error(w, http.StatusBadRequest, "to must not be before from")
		return from, to, false
	}
	return from, to, true
}

// ParticipantDecisions returns one participant's decisions within ?from&to.
func (h *Handler) ParticipantDecisions(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")
	from, to, err := parseRange(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "from and to must be unix milliseconds or RFC 3339")
		return
	}

	decisions, err := h.arbiter.ParticipantDecisions(r.Context(), pid, from, to)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, DecisionsResponse{
		ParticipantID: pid,
		From:          optionalTime(from),
		To:            optionalTime(to),
		Decisions:     nonNilDecisions(decisions),
	})
}

// DecisionsInRange returns all decisions within ?from&to. from is required.
func (h *Handler) DecisionsInRange(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.requiredRange(w, r)
	if !ok {
		return
	}

	decisions, err := h.arbiter.DecisionsInRange(r.Context(), from, to)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, DecisionsResponse{
		From:      optionalTime(from),
		To:        optionalTime(to),
		Decisions: nonNilDecisions(decisions),
	})
}
