package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/aicq-arbiter/internal/models"
)

// ParticipantResponse is a participant profile with its recent activity.
type ParticipantResponse struct {
	models.Participant
	RoomID   string         `json:"room_id"`
	Muted    bool           `json:"muted"`
	LastDay  map[string]int `json:"last_day"` // decisions by tag
	Accepted int            `json:"accepted_last_day"`
}

// Participant handles participant profile lookup within a room.
func (h *Handler) Participant(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	pid := chi.URLParam(r, "pid")

	state, err := h.arbiter.RoomState(roomID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	p, ok := state.Participant(pid)
	if !ok {
		h.Error(w, http.StatusNotFound, "participant not found")
		return
	}

	now := time.Now().UTC()
	decisions, err := h.arbiter.ParticipantDecisions(r.Context(), pid, now.Add(-24*time.Hour), time.Time{})
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	resp := ParticipantResponse{
		Participant: p,
		RoomID:      roomID,
		Muted:       p.IsMuted(now),
		LastDay:     map[string]int{string(models.TagRespond): 0, string(models.TagSilent): 0},
	}
	for _, d := range decisions {
		if d.RoomID != roomID || d.Discarded != "" {
			continue
		}
		resp.LastDay[string(d.Tag)]++
	}

	outcomes, err := h.arbiter.RoomOutcomes(r.Context(), roomID, statsSampleSize)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	for _, o := range outcomes {
		if o.CompletedAt.Before(now.Add(-24 * time.Hour)) {
			continue
		}
		for _, a := range o.Accepted {
			if a == pid {
				resp.Accepted++
			}
		}
	}

	h.JSON(w, http.StatusOK, resp)
}
