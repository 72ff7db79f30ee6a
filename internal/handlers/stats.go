package handlers

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/aicq-arbiter/internal/models"
)

// statsSampleSize bounds how many recent outcomes feed the room stats.
const statsSampleSize = 500

// ResponderStats counts how often a participant was granted the response.
type ResponderStats struct {
	ParticipantID string `json:"participant_id"`
	Selected      int    `json:"selected"`
}

// StatsResponse summarizes recent arbitration activity in a room.
type StatsResponse struct {
	RoomID        string           `json:"room_id"`
	Participants  int              `json:"participants"`
	Outcomes      int              `json:"outcomes"`
	ByStatus      map[string]int   `json:"by_status"`
	ByReason      map[string]int   `json:"by_reason"`
	Denials       map[string]int   `json:"denials"`
	TopResponders []ResponderStats `json:"top_responders"`
	LastActivity  string           `json:"last_activity"`
}

// RoomStats summarizes the most recent outcomes of a room.
func (h *Handler) RoomStats(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	state, err := h.arbiter.RoomState(roomID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	outcomes, err := h.arbiter.RoomOutcomes(r.Context(), roomID, statsSampleSize)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, summarize(roomID, len(state.Participants), outcomes))
}

func summarize(roomID string, participants int, outcomes []models.ArbitrationOutcome) StatsResponse {
	resp := StatsResponse{
		RoomID:        roomID,
		Participants:  participants,
		Outcomes:      len(outcomes),
		ByStatus:      make(map[string]int),
		ByReason:      make(map[string]int),
		Denials:       make(map[string]int),
		TopResponders: []ResponderStats{},
		LastActivity:  "no activity yet",
	}

	selected := make(map[string]int)
	var last time.Time
	for _, o := range outcomes {
		resp.ByStatus[string(o.Status)]++
		if o.Reason != "" {
			resp.ByReason[o.Reason]++
		}
		for _, d := range o.Denied {
			resp.Denials[d.Reason]++
		}
		for _, pid := range o.Accepted {
			selected[pid]++
		}
		if o.CompletedAt.After(last) {
			last = o.CompletedAt
		}
	}
	if !last.IsZero() {
		resp.LastActivity = formatTimeAgo(last)
	}

	for pid, n := range selected {
		resp.TopResponders = append(resp.TopResponders, ResponderStats{ParticipantID: pid, Selected: n})
	}
	sort.Slice(resp.TopResponders, func(i, j int) bool {
		a, b := resp.TopResponders[i], resp.TopResponders[j]
		if a.Selected != b.Selected {
			return a.Selected > b.Selected
		}
		return a.ParticipantID < b.ParticipantID
	})
	if len(resp.TopResponders) > 5 {
		resp.TopResponders = resp.TopResponders[:5]
	}
	return resp
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return strconv.Itoa(mins) + " minutes ago"
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return strconv.Itoa(hours) + " hours ago"
	default:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return strconv.Itoa(days) + " days ago"
	}
}
