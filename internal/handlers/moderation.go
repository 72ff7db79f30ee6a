package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// ModerationRequest carries the acting moderator for resolve/unresolve/unmute.
type ModerationRequest struct {
	ModeratorID string `json:"moderator_id"`
}

// MuteRequest mutes a participant until an instant or for a duration.
type MuteRequest struct {
	ModeratorID string `json:"moderator_id"`
	Until       string `json:"until,omitempty"`    // RFC 3339 or unix ms
	Duration    string `json:"duration,omitempty"` // e.g. "10m"
}

// RoleRequest changes a participant's priority tier.
type RoleRequest struct {
	ModeratorID string `json:"moderator_id"`
	Priority    *int   `json:"priority"`
}

// ResolveMessage marks a message resolved.
func (h *Handler) ResolveMessage(w http.ResponseWriter, r *http.Request) {
	var req ModerationRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := h.arbiter.Resolve(r.Context(), chi.URLParam(r, "id"), sanitizeName(req.ModeratorID))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, toMessageResponse(msg))
}

// UnresolveMessage clears a message's resolved flag.
func (h *Handler) UnresolveMessage(w http.ResponseWriter, r *http.Request) {
	var req ModerationRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := h.arbiter.Unresolve(r.Context(), chi.URLParam(r, "id"), sanitizeName(req.ModeratorID))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, toMessageResponse(msg))
}

// MuteParticipant excludes a participant from evaluation for a while.
func (h *Handler) MuteParticipant(w http.ResponseWriter, r *http.Request) {
	var req MuteRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Until == "" && req.Duration == "" {
		h.Error(w, http.StatusBadRequest, "until or duration is required")
		return
	}
	until, err := muteFor(req.Until, req.Duration, time.Now())
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid until or duration")
		return
	}

	roomID, pid := chi.URLParam(r, "id"), chi.URLParam(r, "pid")
	if err := h.arbiter.Mute(r.Context(), roomID, pid, until, sanitizeName(req.ModeratorID)); err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"participant_id": pid,
		"muted_until":    until.UTC(),
	})
}

// UnmuteParticipant lifts a mute.
func (h *Handler) UnmuteParticipant(w http.ResponseWriter, r *http.Request) {
	var req ModerationRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ModeratorID == "" {
		req.ModeratorID = r.URL.Query().Get("moderator_id")
	}

	roomID, pid := chi.URLParam(r, "id"), chi.URLParam(r, "pid")
	if err := h.arbiter.Unmute(r.Context(), roomID, pid, sanitizeName(req.ModeratorID)); err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"participant_id": pid,
		"muted":          false,
	})
}

// SetRole changes a participant's priority tier.
func (h *Handler) SetRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Priority == nil {
		h.Error(w, http.StatusBadRequest, "priority is required")
		return
	}

	roomID, pid := chi.URLParam(r, "id"), chi.URLParam(r, "pid")
	if err := h.arbiter.SetPriority(r.Context(), roomID, pid, *req.Priority, sanitizeName(req.ModeratorID)); err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"participant_id": pid,
		"priority":       *req.Priority,
	})
}
