package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/aicq-arbiter/internal/agent"
	"github.com/eldtechnologies/aicq-arbiter/internal/arbiter"
	"github.com/eldtechnologies/aicq-arbiter/internal/ids"
	"github.com/eldtechnologies/aicq-arbiter/internal/models"
)

const maxBodyLength = 4096

// CreateRoomRequest represents the room creation request.
type CreateRoomRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// RegisterParticipantRequest registers a webhook agent in a room.
type RegisterParticipantRequest struct {
	Priority int    `json:"priority"`
	Endpoint string `json:"endpoint"`
}

// MessageResponse represents a message in API responses.
type MessageResponse struct {
	ID         string `json:"id"`
	From       string `json:"from"`
	Body       string `json:"body"`
	ReplyTo    string `json:"reply_to,omitempty"`
	Timestamp  int64  `json:"ts"`
	Resolved   bool   `json:"resolved"`
	Collective bool   `json:"collective,omitempty"`
}

// RoomMessagesResponse represents the get room messages response.
type RoomMessagesResponse struct {
	Room     models.Room       `json:"room"`
	Messages []MessageResponse `json:"messages"`
	HasMore  bool              `json:"has_more"`
}

// PostMessageRequest represents the post message request.
type PostMessageRequest struct {
	ID         string `json:"id,omitempty"` // Caller-assigned, for idempotent retries
	From       string `json:"from"`
	Body       string `json:"body"`
	ReplyTo    string `json:"reply_to,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"` // RFC 3339 or unix ms; defaults to now
	Collective bool   `json:"collective,omitempty"`
}

// PostMessageResponse is returned once a message is queued for arbitration.
type PostMessageResponse struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
	State     string `json:"state"`
}

func toMessageResponse(msg models.Message) MessageResponse {
	return MessageResponse{
		ID:         msg.ID,
		From:       msg.SenderID,
		Body:       msg.Content,
		ReplyTo:    msg.ReplyToID,
		Timestamp:  msg.CreatedAt.UnixMilli(),
		Resolved:   msg.Resolved,
		Collective: msg.CollectiveMode,
	}
}

// CreateRoom registers a room. Registering an existing ID renames it.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.ID == "" {
		req.ID = ids.NewRecordID()
	}
	if !idRegex.MatchString(req.ID) {
		h.Error(w, http.StatusBadRequest, "id must be 1-64 characters, alphanumeric with hyphens and underscores only")
		return
	}
	req.Name = sanitizeName(req.Name)
	if req.Name == "" {
		req.Name = req.ID
	}

	status := http.StatusCreated
	if _, err := h.arbiter.RoomState(req.ID); err == nil {
		status = http.StatusOK
	}

	room := h.arbiter.RegisterRoom(models.Room{ID: req.ID, Name: req.Name})
	h.JSON(w, status, room)
}

// GetRoom returns the current room state snapshot.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	state, err := h.arbiter.RoomState(chi.URLParam(r, "id"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, state)
}

// RegisterParticipant makes a webhook agent eligible to answer in a room.
func (h *Handler) RegisterParticipant(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	pid := chi.URLParam(r, "pid")
	if !idRegex.MatchString(pid) {
		h.Error(w, http.StatusBadRequest, "invalid participant ID format")
		return
	}

	var req RegisterParticipantRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	u, err := url.Parse(req.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		h.Error(w, http.StatusBadRequest, "endpoint must be an http(s) URL")
		return
	}

	p := models.Participant{ID: pid, Priority: req.Priority}
	if err := h.arbiter.RegisterParticipant(roomID, p, agent.NewClient(req.Endpoint, pid)); err != nil {
		h.Fail(w, r, err)
		return
	}
	if state, err := h.arbiter.RoomState(roomID); err == nil {
		if current, ok := state.Participant(pid); ok {
			p = current
		}
	}

	h.logger.Info().
		Str("room_id", roomID).
		Str("participant_id", pid).
		Int("priority", p.Priority).
		Msg("participant registered")

	h.JSON(w, http.StatusOK, p)
}

// PostMessage ingests a message and queues it for arbitration.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	var req PostMessageRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Validate body
	if req.Body == "" {
		h.Error(w, http.StatusBadRequest, "body is required")
		return
	}
	if len(req.Body) > maxBodyLength {
		h.Error(w, http.StatusUnprocessableEntity, "body too long (max 4096 bytes)")
		return
	}
	req.From = sanitizeName(req.From)
	if req.From == "" {
		h.Error(w, http.StatusBadRequest, "from is required")
		return
	}
	if req.ID != "" && !idRegex.MatchString(req.ID) {
		h.Error(w, http.StatusBadRequest, "invalid message ID format")
		return
	}
	createdAt, err := parseTime(req.CreatedAt)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "created_at must be unix milliseconds or RFC 3339")
		return
	}

	msg, err := h.arbiter.Ingest(r.Context(), models.Message{
		ID:             req.ID,
		RoomID:         roomID,
		SenderID:       req.From,
		Content:        req.Body,
		ReplyToID:      req.ReplyTo,
		CreatedAt:      createdAt,
		CollectiveMode: req.Collective,
	})
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusAccepted, PostMessageResponse{
		ID:        msg.ID,
		Timestamp: msg.CreatedAt.UnixMilli(),
		State:     string(arbiter.StateReceived),
	})
}

// GetRoomMessages handles fetching messages from a room, newest first.
func (h *Handler) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	state, err := h.arbiter.RoomState(roomID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	limit := parseLimit(r, 50, 200)
	before, err := parseTime(r.URL.Query().Get("before"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "before must be unix milliseconds or RFC 3339")
		return
	}

	// Fetch one extra for the has_more check
	messages, err := h.messages.GetRoomMessages(r.Context(), roomID, limit+1, before)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	out := make([]MessageResponse, len(messages))
	for i, msg := range messages {
		out[i] = toMessageResponse(msg)
	}

	h.JSON(w, http.StatusOK, RoomMessagesResponse{
		Room:     state.Room,
		Messages: out,
		HasMore:  hasMore,
	})
}

// GetRoomOutcomes lists the most recent arbitration outcomes of a room.
func (h *Handler) GetRoomOutcomes(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if _, err := h.arbiter.RoomState(roomID); err != nil {
		h.Fail(w, r, err)
		return
	}

	outcomes, err := h.arbiter.RoomOutcomes(r.Context(), roomID, parseLimit(r, 50, 200))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	if outcomes == nil {
		outcomes = []models.ArbitrationOutcome{}
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"room_id":  roomID,
		"outcomes": outcomes,
	})
}

// muteFor resolves the mute deadline from either an absolute or relative value.
func muteFor(until, duration string, now time.Time) (time.Time, error) {
	if until != "" {
		return parseTime(until)
	}
	d, err := time.ParseDuration(duration)
	if err != nil {
		return time.Time{}, err
	}
	if d <= 0 {
		return time.Time{}, errors.New("duration must be positive")
	}
	return now.Add(d), nil
}
