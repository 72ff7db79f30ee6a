package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/aicq-arbiter/internal/arbiter"
	"github.com/eldtechnologies/aicq-arbiter/internal/ledger"
	"github.com/eldtechnologies/aicq-arbiter/internal/store"
)

// idRegex validates room, participant and message identifiers.
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	arbiter  *arbiter.Coordinator
	messages store.MessageStore
	ledger   ledger.Ledger
	redis    *store.RedisStore // nil when messages live in memory
	logger   zerolog.Logger
}

// NewHandler creates a new Handler. redis may be nil.
func NewHandler(coord *arbiter.Coordinator, messages store.MessageStore, l ledger.Ledger, redis *store.RedisStore, logger zerolog.Logger) *Handler {
	return &Handler{
		arbiter:  coord,
		messages: messages,
		ledger:   l,
		redis:    redis,
		logger:   logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// Fail maps coordinator and store errors onto HTTP status codes.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, arbiter.ErrRoomNotFound):
		h.Error(w, http.StatusNotFound, "room not found")
	case errors.Is(err, arbiter.ErrParticipantNotFound):
		h.Error(w, http.StatusNotFound, "participant not found")
	case errors.Is(err, arbiter.ErrMessageNotFound):
		h.Error(w, http.StatusNotFound, "message not found")
	case errors.Is(err, arbiter.ErrDuplicateMessage):
		h.Error(w, http.StatusConflict, "message already arbitrated")
	case errors.Is(err, arbiter.ErrClosed):
		h.Error(w, http.StatusServiceUnavailable, "arbiter shutting down")
	default:
		h.logger.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// decode reads a JSON body. An empty body leaves dst untouched.
func decode(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(dst)
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	// Remove control characters
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	// Limit to 100 characters
	if len(name) > 100 {
		name = name[:100]
	}

	return name
}

// parseLimit reads ?limit= with a default and an upper bound.
func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	if limit > max {
		limit = max
	}
	return limit
}

// parseTime accepts RFC 3339 or unix milliseconds. Empty yields the zero time.
func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// parseRange reads the from/to query parameters.
func parseRange(r *http.Request) (from, to time.Time, err error) {
	if from, err = parseTime(r.URL.Query().Get("from")); err != nil {
		return
	}
	to, err = parseTime(r.URL.Query().Get("to"))
	return
}
