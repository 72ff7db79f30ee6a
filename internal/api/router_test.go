package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/aicq-arbiter/internal/agent"
	"github.com/eldtechnologies/aicq-arbiter/internal/arbiter"
	"github.com/eldtechnologies/aicq-arbiter/internal/handlers"
	"github.com/eldtechnologies/aicq-arbiter/internal/ledger"
	"github.com/eldtechnologies/aicq-arbiter/internal/models"
	"github.com/eldtechnologies/aicq-arbiter/internal/store"
)

type testServer struct {
	router *chi.Mux
	coord  *arbiter.Coordinator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := store.NewMemoryStore()
	l := ledger.NewMemoryLedger()
	coord := arbiter.New(arbiter.Config{
		Threshold:             0.5,
		CollectionWindow:      time.Second,
		EvaluatorTimeout:      500 * time.Millisecond,
		ResponseTimeout:       time.Second,
		ContextWindowSize:     10,
		CollectiveCapacity:    2,
		Workers:               2,
		EvaluationConcurrency: 4,
	}, s, s, l, zerolog.Nop())
	coord.Start()
	t.Cleanup(coord.Close)

	h := handlers.NewHandler(coord, s, l, nil, zerolog.Nop())
	return &testServer{
		router: NewRouter(zerolog.Nop(), h, Options{}),
		coord:  coord,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

// webhookAgent serves the agent webhook contract with fixed answers.
func webhookAgent(t *testing.T, confidence float64, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/evaluate":
			json.NewEncoder(w).Encode(agent.Evaluation{Confidence: confidence, Reason: "webhook"})
		case "/respond":
			json.NewEncoder(w).Encode(agent.RespondResponse{Content: reply})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthAndInfo(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health handlers.HealthResponse
	decodeBody(t, rec, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "pass", health.Checks["ledger"].Status)
	assert.Equal(t, "in-memory", health.Checks["messages"].Message)

	rec = ts.do(t, http.MethodGet, "/api", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "default-src 'none'", rec.Header().Get("Content-Security-Policy"))
}

func TestRoomLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	winner := webhookAgent(t, 0.9, "webhook answer")
	quiet := webhookAgent(t, 0.1, "unused")

	rec := ts.do(t, http.MethodPost, "/rooms", map[string]string{"id": "lobby", "name": "Lobby"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(t, http.MethodPost, "/rooms", map[string]string{"id": "lobby", "name": "Main lobby"})
	require.Equal(t, http.StatusOK, rec.Code)
	var room models.Room
	decodeBody(t, rec, &room)
	assert.Equal(t, "Main lobby", room.Name)

	rec = ts.do(t, http.MethodPut, "/rooms/lobby/participants/alpha", map[string]interface{}{"priority": 1, "endpoint": winner.URL})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPut, "/rooms/lobby/participants/beta", map[string]interface{}{"priority": 1, "endpoint": quiet.URL})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPut, "/rooms/lobby/participants/gamma", map[string]interface{}{"endpoint": "ftp://nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/rooms/lobby/messages", map[string]interface{}{"id": "m-1", "from": "user", "body": "who knows Go?"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var posted handlers.PostMessageResponse
	decodeBody(t, rec, &posted)
	assert.Equal(t, "m-1", posted.ID)
	assert.Equal(t, "received", posted.State)

	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/messages/m-1/outcome", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var out handlers.OutcomeResponse
		decodeBody(t, rec, &out)
		return out.State == arbiter.StateDispatched
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		var history handlers.RoomMessagesResponse
		decodeBody(t, ts.do(t, http.MethodGet, "/rooms/lobby/messages", nil), &history)
		for _, m := range history.Messages {
			if m.ReplyTo == "m-1" && m.From == "alpha" && m.Body == "webhook answer" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	var decisions handlers.DecisionsResponse
	decodeBody(t, ts.do(t, http.MethodGet, "/messages/m-1/decisions", nil), &decisions)
	require.Len(t, decisions.Decisions, 2)

	var outcomes struct {
		Outcomes []models.ArbitrationOutcome `json:"outcomes"`
	}
	decodeBody(t, ts.do(t, http.MethodGet, "/rooms/lobby/outcomes", nil), &outcomes)
	require.Len(t, outcomes.Outcomes, 1)
	assert.Equal(t, []string{"alpha"}, outcomes.Outcomes[0].Accepted)
	reason, ok := outcomes.Outcomes[0].DenialReason("beta")
	require.True(t, ok)
	assert.Equal(t, models.ReasonBelowThreshold, reason)

	// Re-posting an answered message is rejected.
	rec = ts.do(t, http.MethodPost, "/rooms/lobby/messages", map[string]interface{}{"id": "m-1", "from": "user", "body": "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var stats handlers.StatsResponse
	decodeBody(t, ts.do(t, http.MethodGet, "/rooms/lobby/stats", nil), &stats)
	assert.Equal(t, 1, stats.Outcomes)
	assert.Equal(t, 1, stats.ByStatus["dispatched"])
	require.Len(t, stats.TopResponders, 1)
	assert.Equal(t, "alpha", stats.TopResponders[0].ParticipantID)

	var profile handlers.ParticipantResponse
	decodeBody(t, ts.do(t, http.MethodGet, "/rooms/lobby/participants/alpha", nil), &profile)
	assert.Equal(t, 1, profile.LastDay["respond"])
	assert.Equal(t, 1, profile.Accepted)

	var byParticipant handlers.DecisionsResponse
	decodeBody(t, ts.do(t, http.MethodGet, "/participants/beta/decisions", nil), &byParticipant)
	require.Len(t, byParticipant.Decisions, 1)
	assert.Equal(t, models.TagSilent, byParticipant.Decisions[0].Tag)
}

func TestIngestValidation(t *testing.T) {
	ts := newTestServer(t)
	ts.coord.RegisterRoom(models.Room{ID: "lobby"})

	tests := []struct {
		name string
		path string
		body interface{}
		want int
	}{
		{"unknown room", "/rooms/nowhere/messages", map[string]string{"from": "u", "body": "hi"}, http.StatusNotFound},
		{"missing body", "/rooms/lobby/messages", map[string]string{"from": "u"}, http.StatusBadRequest},
		{"missing sender", "/rooms/lobby/messages", map[string]string{"body": "hi"}, http.StatusBadRequest},
		{"body too long", "/rooms/lobby/messages", map[string]string{"from": "u", "body": strings.Repeat("x", 5000)}, http.StatusUnprocessableEntity},
		{"bad id", "/rooms/lobby/messages", map[string]string{"id": "a b", "from": "u", "body": "hi"}, http.StatusBadRequest},
		{"bad created_at", "/rooms/lobby/messages", map[string]string{"from": "u", "body": "hi", "created_at": "noon"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ts.do(t, http.MethodPost, tt.path, tt.body).Code)
		})
	}
}

func TestModerationEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.coord.RegisterRoom(models.Room{ID: "lobby"})
	require.NoError(t, ts.coord.RegisterParticipant("lobby", models.Participant{ID: "alpha"}, &agent.Static{Confidence: 0.9, Reply: "hi"}))

	rec := ts.do(t, http.MethodPost, "/rooms/lobby/participants/alpha/mute", map[string]string{"moderator_id": "mod"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodPost, "/rooms/lobby/participants/ghost/mute", map[string]string{"duration": "10m"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/rooms/lobby/participants/alpha/mute", map[string]string{"duration": "10m", "moderator_id": "mod"})
	require.Equal(t, http.StatusOK, rec.Code)
	var profile handlers.ParticipantResponse
	decodeBody(t, ts.do(t, http.MethodGet, "/rooms/lobby/participants/alpha", nil), &profile)
	assert.True(t, profile.Muted)

	rec = ts.do(t, http.MethodDelete, "/rooms/lobby/participants/alpha/mute", map[string]string{"moderator_id": "mod"})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, ts.do(t, http.MethodGet, "/rooms/lobby/participants/alpha", nil), &profile)
	assert.False(t, profile.Muted)

	rec = ts.do(t, http.MethodPut, "/rooms/lobby/participants/alpha/role", map[string]string{"moderator_id": "mod"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodPut, "/rooms/lobby/participants/alpha/role", map[string]interface{}{"priority": 3, "moderator_id": "mod"})
	require.Equal(t, http.StatusOK, rec.Code)
	state, err := ts.coord.RoomState("lobby")
	require.NoError(t, err)
	p, ok := state.Participant("alpha")
	require.True(t, ok)
	assert.Equal(t, 3, p.Priority)

	// Re-registering swaps the endpoint but leaves the tier alone.
	rec = ts.do(t, http.MethodPut, "/rooms/lobby/participants/alpha", map[string]interface{}{"priority": 9, "endpoint": "http://127.0.0.1:1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var registered models.Participant
	decodeBody(t, rec, &registered)
	assert.Equal(t, 3, registered.Priority)

	var history handlers.ModerationResponse
	decodeBody(t, ts.do(t, http.MethodGet, "/rooms/lobby/participants/alpha/moderation", nil), &history)
	require.Len(t, history.Events, 3)
	assert.Equal(t, models.ModerationMute, history.Events[0].Kind)
	assert.Equal(t, models.ModerationUnmute, history.Events[1].Kind)
	assert.Equal(t, models.ModerationRole, history.Events[2].Kind)
	require.NotNil(t, history.Events[2].Priority)
	assert.Equal(t, 3, *history.Events[2].Priority)

	decodeBody(t, ts.do(t, http.MethodGet, "/rooms/elsewhere/participants/alpha/moderation", nil), &history)
	assert.Empty(t, history.Events)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/messages/missing/resolve", nil).Code)

	msg, err := ts.coord.Ingest(context.Background(), models.Message{RoomID: "lobby", SenderID: "u", Content: "hello"})
	require.NoError(t, err)
	rec = ts.do(t, http.MethodPost, "/messages/"+msg.ID+"/resolve", map[string]string{"moderator_id": "mod"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resolved handlers.MessageResponse
	decodeBody(t, rec, &resolved)
	assert.True(t, resolved.Resolved)

	var events struct {
		Events []models.ModerationEvent `json:"events"`
	}
	decodeBody(t, ts.do(t, http.MethodGet, "/messages/"+msg.ID+"/moderation", nil), &events)
	require.Len(t, events.Events, 1)
	assert.Equal(t, models.ModerationResolve, events.Events[0].Kind)
	assert.Equal(t, "mod", events.Events[0].ModeratorID)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/moderation", nil).Code)
	from := time.Now().Add(-time.Hour).UnixMilli()
	decodeBody(t, ts.do(t, http.MethodGet, "/moderation?from="+strconv.FormatInt(from, 10), nil), &history)
	assert.Len(t, history.Events, 4)
}

func TestDecisionRangeRequiresFrom(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/decisions", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/decisions?from=yesterday", nil).Code)

	from := time.Now().Add(-time.Hour).UnixMilli()
	rec := ts.do(t, http.MethodGet, "/decisions?from="+strconv.FormatInt(from, 10), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp handlers.DecisionsResponse
	decodeBody(t, rec, &resp)
	assert.Empty(t, resp.Decisions)
	assert.NotNil(t, resp.Decisions)
}

func TestRoomEventsStream(t *testing.T) {
	ts := newTestServer(t)
	ts.coord.RegisterRoom(models.Room{ID: "lobby"})
	require.NoError(t, ts.coord.RegisterParticipant("lobby", models.Participant{ID: "alpha"}, &agent.Static{Confidence: 0.9, Reply: "streamed"}))

	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/rooms/lobby/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	msg, err := ts.coord.Ingest(context.Background(), models.Message{RoomID: "lobby", SenderID: "u", Content: "ping"})
	require.NoError(t, err)

	scanner := bufio.NewScanner(resp.Body)
	var event arbiter.Event
	for scanner.Scan() {
		line := scanner.Text()
		if line != "event: outcome" {
			continue
		}
		require.True(t, scanner.Scan())
		data := strings.TrimPrefix(scanner.Text(), "data: ")
		require.NoError(t, json.Unmarshal([]byte(data), &event))
		break
	}
	require.NotNil(t, event.Outcome, "no outcome event received")
	assert.Equal(t, msg.ID, event.Outcome.MessageID)
	assert.Equal(t, []string{"alpha"}, event.Outcome.Accepted)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/rooms/nowhere/events", nil).Code)
}
