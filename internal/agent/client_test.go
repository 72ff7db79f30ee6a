package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/aicq-arbiter/internal/models"
)

func newAgentServer(t *testing.T, confidence float64, reply string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/evaluate", func(w http.ResponseWriter, r *http.Request) {
		var req EvaluateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "bot-a", req.ParticipantID)
		json.NewEncoder(w).Encode(Evaluation{Confidence: confidence, Reason: "knows " + req.Message.Content})
	})
	mux.HandleFunc("/respond", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(RespondResponse{Content: reply})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientEvaluateAndRespond(t *testing.T) {
	srv := newAgentServer(t, 0.8, "hello there")
	c := NewClient(srv.URL+"/", "bot-a")

	msg := models.Message{ID: "m1", Content: "golang", CreatedAt: time.Now()}
	eval, err := c.Evaluate(context.Background(), msg, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.8, eval.Confidence)
	assert.Equal(t, "knows golang", eval.Reason)

	reply, err := c.Respond(context.Background(), msg, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply)
}

func TestClientClampsConfidence(t *testing.T) {
	srv := newAgentServer(t, 1.7, "")
	c := NewClient(srv.URL, "bot-a")

	eval, err := c.Evaluate(context.Background(), models.Message{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, eval.Confidence)
}

func TestClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"model unavailable"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "bot-a").Evaluate(context.Background(), models.Message{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestClientHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewClient(srv.URL, "bot-a").Evaluate(ctx, models.Message{}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientRejectsOversizedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":"`))
		w.Write(bytes.Repeat([]byte("x"), maxResponseBytes))
		w.Write([]byte(`"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "bot-a").Respond(context.Background(), models.Message{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}
