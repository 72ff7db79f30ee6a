package arbiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/aicq-arbiter/internal/agent"
	"github.com/eldtechnologies/aicq-arbiter/internal/metrics"
	"github.com/eldtechnologies/aicq-arbiter/internal/models"
	"github.com/eldtechnologies/aicq-arbiter/internal/store"
)

var (
	// ErrAlreadyDispatched means the (message, participant) key was claimed before.
	ErrAlreadyDispatched = errors.New("response already dispatched")
	// ErrMessageResolved means the message was resolved before dispatch.
	ErrMessageResolved = errors.New("message resolved")
	// ErrEmptyResponse means the responder produced no content.
	ErrEmptyResponse = errors.New("empty response")
)

// Dispatcher requests responses from accepted participants and emits them.
type Dispatcher struct {
	store     store.MessageStore
	claims    store.Claimer
	publisher Publisher
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewDispatcher creates a dispatcher. A zero timeout means 30 seconds.
func NewDispatcher(s store.MessageStore, claims store.Claimer, publisher Publisher, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		store:     s,
		claims:    claims,
		publisher: publisher,
		timeout:   timeout,
		logger:    logger,
	}
}

// Dispatch asks participantID for its answer to msg and stores it as a
// reply. Each (message, participant) pair is dispatched at most once.
func (d *Dispatcher) Dispatch(ctx context.Context, msg models.Message, participantID string, responder agent.Responder, window []models.Message) (*models.Message, error) {
	current, err := d.store.GetMessage(ctx, msg.ID)
	if err != nil {
		metrics.Dispatches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("reload message: %w", err)
	}
	if current != nil && current.Resolved {
		metrics.Dispatches.WithLabelValues("suppressed").Inc()
		return nil, ErrMessageResolved
	}

	won, err := d.claims.ClaimDispatch(ctx, msg.ID, participantID)
	if err != nil {
		metrics.Dispatches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("claim dispatch: %w", err)
	}
	if !won {
		metrics.Dispatches.WithLabelValues("duplicate").Inc()
		return nil, ErrAlreadyDispatched
	}

	rctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	content, err := responder.Respond(rctx, msg, window)
	if err != nil {
		metrics.Dispatches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("respond: %w", err)
	}
	if content == "" {
		metrics.Dispatches.WithLabelValues("error").Inc()
		return nil, ErrEmptyResponse
	}

	reply := &models.Message{
		RoomID:    msg.RoomID,
		SenderID:  participantID,
		Content:   content,
		ReplyToID: msg.ID,
	}
	if err := d.store.AddMessage(ctx, reply); err != nil {
		metrics.Dispatches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("store reply: %w", err)
	}

	d.publisher.PublishResponse(*reply)
	metrics.Dispatches.WithLabelValues("sent").Inc()

	d.logger.Info().
		Str("message_id", msg.ID).
		Str("participant_id", participantID).
		Str("reply_id", reply.ID).
		Msg("response dispatched")

	return reply, nil
}
