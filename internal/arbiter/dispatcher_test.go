package arbiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/aicq-arbiter/internal/agent"
	"github.com/eldtechnologies/aicq-arbiter/internal/models"
	"github.com/eldtechnologies/aicq-arbiter/internal/store"
)

type recordingPublisher struct {
	sent []models.Message
}

func (p *recordingPublisher) PublishResponse(msg models.Message) {
	p.sent = append(p.sent, msg)
}

func newDispatchFixture(t *testing.T) (*Dispatcher, *store.MemoryStore, *recordingPublisher, models.Message) {
	t.Helper()
	s := store.NewMemoryStore()
	pub := &recordingPublisher{}
	msg := &models.Message{RoomID: testRoom, SenderID: "user", Content: "what time is it?"}
	require.NoError(t, s.AddMessage(context.Background(), msg))
	return NewDispatcher(s, s, pub, time.Second, zerolog.Nop()), s, pub, *msg
}

func TestDispatchLinksReplyAndPublishes(t *testing.T) {
	d, s, pub, msg := newDispatchFixture(t)

	reply, err := d.Dispatch(context.Background(), msg, "alpha", &agent.Static{Reply: "noon"}, nil)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, reply.ReplyToID)
	assert.Equal(t, "alpha", reply.SenderID)
	assert.NotEmpty(t, reply.ID)

	stored, err := s.GetMessage(context.Background(), reply.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "noon", stored.Content)

	require.Len(t, pub.sent, 1)
	assert.Equal(t, reply.ID, pub.sent[0].ID)
}

func TestDispatchIsAtMostOncePerParticipant(t *testing.T) {
	d, _, pub, msg := newDispatchFixture(t)
	responder := &agent.Static{Reply: "noon"}

	_, err := d.Dispatch(context.Background(), msg, "alpha", responder, nil)
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), msg, "alpha", responder, nil)
	assert.ErrorIs(t, err, ErrAlreadyDispatched)

	_, err = d.Dispatch(context.Background(), msg, "beta", responder, nil)
	require.NoError(t, err)
	assert.Len(t, pub.sent, 2)
}

func TestDispatchSkipsResolvedMessages(t *testing.T) {
	d, s, pub, msg := newDispatchFixture(t)
	_, err := s.SetResolution(context.Background(), msg.ID, true, "mod", time.Now())
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), msg, "alpha", &agent.Static{Reply: "noon"}, nil)
	assert.ErrorIs(t, err, ErrMessageResolved)
	assert.Empty(t, pub.sent)

	// The claim was never taken, so an unresolved message can still be answered.
	_, err = s.SetResolution(context.Background(), msg.ID, false, "", time.Now())
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), msg, "alpha", &agent.Static{Reply: "noon"}, nil)
	require.NoError(t, err)
}

func TestDispatchResponderFailures(t *testing.T) {
	d, _, pub, msg := newDispatchFixture(t)

	_, err := d.Dispatch(context.Background(), msg, "alpha", &agent.Static{}, nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)

	boom := errors.New("model unavailable")
	_, err = d.Dispatch(context.Background(), msg, "beta", agent.Func{
		RespondFn: func(ctx context.Context, msg models.Message, window []models.Message) (string, error) {
			return "", boom
		},
	}, nil)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, pub.sent)
}
