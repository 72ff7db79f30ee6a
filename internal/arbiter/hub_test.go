package arbiter

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/aicq-arbiter/internal/models"
)

func TestHubDeliversToRoomSubscribersOnly(t *testing.T) {
	h := NewHub(zerolog.Nop())
	events, cancel := h.Subscribe("room-1")
	defer cancel()
	other, cancelOther := h.Subscribe("room-2")
	defer cancelOther()

	h.PublishOutcome(models.ArbitrationOutcome{MessageID: "m1", RoomID: "room-1"})

	e := <-events
	assert.Equal(t, EventOutcome, e.Type)
	require.NotNil(t, e.Outcome)
	assert.Equal(t, "m1", e.Outcome.MessageID)
	assert.Empty(t, other)
}

func TestHubCancelClosesChannel(t *testing.T) {
	h := NewHub(zerolog.Nop())
	events, cancel := h.Subscribe("room-1")
	assert.Equal(t, 1, h.Subscribers("room-1"))

	cancel()
	cancel()
	_, open := <-events
	assert.False(t, open)
	assert.Zero(t, h.Subscribers("room-1"))

	h.PublishResponse(models.Message{RoomID: "room-1"})
}

func TestHubNeverBlocksOnSlowSubscriber(t *testing.T) {
	h := NewHub(zerolog.Nop())
	events, cancel := h.Subscribe("room-1")
	defer cancel()

	for i := 0; i < subscriberBuffer*2; i++ {
		h.PublishResponse(models.Message{RoomID: "room-1"})
	}
	assert.Len(t, events, subscriberBuffer)
}
