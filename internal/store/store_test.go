package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/aicq-arbiter/internal/models"
)

type testStore interface {
	MessageStore
	Claimer
}

func newRedisTestStore(t *testing.T) testStore {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreFromClient(client)
}

func newMemoryTestStore(t *testing.T) testStore {
	return NewMemoryStore()
}

func TestStores(t *testing.T) {
	for name, newStore := range map[string]func(t *testing.T) testStore{
		"redis":  newRedisTestStore,
		"memory": newMemoryTestStore,
	} {
		t.Run(name, func(t *testing.T) {
			runStoreContract(t, newStore)
		})
	}
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) testStore) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := func(t *testing.T, s testStore, n int) []models.Message {
		out := make([]models.Message, n)
		for i := 0; i < n; i++ {
			msg := &models.Message{
				RoomID:    "room-1",
				SenderID:  "user",
				Content:   "hello",
				CreatedAt: base.Add(time.Duration(i) * time.Second),
			}
			require.NoError(t, s.AddMessage(ctx, msg))
			out[i] = *msg
		}
		return out
	}

	t.Run("add assigns id and timestamp", func(t *testing.T) {
		s := newStore(t)
		msg := &models.Message{RoomID: "room-1", SenderID: "user", Content: "hi"}
		require.NoError(t, s.AddMessage(ctx, msg))
		assert.NotEmpty(t, msg.ID)
		assert.False(t, msg.CreatedAt.IsZero())

		got, err := s.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "hi", got.Content)

		missing, err := s.GetMessage(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("room history newest first", func(t *testing.T) {
		s := newStore(t)
		msgs := seed(t, s, 5)

		got, err := s.GetRoomMessages(ctx, "room-1", 3, time.Time{})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, msgs[4].ID, got[0].ID)
		assert.Equal(t, msgs[2].ID, got[2].ID)

		older, err := s.GetRoomMessages(ctx, "room-1", 10, msgs[2].CreatedAt)
		require.NoError(t, err)
		require.Len(t, older, 2)
		assert.Equal(t, msgs[1].ID, older[0].ID)

		empty, err := s.GetRoomMessages(ctx, "other", 10, time.Time{})
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("context window excludes later messages", func(t *testing.T) {
		s := newStore(t)
		msgs := seed(t, s, 6)

		window, err := ContextWindow(ctx, s, msgs[3], 2)
		require.NoError(t, err)
		require.Len(t, window, 2)
		assert.Equal(t, msgs[1].ID, window[0].ID)
		assert.Equal(t, msgs[2].ID, window[1].ID)

		first, err := ContextWindow(ctx, s, msgs[0], 20)
		require.NoError(t, err)
		assert.Empty(t, first)
	})

	t.Run("resolution round trip", func(t *testing.T) {
		s := newStore(t)
		msgs := seed(t, s, 1)
		at := base.Add(time.Minute)

		got, err := s.SetResolution(ctx, msgs[0].ID, true, "mod", at)
		require.NoError(t, err)
		assert.True(t, got.Resolved)
		assert.Equal(t, "mod", got.ResolvedBy)

		stored, err := s.GetMessage(ctx, msgs[0].ID)
		require.NoError(t, err)
		assert.True(t, stored.Resolved)
		require.NotNil(t, stored.ResolvedAt)
		assert.True(t, at.Equal(*stored.ResolvedAt))

		cleared, err := s.SetResolution(ctx, msgs[0].ID, false, "mod", at)
		require.NoError(t, err)
		assert.False(t, cleared.Resolved)
		assert.Nil(t, cleared.ResolvedAt)

		_, err = s.SetResolution(ctx, "nope", true, "mod", at)
		assert.ErrorIs(t, err, ErrMessageNotFound)
	})

	t.Run("dispatch claim is granted once", func(t *testing.T) {
		s := newStore(t)
		ok, err := s.ClaimDispatch(ctx, "m1", "alpha")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.ClaimDispatch(ctx, "m1", "alpha")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.ClaimDispatch(ctx, "m1", "beta")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
