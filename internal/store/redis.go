package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/aicq-arbiter/internal/ids"
	"github.com/eldtechnologies/aicq-arbiter/internal/metrics"
	"github.com/eldtechnologies/aicq-arbiter/internal/models"
)

const (
	messageTTL  = 24 * time.Hour
	dispatchTTL = 7 * 24 * time.Hour
)

// RedisStore handles Redis operations for messages and dispatch claims.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying client for the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// roomMessagesKey returns the key for a room's message ID sorted set.
func roomMessagesKey(roomID string) string {
	return fmt.Sprintf("room:%s:messages", roomID)
}

// messageKey returns the key holding a message's JSON document.
func messageKey(msgID string) string {
	return fmt.Sprintf("message:%s", msgID)
}

// dispatchKey returns the idempotency key for one response dispatch.
func dispatchKey(msgID, participantID string) string {
	return fmt.Sprintf("dispatch:%s:%s", msgID, participantID)
}

func observe(start time.Time) {
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
}

// AddMessage stores a message in Redis.
func (s *RedisStore) AddMessage(ctx context.Context, msg *models.Message) error {
	defer observe(time.Now())

	// Generate ULID if not set
	if msg.ID == "" {
		msg.ID = ids.NewMessageID()
	}

	// Set timestamp if not set
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := roomMessagesKey(msg.RoomID)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, messageKey(msg.ID), data, messageTTL)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(msg.CreatedAt.UnixMilli()),
		Member: msg.ID,
	})
	pipe.Expire(ctx, key, messageTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// GetMessage retrieves a specific message by ID.
func (s *RedisStore) GetMessage(ctx context.Context, msgID string) (*models.Message, error) {
	defer observe(time.Now())

	data, err := s.client.Get(ctx, messageKey(msgID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetRoomMessages retrieves messages from a room, newest first. A non-zero
// before excludes messages created at or after that instant.
func (s *RedisStore) GetRoomMessages(ctx context.Context, roomID string, limit int, before time.Time) ([]models.Message, error) {
	defer observe(time.Now())
	key := roomMessagesKey(roomID)

	maxScore := "+inf"
	if !before.IsZero() {
		maxScore = "(" + strconv.FormatInt(before.UnixMilli(), 10) // exclusive
	}

	msgIDs, err := s.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   maxScore,
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(msgIDs) == 0 {
		return []models.Message{}, nil
	}

	keys := make([]string, len(msgIDs))
	for i, id := range msgIDs {
		keys[i] = messageKey(id)
	}
	docs, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(docs))
	for _, doc := range docs {
		str, ok := doc.(string)
		if !ok {
			continue // Message expired
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(str), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// SetResolution updates a message's resolved flag atomically.
func (s *RedisStore) SetResolution(ctx context.Context, msgID string, resolved bool, by string, at time.Time) (*models.Message, error) {
	defer observe(time.Now())
	key := messageKey(msgID)

	var updated *models.Message
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				return ErrMessageNotFound
			}
			return err
		}

		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		applyResolution(&msg, resolved, by, at)

		out, err := json.Marshal(&msg)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, redis.KeepTTL)
			return nil
		})
		if err == nil {
			updated = &msg
		}
		return err
	}, key)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ClaimDispatch records the dispatch key and reports whether this caller won it.
func (s *RedisStore) ClaimDispatch(ctx context.Context, messageID, participantID string) (bool, error) {
	defer observe(time.Now())
	return s.client.SetNX(ctx, dispatchKey(messageID, participantID), time.Now().UnixMilli(), dispatchTTL).Result()
}

var (
	_ MessageStore = (*RedisStore)(nil)
	_ Claimer      = (*RedisStore)(nil)
)
