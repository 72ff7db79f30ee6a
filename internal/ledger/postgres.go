package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/aicq-arbiter/internal/metrics"
	"github.com/eldtechnologies/aicq-arbiter/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	room_id TEXT NOT NULL,
	participant_id TEXT NOT NULL,
	raw_confidence DOUBLE PRECISION NOT NULL,
	adjusted_confidence DOUBLE PRECISION NOT NULL,
	tag TEXT NOT NULL,
	reason TEXT NOT NULL,
	priority INTEGER NOT NULL,
	latency_ns BIGINT NOT NULL,
	discarded TEXT NOT NULL DEFAULT '',
	message_resolved BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS outcomes (
	id TEXT PRIMARY KEY,
	message_id TEXT UNIQUE NOT NULL,
	room_id TEXT NOT NULL,
	status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	collective BOOLEAN NOT NULL DEFAULT FALSE,
	capacity INTEGER NOT NULL,
	accepted TEXT[] NOT NULL,
	denied JSONB NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS moderation_events (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	room_id TEXT NOT NULL DEFAULT '',
	message_id TEXT NOT NULL DEFAULT '',
	participant_id TEXT NOT NULL DEFAULT '',
	moderator_id TEXT NOT NULL DEFAULT '',
	until TIMESTAMPTZ,
	priority INTEGER,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_message ON decisions(message_id);
CREATE INDEX IF NOT EXISTS idx_decisions_participant ON decisions(participant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at);
CREATE INDEX IF NOT EXISTS idx_outcomes_room ON outcomes(room_id, completed_at DESC);
CREATE INDEX IF NOT EXISTS idx_moderation_message ON moderation_events(message_id);
CREATE INDEX IF NOT EXISTS idx_moderation_participant ON moderation_events(participant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_moderation_created ON moderation_events(created_at);
`

// PostgresLedger persists the audit trail in PostgreSQL.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger creates a new PostgreSQL ledger with a connection pool.
func NewPostgresLedger(ctx context.Context, databaseURL string) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresLedger{pool: pool}, nil
}

// Migrate creates the ledger tables if they don't exist.
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, postgresSchema)
	return err
}

// Close closes the database connection pool.
func (l *PostgresLedger) Close() {
	l.pool.Close()
}

// Ping checks the database connection.
func (l *PostgresLedger) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

func observe(start time.Time) {
	metrics.PostgresLatency.Observe(time.Since(start).Seconds())
}

// AppendDecision inserts a decision, tolerating an identical duplicate.
func (l *PostgresLedger) AppendDecision(ctx context.Context, d models.ParticipantDecision) error {
	if d.ID == "" || d.MessageID == "" || d.ParticipantID == "" {
		return ErrInvalidRecord
	}
	d = normalizeDecision(d)
	defer observe(time.Now())

	tag, err := l.pool.Exec(ctx, `
		INSERT INTO decisions (id, message_id, room_id, participant_id, raw_confidence, adjusted_confidence,
			tag, reason, priority, latency_ns, discarded, message_resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`, d.ID, d.MessageID, d.RoomID, d.ParticipantID, d.RawConfidence, d.AdjustedConfidence,
		string(d.Tag), d.Reason, d.Priority, int64(d.Latency), d.Discarded, d.MessageResolved, d.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	existing, err := l.queryDecisions(ctx, `WHERE id = $1`, d.ID)
	if err != nil {
		return err
	}
	if len(existing) == 1 && sameRecord(existing[0], d) {
		return nil
	}
	return ErrConflict
}

// AppendOutcome inserts the outcome of a message, tolerating an identical duplicate.
func (l *PostgresLedger) AppendOutcome(ctx context.Context, o models.ArbitrationOutcome) error {
	if o.ID == "" || o.MessageID == "" {
		return ErrInvalidRecord
	}
	o = normalizeOutcome(o)
	defer observe(time.Now())

	denied, err := json.Marshal(o.Denied)
	if err != nil {
		return err
	}

	tag, err := l.pool.Exec(ctx, `
		INSERT INTO outcomes (id, message_id, room_id, status, reason, collective, capacity, accepted, denied, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING
	`, o.ID, o.MessageID, o.RoomID, string(o.Status), o.Reason, o.Collective, o.Capacity,
		o.Accepted, denied, o.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	existing, err := l.Outcome(ctx, o.MessageID)
	if err != nil {
		return err
	}
	if existing != nil && sameRecord(*existing, o) {
		return nil
	}
	return ErrConflict
}

// AppendModeration inserts a moderation event, tolerating an identical duplicate.
func (l *PostgresLedger) AppendModeration(ctx context.Context, e models.ModerationEvent) error {
	if e.ID == "" || e.Kind == "" {
		return ErrInvalidRecord
	}
	e = normalizeModeration(e)
	defer observe(time.Now())

	tag, err := l.pool.Exec(ctx, `
		INSERT INTO moderation_events (id, kind, room_id, message_id, participant_id, moderator_id, until, priority, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, string(e.Kind), e.RoomID, e.MessageID, e.ParticipantID, e.ModeratorID, e.Until, e.Priority, e.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	existing, err := l.queryModeration(ctx, `WHERE id = $1`, e.ID)
	if err != nil {
		return err
	}
	if len(existing) == 1 && sameRecord(existing[0], e) {
		return nil
	}
	return ErrConflict
}

func (l *PostgresLedger) DecisionsByMessage(ctx context.Context, messageID string) ([]models.ParticipantDecision, error) {
	return l.queryDecisions(ctx, `WHERE message_id = $1 ORDER BY created_at, id`, messageID)
}

func (l *PostgresLedger) DecisionsByParticipant(ctx context.Context, participantID string, from, to time.Time) ([]models.ParticipantDecision, error) {
	lo, hi := timeBounds(from, to)
	return l.queryDecisions(ctx, `WHERE participant_id = $1 AND created_at BETWEEN $2 AND $3 ORDER BY created_at, id`, participantID, lo, hi)
}

func (l *PostgresLedger) DecisionsInRange(ctx context.Context, from, to time.Time) ([]models.ParticipantDecision, error) {
	lo, hi := timeBounds(from, to)
	return l.queryDecisions(ctx, `WHERE created_at BETWEEN $1 AND $2 ORDER BY created_at, id`, lo, hi)
}

// Outcome returns nil when the message has not been arbitrated.
func (l *PostgresLedger) Outcome(ctx context.Context, messageID string) (*models.ArbitrationOutcome, error) {
	defer observe(time.Now())
	o, err := scanOutcome(l.pool.QueryRow(ctx, `
		SELECT id, message_id, room_id, status, reason, collective, capacity, accepted, denied, completed_at
		FROM outcomes WHERE message_id = $1
	`, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

func (l *PostgresLedger) OutcomesByRoom(ctx context.Context, roomID string, limit int) ([]models.ArbitrationOutcome, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.queryOutcomes(ctx, `WHERE room_id = $1 ORDER BY completed_at DESC, id DESC LIMIT $2`, roomID, limit)
}

func (l *PostgresLedger) ModerationEvents(ctx context.Context, messageID string) ([]models.ModerationEvent, error) {
	return l.queryModeration(ctx, `WHERE message_id = $1 ORDER BY created_at, id`, messageID)
}

func (l *PostgresLedger) ModerationByParticipant(ctx context.Context, participantID string, from, to time.Time) ([]models.ModerationEvent, error) {
	lo, hi := timeBounds(from, to)
	return l.queryModeration(ctx, `WHERE participant_id = $1 AND created_at BETWEEN $2 AND $3 ORDER BY created_at, id`, participantID, lo, hi)
}

func (l *PostgresLedger) ModerationInRange(ctx context.Context, from, to time.Time) ([]models.ModerationEvent, error) {
	lo, hi := timeBounds(from, to)
	return l.queryModeration(ctx, `WHERE created_at BETWEEN $1 AND $2 ORDER BY created_at, id`, lo, hi)
}

func (l *PostgresLedger) queryDecisions(ctx context.Context, where string, args ...interface{}) ([]models.ParticipantDecision, error) {
	defer observe(time.Now())
	rows, err := l.pool.Query(ctx, `
		SELECT id, message_id, room_id, participant_id, raw_confidence, adjusted_confidence,
			tag, reason, priority, latency_ns, discarded, message_resolved, created_at
		FROM decisions `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ParticipantDecision{}
	for rows.Next() {
		var d models.ParticipantDecision
		var tag string
		var latency int64
		if err := rows.Scan(&d.ID, &d.MessageID, &d.RoomID, &d.ParticipantID, &d.RawConfidence, &d.AdjustedConfidence,
			&tag, &d.Reason, &d.Priority, &latency, &d.Discarded, &d.MessageResolved, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Tag = models.DecisionTag(tag)
		d.Latency = time.Duration(latency)
		out = append(out, normalizeDecision(d))
	}
	return out, rows.Err()
}

func (l *PostgresLedger) queryOutcomes(ctx context.Context, where string, args ...interface{}) ([]models.ArbitrationOutcome, error) {
	defer observe(time.Now())
	rows, err := l.pool.Query(ctx, `
		SELECT id, message_id, room_id, status, reason, collective, capacity, accepted, denied, completed_at
		FROM outcomes `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ArbitrationOutcome{}
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOutcome(row pgx.Row) (models.ArbitrationOutcome, error) {
	var o models.ArbitrationOutcome
	var status string
	var denied []byte
	if err := row.Scan(&o.ID, &o.MessageID, &o.RoomID, &status, &o.Reason, &o.Collective, &o.Capacity,
		&o.Accepted, &denied, &o.CompletedAt); err != nil {
		return o, err
	}
	o.Status = models.OutcomeStatus(status)
	if err := json.Unmarshal(denied, &o.Denied); err != nil {
		return o, err
	}
	return normalizeOutcome(o), nil
}

func (l *PostgresLedger) queryModeration(ctx context.Context, where string, args ...interface{}) ([]models.ModerationEvent, error) {
	defer observe(time.Now())
	rows, err := l.pool.Query(ctx, `
		SELECT id, kind, room_id, message_id, participant_id, moderator_id, until, priority, created_at
		FROM moderation_events `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ModerationEvent{}
	for rows.Next() {
		var e models.ModerationEvent
		var kind string
		if err := rows.Scan(&e.ID, &kind, &e.RoomID, &e.MessageID, &e.ParticipantID, &e.ModeratorID,
			&e.Until, &e.Priority, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = models.ModerationKind(kind)
		out = append(out, normalizeModeration(e))
	}
	return out, rows.Err()
}

// timeBounds replaces open bounds with values PostgreSQL can compare.
func timeBounds(from, to time.Time) (time.Time, time.Time) {
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	if to.IsZero() {
		to = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	}
	return from, to
}

var _ Ledger = (*PostgresLedger)(nil)
var _ Ledger = (*SQLiteLedger)(nil)
var _ Ledger = (*MemoryLedger)(nil)
