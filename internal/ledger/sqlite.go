package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/aicq-arbiter/internal/models"
)

// SQLiteLedger persists the audit trail in a local SQLite database.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens (and if needed creates) a SQLite ledger.
// If dbPath is empty, defaults to "./data/ledger.db"
func NewSQLiteLedger(ctx context.Context, dbPath string) (*SQLiteLedger, error) {
	if dbPath == "" {
		dbPath = "./data/ledger.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	l := &SQLiteLedger{db: db}
	if err := l.initSchema(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// initSchema creates tables if they don't exist. Timestamps are stored as
// unix microseconds.
func (l *SQLiteLedger) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		participant_id TEXT NOT NULL,
		raw_confidence REAL NOT NULL,
		adjusted_confidence REAL NOT NULL,
		tag TEXT NOT NULL,
		reason TEXT NOT NULL,
		priority INTEGER NOT NULL,
		latency_ns INTEGER NOT NULL,
		discarded TEXT NOT NULL DEFAULT '',
		message_resolved INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS outcomes (
		id TEXT PRIMARY KEY,
		message_id TEXT UNIQUE NOT NULL,
		room_id TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		collective INTEGER NOT NULL DEFAULT 0,
		capacity INTEGER NOT NULL,
		accepted TEXT NOT NULL,
		denied TEXT NOT NULL,
		completed_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS moderation_events (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		room_id TEXT NOT NULL DEFAULT '',
		message_id TEXT NOT NULL DEFAULT '',
		participant_id TEXT NOT NULL DEFAULT '',
		moderator_id TEXT NOT NULL DEFAULT '',
		until INTEGER,
		priority INTEGER,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_message ON decisions(message_id);
	CREATE INDEX IF NOT EXISTS idx_decisions_participant ON decisions(participant_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at);
	CREATE INDEX IF NOT EXISTS idx_outcomes_room ON outcomes(room_id, completed_at);
	CREATE INDEX IF NOT EXISTS idx_moderation_message ON moderation_events(message_id);
	CREATE INDEX IF NOT EXISTS idx_moderation_participant ON moderation_events(participant_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_moderation_created ON moderation_events(created_at);
	`

	_, err := l.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (l *SQLiteLedger) Close() {
	l.db.Close()
}

// Ping checks the database connection.
func (l *SQLiteLedger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// AppendDecision inserts a decision, tolerating an identical duplicate.
func (l *SQLiteLedger) AppendDecision(ctx context.Context, d models.ParticipantDecision) error {
	if d.ID == "" || d.MessageID == "" || d.ParticipantID == "" {
		return ErrInvalidRecord
	}
	d = normalizeDecision(d)

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO decisions (id, message_id, room_id, participant_id, raw_confidence, adjusted_confidence,
			tag, reason, priority, latency_ns, discarded, message_resolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, d.ID, d.MessageID, d.RoomID, d.ParticipantID, d.RawConfidence, d.AdjustedConfidence,
		string(d.Tag), d.Reason, d.Priority, int64(d.Latency), d.Discarded, d.MessageResolved, d.CreatedAt.UnixMicro())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	existing, err := l.queryDecisions(ctx, `WHERE id = ?`, d.ID)
	if err != nil {
		return err
	}
	if len(existing) == 1 && sameRecord(existing[0], d) {
		return nil
	}
	return ErrConflict
}

// AppendOutcome inserts the outcome of a message, tolerating an identical duplicate.
func (l *SQLiteLedger) AppendOutcome(ctx context.Context, o models.ArbitrationOutcome) error {
	if o.ID == "" || o.MessageID == "" {
		return ErrInvalidRecord
	}
	o = normalizeOutcome(o)

	accepted, err := json.Marshal(o.Accepted)
	if err != nil {
		return err
	}
	denied, err := json.Marshal(o.Denied)
	if err != nil {
		return err
	}

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO outcomes (id, message_id, room_id, status, reason, collective, capacity, accepted, denied, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, o.ID, o.MessageID, o.RoomID, string(o.Status), o.Reason, o.Collective, o.Capacity,
		string(accepted), string(denied), o.CompletedAt.UnixMicro())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
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
func (l *SQLiteLedger) AppendModeration(ctx context.Context, e models.ModerationEvent) error {
	if e.ID == "" || e.Kind == "" {
		return ErrInvalidRecord
	}
	e = normalizeModeration(e)

	var until *int64
	if e.Until != nil {
		u := e.Until.UnixMicro()
		until = &u
	}

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO moderation_events (id, kind, room_id, message_id, participant_id, moderator_id, until, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, e.ID, string(e.Kind), e.RoomID, e.MessageID, e.ParticipantID, e.ModeratorID, until, e.Priority, e.CreatedAt.UnixMicro())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	existing, err := l.queryModeration(ctx, `WHERE id = ?`, e.ID)
	if err != nil {
		return err
	}
	if len(existing) == 1 && sameRecord(existing[0], e) {
		return nil
	}
	return ErrConflict
}

func (l *SQLiteLedger) DecisionsByMessage(ctx context.Context, messageID string) ([]models.ParticipantDecision, error) {
	return l.queryDecisions(ctx, `WHERE message_id = ? ORDER BY created_at, id`, messageID)
}

func (l *SQLiteLedger) DecisionsByParticipant(ctx context.Context, participantID string, from, to time.Time) ([]models.ParticipantDecision, error) {
	lo, hi := microBounds(from, to)
	return l.queryDecisions(ctx, `WHERE participant_id = ? AND created_at BETWEEN ? AND ? ORDER BY created_at, id`, participantID, lo, hi)
}

func (l *SQLiteLedger) DecisionsInRange(ctx context.Context, from, to time.Time) ([]models.ParticipantDecision, error) {
	lo, hi := microBounds(from, to)
	return l.queryDecisions(ctx, `WHERE created_at BETWEEN ? AND ? ORDER BY created_at, id`, lo, hi)
}

// Outcome returns nil when the message has not been arbitrated.
func (l *SQLiteLedger) Outcome(ctx context.Context, messageID string) (*models.ArbitrationOutcome, error) {
	out, err := l.queryOutcomes(ctx, `WHERE message_id = ?`, messageID)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return &out[0], nil
}

func (l *SQLiteLedger) OutcomesByRoom(ctx context.Context, roomID string, limit int) ([]models.ArbitrationOutcome, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.queryOutcomes(ctx, `WHERE room_id = ? ORDER BY completed_at DESC, id DESC LIMIT ?`, roomID, limit)
}

func (l *SQLiteLedger) ModerationEvents(ctx context.Context, messageID string) ([]models.ModerationEvent, error) {
	return l.queryModeration(ctx, `WHERE message_id = ? ORDER BY created_at, id`, messageID)
}

func (l *SQLiteLedger) ModerationByParticipant(ctx context.Context, participantID string, from, to time.Time) ([]models.ModerationEvent, error) {
	lo, hi := microBounds(from, to)
	return l.queryModeration(ctx, `WHERE participant_id = ? AND created_at BETWEEN ? AND ? ORDER BY created_at, id`, participantID, lo, hi)
}

func (l *SQLiteLedger) ModerationInRange(ctx context.Context, from, to time.Time) ([]models.ModerationEvent, error) {
	lo, hi := microBounds(from, to)
	return l.queryModeration(ctx, `WHERE created_at BETWEEN ? AND ? ORDER BY created_at, id`, lo, hi)
}

func (l *SQLiteLedger) queryDecisions(ctx context.Context, where string, args ...interface{}) ([]models.ParticipantDecision, error) {
	rows, err := l.db.QueryContext(ctx, `
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
		var latency, created int64
		if err := rows.Scan(&d.ID, &d.MessageID, &d.RoomID, &d.ParticipantID, &d.RawConfidence, &d.AdjustedConfidence,
			&tag, &d.Reason, &d.Priority, &latency, &d.Discarded, &d.MessageResolved, &created); err != nil {
			return nil, err
		}
		d.Tag = models.DecisionTag(tag)
		d.Latency = time.Duration(latency)
		d.CreatedAt = time.UnixMicro(created).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) queryOutcomes(ctx context.Context, where string, args ...interface{}) ([]models.ArbitrationOutcome, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, message_id, room_id, status, reason, collective, capacity, accepted, denied, completed_at
		FROM outcomes `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ArbitrationOutcome{}
	for rows.Next() {
		var o models.ArbitrationOutcome
		var status, accepted, denied string
		var completed int64
		if err := rows.Scan(&o.ID, &o.MessageID, &o.RoomID, &status, &o.Reason, &o.Collective, &o.Capacity,
			&accepted, &denied, &completed); err != nil {
			return nil, err
		}
		o.Status = models.OutcomeStatus(status)
		if err := json.Unmarshal([]byte(accepted), &o.Accepted); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(denied), &o.Denied); err != nil {
			return nil, err
		}
		o.CompletedAt = time.UnixMicro(completed).UTC()
		out = append(out, normalizeOutcome(o))
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) queryModeration(ctx context.Context, where string, args ...interface{}) ([]models.ModerationEvent, error) {
	rows, err := l.db.QueryContext(ctx, `
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
		var until, priority sql.NullInt64
		var created int64
		if err := rows.Scan(&e.ID, &kind, &e.RoomID, &e.MessageID, &e.ParticipantID, &e.ModeratorID,
			&until, &priority, &created); err != nil {
			return nil, err
		}
		e.Kind = models.ModerationKind(kind)
		if until.Valid {
			u := time.UnixMicro(until.Int64).UTC()
			e.Until = &u
		}
		if priority.Valid {
			p := int(priority.Int64)
			e.Priority = &p
		}
		e.CreatedAt = time.UnixMicro(created).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}

// microBounds turns an optional time range into inclusive unix-micro bounds.
func microBounds(from, to time.Time) (int64, int64) {
	lo, hi := int64(0), int64(1<<62)
	if !from.IsZero() {
		lo = from.UnixMicro()
	}
	if !to.IsZero() {
		hi = to.UnixMicro()
	}
	return lo, hi
}
