// Package arbiter decides which participants of a room get to answer a
// message. The Coordinator owns every room's arbitration state and is the
// only writer of per-message outcomes.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/eldtechnologies/aicq-arbiter/internal/agent"
	"github.com/eldtechnologies/aicq-arbiter/internal/ids"
	"github.com/eldtechnologies/aicq-arbiter/internal/ledger"
	"github.com/eldtechnologies/aicq-arbiter/internal/metrics"
	"github.com/eldtechnologies/aicq-arbiter/internal/models"
	"github.com/eldtechnologies/aicq-arbiter/internal/normalizer"
	"github.com/eldtechnologies/aicq-arbiter/internal/store"
)

// State is the lifecycle position of one message's arbitration.
type State string

const (
	StateUnknown    State = "unknown"
	StateReceived   State = "received"
	StateEvaluating State = "evaluating"
	StateDecided    State = "decided"
	StateDispatched State = "dispatched"
	StateSuppressed State = "suppressed"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrMessageNotFound     = store.ErrMessageNotFound
	ErrDuplicateMessage    = errors.New("message already arbitrated")
	ErrClosed              = errors.New("coordinator closed")
)

// Config holds the arbitration tunables.
type Config struct {
	Threshold             float64
	CollectionWindow      time.Duration
	EvaluatorTimeout      time.Duration
	ResponseTimeout       time.Duration
	ContextWindowSize     int
	CollectiveCapacity    int
	Workers               int
	EvaluationConcurrency int
	QueueSize             int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:             0.50,
		CollectionWindow:      3 * time.Second,
		EvaluatorTimeout:      2 * time.Second,
		ResponseTimeout:       30 * time.Second,
		ContextWindowSize:     20,
		CollectiveCapacity:    3,
		Workers:               8,
		EvaluationConcurrency: 16,
		QueueSize:             1024,
	}
}

// arbitration is the in-flight record of one message. mu is the single
// serialization point for its state and outcome.
type arbitration struct {
	mu       sync.Mutex
	msg      models.Message
	state    State
	resolved chan struct{}
	done     chan struct{}
}

// isResolved must be called with mu held.
func (a *arbitration) isResolved() bool {
	select {
	case <-a.resolved:
		return true
	default:
		return false
	}
}

// Coordinator runs arbitrations for every registered room.
type Coordinator struct {
	cfg        Config
	store      store.MessageStore
	ledger     ledger.Ledger
	normalizer *normalizer.Normalizer
	dispatcher *Dispatcher
	hub        *Hub
	logger     zerolog.Logger
	now        func() time.Time

	roomsMu sync.RWMutex
	rooms   map[string]*roomState

	mu           sync.Mutex
	arbitrations map[string]*arbitration
	failed       map[string]models.ArbitrationOutcome

	queue     chan *arbitration
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// New creates a Coordinator. Call Start to begin processing ingested messages.
func New(cfg Config, s store.MessageStore, claims store.Claimer, l ledger.Ledger, logger zerolog.Logger) *Coordinator {
	def := DefaultConfig()
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.EvaluationConcurrency < 1 {
		cfg.EvaluationConcurrency = def.EvaluationConcurrency
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.CollectiveCapacity < 1 {
		cfg.CollectiveCapacity = def.CollectiveCapacity
	}
	if cfg.ContextWindowSize < 1 {
		cfg.ContextWindowSize = def.ContextWindowSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(logger)
	return &Coordinator{
		cfg:          cfg,
		store:        s,
		ledger:       l,
		normalizer:   normalizer.New(cfg.Threshold, cfg.EvaluatorTimeout),
		dispatcher:   NewDispatcher(s, claims, hub, cfg.ResponseTimeout, logger),
		hub:          hub,
		logger:       logger,
		now:          time.Now,
		rooms:        make(map[string]*roomState),
		arbitrations: make(map[string]*arbitration),
		failed:       make(map[string]models.ArbitrationOutcome),
		queue:        make(chan *arbitration, cfg.QueueSize),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches the worker pool.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		for i := 0; i < c.cfg.Workers; i++ {
			c.wg.Add(1)
			go c.worker()
		}
		c.logger.Info().Int("workers", c.cfg.Workers).Msg("arbitration workers started")
	})
}

// Close stops the workers and waits for in-flight arbitrations to finish.
// Queued messages that never started are left unarbitrated.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.wg.Wait()
	})
}

func (c *Coordinator) worker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case a := <-c.queue:
			c.arbitrate(a)
		}
	}
}

// RegisterRoom adds a room. Registering an existing room updates its name.
func (c *Coordinator) RegisterRoom(room models.Room) models.Room {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	if r, ok := c.rooms[room.ID]; ok {
		r.mu.Lock()
		if room.Name != "" {
			r.room.Name = room.Name
		}
		out := r.room
		r.mu.Unlock()
		return out
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = c.now().UTC()
	}
	c.rooms[room.ID] = newRoomState(room)
	return room
}

// RegisterParticipant makes a participant eligible in a room. Registering
// an existing participant again only swaps its agent.
func (c *Coordinator) RegisterParticipant(roomID string, p models.Participant, a agent.Agent) error {
	room, ok := c.room(roomID)
	if !ok {
		return ErrRoomNotFound
	}
	if p.ID == "" || a == nil {
		return fmt.Errorf("participant requires an id and an agent")
	}
	room.upsert(p, a)
	return nil
}

func (c *Coordinator) room(id string) (*roomState, bool) {
	c.roomsMu.RLock()
	defer c.roomsMu.RUnlock()
	r, ok := c.rooms[id]
	return r, ok
}

// RoomState returns a consistent snapshot of a room.
func (c *Coordinator) RoomState(roomID string) (models.RoomState, error) {
	room, ok := c.room(roomID)
	if !ok {
		return models.RoomState{}, ErrRoomNotFound
	}
	return room.snapshot(c.now()).state, nil
}

// Ingest stores msg and queues it for arbitration. It fails with
// ErrRoomNotFound for unknown rooms and ErrDuplicateMessage when the
// message is already being arbitrated or has a committed outcome.
func (c *Coordinator) Ingest(ctx context.Context, msg models.Message) (models.Message, error) {
	room, ok := c.room(msg.RoomID)
	if !ok {
		return models.Message{}, ErrRoomNotFound
	}
	if c.ctx.Err() != nil {
		return models.Message{}, ErrClosed
	}

	if msg.ID == "" {
		msg.ID = ids.NewMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = c.now().UTC()
	}

	a := &arbitration{
		msg:      msg,
		state:    StateReceived,
		resolved: make(chan struct{}),
		done:     make(chan struct{}),
	}
	if msg.Resolved {
		close(a.resolved)
	}

	c.mu.Lock()
	if _, inFlight := c.arbitrations[msg.ID]; inFlight {
		c.mu.Unlock()
		return models.Message{}, ErrDuplicateMessage
	}
	c.arbitrations[msg.ID] = a
	c.mu.Unlock()

	existing, err := c.ledger.Outcome(ctx, msg.ID)
	if err != nil {
		c.forget(msg.ID)
		return models.Message{}, fmt.Errorf("check ledger: %w", err)
	}
	if existing != nil {
		c.forget(msg.ID)
		return models.Message{}, ErrDuplicateMessage
	}

	if err := c.store.AddMessage(ctx, &msg); err != nil {
		c.forget(msg.ID)
		return models.Message{}, fmt.Errorf("store message: %w", err)
	}
	a.msg = msg

	c.mu.Lock()
	delete(c.failed, msg.ID)
	c.mu.Unlock()

	if msg.CollectiveMode {
		room.setCollective(msg.ID)
	}

	select {
	case c.queue <- a:
	case <-ctx.Done():
		room.clearCollective(msg.ID)
		c.forget(msg.ID)
		return models.Message{}, ctx.Err()
	case <-c.ctx.Done():
		room.clearCollective(msg.ID)
		c.forget(msg.ID)
		return models.Message{}, ErrClosed
	}

	mode := "normal"
	if msg.CollectiveMode {
		mode = "collective"
	}
	metrics.MessagesIngested.WithLabelValues(mode).Inc()

	c.logger.Debug().
		Str("message_id", msg.ID).
		Str("room_id", msg.RoomID).
		Bool("collective", msg.CollectiveMode).
		Msg("message queued for arbitration")

	return msg, nil
}

func (c *Coordinator) lookup(msgID string) *arbitration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arbitrations[msgID]
}

func (c *Coordinator) forget(msgID string) {
	c.mu.Lock()
	delete(c.arbitrations, msgID)
	c.mu.Unlock()
}

// arbitrate runs one message from RECEIVED to a terminal state.
func (c *Coordinator) arbitrate(a *arbitration) {
	defer close(a.done)
	start := c.now()

	a.mu.Lock()
	if a.state != StateReceived {
		a.mu.Unlock()
		c.forget(a.msg.ID)
		return
	}
	a.state = StateEvaluating
	resolved := a.resolved
	resolvedAtStart := a.isResolved()
	msg := a.msg
	a.mu.Unlock()

	ctx := c.ctx
	if current, err := c.store.GetMessage(ctx, msg.ID); err != nil {
		c.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("failed to reload message")
	} else if current != nil {
		msg = *current
	}
	if resolvedAtStart {
		msg.Resolved = true
	}

	room, _ := c.room(msg.RoomID)
	snap := room.snapshot(start)
	collective := msg.CollectiveMode || room.isCollective(msg.ID)

	var window []models.Message
	if !msg.Resolved {
		w, err := store.ContextWindow(ctx, c.store, msg, c.cfg.ContextWindowSize)
		if err != nil {
			c.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("failed to load context window")
		}
		window = w
	}

	results := make(chan models.ParticipantDecision, len(snap.state.Participants))
	c.fanOut(ctx, msg, window, snap, resolved, results)

	// A message resolved before evaluation never invokes an evaluator, so
	// every decision arrives immediately and the token must not cut the
	// collection short.
	if msg.Resolved {
		resolved = nil
	}
	collected := c.collect(ctx, resolved, results, len(snap.state.Participants))

	outcome, decisions, resolvedMidway := c.decide(a, msg, room, snap, collected, collective)
	c.drainLate(a, msg.ID, results, resolvedMidway)

	committed, err := c.persist(ctx, a, decisions, outcome)
	outcome = committed
	if err != nil {
		c.logger.Error().Err(err).Str("message_id", msg.ID).Msg("failed to commit arbitration outcome")
		outcome = failedOutcome(outcome)
		c.mu.Lock()
		c.failed[msg.ID] = outcome
		c.mu.Unlock()
	}

	room.clearCollective(msg.ID)
	metrics.Outcomes.WithLabelValues(string(outcome.Status), outcome.Reason).Inc()
	metrics.ArbitrationDuration.Observe(c.now().Sub(start).Seconds())

	final := StateSuppressed
	if outcome.Status == models.StatusDispatched {
		room.markSelected(outcome.Accepted, outcome.CompletedAt)
		c.dispatch(ctx, msg, window, snap, outcome.Accepted)
		final = StateDispatched
	}

	a.mu.Lock()
	a.state = final
	a.mu.Unlock()

	c.hub.PublishOutcome(outcome)

	c.logger.Info().
		Str("message_id", msg.ID).
		Str("room_id", msg.RoomID).
		Str("status", string(outcome.Status)).
		Str("reason", outcome.Reason).
		Strs("accepted", outcome.Accepted).
		Msg("arbitration complete")
}

// fanOut evaluates every snapshot participant concurrently. results is
// closed once all evaluations have returned.
func (c *Coordinator) fanOut(ctx context.Context, msg models.Message, window []models.Message, snap roster, resolved <-chan struct{}, results chan<- models.ParticipantDecision) {
	g := new(errgroup.Group)
	g.SetLimit(c.cfg.EvaluationConcurrency)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(results)
		for _, p := range snap.state.Participants {
			p := p
			ev := snap.agents[p.ID]
			g.Go(func() error {
				m := msg
				select {
				case <-resolved:
					m.Resolved = true
				default:
				}
				results <- c.normalizer.Normalize(ctx, m, window, p, ev)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// collect is the single consumer of results. It returns when every
// participant has reported, the window elapses, the message is resolved,
// or the coordinator shuts down.
func (c *Coordinator) collect(ctx context.Context, resolved <-chan struct{}, results <-chan models.ParticipantDecision, expected int) map[string]models.ParticipantDecision {
	collected := make(map[string]models.ParticipantDecision, expected)
	if expected == 0 {
		return collected
	}

	timer := time.NewTimer(c.cfg.CollectionWindow)
	defer timer.Stop()

	for len(collected) < expected {
		select {
		case d, ok := <-results:
			if !ok {
				return collected
			}
			collected[d.ParticipantID] = d
		case <-timer.C:
			return collected
		case <-resolved:
			return collected
		case <-ctx.Done():
			return collected
		}
	}
	return collected
}

// decide moves the arbitration to DECIDED, or keeps it SUPPRESSED when a
// resolve arrived mid-evaluation, and builds the outcome. Nothing received
// after this point can change it.
func (c *Coordinator) decide(a *arbitration, msg models.Message, room *roomState, snap roster, collected map[string]models.ParticipantDecision, collective bool) (models.ArbitrationOutcome, []models.ParticipantDecision, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	resolvedMidway := a.state == StateSuppressed
	if !resolvedMidway {
		a.state = StateDecided
	}

	capacity := 1
	if collective {
		capacity = c.cfg.CollectiveCapacity
	}
	outcome := models.ArbitrationOutcome{
		ID:          ids.NewRecordID(),
		MessageID:   msg.ID,
		RoomID:      msg.RoomID,
		Status:      models.StatusSuppressed,
		Collective:  collective,
		Capacity:    capacity,
		Accepted:    []string{},
		Denied:      []models.Denial{},
		CompletedAt: c.now().UTC(),
	}

	decisions := make([]models.ParticipantDecision, 0, len(collected))
	for _, d := range collected {
		if resolvedMidway {
			d.MessageResolved = true
		}
		decisions = append(decisions, d)
	}
	sort.Slice(decisions, func(i, j int) bool {
		return decisions[i].ParticipantID < decisions[j].ParticipantID
	})

	missingReason := models.ReasonNoDecision
	if resolvedMidway {
		missingReason = models.ReasonResolvedDuringEval
		outcome.Reason = models.ReasonResolvedDuringEval
		for _, d := range decisions {
			reason := d.Reason
			if d.IsCandidate() {
				reason = models.ReasonResolvedDuringEval
			}
			outcome.Denied = append(outcome.Denied, models.Denial{ParticipantID: d.ParticipantID, Reason: reason})
		}
	} else {
		sel, err := safeSelect(decisions, room.lastSelected(), capacity, collective)
		switch {
		case err != nil:
			c.logger.Error().Err(err).Str("message_id", msg.ID).Msg("selection failed")
			outcome.Reason = models.ReasonArbitrationError
			for _, d := range decisions {
				outcome.Denied = append(outcome.Denied, models.Denial{ParticipantID: d.ParticipantID, Reason: models.ReasonArbitrationError})
			}
		case len(sel.Accepted) > 0:
			outcome.Status = models.StatusDispatched
			outcome.Accepted = sel.Accepted
			outcome.Denied = sel.Denied
		default:
			outcome.Reason = models.ReasonNoResponder
			if msg.Resolved {
				outcome.Reason = models.ReasonMessageResolved
			}
			outcome.Denied = sel.Denied
		}
	}

	for _, p := range snap.state.Participants {
		if _, ok := collected[p.ID]; !ok {
			outcome.Denied = append(outcome.Denied, models.Denial{ParticipantID: p.ID, Reason: missingReason})
		}
	}
	sortDenials(outcome.Denied)

	return outcome, decisions, resolvedMidway
}

func safeSelect(decisions []models.ParticipantDecision, lastSelected map[string]time.Time, capacity int, collective bool) (sel selection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("selection panic: %v", r)
		}
	}()
	return selectResponders(decisions, lastSelected, capacity, collective), nil
}

// drainLate logs decisions that arrive after the outcome was decided,
// then drops the arbitration from the in-flight table.
func (c *Coordinator) drainLate(a *arbitration, msgID string, results <-chan models.ParticipantDecision, resolvedMidway bool) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for d := range results {
			d.Discarded = models.ReasonLateDecision
			if resolvedMidway {
				d.Discarded = models.ReasonResolvedDuringEval
				d.MessageResolved = true
			} else {
				a.mu.Lock()
				d.MessageResolved = a.isResolved()
				a.mu.Unlock()
			}
			metrics.LateDecisions.Inc()
			if err := c.ledger.AppendDecision(c.ctx, d); err != nil {
				c.logger.Warn().Err(err).Str("message_id", msgID).Str("participant_id", d.ParticipantID).Msg("failed to log late decision")
			}
		}
		<-a.done
		c.forget(msgID)
	}()
}

// persist writes the decisions and then the outcome. The outcome is not
// committed until its append succeeds, and the append holds the
// arbitration lock so a concurrent Resolve lands either before the commit,
// turning a dispatch into a suppression, or after it.
func (c *Coordinator) persist(ctx context.Context, a *arbitration, decisions []models.ParticipantDecision, outcome models.ArbitrationOutcome) (models.ArbitrationOutcome, error) {
	for _, d := range decisions {
		if err := c.ledger.AppendDecision(ctx, d); err != nil {
			return outcome, fmt.Errorf("append decision %s: %w", d.ID, err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if outcome.Status == models.StatusDispatched && a.isResolved() {
		outcome = resolvedOutcome(outcome)
	}
	if err := c.ledger.AppendOutcome(ctx, outcome); err != nil {
		return outcome, fmt.Errorf("append outcome: %w", err)
	}
	return outcome, nil
}

// resolvedOutcome withdraws every acceptance of an outcome whose message
// was resolved between selection and commit.
func resolvedOutcome(o models.ArbitrationOutcome) models.ArbitrationOutcome {
	for _, id := range o.Accepted {
		o.Denied = append(o.Denied, models.Denial{ParticipantID: id, Reason: models.ReasonMessageResolved})
	}
	sortDenials(o.Denied)
	o.Accepted = []string{}
	o.Status = models.StatusSuppressed
	o.Reason = models.ReasonMessageResolved
	return o
}

func failedOutcome(o models.ArbitrationOutcome) models.ArbitrationOutcome {
	for _, id := range o.Accepted {
		o.Denied = append(o.Denied, models.Denial{ParticipantID: id, Reason: models.ReasonArbitrationError})
	}
	sortDenials(o.Denied)
	o.Accepted = []string{}
	o.Status = models.StatusSuppressed
	o.Reason = models.ReasonArbitrationError
	return o
}

func (c *Coordinator) dispatch(ctx context.Context, msg models.Message, window []models.Message, snap roster, accepted []string) {
	var g errgroup.Group
	for _, id := range accepted {
		id := id
		responder := snap.agents[id]
		g.Go(func() error {
			if _, err := c.dispatcher.Dispatch(ctx, msg, id, responder, window); err != nil {
				c.logger.Warn().
					Err(err).
					Str("message_id", msg.ID).
					Str("participant_id", id).
					Msg("response not dispatched")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Resolve marks a message as no longer needing responses. An arbitration
// still evaluating is suppressed immediately; committed outcomes stand.
func (c *Coordinator) Resolve(ctx context.Context, msgID, moderatorID string) (models.Message, error) {
	now := c.now().UTC()

	// The flag and the token change together under the arbitration lock.
	a := c.lookup(msgID)
	if a != nil {
		a.mu.Lock()
	}
	msg, err := c.store.SetResolution(ctx, msgID, true, moderatorID, now)
	if a != nil {
		if err == nil && !a.isResolved() {
			if a.state == StateEvaluating {
				a.state = StateSuppressed
			}
			close(a.resolved)
		}
		a.mu.Unlock()
	}
	if err != nil {
		return models.Message{}, err
	}

	err = c.recordModeration(ctx, models.ModerationEvent{
		Kind:        models.ModerationResolve,
		RoomID:      msg.RoomID,
		MessageID:   msgID,
		ModeratorID: moderatorID,
		CreatedAt:   now,
	})
	return *msg, err
}

// Unresolve clears the resolved flag. A message still waiting in the queue
// is evaluated normally; finished arbitrations are not rerun.
func (c *Coordinator) Unresolve(ctx context.Context, msgID, moderatorID string) (models.Message, error) {
	now := c.now().UTC()
	msg, err := c.store.SetResolution(ctx, msgID, false, "", now)
	if err != nil {
		return models.Message{}, err
	}

	if a := c.lookup(msgID); a != nil {
		a.mu.Lock()
		if a.state == StateReceived && a.isResolved() {
			a.resolved = make(chan struct{})
		}
		a.mu.Unlock()
	}

	err = c.recordModeration(ctx, models.ModerationEvent{
		Kind:        models.ModerationUnresolve,
		RoomID:      msg.RoomID,
		MessageID:   msgID,
		ModeratorID: moderatorID,
		CreatedAt:   now,
	})
	return *msg, err
}

// Mute excludes a participant from evaluation until the given instant.
func (c *Coordinator) Mute(ctx context.Context, roomID, participantID string, until time.Time, moderatorID string) error {
	until = until.UTC()
	if err := c.updateParticipant(roomID, participantID, func(p *models.Participant) {
		t := until
		p.MutedUntil = &t
	}); err != nil {
		return err
	}
	return c.recordModeration(ctx, models.ModerationEvent{
		Kind:          models.ModerationMute,
		RoomID:        roomID,
		ParticipantID: participantID,
		ModeratorID:   moderatorID,
		Until:         &until,
		CreatedAt:     c.now().UTC(),
	})
}

// Unmute lifts a mute.
func (c *Coordinator) Unmute(ctx context.Context, roomID, participantID, moderatorID string) error {
	if err := c.updateParticipant(roomID, participantID, func(p *models.Participant) {
		p.MutedUntil = nil
	}); err != nil {
		return err
	}
	return c.recordModeration(ctx, models.ModerationEvent{
		Kind:          models.ModerationUnmute,
		RoomID:        roomID,
		ParticipantID: participantID,
		ModeratorID:   moderatorID,
		CreatedAt:     c.now().UTC(),
	})
}

// SetPriority changes a participant's role tier. Arbitrations that already
// took their snapshot keep the old tier.
func (c *Coordinator) SetPriority(ctx context.Context, roomID, participantID string, priority int, moderatorID string) error {
	if err := c.updateParticipant(roomID, participantID, func(p *models.Participant) {
		p.Priority = priority
	}); err != nil {
		return err
	}
	return c.recordModeration(ctx, models.ModerationEvent{
		Kind:          models.ModerationRole,
		RoomID:        roomID,
		ParticipantID: participantID,
		ModeratorID:   moderatorID,
		Priority:      &priority,
		CreatedAt:     c.now().UTC(),
	})
}

func (c *Coordinator) updateParticipant(roomID, participantID string, fn func(p *models.Participant)) error {
	room, ok := c.room(roomID)
	if !ok {
		return ErrRoomNotFound
	}
	if !room.update(participantID, fn) {
		return ErrParticipantNotFound
	}
	return nil
}

func (c *Coordinator) recordModeration(ctx context.Context, e models.ModerationEvent) error {
	e.ID = ids.NewRecordID()
	if err := c.ledger.AppendModeration(ctx, e); err != nil {
		c.logger.Error().Err(err).Str("kind", string(e.Kind)).Msg("failed to record moderation event")
		return fmt.Errorf("record moderation: %w", err)
	}
	c.logger.Info().
		Str("kind", string(e.Kind)).
		Str("room_id", e.RoomID).
		Str("message_id", e.MessageID).
		Str("participant_id", e.ParticipantID).
		Str("moderator_id", e.ModeratorID).
		Msg("moderation applied")
	return nil
}

// Subscribe streams outcome and response events for a room.
func (c *Coordinator) Subscribe(roomID string) (<-chan Event, func(), error) {
	if _, ok := c.room(roomID); !ok {
		return nil, nil, ErrRoomNotFound
	}
	ch, cancel := c.hub.Subscribe(roomID)
	return ch, cancel, nil
}

// Outcome returns the committed outcome of a message, or the in-memory
// arbitration-error outcome when the commit failed. Nil means none yet.
func (c *Coordinator) Outcome(ctx context.Context, msgID string) (*models.ArbitrationOutcome, error) {
	o, err := c.ledger.Outcome(ctx, msgID)
	if err != nil || o != nil {
		return o, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.failed[msgID]; ok {
		return &f, nil
	}
	return nil, nil
}

// RoomOutcomes returns the most recent outcomes of a room.
func (c *Coordinator) RoomOutcomes(ctx context.Context, roomID string, limit int) ([]models.ArbitrationOutcome, error) {
	return c.ledger.OutcomesByRoom(ctx, roomID, limit)
}

// Decisions returns every decision logged for a message.
func (c *Coordinator) Decisions(ctx context.Context, msgID string) ([]models.ParticipantDecision, error) {
	return c.ledger.DecisionsByMessage(ctx, msgID)
}

// ParticipantDecisions returns a participant's decisions in [from, to].
// Zero bounds are open.
func (c *Coordinator) ParticipantDecisions(ctx context.Context, participantID string, from, to time.Time) ([]models.ParticipantDecision, error) {
	return c.ledger.DecisionsByParticipant(ctx, participantID, from, to)
}

// DecisionsInRange returns all decisions in [from, to].
func (c *Coordinator) DecisionsInRange(ctx context.Context, from, to time.Time) ([]models.ParticipantDecision, error) {
	return c.ledger.DecisionsInRange(ctx, from, to)
}

// ModerationEvents returns the moderation history of a message.
func (c *Coordinator) ModerationEvents(ctx context.Context, msgID string) ([]models.ModerationEvent, error) {
	return c.ledger.ModerationEvents(ctx, msgID)
}

// ParticipantModeration returns the mute, unmute and role events of a
// participant in one room within [from, to].
func (c *Coordinator) ParticipantModeration(ctx context.Context, roomID, participantID string, from, to time.Time) ([]models.ModerationEvent, error) {
	events, err := c.ledger.ModerationByParticipant(ctx, participantID, from, to)
	if err != nil {
		return nil, err
	}
	out := events[:0]
	for _, e := range events {
		if e.RoomID == roomID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ModerationInRange returns every moderation event within [from, to].
func (c *Coordinator) ModerationInRange(ctx context.Context, from, to time.Time) ([]models.ModerationEvent, error) {
	return c.ledger.ModerationInRange(ctx, from, to)
}

// State reports where a message is in its arbitration lifecycle.
func (c *Coordinator) State(ctx context.Context, msgID string) (State, error) {
	if a := c.lookup(msgID); a != nil {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.state, nil
	}

	c.mu.Lock()
	_, failed := c.failed[msgID]
	c.mu.Unlock()
	if failed {
		return StateSuppressed, nil
	}

	o, err := c.ledger.Outcome(ctx, msgID)
	if err != nil {
		return StateUnknown, err
	}
	if o == nil {
		return StateUnknown, nil
	}
	if o.Status == models.StatusDispatched {
		return StateDispatched, nil
	}
	return StateSuppressed, nil
}
