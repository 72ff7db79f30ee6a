// Package normalizer turns raw evaluator output into arbitration-ready
// decisions: it applies moderation short-circuits, the evaluator timeout,
// the message-age penalty and the response threshold.
package normalizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/eldtechnologies/aicq-arbiter/internal/agent"
	"github.com/eldtechnologies/aicq-arbiter/internal/ids"
	"github.com/eldtechnologies/aicq-arbiter/internal/metrics"
	"github.com/eldtechnologies/aicq-arbiter/internal/models"
)

const (
	// Messages younger than penaltyGrace are not penalized.
	penaltyGrace = 5 * time.Minute
	// The penalty ramps linearly over penaltyRamp after the grace period.
	penaltyRamp = 10 * time.Minute
	// MaxPenalty caps the age penalty.
	MaxPenalty = 0.30
)

// AgePenalty returns the confidence penalty for a message of the given age.
// It is zero up to five minutes, ramps linearly to MaxPenalty at fifteen
// minutes and stays capped afterwards.
func AgePenalty(age time.Duration) float64 {
	if age <= penaltyGrace {
		return 0
	}
	p := float64(age-penaltyGrace) / float64(penaltyRamp) * MaxPenalty
	return math.Min(MaxPenalty, p)
}

// Normalizer produces one ParticipantDecision per (message, participant).
type Normalizer struct {
	Threshold float64
	Timeout   time.Duration
	Now       func() time.Time
}

// New creates a Normalizer using the wall clock.
func New(threshold float64, timeout time.Duration) *Normalizer {
	return &Normalizer{Threshold: threshold, Timeout: timeout, Now: time.Now}
}

// Normalize evaluates msg on behalf of p. It never returns an error:
// evaluator failures become SILENT decisions.
func (n *Normalizer) Normalize(ctx context.Context, msg models.Message, window []models.Message, p models.Participant, ev agent.Evaluator) models.ParticipantDecision {
	start := n.Now()
	d := models.ParticipantDecision{
		ID:            ids.NewRecordID(),
		MessageID:     msg.ID,
		RoomID:        msg.RoomID,
		ParticipantID: p.ID,
		Priority:      p.Priority,
		Tag:           models.TagSilent,
	}

	switch {
	case msg.Resolved:
		d.Reason = models.ReasonMessageResolved
		d.MessageResolved = true
		return n.skip(d, start)
	case p.IsMuted(start):
		d.Reason = models.ReasonParticipantMuted
		return n.skip(d, start)
	}

	eval, err := n.evaluate(ctx, msg, window, ev)
	metrics.EvaluatorLatency.Observe(n.Now().Sub(start).Seconds())
	if err != nil {
		d.Reason = models.ReasonEvaluatorError
		if errors.Is(err, context.DeadlineExceeded) {
			d.Reason = models.ReasonEvaluatorTimeout
		}
		return n.finish(d, start)
	}

	raw := agent.Clamp(eval.Confidence)
	adjusted := math.Max(0, raw-AgePenalty(msg.Age(n.Now())))
	d.RawConfidence = raw
	d.AdjustedConfidence = adjusted
	d.Reason = eval.Reason

	if adjusted >= n.Threshold {
		d.Tag = models.TagRespond
	} else {
		d.Reason = models.ReasonBelowThreshold
	}
	return n.finish(d, start)
}

// skip records a decision made without consulting the evaluator.
func (n *Normalizer) skip(d models.ParticipantDecision, at time.Time) models.ParticipantDecision {
	d.CreatedAt = at
	metrics.Decisions.WithLabelValues(string(d.Tag), d.Reason).Inc()
	return d
}

func (n *Normalizer) finish(d models.ParticipantDecision, start time.Time) models.ParticipantDecision {
	d.CreatedAt = n.Now()
	d.Latency = d.CreatedAt.Sub(start)
	metrics.Decisions.WithLabelValues(string(d.Tag), d.Reason).Inc()
	return d
}

type evalResult struct {
	eval agent.Evaluation
	err  error
}

// evaluate runs the evaluator under the configured timeout. The evaluator
// goroutine is abandoned, not killed, if it overruns; panics are reported
// as errors.
func (n *Normalizer) evaluate(ctx context.Context, msg models.Message, window []models.Message, ev agent.Evaluator) (agent.Evaluation, error) {
	ctx, cancel := context.WithTimeout(ctx, n.Timeout)
	defer cancel()

	done := make(chan evalResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- evalResult{err: fmt.Errorf("evaluator panic: %v", r)}
			}
		}()
		eval, err := ev.Evaluate(ctx, msg, window)
		done <- evalResult{eval: eval, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() != nil {
			return agent.Evaluation{}, ctx.Err()
		}
		return res.eval, res.err
	case <-ctx.Done():
		return agent.Evaluation{}, ctx.Err()
	}
}
