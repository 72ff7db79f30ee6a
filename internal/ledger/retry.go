package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/aicq-arbiter/internal/metrics"
	"github.com/eldtechnologies/aicq-arbiter/internal/models"
)

// RetryConfig configures exponential backoff for ledger writes.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig returns the retry policy used by the server.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 5,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// Retrying wraps a Ledger and retries failed writes with exponential
// backoff. Conflicts and invalid records are permanent and not retried.
// Reads pass through unchanged.
type Retrying struct {
	Ledger
	cfg    RetryConfig
	logger zerolog.Logger
}

// NewRetrying wraps inner with the given retry policy.
func NewRetrying(inner Ledger, cfg RetryConfig, logger zerolog.Logger) *Retrying {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultRetryConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultRetryConfig().MaxDelay
	}
	return &Retrying{Ledger: inner, cfg: cfg, logger: logger}
}

func (r *Retrying) AppendDecision(ctx context.Context, d models.ParticipantDecision) error {
	return r.retry(ctx, "decision", d.ID, func() error { return r.Ledger.AppendDecision(ctx, d) })
}

func (r *Retrying) AppendOutcome(ctx context.Context, o models.ArbitrationOutcome) error {
	return r.retry(ctx, "outcome", o.ID, func() error { return r.Ledger.AppendOutcome(ctx, o) })
}

func (r *Retrying) AppendModeration(ctx context.Context, e models.ModerationEvent) error {
	return r.retry(ctx, "moderation", e.ID, func() error { return r.Ledger.AppendModeration(ctx, e) })
}

func (r *Retrying) retry(ctx context.Context, kind, id string, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.cfg.BaseDelay
	eb.MaxInterval = r.cfg.MaxDelay
	eb.MaxElapsedTime = 0

	attempt := 0
	var policy backoff.BackOff = backoff.WithMaxRetries(eb, uint64(r.cfg.MaxRetries))
	return backoff.RetryNotify(func() error {
		attempt++
		err := op()
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidRecord) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		metrics.LedgerRetries.Inc()
		r.logger.Warn().
			Err(err).
			Str("record", kind).
			Str("id", id).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("ledger write failed, retrying")
	})
}
