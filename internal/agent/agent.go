// Package agent defines the contract between the arbiter and the AI
// participants it arbitrates between. The arbiter never looks inside an
// implementation: it only asks for a confidence score and, if granted the
// floor, for a response.
package agent

import (
	"context"
	"sync/atomic"

	"github.com/eldtechnologies/aicq-arbiter/internal/models"
)

// Evaluation is a raw confidence score with a short justification.
type Evaluation struct {
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Evaluator scores how strongly a participant wants to answer msg, given
// the ordered context window of prior room messages.
type Evaluator interface {
	Evaluate(ctx context.Context, msg models.Message, window []models.Message) (Evaluation, error)
}

// Responder produces the response text once a participant has won.
type Responder interface {
	Respond(ctx context.Context, msg models.Message, window []models.Message) (string, error)
}

// Agent is a participant capable of both evaluating and responding.
type Agent interface {
	Evaluator
	Responder
}

// Func adapts plain functions to the Agent interface.
type Func struct {
	EvaluateFn func(ctx context.Context, msg models.Message, window []models.Message) (Evaluation, error)
	RespondFn  func(ctx context.Context, msg models.Message, window []models.Message) (string, error)
}

func (f Func) Evaluate(ctx context.Context, msg models.Message, window []models.Message) (Evaluation, error) {
	return f.EvaluateFn(ctx, msg, window)
}

func (f Func) Respond(ctx context.Context, msg models.Message, window []models.Message) (string, error) {
	if f.RespondFn == nil {
		return "", nil
	}
	return f.RespondFn(ctx, msg, window)
}

// Static always reports the same confidence and answers with a fixed reply.
// It counts evaluator invocations, which tests rely on.
type Static struct {
	Confidence float64
	Reason     string
	Reply      string

	calls atomic.Int64
}

func (s *Static) Evaluate(ctx context.Context, msg models.Message, window []models.Message) (Evaluation, error) {
	s.calls.Add(1)
	return Evaluation{Confidence: s.Confidence, Reason: s.Reason}, nil
}

func (s *Static) Respond(ctx context.Context, msg models.Message, window []models.Message) (string, error) {
	return s.Reply, nil
}

// Calls returns how many times Evaluate has been invoked.
func (s *Static) Calls() int64 {
	return s.calls.Load()
}

// Clamp bounds a confidence to [0,1].
func Clamp(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
