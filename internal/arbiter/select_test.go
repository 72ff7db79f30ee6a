package arbiter

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/eldtechnologies/aicq-arbiter/internal/models"
)

func respond(id string, adjusted float64, priority int) models.ParticipantDecision {
	return models.ParticipantDecision{
		ParticipantID:      id,
		RawConfidence:      adjusted,
		AdjustedConfidence: adjusted,
		Tag:                models.TagRespond,
		Priority:           priority,
	}
}

func silent(id, reason string) models.ParticipantDecision {
	return models.ParticipantDecision{ParticipantID: id, Tag: models.TagSilent, Reason: reason}
}

func TestSelectRespondersNormalMode(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		decisions    []models.ParticipantDecision
		lastSelected map[string]time.Time
		wantAccepted []string
		wantDenied   []models.Denial
	}{
		{
			name:         "highest confidence wins",
			decisions:    []models.ParticipantDecision{respond("alpha", 0.6, 1), respond("beta", 0.9, 0)},
			wantAccepted: []string{"beta"},
			wantDenied:   []models.Denial{{ParticipantID: "alpha", Reason: models.ReasonLowerPriority}},
		},
		{
			name:         "tie broken by priority",
			decisions:    []models.ParticipantDecision{respond("alpha", 0.7, 1), respond("beta", 0.7, 2)},
			wantAccepted: []string{"beta"},
			wantDenied:   []models.Denial{{ParticipantID: "alpha", Reason: models.ReasonLowerPriority}},
		},
		{
			name:         "equal tiers favor least recently selected",
			decisions:    []models.ParticipantDecision{respond("alpha", 0.7, 1), respond("beta", 0.7, 1)},
			lastSelected: map[string]time.Time{"alpha": t0.Add(time.Minute), "beta": t0},
			wantAccepted: []string{"beta"},
			wantDenied:   []models.Denial{{ParticipantID: "alpha", Reason: models.ReasonLowerPriority}},
		},
		{
			name:         "never selected beats previously selected",
			decisions:    []models.ParticipantDecision{respond("alpha", 0.7, 1), respond("beta", 0.7, 1)},
			lastSelected: map[string]time.Time{"alpha": t0},
			wantAccepted: []string{"beta"},
			wantDenied:   []models.Denial{{ParticipantID: "alpha", Reason: models.ReasonLowerPriority}},
		},
		{
			name:         "full tie falls back to lowest id",
			decisions:    []models.ParticipantDecision{respond("gamma", 0.7, 1), respond("beta", 0.7, 1)},
			wantAccepted: []string{"beta"},
			wantDenied:   []models.Denial{{ParticipantID: "gamma", Reason: models.ReasonLowerPriority}},
		},
		{
			name: "silent participants keep their reason",
			decisions: []models.ParticipantDecision{
				silent("alpha", models.ReasonBelowThreshold),
				respond("beta", 0.55, 0),
				silent("gamma", models.ReasonParticipantMuted),
			},
			wantAccepted: []string{"beta"},
			wantDenied: []models.Denial{
				{ParticipantID: "alpha", Reason: models.ReasonBelowThreshold},
				{ParticipantID: "gamma", Reason: models.ReasonParticipantMuted},
			},
		},
		{
			name:         "no candidates",
			decisions:    []models.ParticipantDecision{silent("alpha", models.ReasonEvaluatorTimeout)},
			wantAccepted: []string{},
			wantDenied:   []models.Denial{{ParticipantID: "alpha", Reason: models.ReasonEvaluatorTimeout}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectResponders(tt.decisions, tt.lastSelected, 1, false)
			if diff := cmp.Diff(tt.wantAccepted, got.Accepted); diff != "" {
				t.Errorf("accepted mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantDenied, got.Denied); diff != "" {
				t.Errorf("denied mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSelectRespondersCollectiveCapacity(t *testing.T) {
	decisions := []models.ParticipantDecision{
		respond("alpha", 0.9, 0),
		respond("beta", 0.8, 0),
		respond("gamma", 0.7, 0),
		respond("delta", 0.6, 0),
	}

	got := selectResponders(decisions, nil, 3, true)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, got.Accepted)
	assert.Equal(t, []models.Denial{{ParticipantID: "delta", Reason: models.ReasonCollectiveCapacity}}, got.Denied)

	few := selectResponders(decisions[:2], nil, 3, true)
	assert.Equal(t, []string{"alpha", "beta"}, few.Accepted)
	assert.Empty(t, few.Denied)
}

func TestSelectRespondersIgnoresDiscardedDecisions(t *testing.T) {
	late := respond("alpha", 0.99, 5)
	late.Discarded = models.ReasonLateDecision
	late.Reason = "relevant"

	got := selectResponders([]models.ParticipantDecision{late, respond("beta", 0.6, 0)}, nil, 1, false)
	assert.Equal(t, []string{"beta"}, got.Accepted)
}
