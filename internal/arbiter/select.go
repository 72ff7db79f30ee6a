package arbiter

import (
	"sort"
	"time"

	"github.com/eldtechnologies/aicq-arbiter/internal/models"
)

// selection is the result of ranking the decisions collected for a message.
type selection struct {
	Accepted []string
	Denied   []models.Denial
}

// selectResponders ranks RESPOND candidates and accepts up to capacity of
// them. Ordering: adjusted confidence, then priority, then least recently
// selected (never selected first), then participant ID. Losing candidates
// are denied with the mode's capacity reason; SILENT decisions are denied
// with their own reason.
func selectResponders(decisions []models.ParticipantDecision, lastSelected map[string]time.Time, capacity int, collective bool) selection {
	if capacity < 1 {
		capacity = 1
	}

	var candidates []models.ParticipantDecision
	out := selection{Accepted: []string{}, Denied: []models.Denial{}}
	for _, d := range decisions {
		if d.IsCandidate() {
			candidates = append(candidates, d)
			continue
		}
		out.Denied = append(out.Denied, models.Denial{ParticipantID: d.ParticipantID, Reason: d.Reason})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.AdjustedConfidence != b.AdjustedConfidence {
			return a.AdjustedConfidence > b.AdjustedConfidence
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		la, aSeen := lastSelected[a.ParticipantID]
		lb, bSeen := lastSelected[b.ParticipantID]
		if aSeen != bSeen {
			return !aSeen
		}
		if aSeen && !la.Equal(lb) {
			return la.Before(lb)
		}
		return a.ParticipantID < b.ParticipantID
	})

	loser := models.ReasonLowerPriority
	if collective {
		loser = models.ReasonCollectiveCapacity
	}
	for i, c := range candidates {
		if i < capacity {
			out.Accepted = append(out.Accepted, c.ParticipantID)
			continue
		}
		out.Denied = append(out.Denied, models.Denial{ParticipantID: c.ParticipantID, Reason: loser})
	}

	sortDenials(out.Denied)
	return out
}

func sortDenials(denied []models.Denial) {
	sort.Slice(denied, func(i, j int) bool {
		return denied[i].ParticipantID < denied[j].ParticipantID
	})
}
