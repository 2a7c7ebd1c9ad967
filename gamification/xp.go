// Package gamification computes experience points for review sessions and
// maps accumulated XP onto the 100-level progression table. The calculators
// are pure; AwardService adds the persisted, at-most-once grant on top.
package gamification

// XP bonus constants. Tier boundaries follow the session scoring rules:
// perfect accuracy outranks speed, and per-item XP is capped so marathon
// sessions cannot farm the counter.
const (
	CompletionBonusXP = 10
	NoHintsBonusXP    = 15

	PerfectAccuracyXP = 50
	HighAccuracyXP    = 30
	GoodAccuracyXP    = 20
	FairAccuracyXP    = 10

	FastSessionXP   = 20
	SteadySessionXP = 10

	PerItemXP    = 2
	PerItemCapXP = 40

	fastAvgResponseMs   = 3_000
	steadyAvgResponseMs = 5_000
)

// SessionStats is the slice of a review session the XP formula consumes.
type SessionStats struct {
	ItemsReviewed int
	PlannedItems  int
	CorrectItems  int
	AvgResponseMs int64
	HintsUsed     int
	Completed     bool
}

// Accuracy returns the fraction of reviewed items answered correctly.
func (s SessionStats) Accuracy() float64 {
	if s.ItemsReviewed == 0 {
		return 0
	}
	return float64(s.CorrectItems) / float64(s.ItemsReviewed)
}

// CalculateSessionXP returns the XP earned by one session: completion bonus
// plus accuracy tier plus speed tier plus capped per-item XP plus a no-hints
// bonus. Incomplete sessions earn a fraction proportional to how much of the
// planned queue was actually reviewed.
func CalculateSessionXP(stats SessionStats) int {
	if stats.ItemsReviewed == 0 {
		return 0
	}

	xp := accuracyBonus(stats.Accuracy()) + speedBonus(stats.AvgResponseMs)

	perItem := stats.ItemsReviewed * PerItemXP
	if perItem > PerItemCapXP {
		perItem = PerItemCapXP
	}
	xp += perItem

	if stats.Completed {
		xp += CompletionBonusXP
		if stats.HintsUsed == 0 {
			xp += NoHintsBonusXP
		}
		return xp
	}

	// Abandoned sessions are scaled by the completion ratio.
	if stats.PlannedItems > stats.ItemsReviewed {
		xp = xp * stats.ItemsReviewed / stats.PlannedItems
	}
	return xp
}

func accuracyBonus(accuracy float64) int {
	switch {
	case accuracy >= 1.0:
		return PerfectAccuracyXP
	case accuracy >= 0.9:
		return HighAccuracyXP
	case accuracy >= 0.75:
		return GoodAccuracyXP
	case accuracy >= 0.5:
		return FairAccuracyXP
	default:
		return 0
	}
}

func speedBonus(avgResponseMs int64) int {
	switch {
	case avgResponseMs <= 0:
		return 0
	case avgResponseMs < fastAvgResponseMs:
		return FastSessionXP
	case avgResponseMs < steadyAvgResponseMs:
		return SteadySessionXP
	default:
		return 0
	}
}
