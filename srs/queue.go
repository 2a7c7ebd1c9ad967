package srs

import (
	"sort"
	"time"
)

// QueueEntry is the slice of an item the due-queue ordering needs.
type QueueEntry struct {
	ID           string
	Repetitions  int
	EaseFactor   float64
	NextReviewTs int64 // epoch milliseconds
}

// Due filters entries whose next review time has passed. Entries with a
// zero NextReviewTs have never been scheduled and are always due.
func Due(entries []QueueEntry, now time.Time) []QueueEntry {
	nowMs := now.UnixMilli()
	due := make([]QueueEntry, 0, len(entries))
	for _, e := range entries {
		if e.NextReviewTs <= nowMs {
			due = append(due, e)
		}
	}
	return due
}

// Order sorts due entries in study priority: never-reviewed items first,
// then the hardest (lowest ease factor), then the most overdue. The sort is
// stable so equal items keep their incoming order.
func Order(entries []QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if (a.Repetitions == 0) != (b.Repetitions == 0) {
			return a.Repetitions == 0
		}
		if a.EaseFactor != b.EaseFactor {
			return a.EaseFactor < b.EaseFactor
		}
		return a.NextReviewTs < b.NextReviewTs
	})
}

// NextDue returns up to limit due entries in study priority order.
func NextDue(entries []QueueEntry, now time.Time, limit int) []QueueEntry {
	due := Due(entries, now)
	Order(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due
}
