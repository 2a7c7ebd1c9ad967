package store

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/moshimoshi/fukushu/srs"
)

// UserStats is the per-user aggregate over review items, session history and
// earned XP. It is reduced in application code from the raw rows, not by a
// database-side aggregation.
type UserStats struct {
	UserID string `json:"userId"`

	TotalItems    int `json:"totalItems"`
	NewItems      int `json:"newItems"`
	LearningItems int `json:"learningItems"`
	MasteredItems int `json:"masteredItems"`
	DueToday      int `json:"dueToday"`

	TotalSessions     int     `json:"totalSessions"`
	CompletedSessions int     `json:"completedSessions"`
	TotalReviews      int     `json:"totalReviews"`
	CorrectReviews    int     `json:"correctReviews"`
	Accuracy          float64 `json:"accuracy"`
	TotalStudyTimeMs  int64   `json:"totalStudyTimeMs"`

	TotalXP int64 `json:"totalXp"`
}

// GetUserStats fans out the three independent reads and reduces the rows.
// Each read already carries its own retry and metrics, so the fan-out adds
// none of its own.
func (s *Store) GetUserStats(ctx context.Context, userID string) (*UserStats, error) {
	normal := Normal
	var (
		items    []*ReviewItem
		sessions []*ReviewSession
		totalXP  int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.ListReviewItems(gctx, &FindReviewItem{UserID: &userID, RowStatus: &normal})
		return err
	})
	g.Go(func() error {
		var err error
		sessions, err = s.ListReviewSessions(gctx, &FindReviewSession{UserID: &userID})
		return err
	})
	g.Go(func() error {
		var err error
		totalXP, err = s.TotalXP(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return reduceUserStats(userID, items, sessions, totalXP, time.Now().UnixMilli()), nil
}

func reduceUserStats(userID string, items []*ReviewItem, sessions []*ReviewSession, totalXP int64, nowTs int64) *UserStats {
	stats := &UserStats{
		UserID:  userID,
		TotalXP: totalXP,
	}

	dueCutoff := endOfDayMs(nowTs)
	for _, item := range items {
		stats.TotalItems++
		switch item.Status {
		case srs.StatusLearning:
			stats.LearningItems++
		case srs.StatusMastered:
			stats.MasteredItems++
		default:
			stats.NewItems++
		}
		if item.NextReviewTs <= dueCutoff {
			stats.DueToday++
		}
	}

	for _, session := range sessions {
		stats.TotalSessions++
		stats.TotalReviews += len(session.ItemsReviewed)
		stats.CorrectReviews += session.CorrectItems
		if session.IsCompleted {
			stats.CompletedSessions++
			if session.DurationMs != nil {
				stats.TotalStudyTimeMs += *session.DurationMs
			}
		}
	}
	if stats.TotalReviews > 0 {
		stats.Accuracy = float64(stats.CorrectReviews) / float64(stats.TotalReviews)
	}
	return stats
}

// endOfDayMs returns the last millisecond of the UTC day containing nowTs.
// An item is "due today" when its next review falls on or before it.
func endOfDayMs(nowTs int64) int64 {
	t := time.UnixMilli(nowTs).UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.AddDate(0, 0, 1).UnixMilli() - 1
}
