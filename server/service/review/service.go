// Package review composes the hosted store, the SRS calculator and the XP
// award service into the review workflow. The store keeps rows consistent;
// this layer owns the read-modify-write cycle that moves an item through the
// scheduler and the at-most-once XP grant when a session completes.
package review

import (
	"context"
	"time"

	"github.com/moshimoshi/fukushu/gamification"
	"github.com/moshimoshi/fukushu/internal/errs"
	"github.com/moshimoshi/fukushu/srs"
	"github.com/moshimoshi/fukushu/store"
)

// maxRecordAttempts bounds the optimistic-concurrency retry loop when two
// devices score the same item at once.
const maxRecordAttempts = 3

type service struct {
	store  Store
	calc   *srs.Calculator
	awards *gamification.AwardService
	now    func() time.Time
}

// Store is the slice of store operations the review service needs.
type Store interface {
	GetReviewItem(ctx context.Context, find *store.FindReviewItem) (*store.ReviewItem, error)
	UpdateReviewItem(ctx context.Context, update *store.UpdateReviewItem) (*store.ReviewItem, error)
	ListDueReviewItems(ctx context.Context, userID string, nowTs int64, limit int) ([]*store.ReviewItem, error)
	StartReviewSession(ctx context.Context, create *store.ReviewSession) (*store.ReviewSession, error)
	AppendSessionResult(ctx context.Context, sessionID, userID string, result store.SessionItemResult) (*store.ReviewSession, error)
	CompleteReviewSession(ctx context.Context, sessionID, userID string) (*store.ReviewSession, error)
}

// NewService creates a review service over the hosted store. Listeners
// receive level-up events from completed sessions.
func NewService(s *store.Store, listeners ...gamification.LevelUpListener) Service {
	return &service{
		store:  s,
		calc:   srs.NewCalculator(srs.DefaultConfig()),
		awards: gamification.NewAwardService(s, listeners...),
		now:    time.Now,
	}
}

func (s *service) DueQueue(ctx context.Context, userID string, limit int) ([]*store.ReviewItem, error) {
	if userID == "" {
		return nil, errs.ValidationFailed("userId is required")
	}
	return s.store.ListDueReviewItems(ctx, userID, s.now().UnixMilli(), limit)
}

func (s *service) StartSession(ctx context.Context, userID string, setID *string, plannedItems int) (*store.ReviewSession, error) {
	if userID == "" {
		return nil, errs.ValidationFailed("userId is required")
	}
	if plannedItems < 0 {
		return nil, errs.ValidationFailed("plannedItems cannot be negative")
	}
	return s.store.StartReviewSession(ctx, &store.ReviewSession{
		UserID:       userID,
		SetID:        setID,
		PlannedItems: plannedItems,
	})
}

func (s *service) RecordReview(ctx context.Context, userID, sessionID string, record *Record) (*Outcome, error) {
	if userID == "" {
		return nil, errs.ValidationFailed("userId is required")
	}
	if record == nil || record.ItemID == "" {
		return nil, errs.ValidationFailed("itemId is required")
	}
	if record.ResponseTimeMs < 0 {
		return nil, errs.ValidationFailed("responseTimeMs cannot be negative")
	}

	review := srs.Review{
		Correct:        record.Correct,
		Quality:        record.Quality,
		ResponseTimeMs: record.ResponseTimeMs,
	}

	now := s.now()
	var item *store.ReviewItem
	var result srs.Result
	for attempt := 1; ; attempt++ {
		stored, err := s.store.GetReviewItem(ctx, &store.FindReviewItem{
			ID:     &record.ItemID,
			UserID: &userID,
		})
		if err != nil {
			return nil, err
		}

		result = s.calc.Next(stored.SchedulingState(), review, now)
		expected := stored.Version
		stored.ApplyReview(result, review, now.UnixMilli())

		item, err = s.store.UpdateReviewItem(ctx, updateFromItem(stored, expected))
		if err == nil {
			break
		}
		// Another device scored the item first; rescore against its write.
		if !errs.IsConflict(err) || attempt == maxRecordAttempts {
			return nil, err
		}
	}

	outcome := &Outcome{Item: item, Result: result}
	if sessionID == "" {
		return outcome, nil
	}

	session, err := s.store.AppendSessionResult(ctx, sessionID, userID, store.SessionItemResult{
		ItemID:         record.ItemID,
		Correct:        record.Correct,
		ResponseTimeMs: record.ResponseTimeMs,
		AttemptCount:   record.AttemptCount,
		Confidence:     record.Confidence,
		HintsUsed:      record.HintsUsed,
	})
	if err != nil {
		// The item keeps its new schedule; the session aggregates miss this
		// answer until the caller retries the append.
		return nil, err
	}
	outcome.Session = session
	return outcome, nil
}

func (s *service) CompleteSession(ctx context.Context, userID, sessionID string) (*SessionSummary, error) {
	if userID == "" || sessionID == "" {
		return nil, errs.ValidationFailed("userId and sessionId are required")
	}
	session, err := s.store.CompleteReviewSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	award, err := s.awards.GrantSessionXP(ctx, session)
	if err != nil {
		// The session is already frozen. Granting is idempotent per session,
		// so the caller can safely call complete again.
		return nil, err
	}
	return &SessionSummary{Session: session, Award: award}, nil
}

// updateFromItem projects a reviewed item onto a conditional update request.
func updateFromItem(item *store.ReviewItem, expectedVersion int64) *store.UpdateReviewItem {
	return &store.UpdateReviewItem{
		ID:              item.ID,
		UserID:          item.UserID,
		ExpectedVersion: &expectedVersion,

		Status:         &item.Status,
		Interval:       &item.Interval,
		EaseFactor:     &item.EaseFactor,
		Repetitions:    &item.Repetitions,
		LastReviewedTs: item.LastReviewedTs,
		NextReviewTs:   &item.NextReviewTs,

		ReviewCount:    &item.ReviewCount,
		CorrectCount:   &item.CorrectCount,
		IncorrectCount: &item.IncorrectCount,
		CurrentStreak:  &item.CurrentStreak,
		BestStreak:     &item.BestStreak,
		AvgResponseMs:  &item.AvgResponseMs,
	}
}
