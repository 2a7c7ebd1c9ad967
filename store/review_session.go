package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/moshimoshi/fukushu/internal/errs"
)

// SessionItemResult is one per-item outcome inside a session, in review order.
type SessionItemResult struct {
	ItemID         string `json:"itemId"`
	Correct        bool   `json:"correct"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
	AttemptCount   int    `json:"attemptCount"`
	Confidence     *int   `json:"confidence,omitempty"`
	HintsUsed      int    `json:"hintsUsed"`
}

// ReviewSession is one timed review run. Aggregates are denormalized and
// recomputed from ItemsReviewed on every append.
type ReviewSession struct {
	ID     string  `json:"id" validate:"required"`
	UserID string  `json:"userId" validate:"required"`
	SetID  *string `json:"setId,omitempty"`

	ItemsReviewed []SessionItemResult `json:"itemsReviewed"`

	// Aggregates.
	PlannedItems   int     `json:"plannedItems" validate:"gte=0"`
	CorrectItems   int     `json:"correctItems" validate:"gte=0"`
	IncorrectItems int     `json:"incorrectItems" validate:"gte=0"`
	Accuracy       float64 `json:"accuracy" validate:"gte=0,lte=1"`
	AvgResponseMs  int64   `json:"avgResponseMs" validate:"gte=0"`
	HintsUsed      int     `json:"hintsUsed" validate:"gte=0"`

	// Timing.
	StartedTs        int64  `json:"startedAt"`
	CompletedTs      *int64 `json:"completedAt,omitempty"`
	PausedTs         *int64 `json:"pausedAt,omitempty"`
	PausedDurationMs int64  `json:"pausedDurationMs"`
	DurationMs       *int64 `json:"durationMs,omitempty"`
	IsCompleted      bool   `json:"isCompleted"`

	Version   int64 `json:"version" validate:"gte=1"`
	CreatedTs int64 `json:"createdAt"`
	UpdatedTs int64 `json:"updatedAt"`
}

// RecomputeStats rebuilds the denormalized aggregates from ItemsReviewed.
func (s *ReviewSession) RecomputeStats() {
	correct, hints := 0, 0
	var responseTotal int64
	for _, r := range s.ItemsReviewed {
		if r.Correct {
			correct++
		}
		hints += r.HintsUsed
		responseTotal += r.ResponseTimeMs
	}
	s.CorrectItems = correct
	s.IncorrectItems = len(s.ItemsReviewed) - correct
	s.HintsUsed = hints
	if n := len(s.ItemsReviewed); n > 0 {
		s.Accuracy = float64(correct) / float64(n)
		s.AvgResponseMs = responseTotal / int64(n)
	} else {
		s.Accuracy = 0
		s.AvgResponseMs = 0
	}
}

// FindReviewSession is the find condition for review sessions.
type FindReviewSession struct {
	ID          *string
	UserID      *string
	SetID       *string
	IsCompleted *bool

	// StartedAfterTs / StartedBeforeTs bound the session start time.
	StartedAfterTs  *int64
	StartedBeforeTs *int64

	Limit  *int
	Cursor *string
}

// UpdateReviewSession is the update request for a review session.
type UpdateReviewSession struct {
	ID              string
	UserID          string
	ExpectedVersion *int64

	ItemsReviewed  *[]SessionItemResult
	PlannedItems   *int
	CorrectItems   *int
	IncorrectItems *int
	Accuracy       *float64
	AvgResponseMs  *int64
	HintsUsed      *int

	PausedTs         *int64
	ClearPausedTs    bool
	PausedDurationMs *int64
	CompletedTs      *int64
	DurationMs       *int64
	IsCompleted      *bool

	UpdatedTs *int64
}

// DeleteReviewSession is the delete request for a review session.
type DeleteReviewSession struct {
	ID     string
	UserID string
}

// StartReviewSession creates a session with the clock started.
func (s *Store) StartReviewSession(ctx context.Context, create *ReviewSession) (*ReviewSession, error) {
	if create.ID == "" {
		create.ID = uuid.New().String()
	}
	now := time.Now().UnixMilli()
	if create.StartedTs == 0 {
		create.StartedTs = now
	}
	if create.Version == 0 {
		create.Version = 1
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = now
	}
	if create.UpdatedTs == 0 {
		create.UpdatedTs = now
	}
	create.RecomputeStats()
	if err := validateReviewSession(create); err != nil {
		return nil, err
	}
	return do(ctx, s, "review_session.create", func(ctx context.Context) (*ReviewSession, error) {
		return s.driver.CreateReviewSession(ctx, create)
	})
}

// ListReviewSessions lists sessions matching the find condition.
func (s *Store) ListReviewSessions(ctx context.Context, find *FindReviewSession) ([]*ReviewSession, error) {
	return do(ctx, s, "review_session.list", func(ctx context.Context) ([]*ReviewSession, error) {
		return s.driver.ListReviewSessions(ctx, find)
	})
}

// GetReviewSession returns one session or a not-found error.
func (s *Store) GetReviewSession(ctx context.Context, find *FindReviewSession) (*ReviewSession, error) {
	list, err := s.ListReviewSessions(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errs.NotFound("review session not found")
	}
	return list[0], nil
}

// AppendSessionResult appends one item outcome and recomputes the session
// aggregates. The write is version-checked; a concurrent writer surfaces as
// a conflict.
func (s *Store) AppendSessionResult(ctx context.Context, sessionID, userID string, result SessionItemResult) (*ReviewSession, error) {
	session, err := s.GetReviewSession(ctx, &FindReviewSession{ID: &sessionID, UserID: &userID})
	if err != nil {
		return nil, err
	}
	if session.IsCompleted {
		return nil, errs.Conflict("review session %s is already completed", sessionID)
	}

	session.ItemsReviewed = append(session.ItemsReviewed, result)
	session.RecomputeStats()

	now := time.Now().UnixMilli()
	return do(ctx, s, "review_session.append", func(ctx context.Context) (*ReviewSession, error) {
		return s.driver.UpdateReviewSession(ctx, &UpdateReviewSession{
			ID:              sessionID,
			UserID:          userID,
			ExpectedVersion: &session.Version,
			ItemsReviewed:   &session.ItemsReviewed,
			CorrectItems:    &session.CorrectItems,
			IncorrectItems:  &session.IncorrectItems,
			Accuracy:        &session.Accuracy,
			AvgResponseMs:   &session.AvgResponseMs,
			HintsUsed:       &session.HintsUsed,
			UpdatedTs:       &now,
		})
	})
}

// PauseReviewSession stops the session clock. Pausing a paused session is a
// no-op.
func (s *Store) PauseReviewSession(ctx context.Context, sessionID, userID string) (*ReviewSession, error) {
	session, err := s.GetReviewSession(ctx, &FindReviewSession{ID: &sessionID, UserID: &userID})
	if err != nil {
		return nil, err
	}
	if session.IsCompleted {
		return nil, errs.Conflict("review session %s is already completed", sessionID)
	}
	if session.PausedTs != nil {
		return session, nil
	}

	now := time.Now().UnixMilli()
	return do(ctx, s, "review_session.pause", func(ctx context.Context) (*ReviewSession, error) {
		return s.driver.UpdateReviewSession(ctx, &UpdateReviewSession{
			ID:              sessionID,
			UserID:          userID,
			ExpectedVersion: &session.Version,
			PausedTs:        &now,
			UpdatedTs:       &now,
		})
	})
}

// ResumeReviewSession restarts the clock, folding the paused span into the
// accumulated pause duration. Resuming a running session is a no-op.
func (s *Store) ResumeReviewSession(ctx context.Context, sessionID, userID string) (*ReviewSession, error) {
	session, err := s.GetReviewSession(ctx, &FindReviewSession{ID: &sessionID, UserID: &userID})
	if err != nil {
		return nil, err
	}
	if session.IsCompleted {
		return nil, errs.Conflict("review session %s is already completed", sessionID)
	}
	if session.PausedTs == nil {
		return session, nil
	}

	now := time.Now().UnixMilli()
	pausedDuration := session.PausedDurationMs + (now - *session.PausedTs)
	return do(ctx, s, "review_session.resume", func(ctx context.Context) (*ReviewSession, error) {
		return s.driver.UpdateReviewSession(ctx, &UpdateReviewSession{
			ID:               sessionID,
			UserID:           userID,
			ExpectedVersion:  &session.Version,
			ClearPausedTs:    true,
			PausedDurationMs: &pausedDuration,
			UpdatedTs:        &now,
		})
	})
}

// CompleteReviewSession freezes the session: aggregates are final and the
// duration excludes paused time. Completing a completed session returns it
// unchanged.
func (s *Store) CompleteReviewSession(ctx context.Context, sessionID, userID string) (*ReviewSession, error) {
	session, err := s.GetReviewSession(ctx, &FindReviewSession{ID: &sessionID, UserID: &userID})
	if err != nil {
		return nil, err
	}
	if session.IsCompleted {
		return session, nil
	}

	now := time.Now().UnixMilli()
	pausedDuration := session.PausedDurationMs
	if session.PausedTs != nil {
		pausedDuration += now - *session.PausedTs
	}
	duration := now - session.StartedTs - pausedDuration
	if duration < 0 {
		duration = 0
	}
	completed := true
	session.RecomputeStats()

	return do(ctx, s, "review_session.complete", func(ctx context.Context) (*ReviewSession, error) {
		return s.driver.UpdateReviewSession(ctx, &UpdateReviewSession{
			ID:               sessionID,
			UserID:           userID,
			ExpectedVersion:  &session.Version,
			CorrectItems:     &session.CorrectItems,
			IncorrectItems:   &session.IncorrectItems,
			Accuracy:         &session.Accuracy,
			AvgResponseMs:    &session.AvgResponseMs,
			HintsUsed:        &session.HintsUsed,
			ClearPausedTs:    true,
			PausedDurationMs: &pausedDuration,
			CompletedTs:      &now,
			DurationMs:       &duration,
			IsCompleted:      &completed,
			UpdatedTs:        &now,
		})
	})
}

// DeleteReviewSession hard-deletes a session.
func (s *Store) DeleteReviewSession(ctx context.Context, delete *DeleteReviewSession) error {
	return run(ctx, s, "review_session.delete", func(ctx context.Context) error {
		return s.driver.DeleteReviewSession(ctx, delete)
	})
}
