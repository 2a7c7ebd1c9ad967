package review

import (
	"context"

	"github.com/moshimoshi/fukushu/gamification"
	"github.com/moshimoshi/fukushu/srs"
	"github.com/moshimoshi/fukushu/store"
)

// Service is the review workflow: pull due items, record outcomes against
// the scheduler, and close sessions out with their XP grant.
type Service interface {
	// DueQueue returns the user's items due now, in presentation order:
	// never-reviewed first, then weakest ease factor, then most overdue.
	DueQueue(ctx context.Context, userID string, limit int) ([]*store.ReviewItem, error)

	// StartSession opens a session planning the given number of items.
	// setID is optional and scopes the session to one review set.
	StartSession(ctx context.Context, userID string, setID *string, plannedItems int) (*store.ReviewSession, error)

	// RecordReview scores one answer: the item's scheduling state advances
	// through the calculator and the outcome is appended to the session.
	// An empty sessionID records an ad-hoc review against the item only.
	RecordReview(ctx context.Context, userID, sessionID string, record *Record) (*Outcome, error)

	// CompleteSession freezes the session and grants its XP. Completing a
	// session twice returns the original award, never a second one.
	CompleteSession(ctx context.Context, userID, sessionID string) (*SessionSummary, error)
}

// Record is one answer to score.
type Record struct {
	ItemID         string `json:"itemId"`
	Correct        bool   `json:"correct"`
	Quality        *int   `json:"quality,omitempty"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
	AttemptCount   int    `json:"attemptCount"`
	Confidence     *int   `json:"confidence,omitempty"`
	HintsUsed      int    `json:"hintsUsed"`
}

// Outcome reports what one recorded review changed.
type Outcome struct {
	// Item is the stored item after the scheduling update.
	Item *store.ReviewItem `json:"item"`
	// Session is the session after the append, nil for ad-hoc reviews.
	Session *store.ReviewSession `json:"session,omitempty"`
	// Result is the calculator verdict the item was updated with.
	Result srs.Result `json:"result"`
}

// SessionSummary reports a completed session and its award.
type SessionSummary struct {
	Session *store.ReviewSession      `json:"session"`
	Award   *gamification.AwardResult `json:"award"`
}
