package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// XPAward is one experience grant. The unique (userId, sessionId) pair makes
// grants at-most-once per session: replays and concurrent grants collapse
// onto the first row.
type XPAward struct {
	ID        string `json:"id" validate:"required"`
	UserID    string `json:"userId" validate:"required"`
	SessionID string `json:"sessionId" validate:"required"`

	// XP is the full grant; SessionXP and BonusXP are its parts.
	XP        int64 `json:"xp" validate:"gte=0"`
	SessionXP int64 `json:"sessionXp" validate:"gte=0"`
	BonusXP   int64 `json:"bonusXp" validate:"gte=0"`

	// NewLevel is the user's level after the grant.
	NewLevel int `json:"newLevel" validate:"gte=1"`

	CreatedTs int64 `json:"createdAt"`
}

// FindXPAward is the find condition for XP awards.
type FindXPAward struct {
	ID        *string
	UserID    *string
	SessionID *string

	Limit *int
}

// CreateXPAward inserts an award unless the session was already awarded.
// The bool reports whether this call created the row; when false the
// returned award is the earlier winner.
func (s *Store) CreateXPAward(ctx context.Context, create *XPAward) (*XPAward, bool, error) {
	if create.ID == "" {
		create.ID = uuid.New().String()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().UnixMilli()
	}
	if err := validateXPAward(create); err != nil {
		return nil, false, err
	}
	var created bool
	award, err := do(ctx, s, "xp_award.create", func(ctx context.Context) (*XPAward, error) {
		award, c, err := s.driver.CreateXPAward(ctx, create)
		created = c
		return award, err
	})
	if err != nil {
		return nil, false, err
	}
	return award, created, nil
}

// ListXPAwards lists awards matching the find condition, newest first.
func (s *Store) ListXPAwards(ctx context.Context, find *FindXPAward) ([]*XPAward, error) {
	return do(ctx, s, "xp_award.list", func(ctx context.Context) ([]*XPAward, error) {
		return s.driver.ListXPAwards(ctx, find)
	})
}

// TotalXP returns the user's accumulated XP across all awards.
func (s *Store) TotalXP(ctx context.Context, userID string) (int64, error) {
	return do(ctx, s, "xp_award.total", func(ctx context.Context) (int64, error) {
		return s.driver.GetTotalXP(ctx, userID)
	})
}
