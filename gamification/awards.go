package gamification

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/moshimoshi/fukushu/store"
)

// Store is the persistence surface the award service needs.
type Store interface {
	// CreateXPAward inserts an award unless one already exists for the same
	// (user, session) pair. The bool reports whether a new row was created.
	CreateXPAward(ctx context.Context, create *store.XPAward) (*store.XPAward, bool, error)
	// TotalXP returns the user's accumulated XP across all awards.
	TotalXP(ctx context.Context, userID string) (int64, error)
}

// LevelUpEvent is emitted once per level crossed by an award.
type LevelUpEvent struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Level     int    `json:"level"`
	Title     string `json:"title"`
	TitleJA   string `json:"titleJa"`
	BonusXP   int    `json:"bonusXp"`
}

// LevelUpListener receives level-up events. Listeners are invoked inline
// after the award row is durably created, so an event fires at most once
// per (user, session, level).
type LevelUpListener interface {
	OnLevelUp(ctx context.Context, event LevelUpEvent)
}

// LevelUpListenerFunc adapts a function to the LevelUpListener interface.
type LevelUpListenerFunc func(ctx context.Context, event LevelUpEvent)

// OnLevelUp implements LevelUpListener.
func (f LevelUpListenerFunc) OnLevelUp(ctx context.Context, event LevelUpEvent) {
	f(ctx, event)
}

// AwardResult reports what one grant produced.
type AwardResult struct {
	Award *store.XPAward
	// SessionXP and BonusXP split the award into the session formula part
	// and the level-up bonuses.
	SessionXP int
	BonusXP   int
	// LevelsGained lists the levels crossed by this award, oldest first.
	LevelsGained []LevelUpEvent
	// TotalXP and Level describe the user after the grant.
	TotalXP int64
	Level   UserLevel
	// AlreadyAwarded is true when a previous grant for the same session won;
	// no XP was added and no events were emitted.
	AlreadyAwarded bool
}

// AwardService grants session XP with at-most-once semantics per session.
// The idempotency key is the session ID, enforced by a unique award record
// in the store rather than in memory, so concurrent grants and retries
// cannot double-award.
type AwardService struct {
	store     Store
	listeners []LevelUpListener
	now       func() time.Time
}

// NewAwardService creates an award service. Listeners are optional.
func NewAwardService(s Store, listeners ...LevelUpListener) *AwardService {
	return &AwardService{store: s, listeners: listeners, now: time.Now}
}

// WithClock returns a copy of the service using the given clock.
func (s *AwardService) WithClock(now func() time.Time) *AwardService {
	return &AwardService{store: s.store, listeners: s.listeners, now: now}
}

// SessionStatsOf projects a stored session onto the XP formula's input.
func SessionStatsOf(session *store.ReviewSession) SessionStats {
	hints := 0
	for _, r := range session.ItemsReviewed {
		hints += r.HintsUsed
	}
	return SessionStats{
		ItemsReviewed: len(session.ItemsReviewed),
		PlannedItems:  session.PlannedItems,
		CorrectItems:  session.CorrectItems,
		AvgResponseMs: session.AvgResponseMs,
		HintsUsed:     hints,
		Completed:     session.IsCompleted,
	}
}

// GrantSessionXP computes and persists the XP for one session. Granting the
// same session twice returns the original award with AlreadyAwarded set and
// emits nothing.
func (s *AwardService) GrantSessionXP(ctx context.Context, session *store.ReviewSession) (*AwardResult, error) {
	if session == nil {
		return nil, errors.New("session is nil")
	}

	sessionXP := CalculateSessionXP(SessionStatsOf(session))
	if sessionXP <= 0 {
		return &AwardResult{Level: GetUserLevel(0)}, nil
	}

	prevTotal, err := s.store.TotalXP(ctx, session.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read total xp")
	}

	prevLevel := LevelFromXP(int(prevTotal))
	newLevel := LevelFromXP(int(prevTotal) + sessionXP)

	bonusXP := 0
	events := make([]LevelUpEvent, 0, newLevel-prevLevel)
	for level := prevLevel + 1; level <= newLevel; level++ {
		bonus := LevelUpBonusXP(level)
		bonusXP += bonus
		title, titleJA := TitleForLevel(level)
		events = append(events, LevelUpEvent{
			UserID:    session.UserID,
			SessionID: session.ID,
			Level:     level,
			Title:     title,
			TitleJA:   titleJA,
			BonusXP:   bonus,
		})
	}

	award := &store.XPAward{
		ID:        uuid.New().String(),
		UserID:    session.UserID,
		SessionID: session.ID,
		XP:        int64(sessionXP + bonusXP),
		SessionXP: int64(sessionXP),
		BonusXP:   int64(bonusXP),
		NewLevel:  newLevel,
		CreatedTs: s.now().UnixMilli(),
	}

	stored, created, err := s.store.CreateXPAward(ctx, award)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create xp award")
	}
	if !created {
		// A concurrent or earlier grant for this session won.
		total, err := s.store.TotalXP(ctx, session.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read total xp")
		}
		return &AwardResult{
			Award:          stored,
			AlreadyAwarded: true,
			TotalXP:        total,
			Level:          GetUserLevel(int(total)),
		}, nil
	}

	for _, event := range events {
		for _, l := range s.listeners {
			l.OnLevelUp(ctx, event)
		}
		slog.Info("level up",
			slog.String("user_id", event.UserID),
			slog.Int("level", event.Level),
			slog.String("title", event.Title))
	}

	total := prevTotal + stored.XP
	return &AwardResult{
		Award:        stored,
		SessionXP:    sessionXP,
		BonusXP:      bonusXP,
		LevelsGained: events,
		TotalXP:      total,
		Level:        GetUserLevel(int(total)),
	}, nil
}
