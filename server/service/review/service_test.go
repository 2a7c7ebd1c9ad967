package review

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/moshimoshi/fukushu/gamification"
	"github.com/moshimoshi/fukushu/internal/errs"
	"github.com/moshimoshi/fukushu/lexeme"
	"github.com/moshimoshi/fukushu/srs"
	"github.com/moshimoshi/fukushu/store"
)

// mockStore is an in-memory stand-in for the store facade, close enough to
// its semantics for the workflow: not-found errors, version-checked item
// updates, session aggregate recomputation and unique XP awards.
type mockStore struct {
	items    map[string]*store.ReviewItem
	sessions map[string]*store.ReviewSession
	awards   map[string]*store.XPAward

	updateCalls     int
	conflictsToFail int
}

func newMockStore() *mockStore {
	return &mockStore{
		items:    map[string]*store.ReviewItem{},
		sessions: map[string]*store.ReviewSession{},
		awards:   map[string]*store.XPAward{},
	}
}

func copyItem(item *store.ReviewItem) *store.ReviewItem {
	clone := *item
	return &clone
}

func copySession(session *store.ReviewSession) *store.ReviewSession {
	clone := *session
	clone.ItemsReviewed = append([]store.SessionItemResult(nil), session.ItemsReviewed...)
	return &clone
}

func (m *mockStore) GetReviewItem(_ context.Context, find *store.FindReviewItem) (*store.ReviewItem, error) {
	if find.ID != nil {
		if item, ok := m.items[*find.ID]; ok && (find.UserID == nil || item.UserID == *find.UserID) {
			return copyItem(item), nil
		}
	}
	return nil, errs.NotFound("review item not found")
}

func (m *mockStore) UpdateReviewItem(_ context.Context, update *store.UpdateReviewItem) (*store.ReviewItem, error) {
	m.updateCalls++
	if m.conflictsToFail > 0 {
		m.conflictsToFail--
		return nil, errs.Conflict("review item version changed")
	}
	stored, ok := m.items[update.ID]
	if !ok || stored.UserID != update.UserID {
		return nil, errs.NotFound("review item not found")
	}
	if update.ExpectedVersion != nil && *update.ExpectedVersion != stored.Version {
		return nil, errs.Conflict("review item version changed")
	}
	if update.Status != nil {
		stored.Status = *update.Status
	}
	if update.Interval != nil {
		stored.Interval = *update.Interval
	}
	if update.EaseFactor != nil {
		stored.EaseFactor = *update.EaseFactor
	}
	if update.Repetitions != nil {
		stored.Repetitions = *update.Repetitions
	}
	if update.LastReviewedTs != nil {
		stored.LastReviewedTs = update.LastReviewedTs
	}
	if update.NextReviewTs != nil {
		stored.NextReviewTs = *update.NextReviewTs
	}
	if update.ReviewCount != nil {
		stored.ReviewCount = *update.ReviewCount
	}
	if update.CorrectCount != nil {
		stored.CorrectCount = *update.CorrectCount
	}
	if update.IncorrectCount != nil {
		stored.IncorrectCount = *update.IncorrectCount
	}
	if update.CurrentStreak != nil {
		stored.CurrentStreak = *update.CurrentStreak
	}
	if update.BestStreak != nil {
		stored.BestStreak = *update.BestStreak
	}
	if update.AvgResponseMs != nil {
		stored.AvgResponseMs = *update.AvgResponseMs
	}
	stored.Version++
	return copyItem(stored), nil
}

func (m *mockStore) ListDueReviewItems(_ context.Context, userID string, nowTs int64, limit int) ([]*store.ReviewItem, error) {
	entries := []srs.QueueEntry{}
	byID := map[string]*store.ReviewItem{}
	for _, item := range m.items {
		if item.UserID != userID || item.RowStatus != store.Normal || item.NextReviewTs > nowTs {
			continue
		}
		entries = append(entries, item.QueueEntry())
		byID[item.ID] = item
	}
	ordered := srs.NextDue(entries, time.UnixMilli(nowTs), limit)
	out := make([]*store.ReviewItem, 0, len(ordered))
	for _, e := range ordered {
		out = append(out, copyItem(byID[e.ID]))
	}
	return out, nil
}

func (m *mockStore) StartReviewSession(_ context.Context, create *store.ReviewSession) (*store.ReviewSession, error) {
	if create.ID == "" {
		create.ID = uuid.New().String()
	}
	if create.Version == 0 {
		create.Version = 1
	}
	create.RecomputeStats()
	m.sessions[create.ID] = copySession(create)
	return copySession(create), nil
}

func (m *mockStore) AppendSessionResult(_ context.Context, sessionID, userID string, result store.SessionItemResult) (*store.ReviewSession, error) {
	session, ok := m.sessions[sessionID]
	if !ok || session.UserID != userID {
		return nil, errs.NotFound("review session not found")
	}
	if session.IsCompleted {
		return nil, errs.Conflict("review session %s is already completed", sessionID)
	}
	session.ItemsReviewed = append(session.ItemsReviewed, result)
	session.RecomputeStats()
	session.Version++
	return copySession(session), nil
}

func (m *mockStore) CompleteReviewSession(_ context.Context, sessionID, userID string) (*store.ReviewSession, error) {
	session, ok := m.sessions[sessionID]
	if !ok || session.UserID != userID {
		return nil, errs.NotFound("review session not found")
	}
	if session.IsCompleted {
		return copySession(session), nil
	}
	now := time.Now().UnixMilli()
	duration := now - session.StartedTs
	session.RecomputeStats()
	session.IsCompleted = true
	session.CompletedTs = &now
	session.DurationMs = &duration
	session.Version++
	return copySession(session), nil
}

func (m *mockStore) CreateXPAward(_ context.Context, create *store.XPAward) (*store.XPAward, bool, error) {
	key := create.UserID + "/" + create.SessionID
	if existing, ok := m.awards[key]; ok {
		return existing, false, nil
	}
	m.awards[key] = create
	return create, true, nil
}

func (m *mockStore) TotalXP(_ context.Context, userID string) (int64, error) {
	var total int64
	for _, award := range m.awards {
		if award.UserID == userID {
			total += award.XP
		}
	}
	return total, nil
}

var testNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestService(m *mockStore, listeners ...gamification.LevelUpListener) *service {
	return &service{
		store:  m,
		calc:   srs.NewCalculator(srs.DefaultConfig()),
		awards: gamification.NewAwardService(m, listeners...),
		now:    func() time.Time { return testNow },
	}
}

func seedItem(m *mockStore, id string, reps int, ease float64, interval int, nextReviewTs int64) *store.ReviewItem {
	item := &store.ReviewItem{
		ID:           id,
		UserID:       "alice",
		ContentType:  lexeme.ContentTypeVocabulary,
		PrimaryText:  "走る",
		Status:       srs.StatusLearning,
		Interval:     interval,
		EaseFactor:   ease,
		Repetitions:  reps,
		NextReviewTs: nextReviewTs,
		RowStatus:    store.Normal,
		Version:      1,
	}
	if reps == 0 {
		item.Status = srs.StatusNew
	}
	m.items[id] = item
	return item
}

func TestDueQueue(t *testing.T) {
	ctx := context.Background()
	m := newMockStore()
	svc := newTestService(m)
	nowTs := testNow.UnixMilli()

	seedItem(m, "item-hard", 2, 1.5, 6, nowTs-2*3600_000)
	seedItem(m, "item-overdue", 3, 2.0, 15, nowTs-72*3600_000)
	seedItem(m, "item-never", 0, 2.5, 0, nowTs-3600_000)
	seedItem(m, "item-future", 1, 2.5, 1, nowTs+24*3600_000)

	due, err := svc.DueQueue(ctx, "alice", 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(due))
	for _, item := range due {
		ids = append(ids, item.ID)
	}
	require.Equal(t, []string{"item-never", "item-hard", "item-overdue"}, ids)

	due, err = svc.DueQueue(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, due, 2)

	_, err = svc.DueQueue(ctx, "", 0)
	require.True(t, errs.IsValidationFailed(err))
}

func TestRecordReview(t *testing.T) {
	ctx := context.Background()

	t.Run("FirstCorrectAnswer", func(t *testing.T) {
		m := newMockStore()
		svc := newTestService(m)
		seedItem(m, "item-1", 0, 2.5, 0, testNow.UnixMilli())
		session, err := svc.StartSession(ctx, "alice", nil, 1)
		require.NoError(t, err)

		outcome, err := svc.RecordReview(ctx, "alice", session.ID, &Record{
			ItemID:         "item-1",
			Correct:        true,
			ResponseTimeMs: 2000,
		})
		require.NoError(t, err)

		require.Equal(t, 1, outcome.Result.Interval)
		require.Equal(t, 1, outcome.Result.Repetitions)
		require.Equal(t, srs.StatusLearning, outcome.Result.Status)
		require.Equal(t, testNow.AddDate(0, 0, 1).UnixMilli(), outcome.Result.NextReviewTs)

		require.Equal(t, 1, outcome.Item.ReviewCount)
		require.Equal(t, 1, outcome.Item.CorrectCount)
		require.Equal(t, 1, outcome.Item.CurrentStreak)
		require.Equal(t, int64(2), outcome.Item.Version)

		require.Len(t, outcome.Session.ItemsReviewed, 1)
		require.Equal(t, 1.0, outcome.Session.Accuracy)
	})

	t.Run("IncorrectAnswerResets", func(t *testing.T) {
		m := newMockStore()
		svc := newTestService(m)
		seedItem(m, "item-1", 3, 2.0, 15, testNow.UnixMilli())

		outcome, err := svc.RecordReview(ctx, "alice", "", &Record{
			ItemID:         "item-1",
			Correct:        false,
			ResponseTimeMs: 9000,
		})
		require.NoError(t, err)

		require.Equal(t, 0, outcome.Result.Repetitions)
		require.Equal(t, 1, outcome.Result.Interval)
		require.InDelta(t, 1.8, outcome.Result.EaseFactor, 1e-9)
		require.Equal(t, srs.StatusNew, outcome.Result.Status)
		require.Nil(t, outcome.Session)
		require.Equal(t, 0, outcome.Item.CurrentStreak)
		require.Equal(t, 1, outcome.Item.IncorrectCount)
	})

	t.Run("ConflictRetries", func(t *testing.T) {
		m := newMockStore()
		svc := newTestService(m)
		seedItem(m, "item-1", 0, 2.5, 0, testNow.UnixMilli())
		m.conflictsToFail = 1

		outcome, err := svc.RecordReview(ctx, "alice", "", &Record{ItemID: "item-1", Correct: true})
		require.NoError(t, err)
		require.Equal(t, 2, m.updateCalls, "the lost race is replayed against the fresh row")
		require.Equal(t, 1, outcome.Item.ReviewCount)
	})

	t.Run("ConflictGivesUp", func(t *testing.T) {
		m := newMockStore()
		svc := newTestService(m)
		seedItem(m, "item-1", 0, 2.5, 0, testNow.UnixMilli())
		m.conflictsToFail = maxRecordAttempts

		_, err := svc.RecordReview(ctx, "alice", "", &Record{ItemID: "item-1", Correct: true})
		require.True(t, errs.IsConflict(err))
		require.Equal(t, maxRecordAttempts, m.updateCalls)
	})

	t.Run("Validates", func(t *testing.T) {
		m := newMockStore()
		svc := newTestService(m)

		_, err := svc.RecordReview(ctx, "alice", "", nil)
		require.True(t, errs.IsValidationFailed(err))

		_, err = svc.RecordReview(ctx, "alice", "", &Record{ItemID: "missing", Correct: true})
		require.True(t, errs.IsNotFound(err))
	})
}

func TestCompleteSessionAwardsOnce(t *testing.T) {
	ctx := context.Background()
	m := newMockStore()

	var events []gamification.LevelUpEvent
	listener := gamification.LevelUpListenerFunc(func(_ context.Context, e gamification.LevelUpEvent) {
		events = append(events, e)
	})
	svc := newTestService(m, listener)

	session, err := svc.StartSession(ctx, "alice", nil, 3)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("item-%d", i)
		seedItem(m, id, 0, 2.5, 0, testNow.UnixMilli())
		_, err := svc.RecordReview(ctx, "alice", session.ID, &Record{
			ItemID:         id,
			Correct:        true,
			ResponseTimeMs: 2000,
		})
		require.NoError(t, err)
	}

	// 3 perfect fast answers: 50 accuracy + 20 speed + 6 per-item + 10
	// completion + 15 no-hints = 101, crossing the level-2 threshold of 100.
	summary, err := svc.CompleteSession(ctx, "alice", session.ID)
	require.NoError(t, err)
	require.True(t, summary.Session.IsCompleted)
	require.Equal(t, 101, summary.Award.SessionXP)
	require.Equal(t, 20, summary.Award.BonusXP)
	require.Equal(t, int64(121), summary.Award.TotalXP)
	require.Equal(t, 2, summary.Award.Level.Level)
	require.Len(t, events, 1)
	require.Equal(t, 2, events[0].Level)

	// Completing again returns the frozen session and the original award.
	again, err := svc.CompleteSession(ctx, "alice", session.ID)
	require.NoError(t, err)
	require.True(t, again.Award.AlreadyAwarded)
	require.Equal(t, int64(121), again.Award.TotalXP)
	require.Len(t, events, 1)
}
