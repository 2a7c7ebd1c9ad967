package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moshimoshi/fukushu/internal/errs"
	"github.com/moshimoshi/fukushu/internal/observability"
	"github.com/moshimoshi/fukushu/internal/profile"
	"github.com/moshimoshi/fukushu/internal/retry"
	"github.com/moshimoshi/fukushu/lexeme"
	"github.com/moshimoshi/fukushu/srs"
)

// mockDriver implements Driver with per-method hooks so facade tests can
// script driver behavior without a database. Calling a method whose hook is
// unset fails the operation loudly.
type mockDriver struct {
	createReviewItem func(ctx context.Context, create *ReviewItem) (*ReviewItem, error)
	listReviewItems  func(ctx context.Context, find *FindReviewItem) ([]*ReviewItem, error)
	updateReviewItem func(ctx context.Context, update *UpdateReviewItem) (*ReviewItem, error)
	deleteReviewItem func(ctx context.Context, del *DeleteReviewItem) error

	createReviewSet       func(ctx context.Context, create *ReviewSet) (*ReviewSet, error)
	listReviewSets        func(ctx context.Context, find *FindReviewSet) ([]*ReviewSet, error)
	updateReviewSet       func(ctx context.Context, update *UpdateReviewSet) (*ReviewSet, error)
	addReviewSetItems     func(ctx context.Context, add *AddReviewSetItems) (*ReviewSet, error)
	removeReviewSetItems  func(ctx context.Context, remove *RemoveReviewSetItems) (*ReviewSet, error)
	syncReviewSetProgress func(ctx context.Context, setID, userID string) (*ReviewSet, error)
	deleteReviewSet       func(ctx context.Context, del *DeleteReviewSet) error

	createReviewSession func(ctx context.Context, create *ReviewSession) (*ReviewSession, error)
	listReviewSessions  func(ctx context.Context, find *FindReviewSession) ([]*ReviewSession, error)
	updateReviewSession func(ctx context.Context, update *UpdateReviewSession) (*ReviewSession, error)
	deleteReviewSession func(ctx context.Context, del *DeleteReviewSession) error

	upsertStudyList  func(ctx context.Context, upsert *StudyList) (*StudyList, error)
	upsertStudyLists func(ctx context.Context, upserts []*StudyList) ([]*StudyList, error)
	listStudyLists   func(ctx context.Context, find *FindStudyList) ([]*StudyList, error)
	deleteStudyList  func(ctx context.Context, del *DeleteStudyList) error

	upsertSavedItem  func(ctx context.Context, upsert *SavedItem) (*SavedItem, error)
	upsertSavedItems func(ctx context.Context, upserts []*SavedItem) ([]*SavedItem, error)
	listSavedItems   func(ctx context.Context, find *FindSavedItem) ([]*SavedItem, error)
	deleteSavedItem  func(ctx context.Context, del *DeleteSavedItem) error

	createXPAward func(ctx context.Context, create *XPAward) (*XPAward, bool, error)
	listXPAwards  func(ctx context.Context, find *FindXPAward) ([]*XPAward, error)
	getTotalXP    func(ctx context.Context, userID string) (int64, error)

	upsertSystemSetting func(ctx context.Context, upsert *SystemSetting) (*SystemSetting, error)
	listSystemSettings  func(ctx context.Context, find *FindSystemSetting) ([]*SystemSetting, error)
}

func (m *mockDriver) GetDB() *sql.DB { return nil }
func (m *mockDriver) Close() error   { return nil }

func (m *mockDriver) IsInitialized(context.Context) (bool, error) { return true, nil }

func unexpected(method string) error {
	return errs.Internal(nil, "unexpected %s call", method)
}

func (m *mockDriver) CreateReviewItem(ctx context.Context, create *ReviewItem) (*ReviewItem, error) {
	if m.createReviewItem == nil {
		return nil, unexpected("CreateReviewItem")
	}
	return m.createReviewItem(ctx, create)
}

func (m *mockDriver) ListReviewItems(ctx context.Context, find *FindReviewItem) ([]*ReviewItem, error) {
	if m.listReviewItems == nil {
		return nil, unexpected("ListReviewItems")
	}
	return m.listReviewItems(ctx, find)
}

func (m *mockDriver) UpdateReviewItem(ctx context.Context, update *UpdateReviewItem) (*ReviewItem, error) {
	if m.updateReviewItem == nil {
		return nil, unexpected("UpdateReviewItem")
	}
	return m.updateReviewItem(ctx, update)
}

func (m *mockDriver) DeleteReviewItem(ctx context.Context, del *DeleteReviewItem) error {
	if m.deleteReviewItem == nil {
		return unexpected("DeleteReviewItem")
	}
	return m.deleteReviewItem(ctx, del)
}

func (m *mockDriver) CreateReviewSet(ctx context.Context, create *ReviewSet) (*ReviewSet, error) {
	if m.createReviewSet == nil {
		return nil, unexpected("CreateReviewSet")
	}
	return m.createReviewSet(ctx, create)
}

func (m *mockDriver) ListReviewSets(ctx context.Context, find *FindReviewSet) ([]*ReviewSet, error) {
	if m.listReviewSets == nil {
		return nil, unexpected("ListReviewSets")
	}
	return m.listReviewSets(ctx, find)
}

func (m *mockDriver) UpdateReviewSet(ctx context.Context, update *UpdateReviewSet) (*ReviewSet, error) {
	if m.updateReviewSet == nil {
		return nil, unexpected("UpdateReviewSet")
	}
	return m.updateReviewSet(ctx, update)
}

func (m *mockDriver) AddReviewSetItems(ctx context.Context, add *AddReviewSetItems) (*ReviewSet, error) {
	if m.addReviewSetItems == nil {
		return nil, unexpected("AddReviewSetItems")
	}
	return m.addReviewSetItems(ctx, add)
}

func (m *mockDriver) RemoveReviewSetItems(ctx context.Context, remove *RemoveReviewSetItems) (*ReviewSet, error) {
	if m.removeReviewSetItems == nil {
		return nil, unexpected("RemoveReviewSetItems")
	}
	return m.removeReviewSetItems(ctx, remove)
}

func (m *mockDriver) SyncReviewSetProgress(ctx context.Context, setID, userID string) (*ReviewSet, error) {
	if m.syncReviewSetProgress == nil {
		return nil, unexpected("SyncReviewSetProgress")
	}
	return m.syncReviewSetProgress(ctx, setID, userID)
}

func (m *mockDriver) DeleteReviewSet(ctx context.Context, del *DeleteReviewSet) error {
	if m.deleteReviewSet == nil {
		return unexpected("DeleteReviewSet")
	}
	return m.deleteReviewSet(ctx, del)
}

func (m *mockDriver) CreateReviewSession(ctx context.Context, create *ReviewSession) (*ReviewSession, error) {
	if m.createReviewSession == nil {
		return nil, unexpected("CreateReviewSession")
	}
	return m.createReviewSession(ctx, create)
}

func (m *mockDriver) ListReviewSessions(ctx context.Context, find *FindReviewSession) ([]*ReviewSession, error) {
	if m.listReviewSessions == nil {
		return nil, unexpected("ListReviewSessions")
	}
	return m.listReviewSessions(ctx, find)
}

func (m *mockDriver) UpdateReviewSession(ctx context.Context, update *UpdateReviewSession) (*ReviewSession, error) {
	if m.updateReviewSession == nil {
		return nil, unexpected("UpdateReviewSession")
	}
	return m.updateReviewSession(ctx, update)
}

func (m *mockDriver) DeleteReviewSession(ctx context.Context, del *DeleteReviewSession) error {
	if m.deleteReviewSession == nil {
		return unexpected("DeleteReviewSession")
	}
	return m.deleteReviewSession(ctx, del)
}

func (m *mockDriver) UpsertStudyList(ctx context.Context, upsert *StudyList) (*StudyList, error) {
	if m.upsertStudyList == nil {
		return nil, unexpected("UpsertStudyList")
	}
	return m.upsertStudyList(ctx, upsert)
}

func (m *mockDriver) UpsertStudyLists(ctx context.Context, upserts []*StudyList) ([]*StudyList, error) {
	if m.upsertStudyLists == nil {
		return nil, unexpected("UpsertStudyLists")
	}
	return m.upsertStudyLists(ctx, upserts)
}

func (m *mockDriver) ListStudyLists(ctx context.Context, find *FindStudyList) ([]*StudyList, error) {
	if m.listStudyLists == nil {
		return nil, unexpected("ListStudyLists")
	}
	return m.listStudyLists(ctx, find)
}

func (m *mockDriver) DeleteStudyList(ctx context.Context, del *DeleteStudyList) error {
	if m.deleteStudyList == nil {
		return unexpected("DeleteStudyList")
	}
	return m.deleteStudyList(ctx, del)
}

func (m *mockDriver) UpsertSavedItem(ctx context.Context, upsert *SavedItem) (*SavedItem, error) {
	if m.upsertSavedItem == nil {
		return nil, unexpected("UpsertSavedItem")
	}
	return m.upsertSavedItem(ctx, upsert)
}

func (m *mockDriver) UpsertSavedItems(ctx context.Context, upserts []*SavedItem) ([]*SavedItem, error) {
	if m.upsertSavedItems == nil {
		return nil, unexpected("UpsertSavedItems")
	}
	return m.upsertSavedItems(ctx, upserts)
}

func (m *mockDriver) ListSavedItems(ctx context.Context, find *FindSavedItem) ([]*SavedItem, error) {
	if m.listSavedItems == nil {
		return nil, unexpected("ListSavedItems")
	}
	return m.listSavedItems(ctx, find)
}

func (m *mockDriver) DeleteSavedItem(ctx context.Context, del *DeleteSavedItem) error {
	if m.deleteSavedItem == nil {
		return unexpected("DeleteSavedItem")
	}
	return m.deleteSavedItem(ctx, del)
}

func (m *mockDriver) CreateXPAward(ctx context.Context, create *XPAward) (*XPAward, bool, error) {
	if m.createXPAward == nil {
		return nil, false, unexpected("CreateXPAward")
	}
	return m.createXPAward(ctx, create)
}

func (m *mockDriver) ListXPAwards(ctx context.Context, find *FindXPAward) ([]*XPAward, error) {
	if m.listXPAwards == nil {
		return nil, unexpected("ListXPAwards")
	}
	return m.listXPAwards(ctx, find)
}

func (m *mockDriver) GetTotalXP(ctx context.Context, userID string) (int64, error) {
	if m.getTotalXP == nil {
		return 0, unexpected("GetTotalXP")
	}
	return m.getTotalXP(ctx, userID)
}

func (m *mockDriver) UpsertSystemSetting(ctx context.Context, upsert *SystemSetting) (*SystemSetting, error) {
	if m.upsertSystemSetting == nil {
		return nil, unexpected("UpsertSystemSetting")
	}
	return m.upsertSystemSetting(ctx, upsert)
}

func (m *mockDriver) ListSystemSettings(ctx context.Context, find *FindSystemSetting) ([]*SystemSetting, error) {
	if m.listSystemSettings == nil {
		return nil, unexpected("ListSystemSettings")
	}
	return m.listSystemSettings(ctx, find)
}

// newTestStore builds a store over the mock with a fast retry policy so
// transient-failure tests finish in milliseconds.
func newTestStore(t *testing.T, driver Driver) *Store {
	t.Helper()
	s := New(driver, &profile.Profile{Mode: "dev", Driver: "postgres"}, observability.NewRecorder(16))
	s.policy = retry.Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		Multiplier:     2,
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateReviewItemDefaults(t *testing.T) {
	var captured *ReviewItem
	driver := &mockDriver{
		createReviewItem: func(_ context.Context, create *ReviewItem) (*ReviewItem, error) {
			captured = create
			return create, nil
		},
	}
	s := newTestStore(t, driver)

	item, err := s.CreateReviewItem(context.Background(), &ReviewItem{
		UserID:      "user-1",
		ContentType: lexeme.ContentTypeVocabulary,
		PrimaryText: "食べる",
	})
	require.NoError(t, err)
	require.NotEmpty(t, item.ID)
	require.Equal(t, srs.StatusNew, captured.Status)
	require.Equal(t, srs.DefaultEaseFactor, captured.EaseFactor)
	require.Equal(t, PriorityNormal, captured.Priority)
	require.Equal(t, Normal, captured.RowStatus)
	require.EqualValues(t, 1, captured.Version)
	require.NotZero(t, captured.CreatedTs)
	require.Equal(t, captured.CreatedTs, captured.UpdatedTs)
	require.Equal(t, captured.CreatedTs, captured.NextReviewTs, "unscheduled items are due immediately")
}

func TestCreateReviewItemRejectsUnknownContentType(t *testing.T) {
	s := newTestStore(t, &mockDriver{})

	_, err := s.CreateReviewItem(context.Background(), &ReviewItem{
		UserID:      "user-1",
		ContentType: "haiku",
		PrimaryText: "x",
	})
	require.True(t, errs.IsValidationFailed(err), "got %v", err)
}

func TestRetriesTransientDriverFailures(t *testing.T) {
	calls := 0
	driver := &mockDriver{
		listReviewItems: func(context.Context, *FindReviewItem) ([]*ReviewItem, error) {
			calls++
			if calls < 3 {
				return nil, errs.Unavailable(nil, "connection reset")
			}
			return []*ReviewItem{}, nil
		},
	}
	s := newTestStore(t, driver)

	_, err := s.ListReviewItems(context.Background(), &FindReviewItem{})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	// Retries collapse into a single metrics sample for the logical call.
	sum, ok := s.Recorder().Summary("review_item.list")
	require.True(t, ok)
	require.EqualValues(t, 1, sum.TotalCount)
	require.EqualValues(t, 0, sum.ErrorCount)
}

func TestDoesNotRetryDeterministicFailures(t *testing.T) {
	calls := 0
	driver := &mockDriver{
		deleteReviewItem: func(context.Context, *DeleteReviewItem) error {
			calls++
			return errs.NotFound("review item not found")
		},
	}
	s := newTestStore(t, driver)

	err := s.DeleteReviewItem(context.Background(), &DeleteReviewItem{ID: "ri-1", UserID: "user-1"})
	require.True(t, errs.IsNotFound(err))
	require.Equal(t, 1, calls)

	sum, ok := s.Recorder().Summary("review_item.delete")
	require.True(t, ok)
	require.EqualValues(t, 1, sum.TotalCount)
	require.EqualValues(t, 1, sum.ErrorCount)
}

func TestGetReviewItemNotFound(t *testing.T) {
	driver := &mockDriver{
		listReviewItems: func(context.Context, *FindReviewItem) ([]*ReviewItem, error) {
			return []*ReviewItem{}, nil
		},
	}
	s := newTestStore(t, driver)

	id := "missing"
	_, err := s.GetReviewItem(context.Background(), &FindReviewItem{ID: &id})
	require.True(t, errs.IsNotFound(err))
}

func testSession(mutate func(*ReviewSession)) *ReviewSession {
	now := time.Now().UnixMilli()
	session := &ReviewSession{
		ID:            "sess-1",
		UserID:        "user-1",
		ItemsReviewed: []SessionItemResult{},
		PlannedItems:  10,
		StartedTs:     now - 10_000,
		Version:       4,
		CreatedTs:     now - 10_000,
		UpdatedTs:     now - 10_000,
	}
	if mutate != nil {
		mutate(session)
	}
	return session
}

func sessionDriver(session *ReviewSession, captured **UpdateReviewSession) *mockDriver {
	return &mockDriver{
		listReviewSessions: func(context.Context, *FindReviewSession) ([]*ReviewSession, error) {
			return []*ReviewSession{session}, nil
		},
		updateReviewSession: func(_ context.Context, update *UpdateReviewSession) (*ReviewSession, error) {
			if captured != nil {
				*captured = update
			}
			return session, nil
		},
	}
}

func TestAppendSessionResult(t *testing.T) {
	session := testSession(func(s *ReviewSession) {
		s.ItemsReviewed = []SessionItemResult{
			{ItemID: "ri-1", Correct: true, ResponseTimeMs: 800},
		}
	})
	var captured *UpdateReviewSession
	s := newTestStore(t, sessionDriver(session, &captured))

	_, err := s.AppendSessionResult(context.Background(), "sess-1", "user-1", SessionItemResult{
		ItemID:         "ri-2",
		Correct:        false,
		ResponseTimeMs: 1200,
		HintsUsed:      1,
	})
	require.NoError(t, err)
	require.NotNil(t, captured)
	require.NotNil(t, captured.ExpectedVersion)
	require.EqualValues(t, 4, *captured.ExpectedVersion)
	require.Len(t, *captured.ItemsReviewed, 2)
	require.Equal(t, 1, *captured.CorrectItems)
	require.Equal(t, 1, *captured.IncorrectItems)
	require.InDelta(t, 0.5, *captured.Accuracy, 1e-9)
	require.EqualValues(t, 1000, *captured.AvgResponseMs)
	require.Equal(t, 1, *captured.HintsUsed)
}

func TestAppendToCompletedSessionIsConflict(t *testing.T) {
	session := testSession(func(s *ReviewSession) { s.IsCompleted = true })
	s := newTestStore(t, sessionDriver(session, nil))

	_, err := s.AppendSessionResult(context.Background(), "sess-1", "user-1", SessionItemResult{ItemID: "ri-1"})
	require.True(t, errs.IsConflict(err), "got %v", err)
}

func TestPauseIsIdempotent(t *testing.T) {
	pausedAt := time.Now().UnixMilli() - 2000
	session := testSession(func(s *ReviewSession) { s.PausedTs = &pausedAt })
	// No update hook: pausing a paused session must not reach the driver.
	driver := &mockDriver{
		listReviewSessions: func(context.Context, *FindReviewSession) ([]*ReviewSession, error) {
			return []*ReviewSession{session}, nil
		},
	}
	s := newTestStore(t, driver)

	got, err := s.PauseReviewSession(context.Background(), "sess-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, session, got)
}

func TestResumeFoldsPausedSpan(t *testing.T) {
	pausedAt := time.Now().UnixMilli() - 2000
	session := testSession(func(s *ReviewSession) {
		s.PausedTs = &pausedAt
		s.PausedDurationMs = 500
	})
	var captured *UpdateReviewSession
	s := newTestStore(t, sessionDriver(session, &captured))

	_, err := s.ResumeReviewSession(context.Background(), "sess-1", "user-1")
	require.NoError(t, err)
	require.NotNil(t, captured)
	require.True(t, captured.ClearPausedTs)
	require.NotNil(t, captured.PausedDurationMs)
	require.GreaterOrEqual(t, *captured.PausedDurationMs, int64(2500))
}

func TestCompleteComputesActiveDuration(t *testing.T) {
	session := testSession(func(s *ReviewSession) {
		s.ItemsReviewed = []SessionItemResult{
			{ItemID: "ri-1", Correct: true, ResponseTimeMs: 900},
		}
		s.PausedDurationMs = 2000
	})
	var captured *UpdateReviewSession
	s := newTestStore(t, sessionDriver(session, &captured))

	_, err := s.CompleteReviewSession(context.Background(), "sess-1", "user-1")
	require.NoError(t, err)
	require.NotNil(t, captured)
	require.NotNil(t, captured.IsCompleted)
	require.True(t, *captured.IsCompleted)
	require.NotNil(t, captured.CompletedTs)
	require.True(t, captured.ClearPausedTs)
	// Started 10s ago with 2s paused: about 8s of active time.
	require.NotNil(t, captured.DurationMs)
	require.InDelta(t, 8000, float64(*captured.DurationMs), 500)
}

func TestCompleteCompletedSessionReturnsUnchanged(t *testing.T) {
	session := testSession(func(s *ReviewSession) { s.IsCompleted = true })
	driver := &mockDriver{
		listReviewSessions: func(context.Context, *FindReviewSession) ([]*ReviewSession, error) {
			return []*ReviewSession{session}, nil
		},
	}
	s := newTestStore(t, driver)

	got, err := s.CompleteReviewSession(context.Background(), "sess-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, session, got)
}

func TestCreateXPAwardReportsExistingWinner(t *testing.T) {
	existing := &XPAward{ID: "xp-1", UserID: "user-1", SessionID: "sess-1", XP: 120, NewLevel: 3}
	driver := &mockDriver{
		createXPAward: func(_ context.Context, create *XPAward) (*XPAward, bool, error) {
			return existing, false, nil
		},
	}
	s := newTestStore(t, driver)

	award, created, err := s.CreateXPAward(context.Background(), &XPAward{
		UserID:    "user-1",
		SessionID: "sess-1",
		XP:        120,
		SessionXP: 120,
		NewLevel:  3,
	})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, existing, award)
}

func TestGetUserStatsAggregates(t *testing.T) {
	now := time.Now().UnixMilli()
	duration := int64(300_000)
	driver := &mockDriver{
		listReviewItems: func(context.Context, *FindReviewItem) ([]*ReviewItem, error) {
			return []*ReviewItem{
				{ID: "ri-1", Status: srs.StatusMastered, NextReviewTs: now + 30*86_400_000},
				{ID: "ri-2", Status: srs.StatusLearning, NextReviewTs: now - 1000},
			}, nil
		},
		listReviewSessions: func(context.Context, *FindReviewSession) ([]*ReviewSession, error) {
			return []*ReviewSession{
				{ID: "sess-1", CorrectItems: 8, ItemsReviewed: make([]SessionItemResult, 10), IsCompleted: true, DurationMs: &duration},
			}, nil
		},
		getTotalXP: func(context.Context, string) (int64, error) { return 1250, nil },
	}
	s := newTestStore(t, driver)

	stats, err := s.GetUserStats(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalItems)
	require.Equal(t, 1, stats.MasteredItems)
	require.Equal(t, 1, stats.LearningItems)
	require.Equal(t, 1, stats.DueToday)
	require.Equal(t, 1, stats.TotalSessions)
	require.Equal(t, 1, stats.CompletedSessions)
	require.InDelta(t, 0.8, stats.Accuracy, 1e-9)
	require.EqualValues(t, 300_000, stats.TotalStudyTimeMs)
	require.EqualValues(t, 1250, stats.TotalXP)
}
