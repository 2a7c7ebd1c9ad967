package deck

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/moshimoshi/fukushu/internal/errs"
	"github.com/moshimoshi/fukushu/lexeme"
	"github.com/moshimoshi/fukushu/store"
)

type mockItemCreator struct {
	created []*store.ReviewItem
	failOn  string
}

func (m *mockItemCreator) CreateReviewItem(_ context.Context, create *store.ReviewItem) (*store.ReviewItem, error) {
	if m.failOn != "" && create.PrimaryText == m.failOn {
		return nil, errs.Unavailable(nil, "hosted store down")
	}
	m.created = append(m.created, create)
	return create, nil
}

func writeDeck(t *testing.T, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		for j, value := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(DefaultSheet, cell, value))
		}
	}
	path := filepath.Join(t.TempDir(), "deck.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestImport(t *testing.T) {
	ctx := context.Background()

	t.Run("CreatesItems", func(t *testing.T) {
		path := writeDeck(t, [][]any{
			{"Primary", "Reading", "Meaning", "Type", "Tags"},
			{"走る", "はしる", "to run", "vocabulary", "verbs, N5"},
			{"水", "みず", "water", "kanji", ""},
			{"こんにちは", "", "hello", "phrase", "greetings"},
		})

		m := &mockItemCreator{}
		result, err := Import(ctx, m, Config{Path: path, UserID: "alice", Tags: []string{"deck-1"}})
		require.NoError(t, err)
		require.Equal(t, 3, result.TotalRows)
		require.Equal(t, 3, result.Created)
		require.Zero(t, result.Skipped)
		require.Empty(t, result.Errors)
		require.Len(t, m.created, 3)

		first := m.created[0]
		require.Equal(t, "alice", first.UserID)
		require.Equal(t, lexeme.ContentTypeVocabulary, first.ContentType)
		require.Equal(t, "走る", first.PrimaryText)
		require.Equal(t, "はしる", first.SecondaryText)
		require.Equal(t, "to run", first.TertiaryText)
		require.Equal(t, []string{"deck-1", "verbs", "N5"}, first.Tags)

		require.Equal(t, lexeme.ContentTypeKanji, m.created[1].ContentType)
		require.Equal(t, lexeme.ContentTypePhrase, m.created[2].ContentType)
	})

	t.Run("DefaultsToVocabulary", func(t *testing.T) {
		path := writeDeck(t, [][]any{
			{"Primary"},
			{"食べる", "たべる", "to eat"},
		})

		m := &mockItemCreator{}
		result, err := Import(ctx, m, Config{Path: path, UserID: "alice"})
		require.NoError(t, err)
		require.Equal(t, 1, result.Created)
		require.Equal(t, lexeme.ContentTypeVocabulary, m.created[0].ContentType)
	})

	t.Run("SkipsBlankRows", func(t *testing.T) {
		path := writeDeck(t, [][]any{
			{"Primary", "Reading", "Meaning"},
			{"", "よみ", "blank primary"},
			{"読む", "よむ", "to read"},
		})

		m := &mockItemCreator{}
		result, err := Import(ctx, m, Config{Path: path, UserID: "alice"})
		require.NoError(t, err)
		require.Equal(t, 2, result.TotalRows)
		require.Equal(t, 1, result.Created)
		require.Equal(t, 1, result.Skipped)
		require.Len(t, result.Errors, 1)
		require.Contains(t, result.Errors[0], "row 2")
	})

	t.Run("CollectsStoreFailures", func(t *testing.T) {
		path := writeDeck(t, [][]any{
			{"Primary"},
			{"走る"},
			{"水"},
			{"読む"},
		})

		m := &mockItemCreator{failOn: "水"}
		result, err := Import(ctx, m, Config{Path: path, UserID: "alice"})
		require.NoError(t, err)
		require.Equal(t, 2, result.Created)
		require.Equal(t, 1, result.Skipped)
		require.Len(t, result.Errors, 1)
		require.Contains(t, result.Errors[0], "row 3")
	})

	t.Run("RequiresUser", func(t *testing.T) {
		_, err := Import(ctx, &mockItemCreator{}, Config{Path: "deck.xlsx"})
		require.True(t, errs.IsValidationFailed(err))
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Import(ctx, &mockItemCreator{}, Config{Path: filepath.Join(t.TempDir(), "missing.xlsx"), UserID: "alice"})
		require.True(t, errs.IsValidationFailed(err))
	})
}
