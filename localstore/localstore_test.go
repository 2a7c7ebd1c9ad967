package localstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moshimoshi/fukushu/internal/errs"
	"github.com/moshimoshi/fukushu/lexeme"
	"github.com/moshimoshi/fukushu/store"
)

func newBackend(t *testing.T, kind string) Backend {
	t.Helper()

	switch kind {
	case "sqlite":
		backend, err := openSQLite(filepath.Join(t.TempDir(), "fukushu.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = backend.Close() })
		return backend
	case "file":
		backend, err := openFileBackend(t.TempDir())
		require.NoError(t, err)
		return backend
	default:
		t.Fatalf("unknown backend kind %q", kind)
		return nil
	}
}

func rawDoc(t *testing.T, doc any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

func TestBackendRoundTrip(t *testing.T) {
	for _, kind := range []string{"sqlite", "file"} {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			backend := newBackend(t, kind)

			record := &Record{
				ID:        "list-1",
				UserID:    "alice",
				UpdatedTs: 1000,
				Data:      rawDoc(t, map[string]string{"name": "JLPT N4"}),
			}
			require.NoError(t, backend.Put(ctx, StoreStudyLists, record))

			got, err := backend.Get(ctx, StoreStudyLists, "alice", "list-1")
			require.NoError(t, err)
			require.NotNil(t, got)
			require.Equal(t, record.ID, got.ID)
			require.Equal(t, record.UserID, got.UserID)
			require.Equal(t, record.UpdatedTs, got.UpdatedTs)
			require.JSONEq(t, string(record.Data), string(got.Data))

			t.Run("MissingRecord", func(t *testing.T) {
				got, err := backend.Get(ctx, StoreStudyLists, "alice", "absent")
				require.NoError(t, err)
				require.Nil(t, got)
			})

			t.Run("OtherNamespace", func(t *testing.T) {
				got, err := backend.Get(ctx, StoreStudyLists, "bob", "list-1")
				require.NoError(t, err)
				require.Nil(t, got)

				records, err := backend.GetAll(ctx, StoreStudyLists, "bob")
				require.NoError(t, err)
				require.Empty(t, records)
			})

			t.Run("Overwrite", func(t *testing.T) {
				update := &Record{
					ID:        "list-1",
					UserID:    "alice",
					UpdatedTs: 2000,
					Data:      rawDoc(t, map[string]string{"name": "JLPT N3"}),
				}
				require.NoError(t, backend.Put(ctx, StoreStudyLists, update))

				got, err := backend.Get(ctx, StoreStudyLists, "alice", "list-1")
				require.NoError(t, err)
				require.NotNil(t, got)
				require.Equal(t, int64(2000), got.UpdatedTs)
				require.JSONEq(t, `{"name": "JLPT N3"}`, string(got.Data))
			})

			t.Run("NewestFirst", func(t *testing.T) {
				batch := []*Record{
					{ID: "list-2", UserID: "alice", UpdatedTs: 5000, Data: rawDoc(t, map[string]string{})},
					{ID: "list-3", UserID: "alice", UpdatedTs: 3000, Data: rawDoc(t, map[string]string{})},
					{ID: "list-4", UserID: "alice", UpdatedTs: 5000, Data: rawDoc(t, map[string]string{})},
				}
				require.NoError(t, backend.PutMany(ctx, StoreStudyLists, batch))

				records, err := backend.GetAll(ctx, StoreStudyLists, "alice")
				require.NoError(t, err)
				ids := make([]string, 0, len(records))
				for _, record := range records {
					ids = append(ids, record.ID)
				}
				require.Equal(t, []string{"list-4", "list-2", "list-3", "list-1"}, ids)
			})

			t.Run("Delete", func(t *testing.T) {
				require.NoError(t, backend.Delete(ctx, StoreStudyLists, "alice", "list-1"))

				got, err := backend.Get(ctx, StoreStudyLists, "alice", "list-1")
				require.NoError(t, err)
				require.Nil(t, got)

				// Deleting again is a no-op.
				require.NoError(t, backend.Delete(ctx, StoreStudyLists, "alice", "list-1"))
			})

			t.Run("UnknownStore", func(t *testing.T) {
				_, err := backend.Get(ctx, "review_queue", "alice", "list-1")
				require.True(t, errs.IsValidationFailed(err))
				require.True(t, errs.IsValidationFailed(backend.Put(ctx, "review_queue", record)))
			})
		})
	}
}

func TestStoreIsolation(t *testing.T) {
	for _, kind := range []string{"sqlite", "file"} {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			backend := newBackend(t, kind)

			require.NoError(t, backend.Put(ctx, StoreStudyLists, &Record{
				ID: "shared-id", UserID: "alice", UpdatedTs: 1, Data: rawDoc(t, map[string]string{"kind": "list"}),
			}))
			require.NoError(t, backend.Put(ctx, StoreSavedItems, &Record{
				ID: "shared-id", UserID: "alice", UpdatedTs: 2, Data: rawDoc(t, map[string]string{"kind": "item"}),
			}))

			list, err := backend.Get(ctx, StoreStudyLists, "alice", "shared-id")
			require.NoError(t, err)
			require.JSONEq(t, `{"kind": "list"}`, string(list.Data))

			item, err := backend.Get(ctx, StoreSavedItems, "alice", "shared-id")
			require.NoError(t, err)
			require.JSONEq(t, `{"kind": "item"}`, string(item.Data))

			require.NoError(t, backend.Delete(ctx, StoreStudyLists, "alice", "shared-id"))
			item, err = backend.Get(ctx, StoreSavedItems, "alice", "shared-id")
			require.NoError(t, err)
			require.NotNil(t, item)
		})
	}
}

func TestFileBackendReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	backend, err := openFileBackend(dir)
	require.NoError(t, err)
	require.NoError(t, backend.Put(ctx, StoreSavedItems, &Record{
		ID: "item-1", UserID: "alice", UpdatedTs: 100, Data: rawDoc(t, map[string]string{"text": "犬"}),
	}))
	require.NoError(t, backend.Close())

	reopened, err := openFileBackend(dir)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, StoreSavedItems, "alice", "item-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.JSONEq(t, `{"text": "犬"}`, string(got.Data))
}

func TestStoreTypedRoundTrip(t *testing.T) {
	for _, kind := range []string{"sqlite", "file"} {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			s := New(newBackend(t, kind))

			list := store.NewStudyList("alice", "Verbs of motion", lexeme.ListKindFlashcard)
			require.NoError(t, s.PutStudyList(ctx, list))

			item := store.NewSavedItem("alice", lexeme.ContentTypeVocabulary, "走る")
			item.Reading = "はしる"
			item.ListIDs = []string{list.ID}
			require.NoError(t, s.PutSavedItem(ctx, item))

			gotList, err := s.StudyList(ctx, "alice", list.ID)
			require.NoError(t, err)
			require.Equal(t, list, gotList)

			gotItem, err := s.SavedItem(ctx, "alice", item.ID)
			require.NoError(t, err)
			require.Equal(t, item, gotItem)

			missing, err := s.StudyList(ctx, "alice", "absent")
			require.NoError(t, err)
			require.Nil(t, missing)

			require.NoError(t, s.DeleteSavedItem(ctx, "alice", item.ID))
			items, err := s.SavedItems(ctx, "alice")
			require.NoError(t, err)
			require.Empty(t, items)
		})
	}
}

func TestStoreGuestNamespace(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t, "file")
	s := New(backend)

	list := store.NewStudyList("", "Scratch pad", lexeme.ListKindDrill)
	require.NoError(t, s.PutStudyList(ctx, list))

	// Guest writes land in the "local" namespace and read back with either form.
	record, err := backend.Get(ctx, StoreStudyLists, GuestUserID, list.ID)
	require.NoError(t, err)
	require.NotNil(t, record)

	got, err := s.StudyList(ctx, "", list.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, list.ID, got.ID)

	lists, err := s.StudyLists(ctx, GuestUserID)
	require.NoError(t, err)
	require.Len(t, lists, 1)
}

func TestStoreWithoutBackend(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	lists, err := s.StudyLists(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, lists)

	item, err := s.SavedItem(ctx, "alice", "item-1")
	require.NoError(t, err)
	require.Nil(t, item)

	err = s.PutStudyList(ctx, store.NewStudyList("alice", "Verbs", lexeme.ListKindFlashcard))
	require.True(t, errs.IsUnavailable(err))
	require.NoError(t, s.Close())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	item := store.NewSavedItem("alice", lexeme.ContentTypeKanji, "犬")
	require.NoError(t, s.PutSavedItem(ctx, item))

	items, err := s.SavedItems(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, item.ID, items[0].ID)
}
