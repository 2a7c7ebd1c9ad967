// Package localstore is the device-local persistence layer. It keeps study
// lists and saved items as JSON documents in named object stores, backed by
// SQLite when available and by plain JSON files otherwise. Callers never
// learn which backend is active.
package localstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/moshimoshi/fukushu/internal/errs"
	"github.com/moshimoshi/fukushu/store"
)

// Object store names.
const (
	StoreStudyLists = "study_lists"
	StoreSavedItems = "saved_items"
)

// GuestUserID namespaces records created before sign-in. Records keep it
// until a sync adopts them into a real account.
const GuestUserID = "local"

// storeNames lists every object store a backend must provision.
var storeNames = []string{StoreStudyLists, StoreSavedItems}

func validStore(name string) bool {
	for _, n := range storeNames {
		if n == name {
			return true
		}
	}
	return false
}

// Record is one stored document plus the columns backends index on.
type Record struct {
	ID        string          `db:"id" json:"id"`
	UserID    string          `db:"user_id" json:"userId"`
	UpdatedTs int64           `db:"updated_ts" json:"updatedTs"`
	Data      json.RawMessage `db:"data" json:"data"`
}

// Backend stores records per named object store. Get returns (nil, nil) on a
// miss; GetAll returns records newest first. Put is an idempotent keyed
// upsert.
type Backend interface {
	Get(ctx context.Context, storeName, userID, id string) (*Record, error)
	GetAll(ctx context.Context, storeName, userID string) ([]*Record, error)
	Put(ctx context.Context, storeName string, record *Record) error
	PutMany(ctx context.Context, storeName string, records []*Record) error
	Delete(ctx context.Context, storeName, userID, id string) error
	Close() error
}

// Store is the typed layer over a backend. A nil or unopened store serves
// empty reads so callers need no initialization checks.
type Store struct {
	backend Backend
}

// New wraps an already-open backend.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Open initializes device-local storage under dir. SQLite is tried first;
// any failure falls back to the JSON file backend. The choice is made once
// per open.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Internal(err, "failed to create local store directory %s", dir)
	}
	var backend Backend
	backend, err := openSQLite(filepath.Join(dir, "fukushu.db"))
	if err != nil {
		slog.Warn("sqlite unavailable, falling back to file store",
			slog.String("dir", dir), slog.String("error", err.Error()))
		backend, err = openFileBackend(dir)
		if err != nil {
			return nil, err
		}
	}
	return New(backend), nil
}

// Close releases the underlying backend.
func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

// ownerOf maps an empty user to the guest namespace.
func ownerOf(userID string) string {
	if userID == "" {
		return GuestUserID
	}
	return userID
}

func (s *Store) ready() bool {
	return s != nil && s.backend != nil
}

func (s *Store) put(ctx context.Context, storeName, id, userID string, updatedTs int64, doc any) error {
	if !s.ready() {
		return errs.Unavailable(nil, "local store is not open")
	}
	if id == "" {
		return errs.ValidationFailed("local record requires an id")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return errs.Internal(err, "failed to encode local record %s", id)
	}
	return s.backend.Put(ctx, storeName, &Record{
		ID:        id,
		UserID:    ownerOf(userID),
		UpdatedTs: updatedTs,
		Data:      data,
	})
}

// StudyLists returns every study list in the user's namespace, newest first.
func (s *Store) StudyLists(ctx context.Context, userID string) ([]*store.StudyList, error) {
	if !s.ready() {
		return []*store.StudyList{}, nil
	}
	records, err := s.backend.GetAll(ctx, StoreStudyLists, ownerOf(userID))
	if err != nil {
		return nil, err
	}
	lists := make([]*store.StudyList, 0, len(records))
	for _, record := range records {
		list := &store.StudyList{}
		if err := json.Unmarshal(record.Data, list); err != nil {
			return nil, errs.Internal(err, "failed to decode local study list %s", record.ID)
		}
		lists = append(lists, list)
	}
	return lists, nil
}

// StudyList returns one study list, or nil when the id is absent so sync
// merges can treat absence as default.
func (s *Store) StudyList(ctx context.Context, userID, id string) (*store.StudyList, error) {
	if !s.ready() {
		return nil, nil
	}
	record, err := s.backend.Get(ctx, StoreStudyLists, ownerOf(userID), id)
	if err != nil || record == nil {
		return nil, err
	}
	list := &store.StudyList{}
	if err := json.Unmarshal(record.Data, list); err != nil {
		return nil, errs.Internal(err, "failed to decode local study list %s", id)
	}
	return list, nil
}

// PutStudyList writes one study list into its owner's namespace.
func (s *Store) PutStudyList(ctx context.Context, list *store.StudyList) error {
	return s.put(ctx, StoreStudyLists, list.ID, list.UserID, list.UpdatedTs, list)
}

// PutStudyLists writes a batch in one backend call.
func (s *Store) PutStudyLists(ctx context.Context, lists []*store.StudyList) error {
	if !s.ready() {
		return errs.Unavailable(nil, "local store is not open")
	}
	records := make([]*Record, 0, len(lists))
	for _, list := range lists {
		if list.ID == "" {
			return errs.ValidationFailed("local record requires an id")
		}
		data, err := json.Marshal(list)
		if err != nil {
			return errs.Internal(err, "failed to encode local study list %s", list.ID)
		}
		records = append(records, &Record{
			ID:        list.ID,
			UserID:    ownerOf(list.UserID),
			UpdatedTs: list.UpdatedTs,
			Data:      data,
		})
	}
	return s.backend.PutMany(ctx, StoreStudyLists, records)
}

// DeleteStudyList removes one study list. Deleting an absent id is not an
// error.
func (s *Store) DeleteStudyList(ctx context.Context, userID, id string) error {
	if !s.ready() {
		return errs.Unavailable(nil, "local store is not open")
	}
	return s.backend.Delete(ctx, StoreStudyLists, ownerOf(userID), id)
}

// SavedItems returns every saved item in the user's namespace, newest first.
func (s *Store) SavedItems(ctx context.Context, userID string) ([]*store.SavedItem, error) {
	if !s.ready() {
		return []*store.SavedItem{}, nil
	}
	records, err := s.backend.GetAll(ctx, StoreSavedItems, ownerOf(userID))
	if err != nil {
		return nil, err
	}
	items := make([]*store.SavedItem, 0, len(records))
	for _, record := range records {
		item := &store.SavedItem{}
		if err := json.Unmarshal(record.Data, item); err != nil {
			return nil, errs.Internal(err, "failed to decode local saved item %s", record.ID)
		}
		items = append(items, item)
	}
	return items, nil
}

// SavedItem returns one saved item, or nil when the id is absent.
func (s *Store) SavedItem(ctx context.Context, userID, id string) (*store.SavedItem, error) {
	if !s.ready() {
		return nil, nil
	}
	record, err := s.backend.Get(ctx, StoreSavedItems, ownerOf(userID), id)
	if err != nil || record == nil {
		return nil, err
	}
	item := &store.SavedItem{}
	if err := json.Unmarshal(record.Data, item); err != nil {
		return nil, errs.Internal(err, "failed to decode local saved item %s", id)
	}
	return item, nil
}

// PutSavedItem writes one saved item into its owner's namespace.
func (s *Store) PutSavedItem(ctx context.Context, item *store.SavedItem) error {
	return s.put(ctx, StoreSavedItems, item.ID, item.UserID, item.UpdatedTs, item)
}

// PutSavedItems writes a batch in one backend call.
func (s *Store) PutSavedItems(ctx context.Context, items []*store.SavedItem) error {
	if !s.ready() {
		return errs.Unavailable(nil, "local store is not open")
	}
	records := make([]*Record, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			return errs.ValidationFailed("local record requires an id")
		}
		data, err := json.Marshal(item)
		if err != nil {
			return errs.Internal(err, "failed to encode local saved item %s", item.ID)
		}
		records = append(records, &Record{
			ID:        item.ID,
			UserID:    ownerOf(item.UserID),
			UpdatedTs: item.UpdatedTs,
			Data:      data,
		})
	}
	return s.backend.PutMany(ctx, StoreSavedItems, records)
}

// DeleteSavedItem removes one saved item. Deleting an absent id is not an
// error.
func (s *Store) DeleteSavedItem(ctx context.Context, userID, id string) error {
	if !s.ready() {
		return errs.Unavailable(nil, "local store is not open")
	}
	return s.backend.Delete(ctx, StoreSavedItems, ownerOf(userID), id)
}
