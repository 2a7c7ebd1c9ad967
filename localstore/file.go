package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/moshimoshi/fukushu/internal/errs"
)

// fileBackend is the fallback when sqlite cannot be opened. Each object store
// is a JSON file in the data directory, rewritten atomically on every change.
type fileBackend struct {
	dir string

	mu     sync.RWMutex
	stores map[string]map[string]*Record
}

func openFileBackend(dir string) (*fileBackend, error) {
	backend := &fileBackend{
		dir:    dir,
		stores: map[string]map[string]*Record{},
	}
	for _, name := range storeNames {
		records, err := backend.load(name)
		if err != nil {
			return nil, err
		}
		backend.stores[name] = records
	}
	return backend, nil
}

func (b *fileBackend) load(storeName string) (map[string]*Record, error) {
	records := map[string]*Record{}
	data, err := os.ReadFile(b.path(storeName))
	if err != nil {
		if os.IsNotExist(err) {
			return records, nil
		}
		return nil, errs.Internal(err, "failed to read object store %s", storeName)
	}
	list := []*Record{}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, errs.Internal(err, "failed to parse object store %s", storeName)
	}
	for _, record := range list {
		records[record.ID] = record
	}
	return records, nil
}

// persist rewrites the store file via a temp file so a crash mid-write never
// truncates existing data.
func (b *fileBackend) persist(storeName string) error {
	records := make([]*Record, 0, len(b.stores[storeName]))
	for _, record := range b.stores[storeName] {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errs.Internal(err, "failed to encode object store %s", storeName)
	}
	path := b.path(storeName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return errs.Internal(err, "failed to write object store %s", storeName)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.Internal(err, "failed to replace object store %s", storeName)
	}
	return nil
}

func (b *fileBackend) path(storeName string) string {
	return filepath.Join(b.dir, fmt.Sprintf("%s.json", storeName))
}

func (b *fileBackend) Get(_ context.Context, storeName, userID, id string) (*Record, error) {
	if !validStore(storeName) {
		return nil, errs.ValidationFailed("unknown object store %q", storeName)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	record, ok := b.stores[storeName][id]
	if !ok || record.UserID != userID {
		return nil, nil
	}
	return cloneRecord(record), nil
}

func (b *fileBackend) GetAll(_ context.Context, storeName, userID string) ([]*Record, error) {
	if !validStore(storeName) {
		return nil, errs.ValidationFailed("unknown object store %q", storeName)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	records := []*Record{}
	for _, record := range b.stores[storeName] {
		if record.UserID == userID {
			records = append(records, cloneRecord(record))
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].UpdatedTs != records[j].UpdatedTs {
			return records[i].UpdatedTs > records[j].UpdatedTs
		}
		return records[i].ID > records[j].ID
	})
	return records, nil
}

func (b *fileBackend) Put(_ context.Context, storeName string, record *Record) error {
	if !validStore(storeName) {
		return errs.ValidationFailed("unknown object store %q", storeName)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stores[storeName][record.ID] = cloneRecord(record)
	return b.persist(storeName)
}

func (b *fileBackend) PutMany(_ context.Context, storeName string, records []*Record) error {
	if !validStore(storeName) {
		return errs.ValidationFailed("unknown object store %q", storeName)
	}
	if len(records) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, record := range records {
		b.stores[storeName][record.ID] = cloneRecord(record)
	}
	return b.persist(storeName)
}

func (b *fileBackend) Delete(_ context.Context, storeName, userID, id string) error {
	if !validStore(storeName) {
		return errs.ValidationFailed("unknown object store %q", storeName)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	record, ok := b.stores[storeName][id]
	if !ok || record.UserID != userID {
		return nil
	}
	delete(b.stores[storeName], id)
	return b.persist(storeName)
}

func (b *fileBackend) Close() error {
	return nil
}

func cloneRecord(record *Record) *Record {
	clone := *record
	clone.Data = append(json.RawMessage(nil), record.Data...)
	return &clone
}
