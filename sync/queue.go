package sync

import (
	gosync "sync"

	"github.com/moshimoshi/fukushu/store"
)

// retryQueue holds entities whose cloud write failed after the hosted store
// exhausted its retries. Entries are deduplicated by id: a newer write
// replaces a queued one, and a delete supersedes a queued upsert (and vice
// versa). The queue is memory-only; entities it holds are still durable in
// local storage, so losing the queue only delays convergence.
type retryQueue struct {
	mu          gosync.Mutex
	lists       map[string]*store.StudyList
	items       map[string]*store.SavedItem
	listDeletes map[string]string
	itemDeletes map[string]string
}

func newRetryQueue() *retryQueue {
	return &retryQueue{
		lists:       map[string]*store.StudyList{},
		items:       map[string]*store.SavedItem{},
		listDeletes: map[string]string{},
		itemDeletes: map[string]string{},
	}
}

func (q *retryQueue) putList(list *store.StudyList) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.listDeletes, list.ID)
	q.lists[list.ID] = list
}

func (q *retryQueue) putItem(item *store.SavedItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.itemDeletes, item.ID)
	q.items[item.ID] = item
}

func (q *retryQueue) deleteList(userID, id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.lists, id)
	q.listDeletes[id] = userID
}

func (q *retryQueue) deleteItem(userID, id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, id)
	q.itemDeletes[id] = userID
}

// drain empties the queue and returns its contents. Entries that fail again
// are re-enqueued by the flusher.
func (q *retryQueue) drain() ([]*store.StudyList, []*store.SavedItem, map[string]string, map[string]string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	lists := make([]*store.StudyList, 0, len(q.lists))
	for _, list := range q.lists {
		lists = append(lists, list)
	}
	items := make([]*store.SavedItem, 0, len(q.items))
	for _, item := range q.items {
		items = append(items, item)
	}
	listDeletes, itemDeletes := q.listDeletes, q.itemDeletes

	q.lists = map[string]*store.StudyList{}
	q.items = map[string]*store.SavedItem{}
	q.listDeletes = map[string]string{}
	q.itemDeletes = map[string]string{}
	return lists, items, listDeletes, itemDeletes
}

func (q *retryQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lists) + len(q.items) + len(q.listDeletes) + len(q.itemDeletes)
}
