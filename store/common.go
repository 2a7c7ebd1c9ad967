package store

// RowStatus is the activation state of a row. Rows are soft-deactivated by
// archiving; hard deletes are reserved for explicit admin action.
type RowStatus string

const (
	// Normal is the status for a normal row.
	Normal RowStatus = "NORMAL"
	// Archived is the status for an archived (soft-deactivated) row.
	Archived RowStatus = "ARCHIVED"
)

func (r RowStatus) String() string {
	return string(r)
}

// Priority orders items within a review queue.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
)

func (p Priority) String() string {
	return string(p)
}

// SyncStatus is the replication state of a device-owned record.
type SyncStatus string

const (
	// SyncStatusLocalOnly means the record exists only on the device.
	SyncStatusLocalOnly SyncStatus = "LOCAL_ONLY"
	// SyncStatusPending means a mutation is waiting to reach the hosted store.
	SyncStatusPending SyncStatus = "PENDING_SYNC"
	// SyncStatusSynced means the hosted store has acknowledged the record.
	SyncStatusSynced SyncStatus = "SYNCED"
)

func (s SyncStatus) String() string {
	return string(s)
}
