package sync

import "github.com/moshimoshi/fukushu/store"

// newerRevision reports whether revision a is strictly newer than b: the
// version counter decides, the update time breaks version ties.
func newerRevision(aVersion, aUpdatedTs, bVersion, bUpdatedTs int64) bool {
	if aVersion != bVersion {
		return aVersion > bVersion
	}
	return aUpdatedTs > bUpdatedTs
}

// ResolveStudyList picks the surviving copy of a local/remote pair. The
// higher version wins; on a version tie the later update time wins; on an
// exact tie the local copy wins so reconciliation never rewrites identical
// state. Either side may be nil.
func ResolveStudyList(local, remote *store.StudyList) *store.StudyList {
	if local == nil {
		return remote
	}
	if remote == nil {
		return local
	}
	if newerRevision(remote.Version, remote.UpdatedTs, local.Version, local.UpdatedTs) {
		return remote
	}
	return local
}

// ResolveSavedItem mirrors ResolveStudyList for saved items.
func ResolveSavedItem(local, remote *store.SavedItem) *store.SavedItem {
	if local == nil {
		return remote
	}
	if remote == nil {
		return local
	}
	if newerRevision(remote.Version, remote.UpdatedTs, local.Version, local.UpdatedTs) {
		return remote
	}
	return local
}
