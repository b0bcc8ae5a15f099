package reconcile

import "github.com/aistore-sync/usersync/provider"

// NormalizeMeta rebuilds meta.Info so its keys are exactly the URIs present
// in remoteList (§4.6 "meta normalization"), re-architected as the pure
// function the design note in §9 calls for: it never touches a provider or
// a store, only the in-memory meta and remote listing.
//
// It returns the rebuilt meta (Info replaced, Timestamp untouched — the
// caller bumps Timestamp only if a write is actually needed), a map from
// URI to the matching remote object (consumed by Classify), and whether
// anything changed relative to the input meta.
func NormalizeMeta(meta *provider.RemoteMeta, remoteList []*provider.RemoteObject, now int64) (*provider.RemoteMeta, map[string]*provider.RemoteObject, bool) {
	remoteItemMap := make(map[string]*provider.RemoteObject, len(remoteList))
	newInfo := make(map[string]provider.InfoEntry, len(remoteList))
	changed := false

	oldInfoLen := len(meta.Info)
	for _, r := range remoteList {
		remoteItemMap[r.URI] = r
		entry, ok := meta.Info[r.URI]
		if !ok {
			changed = true // entry created fresh below
		}
		if entry.Modified == 0 {
			entry.Modified = now
			changed = true
		}
		newInfo[r.URI] = entry
	}
	if meta.Timestamp == 0 || oldInfoLen != len(remoteList) {
		changed = true
	}

	return &provider.RemoteMeta{Timestamp: meta.Timestamp, Info: newInfo}, remoteItemMap, changed
}
