// Package reconcile implements the reconciliation algorithm (§4.6): the
// diff-and-apply core that decides, per script URI, whether to upload,
// download, delete, or re-rank based on the remote meta index and each
// script's lastModified stamp.
package reconcile

import "github.com/aistore-sync/usersync/provider"

// Item is one URI's classification result: Local and/or Remote is nil
// depending on which side originated the entry (§4.6 classification). Info
// carries the meta entry relevant to the operation (the remote's recorded
// modified/position) where the apply phase needs it verbatim rather than
// recomputed from Local.
type Item struct {
	URI    string
	Local  *provider.Script
	Remote *provider.RemoteObject
	Info   provider.InfoEntry
}

// Buckets is the five-way classification the spec names explicitly (§4.6).
// Invariant: a well-formed run keeps putLocal/delLocal and putRemote/delRemote
// mutually exclusive per URI (§8 invariant 5); updateLocal may legitimately
// coincide with putRemote for the same URI when both modified and position
// diverge in the same run.
type Buckets struct {
	PutLocal    []*Item
	PutRemote   []*Item
	DelRemote   []*Item
	DelLocal    []*Item
	UpdateLocal []*Item
}

// Len reports the total number of classified items, for logging/metrics.
func (b *Buckets) Len() int {
	return len(b.PutLocal) + len(b.PutRemote) + len(b.DelRemote) + len(b.DelLocal) + len(b.UpdateLocal)
}
