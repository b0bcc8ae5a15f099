package reconcile

import "github.com/aistore-sync/usersync/provider"

// Classify runs the five-way classification (§4.6) over localList against
// the (already-normalized) meta and the remote-item map NormalizeMeta
// produced. It mutates meta.Info in place for entries the classifier
// itself updates (modified/position bumps) and returns whether anything
// changed beyond what NormalizeMeta already flagged.
func Classify(
	meta *provider.RemoteMeta,
	remoteItemMap map[string]*provider.RemoteObject,
	localList []*provider.Script,
	localMeta provider.LocalMeta,
	globalLastModified int64,
) (*Buckets, bool) {
	remoteTimestamp := meta.Timestamp
	firstSync := localMeta.FirstSync()
	outdated := firstSync || remoteTimestamp > localMeta.Timestamp
	changed := false

	remaining := make(map[string]*provider.RemoteObject, len(remoteItemMap))
	for uri, r := range remoteItemMap {
		remaining[uri] = r
	}

	b := &Buckets{}

	for _, s := range localList {
		uri := s.Props.URI
		entry, ok := meta.Info[uri]
		if ok {
			switch {
			case firstSync || s.Props.LastModified == 0 || entry.Modified > s.Props.LastModified:
				b.PutLocal = append(b.PutLocal, &Item{URI: uri, Local: s, Remote: remaining[uri], Info: entry})
			default:
				if entry.Modified < s.Props.LastModified {
					b.PutRemote = append(b.PutRemote, &Item{URI: uri, Local: s, Remote: remaining[uri]})
					entry.Modified = s.Props.LastModified
					meta.Info[uri] = entry
					changed = true
				}
				if entry.Position != s.Props.Position {
					if entry.Position != 0 && globalLastModified <= remoteTimestamp {
						b.UpdateLocal = append(b.UpdateLocal, &Item{URI: uri, Local: s, Remote: remaining[uri], Info: entry})
					} else {
						entry.Position = s.Props.Position
						meta.Info[uri] = entry
						changed = true
					}
				}
			}
			delete(remaining, uri)
			continue
		}

		// No remote entry for this local script.
		if firstSync || !outdated || s.Props.LastModified > remoteTimestamp {
			b.PutRemote = append(b.PutRemote, &Item{URI: uri, Local: s})
			meta.Info[uri] = provider.InfoEntry{Modified: s.Props.LastModified, Position: s.Props.Position}
			changed = true
		} else {
			b.DelLocal = append(b.DelLocal, &Item{URI: uri, Local: s})
		}
	}

	// Remote-only entries: whatever of remaining wasn't consumed above.
	for uri, r := range remaining {
		if outdated {
			b.PutLocal = append(b.PutLocal, &Item{URI: uri, Remote: r, Info: meta.Info[uri]})
		} else {
			b.DelRemote = append(b.DelRemote, &Item{URI: uri, Remote: r})
		}
	}

	return b, changed
}
