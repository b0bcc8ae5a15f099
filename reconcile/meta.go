package reconcile

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/aistore-sync/usersync/provider"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// decodeMeta parses the meta-file blob (§6.1 wire shape: {timestamp, info}).
// A nil or unparseable blob decodes to a zero-value meta, which Classify
// treats as firstSync via LocalMeta.FirstSync, not via this zero value
// directly — an empty remote meta with no local meta is still a legitimate
// "nothing uploaded yet" state.
func decodeMeta(raw []byte) *provider.RemoteMeta {
	m := &provider.RemoteMeta{Info: map[string]provider.InfoEntry{}}
	if len(raw) == 0 {
		return m
	}
	if err := json.Unmarshal(raw, m); err != nil {
		return &provider.RemoteMeta{Info: map[string]provider.InfoEntry{}}
	}
	if m.Info == nil {
		m.Info = map[string]provider.InfoEntry{}
	}
	return m
}

func encodeMeta(m *provider.RemoteMeta) ([]byte, error) {
	return json.Marshal(m)
}
