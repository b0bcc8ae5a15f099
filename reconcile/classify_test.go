package reconcile_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/aistore-sync/usersync/provider"
	"github.com/aistore-sync/usersync/reconcile"
)

var _ = Describe("NormalizeMeta and Classify", func() {
	var now int64 = 1_700_000_000_000

	It("S1: first sync against an empty remote uploads every local script and seeds meta", func() {
		meta := &provider.RemoteMeta{}
		normalized, remoteMap, normChanged := reconcile.NormalizeMeta(meta, nil, now)
		Expect(normChanged).To(BeTrue())
		Expect(remoteMap).To(BeEmpty())

		local := []*provider.Script{
			{ID: "1", Props: provider.Props{URI: "a", LastModified: 1000, Position: 1}},
		}
		buckets, changed := reconcile.Classify(normalized, remoteMap, local, provider.LocalMeta{}, 0)

		Expect(changed).To(BeTrue())
		Expect(buckets.PutRemote).To(HaveLen(1))
		Expect(buckets.PutRemote[0].URI).To(Equal("a"))
		Expect(normalized.Info["a"]).To(Equal(provider.InfoEntry{Modified: 1000, Position: 1}))
	})

	It("S2: a remote-only item with a newer meta pulls to local", func() {
		meta := &provider.RemoteMeta{
			Timestamp: 200,
			Info:      map[string]provider.InfoEntry{"b": {Modified: 200}},
		}
		remoteList := []*provider.RemoteObject{{Name: "b", URI: "b"}}
		normalized, remoteMap, _ := reconcile.NormalizeMeta(meta, remoteList, now)

		localMeta := provider.LocalMeta{Timestamp: 100}
		buckets, _ := reconcile.Classify(normalized, remoteMap, nil, localMeta, 0)

		Expect(buckets.PutLocal).To(HaveLen(1))
		Expect(buckets.PutLocal[0].URI).To(Equal("b"))
		Expect(buckets.DelRemote).To(BeEmpty())
	})

	It("S3: a locally-stale script with no remote counterpart is deleted locally", func() {
		meta := &provider.RemoteMeta{Timestamp: 400, Info: map[string]provider.InfoEntry{}}
		normalized, remoteMap, _ := reconcile.NormalizeMeta(meta, nil, now)

		local := []*provider.Script{
			{ID: "3", Props: provider.Props{URI: "c", LastModified: 250}},
		}
		localMeta := provider.LocalMeta{Timestamp: 300}
		buckets, _ := reconcile.Classify(normalized, remoteMap, local, localMeta, 0)

		Expect(buckets.DelLocal).To(HaveLen(1))
		Expect(buckets.DelLocal[0].URI).To(Equal("c"))
		Expect(buckets.PutRemote).To(BeEmpty())
	})

	It("S4: a position-only divergence with an older global mtime re-ranks locally", func() {
		meta := &provider.RemoteMeta{
			Timestamp: 500,
			Info:      map[string]provider.InfoEntry{"d": {Modified: 500, Position: 2}},
		}
		remoteList := []*provider.RemoteObject{{Name: "d", URI: "d"}}
		normalized, remoteMap, _ := reconcile.NormalizeMeta(meta, remoteList, now)

		local := []*provider.Script{
			{ID: "4", Props: provider.Props{URI: "d", LastModified: 500, Position: 5}},
		}
		localMeta := provider.LocalMeta{Timestamp: 500}
		buckets, _ := reconcile.Classify(normalized, remoteMap, local, localMeta, 100)

		Expect(buckets.UpdateLocal).To(HaveLen(1))
		Expect(buckets.UpdateLocal[0].Info.Position).To(Equal(2))
		Expect(buckets.PutRemote).To(BeEmpty())
		Expect(buckets.PutLocal).To(BeEmpty())
	})

	It("S5: a locally-newer script uploads and advances the meta's modified stamp", func() {
		meta := &provider.RemoteMeta{
			Timestamp: 100,
			Info:      map[string]provider.InfoEntry{"e": {Modified: 100}},
		}
		remoteList := []*provider.RemoteObject{{Name: "e", URI: "e"}}
		normalized, remoteMap, _ := reconcile.NormalizeMeta(meta, remoteList, now)

		local := []*provider.Script{
			{ID: "5", Props: provider.Props{URI: "e", LastModified: 200}},
		}
		localMeta := provider.LocalMeta{Timestamp: 100}
		buckets, changed := reconcile.Classify(normalized, remoteMap, local, localMeta, 0)

		Expect(changed).To(BeTrue())
		Expect(buckets.PutRemote).To(HaveLen(1))
		Expect(normalized.Info["e"].Modified).To(Equal(int64(200)))
	})

	It("keeps putLocal/delLocal and putRemote/delRemote mutually exclusive per URI", func() {
		meta := &provider.RemoteMeta{Timestamp: 50, Info: map[string]provider.InfoEntry{}}
		remoteList := []*provider.RemoteObject{{Name: "f", URI: "f"}}
		normalized, remoteMap, _ := reconcile.NormalizeMeta(meta, remoteList, now)

		localMeta := provider.LocalMeta{Timestamp: 10}
		buckets, _ := reconcile.Classify(normalized, remoteMap, nil, localMeta, 0)

		seen := map[string]int{}
		for _, it := range buckets.PutLocal {
			seen[it.URI]++
		}
		for _, it := range buckets.DelLocal {
			seen[it.URI]++
		}
		for _, it := range buckets.PutRemote {
			seen[it.URI]++
		}
		for _, it := range buckets.DelRemote {
			seen[it.URI]++
		}
		for uri, count := range seen {
			Expect(count).To(Equal(1), "uri %s should land in exactly one of putLocal/delLocal/putRemote/delRemote", uri)
		}
	})

	It("is idempotent: classifying the already-converged state produces no further changes", func() {
		meta := &provider.RemoteMeta{
			Timestamp: 1000,
			Info:      map[string]provider.InfoEntry{"g": {Modified: 1000, Position: 1}},
		}
		remoteList := []*provider.RemoteObject{{Name: "g", URI: "g"}}
		normalized, remoteMap, normChanged := reconcile.NormalizeMeta(meta, remoteList, now)
		Expect(normChanged).To(BeFalse())

		local := []*provider.Script{
			{ID: "7", Props: provider.Props{URI: "g", LastModified: 1000, Position: 1}},
		}
		localMeta := provider.LocalMeta{Timestamp: 1000}
		buckets, changed := reconcile.Classify(normalized, remoteMap, local, localMeta, 0)

		Expect(changed).To(BeFalse())
		Expect(buckets.Len()).To(Equal(0))
	})
})
