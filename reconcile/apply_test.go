package reconcile_test

import (
	"context"
	"sync"

	jsoniter "github.com/json-iterator/go"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/aistore-sync/usersync/jsoncodec"
	"github.com/aistore-sync/usersync/provider"
	"github.com/aistore-sync/usersync/reconcile"
)

var fakeJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// fakeProvider is an in-memory provider.Provider for exercising Driver.Run
// without a network dependency.
type fakeProvider struct {
	mu      sync.Mutex
	objects map[string][]byte
	locked  bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{objects: map[string][]byte{}}
}

func (p *fakeProvider) Name() string                        { return "fake" }
func (p *fakeProvider) DisplayName() string                 { return "Fake" }
func (p *fakeProvider) Properties() map[string]interface{}  { return nil }
func (p *fakeProvider) MetaFile() string                    { return "" }
func (p *fakeProvider) DelayTime() int64                    { return 0 }
func (p *fakeProvider) Authorize(ctx context.Context) error { return nil }
func (p *fakeProvider) Revoke(ctx context.Context) error    { return nil }
func (p *fakeProvider) User(ctx context.Context) error       { return nil }

func (p *fakeProvider) CheckAuth(ctx context.Context, url string) (bool, error) {
	return true, nil
}

func (p *fakeProvider) List(ctx context.Context) ([]*provider.RemoteObject, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*provider.RemoteObject
	for name := range p.objects {
		if name == "Violentmonkey" {
			continue
		}
		out = append(out, &provider.RemoteObject{Name: name, URI: name})
	}
	return out, nil
}

func (p *fakeProvider) Get(ctx context.Context, obj *provider.RemoteObject) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := obj.Name
	if key == "" {
		key = obj.URI
	}
	return p.objects[key], nil
}

func (p *fakeProvider) Put(ctx context.Context, obj *provider.RemoteObject, data []byte) (*provider.RemoteObject, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := obj.Name
	if key == "" {
		key = obj.URI
	}
	p.objects[key] = data
	return &provider.RemoteObject{Name: key, URI: obj.URI}, nil
}

func (p *fakeProvider) Remove(ctx context.Context, obj *provider.RemoteObject) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.objects, obj.Name)
	return nil
}

func (p *fakeProvider) AcquireLock(ctx context.Context) error { p.locked = true; return nil }
func (p *fakeProvider) ReleaseLock(ctx context.Context) error { p.locked = false; return nil }

func (p *fakeProvider) GetUserConfig(ctx context.Context) (map[string]interface{}, error) {
	return nil, nil
}
func (p *fakeProvider) SetUserConfig(ctx context.Context, cfg map[string]interface{}) error {
	return nil
}
func (p *fakeProvider) HandleMetaError(err error) error { return err }

// fakeStore is an in-memory provider.ScriptStore.
type fakeStore struct {
	mu      sync.Mutex
	scripts map[string]*provider.Script
	codes   map[string]string
	nextID  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{scripts: map[string]*provider.Script{}, codes: map[string]string{}}
}

func (s *fakeStore) List(ctx context.Context) ([]*provider.Script, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*provider.Script
	for _, sc := range s.scripts {
		cp := *sc
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[id], nil
}

func (s *fakeStore) Update(ctx context.Context, data *provider.Script) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data.ID == "" {
		s.nextID++
		data.ID = string(rune('a' + s.nextID))
	}
	s.scripts[data.ID] = data
	s.codes[data.ID] = data.Code
	return nil
}

func (s *fakeStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scripts, id)
	delete(s.codes, id)
	return nil
}

func (s *fakeStore) SortScripts(ctx context.Context) (bool, error) { return false, nil }

func (s *fakeStore) UpdateScriptInfo(ctx context.Context, id string, props provider.Props) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc, ok := s.scripts[id]; ok {
		sc.Props.Position = props.Position
	}
	return nil
}

var _ = Describe("Driver.Run", func() {
	It("uploads a brand-new local script on first sync and persists a meta blob", func() {
		p := newFakeProvider()
		store := newFakeStore()
		store.scripts["local-1"] = &provider.Script{ID: "local-1", Props: provider.Props{URI: "a"}}
		store.codes["local-1"] = "// hello"

		d := reconcile.NewDriver("test", p, store, nil)
		newMeta, err := d.Run(context.Background(), provider.LocalMeta{}, reconcile.Options{
			SyncScriptStatus: true,
			Now:              func() int64 { return 12345 },
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(newMeta.Timestamp).To(Equal(int64(12345)))
		Expect(p.objects).To(HaveKey("Violentmonkey"))

		var persisted provider.RemoteMeta
		Expect(fakeJSON.Unmarshal(p.objects["Violentmonkey"], &persisted)).To(Succeed())
		Expect(persisted.Info).To(HaveKey("a"))
	})

	It("downloads a remote-only script into the store", func() {
		p := newFakeProvider()
		store := newFakeStore()

		script := &provider.Script{Props: provider.Props{URI: "b"}, Code: "// remote"}
		blob, err := jsoncodec.Encode(script, jsoncodec.V1)
		Expect(err).NotTo(HaveOccurred())
		p.objects["b"] = blob

		metaBlob, err := fakeJSON.Marshal(provider.RemoteMeta{
			Timestamp: 999,
			Info:      map[string]provider.InfoEntry{"b": {Modified: 999}},
		})
		Expect(err).NotTo(HaveOccurred())
		p.objects["Violentmonkey"] = metaBlob

		d := reconcile.NewDriver("test", p, store, nil)
		_, err = d.Run(context.Background(), provider.LocalMeta{Timestamp: 100}, reconcile.Options{
			SyncScriptStatus: true,
			Now:              func() int64 { return 1000 },
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(store.codes).To(HaveLen(1))
		for _, code := range store.codes {
			Expect(code).To(Equal("// remote"))
		}
	})

	It("strips config.enabled from a downloaded script when syncScriptStatus is false", func() {
		p := newFakeProvider()
		store := newFakeStore()

		script := &provider.Script{Props: provider.Props{URI: "c"}, Code: "// remote", Config: map[string]interface{}{"enabled": true}}
		blob, err := jsoncodec.Encode(script, jsoncodec.V1)
		Expect(err).NotTo(HaveOccurred())
		p.objects["c"] = blob

		metaBlob, err := fakeJSON.Marshal(provider.RemoteMeta{
			Timestamp: 999,
			Info:      map[string]provider.InfoEntry{"c": {Modified: 999}},
		})
		Expect(err).NotTo(HaveOccurred())
		p.objects["Violentmonkey"] = metaBlob

		d := reconcile.NewDriver("test", p, store, nil)
		_, err = d.Run(context.Background(), provider.LocalMeta{Timestamp: 100}, reconcile.Options{
			SyncScriptStatus: false,
			Now:              func() int64 { return 1000 },
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(store.scripts).To(HaveLen(1))
		for _, sc := range store.scripts {
			_, ok := sc.Enabled()
			Expect(ok).To(BeFalse())
		}
	})

	It("is idempotent: running twice in a row on a converged state does nothing the second time", func() {
		p := newFakeProvider()
		store := newFakeStore()
		// A real script store stamps lastModified on every save; a script
		// permanently stuck at lastModified=0 is, by §4.6, never treated as
		// locally authoritative and would re-download forever.
		store.scripts["local-1"] = &provider.Script{ID: "local-1", Props: provider.Props{URI: "a", LastModified: 500}}
		store.codes["local-1"] = "// hello"

		d := reconcile.NewDriver("test", p, store, nil)
		clock := int64(1000)
		opts := reconcile.Options{SyncScriptStatus: true, Now: func() int64 { return clock }}

		meta1, err := d.Run(context.Background(), provider.LocalMeta{}, opts)
		Expect(err).NotTo(HaveOccurred())

		clock = 2000
		meta2, err := d.Run(context.Background(), meta1, opts)
		Expect(err).NotTo(HaveOccurred())
		Expect(meta2.Timestamp).To(Equal(meta1.Timestamp))
	})
})
