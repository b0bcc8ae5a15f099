package manager_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aistore-sync/usersync/manager"
	"github.com/aistore-sync/usersync/provider"
	"github.com/aistore-sync/usersync/service"
)

type memStore struct {
	mu sync.Mutex
	m  map[string]interface{}
}

func (s *memStore) GetOption(ctx context.Context, key string) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key], nil
}

func (s *memStore) SetOption(ctx context.Context, key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = map[string]interface{}{}
	}
	s.m[key] = value
	return nil
}

type stubProvider struct {
	name      string
	userErr   error
	authURLOK bool
}

func (p *stubProvider) Name() string                       { return p.name }
func (p *stubProvider) DisplayName() string                { return p.name }
func (p *stubProvider) Properties() map[string]interface{} { return map[string]interface{}{"name": p.name} }
func (p *stubProvider) MetaFile() string                   { return "" }
func (p *stubProvider) DelayTime() int64                   { return 1 }
func (p *stubProvider) Authorize(ctx context.Context) error { return nil }
func (p *stubProvider) Revoke(ctx context.Context) error    { return nil }
func (p *stubProvider) CheckAuth(ctx context.Context, url string) (bool, error) {
	return p.authURLOK, nil
}
func (p *stubProvider) User(ctx context.Context) error { return p.userErr }
func (p *stubProvider) List(ctx context.Context) ([]*provider.RemoteObject, error) {
	return nil, nil
}
func (p *stubProvider) Get(ctx context.Context, obj *provider.RemoteObject) ([]byte, error) {
	return nil, nil
}
func (p *stubProvider) Put(ctx context.Context, obj *provider.RemoteObject, data []byte) (*provider.RemoteObject, error) {
	return obj, nil
}
func (p *stubProvider) Remove(ctx context.Context, obj *provider.RemoteObject) error { return nil }
func (p *stubProvider) AcquireLock(ctx context.Context) error                       { return nil }
func (p *stubProvider) ReleaseLock(ctx context.Context) error                       { return nil }
func (p *stubProvider) GetUserConfig(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"ok": true}, nil
}
func (p *stubProvider) SetUserConfig(ctx context.Context, cfg map[string]interface{}) error {
	return nil
}
func (p *stubProvider) HandleMetaError(err error) error { return err }

type stubStore struct{}

func (s *stubStore) List(ctx context.Context) ([]*provider.Script, error)    { return nil, nil }
func (s *stubStore) Get(ctx context.Context, id string) (string, error)      { return "", nil }
func (s *stubStore) Update(ctx context.Context, data *provider.Script) error { return nil }
func (s *stubStore) Remove(ctx context.Context, id string) error             { return nil }
func (s *stubStore) SortScripts(ctx context.Context) (bool, error)           { return false, nil }
func (s *stubStore) UpdateScriptInfo(ctx context.Context, id string, props provider.Props) error {
	return nil
}

func newTestManager(t *testing.T) (*manager.SyncManager, *stubProvider, *stubProvider) {
	t.Helper()
	ctx := context.Background()
	mgr, err := manager.New(ctx, &memStore{}, nil)
	require.NoError(t, err)

	a := &stubProvider{name: "alpha"}
	b := &stubProvider{name: "beta", authURLOK: true}

	mgr.Register(func(m *manager.SyncManager) *service.Base {
		base := service.NewBase("alpha", "Alpha", a, &stubStore{}, m.Root, m.Chain, m.Metrics)
		base.CoalesceDelay = 10 * time.Millisecond
		base.AutoSyncInterval = time.Hour
		return base
	})
	mgr.Register(func(m *manager.SyncManager) *service.Base {
		base := service.NewBase("beta", "Beta", b, &stubStore{}, m.Root, m.Chain, m.Metrics)
		base.CoalesceDelay = 10 * time.Millisecond
		base.AutoSyncInterval = time.Hour
		return base
	})
	return mgr, a, b
}

func TestInitializeBuildsRegisteredServicesOnce(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.Initialize(ctx))
	require.NoError(t, mgr.Initialize(ctx))

	assert.NotNil(t, mgr.Service("alpha"))
	assert.NotNil(t, mgr.Service("beta"))
	assert.Nil(t, mgr.Service("gamma"))
}

func TestGetCurrentAndIsCurrentGating(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, mgr.Initialize(ctx))

	assert.Equal(t, "", mgr.GetCurrent())

	require.NoError(t, mgr.Root.Set(ctx, []string{"current"}, "alpha"))
	assert.Equal(t, "alpha", mgr.GetCurrent())

	alpha := mgr.Service("alpha")
	beta := mgr.Service("beta")
	require.NotNil(t, alpha)
	require.NotNil(t, beta)
	assert.True(t, alpha.IsCurrent())
	assert.False(t, beta.IsCurrent())
}

func TestSyncOnlyDrivesCurrentService(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, mgr.Initialize(ctx))
	require.NoError(t, mgr.Root.Set(ctx, []string{"current"}, "alpha"))

	alpha := mgr.Service("alpha")
	require.NoError(t, alpha.Config.Set(ctx, []string{"token"}, "tok"))

	mgr.Sync(ctx)
	time.Sleep(100 * time.Millisecond)

	states := mgr.GetStates(ctx)
	require.Len(t, states, 2)
	var alphaState, betaState manager.ServiceState
	for _, s := range states {
		if s.Name == "alpha" {
			alphaState = s
		}
		if s.Name == "beta" {
			betaState = s
		}
	}
	assert.Equal(t, "idle", betaState.SyncState)
	assert.NotEqual(t, "", alphaState.AuthState)
}

func TestCheckAuthURLFindsMatchingService(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, mgr.Initialize(ctx))

	name, ok := mgr.CheckAuthURL(ctx, "https://example.test/callback")
	assert.True(t, ok)
	assert.Equal(t, "beta", name)
}

func TestNotifyFiresOnStateChange(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	var mu sync.Mutex
	fired := 0
	notified := make(chan struct{}, 1)
	mgr.Notify = func(msg manager.UpdateSyncMessage) {
		mu.Lock()
		fired++
		mu.Unlock()
		assert.Equal(t, "UpdateSync", msg.Cmd)
		select {
		case notified <- struct{}{}:
		default:
		}
	}

	require.NoError(t, mgr.Initialize(ctx))
	require.NoError(t, mgr.Root.Set(ctx, []string{"current"}, "alpha"))
	alpha := mgr.Service("alpha")
	require.NoError(t, alpha.Config.Set(ctx, []string{"token"}, "tok"))

	mgr.Sync(ctx)

	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("never notified")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, fired, 0)
}
