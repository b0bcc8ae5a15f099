// Package manager implements the registry/dispatcher (§4.5): the
// SyncManager singleton the design note in §9 re-architects the teacher's
// global mutable state (work-chain promise, services map, syncConfig) into
// — one struct owning every piece of process-wide shared state instead of
// package-level globals, generalizing the teacher's cmn.GCO singleton
// pattern (cmn/config.go) to this domain.
package manager

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/aistore-sync/usersync/cmn"
	"github.com/aistore-sync/usersync/config"
	"github.com/aistore-sync/usersync/metrics"
	"github.com/aistore-sync/usersync/service"
	"github.com/aistore-sync/usersync/workchain"
)

// Factory instantiates one registered provider's service.Base, given the
// manager so it can share the process-wide config, chain, and metrics.
type Factory func(m *SyncManager) *service.Base

// ServiceState is the per-service snapshot §4.5's getStates() returns.
type ServiceState struct {
	Name        string
	DisplayName string
	AuthState   string
	SyncState   string
	LastSync    int64
	Progress    service.Progress
	Properties  map[string]interface{}
	UserConfig  map[string]interface{}
}

// UpdateSyncMessage is the §6.5 UI-messaging envelope: {cmd:'UpdateSync',
// data:getStates()}.
type UpdateSyncMessage struct {
	Cmd  string         `json:"cmd"`
	Data []ServiceState `json:"data"`
}

// SyncManager is the process-wide registry and dispatcher.
type SyncManager struct {
	Root    *config.Facade
	Chain   *workchain.Chain
	Metrics *metrics.Set

	// Notify receives a debounced aggregated snapshot on any state change
	// (§6.5); nil means no listener, so the message is dropped silently.
	Notify func(msg UpdateSyncMessage)

	owner *config.Owner

	mu          sync.Mutex
	factories   []Factory
	services    map[string]*service.Base
	order       []string
	built       bool
	notifyTimer *time.Timer
}

// New constructs a SyncManager backed by store for the root "sync" option
// tree (§6.4). m may be nil if metrics are not wanted.
func New(ctx context.Context, store config.OptionStore, m *metrics.Set) (*SyncManager, error) {
	owner, err := config.NewOwner(ctx, store)
	if err != nil {
		return nil, err
	}
	mgr := &SyncManager{
		owner:    owner,
		Root:     config.NewFacade(owner),
		Chain:    workchain.New(),
		Metrics:  m,
		services: map[string]*service.Base{},
	}
	return mgr, nil
}

// Register records f for instantiation on the next Initialize call (§4.5);
// must be called before Initialize.
func (m *SyncManager) Register(f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories = append(m.factories, f)
}

// Initialize is idempotent: registered factories are instantiated exactly
// once, but every call (including repeat calls, e.g. from the sync.current
// option-change hook) re-checks sync on whatever is currently selected.
func (m *SyncManager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if !m.built {
		m.built = true
		factories := m.factories
		m.mu.Unlock()

		for _, f := range factories {
			b := f(m)
			name := b.Name
			b.IsCurrent = func() bool { return m.GetCurrent() == name }
			b.OnStateChange = m.scheduleNotify
			m.mu.Lock()
			m.services[name] = b
			m.order = append(m.order, name)
			m.mu.Unlock()
		}
	} else {
		m.mu.Unlock()
	}

	if b := m.currentService(); b != nil {
		b.CheckSync(ctx)
	}
	return nil
}

// OnCurrentOptionChanged is the sync.current option-change hook (§4.5): any
// truthy new value re-runs Initialize so the newly-current service gets its
// checkSync pass.
func (m *SyncManager) OnCurrentOptionChanged(ctx context.Context, newValue string) {
	if newValue == "" {
		return
	}
	if err := m.owner.Refresh(ctx); err != nil {
		glog.Warningf("manager: refresh config on current change: %v", err)
	}
	if err := m.Initialize(ctx); err != nil {
		glog.Warningf("manager: re-initialize on current change: %v", err)
	}
}

// GetCurrent reads the sync.current option (§4.5).
func (m *SyncManager) GetCurrent() string {
	v, _ := m.Root.Get([]string{"current"}, "").(string)
	return v
}

func (m *SyncManager) currentService() *service.Base {
	name := m.GetCurrent()
	if name == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.services[name]
}

// Service returns the named registered service, or nil.
func (m *SyncManager) Service(name string) *service.Base {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.services[name]
}

// Sync triggers checkSync on the current service (§4.5 public sync()).
func (m *SyncManager) Sync(ctx context.Context) {
	if b := m.currentService(); b != nil {
		b.Sync(ctx)
	}
}

// Authorize drives the current service's auth flow (§4.5 authorize()).
func (m *SyncManager) Authorize(ctx context.Context) error {
	b := m.currentService()
	if b == nil {
		return cmn.Errorf(cmn.KindFatal, "manager: no current service")
	}
	return b.Authorize(ctx)
}

// Revoke tears down the current service's auth (§4.5 revoke()).
func (m *SyncManager) Revoke(ctx context.Context) error {
	b := m.currentService()
	if b == nil {
		return cmn.Errorf(cmn.KindFatal, "manager: no current service")
	}
	return b.Revoke(ctx)
}

// SetConfig pushes provider-specific config to the current service then
// re-checks sync (§4.5 setConfig(userConfig)).
func (m *SyncManager) SetConfig(ctx context.Context, userConfig map[string]interface{}) error {
	b := m.currentService()
	if b == nil {
		return cmn.Errorf(cmn.KindFatal, "manager: no current service")
	}
	if err := b.Provider.SetUserConfig(ctx, userConfig); err != nil {
		return err
	}
	b.CheckSync(ctx)
	return nil
}

// CheckAuthURL asks every registered service's provider whether url
// completes its auth flow; the first positive wins (§4.5 checkAuthUrl).
func (m *SyncManager) CheckAuthURL(ctx context.Context, url string) (string, bool) {
	for _, name := range m.serviceNames() {
		b := m.Service(name)
		if b == nil {
			continue
		}
		ok, err := b.Provider.CheckAuth(ctx, url)
		if err != nil {
			continue
		}
		if ok {
			return name, true
		}
	}
	return "", false
}

func (m *SyncManager) serviceNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// GetStates snapshots {name, displayName, authState, syncState, lastSync,
// progress, properties, userConfig} for every registered service (§4.5).
func (m *SyncManager) GetStates(ctx context.Context) []ServiceState {
	names := m.serviceNames()
	sort.Strings(names)

	out := make([]ServiceState, 0, len(names))
	for _, name := range names {
		b := m.Service(name)
		if b == nil {
			continue
		}
		userCfg, err := b.Provider.GetUserConfig(ctx)
		if err != nil {
			userCfg = nil
		}
		out = append(out, ServiceState{
			Name:        b.Name,
			DisplayName: b.DisplayName,
			AuthState:   b.AuthCell.Get(),
			SyncState:   b.SyncCell.Get(),
			LastSync:    b.LastSync(),
			Progress:    b.Progress(),
			Properties:  b.Provider.Properties(),
			UserConfig:  userCfg,
		})
	}
	return out
}

// scheduleNotify debounces state-change notifications to "next tick"
// granularity (§5, §6.5): bursts of transitions within the same tick merge
// into one aggregated snapshot.
func (m *SyncManager) scheduleNotify() {
	m.mu.Lock()
	if m.notifyTimer != nil {
		m.mu.Unlock()
		return
	}
	m.notifyTimer = time.AfterFunc(time.Millisecond, m.fireNotify)
	m.mu.Unlock()
}

func (m *SyncManager) fireNotify() {
	m.mu.Lock()
	m.notifyTimer = nil
	notify := m.Notify
	m.mu.Unlock()

	if notify == nil {
		return
	}
	notify(UpdateSyncMessage{Cmd: "UpdateSync", Data: m.GetStates(context.Background())})
}
