// Package service implements the provider-agnostic lifecycle every
// registered provider inherits (§4.4): auth/sync state management,
// debounced and process-serialized sync triggering, rate-limited fetch
// progress, and the hourly auto-sync re-arm. Grounded on the teacher's
// authn package's prepare-then-act lifecycle shape (authn/utils.go) and
// on ais/backend/http.go's per-request pacing.
package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/golang/glog"

	"github.com/aistore-sync/usersync/cmn"
	"github.com/aistore-sync/usersync/config"
	"github.com/aistore-sync/usersync/metrics"
	"github.com/aistore-sync/usersync/provider"
	"github.com/aistore-sync/usersync/reconcile"
	"github.com/aistore-sync/usersync/state"
	"github.com/aistore-sync/usersync/workchain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CoalesceDelay is the minimum quiet period startSync holds between
// entering "ready" and actually running sync (§4.4, §5): ≥10s.
const CoalesceDelay = 10 * time.Second

// AutoSyncInterval is the debounced re-trigger period after a sync (§4.4).
const AutoSyncInterval = time.Hour

// Progress is a snapshot of a service's in-flight fetch progress (§4.4).
type Progress struct {
	Finished int64
	Total    int64
}

// Base is the lifecycle every provider-backed service embeds. It owns the
// two state cells, the rate-limited/fan-out reconciler driver, and the
// debounce/auto-sync timers; it does not own provider authentication flows
// or script storage, both supplied externally (§1).
type Base struct {
	Name        string
	DisplayName string

	Provider provider.Provider
	Store    provider.ScriptStore
	Driver   *reconcile.Driver

	// Config is this service's own services.<name> subtree; RootConfig is
	// the unscoped facade, needed for the sibling top-level keys §6.4
	// names (lastModified, syncScriptStatus).
	Config     *config.Facade
	RootConfig *config.Facade

	// Chain is the process-wide FIFO work chain (§5); shared across every
	// registered service by the owning manager.
	Chain *workchain.Chain

	Metrics *metrics.Set

	AuthCell *state.Cell
	SyncCell *state.Cell

	// IsCurrent reports whether this service is still the registry's
	// current provider; nil means "always current" (single-service use).
	IsCurrent func() bool

	// OnStateChange fires (undebounced) on every accepted cell transition
	// and every fetch progress tick; the owning manager debounces it into
	// the aggregated UI notification (§6.5).
	OnStateChange func()

	// CoalesceDelay overrides CoalesceDelay for this instance; zero means
	// use the package default. Exposed mainly so tests don't have to wait
	// out a real 10s window.
	CoalesceDelay time.Duration
	// AutoSyncInterval overrides AutoSyncInterval for this instance; zero
	// means use the package default.
	AutoSyncInterval time.Duration

	progressFinished int64
	progressTotal    int64

	mu            sync.Mutex
	debounceTimer *time.Timer
	pendingDone   chan struct{}
	autoSyncTimer *time.Timer
}

// NewBase wires a Base's state cells and reconciler driver. cfg is the
// unscoped root facade; Base derives its own services.<name> subtree from
// it via cfg.Service(name).
func NewBase(name, displayName string, p provider.Provider, store provider.ScriptStore, cfg *config.Facade, chain *workchain.Chain, m *metrics.Set) *Base {
	b := &Base{
		Name:        name,
		DisplayName: displayName,
		Provider:    p,
		Store:       store,
		RootConfig:  cfg,
		Config:      cfg.Service(name),
		Chain:       chain,
		Metrics:     m,
	}
	b.AuthCell = state.NewAuthCell(func(old, new string) { b.observeTransition("auth", state.AuthStateValues, new) })
	b.SyncCell = state.NewSyncCell(func(old, new string) { b.observeTransition("sync", state.SyncStateValues, new) })
	b.Driver = reconcile.NewDriver(name, p, store, m)
	b.Driver.OnFetchStart = func() { atomic.AddInt64(&b.progressTotal, 1); b.fireStateChange() }
	b.Driver.OnFetchDone = func() { atomic.AddInt64(&b.progressFinished, 1); b.fireStateChange() }
	return b
}

func (b *Base) observeTransition(cell string, allValues []string, newValue string) {
	if b.Metrics != nil {
		b.Metrics.ObserveState(b.Name, cell, allValues, newValue)
	}
	b.fireStateChange()
}

func (b *Base) fireStateChange() {
	if b.OnStateChange != nil {
		b.OnStateChange()
	}
}

// Progress reports the current fetch progress counters (§4.4).
func (b *Base) Progress() Progress {
	return Progress{
		Finished: atomic.LoadInt64(&b.progressFinished),
		Total:    atomic.LoadInt64(&b.progressTotal),
	}
}

func (b *Base) resetProgress() {
	atomic.StoreInt64(&b.progressFinished, 0)
	atomic.StoreInt64(&b.progressTotal, 0)
}

// Prepare implements §4.4's prepare(): derive auth from the stored token,
// validate it against the provider, and resolve authState accordingly. A
// failure also forces syncState back to idle so a stale "ready"/"syncing"
// cell never survives an auth regression.
func (b *Base) Prepare(ctx context.Context) error {
	b.AuthCell.Set(state.AuthInitializing)

	token, _ := b.Config.Get([]string{"token"}, "").(string)
	var err error
	if token == "" {
		err = cmn.Errorf(cmn.KindUnauthorized, "%s: no token configured", b.Name)
	} else {
		err = b.Provider.User(ctx)
	}

	if err != nil {
		if cmn.IsUnauthorized(err) {
			b.AuthCell.Set(state.AuthUnauthorized)
		} else {
			b.AuthCell.Set(state.AuthError)
		}
		b.SyncCell.Set(state.SyncIdle)
		return err
	}

	b.AuthCell.Set(state.AuthAuthorized)
	return nil
}

// CheckSync implements §4.4's checkSync(): prepare() then startSync().
func (b *Base) CheckSync(ctx context.Context) {
	if err := b.Prepare(ctx); err != nil {
		glog.Warningf("%s: prepare failed: %v", b.Name, err)
		return
	}
	b.StartSync(ctx)
}

// Authorize drives the provider's auth flow (§6.2) then re-checks sync.
func (b *Base) Authorize(ctx context.Context) error {
	b.AuthCell.Set(state.AuthAuthorizing)
	if err := b.Provider.Authorize(ctx); err != nil {
		b.AuthCell.Set(state.AuthError)
		return err
	}
	b.CheckSync(ctx)
	return nil
}

// Revoke tears down this service's stored token/meta and idles both cells
// (§4.5's registry-level revoke()).
func (b *Base) Revoke(ctx context.Context) error {
	if err := b.Provider.Revoke(ctx); err != nil {
		return err
	}
	if err := b.Config.Clear(ctx); err != nil {
		return err
	}
	b.AuthCell.Set(state.AuthIdle)
	b.SyncCell.Set(state.SyncIdle)
	return nil
}

func (b *Base) isEligible() bool {
	return b.AuthCell.Get() == state.AuthAuthorized && (b.IsCurrent == nil || b.IsCurrent())
}

// StartSync implements §4.4/§5's debounce-merge: repeated calls while a
// coalescing timer is pending reset the same timer rather than queuing
// additional work. The returned channel closes once this call's resulting
// (possibly merged) sync attempt has either run to completion or been
// dropped at the eligibility re-check.
func (b *Base) StartSync(ctx context.Context) <-chan struct{} {
	if !b.isEligible() {
		done := make(chan struct{})
		close(done)
		return done
	}

	b.mu.Lock()
	if b.debounceTimer != nil {
		b.debounceTimer.Reset(b.coalesceDelay())
		done := b.pendingDone
		b.mu.Unlock()
		return done
	}

	b.SyncCell.Set(state.SyncReady)
	done := make(chan struct{})
	b.pendingDone = done
	b.debounceTimer = time.AfterFunc(b.coalesceDelay(), func() { b.fireSync(ctx, done) })
	b.mu.Unlock()
	return done
}

func (b *Base) coalesceDelay() time.Duration {
	if b.CoalesceDelay > 0 {
		return b.CoalesceDelay
	}
	return CoalesceDelay
}

func (b *Base) autoSyncInterval() time.Duration {
	if b.AutoSyncInterval > 0 {
		return b.AutoSyncInterval
	}
	return AutoSyncInterval
}

func (b *Base) fireSync(ctx context.Context, done chan struct{}) {
	b.mu.Lock()
	b.debounceTimer = nil
	b.mu.Unlock()
	defer close(done)

	if !b.isEligible() {
		b.SyncCell.Set(state.SyncIdle)
		return
	}

	<-b.Chain.Submit(ctx, func(ctx context.Context) { b.sync(ctx) })
}

// sync implements §4.6's driver invocation plus the bookkeeping around it:
// state transitions, progress reset, metrics, local-meta persistence, and
// arming the next auto-sync.
func (b *Base) sync(ctx context.Context) {
	b.resetProgress()
	b.SyncCell.Set(state.SyncSyncing)
	start := time.Now()

	localMeta := b.readLocalMeta()
	syncScriptStatus, _ := b.RootConfig.Get([]string{"syncScriptStatus"}, true).(bool)
	globalLastModified := asInt64(b.RootConfig.Get([]string{"lastModified"}, int64(0)))

	newMeta, err := b.Driver.Run(ctx, localMeta, reconcile.Options{
		SyncScriptStatus:                   syncScriptStatus,
		GlobalLastModified:                 globalLastModified,
		AdoptRemoteClockOnMetaWriteFailure: true,
	})
	b.writeLocalMeta(ctx, newMeta)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		b.SyncCell.Set(state.SyncError)
		if b.Metrics != nil {
			b.Metrics.SyncErrorCount.WithLabelValues(b.Name).Inc()
		}
		glog.Errorf("%s: sync failed: %+v", b.Name, err)
	} else {
		b.SyncCell.Set(state.SyncIdle)
	}
	if b.Metrics != nil {
		b.Metrics.SyncDuration.WithLabelValues(b.Name, outcome).Observe(time.Since(start).Seconds())
	}

	b.armAutoSync(ctx)
}

// armAutoSync schedules the hourly re-trigger (§4.4). It runs after every
// sync() run and resets the hour by stopping the previously armed
// autoSyncTimer, which is separate from the coalescing-window timer.
func (b *Base) armAutoSync(ctx context.Context) {
	b.mu.Lock()
	if b.autoSyncTimer != nil {
		b.autoSyncTimer.Stop()
	}
	b.autoSyncTimer = time.AfterFunc(b.autoSyncInterval(), func() { b.CheckSync(ctx) })
	b.mu.Unlock()
}

// Sync is the public sync() trigger (§4.5): checkSync plus auto-sync
// rearm, re-entrant from the registry, an option-change hook, or a user
// action.
func (b *Base) Sync(ctx context.Context) {
	b.CheckSync(ctx)
}

// LastSync reports the persisted lastSync timestamp (§4.5 getStates()).
func (b *Base) LastSync() int64 {
	return b.readLocalMeta().LastSync
}

func (b *Base) readLocalMeta() provider.LocalMeta {
	return decodeLocalMeta(b.Config.Get([]string{"meta"}, nil))
}

func (b *Base) writeLocalMeta(ctx context.Context, lm provider.LocalMeta) {
	if err := b.Config.Set(ctx, []string{"meta"}, lm); err != nil {
		glog.Warningf("%s: persist local meta: %v", b.Name, err)
	}
}

func decodeLocalMeta(raw interface{}) provider.LocalMeta {
	if raw == nil {
		return provider.LocalMeta{}
	}
	if lm, ok := raw.(provider.LocalMeta); ok {
		return lm
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return provider.LocalMeta{}
	}
	var lm provider.LocalMeta
	if err := json.Unmarshal(data, &lm); err != nil {
		return provider.LocalMeta{}
	}
	return lm
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
