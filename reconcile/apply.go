package reconcile

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/aistore-sync/usersync/jsoncodec"
	"github.com/aistore-sync/usersync/metrics"
	"github.com/aistore-sync/usersync/provider"
	"github.com/aistore-sync/usersync/ratelimit"
)

// DefaultMetaFile is the remote meta-object name used when a provider
// doesn't override it (§6.1).
const DefaultMetaFile = "Violentmonkey"

// Options configures a single Run.
type Options struct {
	// SyncScriptStatus mirrors the global "syncScriptStatus" option (§4.6
	// putLocal): when false, config.enabled is stripped on download.
	SyncScriptStatus bool
	// GlobalLastModified is the local store's own last-mtime (§4.6).
	GlobalLastModified int64
	// AdoptRemoteClockOnMetaWriteFailure implements design decision (c)
	// in §9: when true, localMeta.timestamp adopts the meta's timestamp even
	// if the meta-file Put itself failed; when false, it keeps the previous
	// timestamp. The zero value is false; service.Base passes true.
	AdoptRemoteClockOnMetaWriteFailure bool
	// Now returns the current epoch-ms clock; defaults to time.Now.
	Now func() int64
}

func (o Options) now() int64 {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UnixMilli()
}

// Driver runs the reconciler (§4.6) for one service against one provider.
type Driver struct {
	Provider    provider.Provider
	Store       provider.ScriptStore
	Limiter     *ratelimit.Gate
	Metrics     *metrics.Set
	ServiceName string

	// OnFetchStart/OnFetchDone bracket every rate-gated provider call
	// (§4.4 "loadData"), letting the owning service.Base track
	// progress.total/progress.finished without the reconciler knowing
	// anything about progress bookkeeping. Either may be nil.
	OnFetchStart func()
	OnFetchDone  func()
}

// NewDriver constructs a Driver with a default rate gate derived from the
// provider's DelayTime (§4.4).
func NewDriver(name string, p provider.Provider, store provider.ScriptStore, m *metrics.Set) *Driver {
	delay := time.Duration(p.DelayTime()) * time.Millisecond
	return &Driver{
		Provider:    p,
		Store:       store,
		Limiter:     ratelimit.NewGate(delay),
		Metrics:     m,
		ServiceName: name,
	}
}

func (d *Driver) metaFileName() string {
	if f := d.Provider.MetaFile(); f != "" {
		return f
	}
	return DefaultMetaFile
}

// Run executes one full reconciliation (§4.6): lock, normalize, classify,
// apply (three phases: per-item, sort, meta-commit), unlock. It returns the
// updated LocalMeta and an aggregate error; a non-nil error means the
// caller should set syncState=error (§7 "fatal").
func (d *Driver) Run(ctx context.Context, localMeta provider.LocalMeta, opts Options) (provider.LocalMeta, error) {
	now := opts.now()

	// Inputs are fetched before the lock is held (§5 "Locking discipline":
	// acquire after fetching the inputs, before issuing any mutation).
	metaObj := &provider.RemoteObject{Name: d.metaFileName()}
	rawMeta, err := d.Provider.Get(ctx, metaObj)
	if err != nil {
		if herr := d.Provider.HandleMetaError(err); herr != nil {
			return localMeta, pkgerrors.Wrap(herr, "reconcile: fetch meta")
		}
		rawMeta = nil
	}
	remoteMeta := decodeMeta(rawMeta)

	remoteList, err := d.Provider.List(ctx)
	if err != nil {
		return localMeta, pkgerrors.Wrap(err, "reconcile: list remote")
	}
	localList, err := d.Store.List(ctx)
	if err != nil {
		return localMeta, pkgerrors.Wrap(err, "reconcile: list local")
	}

	if err := d.Provider.AcquireLock(ctx); err != nil {
		return localMeta, pkgerrors.Wrap(err, "reconcile: acquire lock")
	}
	defer func() {
		if err := d.Provider.ReleaseLock(ctx); err != nil {
			// best-effort: swallow, matching §5 "failures during release are swallowed"
			_ = err
		}
	}()

	normalized, remoteItemMap, normChanged := NormalizeMeta(remoteMeta, remoteList, now)
	buckets, classChanged := Classify(normalized, remoteItemMap, localList, localMeta, opts.GlobalLastModified)
	remoteChanged := normChanged || classChanged

	var allErrs []error

	// Phase 1: per-item apply, fanned out and bounded by the rate gate for
	// anything that hits the provider.
	if err := d.applyItems(ctx, buckets, opts.SyncScriptStatus); err != nil {
		allErrs = append(allErrs, err)
	}
	d.recordBuckets(buckets)

	// Phase 2: sortScripts, then fold any resulting position changes back
	// into the meta we're about to (maybe) persist.
	sortChanged, err := d.Store.SortScripts(ctx)
	if err != nil {
		allErrs = append(allErrs, pkgerrors.Wrap(err, "reconcile: sortScripts"))
	} else if sortChanged {
		remoteChanged = true
		relisted, err := d.Store.List(ctx)
		if err != nil {
			allErrs = append(allErrs, pkgerrors.Wrap(err, "reconcile: relist after sort"))
		} else {
			for _, s := range relisted {
				if entry, ok := normalized.Info[s.Props.URI]; ok {
					entry.Position = s.Props.Position
					normalized.Info[s.Props.URI] = entry
				}
			}
		}
	}

	// Phase 3: meta commit.
	var metaWriteErr error
	if remoteChanged {
		normalized.Timestamp = now
		data, merr := encodeMeta(normalized)
		if merr != nil {
			metaWriteErr = merr
		} else if _, perr := d.Provider.Put(ctx, metaObj, data); perr != nil {
			metaWriteErr = perr
		}
		if metaWriteErr != nil {
			allErrs = append(allErrs, pkgerrors.Wrap(metaWriteErr, "reconcile: put meta"))
		}
	}

	newTimestamp := normalized.Timestamp
	if !opts.AdoptRemoteClockOnMetaWriteFailure && metaWriteErr != nil {
		newTimestamp = localMeta.Timestamp
	}
	newLocalMeta := provider.LocalMeta{Timestamp: newTimestamp, LastSync: now}

	if len(allErrs) > 0 {
		return newLocalMeta, errors.Join(allErrs...)
	}
	return newLocalMeta, nil
}

// applyItems fans the five buckets out concurrently; provider-facing calls
// wait on the rate gate, local-store-only calls (delLocal, updateLocal) do
// not.
func (d *Driver) applyItems(ctx context.Context, b *Buckets, syncScriptStatus bool) error {
	var g errgroup.Group

	for _, it := range b.PutLocal {
		it := it
		g.Go(func() error { return d.applyPutLocal(ctx, it, syncScriptStatus) })
	}
	for _, it := range b.PutRemote {
		it := it
		g.Go(func() error { return d.applyPutRemote(ctx, it, b) })
	}
	for _, it := range b.DelRemote {
		it := it
		g.Go(func() error { return d.applyDelRemote(ctx, it, b) })
	}
	for _, it := range b.DelLocal {
		it := it
		g.Go(func() error { return d.applyDelLocal(ctx, it) })
	}
	for _, it := range b.UpdateLocal {
		it := it
		g.Go(func() error { return d.applyUpdateLocal(ctx, it) })
	}

	return g.Wait()
}

func (d *Driver) applyPutLocal(ctx context.Context, it *Item, syncScriptStatus bool) error {
	d.fetchStart()
	defer d.fetchDone()
	if err := d.Limiter.Wait(ctx); err != nil {
		return pkgerrors.Wrapf(err, "putLocal(%s): rate gate", it.URI)
	}
	raw, err := d.Provider.Get(ctx, it.Remote)
	if err != nil {
		return pkgerrors.Wrapf(err, "putLocal(%s): get", it.URI)
	}
	data := jsoncodec.Decode(raw)
	if data.Code == "" {
		return nil
	}
	data.Props.URI = it.URI
	if it.Local != nil {
		data.ID = it.Local.ID
	}
	if it.Info.Modified > 0 {
		data.Props.LastModified = it.Info.Modified
	}
	if it.Info.Position > 0 {
		data.Props.Position = it.Info.Position
	}
	if !syncScriptStatus {
		data.StripEnabled()
	}
	if err := d.Store.Update(ctx, data); err != nil {
		return pkgerrors.Wrapf(err, "putLocal(%s): update", it.URI)
	}
	return nil
}

func (d *Driver) applyPutRemote(ctx context.Context, it *Item, b *Buckets) error {
	code, err := d.Store.Get(ctx, it.Local.ID)
	if err != nil {
		return pkgerrors.Wrapf(err, "putRemote(%s): get", it.URI)
	}
	toWrite := &provider.Script{
		Custom: it.Local.Custom,
		Config: it.Local.Config,
		Props:  it.Local.Props,
		Code:   code,
	}
	data, err := jsoncodec.Encode(toWrite, jsoncodec.V1)
	if err != nil {
		return pkgerrors.Wrapf(err, "putRemote(%s): encode", it.URI)
	}

	d.fetchStart()
	defer d.fetchDone()
	if err := d.Limiter.Wait(ctx); err != nil {
		return pkgerrors.Wrapf(err, "putRemote(%s): rate gate", it.URI)
	}
	// name=nil (here, an object with only URI set) so the provider routes
	// by URI rather than reusing a possibly-stale stored name (§4.6).
	target := &provider.RemoteObject{URI: it.URI}
	if it.Remote != nil {
		target.ProviderFields = it.Remote.ProviderFields
	}
	if _, err := d.Provider.Put(ctx, target, data); err != nil {
		return pkgerrors.Wrapf(err, "putRemote(%s): put", it.URI)
	}
	return nil
}

func (d *Driver) applyDelRemote(ctx context.Context, it *Item, b *Buckets) error {
	d.fetchStart()
	defer d.fetchDone()
	if err := d.Limiter.Wait(ctx); err != nil {
		return pkgerrors.Wrapf(err, "delRemote(%s): rate gate", it.URI)
	}
	if err := d.Provider.Remove(ctx, it.Remote); err != nil {
		return pkgerrors.Wrapf(err, "delRemote(%s): remove", it.URI)
	}
	return nil
}

func (d *Driver) fetchStart() {
	if d.OnFetchStart != nil {
		d.OnFetchStart()
	}
	if d.Metrics != nil {
		d.Metrics.FetchCount.WithLabelValues(d.ServiceName).Inc()
	}
}

func (d *Driver) fetchDone() {
	if d.OnFetchDone != nil {
		d.OnFetchDone()
	}
}

func (d *Driver) applyDelLocal(ctx context.Context, it *Item) error {
	if err := d.Store.Remove(ctx, it.Local.ID); err != nil {
		return pkgerrors.Wrapf(err, "delLocal(%s): remove", it.URI)
	}
	return nil
}

func (d *Driver) applyUpdateLocal(ctx context.Context, it *Item) error {
	if err := d.Store.UpdateScriptInfo(ctx, it.Local.ID, provider.Props{Position: it.Info.Position}); err != nil {
		return pkgerrors.Wrapf(err, "updateLocal(%s): updateScriptInfo", it.URI)
	}
	return nil
}

func (d *Driver) recordBuckets(b *Buckets) {
	if d.Metrics == nil {
		return
	}
	d.Metrics.BucketCount.WithLabelValues(d.ServiceName, metrics.BucketPutLocal).Add(float64(len(b.PutLocal)))
	d.Metrics.BucketCount.WithLabelValues(d.ServiceName, metrics.BucketPutRemote).Add(float64(len(b.PutRemote)))
	d.Metrics.BucketCount.WithLabelValues(d.ServiceName, metrics.BucketDelRemote).Add(float64(len(b.DelRemote)))
	d.Metrics.BucketCount.WithLabelValues(d.ServiceName, metrics.BucketDelLocal).Add(float64(len(b.DelLocal)))
	d.Metrics.BucketCount.WithLabelValues(d.ServiceName, metrics.BucketUpdateLocal).Add(float64(len(b.UpdateLocal)))
}
