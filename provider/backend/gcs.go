package backend

import (
	"context"
	"errors"
	"io/ioutil"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/aistore-sync/usersync/cmn"
	"github.com/aistore-sync/usersync/provider"
	"github.com/aistore-sync/usersync/reconcile"
)

// GCSProvider adapts a Google Cloud Storage bucket to provider.Provider
// (§6.2), grounded on ais/cloud/gcp.go's bucket-scoped client usage,
// re-expressed against the cloud.google.com/go/storage client instead of
// the raw googleapi/storage transport the teacher's gcp.go builds by hand.
type GCSProvider struct {
	bucket *storage.BucketHandle
	name   string
	prefix string
}

var _ provider.Provider = (*GCSProvider)(nil)

// NewGCS wraps an already-authenticated *storage.Client scoped to bucket.
func NewGCS(client *storage.Client, bucket, prefix string) *GCSProvider {
	return &GCSProvider{bucket: client.Bucket(bucket), name: bucket, prefix: prefix}
}

func (p *GCSProvider) Name() string        { return "gcs" }
func (p *GCSProvider) DisplayName() string { return "Google Cloud Storage" }
func (p *GCSProvider) Properties() map[string]interface{} {
	return map[string]interface{}{"bucket": p.name, "prefix": p.prefix}
}
func (p *GCSProvider) MetaFile() string { return "" }
func (p *GCSProvider) DelayTime() int64 { return defaultDelayMillis }

func (p *GCSProvider) Authorize(ctx context.Context) error { return nil }
func (p *GCSProvider) Revoke(ctx context.Context) error    { return nil }
func (p *GCSProvider) CheckAuth(ctx context.Context, url string) (bool, error) {
	return false, nil
}

func (p *GCSProvider) User(ctx context.Context) error {
	_, err := p.bucket.Attrs(ctx)
	if err != nil {
		if isGCSUnauthorized(err) {
			return cmn.WithKind(cmn.KindUnauthorized, err)
		}
		return cmn.WithKind(cmn.KindTransport, err)
	}
	return nil
}

func (p *GCSProvider) object(name string) *storage.ObjectHandle {
	return p.bucket.Object(p.prefix + name)
}

func (p *GCSProvider) List(ctx context.Context) ([]*provider.RemoteObject, error) {
	var out []*provider.RemoteObject
	it := p.bucket.Objects(ctx, &storage.Query{Prefix: p.prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, cmn.WithKind(cmn.KindTransport, err)
		}
		name := attrs.Name[len(p.prefix):]
		if name == "" || name == lockObjectKey || name == userConfigObjectKey || name == reconcile.DefaultMetaFile {
			continue
		}
		out = append(out, &provider.RemoteObject{Name: name, URI: name})
	}
	return out, nil
}

func (p *GCSProvider) Get(ctx context.Context, obj *provider.RemoteObject) ([]byte, error) {
	r, err := p.object(obj.Name).NewReader(ctx)
	if err != nil {
		return nil, cmn.WithKind(cmn.KindTransport, err)
	}
	defer r.Close()
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, cmn.WithKind(cmn.KindTransport, err)
	}
	return data, nil
}

func (p *GCSProvider) Put(ctx context.Context, obj *provider.RemoteObject, data []byte) (*provider.RemoteObject, error) {
	name := obj.Name
	if name == "" {
		name = obj.URI
	}
	w := p.object(name).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, cmn.WithKind(cmn.KindTransport, err)
	}
	if err := w.Close(); err != nil {
		return nil, cmn.WithKind(cmn.KindTransport, err)
	}
	return &provider.RemoteObject{Name: name, URI: name}, nil
}

func (p *GCSProvider) Remove(ctx context.Context, obj *provider.RemoteObject) error {
	if err := p.object(obj.Name).Delete(ctx); err != nil {
		return cmn.WithKind(cmn.KindTransport, err)
	}
	return nil
}

// AcquireLock/ReleaseLock are best-effort markers; see common.go.
func (p *GCSProvider) AcquireLock(ctx context.Context) error {
	w := p.object(lockObjectKey).NewWriter(ctx)
	if _, err := w.Write([]byte("1")); err != nil {
		_ = w.Close()
		return cmn.WithKind(cmn.KindTransport, err)
	}
	if err := w.Close(); err != nil {
		return cmn.WithKind(cmn.KindTransport, err)
	}
	return nil
}

func (p *GCSProvider) ReleaseLock(ctx context.Context) error {
	err := p.object(lockObjectKey).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return cmn.WithKind(cmn.KindTransport, err)
	}
	return nil
}

func (p *GCSProvider) GetUserConfig(ctx context.Context) (map[string]interface{}, error) {
	r, err := p.object(userConfigObjectKey).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return map[string]interface{}{}, nil
		}
		return nil, cmn.WithKind(cmn.KindTransport, err)
	}
	defer r.Close()
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, cmn.WithKind(cmn.KindTransport, err)
	}
	var cfg map[string]interface{}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, cmn.WithKind(cmn.KindDecode, err)
	}
	return cfg, nil
}

func (p *GCSProvider) SetUserConfig(ctx context.Context, cfg map[string]interface{}) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cmn.WithKind(cmn.KindDecode, err)
	}
	w := p.object(userConfigObjectKey).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return cmn.WithKind(cmn.KindTransport, err)
	}
	if err := w.Close(); err != nil {
		return cmn.WithKind(cmn.KindTransport, err)
	}
	return nil
}

// HandleMetaError treats a missing meta object as "no meta yet" (§4.6).
func (p *GCSProvider) HandleMetaError(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

func isGCSUnauthorized(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 401 || gerr.Code == 403
	}
	return false
}
