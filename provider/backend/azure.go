package backend

import (
	"context"
	"errors"
	"io/ioutil"

	"github.com/Azure/azure-storage-blob-go/azblob"
	pkgerrors "github.com/pkg/errors"

	"github.com/aistore-sync/usersync/cmn"
	"github.com/aistore-sync/usersync/provider"
	"github.com/aistore-sync/usersync/reconcile"
)

// AzureProvider adapts an Azure Blob container to provider.Provider
// (§6.2), grounded on ais/cloud/aws.go's single-bucket listing/CRUD shape
// and re-expressed against azure-storage-blob-go's ContainerURL/BlobURL
// pair instead of the AWS SDK's request-object style.
type AzureProvider struct {
	container azblob.ContainerURL
	prefix    string
}

var _ provider.Provider = (*AzureProvider)(nil)

// NewAzure wraps an already-authenticated azblob.ContainerURL.
func NewAzure(container azblob.ContainerURL, prefix string) *AzureProvider {
	return &AzureProvider{container: container, prefix: prefix}
}

func (p *AzureProvider) Name() string        { return "azure" }
func (p *AzureProvider) DisplayName() string { return "Azure Blob Storage" }
func (p *AzureProvider) Properties() map[string]interface{} {
	return map[string]interface{}{"container": p.container.URL().String(), "prefix": p.prefix}
}
func (p *AzureProvider) MetaFile() string { return "" }
func (p *AzureProvider) DelayTime() int64 { return defaultDelayMillis }

func (p *AzureProvider) Authorize(ctx context.Context) error { return nil }
func (p *AzureProvider) Revoke(ctx context.Context) error    { return nil }
func (p *AzureProvider) CheckAuth(ctx context.Context, url string) (bool, error) {
	return false, nil
}

func (p *AzureProvider) User(ctx context.Context) error {
	_, err := p.container.GetProperties(ctx, azblob.LeaseAccessConditions{})
	if err != nil {
		if isAzureUnauthorized(err) {
			return cmn.WithKind(cmn.KindUnauthorized, err)
		}
		return cmn.WithKind(cmn.KindTransport, err)
	}
	return nil
}

func (p *AzureProvider) blob(name string) azblob.BlockBlobURL {
	return p.container.NewBlockBlobURL(p.prefix + name)
}

func (p *AzureProvider) List(ctx context.Context) ([]*provider.RemoteObject, error) {
	var out []*provider.RemoteObject
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := p.container.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{Prefix: p.prefix})
		if err != nil {
			return nil, cmn.WithKind(cmn.KindTransport, err)
		}
		for _, item := range resp.Segment.BlobItems {
			name := item.Name[len(p.prefix):]
			if name == "" || name == lockObjectKey || name == userConfigObjectKey || name == reconcile.DefaultMetaFile {
				continue
			}
			out = append(out, &provider.RemoteObject{Name: name, URI: name})
		}
		marker = resp.NextMarker
	}
	return out, nil
}

func (p *AzureProvider) Get(ctx context.Context, obj *provider.RemoteObject) ([]byte, error) {
	resp, err := p.blob(obj.Name).Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, cmn.WithKind(cmn.KindTransport, err)
	}
	body := resp.Body(azblob.RetryReaderOptions{})
	defer body.Close()
	data, err := ioutil.ReadAll(body)
	if err != nil {
		return nil, cmn.WithKind(cmn.KindTransport, pkgerrors.Wrap(err, "azure: read blob body"))
	}
	return data, nil
}

func (p *AzureProvider) Put(ctx context.Context, obj *provider.RemoteObject, data []byte) (*provider.RemoteObject, error) {
	name := obj.Name
	if name == "" {
		name = obj.URI
	}
	_, err := azblob.UploadBufferToBlockBlob(ctx, data, p.blob(name), azblob.UploadToBlockBlobOptions{})
	if err != nil {
		return nil, cmn.WithKind(cmn.KindTransport, err)
	}
	return &provider.RemoteObject{Name: name, URI: name}, nil
}

func (p *AzureProvider) Remove(ctx context.Context, obj *provider.RemoteObject) error {
	_, err := p.blob(obj.Name).Delete(ctx, azblob.DeleteSnapshotsOptionNone, azblob.BlobAccessConditions{})
	if err != nil {
		return cmn.WithKind(cmn.KindTransport, err)
	}
	return nil
}

// AcquireLock/ReleaseLock are best-effort markers; see common.go.
func (p *AzureProvider) AcquireLock(ctx context.Context) error {
	_, err := azblob.UploadBufferToBlockBlob(ctx, []byte("1"), p.blob(lockObjectKey), azblob.UploadToBlockBlobOptions{})
	if err != nil {
		return cmn.WithKind(cmn.KindTransport, err)
	}
	return nil
}

func (p *AzureProvider) ReleaseLock(ctx context.Context) error {
	_, err := p.blob(lockObjectKey).Delete(ctx, azblob.DeleteSnapshotsOptionNone, azblob.BlobAccessConditions{})
	if err != nil && !isAzureNotFound(err) {
		return cmn.WithKind(cmn.KindTransport, err)
	}
	return nil
}

func (p *AzureProvider) GetUserConfig(ctx context.Context) (map[string]interface{}, error) {
	resp, err := p.blob(userConfigObjectKey).Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return map[string]interface{}{}, nil
		}
		return nil, cmn.WithKind(cmn.KindTransport, err)
	}
	body := resp.Body(azblob.RetryReaderOptions{})
	defer body.Close()
	data, err := ioutil.ReadAll(body)
	if err != nil {
		return nil, cmn.WithKind(cmn.KindTransport, err)
	}
	var cfg map[string]interface{}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, cmn.WithKind(cmn.KindDecode, err)
	}
	return cfg, nil
}

func (p *AzureProvider) SetUserConfig(ctx context.Context, cfg map[string]interface{}) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cmn.WithKind(cmn.KindDecode, err)
	}
	_, err = azblob.UploadBufferToBlockBlob(ctx, data, p.blob(userConfigObjectKey), azblob.UploadToBlockBlobOptions{})
	if err != nil {
		return cmn.WithKind(cmn.KindTransport, err)
	}
	return nil
}

// HandleMetaError treats a missing meta blob as "no meta yet" (§4.6).
func (p *AzureProvider) HandleMetaError(err error) error {
	if isAzureNotFound(err) {
		return nil
	}
	return err
}

func azureStorageErr(err error) (*azblob.StorageError, bool) {
	var serr azblob.StorageError
	if errors.As(err, &serr) {
		return &serr, true
	}
	return nil, false
}

func isAzureNotFound(err error) bool {
	serr, ok := azureStorageErr(err)
	return ok && serr.ServiceCode() == azblob.ServiceCodeBlobNotFound
}

func isAzureUnauthorized(err error) bool {
	serr, ok := azureStorageErr(err)
	if !ok {
		return false
	}
	switch serr.ServiceCode() {
	case azblob.ServiceCodeAuthenticationFailed, azblob.ServiceCodeInsufficientAccountPermissions:
		return true
	default:
		return false
	}
}
