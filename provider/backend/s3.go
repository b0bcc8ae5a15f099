package backend

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	pkgerrors "github.com/pkg/errors"

	"github.com/aistore-sync/usersync/cmn"
	"github.com/aistore-sync/usersync/provider"
	"github.com/aistore-sync/usersync/reconcile"
)

// S3Provider adapts an S3 bucket to provider.Provider (§6.2), grounded on
// ais/cloud/aws.go's ListObjects/awsErrorToAISError shape.
type S3Provider struct {
	client *s3.S3
	bucket string
	prefix string
}

var _ provider.Provider = (*S3Provider)(nil)

// NewS3 wraps an already-authenticated *s3.S3 client. prefix scopes every
// key this provider touches, letting multiple services share one bucket.
func NewS3(client *s3.S3, bucket, prefix string) *S3Provider {
	return &S3Provider{client: client, bucket: bucket, prefix: prefix}
}

func (p *S3Provider) Name() string        { return "s3" }
func (p *S3Provider) DisplayName() string { return "Amazon S3" }
func (p *S3Provider) Properties() map[string]interface{} {
	return map[string]interface{}{"bucket": p.bucket, "prefix": p.prefix}
}
func (p *S3Provider) MetaFile() string { return "" }
func (p *S3Provider) DelayTime() int64 { return defaultDelayMillis }

// Authorize/Revoke/CheckAuth are no-ops: S3 credentials are acquired and
// rotated outside this module (§1); there's no in-band auth flow to drive.
func (p *S3Provider) Authorize(ctx context.Context) error { return nil }
func (p *S3Provider) Revoke(ctx context.Context) error    { return nil }
func (p *S3Provider) CheckAuth(ctx context.Context, url string) (bool, error) {
	return false, nil
}

// User validates the configured credentials still reach the bucket.
func (p *S3Provider) User(ctx context.Context) error {
	_, err := p.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.bucket)})
	if err != nil {
		if isS3Unauthorized(err) {
			return cmn.WithKind(cmn.KindUnauthorized, err)
		}
		return cmn.WithKind(cmn.KindTransport, err)
	}
	return nil
}

func (p *S3Provider) key(name string) string { return p.prefix + name }

func (p *S3Provider) List(ctx context.Context) ([]*provider.RemoteObject, error) {
	var out []*provider.RemoteObject
	input := &s3.ListObjectsV2Input{Bucket: aws.String(p.bucket), Prefix: aws.String(p.prefix)}
	err := p.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, last bool) bool {
		for _, obj := range page.Contents {
			name := (*obj.Key)[len(p.prefix):]
			if name == "" || name == lockObjectKey || name == userConfigObjectKey || name == reconcile.DefaultMetaFile {
				continue
			}
			out = append(out, &provider.RemoteObject{Name: name, URI: name})
		}
		return true
	})
	if err != nil {
		return nil, cmn.WithKind(cmn.KindTransport, err)
	}
	return out, nil
}

func (p *S3Provider) Get(ctx context.Context, obj *provider.RemoteObject) ([]byte, error) {
	resp, err := p.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(obj.Name)),
	})
	if err != nil {
		return nil, cmn.WithKind(cmn.KindTransport, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cmn.WithKind(cmn.KindTransport, pkgerrors.Wrap(err, "s3: read object body"))
	}
	return data, nil
}

func (p *S3Provider) Put(ctx context.Context, obj *provider.RemoteObject, data []byte) (*provider.RemoteObject, error) {
	key := obj.Name
	if key == "" {
		key = obj.URI
	}
	_, err := p.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return nil, cmn.WithKind(cmn.KindTransport, err)
	}
	return &provider.RemoteObject{Name: key, URI: key}, nil
}

func (p *S3Provider) Remove(ctx context.Context, obj *provider.RemoteObject) error {
	_, err := p.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(obj.Name)),
	})
	if err != nil {
		return cmn.WithKind(cmn.KindTransport, err)
	}
	return nil
}

// AcquireLock/ReleaseLock are best-effort markers (no cross-request CAS):
// see the lockObjectKey doc comment in common.go for why.
func (p *S3Provider) AcquireLock(ctx context.Context) error {
	_, err := p.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(lockObjectKey)),
		Body:   bytes.NewReader([]byte("1")),
	})
	if err != nil {
		return cmn.WithKind(cmn.KindTransport, err)
	}
	return nil
}

func (p *S3Provider) ReleaseLock(ctx context.Context) error {
	_, err := p.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(lockObjectKey)),
	})
	if err != nil && !isS3NotFound(err) {
		return cmn.WithKind(cmn.KindTransport, err)
	}
	return nil
}

func (p *S3Provider) GetUserConfig(ctx context.Context) (map[string]interface{}, error) {
	resp, err := p.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(userConfigObjectKey)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return map[string]interface{}{}, nil
		}
		return nil, cmn.WithKind(cmn.KindTransport, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cmn.WithKind(cmn.KindTransport, err)
	}
	var cfg map[string]interface{}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, cmn.WithKind(cmn.KindDecode, err)
	}
	return cfg, nil
}

func (p *S3Provider) SetUserConfig(ctx context.Context, cfg map[string]interface{}) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cmn.WithKind(cmn.KindDecode, err)
	}
	_, err = p.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(userConfigObjectKey)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return cmn.WithKind(cmn.KindTransport, err)
	}
	return nil
}

// HandleMetaError treats a missing meta object as "no meta yet" (first
// sync, §4.6), matching the teacher's base BackendProvider behavior of
// letting "not found" collapse into an empty result rather than an error.
func (p *S3Provider) HandleMetaError(err error) error {
	if isS3NotFound(err) {
		return nil
	}
	return err
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	ok := errors.As(err, &aerr)
	return ok && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound")
}

func isS3Unauthorized(err error) bool {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	switch aerr.Code() {
	case "Forbidden", "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return true
	default:
		return false
	}
}
