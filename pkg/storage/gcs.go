package storage

import (
	"context"
	stderrors "errors"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/fastir/pkg/errors"
)

// GCSConfig configures the Google Cloud Storage store. Bucket is filled from
// the location.
type GCSConfig struct {
	Bucket          string `yaml:"-" mapstructure:"-"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	Endpoint        string `yaml:"endpoint" mapstructure:"endpoint"`
	// Anonymous disables authentication, for public buckets and emulators.
	Anonymous bool `yaml:"anonymous" mapstructure:"anonymous"`
}

// GCS implements Store using Google Cloud Storage.
type GCS struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
	name   string
}

// NewGCS creates a new GCS store from the given config.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "gcs bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Anonymous {
		opts = append(opts, option.WithoutAuthentication())
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create gcs client")
	}

	return &GCS{client: client, bucket: client.Bucket(cfg.Bucket), name: cfg.Bucket}, nil
}

// List returns metadata for all objects whose key starts with prefix.
func (g *GCS) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	it := g.bucket.Objects(ctx, &gcs.Query{Prefix: prefix})

	var objects []ObjectInfo
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			if stderrors.Is(err, gcs.ErrBucketNotExist) {
				return nil, notFound("bucket does not exist: "+g.name, err)
			}
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "gcs list failed").
				WithDetail("bucket", g.name)
		}
		// Skip directory placeholders.
		if attrs.Name == "" {
			continue
		}
		objects = append(objects, ObjectInfo{
			Key:          attrs.Name,
			Size:         attrs.Size,
			LastModified: attrs.Updated,
		})
	}
	return objects, nil
}

// Open returns a reader for the object at key.
func (g *GCS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := g.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if stderrors.Is(err, gcs.ErrObjectNotExist) || stderrors.Is(err, gcs.ErrBucketNotExist) {
			return nil, notFound("object does not exist: "+key, err)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "gcs download failed").
			WithDetail("bucket", g.name).WithDetail("key", key)
	}
	return r, nil
}

// Put writes r to key. The object becomes visible when the writer closes.
func (g *GCS) Put(ctx context.Context, key string, r io.Reader) error {
	w := g.bucket.Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close() //nolint:errcheck
		return errors.Wrap(err, errors.ErrorTypeConnection, "gcs upload failed").
			WithDetail("bucket", g.name).WithDetail("key", key)
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "gcs upload failed").
			WithDetail("bucket", g.name).WithDetail("key", key)
	}
	return nil
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}

var _ Store = (*GCS)(nil)
