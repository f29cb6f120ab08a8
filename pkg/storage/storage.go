// Package storage provides a small object-store abstraction used both to read
// corpus shards and to persist extracted feature tables.
//
// Supported locations:
//
//	file:///data/compile   or a bare path   -> local filesystem
//	s3://bucket/prefix                       -> Amazon S3 (and S3-compatible services)
//	gs://bucket/prefix                       -> Google Cloud Storage
//	hf://org/dataset                         -> Hugging Face Hub dataset (read-only)
package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/fastir/pkg/errors"
	"github.com/ajitpratap0/fastir/pkg/logger"
)

// ErrNotFound is the cause of errors reporting a missing container or object.
var ErrNotFound = stderrors.New("not found")

// Provider identifies a storage backend
type Provider string

const (
	ProviderLocal Provider = "file"
	ProviderS3    Provider = "s3"
	ProviderGCS   Provider = "gs"
	ProviderHub   Provider = "hf"
)

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store defines the object operations fastir needs.
type Store interface {
	// List returns all objects whose key starts with prefix, in backend order.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Open returns a reader for the object at key. The caller closes it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Put writes the content of r to key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader) error

	// Close releases clients held by the store.
	Close() error
}

// Options configures every backend; only the section matching the URI scheme is used.
type Options struct {
	S3   S3Config   `yaml:"s3" mapstructure:"s3"`
	GCS  GCSConfig  `yaml:"gcs" mapstructure:"gcs"`
	Hub  HubConfig  `yaml:"hub" mapstructure:"hub"`
	HTTP HTTPConfig `yaml:"http" mapstructure:"http"`
}

// Location is a parsed storage URI
type Location struct {
	Provider Provider
	// Container is the bucket (s3, gs), the repository id (hf) or the root directory (file).
	Container string
	// Prefix is the key prefix inside the container.
	Prefix string
}

// String renders the location back into URI form
func (l Location) String() string {
	if l.Provider == ProviderLocal {
		return "file://" + l.Container
	}
	if l.Prefix == "" {
		return fmt.Sprintf("%s://%s", l.Provider, l.Container)
	}
	return fmt.Sprintf("%s://%s/%s", l.Provider, l.Container, l.Prefix)
}

// ParseLocation parses a storage URI. Strings without a scheme are local paths.
func ParseLocation(raw string) (Location, error) {
	if raw == "" {
		return Location{}, errors.New(errors.ErrorTypeConfig, "storage location is empty")
	}
	if !strings.Contains(raw, "://") {
		return Location{Provider: ProviderLocal, Container: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, errors.Wrap(err, errors.ErrorTypeConfig, "invalid storage location").
			WithDetail("location", raw)
	}

	path := strings.Trim(u.Path, "/")
	switch strings.ToLower(u.Scheme) {
	case "file":
		return Location{Provider: ProviderLocal, Container: u.Host + u.Path}, nil
	case "s3":
		return Location{Provider: ProviderS3, Container: u.Host, Prefix: path}, nil
	case "gs", "gcs":
		return Location{Provider: ProviderGCS, Container: u.Host, Prefix: path}, nil
	case "hf", "hub":
		if u.Host == "" || path == "" {
			return Location{}, errors.New(errors.ErrorTypeConfig, "hub location must be hf://<org>/<dataset>").
				WithDetail("location", raw)
		}
		return Location{Provider: ProviderHub, Container: u.Host + "/" + path}, nil
	default:
		return Location{}, errors.Newf(errors.ErrorTypeConfig, "unsupported storage scheme %q", u.Scheme).
			WithDetail("location", raw)
	}
}

// Open creates the store for loc. Remote clients are constructed but no
// request is issued until the first List/Open/Put.
func Open(ctx context.Context, loc Location, opts Options, log *zap.Logger) (Store, error) {
	log = logger.OrGlobal(log).With(zap.String("component", "storage"), zap.String("provider", string(loc.Provider)))

	switch loc.Provider {
	case ProviderLocal:
		return NewLocal(loc.Container), nil
	case ProviderS3:
		cfg := opts.S3
		cfg.Bucket = loc.Container
		return NewS3(ctx, cfg)
	case ProviderGCS:
		cfg := opts.GCS
		cfg.Bucket = loc.Container
		return NewGCS(ctx, cfg)
	case ProviderHub:
		cfg := opts.Hub
		cfg.Repo = loc.Container
		return NewHub(cfg, NewHTTPClient(opts.HTTP, log), log), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported storage provider %q", loc.Provider)
	}
}

// IsNotFound reports whether err signals a missing container or object
func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrNotFound)
}

func notFound(what string, cause error) error {
	if cause == nil {
		return errors.Wrap(ErrNotFound, errors.ErrorTypeFile, what)
	}
	return errors.Wrap(fmt.Errorf("%w: %v", ErrNotFound, cause), errors.ErrorTypeFile, what)
}
