package storage

import (
	"context"
	stderrors "errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ajitpratap0/fastir/pkg/errors"
)

// S3Config configures the S3 store. Bucket is filled from the location.
type S3Config struct {
	Bucket         string `yaml:"-" mapstructure:"-"`
	Region         string `yaml:"region" mapstructure:"region"`
	Endpoint       string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey      string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey      string `yaml:"secret_key" mapstructure:"secret_key"`
	ForcePathStyle bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	// PartSize is the multipart upload part size in bytes.
	PartSize int64 `yaml:"part_size" mapstructure:"part_size"`
}

// S3 implements Store using Amazon S3 (or S3-compatible services).
type S3 struct {
	client   *awss3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewS3 creates a new S3 store from the given config.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load aws config")
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return newS3WithClient(client, cfg), nil
}

func newS3WithClient(client *awss3.Client, cfg S3Config) *S3 {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.PartSize > 0 {
			u.PartSize = cfg.PartSize
		}
	})
	return &S3{client: client, uploader: uploader, bucket: cfg.Bucket}
}

// List returns metadata for all objects whose key starts with prefix.
func (s *S3) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	paginator := awss3.NewListObjectsV2Paginator(s.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var objects []ObjectInfo
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			var nsb *types.NoSuchBucket
			if stderrors.As(err, &nsb) {
				return nil, notFound("bucket does not exist: "+s.bucket, err)
			}
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "s3 list failed").
				WithDetail("bucket", s.bucket)
		}
		for _, obj := range out.Contents {
			oi := ObjectInfo{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				oi.LastModified = *obj.LastModified
			}
			objects = append(objects, oi)
		}
	}
	return objects, nil
}

// Open returns a reader for the S3 object at key.
func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if stderrors.As(err, &nsk) {
			return nil, notFound("object does not exist: "+key, err)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "s3 download failed").
			WithDetail("bucket", s.bucket).WithDetail("key", key)
	}
	return out.Body, nil
}

// Put uploads r to key, using multipart uploads for large bodies.
func (s *S3) Put(ctx context.Context, key string, r io.Reader) error {
	_, err := s.uploader.Upload(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "s3 upload failed").
			WithDetail("bucket", s.bucket).WithDetail("key", key)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *S3) Close() error { return nil }

var _ Store = (*S3)(nil)
