package sourceio

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cexll/docx-session-engine/pkg/docxerr"
)

// S3Config identifies the bucket/key a session's document lives at and,
// for S3-compatible private clouds, the static credentials and endpoint
// override to reach it.
type S3Config struct {
	Bucket          string
	Key             string
	Region          string
	Endpoint        string // non-empty for MinIO/Hetzner-style compatible endpoints
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Source is a Source backed by an S3-compatible object store. It has no
// Watch support: S3 has no push notification primitive reachable without
// standing up an event-notification pipeline, so callers must poll via
// check_external instead.
type S3Source struct {
	cfg    S3Config
	client *s3.Client
}

// NewS3Source builds an S3Source, resolving AWS configuration the same
// way the pack's own MinIO/Hetzner helpers do: static credentials plus an
// optional endpoint override for non-AWS S3-compatible backends.
func NewS3Source(ctx context.Context, cfg S3Config) (*S3Source, error) {
	var optFns []func(*config.LoadOptions) error
	optFns = append(optFns, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	if cfg.Endpoint != "" {
		optFns = append(optFns, config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: cfg.Endpoint, SigningRegion: region, HostnameImmutable: true}, nil
			})))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, docxerr.Wrap(docxerr.StorageError, "load aws config", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3Source{cfg: cfg, client: client}, nil
}

func (s *S3Source) Read(ctx context.Context) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	downloader := manager.NewDownloader(s.client)
	_, err := downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.cfg.Key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, docxerr.New(docxerr.NotFound, fmt.Sprintf("object %s not found in bucket %s", s.cfg.Key, s.cfg.Bucket))
		}
		return nil, docxerr.Wrap(docxerr.StorageError, fmt.Sprintf("download object %s", s.cfg.Key), err)
	}
	return buf.Bytes(), nil
}

func (s *S3Source) Write(ctx context.Context, data []byte) error {
	uploader := manager.NewUploader(s.client)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.cfg.Key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return docxerr.Wrap(docxerr.StorageError, fmt.Sprintf("upload object %s", s.cfg.Key), err)
	}
	return nil
}

func (s *S3Source) Fingerprint(ctx context.Context) (string, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.cfg.Key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return "", docxerr.New(docxerr.NotFound, fmt.Sprintf("object %s not found in bucket %s", s.cfg.Key, s.cfg.Bucket))
		}
		return "", docxerr.Wrap(docxerr.StorageError, fmt.Sprintf("head object %s", s.cfg.Key), err)
	}
	if head.ETag != nil {
		return *head.ETag, nil
	}
	return fmt.Sprintf("%d", head.ContentLength), nil
}

func (s *S3Source) Watch(context.Context, func()) (func() error, error) {
	return nil, ErrUnsupportedWatch
}
