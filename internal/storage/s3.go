package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"s3sync/internal/domain"
)

// ConnectOptions carries what is needed to reach an S3 compatible host.
type ConnectOptions struct {
	AccessKeyID     string
	SecretAccessKey string
	Host            string
	Region          string
	Profile         string
	MaxAttempts     int
}

// Connect builds an S3 client from static credentials, falling back to the
// shared profile chain when no keys are given.
func Connect(ctx context.Context, opts ConnectOptions) (*s3.Client, error) {
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(opts.Region),
		awscfg.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), opts.MaxAttempts)
		}),
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	} else if opts.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := normalizeEndpoint(opts.Host)
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func normalizeEndpoint(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return strings.TrimSuffix(host, "/")
}

// S3Store talks to Amazon S3 (or compatible APIs).
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	region   string
}

func NewS3Store(client *s3.Client) *S3Store {
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		region:   client.Options().Region,
	}
}

func (s *S3Store) EnsureBucket(ctx context.Context, bucket string) error {
	if bucket == "" {
		return domain.MissingConfig("storage bucket", "")
	}
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err == nil {
		return nil
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if s.region != "" && s.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		if bucketAlreadyOwned(err) {
			return nil
		}
		return &domain.RemoteError{Op: domain.OpBucket, Bucket: bucket, Err: err}
	}
	return nil
}

func bucketAlreadyOwned(err error) bool {
	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "BucketAlreadyOwnedByYou"
}

func (s *S3Store) ListObjects(ctx context.Context, bucket, prefix string) ObjectIterator {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	}
	if strings.TrimSpace(prefix) != "" {
		input.Prefix = aws.String(prefix)
	}
	return &s3Iterator{
		bucket:    bucket,
		prefix:    prefix,
		paginator: s3.NewListObjectsV2Paginator(s.client, input),
	}
}

func (s *S3Store) PutObject(ctx context.Context, in PutInput) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(in.Bucket),
		Key:           aws.String(in.Key),
		Body:          bytes.NewReader(in.Body),
		ContentLength: aws.Int64(int64(len(in.Body))),
	}
	if in.ContentType != "" {
		input.ContentType = aws.String(in.ContentType)
	}
	if in.ContentEncoding != "" {
		input.ContentEncoding = aws.String(in.ContentEncoding)
	}
	if in.CacheControl != "" {
		input.CacheControl = aws.String(in.CacheControl)
	}
	if in.Expires != nil {
		input.Expires = in.Expires
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return &domain.RemoteError{Op: domain.OpPut, Bucket: in.Bucket, Key: in.Key, Err: err}
	}
	return nil
}

func (s *S3Store) SetPublicRead(ctx context.Context, bucket, key string) error {
	_, err := s.client.PutObjectAcl(ctx, &s3.PutObjectAclInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		ACL:    types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return &domain.RemoteError{Op: domain.OpACL, Bucket: bucket, Key: key, Err: err}
	}
	return nil
}

func (s *S3Store) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(strings.TrimPrefix(key, "/")),
	})
	if err != nil {
		return &domain.RemoteError{Op: domain.OpDelete, Bucket: bucket, Key: key, Err: err}
	}
	return nil
}

var _ Service = (*S3Store)(nil)

type s3Iterator struct {
	bucket    string
	prefix    string
	paginator *s3.ListObjectsV2Paginator
	page      []types.Object
	pos       int
}

func (it *s3Iterator) Next(ctx context.Context) (domain.RemoteObject, bool, error) {
	for it.pos >= len(it.page) {
		if !it.paginator.HasMorePages() {
			return domain.RemoteObject{}, false, nil
		}
		out, err := it.paginator.NextPage(ctx)
		if err != nil {
			return domain.RemoteObject{}, false, &domain.RemoteError{Op: domain.OpList, Bucket: it.bucket, Key: it.prefix, Err: err}
		}
		it.page = out.Contents
		it.pos = 0
	}

	obj := it.page[it.pos]
	it.pos++
	return domain.RemoteObject{
		Key:          aws.ToString(obj.Key),
		LastModified: aws.ToTime(obj.LastModified).UTC(),
		Size:         aws.ToInt64(obj.Size),
	}, true, nil
}
