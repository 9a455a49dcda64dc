package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/semmidev/davkeep/internal/config"
	"github.com/semmidev/davkeep/internal/domain"
)

var _ domain.RemoteFileStore = (*S3Storage)(nil)

// S3Storage maps remote paths to object keys under prefix. Directories are
// key prefixes ending in "/", materialized with an empty marker object.
type S3Storage struct {
	client   *s3.Client
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

// NewS3 creates a new S3Storage instance using AWS SDK v2. Static keys are
// used when configured, otherwise the default credential chain.
func NewS3(ctx context.Context, cfg *config.S3Config) (*S3Storage, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newS3Storage(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Storage(client *s3.Client, bucket, prefix string) *S3Storage {
	return &S3Storage{
		client:   client,
		uploader: s3manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}
}

func (s *S3Storage) objectKey(p string) string {
	rel := strings.TrimPrefix(path.Clean("/"+p), "/")
	if s.prefix == "" {
		return rel
	}
	if rel == "" {
		return s.prefix
	}
	return s.prefix + "/" + rel
}

// dirPrefix is the listing prefix for a directory; empty for the bucket root.
func (s *S3Storage) dirPrefix(p string) string {
	key := s.objectKey(p)
	if key == "" {
		return ""
	}
	return key + "/"
}

func (s *S3Storage) Exists(ctx context.Context, p string) (bool, error) {
	key := s.objectKey(p)
	if key != "" {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: &s.bucket,
			Key:    &key,
		})
		if err == nil {
			return true, nil
		}
		if !isS3NotFound(err) {
			return false, fmt.Errorf("failed to head %s: %w", p, err)
		}
	}

	resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  &s.bucket,
		Prefix:  aws.String(s.dirPrefix(p)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("failed to list S3 objects: %w", err)
	}
	return aws.ToInt32(resp.KeyCount) > 0, nil
}

func (s *S3Storage) CreateDirectory(ctx context.Context, p string, recursive bool) error {
	marker := s.dirPrefix(p)
	if marker == "" {
		return nil
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &marker,
		Body:   strings.NewReader(""),
	})
	if err != nil {
		return fmt.Errorf("failed to create directory marker %s: %w", marker, err)
	}
	return nil
}

func (s *S3Storage) GetDirectoryContents(ctx context.Context, dir string) ([]domain.FileStat, error) {
	prefix := s.dirPrefix(dir)

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    &s.bucket,
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var entries []domain.FileStat
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list S3 objects: %w", err)
		}

		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			entries = append(entries, domain.FileStat{
				Basename: name,
				Filename: path.Join(dir, name),
				Type:     domain.EntryDirectory,
			})
		}

		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				continue
			}
			entries = append(entries, domain.FileStat{
				Basename:     name,
				Filename:     path.Join(dir, name),
				Type:         domain.EntryFile,
				LastModified: aws.ToTime(obj.LastModified),
				Size:         aws.ToInt64(obj.Size),
				ETag:         aws.ToString(obj.ETag),
			})
		}
	}

	return entries, nil
}

// MoveFile copies the object and deletes the source. S3 has no rename.
func (s *S3Storage) MoveFile(ctx context.Context, source, destination string) error {
	srcKey := s.objectKey(source)
	dstKey := s.objectKey(destination)

	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     &s.bucket,
		Key:        &dstKey,
		CopySource: aws.String(copySource(s.bucket, srcKey)),
	})
	if err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", source, destination, s3NotFound(err))
	}

	return s.DeleteFile(ctx, source)
}

func copySource(bucket, key string) string {
	return url.PathEscape(bucket + "/" + key)
}

func (s *S3Storage) DeleteFile(ctx context.Context, p string) error {
	key := s.objectKey(p)

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}

	return nil
}

func (s *S3Storage) PutFileContents(ctx context.Context, p string, content io.Reader, opts domain.PutOptions) (domain.WriteResult, error) {
	key := s.objectKey(p)
	counter := &countingReader{r: content}

	input := &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   counter,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}

	out, err := s.uploader.Upload(ctx, input)
	if err != nil {
		return domain.WriteResult{}, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return domain.WriteResult{
		Path: p,
		Size: counter.n,
		ETag: aws.ToString(out.ETag),
	}, nil
}

func (s *S3Storage) GetFileContents(ctx context.Context, p string, opts domain.GetOptions) (io.ReadCloser, error) {
	key := s.objectKey(p)

	input := &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}
	if opts.Ranged() {
		input.Range = aws.String(byteRange(opts))
	}

	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from S3: %w", p, s3NotFound(err))
	}
	return out.Body, nil
}

// byteRange renders opts as an HTTP Range header value.
func byteRange(opts domain.GetOptions) string {
	if opts.Length > 0 {
		return fmt.Sprintf("bytes=%d-%d", opts.Offset, opts.Offset+opts.Length-1)
	}
	return fmt.Sprintf("bytes=%d-", opts.Offset)
}

func isS3NotFound(err error) bool {
	var (
		notFound *types.NotFound
		noKey    *types.NoSuchKey
		respErr  *awshttp.ResponseError
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &noKey):
		return true
	case errors.As(err, &respErr):
		return respErr.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}

func s3NotFound(err error) error {
	if isS3NotFound(err) {
		return fmt.Errorf("%w: %w", fs.ErrNotExist, err)
	}
	return err
}
