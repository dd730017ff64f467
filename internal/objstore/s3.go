package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
)

// deleteBatchSize is the DeleteObjects API limit.
const deleteBatchSize = 1000

// S3Config configures the S3-backed store.
type S3Config struct {
	// Endpoint overrides the AWS endpoint, for MinIO-style deployments.
	// Empty means the regular AWS resolution chain.
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// PathStyle forces path-style addressing (required by most MinIO setups).
	PathStyle bool
	// MaxAttempts bounds SDK retries, initial attempt included.
	MaxAttempts int
}

// S3Store implements Store against an S3-compatible bucket.
type S3Store struct {
	client   *s3.Client
	presign  *s3.PresignClient
	uploader *manager.Uploader
	bucket   string
}

// NewS3Store builds the SDK client stack for cfg and verifies nothing; the
// first real call surfaces credential or connectivity problems.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 store: bucket is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = cfg.MaxAttempts
			})
		}),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &S3Store{
		client:   client,
		presign:  s3.NewPresignClient(client),
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
	}, nil
}

// List returns the folders and files directly under prefix.
func (s *S3Store) List(ctx context.Context, prefix string) (*Listing, error) {
	start := time.Now()
	listing := &Listing{}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			observe("list", start, err)
			return nil, mapError("list "+prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			listing.Folders = append(listing.Folders, aws.ToString(cp.Prefix))
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix || IsInternalKey(key) {
				continue
			}
			listing.Files = append(listing.Files, Object{
				Key:          key,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	observe("list", start, nil)
	return listing, nil
}

// Get reads an entire object into memory.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	body, _, err := s.GetStream(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %v", key, ErrStoreUnavailable, err)
	}
	return data, nil
}

// GetStream opens an object for streaming reads.
func (s *S3Store) GetStream(ctx context.Context, key string) (io.ReadCloser, *Meta, error) {
	start := time.Now()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	observe("get", start, err)
	if err != nil {
		return nil, nil, mapError("get "+key, err)
	}
	meta := &Meta{
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
	}
	if m := GetStoreMetrics(); m != nil {
		m.BytesDownloaded.Add(float64(meta.Size))
	}
	return out.Body, meta, nil
}

// Put writes a whole object.
func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	start := time.Now()
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	_, err := s.client.PutObject(ctx, in)
	observe("put", start, err)
	if err != nil {
		return mapError("put "+key, err)
	}
	if m := GetStoreMetrics(); m != nil {
		m.BytesUploaded.Add(float64(len(data)))
	}
	return nil
}

// Upload streams an object of unknown size using multipart uploads.
func (s *S3Store) Upload(ctx context.Context, key string, r io.Reader, contentType string) error {
	start := time.Now()
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	_, err := s.uploader.Upload(ctx, in)
	observe("upload", start, err)
	if err != nil {
		return mapError("upload "+key, err)
	}
	return nil
}

// Copy duplicates an object inside the bucket.
func (s *S3Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	start := time.Now()
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(s.bucket + "/" + escapeKey(srcKey)),
	})
	observe("copy", start, err)
	if err != nil {
		return mapError("copy "+srcKey, err)
	}
	return nil
}

// Delete removes a single object. S3 treats deleting an absent key as
// success, which matches the Store contract.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	start := time.Now()
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	observe("delete", start, err)
	if err != nil {
		return mapError("delete "+key, err)
	}
	return nil
}

// DeleteMany removes a batch of objects, 1000 per API call.
func (s *S3Store) DeleteMany(ctx context.Context, keys []string) error {
	start := time.Now()
	for len(keys) > 0 {
		batch := keys
		if len(batch) > deleteBatchSize {
			batch = batch[:deleteBatchSize]
		}
		keys = keys[len(batch):]

		ids := make([]types.ObjectIdentifier, 0, len(batch))
		for _, key := range batch {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(key)})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			observe("delete_many", start, err)
			return mapError("delete batch", err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			err := fmt.Errorf("delete batch: %d objects failed, first %s: %s: %w",
				len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message), ErrStoreUnavailable)
			observe("delete_many", start, err)
			return err
		}
	}
	observe("delete_many", start, nil)
	return nil
}

// HeadMeta returns object metadata, or ErrNotFound.
func (s *S3Store) HeadMeta(ctx context.Context, key string) (*Meta, error) {
	start := time.Now()
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	observe("head", start, err)
	if err != nil {
		return nil, mapError("head "+key, err)
	}
	return &Meta{
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// PresignGet returns a time-limited GET URL.
func (s *S3Store) PresignGet(ctx context.Context, key string, ttl time.Duration, contentDisposition string) (string, error) {
	start := time.Now()
	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if contentDisposition != "" {
		in.ResponseContentDisposition = aws.String(contentDisposition)
	}
	req, err := s.presign.PresignGetObject(ctx, in, s3.WithPresignExpires(ttl))
	observe("presign_get", start, err)
	if err != nil {
		return "", mapError("presign get "+key, err)
	}
	return req.URL, nil
}

// PresignPost returns a time-limited browser-upload form target.
func (s *S3Store) PresignPost(ctx context.Context, key string, ttl time.Duration) (*PresignedPost, error) {
	start := time.Now()
	req, err := s.presign.PresignPostObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignPostOptions) {
		o.Expires = ttl
	})
	observe("presign_post", start, err)
	if err != nil {
		return nil, mapError("presign post "+key, err)
	}
	return &PresignedPost{URL: req.URL, Fields: req.Values}, nil
}

// ScanPrefix walks every key under prefix without a delimiter, in key order.
func (s *S3Store) ScanPrefix(ctx context.Context, prefix string, fn func(Object) error) error {
	start := time.Now()
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			observe("scan", start, err)
			return mapError("scan "+prefix, err)
		}
		for _, obj := range page.Contents {
			err := fn(Object{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
			if errors.Is(err, ErrStopScan) {
				observe("scan", start, nil)
				return nil
			}
			if err != nil {
				observe("scan", start, err)
				return err
			}
		}
	}
	observe("scan", start, nil)
	return nil
}

// escapeKey percent-encodes a key for use in CopySource, keeping the "/"
// separators literal.
func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

// mapError normalizes SDK errors onto the store taxonomy. NotFound passes
// through untouched so callers can branch on it; anything else is treated as
// transient after the SDK retryer has given up.
func mapError(op string, err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		}
	}
	log.Warn().Err(err).Str("op", op).Msg("object store call failed")
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}
