// Package s3 provides an Amazon S3 backend for rfs.
//
// This backend works with:
//   - AWS S3
//   - Cloudflare R2
//   - MinIO
//   - Wasabi
//   - DigitalOcean Spaces
//   - Any S3-compatible object storage
//
// Buckets are the locators of the namespace: "s3://bucket/key" addresses
// the object "key" inside "bucket". Virtual-hosted and path-style
// "https://...amazonaws.com" URLs are accepted as well.
//
// Basic usage:
//
//	sys, err := s3.NewSystem(s3.Config{Region: "us-east-1"})
//
// For S3-compatible services:
//
//	sys, err := s3.NewSystem(s3.Config{
//	    Endpoint:     "https://play.min.io",
//	    UsePathStyle: true,
//	})
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/JGoutin/rfs"
)

func init() {
	rfs.RegisterScheme("s3", func(settings map[string]string) (*rfs.System, error) {
		return NewSystem(ConfigFromMap(settings))
	})
}

// Errors specific to the S3 backend.
var (
	ErrPartSizeTooSmall = errors.New("s3: part size below the 5MB minimum")
)

// minPartSize is the S3 minimum for every multipart part but the last.
const minPartSize = 5 * 1024 * 1024

const defaultPageSize = 1000

// Backend implements rfs.Client for S3-compatible storage.
type Backend struct {
	client   *s3.Client
	uploader *manager.Uploader
	config   Config
}

var _ rfs.Client = (*Backend)(nil)

// New creates a new S3 backend with the given configuration.
func New(cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.PartSize == 0 {
		cfg.PartSize = minPartSize
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 5
	}

	var optFns []func(*config.LoadOptions) error

	if cfg.Region != "" {
		optFns = append(optFns, config.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)
		optFns = append(optFns, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return nil, fmt.Errorf("s3: loading AWS config: %w", err)
	}

	var s3OptFns []func(*s3.Options)

	if cfg.Endpoint != "" {
		s3OptFns = append(s3OptFns, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	if cfg.UsePathStyle {
		s3OptFns = append(s3OptFns, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3OptFns...)

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = cfg.PartSize
		u.Concurrency = cfg.Concurrency
	})

	return &Backend{
		client:   client,
		uploader: uploader,
		config:   cfg,
	}, nil
}

// Spec describes the S3 namespace: roots, header field names and
// capabilities. The region narrows the regional URL roots when known.
func Spec(cfg Config) rfs.Spec {
	region := cfg.Region
	if region == "" {
		region = `[\w-]+`
	}
	return rfs.Spec{
		Scheme: "s3",
		Roots: []rfs.Root{
			{Prefix: "s3://"},

			// Virtual-hosted style URL.
			{Pattern: regexp.MustCompile(`^https?://[\w.-]+\.s3\.amazonaws\.com`)},
			{Pattern: regexp.MustCompile(`^https?://[\w.-]+\.s3[.-]` + region + `\.amazonaws\.com`)},

			// Path-hosted style URL.
			{Pattern: regexp.MustCompile(`^https?://s3\.amazonaws\.com`)},
			{Pattern: regexp.MustCompile(`^https?://s3[.-]` + region + `\.amazonaws\.com`)},
		},
		SizeKeys:  []string{"Content-Length"},
		CTimeKeys: []string{"Creation-Date"},
		MTimeKeys: []string{"Last-Modified"},
		Capabilities: rfs.Capabilities{
			Write:        true,
			Multipart:    true,
			ListLocators: true,
			List:         true,
			MakeDir:      true,
			Remove:       true,
			Copy:         true,
		},
		MinPartSize:  minPartSize,
		ListPageSize: defaultPageSize,
	}
}

// NewSystem builds an rfs.System over an S3 backend. The AWS client is
// constructed on first use.
func NewSystem(cfg Config, opts ...rfs.Option) (*rfs.System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return rfs.NewSystem(Spec(cfg), func() (rfs.Client, error) { return New(cfg) }, opts...)
}

// HeadObject returns the metadata header of one object.
func (b *Backend) HeadObject(ctx context.Context, addr rfs.Addressing) (rfs.Header, error) {
	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(addr.Locator),
		Key:    aws.String(addr.Key),
	})
	if err != nil {
		return nil, translateError(err)
	}

	header := rfs.Header{}
	if result.ContentLength != nil {
		header["Content-Length"] = fmt.Sprintf("%d", *result.ContentLength)
	}
	if result.LastModified != nil {
		header["Last-Modified"] = result.LastModified.UTC().Format(http.TimeFormat)
	}
	if result.ContentType != nil {
		header["Content-Type"] = *result.ContentType
	}
	if result.ETag != nil {
		header["ETag"] = strings.Trim(*result.ETag, `"`)
	}
	if result.StorageClass != "" {
		header["Storage-Class"] = string(result.StorageClass)
	}
	for k, v := range result.Metadata {
		header["X-Amz-Meta-"+k] = v
	}
	return header, nil
}

// HeadLocator returns the metadata header of one bucket. HeadBucket
// carries almost no metadata; the creation date only appears in bucket
// listings.
func (b *Backend) HeadLocator(ctx context.Context, locator string) (rfs.Header, error) {
	result, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(locator),
	})
	if err != nil {
		return nil, translateError(err)
	}

	header := rfs.Header{}
	if result.BucketRegion != nil {
		header["Bucket-Region"] = *result.BucketRegion
	}
	return header, nil
}

// ListLocators enumerates the account's buckets.
func (b *Backend) ListLocators(ctx context.Context) ([]rfs.ObjectEntry, error) {
	result, err := b.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, translateError(err)
	}

	entries := make([]rfs.ObjectEntry, 0, len(result.Buckets))
	for _, bucket := range result.Buckets {
		if bucket.Name == nil {
			continue
		}
		header := rfs.Header{}
		if bucket.CreationDate != nil {
			header["Creation-Date"] = bucket.CreationDate.UTC().Format(time.RFC3339Nano)
		}
		entries = append(entries, rfs.ObjectEntry{Name: *bucket.Name, Header: header})
	}
	return entries, nil
}

// ListObjects returns one page of objects under prefix inside a bucket.
func (b *Backend) ListObjects(ctx context.Context, locator, prefix, pageToken string, maxEntries int) ([]rfs.ObjectEntry, string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(locator),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if pageToken != "" {
		input.ContinuationToken = aws.String(pageToken)
	}
	if maxEntries > 0 {
		input.MaxKeys = aws.Int32(int32(maxEntries))
	}

	result, err := b.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, "", translateError(err)
	}

	entries := make([]rfs.ObjectEntry, 0, len(result.Contents))
	for _, obj := range result.Contents {
		if obj.Key == nil {
			continue
		}
		header := rfs.Header{}
		if obj.Size != nil {
			header["Content-Length"] = fmt.Sprintf("%d", *obj.Size)
		}
		if obj.LastModified != nil {
			header["Last-Modified"] = obj.LastModified.UTC().Format(http.TimeFormat)
		}
		if obj.ETag != nil {
			header["ETag"] = strings.Trim(*obj.ETag, `"`)
		}
		entries = append(entries, rfs.ObjectEntry{Name: *obj.Key, Header: header})
	}

	next := ""
	if result.IsTruncated != nil && *result.IsTruncated && result.NextContinuationToken != nil {
		next = *result.NextContinuationToken
	}
	return entries, next, nil
}

// GetRange reads [start, end) of an object. S3 rejects ranges starting at
// or past the object length with InvalidRange, which maps to an empty
// read.
func (b *Backend) GetRange(ctx context.Context, addr rfs.Addressing, start, end int64) ([]byte, error) {
	var rangeHeader string
	if end > 0 {
		rangeHeader = fmt.Sprintf("bytes=%d-%d", start, end-1)
	} else {
		rangeHeader = fmt.Sprintf("bytes=%d-", start)
	}

	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(addr.Locator),
		Key:    aws.String(addr.Key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		if errorCode(err) == "InvalidRange" {
			return nil, nil
		}
		return nil, translateError(err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("s3: reading object body: %w", err)
	}
	return data, nil
}

// GetAll reads a whole object with a single unranged request.
func (b *Backend) GetAll(ctx context.Context, addr rfs.Addressing) ([]byte, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(addr.Locator),
		Key:    aws.String(addr.Key),
	})
	if err != nil {
		return nil, translateError(err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("s3: reading object body: %w", err)
	}
	return data, nil
}

// Put writes a whole object in one call through the transfer manager,
// which splits large bodies into concurrent parts on its own.
func (b *Backend) Put(ctx context.Context, addr rfs.Addressing, data []byte) error {
	_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(addr.Locator),
		Key:    aws.String(addr.Key),
		Body:   bytes.NewReader(data),
	})
	return translateError(err)
}

// CreateUpload starts a multipart upload.
func (b *Backend) CreateUpload(ctx context.Context, addr rfs.Addressing) (string, error) {
	result, err := b.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(addr.Locator),
		Key:    aws.String(addr.Key),
	})
	if err != nil {
		return "", translateError(err)
	}
	return aws.ToString(result.UploadId), nil
}

// PutPart uploads one part and returns its ETag.
func (b *Backend) PutPart(ctx context.Context, addr rfs.Addressing, uploadID string, partNumber int, data []byte) (string, error) {
	result, err := b.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(addr.Locator),
		Key:        aws.String(addr.Key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(int32(partNumber)),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return "", translateError(err)
	}
	return strings.Trim(aws.ToString(result.ETag), `"`), nil
}

// CompleteUpload assembles the uploaded parts into the final object.
// Parts must already be ordered by part number.
func (b *Backend) CompleteUpload(ctx context.Context, addr rfs.Addressing, uploadID string, parts []rfs.Part) error {
	completed := make([]types.CompletedPart, len(parts))
	for i, part := range parts {
		completed[i] = types.CompletedPart{
			PartNumber: aws.Int32(int32(part.Number)),
			ETag:       aws.String(part.Token),
		}
	}

	_, err := b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(addr.Locator),
		Key:      aws.String(addr.Key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	return translateError(err)
}

// AbortUpload discards an unfinished multipart upload.
func (b *Backend) AbortUpload(ctx context.Context, addr rfs.Addressing, uploadID string) error {
	_, err := b.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(addr.Locator),
		Key:      aws.String(addr.Key),
		UploadId: aws.String(uploadID),
	})
	return translateError(err)
}

// MakeLocator creates a bucket.
func (b *Backend) MakeLocator(ctx context.Context, locator string) error {
	input := &s3.CreateBucketInput{
		Bucket: aws.String(locator),
	}
	// us-east-1 is the one region that rejects an explicit constraint.
	if b.config.Region != "" && b.config.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.config.Region),
		}
	}

	_, err := b.client.CreateBucket(ctx, input)
	return translateError(err)
}

// MakeObject creates an empty object, typically a directory marker.
func (b *Backend) MakeObject(ctx context.Context, addr rfs.Addressing) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(addr.Locator),
		Key:           aws.String(addr.Key),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	return translateError(err)
}

// Remove deletes an object, or the bucket itself when the addressing has
// no key.
func (b *Backend) Remove(ctx context.Context, addr rfs.Addressing) error {
	var err error
	if addr.Key != "" {
		_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(addr.Locator),
			Key:    aws.String(addr.Key),
		})
	} else {
		_, err = b.client.DeleteBucket(ctx, &s3.DeleteBucketInput{
			Bucket: aws.String(addr.Locator),
		})
	}
	return translateError(err)
}

// Copy performs a server-side object-to-object copy.
func (b *Backend) Copy(ctx context.Context, src, dst rfs.Addressing) error {
	copySource := fmt.Sprintf("%s/%s", src.Locator, src.Key)

	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dst.Locator),
		CopySource: aws.String(copySource),
		Key:        aws.String(dst.Key),
	})
	return translateError(err)
}

// errorCode extracts the S3 API error code, or "" for non-API errors.
func errorCode(err error) string {
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// translateError converts S3 errors to rfs errors.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var nf *types.NotFound
	if errors.As(err, &nf) {
		return rfs.ErrNotFound
	}

	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return rfs.ErrNotFound
	}

	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return rfs.ErrNotFound
	}

	switch errorCode(err) {
	case "NotFound", "NoSuchKey", "NoSuchBucket", "NoSuchUpload":
		return rfs.ErrNotFound
	case "AccessDenied", "AllAccessDisabled",
		"InvalidAccessKeyId", "SignatureDoesNotMatch":
		return rfs.ErrPermissionDenied
	}

	return fmt.Errorf("s3: %w", err)
}
