// Package s3blob implements the BlobStore capability on S3. Documents
// are stored under documents/{uuid}{ext} with the extension derived
// from the content type.
package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/veriflow/backend/internal/providers"
)

const keyPrefix = "documents/"

// Store is an S3-backed document store.
type Store struct {
	client s3api
	bucket string
	region string
}

type s3api interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// New builds an S3 store for the configured bucket.
func New(ctx context.Context, region, accessKey, secretKey, bucket string) (*Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Store{client: s3.NewFromConfig(awsCfg), bucket: bucket, region: region}, nil
}

// NewWithClient wraps an existing S3 API. Used by tests.
func NewWithClient(client s3api, bucket, region string) *Store {
	return &Store{client: client, bucket: bucket, region: region}
}

// Put uploads document bytes under a fresh documents/{uuid}{ext} key.
// Keys are generated per call; re-uploading the same document yields a
// new key (deduplication is deliberately not attempted here).
func (s *Store) Put(ctx context.Context, data []byte, filename, contentType string, meta map[string]string) (providers.PutResult, error) {
	key := keyPrefix + uuid.NewString() + extensionFor(contentType, filename)

	metadata := map[string]string{"original-filename": filename}
	for k, v := range meta {
		metadata[k] = v
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    metadata,
	})
	if err != nil {
		return providers.PutResult{}, fmt.Errorf("s3 put %s: %w", key, err)
	}

	return providers.PutResult{
		Key: key,
		URL: fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key),
	}, nil
}

// Get downloads a stored blob.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object %s: %w", key, err)
	}
	return data, nil
}

// extensionFor maps a content type to a file extension, falling back
// to the uploaded filename's extension.
func extensionFor(contentType, filename string) string {
	switch {
	case strings.Contains(contentType, "pdf"):
		return ".pdf"
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		return ".jpg"
	case strings.Contains(contentType, "tiff"):
		return ".tiff"
	case strings.Contains(contentType, "heic"):
		return ".heic"
	}
	if ext := path.Ext(filename); ext != "" {
		return ext
	}
	return ".bin"
}
