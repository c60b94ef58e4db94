package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures an S3Store.
type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// PublicURL is the prefix objects are reachable under, typically a CDN
	// in front of the bucket. When empty the bucket URL is used.
	PublicURL string
	PathStyle bool
}

// S3Store uploads objects to an S3-compatible bucket.
type S3Store struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

// NewS3Store creates a store from static credentials.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	publicURL, err := bucketURL(opts)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
		// MinIO and older gateways reject the default request checksums.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &S3Store{
		client:    client,
		bucket:    opts.Bucket,
		publicURL: publicURL,
	}, nil
}

// bucketURL returns the absolute URL objects of the bucket are served from.
func bucketURL(opts S3Options) (string, error) {
	if opts.PublicURL != "" {
		u, err := url.Parse(opts.PublicURL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return "", fmt.Errorf("public url %q is not an absolute URL", opts.PublicURL)
		}
		return strings.TrimRight(opts.PublicURL, "/"), nil
	}
	if opts.Bucket == "" {
		return "", errors.New("bucket is required")
	}
	if opts.Endpoint == "" {
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.Bucket, opts.Region), nil
	}

	u, err := url.Parse(opts.Endpoint)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("endpoint %q is not an absolute URL", opts.Endpoint)
	}
	base := strings.TrimRight(u.Path, "/")
	if opts.PathStyle {
		return u.Scheme + "://" + u.Host + base + "/" + opts.Bucket, nil
	}
	return u.Scheme + "://" + opts.Bucket + "." + u.Host + base, nil
}

// Upload puts r under key. r should be seekable when the endpoint is not
// served over TLS.
func (s *S3Store) Upload(ctx context.Context, key string, r io.Reader, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// PublicURL returns <public_url>/<key>.
func (s *S3Store) PublicURL(_ context.Context, key string) (string, error) {
	return s.publicURL + "/" + key, nil
}
