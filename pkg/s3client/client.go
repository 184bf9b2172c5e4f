// Package s3client downloads objects named by s3:// URLs.
package s3client

import (
	"context"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

const (
	defaultMaxRetries = 5
	defaultBaseDelay  = 100 * time.Millisecond
	defaultMaxDelay   = 30 * time.Second
)

// ErrInvalidURI is returned for a URL that does not name an S3 object.
var ErrInvalidURI = errors.Base("invalid S3 URI")

// Client downloads objects with the S3 transfer manager.
type Client struct {
	downloader *manager.Downloader
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// New wraps api. concurrency bounds the parts fetched in parallel for one
// object; zero keeps the manager's default.
func New(api manager.DownloadAPIClient, concurrency int) *Client {
	return &Client{
		downloader: manager.NewDownloader(api, func(d *manager.Downloader) {
			if concurrency > 0 {
				d.Concurrency = concurrency
			}
		}),
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
	}
}

// NewFromEnvironment builds a Client from the default AWS configuration
// chain (environment, shared config, instance role).
func NewFromEnvironment(ctx context.Context, concurrency int, optFns ...func(*config.LoadOptions) error) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, errors.Errorf("loading AWS config: %w", err)
	}
	return New(s3.NewFromConfig(cfg), concurrency), nil
}

// WithRetry changes the retry budget and the base backoff delay.
func (c *Client) WithRetry(maxRetries int, baseDelay time.Duration) *Client {
	c.maxRetries = maxRetries
	c.baseDelay = baseDelay
	return c
}

// ParseURI splits s3://bucket/key. The key must not be empty.
func ParseURI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, "s3://") {
		return "", "", errors.Errorf("%w: %s: must start with s3://", ErrInvalidURI, uri)
	}
	bucket, key, _ = strings.Cut(strings.TrimPrefix(uri, "s3://"), "/")
	if bucket == "" {
		return "", "", errors.Errorf("%w: %s: missing bucket name", ErrInvalidURI, uri)
	}
	if key == "" || strings.HasSuffix(key, "/") {
		return "", "", errors.Errorf("%w: %s: missing object key", ErrInvalidURI, uri)
	}
	return bucket, key, nil
}

// Download writes the object at uri to dest and returns its size. A partial
// file is removed on failure.
func (c *Client) Download(ctx context.Context, uri, dest string) (int64, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, errors.Errorf("creating directory for %s: %w", dest, err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, errors.Errorf("creating %s: %w", dest, err)
	}

	n, err := c.downloadWithRetry(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if cerr := f.Close(); err == nil && cerr != nil {
		err = errors.Errorf("closing %s: %w", dest, cerr)
	}
	if err != nil {
		_ = os.Remove(dest)
		return 0, errors.Errorf("downloading %s: %w", uri, err)
	}
	return n, nil
}

func (c *Client) downloadWithRetry(ctx context.Context, f *os.File, input *s3.GetObjectInput) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := f.Truncate(0); err != nil {
				return 0, err
			}
		}
		n, err := c.downloader.Download(ctx, f, input)
		if err == nil {
			return n, nil
		}
		if !isRetryableError(err) {
			return 0, err
		}

		lastErr = err
		if attempt < c.maxRetries {
			delay := c.calculateDelay(attempt)
			zerolog.Ctx(ctx).Warn().Err(err).Str("key", aws.ToString(input.Key)).Dur("delay", delay).Msg("retrying download")
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return 0, errors.Errorf("max retries exceeded: %w", lastErr)
}

func isRetryableError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "ServiceUnavailable", "RequestTimeout", "RequestTimeoutException", "InternalError":
			return true
		}
		if httpErr, ok := apiErr.(interface{ HTTPStatusCode() int }); ok {
			code := httpErr.HTTPStatusCode()
			return code >= 500 && code < 600
		}
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

// calculateDelay is exponential backoff with ±25% jitter, capped at maxDelay.
func (c *Client) calculateDelay(attempt int) time.Duration {
	base := float64(c.baseDelay)
	delay := base * math.Pow(2.0, float64(attempt))
	delay += delay * 0.25 * (2*rand.Float64() - 1) //nolint:gosec

	if delay > float64(c.maxDelay) {
		delay = float64(c.maxDelay)
	}
	return time.Duration(delay)
}
