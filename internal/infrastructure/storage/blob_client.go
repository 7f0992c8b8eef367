package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/wms-platform/purchasing-service/internal/domain"
	"github.com/wms-platform/purchasing-service/pkg/logging"
	"github.com/wms-platform/purchasing-service/pkg/resilience"
)

// BlobClientConfig configures the blob storage client
type BlobClientConfig struct {
	// BaseURL receives PUT <BaseURL>/<key> requests.
	BaseURL string
	// PublicURL prefixes the URL stored on the order. Defaults to BaseURL.
	PublicURL string
	Timeout   time.Duration
	Retry     *resilience.RetryConfig
}

// uploadStatusError is a non-2xx answer from the blob store.
type uploadStatusError struct {
	status int
	body   string
}

func (e *uploadStatusError) Error() string {
	return fmt.Sprintf("blob store returned status %d: %s", e.status, e.body)
}

// retryable reports whether a failed upload is worth another attempt:
// transport errors and 5xx/429 answers are, other client errors are not.
func retryable(err error) bool {
	var statusErr *uploadStatusError
	if errors.As(err, &statusErr) {
		return statusErr.status >= http.StatusInternalServerError || statusErr.status == http.StatusTooManyRequests
	}
	return !errors.Is(err, resilience.ErrCircuitOpen) && !errors.Is(err, context.Canceled)
}

// BlobClient uploads documents to an HTTP object store.
type BlobClient struct {
	http      *resty.Client
	publicURL string
	breaker   *resilience.CircuitBreaker
	retry     *resilience.RetryConfig
	logger    *logging.Logger
}

func NewBlobClient(cfg BlobClientConfig, breaker *resilience.CircuitBreaker, logger *logging.Logger) *BlobClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = cfg.BaseURL
	}
	retry := resilience.DefaultRetryConfig()
	if cfg.Retry != nil {
		*retry = *cfg.Retry
	}
	retry.RetryableErrors = retryable

	return &BlobClient{
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(timeout),
		publicURL: strings.TrimRight(publicURL, "/"),
		breaker:   breaker,
		retry:     retry,
		logger:    logger.WithComponent("blob-client"),
	}
}

// UploadBufferToBlob stores data under key and returns the document
// reference to attach to an order.
func (c *BlobClient) UploadBufferToBlob(ctx context.Context, key string, data []byte, contentType string) (*domain.Document, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return nil, fmt.Errorf("blob key is empty")
	}

	start := time.Now()
	err := resilience.Retry(ctx, c.retry, func() error {
		if c.breaker == nil {
			return c.put(ctx, key, data, contentType)
		}
		return c.breaker.Run(ctx, func() error {
			return c.put(ctx, key, data, contentType)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	c.logger.WithContext(ctx).Debug("Uploaded document",
		"key", key,
		"bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &domain.Document{URL: c.publicURL + "/" + key, Key: key}, nil
}

// DeleteBlob removes key from the store. A key that is already gone is not
// an error.
func (c *BlobClient) DeleteBlob(ctx context.Context, key string) error {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return fmt.Errorf("blob key is empty")
	}

	err := resilience.Retry(ctx, c.retry, func() error {
		if c.breaker == nil {
			return c.delete(ctx, key)
		}
		return c.breaker.Run(ctx, func() error {
			return c.delete(ctx, key)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	c.logger.WithContext(ctx).Debug("Deleted document", "key", key)
	return nil
}

func (c *BlobClient) delete(ctx context.Context, key string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/" + key)
	if err != nil {
		return err
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return &uploadStatusError{status: resp.StatusCode(), body: truncate(resp.String(), 200)}
	}
	return nil
}

func (c *BlobClient) put(ctx context.Context, key string, data []byte, contentType string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(data).
		Put("/" + key)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &uploadStatusError{status: resp.StatusCode(), body: truncate(resp.String(), 200)}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
