package idempotency

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wms-platform/purchasing-service/pkg/actor"
	"github.com/wms-platform/purchasing-service/pkg/errors"
	"github.com/wms-platform/purchasing-service/pkg/logging"
	"github.com/wms-platform/purchasing-service/pkg/middleware"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

// ReplayRecorder is satisfied by *metrics.Metrics.
type ReplayRecorder interface {
	RecordIdempotentReplay()
}

// Config holds configuration for the idempotency middleware
type Config struct {
	ServiceName     string
	Repository      KeyRepository
	Logger          *logging.Logger
	Metrics         ReplayRecorder
	UserIDExtractor func(*gin.Context) string
	MaxKeyLength    int
	LockTimeout     time.Duration
	RetentionPeriod time.Duration
	MaxResponseSize int
}

func DefaultConfig(serviceName string, repository KeyRepository, logger *logging.Logger) *Config {
	return &Config{
		ServiceName:     serviceName,
		Repository:      repository,
		Logger:          logger,
		UserIDExtractor: ActorUserID,
		MaxKeyLength:    DefaultMaxKeyLength,
		LockTimeout:     DefaultLockTimeout,
		RetentionPeriod: DefaultRetentionPeriod,
		MaxResponseSize: DefaultMaxResponseSize,
	}
}

// ActorUserID scopes keys to the actor placed in the request context by
// middleware.ActorAuth.
func ActorUserID(c *gin.Context) string {
	if a, err := actor.FromContext(c.Request.Context()); err == nil {
		return a.ID
	}
	return ""
}

type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Middleware replays the stored response for a repeated Idempotency-Key.
// Requests without the header pass through untouched. A repeated key with a
// different body is rejected with 422; a key still being processed gets 409.
// Server errors release the key so the client can retry.
func Middleware(config *Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := NormalizeKey(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}

		if err := ValidateKey(key, config.MaxKeyLength); err != nil {
			middleware.AbortWithAppError(c, errors.ErrValidation(err.Error()).WithDetail("header", HeaderIdempotencyKey))
			return
		}

		var body []byte
		if c.Request.Body != nil {
			var err error
			body, err = io.ReadAll(c.Request.Body)
			if err != nil {
				middleware.AbortWithAppError(c, errors.ErrBadRequest("failed to read request body"))
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		process(c, config, key, RequestFingerprint(c.GetHeader("Content-Type"), body))
	}
}

func process(c *gin.Context, config *Config, key, fingerprint string) {
	ctx := c.Request.Context()
	logger := config.Logger.WithContext(ctx).With("idempotencyKey", key, "path", c.Request.URL.Path)

	var userID string
	if config.UserIDExtractor != nil {
		userID = config.UserIDExtractor(c)
	}

	now := time.Now().UTC()
	stored, inserted, err := config.Repository.AcquireLock(ctx, &Key{
		Key:                key,
		UserID:             userID,
		ServiceID:          config.ServiceName,
		RequestPath:        c.Request.URL.Path,
		RequestMethod:      c.Request.Method,
		RequestFingerprint: fingerprint,
		CreatedAt:          now,
		ExpiresAt:          now.Add(config.RetentionPeriod),
	})
	if err != nil {
		logger.Error("Idempotency storage unavailable", "error", err)
		middleware.AbortWithAppError(c, errors.ErrServiceUnavailable("idempotency storage"))
		return
	}

	if stored.RequestFingerprint != fingerprint || stored.RequestPath != c.Request.URL.Path {
		logger.Warn("Idempotency key reused with different request")
		middleware.AbortWithAppError(c, errors.ErrUnprocessable(
			"request differs from the original request sent with this Idempotency-Key"))
		return
	}

	if stored.IsCompleted() {
		logger.Info("Replaying idempotent response", "statusCode", stored.ResponseCode)
		if config.Metrics != nil {
			config.Metrics.RecordIdempotentReplay()
		}
		for k, v := range stored.ResponseHeaders {
			c.Header(k, v)
		}
		c.Header(HeaderReplayed, "true")
		c.Data(stored.ResponseCode, "application/json; charset=utf-8", stored.ResponseBody)
		c.Abort()
		return
	}

	if !inserted && stored.LockedAt != nil {
		if age := now.Sub(*stored.LockedAt); age >= 0 && age < config.LockTimeout {
			middleware.AbortWithAppError(c, errors.ErrConflict("a request with this Idempotency-Key is already in progress"))
			return
		}
		logger.Info("Taking over stale idempotency lock")
	}

	keyID := stored.ID.Hex()
	writer := &responseWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
	c.Writer = writer

	c.Next()

	status := writer.Status()
	if status >= http.StatusInternalServerError {
		if err := config.Repository.ReleaseLock(ctx, keyID); err != nil {
			logger.Warn("Failed to release idempotency lock", "error", err)
		}
		return
	}

	responseBody := writer.body.Bytes()
	if len(responseBody) > config.MaxResponseSize {
		responseBody = []byte(fmt.Sprintf(`{"code":"RESPONSE_TOO_LARGE","size":%d}`, len(responseBody)))
	}

	headers := make(map[string]string)
	for k, v := range writer.Header() {
		if len(v) > 0 && k != "Content-Length" {
			headers[k] = v[0]
		}
	}

	if err := config.Repository.StoreResponse(ctx, keyID, status, responseBody, headers); err != nil {
		logger.Error("Failed to store idempotent response", "error", err)
	}
}
