package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/wms-platform/purchasing-service/pkg/actor"
	"github.com/wms-platform/purchasing-service/pkg/idempotency"
	"github.com/wms-platform/purchasing-service/pkg/logging"
	"github.com/wms-platform/purchasing-service/pkg/metrics"
	"github.com/wms-platform/purchasing-service/pkg/middleware"
)

// scopedKeys mirrors the Mongo key store: one key per service, user and key.
type scopedKeys struct {
	mu   sync.Mutex
	keys map[string]*idempotency.Key
}

func (s *scopedKeys) AcquireLock(_ context.Context, key *idempotency.Key) (*idempotency.Key, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scope := key.ServiceID + "|" + key.UserID + "|" + key.Key
	if existing, ok := s.keys[scope]; ok {
		copied := *existing
		return &copied, false, nil
	}
	key.ID = primitive.NewObjectID()
	stored := *key
	s.keys[scope] = &stored
	return key, true, nil
}

func (s *scopedKeys) ReleaseLock(context.Context, string) error { return nil }

func (s *scopedKeys) StoreResponse(_ context.Context, keyID string, code int, body []byte, headers map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.ID.Hex() == keyID {
			now := time.Now().UTC()
			k.ResponseCode, k.ResponseBody, k.ResponseHeaders, k.CompletedAt = code, body, headers, &now
		}
	}
	return nil
}

func (s *scopedKeys) EnsureIndexes(context.Context) error { return nil }

func TestCreateGuardScopesKeysPerActor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logging.New(&logging.Config{Level: logging.LevelError, Output: io.Discard})
	calls := 0

	r := gin.New()
	v1 := r.Group("/api/v1", middleware.ActorAuth(nil))
	v1.POST("/orders", createGuard(&scopedKeys{keys: map[string]*idempotency.Key{}}, logger, metrics.New(metrics.DefaultConfig(serviceName))),
		func(c *gin.Context) {
			calls++
			a, _ := actor.FromContext(c.Request.Context())
			c.JSON(http.StatusCreated, gin.H{"createdBy": a.ID})
		})

	send := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString(`{"supplierId":"s1"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.HeaderUserID, user)
		req.Header.Set(idempotency.HeaderIdempotencyKey, "same-key")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.JSONEq(t, `{"createdBy":"alice"}`, send("alice").Body.String())

	bob := send("bob")
	assert.Equal(t, http.StatusCreated, bob.Code)
	assert.Empty(t, bob.Header().Get(idempotency.HeaderReplayed))
	assert.JSONEq(t, `{"createdBy":"bob"}`, bob.Body.String())
	assert.Equal(t, 2, calls)

	replay := send("alice")
	assert.Equal(t, "true", replay.Header().Get(idempotency.HeaderReplayed))
	assert.Equal(t, 2, calls)
}
