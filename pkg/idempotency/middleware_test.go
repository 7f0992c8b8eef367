package idempotency

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/wms-platform/purchasing-service/pkg/logging"
	"github.com/wms-platform/purchasing-service/pkg/middleware"
)

// memoryRepo keeps keys in a map with the same semantics as the Mongo upsert.
type memoryRepo struct {
	mu       sync.Mutex
	keys     map[string]*Key
	released int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{keys: make(map[string]*Key)}
}

func (r *memoryRepo) AcquireLock(_ context.Context, key *Key) (*Key, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	scope := key.ServiceID + "|" + key.UserID + "|" + key.Key
	now := time.Now().UTC()
	if existing, ok := r.keys[scope]; ok {
		copied := *existing
		existing.LockedAt = &now
		return &copied, false, nil
	}
	key.ID = primitive.NewObjectID()
	key.LockedAt = &now
	stored := *key
	r.keys[scope] = &stored
	return key, true, nil
}

func (r *memoryRepo) byID(id string) *Key {
	for _, k := range r.keys {
		if k.ID.Hex() == id {
			return k
		}
	}
	return nil
}

func (r *memoryRepo) ReleaseLock(_ context.Context, keyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released++
	if k := r.byID(keyID); k != nil {
		k.LockedAt = nil
	}
	return nil
}

func (r *memoryRepo) StoreResponse(_ context.Context, keyID string, code int, body []byte, headers map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.byID(keyID)
	if k == nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.ResponseCode = code
	k.ResponseBody = append([]byte(nil), body...)
	k.ResponseHeaders = headers
	k.CompletedAt = &now
	k.LockedAt = nil
	return nil
}

func (r *memoryRepo) EnsureIndexes(context.Context) error { return nil }

type replayCounter struct{ n int }

func (r *replayCounter) RecordIdempotentReplay() { r.n++ }

func setup(repo KeyRepository, handler gin.HandlerFunc) (*gin.Engine, *replayCounter) {
	gin.SetMode(gin.TestMode)
	logger := logging.New(&logging.Config{Level: logging.LevelError, Output: io.Discard})
	counter := &replayCounter{}
	cfg := DefaultConfig("purchasing-service", repo, logger)
	cfg.Metrics = counter
	cfg.UserIDExtractor = func(c *gin.Context) string { return c.GetHeader("X-User-ID") }

	r := gin.New()
	r.POST("/orders", Middleware(cfg), handler)
	return r, counter
}

func post(r *gin.Engine, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "u1")
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddlewareWithoutKeyPassesThrough(t *testing.T) {
	calls := 0
	r, _ := setup(newMemoryRepo(), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"n": calls})
	})

	post(r, "", `{}`)
	post(r, "", `{}`)
	assert.Equal(t, 2, calls)
}

func TestMiddlewareReplaysCompletedResponse(t *testing.T) {
	calls := 0
	r, counter := setup(newMemoryRepo(), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"orderNumber": "ORD-20250101-0001"})
	})

	first := post(r, "create-1", `{"supplierId":"s1"}`)
	second := post(r, "create-1", `{"supplierId":"s1"}`)

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(HeaderReplayed))
	assert.Equal(t, 1, counter.n)
}

func TestMiddlewareRejectsDifferentBody(t *testing.T) {
	r, _ := setup(newMemoryRepo(), func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{})
	})

	post(r, "create-2", `{"supplierId":"s1"}`)
	w := post(r, "create-2", `{"supplierId":"s2"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestMiddlewareRejectsInFlightDuplicate(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Now().UTC()
	repo.keys["purchasing-service|u1|busy"] = &Key{
		ID:                 primitive.NewObjectID(),
		Key:                "busy",
		UserID:             "u1",
		ServiceID:          "purchasing-service",
		RequestPath:        "/orders",
		RequestFingerprint: Fingerprint([]byte(`{}`)),
		LockedAt:           &now,
	}
	r, _ := setup(repo, func(c *gin.Context) { c.Status(http.StatusCreated) })

	w := post(r, "busy", `{}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMiddlewareReleasesKeyOnServerError(t *testing.T) {
	repo := newMemoryRepo()
	fail := true
	r, _ := setup(repo, func(c *gin.Context) {
		if fail {
			c.JSON(http.StatusInternalServerError, gin.H{})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})

	w := post(r, "retry-me", `{}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, repo.released)

	fail = false
	w = post(r, "retry-me", `{}`)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("abc-123_X", DefaultMaxKeyLength))
	assert.ErrorIs(t, ValidateKey("has space", DefaultMaxKeyLength), ErrKeyInvalid)
	assert.ErrorIs(t, ValidateKey("abcdef", 3), ErrKeyTooLong)
}

func TestMiddlewareRejectsMalformedKey(t *testing.T) {
	r, _ := setup(newMemoryRepo(), func(c *gin.Context) { c.Status(http.StatusCreated) })
	w := post(r, "bad key!", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMiddlewareScopesKeysPerActor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logging.New(&logging.Config{Level: logging.LevelError, Output: io.Discard})
	calls := 0

	r := gin.New()
	r.POST("/orders", middleware.ActorAuth(nil), Middleware(DefaultConfig("purchasing-service", newMemoryRepo(), logger)),
		func(c *gin.Context) {
			calls++
			c.JSON(http.StatusCreated, gin.H{"createdBy": ActorUserID(c)})
		})

	send := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(`{"supplierId":"s1"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.HeaderUserID, user)
		req.Header.Set(HeaderIdempotencyKey, "shared-key")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	alice := send("alice")
	bob := send("bob")

	assert.Equal(t, 2, calls)
	assert.Equal(t, http.StatusCreated, bob.Code)
	assert.Empty(t, bob.Header().Get(HeaderReplayed))
	assert.JSONEq(t, `{"createdBy":"alice"}`, alice.Body.String())
	assert.JSONEq(t, `{"createdBy":"bob"}`, bob.Body.String())

	again := send("alice")
	assert.Equal(t, "true", again.Header().Get(HeaderReplayed))
	assert.JSONEq(t, `{"createdBy":"alice"}`, again.Body.String())
}

func multipartBody(t *testing.T, boundary, bill string) (string, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.SetBoundary(boundary))
	require.NoError(t, mw.WriteField("supplierId", "s1"))
	require.NoError(t, mw.WriteField("productOrders", `[{"productId":"p1","quantity":2,"unitCost":3}]`))
	fw, err := mw.CreateFormFile("bon", "bill.pdf")
	require.NoError(t, err)
	_, err = fw.Write([]byte(bill))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return mw.FormDataContentType(), &buf
}

func TestMiddlewareReplaysMultipartRetryWithNewBoundary(t *testing.T) {
	calls := 0
	r, _ := setup(newMemoryRepo(), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"n": calls})
	})

	send := func(boundary, bill string) *httptest.ResponseRecorder {
		contentType, body := multipartBody(t, boundary, bill)
		req := httptest.NewRequest(http.MethodPost, "/orders", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("X-User-ID", "u1")
		req.Header.Set(HeaderIdempotencyKey, "upload-1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	first := send("boundaryAAAA", "%PDF-1.4 bill")
	require.Equal(t, http.StatusCreated, first.Code)

	retry := send("boundaryBBBB", "%PDF-1.4 bill")
	assert.Equal(t, http.StatusCreated, retry.Code)
	assert.Equal(t, "true", retry.Header().Get(HeaderReplayed))
	assert.Equal(t, 1, calls)

	changed := send("boundaryCCCC", "%PDF-1.4 another bill")
	assert.Equal(t, http.StatusUnprocessableEntity, changed.Code)
}

func TestRequestFingerprint(t *testing.T) {
	typeA, bodyA := multipartBody(t, "boundaryAAAA", "bill")
	typeB, bodyB := multipartBody(t, "boundaryBBBB", "bill")

	assert.NotEqual(t, Fingerprint(bodyA.Bytes()), Fingerprint(bodyB.Bytes()))
	assert.Equal(t, RequestFingerprint(typeA, bodyA.Bytes()), RequestFingerprint(typeB, bodyB.Bytes()))

	payload := []byte(`{"supplierId":"s1"}`)
	assert.Equal(t, Fingerprint(payload), RequestFingerprint("application/json", payload))
	assert.Equal(t, Fingerprint(payload), RequestFingerprint("multipart/form-data", payload), "no boundary")
}
