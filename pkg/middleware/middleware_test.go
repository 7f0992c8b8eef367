package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/purchasing-service/pkg/actor"
	apperrors "github.com/wms-platform/purchasing-service/pkg/errors"
	"github.com/wms-platform/purchasing-service/pkg/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: logging.LevelError, ServiceName: "test", Output: io.Discard})
}

func newRouter() *gin.Engine {
	r := gin.New()
	Setup(r, DefaultConfig("purchasing-service", testLogger()))
	return r
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) APIErrorResponse {
	t.Helper()
	var body APIErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRequestIDPropagatesIntoContext(t *testing.T) {
	r := newRouter()
	var seen any
	r.GET("/x", func(c *gin.Context) {
		seen = c.Request.Context().Value(logging.RequestIDKey)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get(HeaderRequestID))
	assert.Equal(t, "req-42", seen)
	assert.NotEmpty(t, w.Header().Get(HeaderCorrelationID))
}

func TestRecoveryReturnsEnvelope(t *testing.T) {
	r := newRouter()
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, apperrors.CodeInternalError, body.Code)
	assert.Equal(t, "/boom", body.Path)
}

func TestErrorResponderHidesInternalDetail(t *testing.T) {
	r := newRouter()
	r.GET("/fail", func(c *gin.Context) {
		NewErrorResponder(c, testLogger()).RespondWithError(errors.New("mongo: connection refused"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestErrorResponderKeepsAppErrorStatus(t *testing.T) {
	r := newRouter()
	r.GET("/bad", func(c *gin.Context) {
		NewErrorResponder(c, testLogger()).RespondWithError(
			apperrors.ErrInvalidTransition("Cannot cancel a verified or paid order"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bad", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, apperrors.CodeInvalidTransition, body.Code)
	assert.Equal(t, "Cannot cancel a verified or paid order", body.Message)
}

func TestContentType(t *testing.T) {
	r := newRouter()
	r.POST("/orders", func(c *gin.Context) { c.Status(http.StatusCreated) })

	tests := []struct {
		name        string
		contentType string
		want        int
	}{
		{"json", "application/json", http.StatusCreated},
		{"multipart", "multipart/form-data; boundary=xyz", http.StatusCreated},
		{"text", "text/plain", http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader("{}"))
			req.Header.Set("Content-Type", tt.contentType)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

type periodQuery struct {
	Period string `form:"period" binding:"required,analytics_period"`
	Status string `form:"status" binding:"omitempty,order_status"`
}

func TestBindQueryAndValidate(t *testing.T) {
	r := newRouter()
	r.GET("/q", func(c *gin.Context) {
		var q periodQuery
		if appErr := BindQueryAndValidate(c, &q); appErr != nil {
			AbortWithAppError(c, appErr)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/q?period=month&status=pending_review", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/q?period=decade&status=lost", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, apperrors.CodeValidationError, body.Code)
	assert.Contains(t, body.Details, "period")
	assert.Contains(t, body.Details, "status")
}

func TestActorAuth(t *testing.T) {
	r := newRouter()
	var got actor.Actor
	g := r.Group("/", ActorAuth(nil))
	g.GET("/me", func(c *gin.Context) {
		got, _ = actor.FromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})
	g.GET("/admin", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(path, user, role string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if user != "" {
			req.Header.Set(HeaderUserID, user)
		}
		if role != "" {
			req.Header.Set(HeaderUserRole, role)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, call("/me", "", ""))
	assert.Equal(t, http.StatusForbidden, call("/me", "u1", "owner"))
	assert.Equal(t, http.StatusOK, call("/me", "u1", ""))
	assert.Equal(t, actor.Actor{ID: "u1", Role: actor.RoleStaff}, got)
	assert.Equal(t, http.StatusForbidden, call("/admin", "u1", "staff"))
	assert.Equal(t, http.StatusOK, call("/admin", "u2", "admin"))
}

func TestReadinessCheck(t *testing.T) {
	r := newRouter()
	ready := false
	r.GET("/ready", ReadinessCheck("purchasing-service", func(ctx context.Context) error {
		if !ready {
			return errors.New("mongo unreachable")
		}
		return nil
	}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	ready = true
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNoRouteAndNoMethod(t *testing.T) {
	r := newRouter()
	r.GET("/orders", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ROUTE_NOT_FOUND", decodeError(t, w).Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/orders", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", decodeError(t, w).Code)
}
