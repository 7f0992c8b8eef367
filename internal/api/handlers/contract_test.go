package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/purchasing-service/api"
	"github.com/wms-platform/purchasing-service/internal/application"
	"github.com/wms-platform/purchasing-service/internal/domain"
	"github.com/wms-platform/purchasing-service/pkg/contracts/openapi"
	apperrors "github.com/wms-platform/purchasing-service/pkg/errors"
	"github.com/wms-platform/purchasing-service/pkg/middleware"
)

func contractOrder() *application.OrderDTO {
	at := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	expires := at.AddDate(0, 6, 0)
	creator := "staff-1"
	from := string(domain.StatusNotAssigned)

	return &application.OrderDTO{
		ID:          "65f2a0c0e4b0a1b2c3d4e5f6",
		OrderNumber: "ORD-20250314-0001",
		SupplierID:  "65f2a0c0e4b0a1b2c3d4e5aa",
		Supplier:    &application.SupplierSummary{ID: "65f2a0c0e4b0a1b2c3d4e5aa", Name: "Moulin Sud"},
		StaffID:     "staff-2",
		CreatedBy:   &creator,
		Status:      string(domain.StatusAssigned),
		ProductOrders: []application.LineItemDTO{{
			ID:             "3f0b6b7e-2a55-4c2e-8f7e-0c1d2e3f4a5b",
			ProductID:      "65f2a0c0e4b0a1b2c3d4e5bb",
			Product:        &application.ProductSummary{ID: "65f2a0c0e4b0a1b2c3d4e5bb", Name: "Flour", Unit: domain.UnitKilogram},
			Quantity:       25,
			UnitCost:       1.2,
			LineTotal:      30,
			ExpirationDate: &expires,
			RemainingQte:   25,
		}},
		TotalAmount:  30,
		AssignedDate: &at,
		StatusHistory: []application.StatusHistoryDTO{
			{To: from, At: at, By: &creator},
			{From: &from, To: string(domain.StatusAssigned), At: at, By: nil},
		},
		Version:   1,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestHandlersHonourOpenAPIContract(t *testing.T) {
	validator, err := openapi.NewValidator(api.OpenAPI)
	require.NoError(t, err)

	bill := &formFile{name: "bill.pdf", contentType: "application/pdf", data: []byte("%PDF")}

	tests := []struct {
		name      string
		req       func(t *testing.T) *http.Request
		workflow  *fakeWorkflow
		status    int
		operation string
		// multipart bodies are only checked on the response side
		skipRequest bool
	}{
		{
			name: "create json",
			req: func(*testing.T) *http.Request {
				return jsonRequest(http.MethodPost, "/api/v1/orders", map[string]interface{}{
					"supplierId": "65f2a0c0e4b0a1b2c3d4e5aa",
					"items":      []map[string]interface{}{{"productId": "65f2a0c0e4b0a1b2c3d4e5bb", "quantity": 25, "unitCost": 1.2}},
				})
			},
			status:    http.StatusCreated,
			operation: "createOrder",
		},
		{
			name: "create multipart",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, http.MethodPost, "/api/v1/orders", map[string]string{
					"supplierId": "65f2a0c0e4b0a1b2c3d4e5aa",
					"items":      `[{"productId":"65f2a0c0e4b0a1b2c3d4e5bb","quantity":25,"unitCost":1.2}]`,
				}, bill)
			},
			status:      http.StatusCreated,
			operation:   "createOrder",
			skipRequest: true,
		},
		{
			name: "create invalid",
			req: func(*testing.T) *http.Request {
				return jsonRequest(http.MethodPost, "/api/v1/orders", map[string]string{"notes": "x"})
			},
			status:    http.StatusBadRequest,
			operation: "createOrder",
			// the request is invalid on purpose
			skipRequest: true,
		},
		{
			name: "list",
			req: func(*testing.T) *http.Request {
				return httptest.NewRequest(http.MethodGet, "/api/v1/orders?page=2&limit=5&status=paid&supplierIds=a&supplierIds=b", nil)
			},
			status:    http.StatusOK,
			operation: "listOrders",
		},
		{
			name: "stats",
			req: func(*testing.T) *http.Request {
				return httptest.NewRequest(http.MethodGet, "/api/v1/orders/stats", nil)
			},
			status:    http.StatusOK,
			operation: "getOrderStats",
		},
		{
			name: "analytics",
			req: func(*testing.T) *http.Request {
				return httptest.NewRequest(http.MethodGet, "/api/v1/orders/analytics?period=month", nil)
			},
			status:    http.StatusOK,
			operation: "getOrderAnalytics",
		},
		{
			name:      "get",
			req:       func(*testing.T) *http.Request { return httptest.NewRequest(http.MethodGet, "/api/v1/orders/o-1", nil) },
			status:    http.StatusOK,
			operation: "getOrder",
		},
		{
			name:      "get missing",
			req:       func(*testing.T) *http.Request { return httptest.NewRequest(http.MethodGet, "/api/v1/orders/o-1", nil) },
			workflow:  &fakeWorkflow{err: apperrors.ErrNotFound("Purchase order")},
			status:    http.StatusNotFound,
			operation: "getOrder",
		},
		{
			name: "update",
			req: func(*testing.T) *http.Request {
				return jsonRequest(http.MethodPut, "/api/v1/orders/o-1", map[string]string{"status": "assigned", "staffId": "staff-2"})
			},
			status:    http.StatusOK,
			operation: "updateOrder",
		},
		{
			name: "assign",
			req: func(*testing.T) *http.Request {
				return jsonRequest(http.MethodPost, "/api/v1/orders/o-1/assign", map[string]string{"staffId": "staff-2"})
			},
			status:    http.StatusOK,
			operation: "assignOrder",
		},
		{
			name: "review",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, http.MethodPost, "/api/v1/orders/o-1/review", map[string]string{"itemsUpdates": `[{"id":"li-1","quantity":3}]`}, bill)
			},
			status:      http.StatusOK,
			operation:   "submitOrderForReview",
			skipRequest: true,
		},
		{
			name: "verify conflict",
			req: func(*testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/v1/orders/o-1/verify", nil)
			},
			workflow:  &fakeWorkflow{err: apperrors.ErrConcurrentModification("Purchase order")},
			status:    http.StatusConflict,
			operation: "verifyOrder",
		},
		{
			name: "pay",
			req: func(*testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/v1/orders/o-1/pay", nil)
			},
			status:    http.StatusOK,
			operation: "payOrder",
		},
		{
			name: "cancel",
			req: func(*testing.T) *http.Request {
				return jsonRequest(http.MethodPost, "/api/v1/orders/o-1/cancel", map[string]string{"canceledDate": "2025-03-10T08:00:00Z"})
			},
			status:    http.StatusOK,
			operation: "cancelOrder",
		},
		{
			name: "cancel rejected",
			req: func(*testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/v1/orders/o-1/cancel", nil)
			},
			workflow:  &fakeWorkflow{err: apperrors.ErrInvalidTransition("Cannot cancel a verified or paid order")},
			status:    http.StatusBadRequest,
			operation: "cancelOrder",
		},
	}

	covered := map[string]bool{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := tt.workflow
			if wf == nil {
				wf = &fakeWorkflow{}
			}
			wf.order = contractOrder()

			req := tt.req(t)
			req.Header.Set(middleware.HeaderUserID, "staff-1")

			op, err := validator.OperationID(req)
			require.NoError(t, err)
			assert.Equal(t, tt.operation, op)
			covered[op] = true

			if !tt.skipRequest {
				require.NoError(t, validator.ValidateRequest(context.Background(), req))
			}

			w := do(newRouter(wf, &fakeQueries{}), req)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			assert.NoError(t, validator.ValidateResponse(context.Background(), req, w.Code, w.Header(), w.Body.Bytes()))
		})
	}

	for _, op := range validator.OperationIDs() {
		assert.True(t, covered[op], "operation %s has no contract case", op)
	}
}

func TestMissingActorMatchesErrorContract(t *testing.T) {
	validator, err := openapi.NewValidator(api.OpenAPI)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/o-1", nil)
	assert.Error(t, validator.ValidateRequest(context.Background(), req))

	w := httptest.NewRecorder()
	newRouter(&fakeWorkflow{}, &fakeQueries{}).ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NoError(t, validator.ValidateResponse(context.Background(), req, w.Code, w.Header(), w.Body.Bytes()))
}

func routerWithContract(v *openapi.Validator, wf *fakeWorkflow, q *fakeQueries) *gin.Engine {
	router := gin.New()
	logger := testLogger()
	middleware.Setup(router, middleware.DefaultConfig("purchasing-service", logger))

	v1 := router.Group("/api/v1", middleware.ActorAuth(nil), openapi.RequestValidation(v))
	NewOrderHandler(wf, q, logger, 1024).RegisterRoutes(v1, nil)
	return router
}

func TestRequestValidationMiddleware(t *testing.T) {
	validator, err := openapi.NewValidator(api.OpenAPI)
	require.NoError(t, err)

	q := &fakeQueries{}
	w := do(routerWithContract(validator, &fakeWorkflow{}, q), httptest.NewRequest(http.MethodGet, "/api/v1/orders?status=lost", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, apperrors.CodeValidationError, resp.Code)
	assert.Contains(t, resp.Details, "contract")
	assert.Nil(t, q.list)

	w = do(routerWithContract(validator, &fakeWorkflow{}, q), httptest.NewRequest(http.MethodGet, "/api/v1/orders?status=paid", nil))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, q.list)
}
