package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wms-platform/purchasing-service/internal/application"
	"github.com/wms-platform/purchasing-service/internal/domain"
	"github.com/wms-platform/purchasing-service/pkg/api"
	apperrors "github.com/wms-platform/purchasing-service/pkg/errors"
	"github.com/wms-platform/purchasing-service/pkg/logging"
	"github.com/wms-platform/purchasing-service/pkg/middleware"
)

const (
	fileField             = "file"
	DefaultMaxUploadBytes = 10 << 20
)

// OrderWorkflow is the write side used by the handler.
type OrderWorkflow interface {
	CreateOrder(ctx context.Context, cmd application.CreateOrderCommand) (*application.OrderDTO, error)
	AssignOrder(ctx context.Context, cmd application.AssignOrderCommand) (*application.OrderDTO, error)
	SubmitForReview(ctx context.Context, cmd application.SubmitForReviewCommand) (*application.OrderDTO, error)
	VerifyOrder(ctx context.Context, orderID string) (*application.OrderDTO, error)
	MarkPaid(ctx context.Context, orderID string) (*application.OrderDTO, error)
	CancelOrder(ctx context.Context, cmd application.CancelOrderCommand) (*application.OrderDTO, error)
	UpdateOrder(ctx context.Context, cmd application.UpdateOrderCommand) (*application.OrderDTO, error)
	GetOrder(ctx context.Context, orderID string) (*application.OrderDTO, error)
}

// OrderQueries is the read side used by the handler.
type OrderQueries interface {
	ListOrders(ctx context.Context, query application.ListOrdersQuery) (*application.OrderListDTO, error)
	GetStats(ctx context.Context) (*domain.DashboardStats, error)
	GetAnalytics(ctx context.Context, query application.AnalyticsQuery) (*domain.Analytics, error)
}

// OrderHandler handles HTTP requests for purchase orders
type OrderHandler struct {
	workflow       OrderWorkflow
	queries        OrderQueries
	logger         *logging.Logger
	maxUploadBytes int64
}

func NewOrderHandler(workflow OrderWorkflow, queries OrderQueries, logger *logging.Logger, maxUploadBytes int64) *OrderHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &OrderHandler{
		workflow:       workflow,
		queries:        queries,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterRoutes mounts the order routes. createGuard, when set, runs before
// order creation (the idempotency middleware).
func (h *OrderHandler) RegisterRoutes(rg *gin.RouterGroup, createGuard gin.HandlerFunc) {
	orders := rg.Group("/orders")

	create := []gin.HandlerFunc{h.CreateOrder}
	if createGuard != nil {
		create = append([]gin.HandlerFunc{createGuard}, create...)
	}
	orders.POST("", create...)
	orders.GET("", h.ListOrders)
	orders.GET("/stats", h.GetStats)
	orders.GET("/analytics", h.GetAnalytics)
	orders.GET("/:id", h.GetOrder)
	orders.PUT("/:id", h.UpdateOrder)
	orders.POST("/:id/assign", h.AssignOrder)
	orders.POST("/:id/review", h.SubmitForReview)
	orders.POST("/:id/verify", h.VerifyOrder)
	orders.POST("/:id/pay", h.MarkPaid)
	orders.POST("/:id/cancel", h.CancelOrder)
}

func (h *OrderHandler) respondError(c *gin.Context, err error) {
	responder := middleware.NewErrorResponder(c, h.logger)
	if appErr, ok := apperrors.AsAppError(err); ok {
		responder.RespondWithAppError(appErr)
		return
	}
	responder.RespondInternalError(err)
}

func (h *OrderHandler) respondOrder(c *gin.Context, status int, order *application.OrderDTO, err error) {
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(status, gin.H{"data": order})
}

func orderID(c *gin.Context) string {
	id := c.Param("id")
	middleware.AddSpanAttributes(c, attribute.String("order.id", id))
	return id
}

func isMultipart(c *gin.Context) bool {
	return c.ContentType() == binding.MIMEMultipartPOSTForm
}

// readFile returns the uploaded bill, or nil when the request has none.
func (h *OrderHandler) readFile(c *gin.Context) (*application.FileUpload, *apperrors.AppError) {
	if !isMultipart(c) {
		return nil, nil
	}
	header, err := c.FormFile(fileField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, apperrors.ErrBadRequest("invalid multipart body: " + err.Error())
	}
	if header.Size > h.maxUploadBytes {
		return nil, apperrors.ErrValidation(fmt.Sprintf("file exceeds %d bytes", h.maxUploadBytes)).WithDetail("field", fileField)
	}

	f, err := header.Open()
	if err != nil {
		return nil, apperrors.ErrBadRequest("cannot read uploaded file")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes))
	if err != nil {
		return nil, apperrors.ErrBadRequest("cannot read uploaded file")
	}
	return &application.FileUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// parseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func parseDate(field, raw string) (*time.Time, *apperrors.AppError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, apperrors.ErrValidation(field+" must be a date (YYYY-MM-DD or RFC 3339)").WithDetail("field", field)
}

// decodeJSONField decodes a JSON value that clients may also send as a
// JSON-encoded string, as multipart forms do.
func decodeJSONField(field string, raw []byte, out interface{}) *apperrors.AppError {
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return apperrors.ErrValidation(field+" is not valid JSON").WithDetail("field", field)
		}
		raw = []byte(inner)
		if strings.TrimSpace(inner) == "" {
			return nil
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperrors.ErrValidation(field+" must be a JSON array").WithDetail("field", field)
	}
	return nil
}

// CreateOrder handles POST /orders with a JSON body or a multipart form
// whose items field holds the JSON array.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var cmd application.CreateOrderCommand

	if isMultipart(c) {
		if appErr := h.bindCreateForm(c, &cmd); appErr != nil {
			h.respondError(c, appErr)
			return
		}
	} else if appErr := middleware.BindAndValidate(c, &cmd); appErr != nil {
		h.respondError(c, appErr)
		return
	}

	middleware.AddSpanAttributes(c,
		attribute.String("supplier.id", cmd.SupplierID),
		attribute.Int("order.items", len(cmd.Items)),
	)

	order, err := h.workflow.CreateOrder(c.Request.Context(), cmd)
	h.respondOrder(c, http.StatusCreated, order, err)
}

func (h *OrderHandler) bindCreateForm(c *gin.Context, cmd *application.CreateOrderCommand) *apperrors.AppError {
	cmd.SupplierID = c.PostForm("supplierId")
	cmd.Notes = c.PostForm("notes")
	if appErr := decodeJSONField("items", []byte(c.PostForm("items")), &cmd.Items); appErr != nil {
		return appErr
	}
	expected, appErr := parseDate("expectedDate", c.PostForm("expectedDate"))
	if appErr != nil {
		return appErr
	}
	cmd.ExpectedDate = expected

	file, appErr := h.readFile(c)
	if appErr != nil {
		return appErr
	}
	cmd.File = file
	return middleware.ValidateStruct(cmd)
}

// ListOrders handles GET /orders
func (h *OrderHandler) ListOrders(c *gin.Context) {
	page, appErr := api.ParsePagination(c)
	if appErr != nil {
		h.respondError(c, appErr)
		return
	}
	sort := api.ParseSort(c, domain.DefaultSort().Field, domain.SortableFields)

	query := application.ListOrdersQuery{
		OrderNumber: c.Query("orderNumber"),
		StaffID:     c.Query("staffId"),
		SortBy:      sort.Field,
		Ascending:   sort.Order == api.SortAsc,
		Page:        page.Page,
		PageSize:    page.Limit,
	}
	if status, ok := c.GetQuery("status"); ok && status != "" {
		query.Status = &status
	}
	for _, v := range c.QueryArray("supplierIds") {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				query.SupplierIDs = append(query.SupplierIDs, id)
			}
		}
	}

	result, err := h.queries.ListOrders(c.Request.Context(), query)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

// GetStats handles GET /orders/stats
func (h *OrderHandler) GetStats(c *gin.Context) {
	stats, err := h.queries.GetStats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// GetAnalytics handles GET /orders/analytics. The period defaults to week.
func (h *OrderHandler) GetAnalytics(c *gin.Context) {
	period := c.DefaultQuery("period", string(domain.PeriodWeek))
	analytics, err := h.queries.GetAnalytics(c.Request.Context(), application.AnalyticsQuery{Period: period})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": analytics})
}

// GetOrder handles GET /orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.workflow.GetOrder(c.Request.Context(), orderID(c))
	h.respondOrder(c, http.StatusOK, order, err)
}

// AssignOrder handles POST /orders/:id/assign
func (h *OrderHandler) AssignOrder(c *gin.Context) {
	cmd := application.AssignOrderCommand{OrderID: orderID(c)}
	if appErr := middleware.BindFormAndValidate(c, &cmd); appErr != nil {
		h.respondError(c, appErr)
		return
	}
	order, err := h.workflow.AssignOrder(c.Request.Context(), cmd)
	h.respondOrder(c, http.StatusOK, order, err)
}

type reviewBody struct {
	ItemsUpdates json.RawMessage     `json:"itemsUpdates"`
	TotalAmount  *application.Amount `json:"totalAmount"`
}

// SubmitForReview handles POST /orders/:id/review. The bill arrives as the
// multipart file; itemsUpdates is a JSON array, possibly string-encoded.
func (h *OrderHandler) SubmitForReview(c *gin.Context) {
	cmd := application.SubmitForReviewCommand{OrderID: orderID(c)}

	var rawUpdates []byte
	if isMultipart(c) {
		rawUpdates = []byte(c.PostForm("itemsUpdates"))
		if total := strings.TrimSpace(c.PostForm("totalAmount")); total != "" {
			amount := application.Amount(total)
			cmd.TotalAmount = &amount
		}
		file, appErr := h.readFile(c)
		if appErr != nil {
			h.respondError(c, appErr)
			return
		}
		cmd.File = file
	} else if hasBody(c) {
		var body reviewBody
		if err := c.ShouldBindJSON(&body); err != nil {
			h.respondError(c, apperrors.ErrBadRequest("invalid request: "+err.Error()))
			return
		}
		rawUpdates = body.ItemsUpdates
		cmd.TotalAmount = body.TotalAmount
	}

	if appErr := decodeJSONField("itemsUpdates", rawUpdates, &cmd.ItemUpdates); appErr != nil {
		h.respondError(c, appErr)
		return
	}
	for i := range cmd.ItemUpdates {
		if appErr := middleware.ValidateStruct(&cmd.ItemUpdates[i]); appErr != nil {
			h.respondError(c, appErr)
			return
		}
	}

	order, err := h.workflow.SubmitForReview(c.Request.Context(), cmd)
	h.respondOrder(c, http.StatusOK, order, err)
}

// VerifyOrder handles POST /orders/:id/verify
func (h *OrderHandler) VerifyOrder(c *gin.Context) {
	order, err := h.workflow.VerifyOrder(c.Request.Context(), orderID(c))
	h.respondOrder(c, http.StatusOK, order, err)
}

// MarkPaid handles POST /orders/:id/pay
func (h *OrderHandler) MarkPaid(c *gin.Context) {
	order, err := h.workflow.MarkPaid(c.Request.Context(), orderID(c))
	h.respondOrder(c, http.StatusOK, order, err)
}

// CancelOrder handles POST /orders/:id/cancel with an optional canceledDate.
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	cmd := application.CancelOrderCommand{OrderID: orderID(c)}
	if hasBody(c) {
		if appErr := middleware.BindFormAndValidate(c, &cmd); appErr != nil {
			h.respondError(c, appErr)
			return
		}
	}
	order, err := h.workflow.CancelOrder(c.Request.Context(), cmd)
	h.respondOrder(c, http.StatusOK, order, err)
}

// UpdateOrder handles PUT /orders/:id
func (h *OrderHandler) UpdateOrder(c *gin.Context) {
	cmd := application.UpdateOrderCommand{OrderID: orderID(c)}
	if hasBody(c) {
		if appErr := middleware.BindFormAndValidate(c, &cmd); appErr != nil {
			h.respondError(c, appErr)
			return
		}
	}
	file, appErr := h.readFile(c)
	if appErr != nil {
		h.respondError(c, appErr)
		return
	}
	cmd.File = file

	order, err := h.workflow.UpdateOrder(c.Request.Context(), cmd)
	h.respondOrder(c, http.StatusOK, order, err)
}

// hasBody reports whether the request carries a body. Chunked requests have
// no Content-Length, so the first byte is peeked.
func hasBody(c *gin.Context) bool {
	switch {
	case c.Request.ContentLength > 0:
		return true
	case c.Request.ContentLength == 0, c.Request.Body == nil, c.Request.Body == http.NoBody:
		return false
	}
	r := bufio.NewReader(c.Request.Body)
	if _, err := r.Peek(1); err != nil {
		return false
	}
	c.Request.Body = struct {
		io.Reader
		io.Closer
	}{r, c.Request.Body}
	return true
}
