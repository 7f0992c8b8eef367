package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wms-platform/purchasing-service/pkg/errors"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// PageRequest represents pagination request parameters
type PageRequest struct {
	Page  int64 `json:"page"`
	Limit int64 `json:"limit"`
}

func DefaultPageRequest() PageRequest {
	return PageRequest{Page: DefaultPage, Limit: DefaultLimit}
}

// ParsePagination reads page and limit. Unlike a lenient clamp, values that
// are not positive integers or exceed MaxLimit are rejected.
func ParsePagination(c *gin.Context) (PageRequest, *errors.AppError) {
	p := DefaultPageRequest()

	if raw, ok := c.GetQuery("page"); ok {
		page, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || page < 1 {
			return p, errors.ErrValidation("page must be a positive integer").WithDetail("page", raw)
		}
		p.Page = page
	}

	if raw, ok := c.GetQuery("limit"); ok {
		limit, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || limit < 1 || limit > MaxLimit {
			return p, errors.ErrValidation("limit must be an integer between 1 and "+strconv.Itoa(MaxLimit)).WithDetail("limit", raw)
		}
		p.Limit = limit
	}

	return p, nil
}

func (p PageRequest) Offset() int64 {
	return (p.Page - 1) * p.Limit
}

// Pages is the number of pages needed for total items, never less than one.
func (p PageRequest) Pages(total int64) int64 {
	if p.Limit <= 0 {
		return 1
	}
	pages := (total + p.Limit - 1) / p.Limit
	if pages < 1 {
		return 1
	}
	return pages
}

// SortOrder represents sort direction
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SortRequest represents sorting parameters
type SortRequest struct {
	Field string    `json:"sortBy"`
	Order SortOrder `json:"order"`
}

// ParseSort accepts only fields from allowed, falling back to defaultField.
func ParseSort(c *gin.Context, defaultField string, allowed map[string]bool) SortRequest {
	field := c.DefaultQuery("sortBy", defaultField)
	if !allowed[field] {
		field = defaultField
	}

	order := SortOrder(c.DefaultQuery("order", string(SortDesc)))
	if order != SortAsc && order != SortDesc {
		order = SortDesc
	}

	return SortRequest{Field: field, Order: order}
}

// MongoDirection returns 1 for ascending and -1 for descending.
func (s SortRequest) MongoDirection() int {
	if s.Order == SortAsc {
		return 1
	}
	return -1
}
