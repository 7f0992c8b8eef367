package middleware

import (
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/wms-platform/purchasing-service/pkg/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

var orderStatuses = map[string]bool{
	"not assigned":   true,
	"assigned":       true,
	"pending_review": true,
	"verified":       true,
	"paid":           true,
	"canceled":       true,
}

var analyticsPeriods = map[string]bool{
	"week":  true,
	"month": true,
	"year":  true,
}

func validateOrderStatus(fl validator.FieldLevel) bool {
	return orderStatuses[fl.Field().String()]
}

func validateAnalyticsPeriod(fl validator.FieldLevel) bool {
	return analyticsPeriods[fl.Field().String()]
}

func fieldName(fld reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
		if name != "" && name != "-" {
			return name
		}
	}
	return fld.Name
}

func register(v *validator.Validate) {
	_ = v.RegisterValidation("order_status", validateOrderStatus)
	_ = v.RegisterValidation("analytics_period", validateAnalyticsPeriod)
	v.RegisterTagNameFunc(fieldName)
}

// InitValidator registers the purchasing validators on a standalone
// validator and on gin's binding engine. Both read the binding tag.
func InitValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.SetTagName("binding")
		register(validate)

		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			register(v)
		}
	})

	return validate
}

func GetValidator() *validator.Validate {
	return InitValidator()
}

// ValidationErrorFormatter formats validation errors into a map
func ValidationErrorFormatter(err error) map[string]string {
	fields := make(map[string]string)

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrors {
			fields[e.Field()] = formatValidationError(e)
		}
	}

	return fields
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	case "dive":
		return "contains an invalid entry"
	case "order_status":
		return "must be one of: not assigned, assigned, pending_review, verified, paid, canceled"
	case "analytics_period":
		return "must be one of: week, month, year"
	case "oneof":
		return "must be one of: " + e.Param()
	default:
		return "is invalid"
	}
}

func bindError(err error) *errors.AppError {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		return errors.ErrValidationWithFields("validation failed", ValidationErrorFormatter(validationErrors))
	}
	return errors.ErrBadRequest("invalid request: " + err.Error())
}

// BindAndValidate binds a JSON body and validates it
func BindAndValidate(c *gin.Context, obj interface{}) *errors.AppError {
	if err := c.ShouldBindJSON(obj); err != nil {
		return bindError(err)
	}
	return nil
}

// BindFormAndValidate binds a multipart or urlencoded form. Bodies sent as
// JSON are accepted too so the same endpoint serves both encodings.
func BindFormAndValidate(c *gin.Context, obj interface{}) *errors.AppError {
	if err := c.ShouldBind(obj); err != nil {
		return bindError(err)
	}
	return nil
}

// BindQueryAndValidate binds and validates URL query parameters.
func BindQueryAndValidate(c *gin.Context, obj interface{}) *errors.AppError {
	if err := c.ShouldBindQuery(obj); err != nil {
		return bindError(err)
	}
	return nil
}

// ValidateStruct validates a struct using the validator
func ValidateStruct(obj interface{}) *errors.AppError {
	if err := GetValidator().Struct(obj); err != nil {
		return bindError(err)
	}
	return nil
}

func SanitizeString(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}

// InputSanitizer trims query parameters and strips null bytes.
func InputSanitizer() gin.HandlerFunc {
	return func(c *gin.Context) {
		query := c.Request.URL.Query()
		for key, values := range query {
			for i, v := range values {
				values[i] = SanitizeString(v)
			}
			query[key] = values
		}
		c.Request.URL.RawQuery = query.Encode()

		c.Next()
	}
}

var allowedContentTypes = []string{
	binding.MIMEJSON,
	binding.MIMEMultipartPOSTForm,
	binding.MIMEPOSTForm,
}

// ContentType rejects bodies that are neither JSON nor form encoded.
func ContentType() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if c.Request.ContentLength > 0 && !allowedContentType(c.ContentType()) {
				AbortWithAppError(c, errors.NewAppError(
					"INVALID_CONTENT_TYPE",
					"Content-Type must be application/json or multipart/form-data",
					http.StatusUnsupportedMediaType,
				))
				return
			}
		}
		c.Next()
	}
}

func allowedContentType(ct string) bool {
	for _, allowed := range allowedContentTypes {
		if ct == allowed {
			return true
		}
	}
	return false
}
