package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/stwalsh4118/peritaje/internal/middleware"
)

// Error code constants for standardized error responses
const (
	ErrNotFound           = "NOT_FOUND"
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrValidation         = "VALIDATION_ERROR"
	ErrServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// ErrorResponse is the top-level error response structure.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error information.
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

func respond(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: middleware.GetRequestID(c),
		},
	})
}

func warn(c *gin.Context, msg string, fields map[string]interface{}) {
	if log := middleware.GetLogger(c); log != nil {
		fields["request_id"] = middleware.GetRequestID(c)
		fields["path"] = c.Request.URL.Path
		log.Warn(msg, fields)
	}
}

// NotFound returns a 404 Not Found error response.
func NotFound(c *gin.Context, message string) {
	warn(c, "Resource not found", map[string]interface{}{"message": message})
	respond(c, http.StatusNotFound, ErrNotFound, message, nil)
}

// BadRequest returns a 400 Bad Request error response with optional details.
func BadRequest(c *gin.Context, message string, details map[string]interface{}) {
	fields := map[string]interface{}{"message": message}
	if details != nil {
		fields["details"] = details
	}
	warn(c, "Bad request", fields)
	respond(c, http.StatusBadRequest, ErrBadRequest, message, details)
}

// Unauthorized returns a 401 response.
func Unauthorized(c *gin.Context, message string) {
	warn(c, "Unauthorized request", map[string]interface{}{"message": message})
	respond(c, http.StatusUnauthorized, ErrUnauthorized, message, nil)
}

// Forbidden returns a 403 response for resources owned by someone else.
func Forbidden(c *gin.Context, message string) {
	warn(c, "Forbidden request", map[string]interface{}{"message": message})
	respond(c, http.StatusForbidden, ErrForbidden, message, nil)
}

// InternalServerError returns a 500 response. err is logged but never
// exposed to the client.
func InternalServerError(c *gin.Context, message string, err error) {
	if log := middleware.GetLogger(c); log != nil {
		log.Error("Internal server error", err, map[string]interface{}{
			"message":    message,
			"request_id": middleware.GetRequestID(c),
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
		})
	}
	respond(c, http.StatusInternalServerError, ErrInternalServer, message, nil)
}

// ServiceUnavailable returns a 503 response, used when a dependency is down.
func ServiceUnavailable(c *gin.Context, message string, err error) {
	if log := middleware.GetLogger(c); log != nil {
		log.Error("Dependency unavailable", err, map[string]interface{}{
			"message":    message,
			"request_id": middleware.GetRequestID(c),
			"path":       c.Request.URL.Path,
		})
	}
	respond(c, http.StatusServiceUnavailable, ErrServiceUnavailable, message, nil)
}

// FormValidation returns a 400 response carrying the form error map, keyed
// by top-level field name. Invalid forms are an expected outcome and are
// logged at debug level only.
func FormValidation(c *gin.Context, fieldErrors map[string]string) {
	details := make(map[string]interface{}, len(fieldErrors))
	for field, msg := range fieldErrors {
		details[field] = msg
	}

	if log := middleware.GetLogger(c); log != nil {
		log.Debug("Form validation failed", map[string]interface{}{
			"request_id": middleware.GetRequestID(c),
			"fields":     len(details),
		})
	}

	respond(c, http.StatusBadRequest, ErrValidation, "Revisa los campos marcados", details)
}

// ValidationError returns a 400 response for request DTOs that failed binding.
func ValidationError(c *gin.Context, validationErrors validator.ValidationErrors) {
	details := make(map[string]interface{})
	for _, err := range validationErrors {
		details[err.Field()] = formatValidationError(err)
	}

	warn(c, "Validation error", map[string]interface{}{"fields": details})
	respond(c, http.StatusBadRequest, ErrValidation, "La solicitud contiene campos inválidos", details)
}

// formatValidationError converts a validator.FieldError to a human-readable message.
func formatValidationError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "Este campo es obligatorio"
	case "min":
		return "Valor demasiado corto o pequeño (mínimo: " + err.Param() + ")"
	case "max":
		return "Valor demasiado largo o grande (máximo: " + err.Param() + ")"
	case "gt":
		return "Debe ser mayor que " + err.Param()
	case "gte":
		return "Debe ser mayor o igual que " + err.Param()
	case "lte":
		return "Debe ser menor o igual que " + err.Param()
	case "oneof":
		return "Debe ser uno de: " + err.Param()
	case "uuid", "uuid4":
		return "Debe ser un UUID válido"
	default:
		return "Validación fallida: " + err.Tag()
	}
}
