package handlers

import (
	"errors"
	"net/http"

	"github.com/SAP-F-2025/workshop-progress/internal/auth"
	"github.com/SAP-F-2025/workshop-progress/internal/client"
	"github.com/SAP-F-2025/workshop-progress/internal/services"
	"github.com/SAP-F-2025/workshop-progress/internal/utils"
	"github.com/gin-gonic/gin"
)

// ===== COMMON RESPONSE STRUCTURES =====

// ErrorResponse represents an error response
type ErrorResponse struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// SuccessResponse represents a success response
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ===== BASE HANDLER STRUCT =====

// BaseHandler provides common logging functionality for all handlers
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{
		logger: logger,
	}
}

// LogError logs error details with context information
func (h *BaseHandler) LogError(c *gin.Context, err error, message string, additionalFields ...interface{}) {
	fields := append(h.requestFields(c), additionalFields...)
	utils.GetLoggerFromContext(c, h.logger).LogError(err, message, fields...)
}

func (h *BaseHandler) LogInfo(c *gin.Context, message string, additionalFields ...interface{}) {
	fields := append(h.requestFields(c), additionalFields...)
	utils.GetLoggerFromContext(c, h.logger).Info(message, fields...)
}

func (h *BaseHandler) LogWarn(c *gin.Context, message string, additionalFields ...interface{}) {
	fields := append(h.requestFields(c), additionalFields...)
	utils.GetLoggerFromContext(c, h.logger).Warn(message, fields...)
}

func (h *BaseHandler) requestFields(c *gin.Context) []interface{} {
	return []interface{}{
		"request_id", c.GetHeader("X-Request-ID"),
		"user_id", h.extractUserID(c),
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
	}
}

// Helper method to extract user ID from context
func (h *BaseHandler) extractUserID(c *gin.Context) interface{} {
	if userID, exists := c.Get("user_id"); exists {
		return userID
	}
	return nil
}

// RespondWithError sends a consistent error response and logs it
func (h *BaseHandler) RespondWithError(c *gin.Context, statusCode int, message string, err error, details ...interface{}) {
	errorResp := ErrorResponse{
		Message: message,
	}

	if len(details) > 0 {
		errorResp.Details = details[0]
	}

	if err != nil && statusCode >= http.StatusInternalServerError {
		h.LogError(c, err, message, "status_code", statusCode)
	} else if err != nil {
		h.LogWarn(c, message, "status_code", statusCode, "error", err)
	} else {
		h.LogWarn(c, message, "status_code", statusCode)
	}

	c.AbortWithStatusJSON(statusCode, errorResp)
}

// RespondWithSuccess sends a consistent success response and logs it
func (h *BaseHandler) RespondWithSuccess(c *gin.Context, statusCode int, message string, data interface{}, additionalFields ...interface{}) {
	fields := []interface{}{"status_code", statusCode}
	fields = append(fields, additionalFields...)
	h.LogInfo(c, message, fields...)

	c.JSON(statusCode, SuccessResponse{
		Message: message,
		Data:    data,
	})
}

// HandleServiceError maps service, client and auth errors to a status code.
func (h *BaseHandler) HandleServiceError(c *gin.Context, err error, details ...interface{}) {
	var validationErrors services.ValidationErrors
	if errors.As(err, &validationErrors) {
		h.RespondWithError(c, http.StatusBadRequest, "Validation failed", err, validationErrors)
		return
	}

	var keyErr *services.InvalidAnswerKeyError
	if errors.As(err, &keyErr) {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid answer key", err, keyErr)
		return
	}

	var apiErr *client.APIError
	switch {
	case services.IsValidation(err):
		h.RespondWithError(c, http.StatusBadRequest, err.Error(), err, details...)
	case errors.Is(err, services.ErrForbidden):
		h.RespondWithError(c, http.StatusForbidden, "Access denied", err, details...)
	case services.IsUnauthorized(err),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken):
		h.RespondWithError(c, http.StatusUnauthorized, "Authentication required", err, details...)
	case services.IsNotFound(err):
		h.RespondWithError(c, http.StatusNotFound, err.Error(), err, details...)
	case services.IsConflict(err):
		h.RespondWithError(c, http.StatusConflict, err.Error(), err, details...)
	case errors.As(err, &apiErr):
		status := http.StatusBadGateway
		if apiErr.StatusCode == http.StatusNotFound {
			status = http.StatusNotFound
		}
		h.RespondWithError(c, status, "Workshop service request failed", err, gin.H{
			"upstream_status": apiErr.StatusCode,
			"path":            apiErr.Path,
		})
	case services.IsPersistenceFailure(err):
		h.RespondWithError(c, http.StatusBadGateway, "Workshop service unavailable", err, details...)
	default:
		h.RespondWithError(c, http.StatusInternalServerError, "Internal server error", err)
	}
}
