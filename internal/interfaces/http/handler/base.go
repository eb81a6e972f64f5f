package handler

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/crmgateway/backend/internal/domain/integration"
	"github.com/crmgateway/backend/internal/infrastructure/logger"
	"github.com/crmgateway/backend/internal/interfaces/http/dto"
	"github.com/crmgateway/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

func getRequestID(c *gin.Context) string {
	return middleware.GetRequestID(c)
}

// getTenantID returns the tenant resolved by the tenant middleware
func getTenantID(c *gin.Context) (uuid.UUID, error) {
	tenantID, err := middleware.GetTenantUUID(c)
	if err != nil {
		return uuid.Nil, err
	}
	if tenantID == uuid.Nil {
		return uuid.Nil, integration.ErrInvalidTenantID
	}
	return tenantID, nil
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// Unauthorized sends a 401 unauthorized response
func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// ValidationError sends a 400 validation error response with details
func (h *BaseHandler) ValidationError(c *gin.Context, details []dto.ValidationDetail) {
	c.JSON(http.StatusBadRequest, dto.NewValidationErrorResponse(
		"Request validation failed",
		getRequestID(c),
		details,
	))
}

// TooManyRequests sends a 429 with a Retry-After header
func (h *BaseHandler) TooManyRequests(c *gin.Context, message string, retryAfter time.Duration) {
	c.Header("Retry-After", strconv.Itoa(dto.RetryAfterSeconds(retryAfter)))
	c.JSON(http.StatusTooManyRequests, dto.NewRateLimitedResponse(message, getRequestID(c), retryAfter))
}

// HandleError converts gateway errors to HTTP responses
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	requestID := getRequestID(c)
	message := integration.DescribeFailure(err)

	var (
		validationErr *integration.ValidationError
		rateLimitErr  *integration.RateLimitError
	)
	switch {
	case errors.As(err, &validationErr):
		h.ValidationError(c, validationDetails(validationErr))
	case errors.As(err, &rateLimitErr):
		h.TooManyRequests(c, message, rateLimitErr.RetryAfter)
	case errors.Is(err, integration.ErrValidation), errors.Is(err, integration.ErrInvalidTenantID):
		h.Error(c, http.StatusBadRequest, dto.ErrCodeValidation, message)
	case errors.Is(err, integration.ErrInvalidObjectType):
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidObjectType, message)
	case errors.Is(err, integration.ErrConnectionNotFound):
		h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
	case errors.Is(err, integration.ErrConnectionInactive):
		h.Error(c, http.StatusConflict, dto.ErrCodeConnectionInactive, message)
	case errors.Is(err, integration.ErrConnectionChanged):
		h.Error(c, http.StatusConflict, dto.ErrCodeConflict, message)
	case errors.Is(err, integration.ErrUnsupportedCRMType):
		h.Error(c, http.StatusUnprocessableEntity, dto.ErrCodeUnsupportedCRM, message)
	case errors.Is(err, integration.ErrDecryptionFailed):
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponseWithHelp(
			dto.ErrCodeCredentialDecryption, "Stored credentials could not be decrypted", requestID, integration.DecryptionHint))
	case errors.Is(err, integration.ErrAuthenticationFailed), errors.Is(err, integration.ErrNoRefreshToken):
		h.Error(c, http.StatusBadGateway, dto.ErrCodeCRMAuthentication, message)
	case errors.Is(err, integration.ErrPermissionDenied):
		h.Error(c, http.StatusBadGateway, dto.ErrCodeCRMPermission, message)
	case errors.Is(err, integration.ErrProviderError):
		h.Error(c, http.StatusBadGateway, dto.ErrCodeCRMProvider, message)
	case errors.Is(err, context.DeadlineExceeded):
		h.Error(c, http.StatusGatewayTimeout, dto.ErrCodeCRMProvider, "CRM request timed out")
	case errors.Is(err, integration.ErrConfiguration):
		h.logUnexpected(c, err)
		h.Error(c, http.StatusInternalServerError, dto.ErrCodeConfiguration, "Gateway is misconfigured")
	default:
		h.logUnexpected(c, err)
		h.InternalError(c, "An unexpected error occurred")
	}
}

func (h *BaseHandler) logUnexpected(c *gin.Context, err error) {
	logger.FromContext(c.Request.Context()).Error("Request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err))
}

func validationDetails(err *integration.ValidationError) []dto.ValidationDetail {
	fields := make([]string, 0, len(err.Fields))
	for field := range err.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	details := make([]dto.ValidationDetail, 0, len(fields))
	for _, field := range fields {
		details = append(details, dto.ValidationDetail{Field: field, Message: err.Fields[field]})
	}
	return details
}
