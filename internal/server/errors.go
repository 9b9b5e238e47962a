package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/seatbroker/internal/ratelimit"
	"github.com/smallbiznis/seatbroker/pkg/errkind"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errkind.New(errkind.KindInvalidRequest, "unauthorized")
	ErrNotFound           = errkind.New(errkind.KindNotFound, "not_found")
	ErrRateLimited        = errkind.New(errkind.KindRateLimited, "rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		var limited *ratelimit.LimitedError
		if errors.As(lastErr.Err, &limited) && limited.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(limited)))
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	}
	if errors.Is(err, ErrServiceUnavailable) {
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	}

	code := errkind.CodeOf(err)
	switch errkind.Of(err) {
	case errkind.KindInvalidRequest:
		return http.StatusBadRequest, errorPayload{Type: "invalid_request", Code: code, Message: code}
	case errkind.KindNotFound:
		return http.StatusNotFound, errorPayload{Type: "not_found", Code: code, Message: code}
	case errkind.KindConflict, errkind.KindStaleCode, errkind.KindStaleOrder, errkind.KindDuplicateEvent:
		return http.StatusConflict, errorPayload{Type: "conflict", Code: code, Message: code}
	case errkind.KindCapacityExceeded:
		return http.StatusUnprocessableEntity, errorPayload{Type: "capacity_exceeded", Code: code, Message: code}
	case errkind.KindNoCapacityAvailable:
		return http.StatusConflict, errorPayload{Type: "no_capacity_available", Code: code, Message: code}
	case errkind.KindWarrantyExpired, errkind.KindWarrantyNotEligible:
		return http.StatusForbidden, errorPayload{Type: "warranty_rejected", Code: code, Message: code}
	case errkind.KindSignatureInvalid:
		return http.StatusBadRequest, errorPayload{Type: "signature_invalid", Code: code, Message: code}
	case errkind.KindRateLimited:
		return http.StatusTooManyRequests, errorPayload{Type: "rate_limited", Code: code, Message: "too many requests"}
	case errkind.KindMembershipProviderError:
		return http.StatusBadGateway, errorPayload{Type: "upstream_error", Code: code, Message: "membership provider unavailable"}
	case errkind.KindConfigurationMissing:
		return http.StatusServiceUnavailable, errorPayload{Type: "service_unavailable", Code: code, Message: code}
	case errkind.KindDecryptionFailure:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Code: code, Message: "internal server error"}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

// classifyErrorForLog returns the (type, code) pair logged with each failed request.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if payload.Code != "" {
		return payload.Type, payload.Code
	}
	return payload.Type, payload.Type
}

func retryAfterSeconds(limited *ratelimit.LimitedError) int {
	return int(math.Ceil(limited.RetryAfter.Seconds()))
}
