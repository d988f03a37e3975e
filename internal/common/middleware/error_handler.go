package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bundlealert-miniapp/internal/common/constants"
	"bundlealert-miniapp/internal/common/errors"
	"bundlealert-miniapp/internal/platform/botapi"
)

const (
	keyRequestID = "request_id"
	keyUserID    = "user_id"
)

// ErrorResponse is botapi.ErrorResponse plus request correlation.
type ErrorResponse struct {
	botapi.ErrorResponse
	Code      errors.ErrorCode `json:"code"`
	RequestID string           `json:"request_id"`
}

// ErrorHandler recovers panics into a 500 response.
func ErrorHandler(log zerolog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error().
			Str("request_id", RequestIDOf(c)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Interface("panic", recovered).
			Str("stack", string(debug.Stack())).
			Msg("Panic recovered")

		appErr := errors.New(errors.ErrCodeInternal, constants.MsgServerError).
			WithDetail("panic", fmt.Sprintf("%v", recovered))
		sendErrorResponse(c, appErr, log)
	})
}

// Errors writes the last error a handler attached with c.Error.
func Errors(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		appErr, ok := errors.AsAppError(err)
		if !ok {
			appErr = errors.Wrap(err, errors.ErrCodeInternal, constants.MsgUnexpected)
		}
		sendErrorResponse(c, appErr, log)
	}
}

// RequestID propagates or assigns X-Request-ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(keyRequestID, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func sendErrorResponse(c *gin.Context, appErr *errors.AppError, log zerolog.Logger) {
	requestID := RequestIDOf(c)
	appErr.WithRequestID(requestID).
		WithContext("path", c.Request.URL.Path).
		WithContext("method", c.Request.Method)

	status := StatusCode(appErr)
	logError(appErr, status, log, c)

	c.AbortWithStatusJSON(status, ErrorResponse{
		ErrorResponse: botapi.ErrorResponse{Success: false, Error: appErr.Message},
		Code:          appErr.Code,
		RequestID:     requestID,
	})
}

// StatusCode returns the HTTP status recorded on appErr, or one derived from its code.
func StatusCode(appErr *errors.AppError) int {
	if appErr.Status != 0 {
		return appErr.Status
	}
	switch appErr.Code {
	case errors.ErrCodeValidation:
		return http.StatusBadRequest
	case errors.ErrCodeAuthExpired:
		return http.StatusUnauthorized
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case errors.ErrCodeNetwork:
		return http.StatusBadGateway
	case errors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrCodeConfig:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func logError(appErr *errors.AppError, status int, log zerolog.Logger, c *gin.Context) {
	var ev *zerolog.Event
	switch {
	case status >= 500:
		ev = log.Error()
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		ev = log.Warn()
	default:
		ev = log.Info()
	}

	ev = ev.
		Str("request_id", RequestIDOf(c)).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int("status", status).
		Str("error_code", string(appErr.Code)).
		Str("error_message", appErr.Message)
	if userID := UserID(c); userID != 0 {
		ev = ev.Int64("user_id", userID)
	}
	if len(appErr.Details) > 0 {
		ev = ev.Interface("details", appErr.Details)
	}
	if appErr.Cause != nil {
		ev = ev.Err(appErr.Cause)
	}
	ev.Msg("Request failed")
}

// RequestIDOf returns the id set by RequestID.
func RequestIDOf(c *gin.Context) string {
	if id := c.GetString(keyRequestID); id != "" {
		return id
	}
	return "unknown"
}

// UserID returns the authenticated user, or 0.
func UserID(c *gin.Context) int64 {
	return c.GetInt64(keyUserID)
}
