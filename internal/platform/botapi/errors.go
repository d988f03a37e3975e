package botapi

import (
	"net/http"

	"bundlealert-miniapp/internal/common/constants"
	apperrors "bundlealert-miniapp/internal/common/errors"
)

// Backend error strings with dedicated handling on 401.
const (
	ServerErrNoToken       = "No token provided"
	ServerErrBotTokenUnset = "Bot token not configured"
)

// mapStatus converts a non-2xx response into the app taxonomy.
func mapStatus(status int, body ErrorResponse) *apperrors.AppError {
	serverMsg := body.Error
	if serverMsg == "" {
		serverMsg = body.Message
	}

	var err *apperrors.AppError
	switch {
	case status == http.StatusBadRequest:
		msg := serverMsg
		if msg == "" {
			msg = constants.MsgInvalidSignature
		}
		err = apperrors.New(apperrors.ErrCodeValidation, msg)
	case status == http.StatusUnauthorized:
		switch serverMsg {
		case ServerErrNoToken:
			err = apperrors.New(apperrors.ErrCodeAuthExpired, constants.MsgAuthRequired)
		case ServerErrBotTokenUnset:
			err = apperrors.New(apperrors.ErrCodeConfig, constants.MsgServerMisconfigured)
		default:
			err = apperrors.New(apperrors.ErrCodeAuthExpired, constants.MsgUnauthorized)
		}
	case status == http.StatusForbidden:
		err = apperrors.New(apperrors.ErrCodeAuthExpired, constants.MsgAccessDenied)
	case status == http.StatusNotFound:
		msg := serverMsg
		if msg == "" {
			msg = "Resource not found"
		}
		err = apperrors.New(apperrors.ErrCodeNotFound, msg)
	case status == http.StatusTooManyRequests:
		err = apperrors.New(apperrors.ErrCodeRateLimited, constants.MsgRateLimited)
	case status >= 500:
		err = apperrors.New(apperrors.ErrCodeServer, constants.MsgServerError)
	default:
		msg := serverMsg
		if msg == "" {
			msg = constants.MsgServerError
		}
		err = apperrors.New(apperrors.ErrCodeServer, msg)
	}

	err.WithStatus(status)
	if serverMsg != "" {
		err.WithDetail("server_error", serverMsg)
	}
	return err
}

func networkError(cause error) *apperrors.AppError {
	return apperrors.Wrap(cause, apperrors.ErrCodeNetwork, constants.MsgNetworkError)
}

func malformedError(cause error) *apperrors.AppError {
	return apperrors.Wrap(cause, apperrors.ErrCodeServer, constants.MsgServerError).
		WithDetail("reason", "malformed response")
}

// statusOf returns the HTTP status recorded on err, or 0.
func statusOf(err error) int {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr.Status
	}
	return 0
}

// retryable reports whether another attempt may succeed.
// Network errors and 5xx are retried; 4xx never are.
func retryable(err error) bool {
	if apperrors.HasCode(err, apperrors.ErrCodeNetwork) {
		return true
	}
	return statusOf(err) >= 500
}
