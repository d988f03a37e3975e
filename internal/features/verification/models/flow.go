package models

import (
	apperrors "bundlealert-miniapp/internal/common/errors"
	walletmodels "bundlealert-miniapp/internal/features/wallet/models"
	"bundlealert-miniapp/internal/platform/botapi"
)

// State is the screen the flow is on.
type State string

const (
	StateLoading    State = "loading"
	StateWelcome    State = "welcome"
	StateConnecting State = "connecting"
	StateVerifying  State = "verifying"
	StateSuccess    State = "success"
	StateError      State = "error"
	StateStatus     State = "status"
)

// Terminal reports whether the state waits for user input.
func (s State) Terminal() bool {
	switch s {
	case StateWelcome, StateSuccess, StateError, StateStatus:
		return true
	}
	return false
}

// FlowError is the failure shown on the error card.
type FlowError struct {
	Code    apperrors.ErrorCode
	Message string
}

// SessionLost reports whether the card should offer restore and start fresh.
func (e *FlowError) SessionLost() bool {
	if e == nil {
		return false
	}
	return e.Code == apperrors.ErrCodeSessionLost || e.Code == apperrors.ErrCodeNotConnected
}

// NewFlowError classifies err for display.
func NewFlowError(err error) *FlowError {
	return &FlowError{Code: apperrors.CodeOf(err), Message: apperrors.UserMessage(err)}
}

// Snapshot is everything a view needs to render the flow.
type Snapshot struct {
	State      State
	Kind       walletmodels.Kind
	Connection *walletmodels.Connection
	Result     *botapi.VerificationResult
	Status     *botapi.UserStatus
	Error      *FlowError
	Busy       bool
	Epoch      uint64
}
