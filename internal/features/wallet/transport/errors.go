package transport

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"bundlealert-miniapp/internal/common/constants"
	apperrors "bundlealert-miniapp/internal/common/errors"
)

// Wallet RPC error codes (EIP-1193 and JSON-RPC).
const (
	CodeUserRejected   = 4001
	CodeUnauthorized   = 4100
	CodeDisconnected   = 4900
	CodeChainUnknown   = 4902
	CodeRequestPending = -32002
	CodeInternal       = -32603
)

// Op is the wallet operation an error came from.
type Op string

const (
	OpConnect Op = "connect"
	OpSign    Op = "sign"
	OpSwitch  Op = "switch_chain"
)

// RPCError is a wallet error with an EIP-1193 code. It satisfies rpc.Error,
// so wallets served through go-ethereum rpc report it with its code.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string  { return e.Message }
func (e *RPCError) ErrorCode() int { return e.Code }

// MapError classifies a wallet failure. Errors that are already
// classified pass through.
func MapError(err error, op Op) error {
	if err == nil {
		return nil
	}
	if apperrors.IsAppError(err) {
		return err
	}

	wrap := func(code apperrors.ErrorCode, msg string) error {
		return apperrors.Wrap(err, code, msg).WithContext("op", string(op))
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case CodeUserRejected:
			if op == OpSign {
				return wrap(apperrors.ErrCodeUserRejected, constants.MsgSignatureRejected)
			}
			return wrap(apperrors.ErrCodeUserRejected, constants.MsgUserDeclined)
		case CodeRequestPending:
			return wrap(apperrors.ErrCodePendingRequest, constants.MsgPendingRequest)
		case CodeInternal:
			return wrap(apperrors.ErrCodeWallet, constants.MsgWalletInternal)
		case CodeUnauthorized, CodeDisconnected:
			return wrap(apperrors.ErrCodeSessionLost, constants.MsgConnectionLost)
		case CodeChainUnknown:
			return wrap(apperrors.ErrCodeUnsupported, constants.MsgInvalidChain)
		}
	}

	if errors.Is(err, rpc.ErrClientQuit) {
		return wrap(apperrors.ErrCodeSessionLost, constants.MsgConnectionLost)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if op == OpSign {
			return wrap(apperrors.ErrCodeTimeout, constants.MsgSignatureTimeout)
		}
		return wrap(apperrors.ErrCodeTimeout, constants.MsgConnectTimeout)
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "User rejected"), strings.Contains(msg, "User denied"):
		if op == OpSign {
			return wrap(apperrors.ErrCodeUserRejected, constants.MsgSignatureRejected)
		}
		return wrap(apperrors.ErrCodeUserRejected, constants.MsgUserDeclined)
	case strings.Contains(msg, "Already processing"):
		return wrap(apperrors.ErrCodePendingRequest, constants.MsgPendingRequest)
	case strings.Contains(lower, "enable timeout"):
		return wrap(apperrors.ErrCodeTimeout, constants.MsgEnableTimeout)
	case strings.Contains(lower, "initialization timeout"):
		return wrap(apperrors.ErrCodeTimeout, constants.MsgInitTimeout)
	case strings.Contains(lower, "request expired"), strings.Contains(lower, "signature request timed out"):
		return wrap(apperrors.ErrCodeTimeout, constants.MsgSignatureTimeout)
	case strings.Contains(lower, "timeout"):
		return wrap(apperrors.ErrCodeTimeout, constants.MsgConnectTimeout)
	case strings.Contains(lower, "connection refused"), strings.Contains(lower, "no such host"):
		return wrap(apperrors.ErrCodeNetwork, constants.MsgNetworkError)
	case strings.Contains(lower, "connect() before request"),
		strings.Contains(lower, "connection"),
		strings.Contains(lower, "disconnect"),
		strings.Contains(lower, "session"):
		return wrap(apperrors.ErrCodeSessionLost, constants.MsgConnectionLost)
	}

	if op == OpSign {
		return wrap(apperrors.ErrCodeWallet, constants.MsgSignatureFailed)
	}
	return wrap(apperrors.ErrCodeWallet, "Failed to connect to wallet: "+msg+" - please try again")
}
