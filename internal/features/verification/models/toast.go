package models

import (
	"time"

	"github.com/google/uuid"
)

type ToastKind string

const (
	ToastSuccess ToastKind = "success"
	ToastError   ToastKind = "error"
	ToastInfo    ToastKind = "info"
	ToastWarning ToastKind = "warning"
)

// Toast is a transient notification.
type Toast struct {
	ID        string
	Kind      ToastKind
	Message   string
	CreatedAt time.Time
}

func NewToast(kind ToastKind, message string) Toast {
	return Toast{ID: uuid.NewString(), Kind: kind, Message: message, CreatedAt: time.Now()}
}
