package ui

import (
	"strings"
	"time"

	"bundlealert-miniapp/internal/features/verification/models"
)

const (
	toastTTL  = 4 * time.Second
	maxToasts = 3
)

// ToastStack holds the visible toasts, newest last.
type ToastStack struct {
	items []models.Toast
}

// Push adds t, dropping the oldest when the stack is full.
func (s *ToastStack) Push(t models.Toast) {
	s.items = append(s.items, t)
	if len(s.items) > maxToasts {
		s.items = s.items[len(s.items)-maxToasts:]
	}
}

// Dismiss removes the toast with id.
func (s *ToastStack) Dismiss(id string) {
	for i, t := range s.items {
		if t.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

func (s ToastStack) Len() int { return len(s.items) }

func (s ToastStack) View() string {
	if len(s.items) == 0 {
		return ""
	}
	lines := make([]string, 0, len(s.items))
	for _, t := range s.items {
		switch t.Kind {
		case models.ToastSuccess:
			lines = append(lines, successStyle.Render("✓ ")+textStyle.Render(t.Message))
		case models.ToastError:
			lines = append(lines, errorStyle.Render("✗ ")+textStyle.Render(t.Message))
		case models.ToastWarning:
			lines = append(lines, warnStyle.Render("! ")+textStyle.Render(t.Message))
		default:
			lines = append(lines, mutedStyle.Render("i ")+textStyle.Render(t.Message))
		}
	}
	return strings.Join(lines, "\n")
}
