package telegram

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	initdata "github.com/telegram-mini-apps/init-data-golang"
)

// Haptic feedback kinds accepted by Bridge.Haptic.
const (
	HapticLight   = "light"
	HapticMedium  = "medium"
	HapticHeavy   = "heavy"
	HapticSuccess = "success"
	HapticWarning = "warning"
	HapticError   = "error"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultMaxAttempts  = 50
)

// MainButton is the host's bottom action button.
type MainButton interface {
	Show()
	Hide()
	SetText(text string)
	OnClick(fn func())
}

// WebApp is the capability surface of the embedding Telegram client.
type WebApp interface {
	// Available reports whether the host has injected its WebApp object.
	Available() bool
	Ready()
	Expand()
	Close()
	MainButton() MainButton
	ImpactOccurred(style string)
	NotificationOccurred(kind string)
	InitData() string
	Version() string
}

// User is the Telegram user the mini-app was opened by.
type User struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
	PhotoURL     string `json:"photo_url,omitempty"`
	IsPremium    bool   `json:"is_premium,omitempty"`
}

// DisplayName returns the best human label for the user.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return "@" + u.Username
	}
	return "there"
}

// Bridge exposes the host to the rest of the app and owns the host-ready flag.
type Bridge struct {
	app WebApp
	log zerolog.Logger

	pollInterval time.Duration
	maxAttempts  int

	mu       sync.RWMutex
	ready    bool
	telegram bool
}

type Option func(*Bridge)

// WithPolling overrides the readiness polling schedule.
func WithPolling(interval time.Duration, attempts int) Option {
	return func(b *Bridge) {
		b.pollInterval = interval
		b.maxAttempts = attempts
	}
}

func NewBridge(app WebApp, log zerolog.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		app:          app,
		log:          log.With().Str("component", "host").Logger(),
		pollInterval: defaultPollInterval,
		maxAttempts:  defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WaitReady polls for the host and marks the bridge ready. When the host never
// shows up the bridge still becomes ready, with IsTelegram false.
func (b *Bridge) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	found := b.app.Available()
	for attempt := 1; !found && attempt < b.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		found = b.app.Available()
	}

	if found {
		b.app.Ready()
		b.app.Expand()
		b.log.Info().Str("version", b.app.Version()).Msg("host ready")
	} else {
		b.log.Warn().Int("attempts", b.maxAttempts).Msg("host not detected, proceeding without it")
	}

	b.mu.Lock()
	b.ready = true
	b.telegram = found
	b.mu.Unlock()
	return nil
}

func (b *Bridge) IsReady() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready
}

// IsTelegram reports whether the host was detected.
func (b *Bridge) IsTelegram() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.telegram
}

// Haptic maps kind to impact or notification feedback. Unknown kinds are ignored.
func (b *Bridge) Haptic(kind string) {
	switch kind {
	case HapticLight, HapticMedium, HapticHeavy:
		b.app.ImpactOccurred(kind)
	case HapticSuccess, HapticWarning, HapticError:
		b.app.NotificationOccurred(kind)
	default:
		b.log.Debug().Str("kind", kind).Msg("unknown haptic kind")
	}
}

// InitData returns the raw signed init data string.
func (b *Bridge) InitData() string {
	return b.app.InitData()
}

// User parses the unsafe user object out of the init data.
func (b *Bridge) User() (User, bool) {
	raw := b.app.InitData()
	if raw == "" {
		return User{}, false
	}
	parsed, err := initdata.Parse(raw)
	if err != nil {
		b.log.Warn().Err(err).Msg("parse init data")
		return User{}, false
	}
	if parsed.User.ID == 0 {
		return User{}, false
	}
	return User{
		ID:           parsed.User.ID,
		FirstName:    parsed.User.FirstName,
		LastName:     parsed.User.LastName,
		Username:     parsed.User.Username,
		LanguageCode: parsed.User.LanguageCode,
		PhotoURL:     parsed.User.PhotoURL,
		IsPremium:    parsed.User.IsPremium,
	}, true
}

func (b *Bridge) MainButton() MainButton {
	return b.app.MainButton()
}

func (b *Bridge) Expand() {
	b.app.Expand()
}

func (b *Bridge) Close() {
	b.log.Info().Msg("closing mini-app")
	b.app.Close()
}
