package telegram

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	initdata "github.com/telegram-mini-apps/init-data-golang"
)

// SignInitData mints an init data string for user signed with botToken.
// Used for local development against the stub backend and in tests.
func SignInitData(user User, botToken string, authDate time.Time) (string, error) {
	if botToken == "" {
		return "", fmt.Errorf("bot token is required to sign init data")
	}
	rawUser, err := json.Marshal(user)
	if err != nil {
		return "", fmt.Errorf("marshal user: %w", err)
	}

	payload := map[string]string{
		"query_id": uuid.NewString(),
		"user":     string(rawUser),
	}
	hash := initdata.Sign(payload, botToken, authDate)

	values := url.Values{}
	for k, v := range payload {
		values.Set(k, v)
	}
	values.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	values.Set("hash", hash)
	return values.Encode(), nil
}

// ValidateInitData checks the signature and age of raw and returns its user.
func ValidateInitData(raw, botToken string, maxAge time.Duration) (User, error) {
	if err := initdata.Validate(raw, botToken, maxAge); err != nil {
		return User{}, fmt.Errorf("validate init data: %w", err)
	}
	parsed, err := initdata.Parse(raw)
	if err != nil {
		return User{}, fmt.Errorf("parse init data: %w", err)
	}
	if parsed.User.ID == 0 {
		return User{}, fmt.Errorf("init data has no user")
	}
	return User{
		ID:           parsed.User.ID,
		FirstName:    parsed.User.FirstName,
		LastName:     parsed.User.LastName,
		Username:     parsed.User.Username,
		LanguageCode: parsed.User.LanguageCode,
		PhotoURL:     parsed.User.PhotoURL,
		IsPremium:    parsed.User.IsPremium,
	}, nil
}
