package models

import "time"

// Account is a Telegram user known to the stub backend.
type Account struct {
	UserID    int64            `json:"user_id"`
	Username  string           `json:"username,omitempty"`
	FirstName string           `json:"first_name,omitempty"`
	Wallets   []VerifiedWallet `json:"wallets"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// VerifiedWallet is a wallet whose ownership was proven by signature.
type VerifiedWallet struct {
	Address    string    `json:"address"`
	VerifiedAt time.Time `json:"verified_at"`
	Tier       string    `json:"tier"`
	// token balance in base units at verification time
	Balance string `json:"balance"`
}

// Wallet returns the index of address in the account, or -1.
func (a *Account) Wallet(address string) int {
	for i, w := range a.Wallets {
		if w.Address == address {
			return i
		}
	}
	return -1
}

// Session binds a bearer token to a user.
type Session struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Challenge is a one-off message a user is asked to sign.
type Challenge struct {
	UserID    int64     `json:"user_id"`
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
