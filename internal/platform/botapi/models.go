package botapi

import (
	"encoding/json"
	"slices"
	"time"
)

// Actions the backend may offer in available_actions.
const (
	ActionConnectWallet    = "connect_wallet"
	ActionReVerify         = "re_verify"
	ActionUpdateTier       = "update_tier"
	ActionUpgradeTier      = "upgrade_tier"
	ActionDisconnectWallet = "disconnect_wallet"
)

type AuthRequest struct {
	TelegramData string `json:"telegram_data"`
}

type AuthResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	UserID  int64  `json:"user_id,omitempty"`
}

type InitiateRequest struct {
	UserID string `json:"user_id"`
}

type InitiateResponse struct {
	Message   string `json:"message"`
	Nonce     string `json:"nonce,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

type VerifyRequest struct {
	WalletAddress string `json:"wallet_address"`
	Signature     string `json:"signature"`
	Message       string `json:"message"`
}

// VerificationResult is the backend's answer to a signature submission.
type VerificationResult struct {
	Success          bool             `json:"success"`
	Tier             string           `json:"tier"`
	WalletsVerified  int              `json:"wallets_verified"`
	Message          string           `json:"message,omitempty"`
	Recommendations  []Recommendation `json:"recommendations,omitempty"`
	AvailableActions []string         `json:"available_actions,omitempty"`
}

type DisconnectRequest struct {
	WalletAddress *string `json:"wallet_address"`
	DisconnectAll bool    `json:"disconnect_all"`
}

type DisconnectResponse struct {
	Success      bool   `json:"success"`
	Disconnected int    `json:"disconnected"`
	NewTier      string `json:"new_tier,omitempty"`
}

type BalanceRequest struct {
	WalletAddress string `json:"wallet_address"`
	TokenContract string `json:"token_contract"`
}

type TokenBalance struct {
	WalletAddress string `json:"wallet_address"`
	TokenContract string `json:"token_contract"`
	Balance       string `json:"balance"`
	Decimals      int32  `json:"decimals"`
	Symbol        string `json:"symbol,omitempty"`
}

type Token struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Contract string `json:"contract_address"`
	Decimals int32  `json:"decimals"`
	ChainID  int64  `json:"chain_id"`
	MinTier2 string `json:"min_tier2,omitempty"`
	MinTier3 string `json:"min_tier3,omitempty"`
}

type TokensResponse struct {
	Tokens []Token `json:"tokens"`
}

type Feedback struct {
	Type     string            `json:"type"`
	Message  string            `json:"message"`
	Rating   int               `json:"rating,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// UserStatus is the comprehensive status of the current Telegram user.
type UserStatus struct {
	UserID           int64            `json:"user_id,omitempty"`
	CurrentState     CurrentState     `json:"current_state"`
	Wallets          []Wallet         `json:"wallets"`
	Recommendations  []Recommendation `json:"recommendations"`
	AvailableActions []string         `json:"available_actions"`
}

type CurrentState struct {
	CurrentTier        string `json:"current_tier"`
	HasVerifiedWallets bool   `json:"has_verified_wallets"`
	WalletCount        int    `json:"wallet_count"`
	TierMismatch       bool   `json:"tier_mismatch,omitempty"`
	TierFromBalance    string `json:"tier_from_balance,omitempty"`
}

type Wallet struct {
	Address    string     `json:"address"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	Tier       string     `json:"tier,omitempty"`
	Balance    string     `json:"balance,omitempty"`
}

// HasAction reports whether the backend offers action.
func (s *UserStatus) HasAction(action string) bool {
	return s != nil && slices.Contains(s.AvailableActions, action)
}

// Recommendation decodes from either a bare string or {title, message}.
type Recommendation struct {
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
}

func (r *Recommendation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = Recommendation{Message: s}
		return nil
	}
	type plain Recommendation
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Recommendation(p)
	return nil
}

// ErrorResponse is the error body the backend sends with non-2xx statuses.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
