package constants

import (
	"fmt"
	"time"
)

// App metadata
const (
	AppName        = "BundleAlert Wallet Verification"
	AppVersion     = "1.0.0"
	AppDescription = "Connect your wallet to verify your BundleAlert subscription tier"
	BotURL         = "https://t.me/BundleAlertsBot"
)

// VerificationMessage is the exact text submitted to the backend for verification.
const VerificationMessage = "Sign this message to verify your wallet ownership for BundleAlert Bot. " +
	"This is a read-only verification and will not grant any spending permissions."

// Signature settings
const (
	SignatureMessagePrefix = "Sign this message to verify your wallet ownership for BundleAlert subscription verification."
	SignatureVersion       = "1"
	SignatureMaxAge        = 5 * time.Minute
)

// GenerateVerificationMessage builds a timestamped message bound to domain.
func GenerateVerificationMessage(domain string, now time.Time) string {
	return fmt.Sprintf("%s\n\nDomain: %s\nVersion: %s\nTimestamp: %d",
		SignatureMessagePrefix, domain, SignatureVersion, now.Unix())
}

// API paths
const (
	PathHealth           = "/health"
	PathAuthTelegram     = "/api/auth/telegram"
	PathWalletInitiate   = "/api/wallet/initiate"
	PathWalletVerify     = "/api/wallet/verify"
	PathWalletDisconnect = "/api/wallet/disconnect"
	PathWalletBalance    = "/api/wallet/balance"
	PathUserStatus       = "/api/user/comprehensive-status"
	PathTokensSupported  = "/api/tokens/supported"
	PathFeedback         = "/api/feedback"
)

// Local storage keys
const (
	StorageWalletAddress    = "bundlealert_wallet_address"
	StorageUserTier         = "bundlealert_user_tier"
	StorageLastVerification = "bundlealert_last_verification"
	StorageSessionToken     = "bundlealert_session_token"
)

// AppStorageKeys are purged together with the relay namespace on a forced cleanup.
// The session token survives; it belongs to the backend session, not the wallet.
var AppStorageKeys = []string{
	StorageWalletAddress,
	StorageUserTier,
	StorageLastVerification,
}

// Chains
const (
	ChainEthereum int64 = 1
)

type ChainInfo struct {
	ID          int64
	Name        string
	Symbol      string
	RPCURL      string
	ExplorerURL string
}

var Chains = map[int64]ChainInfo{
	ChainEthereum: {
		ID:          ChainEthereum,
		Name:        "Ethereum",
		Symbol:      "ETH",
		RPCURL:      "https://eth.llamarpc.com",
		ExplorerURL: "https://etherscan.io",
	},
}

// SupportedChains lists chain ids the app accepts.
var SupportedChains = []int64{ChainEthereum}

// Tier identifiers
const (
	TierFree = "free"
	Tier1    = "tier1"
	Tier2    = "tier2"
	Tier3    = "tier3"
)

type Tier struct {
	ID          string
	Name        string
	DisplayName string
	Level       int
	Description string
	Color       string
	Emoji       string
	Benefits    []string
}

var Tiers = map[string]Tier{
	TierFree: {
		ID: TierFree, Name: "Free", DisplayName: "Free", Level: 0,
		Description: "Basic access", Color: "#86868b", Emoji: "🆓",
		Benefits: []string{"Basic bundle alerts", "Limited notifications"},
	},
	Tier1: {
		ID: Tier1, Name: "Tier 1", DisplayName: "Bronze", Level: 1,
		Description: "Wallet connected", Color: "#30d158", Emoji: "🥉",
		Benefits: []string{"Enhanced bundle alerts", "Real-time notifications", "Basic analytics"},
	},
	Tier2: {
		ID: Tier2, Name: "Tier 2", DisplayName: "Silver", Level: 2,
		Description: "Token holder", Color: "#007aff", Emoji: "🥈",
		Benefits: []string{"Premium bundle alerts", "Advanced analytics", "Priority notifications", "Risk analysis"},
	},
	Tier3: {
		ID: Tier3, Name: "Tier 3", DisplayName: "Gold", Level: 3,
		Description: "Premium member", Color: "#ff9500", Emoji: "🥇",
		Benefits: []string{"VIP bundle alerts", "Full analytics suite", "Instant notifications", "Advanced risk analysis", "Custom alerts"},
	},
}

// TierOf returns tier info, falling back to free for unknown ids.
func TierOf(id string) Tier {
	if t, ok := Tiers[id]; ok {
		return t
	}
	return Tiers[TierFree]
}

// Wallet providers
const (
	ProviderMetaMask      = "metamask"
	ProviderWalletConnect = "walletconnect"
	ProviderCoinbase      = "coinbase"
)

type WalletProvider struct {
	ID          string
	Name        string
	Icon        string
	Description string
	DownloadURL string
	DeepLink    string
}

var WalletProviders = []WalletProvider{
	{ID: ProviderMetaMask, Name: "MetaMask", Icon: "🦊", Description: "Browser extension wallet", DownloadURL: "https://metamask.io/download/", DeepLink: "https://metamask.app.link/"},
	{ID: ProviderWalletConnect, Name: "WalletConnect", Icon: "🔗", Description: "Connect with mobile wallets"},
	{ID: ProviderCoinbase, Name: "Coinbase Wallet", Icon: "🔵", Description: "Coinbase browser wallet", DownloadURL: "https://www.coinbase.com/wallet"},
}

// Error messages
const (
	MsgWalletNotFound         = "Wallet not found. Please install MetaMask or use WalletConnect."
	MsgConnectionRejected     = "Connection rejected by user."
	MsgNetworkError           = "Network error. Please check your connection."
	MsgSignatureRejected      = "Signature rejected by user."
	MsgSignatureFailed        = "Failed to verify signature."
	MsgInvalidSignature       = "Invalid signature format."
	MsgSessionExpired         = "Session expired. Please try again."
	MsgServerError            = "Server error. Please try again later."
	MsgRateLimited            = "Too many requests. Please wait before trying again."
	MsgUnauthorized           = "Authentication failed. Please refresh and try again."
	MsgWalletAlreadyConnected = "This wallet is already connected to another account."
	MsgInvalidChain           = "Please switch to Ethereum mainnet."
	MsgBalanceCheckFailed     = "Failed to check wallet balance. Please try again."
	MsgTelegramInitFailed     = "Failed to initialize Telegram WebApp. Please open from Telegram."

	MsgUserDeclined       = "Connection was declined in your wallet"
	MsgPendingRequest     = "Please check your wallet for pending requests"
	MsgConnectInProgress  = "A connection request is already in progress"
	MsgEnableTimeout      = "WalletConnect connection timed out - this may happen in Telegram miniapps. Please try again or use a different wallet."
	MsgInitTimeout        = "WalletConnect initialization timed out - this may happen in Telegram miniapps. Please try again or use a different wallet."
	MsgConnectTimeout     = "Connection timeout - please try again"
	MsgSignatureTimeout   = "Signature request timed out - please try again"
	MsgConnectionLost     = "Connection lost - please reconnect"
	MsgNotConnected       = "Wallet not connected"
	MsgNoAccounts         = "No accounts returned from wallet"
	MsgWalletInternal     = "Wallet internal error. Please try again."
	MsgProjectIDMissing   = "WalletConnect project ID is not configured"
	MsgRelayURLMissing    = "WalletConnect relay URL is not configured"
	MsgTelegramDataAbsent = "Telegram authentication data is not available. Please open from Telegram."

	MsgAuthRequired        = "Authentication required - please reconnect your wallet"
	MsgServerMisconfigured = "Server configuration error - please contact support"
	MsgAccessDenied        = "Access denied - session may have expired"
	MsgAuthExpired         = "Authentication expired. Please refresh and try again."
	MsgUserNotFound        = "User not found. Please re-authenticate."
	MsgServerUnavailable   = "Server temporarily unavailable. Please try again in a moment."
	MsgNetworkIssue        = "Network connection issue. Please check your connection and try again."
	MsgStatusFetchFailed   = "Failed to fetch user status"
	MsgUnexpected          = "An unexpected error occurred"
)

// Success messages
const (
	MsgWalletConnected      = "Wallet connected successfully!"
	MsgVerificationComplete = "Verification complete! You can now return to the bot."
	MsgTierAssigned         = "Your subscription tier has been assigned."
	MsgSignatureVerified    = "Signature verified successfully."
	MsgWalletDisconnected   = "Wallet disconnected"
	MsgSessionCleared       = "Session cleared. You can start fresh."
	MsgSessionRestored      = "Wallet session restored"
)

// MainButtonCloseText labels the host main button once verification succeeds.
const MainButtonCloseText = "Close App"

// Loading messages
const (
	LoadingConnecting   = "Connecting to your wallet..."
	LoadingVerifying    = "Verifying signature..."
	LoadingBalance      = "Checking wallet balance..."
	LoadingInitializing = "Initializing application..."
	LoadingProcessing   = "Processing your request..."
)

type FAQ struct {
	ID       string
	Question string
	Answer   string
}

var FAQs = []FAQ{
	{
		ID:       "security",
		Question: "Is this safe? What permissions am I giving?",
		Answer:   "This is completely safe. We only request a read-only signature to verify wallet ownership. No spending permissions or access to your funds. You can disconnect immediately after verification.",
	},
	{
		ID:       "data",
		Question: "What data do you collect?",
		Answer:   "We only collect your wallet address and signature for verification purposes. No personal information, transaction history, or spending permissions are accessed.",
	},
	{
		ID:       "disconnect",
		Question: "Can I disconnect after verification?",
		Answer:   "Yes! We recommend disconnecting after successful verification. Your tier status is saved on our servers and doesn't require staying connected.",
	},
	{
		ID:       "tiers",
		Question: "How do subscription tiers work?",
		Answer:   "Tier 1: Wallet connection required. Tier 2: Token holdings. Tier 3: Premium token amounts. Each tier unlocks additional bot features.",
	},
	{
		ID:       "support",
		Question: "What if verification fails?",
		Answer:   "Try refreshing the page or using a different wallet. If issues persist, contact support through the main bot chat with /help command.",
	},
	{
		ID:       "mobile",
		Question: "Does this work on mobile?",
		Answer:   "Yes! Use WalletConnect to connect mobile wallets like MetaMask, Trust Wallet, or Rainbow. The interface is optimized for mobile use.",
	},
}
