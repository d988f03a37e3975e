package ui

import (
	"fmt"
	"strings"

	"bundlealert-miniapp/internal/common/constants"
	"bundlealert-miniapp/internal/common/format"
	"bundlealert-miniapp/internal/features/verification/models"
	walletmodels "bundlealert-miniapp/internal/features/wallet/models"
	"bundlealert-miniapp/internal/platform/botapi"
)

func LoadingCard(spin string) string {
	return Card("BundleAlert", "", spin+" "+mutedStyle.Render(constants.LoadingInitializing))
}

// WelcomeCard shows the current tier and the wallet choices.
func WelcomeCard(status *botapi.UserStatus, statusLoading bool, spin, options, faq string) string {
	tier := mutedStyle.Render("Current tier: ")
	switch {
	case statusLoading && status == nil:
		tier += spin
	case status == nil:
		tier += TierBadge(constants.TierFree)
	default:
		tier += TierBadge(status.CurrentState.CurrentTier)
	}
	return Card(
		"Verify your wallet",
		"Connect a wallet and sign a read-only message to unlock your subscription tier.",
		tier,
		options,
		faq,
	)
}

// WalletOptions renders the provider list with the focused one highlighted.
func WalletOptions(providers []constants.WalletProvider, focus int) string {
	lines := make([]string, len(providers))
	for i, p := range providers {
		label := p.Icon + " " + p.Name
		lines[i] = Button(label, ButtonSecondary, i == focus) + "  " + mutedStyle.Render(p.Description)
	}
	return strings.Join(lines, "\n")
}

func ConnectingCard(kind walletmodels.Kind, spin, actions string) string {
	hint := "Approve the connection in your wallet."
	if kind == walletmodels.KindRelay {
		hint = "Open your mobile wallet and approve the WalletConnect session."
	}
	return Card("Connecting", hint, spin+" "+textStyle.Render(constants.LoadingConnecting), actions)
}

func VerifyingCard(conn *walletmodels.Connection, spin string) string {
	body := []string{spin + " " + textStyle.Render("Please sign the verification message in your wallet.")}
	if conn != nil {
		body = append(body, mutedStyle.Render("Wallet: ")+textStyle.Render(format.FormatAddress(conn.Address)))
	}
	body = append(body, mutedStyle.Render("This signature is free and grants no spending permissions."))
	return Card("Verifying", constants.LoadingVerifying, body...)
}

func SuccessCard(result *botapi.VerificationResult, conn *walletmodels.Connection, actions string) string {
	var body []string
	if result != nil {
		body = append(body, mutedStyle.Render("Assigned tier: ")+TierBadge(result.Tier))
		if result.WalletsVerified > 0 {
			body = append(body, mutedStyle.Render(fmt.Sprintf("Verified wallets: %d", result.WalletsVerified)))
		}
	}
	if conn != nil {
		line := mutedStyle.Render("Wallet: ") + textStyle.Render(format.FormatAddress(conn.Address))
		if conn.BalanceEther != "" {
			line += mutedStyle.Render("  Balance: ") + textStyle.Render(conn.BalanceEther+" ETH")
		}
		body = append(body, line)
	}
	body = append(body, actions)
	return Card(successStyle.Render("✓ Verification complete"), constants.MsgVerificationComplete, body...)
}

func ErrorCard(fe *models.FlowError, actions string) string {
	msg := constants.MsgUnexpected
	hint := ""
	if fe != nil {
		msg = fe.Message
		if fe.SessionLost() {
			hint = "Your wallet session was lost. Try to restore it or start fresh."
		}
	}
	return Card(errorStyle.Render("Something went wrong"), hint, textStyle.Render(msg), actions)
}

// StatusCard renders the comprehensive status.
func StatusCard(status *botapi.UserStatus, actions string) string {
	if status == nil {
		return Card("Your status", "", mutedStyle.Render("Status unavailable."), actions)
	}
	st := status.CurrentState
	tier := constants.TierOf(st.CurrentTier)
	body := []string{
		TierBadge(st.CurrentTier) + "  " + mutedStyle.Render(tier.Description),
		Benefits(tier.Benefits),
	}

	if len(status.Wallets) == 0 {
		body = append(body, mutedStyle.Render("No verified wallets."))
	} else {
		lines := []string{titleStyle.Render(fmt.Sprintf("Wallets (%d)", len(status.Wallets)))}
		for _, w := range status.Wallets {
			line := textStyle.Render(format.FormatAddress(w.Address))
			if w.Tier != "" {
				line += "  " + mutedStyle.Render(format.FormatTierName(w.Tier))
			}
			if w.VerifiedAt != nil {
				line += "  " + mutedStyle.Render(w.VerifiedAt.Format("2006-01-02"))
			}
			lines = append(lines, line)
		}
		body = append(body, strings.Join(lines, "\n"))
	}

	if st.TierMismatch {
		body = append(body, warnStyle.Render(fmt.Sprintf(
			"Your balance now qualifies for %s. Re-verify to update your tier.",
			format.FormatTierName(st.TierFromBalance))))
	}

	if len(status.Recommendations) > 0 {
		lines := []string{titleStyle.Render("Recommendations")}
		for _, r := range status.Recommendations {
			if r.Title != "" {
				lines = append(lines, textStyle.Render("• "+r.Title+": ")+mutedStyle.Render(r.Message))
			} else {
				lines = append(lines, textStyle.Render("• ")+mutedStyle.Render(r.Message))
			}
		}
		body = append(body, strings.Join(lines, "\n"))
	}

	body = append(body, actions)
	return Card("Your status", "", body...)
}

func NonTelegramCard() string {
	return Card(
		"Telegram Access Required",
		"This app only works inside Telegram.",
		textStyle.Render("Open the BundleAlert bot in Telegram and tap the verification button."),
		mutedStyle.Render("Set TELEGRAM_INIT_DATA to run outside of Telegram."),
	)
}

func CrashCard(reason, actions string) string {
	return Card(
		errorStyle.Render("Something went wrong"),
		"The app hit an unexpected error.",
		mutedStyle.Render(format.TruncateText(reason, 120)),
		actions,
	)
}
