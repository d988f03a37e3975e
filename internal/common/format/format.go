package format

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"bundlealert-miniapp/internal/common/constants"
	apperrors "bundlealert-miniapp/internal/common/errors"
)

const ellipsis = "…"

// FormatAddress shortens an address to its first 6 and last 4 characters.
// Strings already no longer than the shortened form are returned unchanged,
// so the transform is idempotent.
func FormatAddress(address string) string {
	return FormatAddressN(address, 6, 4)
}

// FormatAddressN is FormatAddress with custom head and tail lengths.
func FormatAddressN(address string, head, tail int) string {
	if address == "" {
		return ""
	}
	runes := []rune(address)
	if len(runes) <= head+tail+utf8.RuneCountInString(ellipsis) {
		return address
	}
	return string(runes[:head]) + ellipsis + string(runes[len(runes)-tail:])
}

var (
	thousand = decimal.NewFromInt(1_000)
	million  = decimal.NewFromInt(1_000_000)
	billion  = decimal.NewFromInt(1_000_000_000)
)

// FormatNumber renders n with K/M/B suffixes.
func FormatNumber(n decimal.Decimal, decimals int32) string {
	switch {
	case n.GreaterThanOrEqual(billion):
		return n.Div(billion).StringFixed(decimals) + "B"
	case n.GreaterThanOrEqual(million):
		return n.Div(million).StringFixed(decimals) + "M"
	case n.GreaterThanOrEqual(thousand):
		return n.Div(thousand).StringFixed(decimals) + "K"
	}
	return n.StringFixed(decimals)
}

// FormatNumberString parses raw and formats it; unparsable input renders "0".
func FormatNumberString(raw string, decimals int32) string {
	n, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return "0"
	}
	return FormatNumber(n, decimals)
}

// FormatTokenBalance renders a smallest-unit amount with the token's decimals.
func FormatTokenBalance(raw string, tokenDecimals int32, symbol string) string {
	if raw == "" {
		return "0"
	}
	units, err := decimal.NewFromString(raw)
	if err != nil {
		return "0"
	}
	out := FormatNumber(units.Shift(-tokenDecimals), 2)
	if symbol != "" {
		return out + " " + symbol
	}
	return out
}

// WeiToEther converts wei to ether.
func WeiToEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -18)
}

// FormatEther renders wei as ether with four decimals.
func FormatEther(wei *big.Int) string {
	return WeiToEther(wei).StringFixed(4)
}

// FormatDuration renders d as "1h 5m", "5m 3s" or "3s".
func FormatDuration(d time.Duration) string {
	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes%60)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds%60)
	}
	return fmt.Sprintf("%ds", seconds)
}

// FormatPercentage renders v with a percent sign.
func FormatPercentage(v float64, decimals int) string {
	if math.IsNaN(v) {
		return "0%"
	}
	return fmt.Sprintf("%.*f%%", decimals, v)
}

// FormatTierName renders a tier id as "Tier 1" style.
func FormatTierName(tier string) string {
	if t, ok := constants.Tiers[tier]; ok {
		return t.Name
	}
	return "Unknown"
}

// FormatTierDisplay renders a tier id with its metal name.
func FormatTierDisplay(tier string) string {
	if t, ok := constants.Tiers[tier]; ok {
		return t.DisplayName
	}
	return "Unknown"
}

// FormatErrorMessage reduces an error to one line a user can read.
func FormatErrorMessage(err error) string {
	if err == nil {
		return constants.MsgUnexpected
	}
	msg := apperrors.UserMessage(err)
	switch {
	case strings.Contains(msg, "User rejected"):
		return "User rejected the request"
	case strings.Contains(msg, "Already processing"):
		return constants.MsgPendingRequest
	case msg == "":
		return constants.MsgUnexpected
	}
	return msg
}

// FormatLoadingMessage appends up to dotCount animated dots based on the frame.
func FormatLoadingMessage(base string, frame, dotCount int) string {
	if dotCount <= 0 {
		return base
	}
	return base + strings.Repeat(".", frame%(dotCount+1))
}

// TruncateText cuts text to maxLength runes including a trailing "...".
func TruncateText(text string, maxLength int) string {
	runes := []rune(text)
	if len(runes) <= maxLength || maxLength < 3 {
		return text
	}
	return string(runes[:maxLength-3]) + "..."
}

// FormatBytes renders a byte count in binary units.
func FormatBytes(bytes int64, decimals int32) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	sizes := []string{"Bytes", "KB", "MB", "GB"}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	v := decimal.NewFromInt(bytes).Div(decimal.NewFromFloat(math.Pow(1024, float64(i)))).Round(decimals)
	return v.String() + " " + sizes[i]
}

// Capitalize upper-cases the first letter and lower-cases the rest.
func Capitalize(s string) string {
	if s == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(s)
	return strings.ToUpper(string(r)) + strings.ToLower(s[size:])
}

// FormatCountdown renders the time left until target as MM:SS.
func FormatCountdown(target, now time.Time) string {
	remaining := target.Sub(now)
	if remaining <= 0 {
		return "00:00"
	}
	minutes := int64(remaining / time.Minute)
	seconds := int64((remaining % time.Minute) / time.Second)
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

var statusBadges = map[string]string{
	"connected":    "Connected",
	"connecting":   "Connecting...",
	"disconnected": "Disconnected",
	"verifying":    "Verifying...",
	"verified":     "Verified",
	"failed":       "Failed",
	"pending":      "Pending",
	"success":      "Success",
	"error":        "Error",
}

// FormatStatusBadge renders a status keyword as a badge label.
func FormatStatusBadge(status string) string {
	if label, ok := statusBadges[status]; ok {
		return label
	}
	return Capitalize(status)
}
