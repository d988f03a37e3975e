package validation

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"bundlealert-miniapp/internal/common/constants"
	apperrors "bundlealert-miniapp/internal/common/errors"
)

// Standard signature is 65 bytes (130 hex characters)
var signatureRegex = regexp.MustCompile(`^[0-9a-fA-F]{130}$`)

var userIDRegex = regexp.MustCompile(`^\d+$`)

// IsValidAddress reports whether address is a 20-byte hex address.
// Mixed-case input must carry a correct EIP-55 checksum.
func IsValidAddress(address string) bool {
	if !common.IsHexAddress(address) {
		return false
	}
	body := strings.TrimPrefix(strings.TrimPrefix(address, "0x"), "0X")
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return common.HexToAddress(address).Hex() == "0x"+body
}

// ChecksumAddress validates address and returns its EIP-55 form.
func ChecksumAddress(address string) (string, error) {
	if !IsValidAddress(address) {
		return "", apperrors.NewValidationError("wallet_address", "Invalid wallet address format").
			WithDetail("value", address)
	}
	return common.HexToAddress(address).Hex(), nil
}

// IsValidSignature accepts a 65-byte hex signature with or without 0x.
func IsValidSignature(signature string) bool {
	if signature == "" {
		return false
	}
	return signatureRegex.MatchString(strings.TrimPrefix(signature, "0x"))
}

// ValidateWalletInput checks the pair submitted for verification and returns every problem found.
func ValidateWalletInput(address, signature string) error {
	var problems []string

	if address == "" {
		problems = append(problems, "Wallet address is required")
	} else if !IsValidAddress(address) {
		problems = append(problems, "Invalid wallet address format")
	}

	if signature == "" {
		problems = append(problems, "Signature is required")
	} else if !IsValidSignature(signature) {
		problems = append(problems, "Invalid signature format")
	}

	if len(problems) == 0 {
		return nil
	}
	return apperrors.New(apperrors.ErrCodeValidation, strings.Join(problems, "; ")).
		WithDetail("problems", problems)
}

// IsValidUserID reports whether userID is a decimal Telegram id.
func IsValidUserID(userID string) bool {
	return userIDRegex.MatchString(userID)
}

// IsValidChainID reports whether chainID is supported.
func IsValidChainID(chainID int64) bool {
	return slices.Contains(constants.SupportedChains, chainID)
}

// ParseChainID accepts decimal or 0x-prefixed hex chain ids.
func ParseChainID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	base := 10
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		raw = raw[2:]
		base = 16
	}
	id, err := strconv.ParseInt(raw, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chain id %q: %w", raw, err)
	}
	return id, nil
}

// SanitizeInput trims and strips angle brackets.
func SanitizeInput(input string) string {
	return strings.NewReplacer("<", "", ">", "").Replace(strings.TrimSpace(input))
}

// ValidateSignatureMessage reports whether message contains the signature prefix
// or is the fixed verification message.
func ValidateSignatureMessage(message string) bool {
	if message == "" {
		return false
	}
	return message == constants.VerificationMessage || strings.Contains(message, constants.SignatureMessagePrefix)
}

// ValidateSignatureTimestamp checks a unix-seconds timestamp against maxAge.
// It returns the age alongside the verdict.
func ValidateSignatureTimestamp(timestamp int64, maxAge time.Duration, now time.Time) (bool, time.Duration) {
	if maxAge <= 0 {
		maxAge = constants.SignatureMaxAge
	}
	age := now.Sub(time.Unix(timestamp, 0))
	return age <= maxAge, age
}

// ValidateTelegramUser returns the user id as a string when present.
func ValidateTelegramUser(userID int64) (string, error) {
	if userID == 0 {
		return "", apperrors.NewValidationError("user", "User ID not found in Telegram data")
	}
	return strconv.FormatInt(userID, 10), nil
}

// MissingFields lists expected keys absent from a decoded response.
func MissingFields(response map[string]any, expected ...string) []string {
	var missing []string
	for _, field := range expected {
		if _, ok := response[field]; !ok {
			missing = append(missing, field)
		}
	}
	return missing
}
