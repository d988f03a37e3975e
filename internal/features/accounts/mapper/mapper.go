package mapper

import (
	"bundlealert-miniapp/internal/common/constants"
	"bundlealert-miniapp/internal/features/accounts/models"
	"bundlealert-miniapp/internal/platform/botapi"
)

// ToWallets maps verified wallets to the status DTO.
func ToWallets(wallets []models.VerifiedWallet) []botapi.Wallet {
	out := make([]botapi.Wallet, 0, len(wallets))
	for _, w := range wallets {
		verifiedAt := w.VerifiedAt
		out = append(out, botapi.Wallet{
			Address:    w.Address,
			VerifiedAt: &verifiedAt,
			Tier:       w.Tier,
			Balance:    w.Balance,
		})
	}
	return out
}

// HighestTier returns the best tier among wallets, free when there are none.
func HighestTier(wallets []models.VerifiedWallet) string {
	best := constants.TierOf(constants.TierFree)
	for _, w := range wallets {
		if t := constants.TierOf(w.Tier); t.Level > best.Level {
			best = t
		}
	}
	return best.ID
}
