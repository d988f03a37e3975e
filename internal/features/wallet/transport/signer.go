package transport

import (
	"crypto/ecdsa"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"bundlealert-miniapp/internal/common/config"
	"bundlealert-miniapp/internal/common/constants"
	apperrors "bundlealert-miniapp/internal/common/errors"
)

// Signer signs EIP-191 personal messages.
type Signer interface {
	Address() common.Address
	// SignText returns the 65-byte signature with V in {27, 28}.
	SignText(message []byte) ([]byte, error)
}

type keySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewKeySigner wraps a private key.
func NewKeySigner(key *ecdsa.PrivateKey) Signer {
	return &keySigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *keySigner) Address() common.Address { return s.addr }

func (s *keySigner) SignText(message []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(message), s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// LoadSigner builds the local signer from a hex key or an encrypted keystore file.
// With neither configured there is no injected wallet.
func LoadSigner(cfg config.Wallet) (Signer, error) {
	switch {
	case cfg.PrivateKey != "":
		key, err := crypto.HexToECDSA(cfg.PrivateKey)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfig, "Invalid INJECTED_PRIVATE_KEY").
				WithContext("setting", "INJECTED_PRIVATE_KEY")
		}
		return NewKeySigner(key), nil

	case cfg.Keystore != "":
		raw, err := os.ReadFile(cfg.Keystore)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfig, "Cannot read INJECTED_KEYSTORE").
				WithContext("setting", "INJECTED_KEYSTORE")
		}
		k, err := keystore.DecryptKey(raw, cfg.Passphrase)
		if err != nil {
			return nil, apperrors.Wrap(fmt.Errorf("decrypt keystore: %w", err), apperrors.ErrCodeConfig,
				"Cannot unlock INJECTED_KEYSTORE").WithContext("setting", "INJECTED_KEYSTORE")
		}
		return NewKeySigner(k.PrivateKey), nil
	}
	return nil, apperrors.NewConfigError("INJECTED_PRIVATE_KEY", constants.MsgWalletNotFound)
}
