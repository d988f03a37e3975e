package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bundlealert-miniapp/internal/common/config"
	"bundlealert-miniapp/internal/common/constants"
	apperrors "bundlealert-miniapp/internal/common/errors"
	"bundlealert-miniapp/internal/common/format"
	"bundlealert-miniapp/internal/common/validation"
	"bundlealert-miniapp/internal/features/accounts/mapper"
	"bundlealert-miniapp/internal/features/accounts/models"
	"bundlealert-miniapp/internal/features/accounts/repository"
	"bundlealert-miniapp/internal/platform/botapi"
	"bundlealert-miniapp/internal/platform/telegram"
	"bundlealert-miniapp/internal/workers"
)

// BalanceSource reads ERC-20 balances; *chain.ERC20 satisfies it.
type BalanceSource interface {
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
}

type decimalsSource interface {
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

const (
	challengeTTL    = constants.SignatureMaxAge
	defaultDecimals = 18
)

type Service interface {
	Authenticate(ctx context.Context, initData string) (*botapi.AuthResponse, error)
	// UserFromToken resolves a bearer token to a user id.
	UserFromToken(ctx context.Context, token string) (int64, error)
	Initiate(ctx context.Context, userID int64) (*botapi.InitiateResponse, error)
	Verify(ctx context.Context, userID int64, req botapi.VerifyRequest) (*botapi.VerificationResult, error)
	Status(ctx context.Context, userID int64) (*botapi.UserStatus, error)
	Disconnect(ctx context.Context, userID int64, req botapi.DisconnectRequest) (*botapi.DisconnectResponse, error)
	Tokens() botapi.TokensResponse
	Balance(ctx context.Context, req botapi.BalanceRequest) (*botapi.TokenBalance, error)
	Feedback(ctx context.Context, userID int64, fb botapi.Feedback) error
}

type accountService struct {
	repo           repository.Repository
	balances       BalanceSource
	stub           config.Stub
	domain         string
	chainID        int64
	balanceTimeout time.Duration
	token          common.Address
	hasToken       bool
	tier2, tier3   decimal.Decimal
	events         workers.Publisher
	log            zerolog.Logger
	now            func() time.Time
}

type Option func(*accountService)

// WithEvents publishes tier changes to p.
func WithEvents(p workers.Publisher) Option {
	return func(s *accountService) { s.events = p }
}

// NewService builds the stub backend. balances may be nil, in which case every
// verified wallet is tier 1 and balance lookups fail.
func NewService(repo repository.Repository, balances BalanceSource, cfg *config.Config, log zerolog.Logger, opts ...Option) (Service, error) {
	tier2, err := decimal.NewFromString(cfg.Stub.Tier2Min)
	if err != nil {
		return nil, fmt.Errorf("STUB_TIER2_MIN: %w", err)
	}
	tier3, err := decimal.NewFromString(cfg.Stub.Tier3Min)
	if err != nil {
		return nil, fmt.Errorf("STUB_TIER3_MIN: %w", err)
	}
	if tier3.LessThan(tier2) {
		return nil, fmt.Errorf("STUB_TIER3_MIN (%s) must not be below STUB_TIER2_MIN (%s)", tier3, tier2)
	}

	s := &accountService{
		repo:           repo,
		balances:       balances,
		stub:           cfg.Stub,
		domain:         cfg.Domain,
		chainID:        cfg.Wallet.DefaultChainID,
		balanceTimeout: cfg.Wallet.BalanceTimeout,
		tier2:          tier2,
		tier3:          tier3,
		events:         workers.NopPublisher{},
		log:            log.With().Str("component", "accounts").Logger(),
		now:            time.Now,
	}
	if cfg.Stub.TokenContract != "" {
		if !common.IsHexAddress(cfg.Stub.TokenContract) {
			return nil, fmt.Errorf("STUB_TOKEN_CONTRACT is not an address: %q", cfg.Stub.TokenContract)
		}
		s.token = common.HexToAddress(cfg.Stub.TokenContract)
		s.hasToken = balances != nil
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *accountService) Authenticate(ctx context.Context, initData string) (*botapi.AuthResponse, error) {
	if s.stub.BotToken == "" {
		return nil, apperrors.New(apperrors.ErrCodeConfig, botapi.ServerErrBotTokenUnset).WithStatus(http.StatusUnauthorized)
	}
	if initData == "" {
		return nil, apperrors.NewValidationError("telegram_data", "Telegram data is required").WithStatus(http.StatusBadRequest)
	}
	user, err := telegram.ValidateInitData(initData, s.stub.BotToken, s.stub.InitTTL)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeAuthExpired, "Invalid Telegram data").WithStatus(http.StatusUnauthorized)
	}

	acc, err := s.account(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	acc.Username = user.Username
	acc.FirstName = user.FirstName
	if err := s.repo.SaveAccount(ctx, acc); err != nil {
		return nil, internal(err)
	}

	now := s.now()
	sess := &models.Session{Token: uuid.NewString(), UserID: user.ID, ExpiresAt: now.Add(s.stub.TokenTTL)}
	if err := s.repo.SaveSession(ctx, sess, s.stub.TokenTTL); err != nil {
		return nil, internal(err)
	}

	s.log.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("Issued session token")
	return &botapi.AuthResponse{Success: true, Token: sess.Token, UserID: user.ID}, nil
}

func (s *accountService) UserFromToken(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, apperrors.New(apperrors.ErrCodeAuthExpired, botapi.ServerErrNoToken).WithStatus(http.StatusUnauthorized)
	}
	sess, err := s.repo.GetSession(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, apperrors.New(apperrors.ErrCodeAuthExpired, "Invalid or expired token").WithStatus(http.StatusUnauthorized)
	}
	if err != nil {
		return 0, internal(err)
	}
	return sess.UserID, nil
}

func (s *accountService) Initiate(ctx context.Context, userID int64) (*botapi.InitiateResponse, error) {
	now := s.now()
	c := &models.Challenge{
		UserID:    userID,
		Nonce:     uuid.NewString(),
		Message:   constants.GenerateVerificationMessage(s.domain, now),
		CreatedAt: now,
		ExpiresAt: now.Add(challengeTTL),
	}
	if err := s.repo.SaveChallenge(ctx, c, challengeTTL); err != nil {
		return nil, internal(err)
	}
	return &botapi.InitiateResponse{Message: c.Message, Nonce: c.Nonce, ExpiresAt: c.ExpiresAt.Unix()}, nil
}

func (s *accountService) Verify(ctx context.Context, userID int64, req botapi.VerifyRequest) (*botapi.VerificationResult, error) {
	if err := validation.ValidateWalletInput(req.WalletAddress, req.Signature); err != nil {
		return nil, badRequest(err)
	}
	if err := s.checkMessage(ctx, userID, req.Message); err != nil {
		return nil, err
	}

	signer, err := recoverSigner(req.Message, req.Signature)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, constants.MsgInvalidSignature).WithStatus(http.StatusBadRequest)
	}
	if !strings.EqualFold(signer.Hex(), req.WalletAddress) {
		return nil, apperrors.New(apperrors.ErrCodeValidation, constants.MsgSignatureFailed).
			WithDetail("recovered", signer.Hex()).
			WithStatus(http.StatusBadRequest)
	}
	address := signer.Hex()

	owner, err := s.repo.OwnerOf(ctx, address)
	switch {
	case err == nil && owner != userID:
		return nil, apperrors.New(apperrors.ErrCodeValidation, constants.MsgWalletAlreadyConnected).WithStatus(http.StatusConflict)
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return nil, internal(err)
	}

	tier, balance, err := s.tierOf(ctx, signer)
	if err != nil {
		return nil, err
	}

	acc, err := s.account(ctx, userID)
	if err != nil {
		return nil, err
	}
	w := models.VerifiedWallet{Address: address, VerifiedAt: s.now(), Tier: tier, Balance: balance.String()}
	if i := acc.Wallet(address); i >= 0 {
		acc.Wallets[i] = w
	} else {
		acc.Wallets = append(acc.Wallets, w)
	}
	if err := s.repo.SaveAccount(ctx, acc); err != nil {
		return nil, internal(err)
	}

	st := s.buildStatus(acc, "")
	s.log.Info().
		Int64("user_id", userID).
		Str("address", address).
		Str("tier", tier).
		Int("wallets", len(acc.Wallets)).
		Msg("Wallet verified")
	s.publish(ctx, workers.Event{Type: workers.EventWalletVerified, UserID: userID, Address: address, Tier: st.CurrentState.CurrentTier})

	return &botapi.VerificationResult{
		Success:          true,
		Tier:             st.CurrentState.CurrentTier,
		WalletsVerified:  len(acc.Wallets),
		Message:          constants.MsgTierAssigned,
		Recommendations:  st.Recommendations,
		AvailableActions: st.AvailableActions,
	}, nil
}

// checkMessage accepts the fixed verification text or the user's pending challenge.
func (s *accountService) checkMessage(ctx context.Context, userID int64, message string) error {
	if !validation.ValidateSignatureMessage(message) {
		return apperrors.NewValidationError("message", "Invalid verification message").WithStatus(http.StatusBadRequest)
	}
	if message == constants.VerificationMessage {
		return nil
	}
	c, err := s.repo.GetChallenge(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewValidationError("message", constants.MsgSessionExpired).WithStatus(http.StatusBadRequest)
	}
	if err != nil {
		return internal(err)
	}
	if c.Message != message {
		return apperrors.NewValidationError("message", "Message does not match the pending challenge").WithStatus(http.StatusBadRequest)
	}
	return nil
}

// recoverSigner returns the address that produced an EIP-191 personal signature.
func recoverSigner(message, signature string) (common.Address, error) {
	if !strings.HasPrefix(signature, "0x") {
		signature = "0x" + signature
	}
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, err
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func (s *accountService) tierOf(ctx context.Context, holder common.Address) (string, *big.Int, error) {
	if !s.hasToken {
		return constants.Tier1, new(big.Int), nil
	}
	raw, err := s.balanceOf(ctx, s.token, holder)
	if err != nil {
		return "", nil, err
	}
	return s.tierFor(raw), raw, nil
}

func (s *accountService) tierFor(raw *big.Int) string {
	amount := decimal.NewFromBigInt(raw, -s.stub.TokenDecimals)
	switch {
	case amount.GreaterThanOrEqual(s.tier3):
		return constants.Tier3
	case amount.GreaterThanOrEqual(s.tier2):
		return constants.Tier2
	}
	return constants.Tier1
}

func (s *accountService) balanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	if s.balances == nil {
		return nil, apperrors.New(apperrors.ErrCodeConfig, "Balance lookups are not configured").WithStatus(http.StatusServiceUnavailable)
	}
	if s.balanceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.balanceTimeout)
		defer cancel()
	}
	raw, err := s.balances.BalanceOf(ctx, token, holder)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeNetwork, constants.MsgBalanceCheckFailed).WithStatus(http.StatusBadGateway)
	}
	return raw, nil
}

func (s *accountService) Status(ctx context.Context, userID int64) (*botapi.UserStatus, error) {
	acc, err := s.account(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.buildStatus(acc, s.liveTier(ctx, acc)), nil
}

// liveTier recomputes the tier from current balances, or "" when that is not possible.
func (s *accountService) liveTier(ctx context.Context, acc *models.Account) string {
	if !s.hasToken || len(acc.Wallets) == 0 {
		return ""
	}
	live := make([]models.VerifiedWallet, 0, len(acc.Wallets))
	for _, w := range acc.Wallets {
		tier, _, err := s.tierOf(ctx, common.HexToAddress(w.Address))
		if err != nil {
			s.log.Warn().Err(err).Str("address", w.Address).Msg("Balance re-check failed")
			return ""
		}
		live = append(live, models.VerifiedWallet{Tier: tier})
	}
	return mapper.HighestTier(live)
}

func (s *accountService) buildStatus(acc *models.Account, liveTier string) *botapi.UserStatus {
	current := mapper.HighestTier(acc.Wallets)
	st := &botapi.UserStatus{
		UserID: acc.UserID,
		CurrentState: botapi.CurrentState{
			CurrentTier:        current,
			HasVerifiedWallets: len(acc.Wallets) > 0,
			WalletCount:        len(acc.Wallets),
		},
		Wallets:          mapper.ToWallets(acc.Wallets),
		Recommendations:  []botapi.Recommendation{},
		AvailableActions: []string{},
	}
	if liveTier != "" && liveTier != current {
		st.CurrentState.TierMismatch = true
		st.CurrentState.TierFromBalance = liveTier
	}
	s.advise(st)
	return st
}

func (s *accountService) advise(st *botapi.UserStatus) {
	cs := st.CurrentState
	if !cs.HasVerifiedWallets {
		st.Recommendations = append(st.Recommendations, botapi.Recommendation{
			Title:   "Connect a wallet",
			Message: "Verify a wallet to unlock Tier 1 features.",
		})
		st.AvailableActions = append(st.AvailableActions, botapi.ActionConnectWallet)
		return
	}

	st.AvailableActions = append(st.AvailableActions, botapi.ActionConnectWallet, botapi.ActionReVerify)
	if cs.TierMismatch {
		st.Recommendations = append(st.Recommendations, botapi.Recommendation{
			Title:   "Tier update available",
			Message: fmt.Sprintf("Your balance now qualifies for %s. Re-verify to update your tier.", format.FormatTierDisplay(cs.TierFromBalance)),
		})
		st.AvailableActions = append(st.AvailableActions, botapi.ActionUpdateTier)
	}
	if s.hasToken && constants.TierOf(cs.CurrentTier).Level < constants.TierOf(constants.Tier3).Level {
		next, threshold := constants.Tier3, s.tier3
		if constants.TierOf(cs.CurrentTier).Level < constants.TierOf(constants.Tier2).Level {
			next, threshold = constants.Tier2, s.tier2
		}
		st.Recommendations = append(st.Recommendations, botapi.Recommendation{
			Title:   "Upgrade to " + format.FormatTierName(next),
			Message: fmt.Sprintf("Hold at least %s %s in a verified wallet.", threshold.String(), s.stub.TokenSymbol),
		})
		st.AvailableActions = append(st.AvailableActions, botapi.ActionUpgradeTier)
	}
	st.AvailableActions = append(st.AvailableActions, botapi.ActionDisconnectWallet)
}

func (s *accountService) Disconnect(ctx context.Context, userID int64, req botapi.DisconnectRequest) (*botapi.DisconnectResponse, error) {
	acc, err := s.account(ctx, userID)
	if err != nil {
		return nil, err
	}

	var keep, drop []models.VerifiedWallet
	switch {
	case req.DisconnectAll:
		drop = acc.Wallets
	case req.WalletAddress == nil || *req.WalletAddress == "":
		return nil, apperrors.NewValidationError("wallet_address", "wallet_address or disconnect_all is required").WithStatus(http.StatusBadRequest)
	default:
		for _, w := range acc.Wallets {
			if strings.EqualFold(w.Address, *req.WalletAddress) {
				drop = append(drop, w)
			} else {
				keep = append(keep, w)
			}
		}
		if len(drop) == 0 {
			return nil, apperrors.New(apperrors.ErrCodeNotFound, "Wallet is not verified for this account").WithStatus(http.StatusNotFound)
		}
	}

	if keep == nil {
		keep = []models.VerifiedWallet{}
	}
	acc.Wallets = keep
	if err := s.repo.SaveAccount(ctx, acc); err != nil {
		return nil, internal(err)
	}
	for _, w := range drop {
		if err := s.repo.ReleaseAddress(ctx, w.Address); err != nil {
			return nil, internal(err)
		}
	}

	newTier := mapper.HighestTier(keep)
	for _, w := range drop {
		s.publish(ctx, workers.Event{Type: workers.EventWalletDisconnected, UserID: userID, Address: w.Address, Tier: newTier})
	}
	s.log.Info().Int64("user_id", userID).Int("disconnected", len(drop)).Msg("Wallets disconnected")
	return &botapi.DisconnectResponse{Success: true, Disconnected: len(drop), NewTier: newTier}, nil
}

func (s *accountService) Tokens() botapi.TokensResponse {
	resp := botapi.TokensResponse{Tokens: []botapi.Token{}}
	if s.stub.TokenContract == "" {
		return resp
	}
	resp.Tokens = append(resp.Tokens, botapi.Token{
		Symbol:   s.stub.TokenSymbol,
		Name:     s.stub.TokenName,
		Contract: s.token.Hex(),
		Decimals: s.stub.TokenDecimals,
		ChainID:  s.chainID,
		MinTier2: s.tier2.String(),
		MinTier3: s.tier3.String(),
	})
	return resp
}

func (s *accountService) Balance(ctx context.Context, req botapi.BalanceRequest) (*botapi.TokenBalance, error) {
	if !validation.IsValidAddress(req.WalletAddress) {
		return nil, apperrors.NewValidationError("wallet_address", "Invalid wallet address format").WithStatus(http.StatusBadRequest)
	}
	contract := req.TokenContract
	if contract == "" {
		contract = s.stub.TokenContract
	}
	if !common.IsHexAddress(contract) {
		return nil, apperrors.NewValidationError("token_contract", "Invalid token contract").WithStatus(http.StatusBadRequest)
	}
	token := common.HexToAddress(contract)

	raw, err := s.balanceOf(ctx, token, common.HexToAddress(req.WalletAddress))
	if err != nil {
		return nil, err
	}

	out := &botapi.TokenBalance{
		WalletAddress: common.HexToAddress(req.WalletAddress).Hex(),
		TokenContract: token.Hex(),
		Balance:       raw.String(),
		Decimals:      defaultDecimals,
	}
	switch {
	case s.stub.TokenContract != "" && token == s.token:
		out.Decimals = s.stub.TokenDecimals
		out.Symbol = s.stub.TokenSymbol
	default:
		if ds, ok := s.balances.(decimalsSource); ok {
			if d, err := ds.Decimals(ctx, token); err == nil {
				out.Decimals = int32(d)
			}
		}
	}
	return out, nil
}

func (s *accountService) Feedback(_ context.Context, userID int64, fb botapi.Feedback) error {
	if strings.TrimSpace(fb.Message) == "" {
		return apperrors.NewValidationError("message", "Feedback message is required").WithStatus(http.StatusBadRequest)
	}
	if fb.Rating < 0 || fb.Rating > 5 {
		return apperrors.NewValidationError("rating", "Rating must be between 1 and 5").WithStatus(http.StatusBadRequest)
	}
	s.log.Info().
		Int64("user_id", userID).
		Str("type", fb.Type).
		Int("rating", fb.Rating).
		Str("message", validation.SanitizeInput(fb.Message)).
		Interface("metadata", fb.Metadata).
		Msg("Feedback received")
	return nil
}

// publish is best effort; the bot re-reads status on its own schedule.
func (s *accountService) publish(ctx context.Context, ev workers.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("event", ev.Type).Int64("user_id", ev.UserID).Msg("Publish tier event")
	}
}

// account returns the stored account or a fresh one for userID.
func (s *accountService) account(ctx context.Context, userID int64) (*models.Account, error) {
	acc, err := s.repo.GetAccount(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return &models.Account{UserID: userID, Wallets: []models.VerifiedWallet{}, CreatedAt: s.now()}, nil
	}
	if err != nil {
		return nil, internal(err)
	}
	return acc, nil
}

func badRequest(err error) error {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr.WithStatus(http.StatusBadRequest)
	}
	return apperrors.Wrap(err, apperrors.ErrCodeValidation, err.Error()).WithStatus(http.StatusBadRequest)
}

func internal(err error) error {
	return apperrors.Wrap(err, apperrors.ErrCodeInternal, constants.MsgUnexpected).WithStatus(http.StatusInternalServerError)
}
