package service

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bundlealert-miniapp/internal/common/config"
	"bundlealert-miniapp/internal/common/constants"
	apperrors "bundlealert-miniapp/internal/common/errors"
	"bundlealert-miniapp/internal/features/accounts/repository/memory"
	"bundlealert-miniapp/internal/platform/botapi"
	"bundlealert-miniapp/internal/platform/telegram"
	"bundlealert-miniapp/internal/workers"
)

const (
	testBotToken = "123456:TEST"
	testContract = "0x1111111111111111111111111111111111111111"
)

type mockBalances struct {
	mock.Mock
}

func (m *mockBalances) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	args := m.Called(token, holder)
	if b, ok := args.Get(0).(*big.Int); ok {
		return b, args.Error(1)
	}
	return nil, args.Error(1)
}

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func testConfig(contract string) *config.Config {
	return &config.Config{
		Domain: "example.test",
		Wallet: config.Wallet{DefaultChainID: 1, BalanceTimeout: time.Second},
		Stub: config.Stub{
			BotToken:      testBotToken,
			TokenTTL:      time.Hour,
			InitTTL:       time.Hour,
			TokenContract: contract,
			TokenSymbol:   "BNDL",
			TokenName:     "BundleAlert Token",
			TokenDecimals: 18,
			Tier2Min:      "1000",
			Tier3Min:      "10000",
		},
	}
}

func newService(t *testing.T, balances BalanceSource, contract string) Service {
	t.Helper()
	svc, err := NewService(memory.NewRepository(), balances, testConfig(contract), zerolog.Nop())
	require.NoError(t, err)
	return svc
}

type wallet struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return wallet{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

func (w wallet) sign(t *testing.T, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), w.key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func (w wallet) request(t *testing.T, message string) botapi.VerifyRequest {
	return botapi.VerifyRequest{WalletAddress: w.addr.Hex(), Signature: w.sign(t, message), Message: message}
}

func statusOf(err error) int {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		return 0
	}
	return appErr.Status
}

func TestAuthenticateIssuesToken(t *testing.T) {
	svc := newService(t, nil, "")
	ctx := context.Background()

	raw, err := telegram.SignInitData(telegram.User{ID: 777, FirstName: "Ada", Username: "ada"}, testBotToken, time.Now())
	require.NoError(t, err)

	resp, err := svc.Authenticate(ctx, raw)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, int64(777), resp.UserID)
	require.NotEmpty(t, resp.Token)

	userID, err := svc.UserFromToken(ctx, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(777), userID)
}

func TestAuthenticateRejectsBadInitData(t *testing.T) {
	svc := newService(t, nil, "")
	raw, err := telegram.SignInitData(telegram.User{ID: 1, FirstName: "Eve"}, "999:OTHER", time.Now())
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), raw)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAuthExpired))
	assert.Equal(t, http.StatusUnauthorized, statusOf(err))

	_, err = svc.Authenticate(context.Background(), "")
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
}

func TestAuthenticateWithoutBotToken(t *testing.T) {
	cfg := testConfig("")
	cfg.Stub.BotToken = ""
	svc, err := NewService(memory.NewRepository(), nil, cfg, zerolog.Nop())
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), "query_id=x")
	require.Error(t, err)
	assert.Equal(t, botapi.ServerErrBotTokenUnset, apperrors.UserMessage(err))
	assert.Equal(t, http.StatusUnauthorized, statusOf(err))
}

func TestUserFromTokenErrors(t *testing.T) {
	svc := newService(t, nil, "")

	_, err := svc.UserFromToken(context.Background(), "")
	assert.Equal(t, botapi.ServerErrNoToken, apperrors.UserMessage(err))

	_, err = svc.UserFromToken(context.Background(), "unknown")
	assert.Equal(t, http.StatusUnauthorized, statusOf(err))
}

func TestVerifyWithoutTokenContractAssignsTier1(t *testing.T) {
	svc := newService(t, nil, "")
	ctx := context.Background()
	w := newWallet(t)

	res, err := svc.Verify(ctx, 1, w.request(t, constants.VerificationMessage))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, constants.Tier1, res.Tier)
	assert.Equal(t, 1, res.WalletsVerified)

	st, err := svc.Status(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, constants.Tier1, st.CurrentState.CurrentTier)
	assert.True(t, st.CurrentState.HasVerifiedWallets)
	require.Len(t, st.Wallets, 1)
	assert.Equal(t, w.addr.Hex(), st.Wallets[0].Address)
	assert.True(t, st.HasAction(botapi.ActionDisconnectWallet))
	assert.False(t, st.HasAction(botapi.ActionUpgradeTier), "no token means no upgrade path")
}

func TestVerifyAcceptsLowercaseAddress(t *testing.T) {
	svc := newService(t, nil, "")
	w := newWallet(t)
	req := w.request(t, constants.VerificationMessage)
	req.WalletAddress = "0x" + common.Bytes2Hex(w.addr.Bytes())

	_, err := svc.Verify(context.Background(), 1, req)
	require.NoError(t, err)
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	svc := newService(t, nil, "")
	signer, claimed := newWallet(t), newWallet(t)

	req := signer.request(t, constants.VerificationMessage)
	req.WalletAddress = claimed.addr.Hex()

	_, err := svc.Verify(context.Background(), 1, req)
	require.Error(t, err)
	assert.Equal(t, constants.MsgSignatureFailed, apperrors.UserMessage(err))
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	svc := newService(t, nil, "")

	_, err := svc.Verify(context.Background(), 1, botapi.VerifyRequest{WalletAddress: "nope", Signature: "0x00", Message: constants.VerificationMessage})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	assert.Equal(t, http.StatusBadRequest, statusOf(err))

	w := newWallet(t)
	_, err = svc.Verify(context.Background(), 1, w.request(t, "hello"))
	assert.Equal(t, http.StatusBadRequest, statusOf(err), "foreign messages are refused")
}

func TestVerifyWalletOwnedByAnotherUser(t *testing.T) {
	svc := newService(t, nil, "")
	ctx := context.Background()
	w := newWallet(t)

	_, err := svc.Verify(ctx, 1, w.request(t, constants.VerificationMessage))
	require.NoError(t, err)

	_, err = svc.Verify(ctx, 2, w.request(t, constants.VerificationMessage))
	require.Error(t, err)
	assert.Equal(t, constants.MsgWalletAlreadyConnected, apperrors.UserMessage(err))
	assert.Equal(t, http.StatusConflict, statusOf(err))

	// the owner may re-verify
	res, err := svc.Verify(ctx, 1, w.request(t, constants.VerificationMessage))
	require.NoError(t, err)
	assert.Equal(t, 1, res.WalletsVerified)
}

func TestVerifyChallengeMessage(t *testing.T) {
	svc := newService(t, nil, "")
	ctx := context.Background()
	w := newWallet(t)

	ch, err := svc.Initiate(ctx, 5)
	require.NoError(t, err)
	assert.Contains(t, ch.Message, constants.SignatureMessagePrefix)
	assert.Contains(t, ch.Message, "Domain: example.test")
	assert.NotEmpty(t, ch.Nonce)

	_, err = svc.Verify(ctx, 5, w.request(t, ch.Message))
	require.NoError(t, err)

	// another user's challenge text does not match
	_, err = svc.Verify(ctx, 6, newWallet(t).request(t, ch.Message))
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
}

func TestTiersFromTokenBalance(t *testing.T) {
	tests := []struct {
		name    string
		balance *big.Int
		want    string
	}{
		{"below tier 2", tokens(999), constants.Tier1},
		{"exactly tier 2", tokens(1000), constants.Tier2},
		{"between", tokens(9999), constants.Tier2},
		{"tier 3", tokens(10000), constants.Tier3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWallet(t)
			balances := &mockBalances{}
			balances.On("BalanceOf", common.HexToAddress(testContract), w.addr).Return(tt.balance, nil)
			svc := newService(t, balances, testContract)

			res, err := svc.Verify(context.Background(), 1, w.request(t, constants.VerificationMessage))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Tier)
			balances.AssertExpectations(t)
		})
	}
}

func TestStatusReportsTierMismatch(t *testing.T) {
	ctx := context.Background()
	w := newWallet(t)
	balances := &mockBalances{}
	balances.On("BalanceOf", mock.Anything, w.addr).Return(tokens(10), nil).Once()
	balances.On("BalanceOf", mock.Anything, w.addr).Return(tokens(2000), nil)
	svc := newService(t, balances, testContract)

	_, err := svc.Verify(ctx, 1, w.request(t, constants.VerificationMessage))
	require.NoError(t, err)

	st, err := svc.Status(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, constants.Tier1, st.CurrentState.CurrentTier)
	assert.True(t, st.CurrentState.TierMismatch)
	assert.Equal(t, constants.Tier2, st.CurrentState.TierFromBalance)
	assert.True(t, st.HasAction(botapi.ActionUpdateTier))
	assert.True(t, st.HasAction(botapi.ActionUpgradeTier))
	require.NotEmpty(t, st.Recommendations)
	assert.Equal(t, "Tier update available", st.Recommendations[0].Title)
}

func TestStatusSkipsMismatchWhenBalanceFails(t *testing.T) {
	ctx := context.Background()
	w := newWallet(t)
	balances := &mockBalances{}
	balances.On("BalanceOf", mock.Anything, w.addr).Return(tokens(1500), nil).Once()
	balances.On("BalanceOf", mock.Anything, w.addr).Return(nil, errors.New("node down"))
	svc := newService(t, balances, testContract)

	_, err := svc.Verify(ctx, 1, w.request(t, constants.VerificationMessage))
	require.NoError(t, err)

	st, err := svc.Status(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, constants.Tier2, st.CurrentState.CurrentTier)
	assert.False(t, st.CurrentState.TierMismatch)
}

func TestVerifyBalanceFailure(t *testing.T) {
	w := newWallet(t)
	balances := &mockBalances{}
	balances.On("BalanceOf", mock.Anything, w.addr).Return(nil, errors.New("node down"))
	svc := newService(t, balances, testContract)

	_, err := svc.Verify(context.Background(), 1, w.request(t, constants.VerificationMessage))
	require.Error(t, err)
	assert.Equal(t, constants.MsgBalanceCheckFailed, apperrors.UserMessage(err))
	assert.Equal(t, http.StatusBadGateway, statusOf(err))
}

func TestStatusOfUnknownUser(t *testing.T) {
	svc := newService(t, nil, "")

	st, err := svc.Status(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, constants.TierFree, st.CurrentState.CurrentTier)
	assert.Empty(t, st.Wallets)
	assert.Equal(t, []string{botapi.ActionConnectWallet}, st.AvailableActions)
}

func TestDisconnect(t *testing.T) {
	svc := newService(t, nil, "")
	ctx := context.Background()
	a, b := newWallet(t), newWallet(t)
	for _, w := range []wallet{a, b} {
		_, err := svc.Verify(ctx, 1, w.request(t, constants.VerificationMessage))
		require.NoError(t, err)
	}

	_, err := svc.Disconnect(ctx, 1, botapi.DisconnectRequest{})
	assert.Equal(t, http.StatusBadRequest, statusOf(err))

	other := newWallet(t).addr.Hex()
	_, err = svc.Disconnect(ctx, 1, botapi.DisconnectRequest{WalletAddress: &other})
	assert.Equal(t, http.StatusNotFound, statusOf(err))

	addr := a.addr.Hex()
	resp, err := svc.Disconnect(ctx, 1, botapi.DisconnectRequest{WalletAddress: &addr})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Disconnected)
	assert.Equal(t, constants.Tier1, resp.NewTier)

	// a released wallet can be claimed by someone else
	_, err = svc.Verify(ctx, 2, a.request(t, constants.VerificationMessage))
	require.NoError(t, err)

	resp, err = svc.Disconnect(ctx, 1, botapi.DisconnectRequest{DisconnectAll: true})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Disconnected)
	assert.Equal(t, constants.TierFree, resp.NewTier)

	st, err := svc.Status(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, st.Wallets)
}

func TestTokensAndBalance(t *testing.T) {
	assert.Empty(t, newService(t, nil, "").Tokens().Tokens)

	holder := newWallet(t).addr
	balances := &mockBalances{}
	balances.On("BalanceOf", common.HexToAddress(testContract), holder).Return(tokens(3), nil)
	svc := newService(t, balances, testContract)

	list := svc.Tokens().Tokens
	require.Len(t, list, 1)
	assert.Equal(t, "BNDL", list[0].Symbol)
	assert.Equal(t, "1000", list[0].MinTier2)
	assert.Equal(t, common.HexToAddress(testContract).Hex(), list[0].Contract)

	bal, err := svc.Balance(context.Background(), botapi.BalanceRequest{WalletAddress: holder.Hex()})
	require.NoError(t, err)
	assert.Equal(t, tokens(3).String(), bal.Balance)
	assert.Equal(t, int32(18), bal.Decimals)
	assert.Equal(t, "BNDL", bal.Symbol)

	_, err = svc.Balance(context.Background(), botapi.BalanceRequest{WalletAddress: "bad"})
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
}

func TestBalanceWithoutSource(t *testing.T) {
	svc := newService(t, nil, "")
	_, err := svc.Balance(context.Background(), botapi.BalanceRequest{
		WalletAddress: newWallet(t).addr.Hex(),
		TokenContract: testContract,
	})
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(err))
}

func TestFeedbackValidation(t *testing.T) {
	svc := newService(t, nil, "")
	assert.NoError(t, svc.Feedback(context.Background(), 1, botapi.Feedback{Type: "bug", Message: "it broke", Rating: 2}))
	assert.Error(t, svc.Feedback(context.Background(), 1, botapi.Feedback{Type: "bug"}))
	assert.Error(t, svc.Feedback(context.Background(), 1, botapi.Feedback{Message: "x", Rating: 9}))
}

func TestNewServiceRejectsBadThresholds(t *testing.T) {
	cfg := testConfig("")
	cfg.Stub.Tier3Min = "10"
	_, err := NewService(memory.NewRepository(), nil, cfg, zerolog.Nop())
	assert.Error(t, err)

	cfg = testConfig("not-an-address")
	_, err = NewService(memory.NewRepository(), nil, cfg, zerolog.Nop())
	assert.Error(t, err)
}

type recordingPublisher struct {
	events []workers.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev workers.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func TestTierEventsPublished(t *testing.T) {
	pub := &recordingPublisher{}
	svc, err := NewService(memory.NewRepository(), nil, testConfig(""), zerolog.Nop(), WithEvents(pub))
	require.NoError(t, err)
	ctx := context.Background()
	w := newWallet(t)

	_, err = svc.Verify(ctx, 3, w.request(t, constants.VerificationMessage))
	require.NoError(t, err)
	_, err = svc.Disconnect(ctx, 3, botapi.DisconnectRequest{DisconnectAll: true})
	require.NoError(t, err)

	require.Len(t, pub.events, 2)
	assert.Equal(t, workers.Event{Type: workers.EventWalletVerified, UserID: 3, Address: w.addr.Hex(), Tier: constants.Tier1}, pub.events[0])
	assert.Equal(t, workers.EventWalletDisconnected, pub.events[1].Type)
	assert.Equal(t, constants.TierFree, pub.events[1].Tier)
}
