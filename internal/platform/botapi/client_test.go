package botapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bundlealert-miniapp/internal/common/config"
	"bundlealert-miniapp/internal/common/constants"
	apperrors "bundlealert-miniapp/internal/common/errors"
	"bundlealert-miniapp/internal/platform/storage"
)

type staticIdentity string

func (s staticIdentity) InitData() string { return string(s) }

const testAddress = "0x52908400098527886E0F7030069857D2E4169EE7"

var testSignature = "0x" + strings.Repeat("ab", 65)

func newTestClient(t *testing.T, h http.Handler, identity IdentityProvider) (*Client, *storage.MemoryStore) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	store := storage.NewMemoryStore()
	c := New(config.API{
		BaseURL:    srv.URL + "/",
		Timeout:    2 * time.Second,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}, store, identity, zerolog.Nop())
	return c, store
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestVerifyWalletSendsExactBody(t *testing.T) {
	var got map[string]any
	var headers http.Header
	mux := http.NewServeMux()
	mux.HandleFunc(constants.PathWalletVerify, func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &got))
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true, "tier": "tier2", "wallets_verified": 1,
			"recommendations": []any{"Hold more", map[string]string{"title": "Tip", "message": "Add a wallet"}},
		})
	})

	c, store := newTestClient(t, mux, nil)
	require.NoError(t, store.Set(context.Background(), constants.StorageSessionToken, "tok-1"))

	res, err := c.VerifyWallet(context.Background(), testAddress, testSignature, constants.VerificationMessage)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"wallet_address": testAddress,
		"signature":      testSignature,
		"message":        constants.VerificationMessage,
	}, got)
	assert.Equal(t, "Bearer tok-1", headers.Get("Authorization"))
	assert.NotEmpty(t, headers.Get("X-Request-ID"))
	assert.NotEmpty(t, headers.Get("X-Request-Time"))

	assert.Equal(t, "tier2", res.Tier)
	assert.Equal(t, 1, res.WalletsVerified)
	require.Len(t, res.Recommendations, 2)
	assert.Equal(t, "Hold more", res.Recommendations[0].Message)
	assert.Equal(t, "Tip", res.Recommendations[1].Title)

	_, ok, _ := store.Get(context.Background(), constants.StorageLastVerification)
	assert.True(t, ok)
}

func TestVerifyWalletValidatesBeforeSending(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}), nil)

	_, err := c.VerifyWallet(context.Background(), "0x123", testSignature, "msg")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	_, err = c.VerifyWallet(context.Background(), testAddress, "0xdead", "msg")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	assert.Zero(t, calls.Load())
}

func TestUnauthorizedRefreshesExactlyOnce(t *testing.T) {
	var statusCalls, authCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc(constants.PathHealth, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc(constants.PathAuthTelegram, func(w http.ResponseWriter, r *http.Request) {
		authCalls.Add(1)
		var req AuthRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "query_id=1&user=x", req.TelegramData)
		writeJSON(w, http.StatusOK, AuthResponse{Success: true, Token: "fresh"})
	})
	mux.HandleFunc(constants.PathUserStatus, func(w http.ResponseWriter, r *http.Request) {
		statusCalls.Add(1)
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Invalid token"})
	})

	c, store := newTestClient(t, mux, staticIdentity("query_id=1&user=x"))
	require.NoError(t, store.Set(context.Background(), constants.StorageSessionToken, "stale"))

	_, err := c.GetComprehensiveStatus(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAuthExpired))
	assert.Equal(t, constants.MsgAuthExpired, apperrors.UserMessage(err))

	assert.Equal(t, int32(2), statusCalls.Load(), "original plus one retry")
	assert.Equal(t, int32(1), authCalls.Load())
	_, ok, _ := store.Get(context.Background(), constants.StorageSessionToken)
	assert.False(t, ok, "token cleared after a second 401")
}

func TestUnauthorizedRetrySucceedsWithFreshToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(constants.PathHealth, func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc(constants.PathAuthTelegram, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, AuthResponse{Success: true, Token: "fresh"})
	})
	mux.HandleFunc(constants.PathUserStatus, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "No token provided"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"current_state":     map[string]any{"current_tier": "tier1", "has_verified_wallets": true, "wallet_count": 1},
			"wallets":           []any{map[string]any{"address": testAddress, "tier": "tier1"}},
			"available_actions": []string{ActionDisconnectWallet},
		})
	})

	c, store := newTestClient(t, mux, staticIdentity("init"))
	st, err := c.GetComprehensiveStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tier1", st.CurrentState.CurrentTier)
	assert.True(t, st.HasAction(ActionDisconnectWallet))
	assert.False(t, st.HasAction(ActionReVerify))

	tier, _, _ := store.Get(context.Background(), constants.StorageUserTier)
	assert.Equal(t, "tier1", tier)
	assert.Equal(t, "fresh", c.Token(context.Background()))
}

func TestAuthenticateWithoutInitData(t *testing.T) {
	c, _ := newTestClient(t, http.NotFoundHandler(), staticIdentity(""))
	_, err := c.AuthenticateTelegram(context.Background())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConfig))
	assert.Equal(t, constants.MsgTelegramDataAbsent, apperrors.UserMessage(err))
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, TokensResponse{Tokens: []Token{{Symbol: "BNDL", Decimals: 18}}})
	}), nil)

	tokens, err := c.GetSupportedTokens(context.Background())
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "BNDL", tokens[0].Symbol)
	assert.Equal(t, int32(3), calls.Load())
}

func TestServerErrorGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}), nil)

	_, err := c.GetComprehensiveStatus(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeServer))
	assert.Equal(t, constants.MsgServerUnavailable, apperrors.UserMessage(err))
	assert.Equal(t, int32(4), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Signature does not match"})
	}), nil)

	_, err := c.VerifyWallet(context.Background(), testAddress, testSignature, "msg")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	assert.Equal(t, "Signature does not match", apperrors.UserMessage(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   ErrorResponse
		code   apperrors.ErrorCode
		msg    string
	}{
		{"bad request default", 400, ErrorResponse{}, apperrors.ErrCodeValidation, constants.MsgInvalidSignature},
		{"no token", 401, ErrorResponse{Error: "No token provided"}, apperrors.ErrCodeAuthExpired, constants.MsgAuthRequired},
		{"bot token", 401, ErrorResponse{Error: "Bot token not configured"}, apperrors.ErrCodeConfig, constants.MsgServerMisconfigured},
		{"other 401", 401, ErrorResponse{Error: "bad"}, apperrors.ErrCodeAuthExpired, constants.MsgUnauthorized},
		{"forbidden", 403, ErrorResponse{}, apperrors.ErrCodeAuthExpired, constants.MsgAccessDenied},
		{"not found", 404, ErrorResponse{}, apperrors.ErrCodeNotFound, "Resource not found"},
		{"rate limited", 429, ErrorResponse{}, apperrors.ErrCodeRateLimited, constants.MsgRateLimited},
		{"server", 503, ErrorResponse{}, apperrors.ErrCodeServer, constants.MsgServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapStatus(tt.status, tt.body)
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.msg, err.Message)
			assert.Equal(t, tt.status, err.Status)
		})
	}
}

func TestMalformedResponseIsServerError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}), nil)
	_, err := c.GetSupportedTokens(context.Background())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeServer))
}

func TestNetworkFailure(t *testing.T) {
	c := New(config.API{BaseURL: "http://127.0.0.1:1", Timeout: time.Second, MaxRetries: 1, RetryDelay: time.Millisecond},
		storage.NewMemoryStore(), nil, zerolog.Nop())

	_, err := c.GetComprehensiveStatus(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNetwork))
	assert.Equal(t, constants.MsgNetworkIssue, apperrors.UserMessage(err))
	assert.False(t, c.HealthCheck(context.Background()))
}

func TestDisconnectAllSendsNullAddress(t *testing.T) {
	var got map[string]any
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, DisconnectResponse{Success: true, Disconnected: 2})
	}), nil)

	res, err := c.DisconnectWallet(context.Background(), nil, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Disconnected)
	assert.Equal(t, map[string]any{"wallet_address": nil, "disconnect_all": true}, got)
}

func TestSubmitFeedbackSwallowsErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}), nil)

	c.SubmitFeedback(context.Background(), Feedback{Type: "bug", Message: "<b>broken</b>"})
	assert.Equal(t, int32(1), calls.Load(), "feedback is not retried")
}
