// Package botapi is the typed client of the BundleAlert bot backend.
package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bundlealert-miniapp/internal/common/config"
	"bundlealert-miniapp/internal/common/constants"
	apperrors "bundlealert-miniapp/internal/common/errors"
	"bundlealert-miniapp/internal/common/validation"
	"bundlealert-miniapp/internal/platform/storage"
)

const healthTimeout = 5 * time.Second

// IdentityProvider supplies the host's signed init data for authentication.
type IdentityProvider interface {
	InitData() string
}

// Client calls the backend with bearer auth, one refresh on 401 and
// backoff retries on network errors and 5xx.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      storage.Store
	identity   IdentityProvider
	maxRetries int
	retryDelay time.Duration
	log        zerolog.Logger

	// serializes token refreshes
	refreshMu sync.Mutex
}

type Option func(*Client)

// WithHTTPClient replaces the default http client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(cfg config.API, store storage.Store, identity IdentityProvider, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		store:      store,
		identity:   identity,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		log:        log.With().Str("component", "botapi").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	method string
	path   string
	body   any
	auth   bool
	// retries on network errors and 5xx
	retry bool
}

// Token returns the stored bearer token.
func (c *Client) Token(ctx context.Context) string {
	tok, _, err := c.store.Get(ctx, constants.StorageSessionToken)
	if err != nil {
		c.log.Warn().Err(err).Msg("read session token")
	}
	return tok
}

// ClearToken removes the stored bearer token.
func (c *Client) ClearToken(ctx context.Context) {
	if err := c.store.Remove(ctx, constants.StorageSessionToken); err != nil {
		c.log.Warn().Err(err).Msg("clear session token")
	}
}

// AuthenticateTelegram exchanges the host init data for a bearer token and stores it.
func (c *Client) AuthenticateTelegram(ctx context.Context) (string, error) {
	initData := ""
	if c.identity != nil {
		initData = c.identity.InitData()
	}
	if initData == "" {
		return "", apperrors.NewConfigError("telegram_data", constants.MsgTelegramDataAbsent)
	}

	if !c.HealthCheck(ctx) {
		c.log.Warn().Str("base_url", c.baseURL).Msg("health check failed before authentication")
	}

	var out AuthResponse
	err := c.doOnce(ctx, request{
		method: http.MethodPost,
		path:   constants.PathAuthTelegram,
		body:   AuthRequest{TelegramData: initData},
		retry:  true,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", malformedError(fmt.Errorf("auth response has no token"))
	}
	if err := c.store.Set(ctx, constants.StorageSessionToken, out.Token); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "Failed to store session token")
	}
	c.log.Info().Msg("authenticated with telegram data")
	return out.Token, nil
}

// InitiateVerification runs the optional pre-flight for userID.
func (c *Client) InitiateVerification(ctx context.Context, userID string) (*InitiateResponse, error) {
	if !validation.IsValidUserID(userID) {
		return nil, apperrors.NewValidationError("user_id", "Invalid user ID")
	}
	var out InitiateResponse
	if err := c.do(ctx, request{
		method: http.MethodPost, path: constants.PathWalletInitiate,
		body: InitiateRequest{UserID: userID}, auth: true, retry: true,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyWallet submits the signed verification message.
func (c *Client) VerifyWallet(ctx context.Context, address, signature, message string) (*VerificationResult, error) {
	if err := validation.ValidateWalletInput(address, signature); err != nil {
		return nil, err
	}
	if message == "" {
		return nil, apperrors.NewValidationError("message", "Verification message is required")
	}

	var out VerificationResult
	if err := c.do(ctx, request{
		method: http.MethodPost, path: constants.PathWalletVerify,
		body: VerifyRequest{WalletAddress: address, Signature: signature, Message: message},
		auth: true, retry: true,
	}, &out); err != nil {
		return nil, err
	}

	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := c.store.Set(ctx, constants.StorageLastVerification, now); err != nil {
		c.log.Warn().Err(err).Msg("store last verification time")
	}
	return &out, nil
}

// GetComprehensiveStatus fetches the user's tier, wallets and suggested actions.
func (c *Client) GetComprehensiveStatus(ctx context.Context) (*UserStatus, error) {
	var out UserStatus
	err := c.do(ctx, request{method: http.MethodGet, path: constants.PathUserStatus, auth: true, retry: true}, &out)
	if err == nil {
		if out.CurrentState.CurrentTier != "" {
			if serr := c.store.Set(ctx, constants.StorageUserTier, out.CurrentState.CurrentTier); serr != nil {
				c.log.Warn().Err(serr).Msg("cache user tier")
			}
		}
		return &out, nil
	}

	appErr, _ := apperrors.AsAppError(err)
	if appErr == nil {
		return nil, err
	}
	switch {
	case appErr.Status == http.StatusUnauthorized:
		c.ClearToken(ctx)
		appErr.Message = constants.MsgAuthExpired
	case appErr.Status == http.StatusNotFound:
		appErr.Message = constants.MsgUserNotFound
	case appErr.Status >= 500:
		appErr.Message = constants.MsgServerUnavailable
	case appErr.Code == apperrors.ErrCodeNetwork:
		appErr.Message = constants.MsgNetworkIssue
	}
	return nil, appErr
}

// DisconnectWallet unlinks address, or every wallet when all is set.
func (c *Client) DisconnectWallet(ctx context.Context, address *string, all bool) (*DisconnectResponse, error) {
	var out DisconnectResponse
	if err := c.do(ctx, request{
		method: http.MethodPost, path: constants.PathWalletDisconnect,
		body: DisconnectRequest{WalletAddress: address, DisconnectAll: all}, auth: true, retry: true,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTokenBalance asks the backend for a token balance of address.
func (c *Client) GetTokenBalance(ctx context.Context, address, tokenContract string) (*TokenBalance, error) {
	if !validation.IsValidAddress(address) {
		return nil, apperrors.NewValidationError("wallet_address", "Invalid wallet address format")
	}
	var out TokenBalance
	if err := c.do(ctx, request{
		method: http.MethodPost, path: constants.PathWalletBalance,
		body: BalanceRequest{WalletAddress: address, TokenContract: tokenContract}, auth: true, retry: true,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSupportedTokens lists the tokens that count towards tiers.
func (c *Client) GetSupportedTokens(ctx context.Context) ([]Token, error) {
	var out TokensResponse
	if err := c.do(ctx, request{method: http.MethodGet, path: constants.PathTokensSupported, auth: true, retry: true}, &out); err != nil {
		return nil, err
	}
	return out.Tokens, nil
}

// SubmitFeedback sends feedback; failures are only logged.
func (c *Client) SubmitFeedback(ctx context.Context, fb Feedback) {
	fb.Message = validation.SanitizeInput(fb.Message)
	if err := c.do(ctx, request{method: http.MethodPost, path: constants.PathFeedback, body: fb, auth: true}, nil); err != nil {
		c.log.Warn().Err(err).Msg("submit feedback")
	}
}

// HealthCheck reports whether /health answers 200 within five seconds.
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+constants.PathHealth, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// do runs r with retries and, for authenticated requests, one token refresh on 401.
func (c *Client) do(ctx context.Context, r request, out any) error {
	err := c.doOnce(ctx, r, out)
	if err == nil || !r.auth || statusOf(err) != http.StatusUnauthorized {
		return err
	}

	c.log.Debug().Str("path", r.path).Msg("401, refreshing token")
	if rerr := c.refresh(ctx); rerr != nil {
		c.log.Warn().Err(rerr).Msg("token refresh failed")
		return err
	}
	// second 401 surfaces as is
	return c.doOnce(ctx, r, out)
}

func (c *Client) refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.ClearToken(ctx)
	_, err := c.AuthenticateTelegram(ctx)
	return err
}

// doOnce runs one logical request, retrying transport failures and 5xx with backoff.
func (c *Client) doOnce(ctx context.Context, r request, out any) error {
	attempts := 1
	if r.retry {
		attempts += c.maxRetries
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = c.send(ctx, r, out)
		if err == nil || !retryable(err) || i == attempts-1 {
			return err
		}

		delay := c.backoff(i)
		c.log.Debug().Err(err).Str("path", r.path).Int("attempt", i+1).Dur("delay", delay).Msg("retrying request")
		select {
		case <-ctx.Done():
			return networkError(ctx.Err())
		case <-time.After(delay):
		}
	}
	return err
}

// backoff is retryDelay·2^i plus up to retryDelay of jitter.
func (c *Client) backoff(i int) time.Duration {
	if c.retryDelay <= 0 {
		return 0
	}
	return c.retryDelay<<i + time.Duration(rand.Int63n(int64(c.retryDelay)))
}

func (c *Client) send(ctx context.Context, r request, out any) error {
	var body io.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "Failed to encode request")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "Failed to build request")
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Time", strconv.FormatInt(time.Now().UnixMilli(), 10))
	req.Header.Set("X-Request-ID", requestID)
	if r.auth {
		if tok := c.Token(ctx); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return networkError(err).WithRequestID(requestID).WithContext("path", r.path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(err).WithRequestID(requestID).WithContext("path", r.path)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb ErrorResponse
		_ = json.Unmarshal(raw, &eb)
		appErr := mapStatus(resp.StatusCode, eb).WithRequestID(requestID).WithContext("path", r.path)
		c.log.Debug().Int("status", resp.StatusCode).Str("path", r.path).Str("error", eb.Error).Msg("backend error")
		return appErr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return malformedError(err).WithRequestID(requestID).WithContext("path", r.path)
	}
	return nil
}
