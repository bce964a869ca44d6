package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	apperrors "github.com/better-wallet/embedded-go/pkg/errors"
	"github.com/better-wallet/embedded-go/pkg/types"
)

const defaultTimeout = 15 * time.Second

// Client is the HTTP implementation of the custody Service
type Client struct {
	baseURL string
	appID   string
	tokens  TokenSource
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a custody client. rps/burst bound the outbound request
// rate so a hot poll loop cannot starve interactive calls of their quota.
func NewClient(baseURL, appID string, tokens TokenSource, rps, burst int) *Client {
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = rps * 2
	}
	return &Client{
		baseURL: baseURL,
		appID:   appID,
		tokens:  tokens,
		http:    &http.Client{Timeout: defaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type createRequest struct {
	ChainFamily    types.ChainFamily     `json:"chain_family"`
	AccountType    types.AccountType     `json:"account_type"`
	RecoveryParams *types.RecoveryParams `json:"recovery_params"`
	ChainID        int64                 `json:"chain_id,omitempty"`
}

type recoverRequest struct {
	RecoveryParams *types.RecoveryParams `json:"recovery_params"`
}

type setRecoveryRequest struct {
	Previous *types.RecoveryParams `json:"previous"`
	Next     *types.RecoveryParams `json:"next"`
}

type signMessageRequest struct {
	Message     []byte `json:"message"`
	HashMessage bool   `json:"hash_message"`
}

type signMessageResponse struct {
	Signature []byte `json:"signature"`
}

type embeddedStateResponse struct {
	State types.EmbeddedState `json:"state"`
}

type exportResponse struct {
	PrivateKey string `json:"private_key"`
}

type listResponse struct {
	Accounts []types.EmbeddedAccount `json:"accounts"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Create mints a new embedded account
func (c *Client) Create(ctx context.Context, family types.ChainFamily, accountType types.AccountType, params *types.RecoveryParams, chainID int64) (*types.EmbeddedAccount, error) {
	var account types.EmbeddedAccount
	req := createRequest{ChainFamily: family, AccountType: accountType, RecoveryParams: params, ChainID: chainID}
	if err := c.do(ctx, http.MethodPost, "/v1/wallets", req, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// Recover unlocks an existing account for this session
func (c *Client) Recover(ctx context.Context, accountID uuid.UUID, params *types.RecoveryParams) error {
	path := "/v1/wallets/" + accountID.String() + "/recover"
	return c.do(ctx, http.MethodPost, path, recoverRequest{RecoveryParams: params}, nil)
}

// List returns the session user's accounts
func (c *Client) List(ctx context.Context, limit int, accountType types.AccountType) ([]types.EmbeddedAccount, error) {
	path := "/v1/wallets?limit=" + strconv.Itoa(limit)
	if accountType != "" {
		path += "&account_type=" + string(accountType)
	}
	var resp listResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// GetLastActive returns the last-active account, or nil when none is recorded
func (c *Client) GetLastActive(ctx context.Context) (*types.EmbeddedAccount, error) {
	var account types.EmbeddedAccount
	err := c.do(ctx, http.MethodGet, "/v1/wallets/active", nil, &account)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeWalletNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// GetEmbeddedState returns the service's readiness view of the session
func (c *Client) GetEmbeddedState(ctx context.Context) (types.EmbeddedState, error) {
	var resp embeddedStateResponse
	if err := c.do(ctx, http.MethodGet, "/v1/embedded/state", nil, &resp); err != nil {
		return types.EmbeddedStateNone, err
	}
	return resp.State, nil
}

// SetRecoveryMethod rotates an account's recovery method
func (c *Client) SetRecoveryMethod(ctx context.Context, accountID uuid.UUID, previous, next *types.RecoveryParams) error {
	path := "/v1/wallets/" + accountID.String() + "/recovery"
	return c.do(ctx, http.MethodPut, path, setRecoveryRequest{Previous: previous, Next: next}, nil)
}

// ExportPrivateKey releases the key material to the caller
func (c *Client) ExportPrivateKey(ctx context.Context, accountID uuid.UUID) (string, error) {
	path := "/v1/wallets/" + accountID.String() + "/export"
	var resp exportResponse
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.PrivateKey, nil
}

// SignMessage signs content with the account's key
func (c *Client) SignMessage(ctx context.Context, accountID uuid.UUID, message []byte, hashMessage bool) ([]byte, error) {
	path := "/v1/wallets/" + accountID.String() + "/sign"
	var resp signMessageResponse
	req := signMessageRequest{Message: message, HashMessage: hashMessage}
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return resp.Signature, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("custody throttle: %w", err)
	}

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("%w", apperrors.Authentication(err.Error()))
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-App-Id", c.appID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w", apperrors.Network(err.Error()))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.mapError(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// mapError converts custody HTTP failures into the SDK taxonomy
func (c *Client) mapError(resp *http.Response) error {
	var wire errorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	json.Unmarshal(raw, &wire)

	detail := wire.Message
	if detail == "" {
		detail = fmt.Sprintf("custody service returned %d", resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return apperrors.Authentication(detail)
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NewWithDetail(apperrors.ErrCodeWalletNotFound, "Wallet not found", detail)
	case resp.StatusCode == http.StatusUnprocessableEntity, resp.StatusCode == http.StatusBadRequest:
		return apperrors.Validation(detail)
	default:
		return apperrors.Network(detail)
	}
}
