// Package recovery resolves the concrete parameters a create or recover call
// needs, and drives the one-time-code fallback when an encryption session
// cannot be issued silently.
package recovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/better-wallet/embedded-go/internal/config"
	"github.com/better-wallet/embedded-go/internal/logger"
	apperrors "github.com/better-wallet/embedded-go/pkg/errors"
	"github.com/better-wallet/embedded-go/pkg/types"
)

// ErrOTPRequired is returned by encryption-session callbacks when the custody
// backend wants a one-time code before issuing a session. The resolver turns
// it into a RequiresOTP result, never into a caller-visible error.
var ErrOTPRequired = errors.New("otp required")

// otpRequiredWireError is the endpoint's equivalent of ErrOTPRequired.
const otpRequiredWireError = "OTP_REQUIRED"

// Identity supplies the authenticated caller's token and user id.
// The session context implements it.
type Identity interface {
	AccessToken(ctx context.Context) (string, error)
	UserID(ctx context.Context) (string, error)
}

// ResolveOptions carries optional caller-supplied recovery material.
type ResolveOptions struct {
	Password  string
	PasskeyID string
	OTPCode   string
}

// Resolver produces RecoveryParams for a requested method.
type Resolver struct {
	cfg  *config.Config
	http *http.Client
}

// NewResolver creates a resolver bound to the SDK configuration.
func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// Resolve maps a requested recovery method to concrete parameters.
//
// The second return value is the RequiresOTP signal: when true, no params are
// returned and no error occurred — the caller must obtain a one-time code and
// retry with ResolveOptions.OTPCode set. An unspecified method defaults to
// automatic.
func (r *Resolver) Resolve(ctx context.Context, requested types.RecoveryMethod, id Identity, opts ResolveOptions) (*types.RecoveryParams, bool, error) {
	switch requested {
	case types.RecoveryMethodPassword:
		if opts.Password == "" {
			return nil, false, apperrors.Validation("password is required for password recovery")
		}
		return types.PasswordRecovery(opts.Password), false, nil

	case types.RecoveryMethodPasskey:
		return types.PasskeyRecovery(opts.PasskeyID), false, nil

	case types.RecoveryMethodAutomatic, "":
		return r.resolveAutomatic(ctx, id, opts.OTPCode)

	default:
		return nil, false, apperrors.Validation(fmt.Sprintf("unknown recovery method: %s", requested))
	}
}

func (r *Resolver) resolveAutomatic(ctx context.Context, id Identity, otpCode string) (*types.RecoveryParams, bool, error) {
	if !r.cfg.AutomaticRecoveryEnabled() {
		return nil, false, apperrors.Configuration("no encryption session callback or endpoint configured")
	}

	token, err := id.AccessToken(ctx)
	if err != nil {
		return nil, false, apperrors.Authentication(err.Error())
	}
	userID, err := id.UserID(ctx)
	if err != nil {
		return nil, false, apperrors.Authentication(err.Error())
	}

	var session string
	if r.cfg.EncryptionSessionFunc != nil {
		session, err = r.cfg.EncryptionSessionFunc(ctx, token, userID, otpCode)
		if errors.Is(err, ErrOTPRequired) {
			logger.Debug(ctx, "encryption session deferred pending one-time code")
			return nil, true, nil
		}
	} else {
		var required bool
		session, required, err = r.fetchSession(ctx, token, userID, otpCode)
		if required {
			logger.Debug(ctx, "encryption session deferred pending one-time code")
			return nil, true, nil
		}
	}
	if err != nil {
		return nil, false, fmt.Errorf("obtaining encryption session: %w", err)
	}
	if session == "" {
		return nil, false, apperrors.Configuration("encryption session provider returned an empty session")
	}

	return types.SessionRecovery(session), false, nil
}

type sessionRequest struct {
	UserID  string `json:"user_id"`
	OTPCode string `json:"otp_code,omitempty"`
}

type sessionResponse struct {
	Session string `json:"session"`
	Error   string `json:"error"`
}

// fetchSession calls the host-supplied HTTP endpoint. The endpoint reports
// OTP_REQUIRED in-band rather than through a status code.
func (r *Resolver) fetchSession(ctx context.Context, token, userID, otpCode string) (string, bool, error) {
	payload, err := json.Marshal(sessionRequest{UserID: userID, OTPCode: otpCode})
	if err != nil {
		return "", false, fmt.Errorf("encoding session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.EncryptionSessionEndpoint, bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("building session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.http.Do(req)
	if err != nil {
		return "", false, apperrors.Network(err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", false, apperrors.Network(err.Error())
	}

	var wire sessionResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return "", false, fmt.Errorf("decoding session response: %w", err)
	}

	if wire.Error == otpRequiredWireError {
		return "", true, nil
	}
	if resp.StatusCode >= 400 {
		return "", false, apperrors.Network(fmt.Sprintf("session endpoint returned %d: %s", resp.StatusCode, wire.Error))
	}
	return wire.Session, false, nil
}
