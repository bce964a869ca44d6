package recovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/embedded-go/internal/config"
	apperrors "github.com/better-wallet/embedded-go/pkg/errors"
	"github.com/better-wallet/embedded-go/pkg/types"
)

type fakeIdentity struct {
	token    string
	userID   string
	tokenErr error
}

func (f *fakeIdentity) AccessToken(ctx context.Context) (string, error) {
	return f.token, f.tokenErr
}

func (f *fakeIdentity) UserID(ctx context.Context) (string, error) {
	return f.userID, nil
}

func baseConfig() *config.Config {
	return &config.Config{
		CustodyBaseURL:  "https://custody.example.com",
		AppID:           "app_test",
		Environment:     config.EnvDevelopment,
		PollInterval:    300 * time.Millisecond,
		PollMaxFailures: 3,
	}
}

func TestResolvePassword(t *testing.T) {
	resolver := NewResolver(baseConfig())
	id := &fakeIdentity{token: "tok", userID: "user-1"}

	params, requiresOTP, err := resolver.Resolve(context.Background(), types.RecoveryMethodPassword, id, ResolveOptions{Password: "hunter22"})
	require.NoError(t, err)
	assert.False(t, requiresOTP)
	assert.Equal(t, types.RecoveryKindPassword, params.Kind)
	assert.Equal(t, "hunter22", params.Password)
}

func TestResolvePasswordMissing(t *testing.T) {
	resolver := NewResolver(baseConfig())
	id := &fakeIdentity{token: "tok", userID: "user-1"}

	_, _, err := resolver.Resolve(context.Background(), types.RecoveryMethodPassword, id, ResolveOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestResolvePasskeyNoNetwork(t *testing.T) {
	resolver := NewResolver(baseConfig())
	id := &fakeIdentity{token: "tok", userID: "user-1"}

	params, requiresOTP, err := resolver.Resolve(context.Background(), types.RecoveryMethodPasskey, id, ResolveOptions{PasskeyID: "cred-1"})
	require.NoError(t, err)
	assert.False(t, requiresOTP)
	assert.Equal(t, types.RecoveryKindPasskey, params.Kind)
	assert.Equal(t, "cred-1", params.PasskeyID)
}

func TestResolveAutomaticUnconfigured(t *testing.T) {
	resolver := NewResolver(baseConfig())
	id := &fakeIdentity{token: "tok", userID: "user-1"}

	_, _, err := resolver.Resolve(context.Background(), types.RecoveryMethodAutomatic, id, ResolveOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfiguration))
}

func TestResolveAutomaticViaCallback(t *testing.T) {
	cfg := baseConfig()
	var gotToken, gotUser, gotOTP string
	cfg.EncryptionSessionFunc = func(ctx context.Context, accessToken, userID, otpCode string) (string, error) {
		gotToken, gotUser, gotOTP = accessToken, userID, otpCode
		return "sess-token", nil
	}
	resolver := NewResolver(cfg)
	id := &fakeIdentity{token: "tok", userID: "user-1"}

	params, requiresOTP, err := resolver.Resolve(context.Background(), "", id, ResolveOptions{OTPCode: "123456"})
	require.NoError(t, err)
	assert.False(t, requiresOTP)
	assert.Equal(t, types.RecoveryKindEncryptionSession, params.Kind)
	assert.Equal(t, "sess-token", params.EncryptionSession)
	assert.Equal(t, "tok", gotToken)
	assert.Equal(t, "user-1", gotUser)
	assert.Equal(t, "123456", gotOTP)
}

func TestResolveAutomaticCallbackRequiresOTP(t *testing.T) {
	cfg := baseConfig()
	cfg.EncryptionSessionFunc = func(ctx context.Context, accessToken, userID, otpCode string) (string, error) {
		return "", ErrOTPRequired
	}
	resolver := NewResolver(cfg)
	id := &fakeIdentity{token: "tok", userID: "user-1"}

	params, requiresOTP, err := resolver.Resolve(context.Background(), types.RecoveryMethodAutomatic, id, ResolveOptions{})
	require.NoError(t, err, "OTP_REQUIRED is control flow, not an error")
	assert.True(t, requiresOTP)
	assert.Nil(t, params)
}

func TestResolveAutomaticViaEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "user-1", req.UserID)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		if req.OTPCode == "" {
			json.NewEncoder(w).Encode(sessionResponse{Error: "OTP_REQUIRED"})
			return
		}
		json.NewEncoder(w).Encode(sessionResponse{Session: "sess-token"})
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.EncryptionSessionEndpoint = srv.URL
	resolver := NewResolver(cfg)
	id := &fakeIdentity{token: "tok", userID: "user-1"}

	// First attempt: backend wants an OTP
	params, requiresOTP, err := resolver.Resolve(context.Background(), types.RecoveryMethodAutomatic, id, ResolveOptions{})
	require.NoError(t, err)
	assert.True(t, requiresOTP)
	assert.Nil(t, params)

	// Retry with the code
	params, requiresOTP, err = resolver.Resolve(context.Background(), types.RecoveryMethodAutomatic, id, ResolveOptions{OTPCode: "123456"})
	require.NoError(t, err)
	assert.False(t, requiresOTP)
	assert.Equal(t, "sess-token", params.EncryptionSession)
}

func TestResolveAutomaticMissingToken(t *testing.T) {
	cfg := baseConfig()
	cfg.EncryptionSessionFunc = func(ctx context.Context, accessToken, userID, otpCode string) (string, error) {
		return "sess", nil
	}
	resolver := NewResolver(cfg)
	id := &fakeIdentity{tokenErr: assert.AnError}

	_, _, err := resolver.Resolve(context.Background(), types.RecoveryMethodAutomatic, id, ResolveOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAuthentication))
}
