package recovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/better-wallet/embedded-go/internal/config"
	"github.com/better-wallet/embedded-go/internal/logger"
	apperrors "github.com/better-wallet/embedded-go/pkg/errors"
	"github.com/better-wallet/embedded-go/pkg/types"
)

// ResendCooldown is the delay callers should enforce between OTP requests.
// The controller itself is stateless per call.
const ResendCooldown = 10 * time.Second

// OTPSentTo constants
const (
	OTPSentToEmail = "email"
	OTPSentToPhone = "phone"
)

// OTPChallenge describes where a one-time code was delivered.
type OTPChallenge struct {
	SentTo string `json:"sent_to"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

// OTPController requests one-time code delivery through the host-supplied
// mechanism. It never delivers codes itself.
type OTPController struct {
	cfg  *config.Config
	http *http.Client
}

// NewOTPController creates an OTP controller.
func NewOTPController(cfg *config.Config) *OTPController {
	return &OTPController{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// Enabled reports whether a delivery mechanism is configured.
func (o *OTPController) Enabled() bool {
	return o.cfg.OTPEnabled()
}

// Request asks the host to deliver a one-time code to the user's verified
// email, or phone when no verified email exists. A user with neither gets
// ErrNoVerifiedIdentifier so the caller can route to "link an identifier"
// instead of retrying.
func (o *OTPController) Request(ctx context.Context, user *types.User, id Identity) (*OTPChallenge, error) {
	if !o.Enabled() {
		return nil, apperrors.Configuration("no OTP delivery callback or endpoint configured")
	}
	if user == nil {
		return nil, apperrors.ErrNotAuthenticated
	}

	challenge := &OTPChallenge{}
	if email, ok := user.VerifiedEmail(); ok {
		challenge.SentTo = OTPSentToEmail
		challenge.Email = email
	} else if phone, ok := user.VerifiedPhone(); ok {
		challenge.SentTo = OTPSentToPhone
		challenge.Phone = phone
	} else {
		return nil, apperrors.ErrNoVerifiedIdentifier
	}

	token, err := id.AccessToken(ctx)
	if err != nil {
		return nil, apperrors.Authentication(err.Error())
	}
	userID, err := id.UserID(ctx)
	if err != nil {
		return nil, apperrors.Authentication(err.Error())
	}

	if o.cfg.OTPDeliveryFunc != nil {
		err = o.cfg.OTPDeliveryFunc(ctx, userID, token, challenge.Email, challenge.Phone)
	} else {
		err = o.deliverViaEndpoint(ctx, token, userID, challenge)
	}
	if err != nil {
		return nil, apperrors.NewWithDetail(apperrors.ErrCodeOTPDelivery, "One-time code delivery failed", err.Error())
	}

	logger.Info(ctx, "one-time code requested", "sent_to", challenge.SentTo)
	return challenge, nil
}

type otpDeliveryRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

func (o *OTPController) deliverViaEndpoint(ctx context.Context, token, userID string, challenge *OTPChallenge) error {
	payload, err := json.Marshal(otpDeliveryRequest{UserID: userID, Email: challenge.Email, Phone: challenge.Phone})
	if err != nil {
		return fmt.Errorf("encoding delivery request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.OTPDeliveryEndpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := o.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("delivery endpoint returned %d", resp.StatusCode)
	}
	return nil
}
