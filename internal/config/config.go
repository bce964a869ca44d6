package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// EncryptionSessionFunc exchanges an access token and user id for an
// encryption session token. Returning ErrOTPRequired-compatible sentinels is
// the provider's job; the resolver inspects the wire response instead when an
// endpoint is configured.
type EncryptionSessionFunc func(ctx context.Context, accessToken, userID, otpCode string) (string, error)

// OTPDeliveryFunc asks the host application to deliver a one-time code.
type OTPDeliveryFunc func(ctx context.Context, userID, accessToken, email, phone string) error

// Config holds SDK-level configuration.
// Provider callbacks cannot come from the environment; hosts assign them
// after Load and before Validate.
type Config struct {
	// Custody service
	CustodyBaseURL string
	AppID          string
	Environment    string

	// Encryption session provider: exactly one of callback or endpoint,
	// or neither when automatic recovery is unavailable.
	EncryptionSessionFunc     EncryptionSessionFunc
	EncryptionSessionEndpoint string

	// OTP delivery provider
	OTPDeliveryFunc     OTPDeliveryFunc
	OTPDeliveryEndpoint string

	// Embedded state poller
	PollInterval    time.Duration
	PollMaxFailures int
	PollBackoffBase time.Duration

	// Custody client throttle
	CustodyRPS   int
	CustodyBurst int

	// Bridge reconciliation: connector id the bridge reports when it carries
	// the embedded wallet. Empty means the bridge never does.
	BridgeEmbeddedConnectorID string

	// Local persistence (active Solana cluster selection)
	StateFilePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		CustodyBaseURL:            getEnv("CUSTODY_BASE_URL", ""),
		AppID:                     getEnv("CUSTODY_APP_ID", ""),
		Environment:               getEnv("APP_ENVIRONMENT", EnvDevelopment),
		EncryptionSessionEndpoint: getEnv("ENCRYPTION_SESSION_ENDPOINT", ""),
		OTPDeliveryEndpoint:       getEnv("OTP_DELIVERY_ENDPOINT", ""),
		PollInterval:              getEnvDuration("EMBEDDED_POLL_INTERVAL", 300*time.Millisecond),
		PollMaxFailures:           getEnvInt("EMBEDDED_POLL_MAX_FAILURES", 3),
		PollBackoffBase:           getEnvDuration("EMBEDDED_POLL_BACKOFF_BASE", 500*time.Millisecond),
		CustodyRPS:                getEnvInt("CUSTODY_RPS", 20),
		CustodyBurst:              getEnvInt("CUSTODY_BURST", 40),
		BridgeEmbeddedConnectorID: getEnv("BRIDGE_EMBEDDED_CONNECTOR_ID", ""),
		StateFilePath:             getEnv("EMBEDDED_STATE_FILE", defaultStateFile()),
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.CustodyBaseURL == "" {
		return fmt.Errorf("CUSTODY_BASE_URL is required")
	}
	if _, err := url.ParseRequestURI(c.CustodyBaseURL); err != nil {
		return fmt.Errorf("CUSTODY_BASE_URL is not a valid URL: %w", err)
	}

	if c.AppID == "" {
		return fmt.Errorf("CUSTODY_APP_ID is required")
	}

	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("APP_ENVIRONMENT must be 'development', 'staging' or 'production', got: %s", c.Environment)
	}

	if c.EncryptionSessionFunc != nil && c.EncryptionSessionEndpoint != "" {
		return fmt.Errorf("configure either an encryption session callback or endpoint, not both")
	}

	if c.OTPDeliveryFunc != nil && c.OTPDeliveryEndpoint != "" {
		return fmt.Errorf("configure either an OTP delivery callback or endpoint, not both")
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("EMBEDDED_POLL_INTERVAL must be positive")
	}

	if c.PollMaxFailures <= 0 {
		return fmt.Errorf("EMBEDDED_POLL_MAX_FAILURES must be positive")
	}

	return nil
}

// AutomaticRecoveryEnabled reports whether any encryption session mechanism
// is configured. Without one, automatic recovery (and the OTP fallback) is
// unavailable and callers fall back to password recovery.
func (c *Config) AutomaticRecoveryEnabled() bool {
	return c.EncryptionSessionFunc != nil || c.EncryptionSessionEndpoint != ""
}

// OTPEnabled reports whether an OTP delivery mechanism is configured.
func (c *Config) OTPEnabled() bool {
	return c.OTPDeliveryFunc != nil || c.OTPDeliveryEndpoint != ""
}

// IsProduction reports whether the SDK runs against production.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func defaultStateFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".embedded-wallet.json"
	}
	return dir + "/embedded-wallet/state.json"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(strings.TrimSpace(valueStr))
	if err != nil {
		return defaultValue
	}
	return value
}
