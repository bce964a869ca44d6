package custody

import (
	"context"

	"github.com/google/uuid"

	"github.com/better-wallet/embedded-go/pkg/types"
)

// Service defines the remote key-custody capability the SDK consumes.
// Key material never crosses this boundary; every operation is an opaque
// request against the custody backend.
type Service interface {
	// Create mints a new embedded account for the chain family.
	// chainID is honored for EVM smart accounts and ignored otherwise.
	Create(ctx context.Context, family types.ChainFamily, accountType types.AccountType, params *types.RecoveryParams, chainID int64) (*types.EmbeddedAccount, error)

	// Recover unlocks an existing account's key material for this session.
	Recover(ctx context.Context, accountID uuid.UUID, params *types.RecoveryParams) error

	// List returns the session user's accounts, optionally filtered by
	// account type. An empty filter returns all types.
	List(ctx context.Context, limit int, accountType types.AccountType) ([]types.EmbeddedAccount, error)

	// GetLastActive returns the account the custody service last had active
	// for this session, or nil when none is recorded.
	GetLastActive(ctx context.Context) (*types.EmbeddedAccount, error)

	// GetEmbeddedState returns the service's readiness view of the session.
	GetEmbeddedState(ctx context.Context) (types.EmbeddedState, error)

	// SetRecoveryMethod rotates an account's recovery method. The previous
	// method's material authorizes the change.
	SetRecoveryMethod(ctx context.Context, accountID uuid.UUID, previous, next *types.RecoveryParams) error

	// ExportPrivateKey releases the key material to the caller.
	ExportPrivateKey(ctx context.Context, accountID uuid.UUID) (string, error)

	// SignMessage signs content with the active account's key.
	// hashMessage selects EIP-191 prehashing; Solana/Ed25519 signs raw bytes.
	SignMessage(ctx context.Context, accountID uuid.UUID, message []byte, hashMessage bool) ([]byte, error)
}

// TokenSource supplies the bearer token for custody requests.
// The session context implements it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}
