package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChainFamily constants
const (
	ChainFamilyEVM    ChainFamily = "evm"
	ChainFamilySolana ChainFamily = "solana"
)

// ChainFamily identifies which wallet domain an account belongs to.
// EVM and Solana have separate address formats and independent state machines.
type ChainFamily string

// AccountType constants
const (
	AccountTypeEOA   AccountType = "eoa"
	AccountTypeSmart AccountType = "smart"
)

// AccountType distinguishes externally-owned accounts from smart accounts.
type AccountType string

// RecoveryMethod constants
const (
	RecoveryMethodPassword  RecoveryMethod = "password"
	RecoveryMethodPasskey   RecoveryMethod = "passkey"
	RecoveryMethodAutomatic RecoveryMethod = "automatic"
)

// RecoveryMethod is the mechanism a user re-authorizes key access with.
type RecoveryMethod string

// EmbeddedState reflects the custody service's view of the current session,
// independent of which specific wallet is active. It transitions only via
// poller responses.
type EmbeddedState string

const (
	EmbeddedStateNone                EmbeddedState = "none"
	EmbeddedStateCreatingAccount     EmbeddedState = "creating_account"
	EmbeddedStateUnauthenticated     EmbeddedState = "unauthenticated"
	EmbeddedStateSignerNotConfigured EmbeddedState = "signer_not_configured"
	EmbeddedStateReady               EmbeddedState = "ready"
)

// EmbeddedAccount represents one remotely-custodied key material record.
// Immutable once created except for the recovery method, which changes only
// through the set-recovery operation.
type EmbeddedAccount struct {
	ID             uuid.UUID      `json:"id"`
	ChainFamily    ChainFamily    `json:"chain_family"`
	Address        string         `json:"address"`
	AccountType    AccountType    `json:"account_type"`
	OwnerAddress   string         `json:"owner_address,omitempty"`
	RecoveryMethod RecoveryMethod `json:"recovery_method"`
	CreatedAt      time.Time      `json:"created_at"`
}

// MatchesAddress reports whether the account's address equals addr,
// case-insensitively. EVM addresses differ only in checksum casing; the
// custody service returns Solana addresses canonically, so a fold compare
// is safe for both families.
func (a *EmbeddedAccount) MatchesAddress(addr string) bool {
	return strings.EqualFold(a.Address, addr)
}

// DedupeAccountsByAddress collapses accounts sharing an address within a
// chain family, keeping the first occurrence. Smart accounts can appear once
// per logical chain id while referring to the same key material.
func DedupeAccountsByAddress(accounts []EmbeddedAccount) []EmbeddedAccount {
	seen := make(map[string]bool, len(accounts))
	out := make([]EmbeddedAccount, 0, len(accounts))
	for _, acct := range accounts {
		key := string(acct.ChainFamily) + ":" + strings.ToLower(acct.Address)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, acct)
	}
	return out
}

// RecoveryKind discriminates RecoveryParams variants.
type RecoveryKind string

const (
	RecoveryKindPassword          RecoveryKind = "password"
	RecoveryKindPasskey           RecoveryKind = "passkey"
	RecoveryKindEncryptionSession RecoveryKind = "encryption_session"
)

// RecoveryParams carries the material for one create/recover call.
// Ephemeral: built per call, never persisted.
type RecoveryParams struct {
	Kind              RecoveryKind `json:"kind"`
	Password          string       `json:"password,omitempty"`
	PasskeyID         string       `json:"passkey_id,omitempty"`
	EncryptionSession string       `json:"encryption_session,omitempty"`
}

// PasswordRecovery builds password-method params.
func PasswordRecovery(password string) *RecoveryParams {
	return &RecoveryParams{Kind: RecoveryKindPassword, Password: password}
}

// PasskeyRecovery builds passkey-method params. The id may be empty when the
// authenticator should prompt for any registered passkey.
func PasskeyRecovery(passkeyID string) *RecoveryParams {
	return &RecoveryParams{Kind: RecoveryKindPasskey, PasskeyID: passkeyID}
}

// SessionRecovery builds automatic-method params from an encryption session.
func SessionRecovery(session string) *RecoveryParams {
	return &RecoveryParams{Kind: RecoveryKindEncryptionSession, EncryptionSession: session}
}

// Method maps the params variant back to the recovery method it satisfies.
func (p *RecoveryParams) Method() RecoveryMethod {
	switch p.Kind {
	case RecoveryKindPassword:
		return RecoveryMethodPassword
	case RecoveryKindPasskey:
		return RecoveryMethodPasskey
	default:
		return RecoveryMethodAutomatic
	}
}
