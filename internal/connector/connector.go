// Package connector drives the post-authentication wallet flow: after a user
// signs in, decide whether to mint, re-activate or skip the embedded wallet
// without any further user interaction.
package connector

import (
	"context"
	"fmt"

	"github.com/better-wallet/embedded-go/internal/logger"
	"github.com/better-wallet/embedded-go/internal/wallet"
	"github.com/better-wallet/embedded-go/pkg/types"
)

// Machine is the slice of a wallet state machine the connector operates.
type Machine interface {
	State() types.ConnectionState
	Active() *types.EmbeddedAccount
	Create(ctx context.Context, opts wallet.CreateOptions) (*wallet.OpResult, error)
	SetActive(ctx context.Context, opts wallet.ActivateOptions) (*wallet.OpResult, error)
}

// Session is the slice of the session context the connector consumes.
type Session interface {
	Accounts(family types.ChainFamily) []types.EmbeddedAccount
	Refresh(ctx context.Context) error
	Logout(ctx context.Context) error
}

// Options configures one TryUseWallet call.
type Options struct {
	// LogoutOnError ends the whole session when the flow fails, so a broken
	// wallet bootstrap never leaves a half-authenticated user behind.
	LogoutOnError bool

	// RecoverWalletAutomatically opts this call in even when no encryption
	// session mechanism is configured SDK-wide.
	RecoverWalletAutomatically bool
}

// Connector runs the post-authentication flow for one chain family.
type Connector struct {
	family    types.ChainFamily
	machine   Machine
	session   Session
	automatic bool
}

// New creates a connector. automatic mirrors whether an encryption session
// mechanism is configured; without it the flow is a no-op unless a call opts
// in explicitly.
func New(family types.ChainFamily, machine Machine, session Session, automatic bool) *Connector {
	return &Connector{
		family:    family,
		machine:   machine,
		session:   session,
		automatic: automatic,
	}
}

// TryUseWallet ensures the user has a usable embedded wallet.
//
// With no account on record it mints one; with existing accounts it activates
// the best candidate, preferring accounts that need no user interaction. A
// wallet that is already active is returned as-is, so repeated calls after
// login are harmless. The result can instead carry OTPPending or
// NeedsRecovery when the flow cannot finish without the user.
func (c *Connector) TryUseWallet(ctx context.Context, opts Options) (*wallet.OpResult, error) {
	if !c.automatic && !opts.RecoverWalletAutomatically {
		logger.Debug(ctx, "wallet flow skipped: automatic recovery unavailable",
			"chain_family", string(c.family))
		return nil, nil
	}

	if active := c.machine.Active(); active != nil && c.machine.State().IsConnected() {
		return &wallet.OpResult{Account: active}, nil
	}

	known := c.session.Accounts(c.family)
	if len(known) == 0 {
		result, err := c.machine.Create(ctx, wallet.CreateOptions{})
		if err != nil {
			return nil, c.failed(ctx, opts, fmt.Errorf("creating wallet: %w", err))
		}
		return result, nil
	}

	target := pickAccount(known)
	result, err := c.machine.SetActive(ctx, wallet.ActivateOptions{Address: target.Address})
	if err != nil {
		return nil, c.failed(ctx, opts, fmt.Errorf("activating wallet %s: %w", target.Address, err))
	}
	return result, nil
}

// pickAccount chooses the activation target: an account whose recovery runs
// without user interaction beats one that will prompt.
func pickAccount(accounts []types.EmbeddedAccount) types.EmbeddedAccount {
	for _, acct := range accounts {
		if acct.RecoveryMethod == types.RecoveryMethodAutomatic {
			return acct
		}
	}
	for _, acct := range accounts {
		if acct.RecoveryMethod == types.RecoveryMethodPasskey {
			return acct
		}
	}
	return accounts[0]
}

func (c *Connector) failed(ctx context.Context, opts Options, err error) error {
	if !opts.LogoutOnError {
		return err
	}
	logger.Warn(ctx, "wallet flow failed, ending session",
		"chain_family", string(c.family), "error", err)
	if lerr := c.session.Logout(ctx); lerr != nil {
		logger.Error(ctx, "logout after failed wallet flow", "error", lerr)
	}
	return err
}
