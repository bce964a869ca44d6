package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/better-wallet/embedded-go/internal/custody"
	"github.com/better-wallet/embedded-go/internal/metrics"
	"github.com/better-wallet/embedded-go/internal/recovery"
	"github.com/better-wallet/embedded-go/internal/validation"
	apperrors "github.com/better-wallet/embedded-go/pkg/errors"
	"github.com/better-wallet/embedded-go/pkg/types"
)

// DefaultEVMChainID is used when the host never selects a chain.
const DefaultEVMChainID = 1

// EVMMachine is the Ethereum-family wallet state machine.
type EVMMachine struct {
	*Machine

	chainMu sync.Mutex
	chainID int64
}

// NewEVM creates the Ethereum-family machine.
func NewEVM(
	svc custody.Service,
	resolver *recovery.Resolver,
	identity recovery.Identity,
	accounts AccountSource,
	m *metrics.Metrics,
	automaticEnabled bool,
	chainID int64,
) *EVMMachine {
	if chainID <= 0 {
		chainID = DefaultEVMChainID
	}
	evm := &EVMMachine{
		Machine: newMachine(types.ChainFamilyEVM, svc, resolver, identity, accounts, m, automaticEnabled),
		chainID: chainID,
	}
	evm.Machine.connectedState = func(address string) types.ConnectionState {
		return types.ConnectedEVM(validation.NormalizeEVMAddress(address), evm.ChainID())
	}
	return evm
}

// ChainID returns the chain the machine reports for connected states.
func (e *EVMMachine) ChainID() int64 {
	e.chainMu.Lock()
	defer e.chainMu.Unlock()
	return e.chainID
}

// SwitchChain changes the reported chain id. The embedded wallet signs for
// any EVM chain, so this is bookkeeping, not a custody operation.
func (e *EVMMachine) SwitchChain(ctx context.Context, chainID int64) error {
	if err := validation.ValidateChainID(chainID); err != nil {
		return fmt.Errorf("%w", apperrors.Validation(err.Error()))
	}

	e.chainMu.Lock()
	e.chainID = chainID
	e.chainMu.Unlock()

	// Re-publish the connected state so consumers observe the new chain.
	e.mu.Lock()
	if e.state.IsConnected() {
		e.setStateLocked(types.ConnectedEVM(e.state.Address, chainID))
	}
	e.mu.Unlock()
	return nil
}
