// Package bridge declares the optional external-wallet connection capability
// for EVM chains. The SDK never implements wallet-extension protocols; hosts
// plug in their own bridge adapter.
package bridge

import "context"

// Account is the bridge's view of the currently connected external wallet.
type Account struct {
	Address     string
	ChainID     int64
	IsConnected bool
	// Connector identifies which bridge connector produced the account.
	// When it equals the configured embedded-connector id, the address is
	// the embedded wallet surfaced through the bridge.
	Connector string
}

// Connector is the external-wallet bridge capability.
type Connector interface {
	// Account returns the bridge's current account snapshot.
	Account() Account

	// Connect prompts the external wallet to connect.
	Connect(ctx context.Context) error

	// Disconnect tears the external connection down.
	Disconnect(ctx context.Context) error

	// SwitchChain asks the connected wallet to move to chainID.
	SwitchChain(ctx context.Context, chainID int64) error

	// ConnectorAccounts lists the addresses the active connector exposes.
	ConnectorAccounts(ctx context.Context) ([]string, error)
}
