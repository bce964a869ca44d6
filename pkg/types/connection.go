package types

// ConnectionStatus constants
const (
	StatusDisconnected    ConnectionStatus = "disconnected"
	StatusFetchingWallets ConnectionStatus = "fetching_wallets"
	StatusCreating        ConnectionStatus = "creating"
	StatusConnecting      ConnectionStatus = "connecting"
	StatusNeedsRecovery   ConnectionStatus = "needs_recovery"
	StatusConnected       ConnectionStatus = "connected"
	StatusError           ConnectionStatus = "error"
)

// ConnectionStatus discriminates ConnectionState variants.
type ConnectionStatus string

// ConnectionState is the tagged connection status of one chain family's
// embedded wallet. At most one state is connected per chain family at a time.
// Only the owning state machine mutates it; logout resets it to disconnected.
type ConnectionState struct {
	Status  ConnectionStatus `json:"status"`
	Address string           `json:"address,omitempty"`
	// ChainID is set for connected EVM states only.
	ChainID int64 `json:"chain_id,omitempty"`
	// Cluster is set for connected Solana states only.
	Cluster string `json:"cluster,omitempty"`
	// ErrMessage is set for error states only.
	ErrMessage string `json:"error,omitempty"`
}

// Disconnected returns the zero connection state.
func Disconnected() ConnectionState {
	return ConnectionState{Status: StatusDisconnected}
}

// FetchingWallets returns the account-list-loading state.
func FetchingWallets() ConnectionState {
	return ConnectionState{Status: StatusFetchingWallets}
}

// CreatingState returns the in-flight create state.
func CreatingState() ConnectionState {
	return ConnectionState{Status: StatusCreating}
}

// ConnectingState returns the in-flight activation state.
func ConnectingState() ConnectionState {
	return ConnectionState{Status: StatusConnecting}
}

// NeedsRecoveryState marks a password-method account awaiting user-supplied
// recovery material.
func NeedsRecoveryState(address string) ConnectionState {
	return ConnectionState{Status: StatusNeedsRecovery, Address: address}
}

// ConnectedEVM returns a connected state for an EVM account.
func ConnectedEVM(address string, chainID int64) ConnectionState {
	return ConnectionState{Status: StatusConnected, Address: address, ChainID: chainID}
}

// ConnectedSolana returns a connected state for a Solana account.
func ConnectedSolana(address, cluster string) ConnectionState {
	return ConnectionState{Status: StatusConnected, Address: address, Cluster: cluster}
}

// ErrorState carries a failure message. It does not destroy the previously
// known account list; callers retry by re-invoking the failed operation.
func ErrorState(message string) ConnectionState {
	return ConnectionState{Status: StatusError, ErrMessage: message}
}

// IsConnected reports whether the state carries an active address.
func (s ConnectionState) IsConnected() bool {
	return s.Status == StatusConnected
}

// InFlight reports whether a create or activation exchange is outstanding.
func (s ConnectionState) InFlight() bool {
	return s.Status == StatusCreating || s.Status == StatusConnecting
}
