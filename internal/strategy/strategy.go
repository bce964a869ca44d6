// Package strategy unifies embedded and externally-bridged wallets into one
// connected-address view per chain family, for read-only consumers.
package strategy

import (
	"github.com/better-wallet/embedded-go/internal/bridge"
	"github.com/better-wallet/embedded-go/internal/validation"
	"github.com/better-wallet/embedded-go/pkg/types"
)

// StateSource is the read side of a per-chain wallet state machine.
type StateSource interface {
	State() types.ConnectionState
}

// Strategy answers "which address is connected" for one chain family.
type Strategy interface {
	IsConnected() bool
	Address() string

	// ChainID is meaningful for EVM only; Solana strategies return 0.
	ChainID() int64
}

// Embedded reads exclusively from the embedded wallet state machine.
type Embedded struct {
	source StateSource
}

// NewEmbedded creates the embedded-only strategy.
func NewEmbedded(source StateSource) *Embedded {
	return &Embedded{source: source}
}

func (s *Embedded) IsConnected() bool {
	return s.source.State().IsConnected()
}

func (s *Embedded) Address() string {
	state := s.source.State()
	if !state.IsConnected() {
		return ""
	}
	return state.Address
}

func (s *Embedded) ChainID() int64 {
	return s.source.State().ChainID
}

// Bridged prefers the externally-connected wallet when the bridge reports
// one. When the bridge's connector id equals the configured embedded
// connector id, the reported address is the embedded wallet itself surfaced
// through the bridge; direct embedded-state reads then merely confirm it.
// Solana has no bridge path; this strategy is EVM-only.
type Bridged struct {
	connector           bridge.Connector
	embedded            StateSource
	embeddedConnectorID string
}

// NewBridged creates the bridge-preferring strategy.
func NewBridged(connector bridge.Connector, embedded StateSource, embeddedConnectorID string) *Bridged {
	return &Bridged{
		connector:           connector,
		embedded:            embedded,
		embeddedConnectorID: embeddedConnectorID,
	}
}

func (s *Bridged) IsConnected() bool {
	if s.connector.Account().IsConnected {
		return true
	}
	return s.embedded.State().IsConnected()
}

func (s *Bridged) Address() string {
	account := s.connector.Account()
	if account.IsConnected {
		return validation.NormalizeEVMAddress(account.Address)
	}
	state := s.embedded.State()
	if !state.IsConnected() {
		return ""
	}
	return state.Address
}

func (s *Bridged) ChainID() int64 {
	account := s.connector.Account()
	if account.IsConnected {
		return account.ChainID
	}
	return s.embedded.State().ChainID
}

// ViaEmbeddedConnector reports whether the bridge's active connection is the
// embedded wallet itself. Consumers use it to avoid treating the embedded
// address and the bridge address as two different wallets.
func (s *Bridged) ViaEmbeddedConnector() bool {
	account := s.connector.Account()
	return account.IsConnected &&
		s.embeddedConnectorID != "" &&
		account.Connector == s.embeddedConnectorID
}

// ForEVM selects the EVM strategy: bridge-backed when a connector is
// configured, embedded-only otherwise.
func ForEVM(connector bridge.Connector, embedded StateSource, embeddedConnectorID string) Strategy {
	if connector == nil {
		return NewEmbedded(embedded)
	}
	return NewBridged(connector, embedded, embeddedConnectorID)
}

// ForSolana selects the Solana strategy; always embedded.
func ForSolana(embedded StateSource) Strategy {
	return NewEmbedded(embedded)
}
