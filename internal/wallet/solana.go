package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go/rpc"

	"github.com/better-wallet/embedded-go/internal/custody"
	"github.com/better-wallet/embedded-go/internal/kvstore"
	"github.com/better-wallet/embedded-go/internal/logger"
	"github.com/better-wallet/embedded-go/internal/metrics"
	"github.com/better-wallet/embedded-go/internal/recovery"
	apperrors "github.com/better-wallet/embedded-go/pkg/errors"
	"github.com/better-wallet/embedded-go/pkg/types"
)

// clusterStoreKey is where the active cluster selection persists locally.
const clusterStoreKey = "solana.cluster"

// SolanaMachine is the Solana wallet state machine.
type SolanaMachine struct {
	*Machine

	store      *kvstore.Store
	production bool

	clusterMu sync.Mutex
	cluster   string

	reconnectOnce sync.Once
}

// NewSolana creates the Solana machine. The persisted cluster selection is
// restored from store; a persisted mainnet-beta is ignored outside production
// so a stale dev profile can never point at mainnet by accident.
func NewSolana(
	svc custody.Service,
	resolver *recovery.Resolver,
	identity recovery.Identity,
	accounts AccountSource,
	m *metrics.Metrics,
	automaticEnabled bool,
	store *kvstore.Store,
	production bool,
) *SolanaMachine {
	sol := &SolanaMachine{
		Machine:    newMachine(types.ChainFamilySolana, svc, resolver, identity, accounts, m, automaticEnabled),
		store:      store,
		production: production,
		cluster:    rpc.DevNet.Name,
	}
	if production {
		sol.cluster = rpc.MainNetBeta.Name
	}

	if store != nil {
		if persisted := store.Get(clusterStoreKey); persisted != "" {
			if persisted == rpc.MainNetBeta.Name && !production {
				logger.Warn(context.Background(), "ignoring persisted mainnet-beta cluster outside production")
			} else if validCluster(persisted) {
				sol.cluster = persisted
			}
		}
	}

	sol.Machine.connectedState = func(address string) types.ConnectionState {
		return types.ConnectedSolana(address, sol.Cluster())
	}
	return sol
}

// Cluster returns the active cluster selection.
func (s *SolanaMachine) Cluster() string {
	s.clusterMu.Lock()
	defer s.clusterMu.Unlock()
	return s.cluster
}

// SetCluster changes and persists the active cluster.
func (s *SolanaMachine) SetCluster(ctx context.Context, cluster string) error {
	if !validCluster(cluster) {
		return fmt.Errorf("%w", apperrors.Validation(fmt.Sprintf("unknown cluster: %s", cluster)))
	}

	s.clusterMu.Lock()
	s.cluster = cluster
	s.clusterMu.Unlock()

	if s.store != nil {
		if err := s.store.Set(clusterStoreKey, cluster); err != nil {
			logger.Warn(ctx, "persisting cluster selection failed", "error", err)
		}
	}

	s.mu.Lock()
	if s.state.IsConnected() {
		s.setStateLocked(types.ConnectedSolana(s.state.Address, cluster))
	}
	s.mu.Unlock()
	return nil
}

// MaybeAutoReconnect silently re-activates the last-active account when
// exactly one Solana account is known and nothing was activated explicitly.
// It runs at most once per process lifetime, and any failure reverts to
// disconnected rather than error: a background reconnect must never surface
// as a user-facing failure.
func (s *SolanaMachine) MaybeAutoReconnect(ctx context.Context) {
	s.reconnectOnce.Do(func() {
		s.mu.Lock()
		idle := s.state.Status == types.StatusDisconnected
		s.mu.Unlock()
		if !idle {
			return
		}

		known := s.accounts.Accounts(types.ChainFamilySolana)
		if len(known) != 1 {
			return
		}

		last, err := s.svc.GetLastActive(ctx)
		if err != nil || last == nil {
			return
		}
		if last.ChainFamily != types.ChainFamilySolana || !known[0].MatchesAddress(last.Address) {
			return
		}

		if ok := s.silentActivate(ctx, known[0]); !ok {
			logger.Debug(ctx, "silent solana reconnect did not complete")
			return
		}
		logger.Info(ctx, "silent solana reconnect succeeded", "address", known[0].Address)
	})
}

// silentActivate performs an activation without ever publishing connecting or
// error states. Returns false when the attempt was abandoned; the machine is
// left disconnected in that case.
func (s *SolanaMachine) silentActivate(ctx context.Context, account types.EmbeddedAccount) bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	gen := s.currentGeneration()

	// Password-method accounts need user interaction; a background reconnect
	// cannot supply it.
	if account.RecoveryMethod == types.RecoveryMethodPassword {
		return false
	}

	params, requiresOTP, err := s.resolver.Resolve(ctx, account.RecoveryMethod, s.identity, recovery.ResolveOptions{})
	if err != nil || requiresOTP {
		return false
	}
	if err := s.svc.Recover(ctx, account.ID, params); err != nil {
		return false
	}
	signer, err := s.buildSigner(&account)
	if err != nil {
		return false
	}
	if !s.commitConnected(gen, &account, signer) {
		return false
	}
	s.metrics.Activations.WithLabelValues(string(types.ChainFamilySolana), metrics.OutcomeSuccess).Inc()
	return true
}

func validCluster(cluster string) bool {
	switch cluster {
	case rpc.MainNetBeta.Name, rpc.TestNet.Name, rpc.DevNet.Name, rpc.LocalNet.Name:
		return true
	default:
		return false
	}
}
