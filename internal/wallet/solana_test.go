package wallet

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/embedded-go/internal/kvstore"
	"github.com/better-wallet/embedded-go/internal/metrics"
	"github.com/better-wallet/embedded-go/internal/recovery"
	apperrors "github.com/better-wallet/embedded-go/pkg/errors"
	"github.com/better-wallet/embedded-go/pkg/types"
	"github.com/better-wallet/embedded-go/tests/mocks"
)

func (f *fixture) solana(t *testing.T, store *kvstore.Store, production bool) *SolanaMachine {
	t.Helper()
	resolver := recovery.NewResolver(f.cfg)
	return NewSolana(f.svc, resolver, fakeIdentity{}, f.accounts, metrics.New(), f.cfg.AutomaticRecoveryEnabled(), store, production)
}

func seedSolanaAccount(f *fixture, seed byte, method types.RecoveryMethod) types.EmbeddedAccount {
	account := types.EmbeddedAccount{
		ID:             uuid.New(),
		ChainFamily:    types.ChainFamilySolana,
		Address:        mocks.SolanaAddress(seed),
		AccountType:    types.AccountTypeEOA,
		RecoveryMethod: method,
		CreatedAt:      time.Now().UTC(),
	}
	f.svc.SeedAccount(account)
	f.accounts.Refresh(context.Background())
	return account
}

func TestSolanaAutoReconnect(t *testing.T) {
	f := newFixture(t).withAutomatic(nil)
	machine := f.solana(t, nil, false)
	account := seedSolanaAccount(f, 1, types.RecoveryMethodAutomatic)
	f.svc.SetLastActive(&account)

	machine.MaybeAutoReconnect(context.Background())

	state := machine.State()
	assert.Equal(t, types.StatusConnected, state.Status)
	assert.Equal(t, account.Address, state.Address)
	assert.Equal(t, rpc.DevNet.Name, state.Cluster)
	assert.Equal(t, 1, f.svc.RecoverCalls())
}

func TestSolanaAutoReconnectRunsAtMostOnce(t *testing.T) {
	f := newFixture(t).withAutomatic(nil)
	machine := f.solana(t, nil, false)
	account := seedSolanaAccount(f, 1, types.RecoveryMethodAutomatic)
	f.svc.SetLastActive(&account)

	machine.MaybeAutoReconnect(context.Background())
	require.Equal(t, types.StatusConnected, machine.State().Status)

	machine.Logout()
	machine.MaybeAutoReconnect(context.Background())
	assert.Equal(t, types.StatusDisconnected, machine.State().Status, "a remount must not re-trigger the one-shot reconnect")
	assert.Equal(t, 1, f.svc.RecoverCalls())
}

func TestSolanaAutoReconnectSkipsMultipleAccounts(t *testing.T) {
	f := newFixture(t).withAutomatic(nil)
	machine := f.solana(t, nil, false)
	first := seedSolanaAccount(f, 1, types.RecoveryMethodAutomatic)
	seedSolanaAccount(f, 2, types.RecoveryMethodAutomatic)
	f.svc.SetLastActive(&first)

	machine.MaybeAutoReconnect(context.Background())
	assert.Equal(t, types.StatusDisconnected, machine.State().Status)
	assert.Equal(t, 0, f.svc.RecoverCalls())
}

func TestSolanaAutoReconnectFailureIsSilent(t *testing.T) {
	f := newFixture(t).withAutomatic(nil)
	machine := f.solana(t, nil, false)
	account := seedSolanaAccount(f, 1, types.RecoveryMethodAutomatic)
	f.svc.SetLastActive(&account)
	f.svc.FailNextRecover(apperrors.Network("custody unreachable"))

	updates := machine.Subscribe()
	machine.MaybeAutoReconnect(context.Background())

	assert.Equal(t, types.StatusDisconnected, machine.State().Status, "background reconnect reverts to disconnected, never error")

	select {
	case state := <-updates:
		t.Fatalf("no state change may be published for a failed silent reconnect, got %v", state.Status)
	default:
	}
}

func TestSolanaAutoReconnectSkipsPasswordAccounts(t *testing.T) {
	f := newFixture(t).withAutomatic(nil)
	machine := f.solana(t, nil, false)
	account := seedSolanaAccount(f, 1, types.RecoveryMethodPassword)
	f.svc.SetLastActive(&account)

	machine.MaybeAutoReconnect(context.Background())
	assert.Equal(t, types.StatusDisconnected, machine.State().Status)
	assert.Equal(t, 0, f.svc.RecoverCalls())
}

func TestSolanaAutoReconnectMismatchedLastActive(t *testing.T) {
	f := newFixture(t).withAutomatic(nil)
	machine := f.solana(t, nil, false)
	seedSolanaAccount(f, 1, types.RecoveryMethodAutomatic)

	other := types.EmbeddedAccount{
		ID:          uuid.New(),
		ChainFamily: types.ChainFamilySolana,
		Address:     mocks.SolanaAddress(9),
	}
	f.svc.SetLastActive(&other)

	machine.MaybeAutoReconnect(context.Background())
	assert.Equal(t, types.StatusDisconnected, machine.State().Status)
}

func TestClusterPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := kvstore.Open(path)
	require.NoError(t, err)

	f := newFixture(t).withAutomatic(nil)
	machine := f.solana(t, store, false)
	assert.Equal(t, rpc.DevNet.Name, machine.Cluster())

	require.NoError(t, machine.SetCluster(context.Background(), rpc.TestNet.Name))

	// A new machine restores the selection from disk.
	reloaded, err := kvstore.Open(path)
	require.NoError(t, err)
	again := f.solana(t, reloaded, false)
	assert.Equal(t, rpc.TestNet.Name, again.Cluster())

	assert.Error(t, machine.SetCluster(context.Background(), "moonnet"))
}

func TestPersistedMainnetIgnoredOutsideProduction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := kvstore.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Set("solana.cluster", rpc.MainNetBeta.Name))

	f := newFixture(t).withAutomatic(nil)

	dev := f.solana(t, store, false)
	assert.Equal(t, rpc.DevNet.Name, dev.Cluster(), "persisted mainnet-beta is a safety hazard outside production")

	prod := f.solana(t, store, true)
	assert.Equal(t, rpc.MainNetBeta.Name, prod.Cluster())
}

func TestSolanaConnectedStateCarriesCluster(t *testing.T) {
	f := newFixture(t).withAutomatic(nil)
	machine := f.solana(t, nil, false)
	account := seedSolanaAccount(f, 1, types.RecoveryMethodAutomatic)

	result, err := machine.SetActive(context.Background(), ActivateOptions{Address: account.Address})
	require.NoError(t, err)
	require.NotNil(t, result.Account)

	state := machine.State()
	assert.Equal(t, types.StatusConnected, state.Status)
	assert.Equal(t, rpc.DevNet.Name, state.Cluster)
	assert.Zero(t, state.ChainID)

	require.NoError(t, machine.SetCluster(context.Background(), rpc.LocalNet.Name))
	assert.Equal(t, rpc.LocalNet.Name, machine.State().Cluster)
}
