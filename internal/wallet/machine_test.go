package wallet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/embedded-go/internal/config"
	"github.com/better-wallet/embedded-go/internal/metrics"
	"github.com/better-wallet/embedded-go/internal/recovery"
	apperrors "github.com/better-wallet/embedded-go/pkg/errors"
	"github.com/better-wallet/embedded-go/pkg/types"
	"github.com/better-wallet/embedded-go/tests/mocks"
)

type fakeIdentity struct{}

func (fakeIdentity) AccessToken(ctx context.Context) (string, error) { return "tok", nil }
func (fakeIdentity) UserID(ctx context.Context) (string, error)      { return "user-1", nil }

// fakeAccounts mirrors the session context's account list against the mock
// custody service.
type fakeAccounts struct {
	svc *mocks.MockCustodyService

	mu       sync.Mutex
	accounts []types.EmbeddedAccount
}

func (f *fakeAccounts) Accounts(family types.ChainFamily) []types.EmbeddedAccount {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.EmbeddedAccount, 0, len(f.accounts))
	for _, acct := range f.accounts {
		if acct.ChainFamily == family {
			out = append(out, acct)
		}
	}
	return out
}

func (f *fakeAccounts) Refresh(ctx context.Context) error {
	accounts, err := f.svc.List(ctx, 100, "")
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.accounts = types.DedupeAccountsByAddress(accounts)
	f.mu.Unlock()
	return nil
}

type fixture struct {
	svc      *mocks.MockCustodyService
	accounts *fakeAccounts
	cfg      *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc := mocks.NewMockCustodyService()
	return &fixture{
		svc:      svc,
		accounts: &fakeAccounts{svc: svc},
		cfg: &config.Config{
			CustodyBaseURL:  "https://custody.example.com",
			AppID:           "app_test",
			Environment:     config.EnvDevelopment,
			PollInterval:    300 * time.Millisecond,
			PollMaxFailures: 3,
		},
	}
}

func (f *fixture) withAutomatic(fn config.EncryptionSessionFunc) *fixture {
	if fn == nil {
		fn = func(ctx context.Context, token, userID, otp string) (string, error) {
			return "sess-token", nil
		}
	}
	f.cfg.EncryptionSessionFunc = fn
	return f
}

func (f *fixture) evm(t *testing.T) *EVMMachine {
	t.Helper()
	resolver := recovery.NewResolver(f.cfg)
	return NewEVM(f.svc, resolver, fakeIdentity{}, f.accounts, metrics.New(), f.cfg.AutomaticRecoveryEnabled(), 8453)
}

func seedEVMAccount(f *fixture, address string, method types.RecoveryMethod) types.EmbeddedAccount {
	account := types.EmbeddedAccount{
		ID:             uuid.New(),
		ChainFamily:    types.ChainFamilyEVM,
		Address:        address,
		AccountType:    types.AccountTypeEOA,
		RecoveryMethod: method,
		CreatedAt:      time.Now().UTC(),
	}
	f.svc.SeedAccount(account)
	f.accounts.Refresh(context.Background())
	return account
}

func TestSubscribersObserveTransitionsInOrder(t *testing.T) {
	f := newFixture(t).withAutomatic(nil)
	machine := f.evm(t)
	updates := machine.Subscribe()

	_, err := machine.Create(context.Background(), CreateOptions{})
	require.NoError(t, err)

	first := <-updates
	second := <-updates
	assert.Equal(t, types.StatusCreating, first.Status)
	assert.Equal(t, types.StatusConnected, second.Status,
		"subscribers must see creating before connected")
}

func TestCreateConnectsAndRefreshesAccounts(t *testing.T) {
	f := newFixture(t).withAutomatic(nil)
	machine := f.evm(t)

	result, err := machine.Create(context.Background(), CreateOptions{})
	require.NoError(t, err)
	require.NotNil(t, result.Account)

	state := machine.State()
	assert.Equal(t, types.StatusConnected, state.Status)
	assert.Equal(t, int64(8453), state.ChainID)

	// The new account landed in the shared list.
	known := f.accounts.Accounts(types.ChainFamilyEVM)
	require.Len(t, known, 1)
	assert.True(t, known[0].MatchesAddress(result.Account.Address))
	assert.Equal(t, types.RecoveryMethodAutomatic, known[0].RecoveryMethod)
}

func TestCreateDefaultsToPasswordWithoutSessionMechanism(t *testing.T) {
	f := newFixture(t) // no encryption session configured
	machine := f.evm(t)

	// No password supplied: the fallback method cannot resolve.
	_, err := machine.Create(context.Background(), CreateOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))

	result, err := machine.Create(context.Background(), CreateOptions{Password: "hunter22"})
	require.NoError(t, err)
	assert.Equal(t, types.RecoveryMethodPassword, result.Account.RecoveryMethod)
	assert.Equal(t, types.StatusConnected, machine.State().Status)
}

func TestSetActivePasswordAccountWithoutPasswordNeedsRecovery(t *testing.T) {
	f := newFixture(t).withAutomatic(nil)
	machine := f.evm(t)
	account := seedEVMAccount(f, "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B", types.RecoveryMethodPassword)

	result, err := machine.SetActive(context.Background(), ActivateOptions{Address: account.Address})
	require.NoError(t, err, "a password prompt is not a failure")
	assert.True(t, result.NeedsRecovery)
	assert.Equal(t, types.StatusNeedsRecovery, machine.State().Status)
	assert.Equal(t, 0, f.svc.RecoverCalls(), "no recover call may be attempted without material")
}

func TestSetActivePasswordAccountWithPassword(t *testing.T) {
	f := newFixture(t)
	machine := f.evm(t)
	account := seedEVMAccount(f, "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B", types.RecoveryMethodPassword)

	result, err := machine.SetActive(context.Background(), ActivateOptions{
		Address:  "0xab5801a7d398351b8be11c439e05c5b3259aec9b", // lookup is case-insensitive
		Password: "hunter22",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Account)
	assert.Equal(t, account.ID, result.Account.ID)
	assert.Equal(t, types.StatusConnected, machine.State().Status)
	require.NotNil(t, machine.Signer())
	assert.Equal(t, "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B", machine.Signer().Address())
}

func TestSetActiveUnknownAddress(t *testing.T) {
	f := newFixture(t).withAutomatic(nil)
	machine := f.evm(t)
	seedEVMAccount(f, "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B", types.RecoveryMethodAutomatic)

	_, err := machine.SetActive(context.Background(), ActivateOptions{
		Address: "0x1111111111111111111111111111111111111111",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeWalletNotFound))
}

func TestSetActiveExplicitParamsBypassResolution(t *testing.T) {
	f := newFixture(t) // no session mechanism; explicit params must still work
	machine := f.evm(t)
	account := seedEVMAccount(f, "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B", types.RecoveryMethodAutomatic)

	result, err := machine.SetActive(context.Background(), ActivateOptions{
		Address:        account.Address,
		RecoveryParams: types.SessionRecovery("externally-obtained"),
	})
	require.NoError(t, err)
	require.NotNil(t, result.Account)
	assert.Equal(t, types.StatusConnected, machine.State().Status)
}

func TestSetActiveFailureThenRetry(t *testing.T) {
	f := newFixture(t).withAutomatic(nil)
	machine := f.evm(t)
	account := seedEVMAccount(f, "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B", types.RecoveryMethodAutomatic)

	f.svc.FailNextRecover(apperrors.Network("custody unreachable"))
	_, err := machine.SetActive(context.Background(), ActivateOptions{Address: account.Address})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRecoveryFailed))
	assert.Equal(t, types.StatusError, machine.State().Status)
	assert.NotEmpty(t, machine.State().ErrMessage)

	// The account list survives the error; re-invoking the operation works.
	result, err := machine.SetActive(context.Background(), ActivateOptions{Address: account.Address})
	require.NoError(t, err)
	require.NotNil(t, result.Account)
	assert.Equal(t, types.StatusConnected, machine.State().Status)
}

func TestSetActiveCallsAreSerialized(t *testing.T) {
	f := newFixture(t).withAutomatic(nil)
	machine := f.evm(t)
	first := seedEVMAccount(f, "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B", types.RecoveryMethodAutomatic)
	second := seedEVMAccount(f, "0x1111111111111111111111111111111111111111", types.RecoveryMethodAutomatic)

	f.svc.SetRecoverDelay(50 * time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		machine.SetActive(context.Background(), ActivateOptions{Address: first.Address})
	}()

	// Give the first call time to enter its custody exchange.
	time.Sleep(10 * time.Millisecond)
	f.svc.SetRecoverDelay(0)

	result, err := machine.SetActive(context.Background(), ActivateOptions{Address: second.Address})
	wg.Wait()
	require.NoError(t, err)
	require.NotNil(t, result.Account)

	order := f.svc.RecoverOrder()
	require.Len(t, order, 2)
	assert.Equal(t, first.ID, order[0], "second call must wait for the first to settle")
	assert.Equal(t, second.ID, order[1])

	// The last activation wins the connected address.
	assert.Equal(t, types.StatusConnected, machine.State().Status)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", machine.Active().Address)
}

func TestCreateWithOTPSubFlow(t *testing.T) {
	f := newFixture(t).withAutomatic(func(ctx context.Context, token, userID, otp string) (string, error) {
		if otp != "123456" {
			return "", recovery.ErrOTPRequired
		}
		return "sess-token", nil
	})
	machine := f.evm(t)

	result, err := machine.Create(context.Background(), CreateOptions{})
	require.NoError(t, err)
	assert.True(t, result.OTPPending)
	assert.Equal(t, types.StatusCreating, machine.State().Status, "OTP wait is the creating state plus a flag, not a new state")
	assert.True(t, machine.AwaitingOTP())
	assert.Equal(t, 0, f.svc.CreateCalls(), "no create call before the code resolves")

	// Wrong code: still pending.
	_, err = machine.CompleteOTP(context.Background(), "999999")
	require.Error(t, err)
	assert.True(t, machine.AwaitingOTP())
	assert.Equal(t, types.StatusCreating, machine.State().Status)

	// Correct code: the create completes.
	done, err := machine.CompleteOTP(context.Background(), "123456")
	require.NoError(t, err)
	require.NotNil(t, done.Account)
	assert.False(t, machine.AwaitingOTP())
	assert.Equal(t, types.StatusConnected, machine.State().Status)
	assert.Equal(t, 1, f.svc.CreateCalls())
}

func TestCompleteOTPWithoutChallenge(t *testing.T) {
	f := newFixture(t).withAutomatic(nil)
	machine := f.evm(t)

	_, err := machine.CompleteOTP(context.Background(), "123456")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestLogoutDiscardsInFlightActivation(t *testing.T) {
	f := newFixture(t).withAutomatic(nil)
	machine := f.evm(t)
	account := seedEVMAccount(f, "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B", types.RecoveryMethodAutomatic)

	f.svc.SetRecoverDelay(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		machine.SetActive(context.Background(), ActivateOptions{Address: account.Address})
	}()

	time.Sleep(10 * time.Millisecond)
	machine.Logout()
	<-done

	// The late-resolving recover must not resurrect a connected state.
	assert.Equal(t, types.StatusDisconnected, machine.State().Status)
	assert.Nil(t, machine.Active())
	assert.Nil(t, machine.Signer())
}

func TestExportPrivateKeyRequiresConnected(t *testing.T) {
	f := newFixture(t).withAutomatic(nil)
	machine := f.evm(t)
	account := seedEVMAccount(f, "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B", types.RecoveryMethodAutomatic)

	_, err := machine.ExportPrivateKey(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeExportDenied))

	_, err = machine.SetActive(context.Background(), ActivateOptions{Address: account.Address})
	require.NoError(t, err)

	key, err := machine.ExportPrivateKey(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, key)
}

func TestSetRecoveryRotatesMethod(t *testing.T) {
	f := newFixture(t).withAutomatic(nil)
	machine := f.evm(t)
	account := seedEVMAccount(f, "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B", types.RecoveryMethodAutomatic)

	_, err := machine.SetActive(context.Background(), ActivateOptions{Address: account.Address})
	require.NoError(t, err)

	err = machine.SetRecovery(context.Background(), types.SessionRecovery("sess-token"), types.PasswordRecovery("hunter22"))
	require.NoError(t, err)

	known := f.accounts.Accounts(types.ChainFamilyEVM)
	require.Len(t, known, 1)
	assert.Equal(t, types.RecoveryMethodPassword, known[0].RecoveryMethod, "refresh after rotation reflects the new method")
}

func TestSwitchChainRepublishesConnectedState(t *testing.T) {
	f := newFixture(t).withAutomatic(nil)
	machine := f.evm(t)
	account := seedEVMAccount(f, "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B", types.RecoveryMethodAutomatic)

	_, err := machine.SetActive(context.Background(), ActivateOptions{Address: account.Address})
	require.NoError(t, err)
	assert.Equal(t, int64(8453), machine.State().ChainID)

	require.NoError(t, machine.SwitchChain(context.Background(), 10))
	state := machine.State()
	assert.Equal(t, types.StatusConnected, state.Status)
	assert.Equal(t, int64(10), state.ChainID)

	assert.Error(t, machine.SwitchChain(context.Background(), -1))
}
