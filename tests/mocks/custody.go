// Package mocks provides mock implementations for testing.
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	apperrors "github.com/better-wallet/embedded-go/pkg/errors"
	"github.com/better-wallet/embedded-go/pkg/types"
)

// SolanaAddress returns a valid base58-encoded 32-byte address whose first
// byte is seed, so tests get distinct deterministic addresses.
func SolanaAddress(seed byte) string {
	raw := make([]byte, 32)
	raw[0] = seed
	raw[31] = 1
	return base58.Encode(raw)
}

// MockCustodyService is a stateful in-memory custody service for testing.
type MockCustodyService struct {
	mu sync.Mutex

	accounts   []types.EmbeddedAccount
	lastActive *types.EmbeddedAccount
	state      types.EmbeddedState

	createCalls  int
	recoverCalls int
	listCalls    int
	stateCalls   int
	signCalls    int
	exportCalls  int

	failStateQueries int
	failNextCreate   error
	failNextRecover  error
	recoverDelay     time.Duration

	recoverOrder []uuid.UUID
}

// NewMockCustodyService creates an empty mock custody service.
func NewMockCustodyService() *MockCustodyService {
	return &MockCustodyService{state: types.EmbeddedStateReady}
}

// SeedAccount registers an existing account.
func (m *MockCustodyService) SeedAccount(account types.EmbeddedAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = append(m.accounts, account)
}

// SetLastActive records the account GetLastActive returns.
func (m *MockCustodyService) SetLastActive(account *types.EmbeddedAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActive = account
}

// SetEmbeddedState changes the readiness state the mock reports.
func (m *MockCustodyService) SetEmbeddedState(state types.EmbeddedState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

// FailStateQueries makes the next n GetEmbeddedState calls fail.
func (m *MockCustodyService) FailStateQueries(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStateQueries = n
}

// FailNextCreate makes the next Create call fail with err.
func (m *MockCustodyService) FailNextCreate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNextCreate = err
}

// FailNextRecover makes the next Recover call fail with err.
func (m *MockCustodyService) FailNextRecover(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNextRecover = err
}

// SetRecoverDelay makes Recover block for d, for concurrency tests.
func (m *MockCustodyService) SetRecoverDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recoverDelay = d
}

// Create mints a deterministic account for the chain family.
func (m *MockCustodyService) Create(ctx context.Context, family types.ChainFamily, accountType types.AccountType, params *types.RecoveryParams, chainID int64) (*types.EmbeddedAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.createCalls++
	if m.failNextCreate != nil {
		err := m.failNextCreate
		m.failNextCreate = nil
		return nil, err
	}
	if params == nil {
		return nil, apperrors.Validation("recovery params are required")
	}

	address := fmt.Sprintf("0x%040x", m.createCalls)
	if family == types.ChainFamilySolana {
		address = SolanaAddress(byte(m.createCalls))
	}

	account := types.EmbeddedAccount{
		ID:             uuid.New(),
		ChainFamily:    family,
		Address:        address,
		AccountType:    accountType,
		RecoveryMethod: params.Method(),
		CreatedAt:      time.Now().UTC(),
	}
	m.accounts = append(m.accounts, account)
	return &account, nil
}

// Recover unlocks an account, honoring scripted failures and delays.
func (m *MockCustodyService) Recover(ctx context.Context, accountID uuid.UUID, params *types.RecoveryParams) error {
	m.mu.Lock()
	m.recoverCalls++
	m.recoverOrder = append(m.recoverOrder, accountID)
	delay := m.recoverDelay
	failErr := m.failNextRecover
	m.failNextRecover = nil
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failErr != nil {
		return failErr
	}
	if params == nil {
		return apperrors.Validation("recovery params are required")
	}
	return nil
}

// List returns seeded and created accounts.
func (m *MockCustodyService) List(ctx context.Context, limit int, accountType types.AccountType) ([]types.EmbeddedAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listCalls++
	out := make([]types.EmbeddedAccount, 0, len(m.accounts))
	for _, acct := range m.accounts {
		if accountType != "" && acct.AccountType != accountType {
			continue
		}
		out = append(out, acct)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GetLastActive returns the scripted last-active account.
func (m *MockCustodyService) GetLastActive(ctx context.Context) (*types.EmbeddedAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastActive == nil {
		return nil, nil
	}
	account := *m.lastActive
	return &account, nil
}

// GetEmbeddedState returns the scripted readiness state.
func (m *MockCustodyService) GetEmbeddedState(ctx context.Context) (types.EmbeddedState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stateCalls++
	if m.failStateQueries > 0 {
		m.failStateQueries--
		return types.EmbeddedStateNone, apperrors.Network("mock state query failure")
	}
	return m.state, nil
}

// SetRecoveryMethod rotates the recovery method on a stored account.
func (m *MockCustodyService) SetRecoveryMethod(ctx context.Context, accountID uuid.UUID, previous, next *types.RecoveryParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if previous == nil || next == nil {
		return apperrors.Validation("previous and next recovery params are required")
	}
	for i := range m.accounts {
		if m.accounts[i].ID == accountID {
			m.accounts[i].RecoveryMethod = next.Method()
			return nil
		}
	}
	return apperrors.WalletNotFound(accountID.String())
}

// ExportPrivateKey returns a fixed placeholder key.
func (m *MockCustodyService) ExportPrivateKey(ctx context.Context, accountID uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exportCalls++
	return "mock-private-key-" + accountID.String(), nil
}

// SignMessage returns a deterministic pseudo-signature.
func (m *MockCustodyService) SignMessage(ctx context.Context, accountID uuid.UUID, message []byte, hashMessage bool) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signCalls++
	prefix := "raw:"
	if hashMessage {
		prefix = "hashed:"
	}
	return append([]byte(prefix), message...), nil
}

// CreateCalls returns how many Create calls were made.
func (m *MockCustodyService) CreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

// RecoverCalls returns how many Recover calls were made.
func (m *MockCustodyService) RecoverCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recoverCalls
}

// StateCalls returns how many GetEmbeddedState calls were made.
func (m *MockCustodyService) StateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateCalls
}

// RecoverOrder returns account ids in the order Recover saw them.
func (m *MockCustodyService) RecoverOrder() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uuid.UUID, len(m.recoverOrder))
	copy(out, m.recoverOrder)
	return out
}
