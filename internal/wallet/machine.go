// Package wallet owns the per-chain-family connection state machines for
// embedded wallets. Each machine serializes its activation operations so at
// most one custody exchange is in flight per chain family.
package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/better-wallet/embedded-go/internal/custody"
	"github.com/better-wallet/embedded-go/internal/logger"
	"github.com/better-wallet/embedded-go/internal/metrics"
	"github.com/better-wallet/embedded-go/internal/recovery"
	"github.com/better-wallet/embedded-go/internal/validation"
	apperrors "github.com/better-wallet/embedded-go/pkg/errors"
	"github.com/better-wallet/embedded-go/pkg/types"
)

// AccountSource is the shared account list the machines read. It is owned by
// the session context and mutated only through its refresh operation.
type AccountSource interface {
	Accounts(family types.ChainFamily) []types.EmbeddedAccount
	Refresh(ctx context.Context) error
}

// CreateOptions configures a wallet creation.
type CreateOptions struct {
	RecoveryMethod types.RecoveryMethod
	Password       string
	PasskeyID      string
	AccountType    types.AccountType
	ChainID        int64
}

// ActivateOptions configures a wallet activation.
type ActivateOptions struct {
	Address        string
	RecoveryParams *types.RecoveryParams
	RecoveryMethod types.RecoveryMethod
	Password       string
	PasskeyID      string
	OTPCode        string
}

// OpResult is the outcome of a create, activate or OTP completion.
// Exactly one of the three fields is meaningful: an account on success, or
// one of the two control-flow flags.
type OpResult struct {
	Account       *types.EmbeddedAccount
	OTPPending    bool
	NeedsRecovery bool
}

// pendingOp records the operation an OTP challenge interrupted, so
// CompleteOTP can resume it.
type pendingOp struct {
	create       bool
	createOpts   CreateOptions
	activateOpts ActivateOptions
}

// Machine is the connection state machine for one chain family.
type Machine struct {
	family    types.ChainFamily
	svc       custody.Service
	resolver  *recovery.Resolver
	identity  recovery.Identity
	accounts  AccountSource
	metrics   *metrics.Metrics
	automatic bool

	// connectedState builds the family's connected variant; set by the
	// EVM/Solana wrappers.
	connectedState func(address string) types.ConnectionState

	// opMu serializes create/activate/OTP operations: a call arriving while
	// another is in flight waits for it to settle.
	opMu sync.Mutex

	mu          sync.Mutex
	state       types.ConnectionState
	active      *types.EmbeddedAccount
	signer      Signer
	awaitingOTP bool
	pending     *pendingOp
	generation  uint64
	subscribers []chan types.ConnectionState
}

func newMachine(
	family types.ChainFamily,
	svc custody.Service,
	resolver *recovery.Resolver,
	identity recovery.Identity,
	accounts AccountSource,
	m *metrics.Metrics,
	automaticEnabled bool,
) *Machine {
	return &Machine{
		family:    family,
		svc:       svc,
		resolver:  resolver,
		identity:  identity,
		accounts:  accounts,
		metrics:   m,
		automatic: automaticEnabled,
		state:     types.Disconnected(),
	}
}

// State returns the current connection state.
func (m *Machine) State() types.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Active returns the active account, or nil when not connected.
func (m *Machine) Active() *types.EmbeddedAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Signer returns the signing provider bound on the last activation, or nil.
func (m *Machine) Signer() Signer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signer
}

// AwaitingOTP reports whether an operation is paused on a one-time code.
func (m *Machine) AwaitingOTP() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.awaitingOTP
}

// Subscribe returns a channel receiving connection state changes. Slow
// subscribers drop updates rather than block operations.
func (m *Machine) Subscribe() <-chan types.ConnectionState {
	ch := make(chan types.ConnectionState, 8)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

// SetFetching flags the account list as loading. Only meaningful while
// disconnected; any other state outranks it.
func (m *Machine) SetFetching(fetching bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fetching && m.state.Status == types.StatusDisconnected {
		m.setStateLocked(types.FetchingWallets())
	} else if !fetching && m.state.Status == types.StatusFetchingWallets {
		m.setStateLocked(types.Disconnected())
	}
}

// Logout resets the machine to disconnected. In-flight operations from the
// previous session are discarded when they resolve, not interrupted.
func (m *Machine) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.active = nil
	m.signer = nil
	m.awaitingOTP = false
	m.pending = nil
	m.setStateLocked(types.Disconnected())
}

// Create builds recovery parameters, mints a new account for this machine's
// chain family and activates it. When the encryption-session provider wants
// a one-time code first, the machine stays in creating with OTPPending set
// and completes only via CompleteOTP.
func (m *Machine) Create(ctx context.Context, opts CreateOptions) (*OpResult, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.createLocked(ctx, opts)
}

func (m *Machine) createLocked(ctx context.Context, opts CreateOptions) (*OpResult, error) {
	gen := m.currentGeneration()
	m.transition(types.CreatingState())

	method := opts.RecoveryMethod
	if method == "" {
		// Automatic when an encryption-session mechanism exists, else the
		// caller must bring a password.
		method = types.RecoveryMethodAutomatic
		if !m.automatic {
			method = types.RecoveryMethodPassword
		}
	}

	params, requiresOTP, err := m.resolver.Resolve(ctx, method, m.identity, recovery.ResolveOptions{
		Password:  opts.Password,
		PasskeyID: opts.PasskeyID,
	})
	if err != nil {
		m.fail(gen, err)
		m.metrics.Creations.WithLabelValues(string(m.family), metrics.OutcomeFailure).Inc()
		return nil, fmt.Errorf("resolving recovery params: %w", err)
	}
	if requiresOTP {
		m.enterOTPFlow(gen, &pendingOp{create: true, createOpts: opts})
		m.metrics.OTPChallenges.Inc()
		return &OpResult{OTPPending: true}, nil
	}

	return m.finishCreate(ctx, gen, opts, params)
}

func (m *Machine) finishCreate(ctx context.Context, gen uint64, opts CreateOptions, params *types.RecoveryParams) (*OpResult, error) {
	accountType := opts.AccountType
	if accountType == "" {
		accountType = types.AccountTypeEOA
	}

	account, err := m.svc.Create(ctx, m.family, accountType, params, opts.ChainID)
	if err != nil {
		m.fail(gen, err)
		m.metrics.Creations.WithLabelValues(string(m.family), metrics.OutcomeFailure).Inc()
		return nil, fmt.Errorf("%w", apperrors.CreationFailed(err.Error()))
	}

	if err := m.accounts.Refresh(ctx); err != nil {
		logger.Warn(ctx, "account list refresh after create failed", "error", err)
	}

	signer, err := m.buildSigner(account)
	if err != nil {
		m.fail(gen, err)
		m.metrics.Creations.WithLabelValues(string(m.family), metrics.OutcomeFailure).Inc()
		return nil, err
	}

	if !m.commitConnected(gen, account, signer) {
		// Logged out while the create was in flight; the result is stale.
		return &OpResult{}, nil
	}
	m.metrics.Creations.WithLabelValues(string(m.family), metrics.OutcomeSuccess).Inc()
	logger.Info(ctx, "embedded wallet created", "chain_family", string(m.family), "address", account.Address)
	return &OpResult{Account: account}, nil
}

// SetActive activates a known account by address. Calls are queued: one that
// arrives while another activation is in flight waits for it to settle.
func (m *Machine) SetActive(ctx context.Context, opts ActivateOptions) (*OpResult, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.setActiveLocked(ctx, opts)
}

func (m *Machine) setActiveLocked(ctx context.Context, opts ActivateOptions) (*OpResult, error) {
	gen := m.currentGeneration()

	if err := validation.ValidateAddress(m.family, opts.Address); err != nil {
		return nil, fmt.Errorf("%w", apperrors.Validation(err.Error()))
	}

	account := m.findAccount(opts.Address)
	if account == nil {
		return nil, fmt.Errorf("%w", apperrors.WalletNotFound(opts.Address))
	}

	m.transition(types.ConnectingState())

	params := opts.RecoveryParams
	if params == nil {
		method := opts.RecoveryMethod
		if method == "" {
			method = account.RecoveryMethod
		}

		// A password-method account with no supplied password is a prompt,
		// not a failure.
		if method == types.RecoveryMethodPassword && opts.Password == "" {
			m.transitionIfCurrent(gen, types.NeedsRecoveryState(account.Address))
			return &OpResult{NeedsRecovery: true}, nil
		}

		var requiresOTP bool
		var err error
		params, requiresOTP, err = m.resolver.Resolve(ctx, method, m.identity, recovery.ResolveOptions{
			Password:  opts.Password,
			PasskeyID: opts.PasskeyID,
			OTPCode:   opts.OTPCode,
		})
		if err != nil {
			m.fail(gen, err)
			m.metrics.Activations.WithLabelValues(string(m.family), metrics.OutcomeFailure).Inc()
			return nil, fmt.Errorf("resolving recovery params: %w", err)
		}
		if requiresOTP {
			m.enterOTPFlow(gen, &pendingOp{activateOpts: opts})
			m.metrics.OTPChallenges.Inc()
			return &OpResult{OTPPending: true}, nil
		}
	}

	return m.finishActivate(ctx, gen, account, params)
}

func (m *Machine) finishActivate(ctx context.Context, gen uint64, account *types.EmbeddedAccount, params *types.RecoveryParams) (*OpResult, error) {
	if err := m.svc.Recover(ctx, account.ID, params); err != nil {
		m.fail(gen, err)
		m.metrics.Activations.WithLabelValues(string(m.family), metrics.OutcomeFailure).Inc()
		return nil, fmt.Errorf("%w", apperrors.RecoveryFailed(err.Error()))
	}

	signer, err := m.buildSigner(account)
	if err != nil {
		m.fail(gen, err)
		m.metrics.Activations.WithLabelValues(string(m.family), metrics.OutcomeFailure).Inc()
		return nil, err
	}

	if !m.commitConnected(gen, account, signer) {
		return &OpResult{}, nil
	}
	m.metrics.Activations.WithLabelValues(string(m.family), metrics.OutcomeSuccess).Inc()
	logger.Info(ctx, "embedded wallet activated", "chain_family", string(m.family), "address", account.Address)
	return &OpResult{Account: account}, nil
}

// CompleteOTP resumes the operation paused on a one-time code.
func (m *Machine) CompleteOTP(ctx context.Context, code string) (*OpResult, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	pending := m.pending
	awaiting := m.awaitingOTP
	m.mu.Unlock()

	if !awaiting || pending == nil {
		return nil, fmt.Errorf("%w", apperrors.Validation("no one-time code challenge is pending"))
	}
	if code == "" {
		return nil, fmt.Errorf("%w", apperrors.Validation("code is required"))
	}

	gen := m.currentGeneration()

	var result *OpResult
	var err error
	if pending.create {
		params, requiresOTP, rerr := m.resolver.Resolve(ctx, types.RecoveryMethodAutomatic, m.identity, recovery.ResolveOptions{OTPCode: code})
		switch {
		case rerr != nil:
			err = fmt.Errorf("resolving recovery params: %w", rerr)
			m.fail(gen, rerr)
		case requiresOTP:
			// Still pending: the code was rejected. Stay in the sub-flow.
			err = fmt.Errorf("%w", apperrors.Validation("one-time code rejected"))
		default:
			result, err = m.finishCreate(ctx, gen, pending.createOpts, params)
		}
	} else {
		opts := pending.activateOpts
		opts.OTPCode = code
		result, err = m.setActiveLocked(ctx, opts)
	}

	outcome := metrics.OutcomeSuccess
	if err != nil || (result != nil && result.OTPPending) {
		outcome = metrics.OutcomeFailure
	}
	m.metrics.OTPCompletions.WithLabelValues(outcome).Inc()

	if err == nil && result != nil && !result.OTPPending {
		m.mu.Lock()
		m.awaitingOTP = false
		m.pending = nil
		m.mu.Unlock()
	}
	return result, err
}

// SetRecovery rotates the active account's recovery method. The previous
// method's material authorizes the change.
func (m *Machine) SetRecovery(ctx context.Context, previous, next *types.RecoveryParams) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active == nil {
		return fmt.Errorf("%w", apperrors.Validation("no active wallet to rotate recovery for"))
	}
	if previous == nil || next == nil {
		return fmt.Errorf("%w", apperrors.Validation("previous and new recovery material are required"))
	}

	if err := m.svc.SetRecoveryMethod(ctx, active.ID, previous, next); err != nil {
		return fmt.Errorf("rotating recovery method: %w", err)
	}
	if err := m.accounts.Refresh(ctx); err != nil {
		logger.Warn(ctx, "account list refresh after recovery rotation failed", "error", err)
	}
	logger.Info(ctx, "recovery method rotated", "chain_family", string(m.family), "method", string(next.Method()))
	return nil
}

// ExportPrivateKey releases the active account's key material. The wallet
// must be connected; callers check state first.
func (m *Machine) ExportPrivateKey(ctx context.Context) (string, error) {
	m.mu.Lock()
	connected := m.state.IsConnected()
	active := m.active
	m.mu.Unlock()

	if !connected || active == nil {
		return "", fmt.Errorf("%w", apperrors.New(apperrors.ErrCodeExportDenied, "Export requires a connected wallet"))
	}
	key, err := m.svc.ExportPrivateKey(ctx, active.ID)
	if err != nil {
		return "", fmt.Errorf("exporting key: %w", err)
	}
	return key, nil
}

func (m *Machine) findAccount(address string) *types.EmbeddedAccount {
	for _, acct := range m.accounts.Accounts(m.family) {
		if acct.MatchesAddress(address) {
			found := acct
			return &found
		}
	}
	return nil
}

func (m *Machine) buildSigner(account *types.EmbeddedAccount) (Signer, error) {
	switch m.family {
	case types.ChainFamilySolana:
		return NewSolanaSigner(m.svc, account)
	default:
		return NewEVMSigner(m.svc, account)
	}
}

func (m *Machine) currentGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

func (m *Machine) transition(state types.ConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStateLocked(state)
}

// transitionIfCurrent applies a transition unless a logout advanced the
// generation while the operation was in flight.
func (m *Machine) transitionIfCurrent(gen uint64, state types.ConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return
	}
	m.setStateLocked(state)
}

// fail moves to the error state, preserving the known account list.
func (m *Machine) fail(gen uint64, err error) {
	m.transitionIfCurrent(gen, types.ErrorState(err.Error()))
}

// commitConnected installs the account and signer unless the session logged
// out mid-flight. Returns false when the result was discarded.
func (m *Machine) commitConnected(gen uint64, account *types.EmbeddedAccount, signer Signer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return false
	}
	m.active = account
	m.signer = signer
	m.awaitingOTP = false
	m.pending = nil
	m.setStateLocked(m.connectedState(account.Address))
	return true
}

func (m *Machine) enterOTPFlow(gen uint64, pending *pendingOp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return
	}
	m.awaitingOTP = true
	m.pending = pending
}

func (m *Machine) setStateLocked(state types.ConnectionState) {
	if state == m.state {
		return
	}
	m.state = state
	// Deliver inline so subscribers observe transitions in the order they
	// happened. Sends never block; a full subscriber drops the update.
	for _, ch := range m.subscribers {
		select {
		case ch <- state:
		default:
		}
	}
}
