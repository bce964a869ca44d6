// Package embedded is the client SDK for remotely-custodied embedded wallets.
// It maintains one wallet connection state machine per chain family (EVM and
// Solana), a shared authenticated session, and a readiness poller, all backed
// by a custody service that holds the key material.
package embedded

import (
	"context"
	"fmt"

	"github.com/better-wallet/embedded-go/internal/bridge"
	"github.com/better-wallet/embedded-go/internal/config"
	"github.com/better-wallet/embedded-go/internal/connector"
	"github.com/better-wallet/embedded-go/internal/custody"
	"github.com/better-wallet/embedded-go/internal/kvstore"
	"github.com/better-wallet/embedded-go/internal/logger"
	"github.com/better-wallet/embedded-go/internal/metrics"
	"github.com/better-wallet/embedded-go/internal/poller"
	"github.com/better-wallet/embedded-go/internal/recovery"
	"github.com/better-wallet/embedded-go/internal/session"
	"github.com/better-wallet/embedded-go/internal/strategy"
	"github.com/better-wallet/embedded-go/internal/wallet"
	"github.com/better-wallet/embedded-go/pkg/types"
)

// OTPResendCooldown is the minimum delay hosts should enforce between
// RequestOTP calls for the same user.
const OTPResendCooldown = recovery.ResendCooldown

// UseWalletOptions configures TryUseWallet. See connector.Options.
type UseWalletOptions = connector.Options

// OpResult re-exports the wallet operation outcome.
type OpResult = wallet.OpResult

// SDK is the assembled embedded-wallet client.
type SDK struct {
	cfg  *config.Config
	auth session.AuthBackend

	svc     custody.Service
	session *session.Context
	otp     *recovery.OTPController
	metrics *metrics.Metrics

	evm    *wallet.EVMMachine
	solana *wallet.SolanaMachine
	poller *poller.Poller

	evmConnector    *connector.Connector
	solanaConnector *connector.Connector

	evmStrategy    strategy.Strategy
	solanaStrategy strategy.Strategy
}

// Option customizes SDK construction.
type Option func(*options)

type options struct {
	svc    custody.Service
	bridge bridge.Connector
}

// WithCustodyService replaces the HTTP custody client, for tests and
// alternative transports.
func WithCustodyService(svc custody.Service) Option {
	return func(o *options) { o.svc = svc }
}

// WithBridge attaches an external EVM wallet bridge. The connection strategy
// then prefers the bridged wallet whenever it reports a connection.
func WithBridge(b bridge.Connector) Option {
	return func(o *options) { o.bridge = b }
}

type tokenSourceFunc func(ctx context.Context) (string, error)

func (f tokenSourceFunc) AccessToken(ctx context.Context) (string, error) { return f(ctx) }

// New assembles the SDK from configuration and an authentication backend.
func New(cfg *config.Config, auth session.AuthBackend, opts ...Option) (*SDK, error) {
	if err := logger.Init(); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// The custody client authenticates with the session's token, and the
	// session lists accounts through the custody client. The token source
	// closure breaks the construction cycle.
	var sess *session.Context
	svc := o.svc
	if svc == nil {
		svc = custody.NewClient(cfg.CustodyBaseURL, cfg.AppID,
			tokenSourceFunc(func(ctx context.Context) (string, error) {
				return sess.AccessToken(ctx)
			}),
			cfg.CustodyRPS, cfg.CustodyBurst)
	}
	sess = session.New(svc, auth)

	m := metrics.New()
	resolver := recovery.NewResolver(cfg)
	automatic := cfg.AutomaticRecoveryEnabled()

	store, err := kvstore.Open(cfg.StateFilePath)
	if err != nil {
		// A broken state file costs only the persisted cluster preference.
		logger.Warn(context.Background(), "opening local state failed", "error", err)
		store = nil
	}

	evm := wallet.NewEVM(svc, resolver, sess, sess, m, automatic, 0)
	sol := wallet.NewSolana(svc, resolver, sess, sess, m, automatic, store, cfg.IsProduction())
	p := poller.New(svc, cfg.PollInterval, cfg.PollMaxFailures, cfg.PollBackoffBase, m)

	sess.OnLogout(evm.Logout)
	sess.OnLogout(sol.Logout)
	sess.OnLogout(p.Stop)

	return &SDK{
		cfg:             cfg,
		auth:            auth,
		svc:             svc,
		session:         sess,
		otp:             recovery.NewOTPController(cfg),
		metrics:         m,
		evm:             evm,
		solana:          sol,
		poller:          p,
		evmConnector:    connector.New(types.ChainFamilyEVM, evm, sess, automatic),
		solanaConnector: connector.New(types.ChainFamilySolana, sol, sess, automatic),
		evmStrategy:     strategy.ForEVM(o.bridge, evm, cfg.BridgeEmbeddedConnectorID),
		solanaStrategy:  strategy.ForSolana(sol),
	}, nil
}

// withSession stamps the current session id into ctx, so every log line
// emitted underneath carries it.
func (s *SDK) withSession(ctx context.Context) context.Context {
	if id := s.session.SessionID(); id != "" {
		return logger.WithSessionID(ctx, id)
	}
	return ctx
}

// Login installs an authenticated session and bootstraps wallet state: loads
// the account list, starts readiness polling and attempts the silent Solana
// reconnect.
func (s *SDK) Login(ctx context.Context, user *types.User, accessToken string) error {
	s.session.SetSession(user, accessToken)
	return s.bootstrap(s.withSession(ctx))
}

// LoginWithToken resolves the user behind accessToken, then logs in.
func (s *SDK) LoginWithToken(ctx context.Context, accessToken string) (*types.User, error) {
	user, err := s.auth.GetUser(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("resolving user: %w", err)
	}
	if err := s.Login(ctx, user, accessToken); err != nil {
		return nil, err
	}
	return user, nil
}

// SignUpGuest provisions an anonymous user and bootstraps wallet state.
func (s *SDK) SignUpGuest(ctx context.Context) (*types.User, error) {
	user, err := s.session.SignUpGuest(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.bootstrap(s.withSession(ctx)); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *SDK) bootstrap(ctx context.Context) error {
	s.evm.SetFetching(true)
	s.solana.SetFetching(true)
	err := s.session.Refresh(ctx)
	s.evm.SetFetching(false)
	s.solana.SetFetching(false)
	if err != nil {
		return fmt.Errorf("loading accounts: %w", err)
	}

	s.poller.Start(ctx)
	s.solana.MaybeAutoReconnect(ctx)
	return nil
}

// Logout ends the session. The machines reset and the poller stops through
// the registered hooks.
func (s *SDK) Logout(ctx context.Context) error {
	return s.session.Logout(s.withSession(ctx))
}

// TryUseWallet runs the post-authentication flow for the EVM wallet.
func (s *SDK) TryUseWallet(ctx context.Context, opts UseWalletOptions) (*OpResult, error) {
	return s.evmConnector.TryUseWallet(s.withSession(ctx), opts)
}

// TryUseSolanaWallet runs the post-authentication flow for the Solana wallet.
func (s *SDK) TryUseSolanaWallet(ctx context.Context, opts UseWalletOptions) (*OpResult, error) {
	return s.solanaConnector.TryUseWallet(s.withSession(ctx), opts)
}

// RequestOTP asks the host to deliver a one-time code to the current user's
// verified email or phone.
func (s *SDK) RequestOTP(ctx context.Context) (*recovery.OTPChallenge, error) {
	ctx = s.withSession(ctx)
	return s.otp.Request(ctx, s.session.User(), s.session)
}

// EVM returns the Ethereum-family wallet state machine.
func (s *SDK) EVM() *wallet.EVMMachine { return s.evm }

// Solana returns the Solana wallet state machine.
func (s *SDK) Solana() *wallet.SolanaMachine { return s.solana }

// Session returns the session context.
func (s *SDK) Session() *session.Context { return s.session }

// Poller returns the embedded readiness poller.
func (s *SDK) Poller() *poller.Poller { return s.poller }

// EVMStrategy answers which EVM address counts as connected, bridge included.
func (s *SDK) EVMStrategy() strategy.Strategy { return s.evmStrategy }

// SolanaStrategy answers which Solana address counts as connected.
func (s *SDK) SolanaStrategy() strategy.Strategy { return s.solanaStrategy }

// Metrics returns the SDK collectors for hosts that scrape them.
func (s *SDK) Metrics() *metrics.Metrics { return s.metrics }
