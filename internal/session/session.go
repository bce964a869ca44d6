// Package session owns the authenticated user and the shared embedded
// account list. Every other component reads the list through it; only its
// refresh operations mutate the list.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/better-wallet/embedded-go/internal/custody"
	"github.com/better-wallet/embedded-go/internal/logger"
	apperrors "github.com/better-wallet/embedded-go/pkg/errors"
	"github.com/better-wallet/embedded-go/pkg/types"
)

// listLimit bounds one account-list page. Users hold a handful of wallets;
// anything past this is a data problem, not a paging problem.
const listLimit = 100

// AuthBackend is the authentication boundary the session context consumes.
type AuthBackend interface {
	// SignUpGuest provisions an anonymous user and returns it with its
	// access token.
	SignUpGuest(ctx context.Context) (*types.User, string, error)

	// GetUser returns the user the token belongs to.
	GetUser(ctx context.Context, accessToken string) (*types.User, error)

	// Logout invalidates the token server-side.
	Logout(ctx context.Context, accessToken string) error
}

// Context holds the session state.
type Context struct {
	svc  custody.Service
	auth AuthBackend

	mu            sync.Mutex
	user          *types.User
	accessToken   string
	sessionID     string
	accounts      []types.EmbeddedAccount
	loading       bool
	silentRefresh bool

	accountObservers []func([]types.EmbeddedAccount)
	userObservers    []func(*types.User)
	logoutHooks      []func()
}

// New creates a session context.
func New(svc custody.Service, auth AuthBackend) *Context {
	return &Context{svc: svc, auth: auth}
}

// SetSession installs an authenticated user, replacing any previous one.
// Each session gets a fresh id so its log lines are attributable.
func (c *Context) SetSession(user *types.User, accessToken string) {
	c.mu.Lock()
	c.user = user
	c.accessToken = accessToken
	c.sessionID = uuid.NewString()
	c.accounts = nil
	observers := make([]func(*types.User), len(c.userObservers))
	copy(observers, c.userObservers)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(user)
	}
}

// SignUpGuest provisions and installs an anonymous session.
func (c *Context) SignUpGuest(ctx context.Context) (*types.User, error) {
	if c.auth == nil {
		return nil, fmt.Errorf("%w", apperrors.Configuration("no auth backend configured"))
	}
	user, token, err := c.auth.SignUpGuest(ctx)
	if err != nil {
		return nil, fmt.Errorf("guest sign-up: %w", err)
	}
	c.SetSession(user, token)
	ctx = logger.WithSessionID(ctx, c.SessionID())
	logger.Info(ctx, "guest session created", "user_id", user.ID.String())
	return user, nil
}

// SessionID returns the current session's log-correlation id, or empty when
// no session is installed.
func (c *Context) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// User returns the authenticated user, or nil.
func (c *Context) User() *types.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// AccessToken implements custody.TokenSource and recovery.Identity.
func (c *Context) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken == "" {
		return "", fmt.Errorf("%w", apperrors.ErrNotAuthenticated)
	}
	return c.accessToken, nil
}

// UserID implements recovery.Identity.
func (c *Context) UserID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return "", fmt.Errorf("%w", apperrors.ErrNotAuthenticated)
	}
	return c.user.ID.String(), nil
}

// Accounts returns the known accounts for one chain family.
func (c *Context) Accounts(family types.ChainFamily) []types.EmbeddedAccount {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.EmbeddedAccount, 0, len(c.accounts))
	for _, acct := range c.accounts {
		if acct.ChainFamily == family {
			out = append(out, acct)
		}
	}
	return out
}

// AllAccounts returns every known account.
func (c *Context) AllAccounts() []types.EmbeddedAccount {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.EmbeddedAccount, len(c.accounts))
	copy(out, c.accounts)
	return out
}

// Loading reports whether a foreground refresh is in progress. Silent
// refreshes deliberately do not set it, so background reconciliation never
// flashes a loading indicator.
func (c *Context) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading && !c.silentRefresh
}

// Refresh reloads the account list from the custody service.
func (c *Context) Refresh(ctx context.Context) error {
	return c.refresh(ctx, false)
}

// SilentRefresh reloads the account list without surfacing a loading state.
func (c *Context) SilentRefresh(ctx context.Context) error {
	return c.refresh(ctx, true)
}

func (c *Context) refresh(ctx context.Context, silent bool) error {
	c.mu.Lock()
	if c.accessToken == "" {
		c.mu.Unlock()
		return fmt.Errorf("%w", apperrors.ErrNotAuthenticated)
	}
	c.loading = true
	c.silentRefresh = silent
	c.mu.Unlock()

	accounts, err := c.svc.List(ctx, listLimit, "")

	c.mu.Lock()
	c.loading = false
	c.silentRefresh = false
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("listing accounts: %w", err)
	}
	c.accounts = types.DedupeAccountsByAddress(accounts)
	observers := make([]func([]types.EmbeddedAccount), len(c.accountObservers))
	copy(observers, c.accountObservers)
	snapshot := make([]types.EmbeddedAccount, len(c.accounts))
	copy(snapshot, c.accounts)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(snapshot)
	}
	return nil
}

// OnAccountsChanged registers a callback invoked after each refresh.
func (c *Context) OnAccountsChanged(fn func([]types.EmbeddedAccount)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accountObservers = append(c.accountObservers, fn)
}

// OnUserChanged registers a callback invoked when the authenticated user is
// replaced or cleared.
func (c *Context) OnUserChanged(fn func(*types.User)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userObservers = append(c.userObservers, fn)
}

// OnLogout registers a hook run when the session ends. The state machines
// and the poller register their teardown here.
func (c *Context) OnLogout(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logoutHooks = append(c.logoutHooks, fn)
}

// Logout ends the session: invalidates the token, clears the user and
// account list, and runs the registered teardown hooks.
func (c *Context) Logout(ctx context.Context) error {
	c.mu.Lock()
	token := c.accessToken
	c.user = nil
	c.accessToken = ""
	c.sessionID = ""
	c.accounts = nil
	hooks := make([]func(), len(c.logoutHooks))
	copy(hooks, c.logoutHooks)
	observers := make([]func(*types.User), len(c.userObservers))
	copy(observers, c.userObservers)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	for _, fn := range observers {
		fn(nil)
	}

	if token != "" && c.auth != nil {
		if err := c.auth.Logout(ctx, token); err != nil {
			// Local state is already gone; a failed server-side logout only
			// leaves a token to expire on its own.
			logger.Warn(ctx, "server-side logout failed", "error", err)
		}
	}
	logger.Info(ctx, "session ended")
	return nil
}
