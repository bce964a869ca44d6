// Package poller republishes the custody service's readiness state as
// process-wide state, with bounded retries on query failure.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/better-wallet/embedded-go/internal/custody"
	"github.com/better-wallet/embedded-go/internal/logger"
	"github.com/better-wallet/embedded-go/internal/metrics"
	apperrors "github.com/better-wallet/embedded-go/pkg/errors"
	"github.com/better-wallet/embedded-go/pkg/types"
)

// Update is one published poller observation. Err is set only for the
// terminal polling failure, which is distinct from any EmbeddedState value.
type Update struct {
	State types.EmbeddedState
	Err   error
}

// Poller periodically queries embedded readiness and publishes changes.
type Poller struct {
	svc         custody.Service
	interval    time.Duration
	maxFailures int
	backoffBase time.Duration
	metrics     *metrics.Metrics

	mu          sync.Mutex
	state       types.EmbeddedState
	terminalErr error
	failures    int
	running     bool
	stopCh      chan struct{}
	subscribers []chan Update
}

// New creates a poller. interval is the tick period, maxFailures the number
// of consecutive query failures tolerated before polling stops.
func New(svc custody.Service, interval time.Duration, maxFailures int, backoffBase time.Duration, m *metrics.Metrics) *Poller {
	if backoffBase <= 0 {
		backoffBase = 500 * time.Millisecond
	}
	return &Poller{
		svc:         svc,
		interval:    interval,
		maxFailures: maxFailures,
		backoffBase: backoffBase,
		metrics:     m,
		state:       types.EmbeddedStateNone,
	}
}

// Start begins ticking. A second Start while running is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.failures = 0
	p.terminalErr = nil
	p.stopCh = make(chan struct{})
	stop := p.stopCh
	p.mu.Unlock()

	go p.loop(ctx, stop)
}

// Stop tears the ticker down and resets the published state, as on logout.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.setStateLocked(context.Background(), types.EmbeddedStateNone)
}

// Retry clears the failure counter and terminal error, then restarts the
// interval. It is the only way out of a terminal polling failure.
func (p *Poller) Retry(ctx context.Context) {
	p.mu.Lock()
	p.stopLocked()
	p.mu.Unlock()
	p.Start(ctx)
}

// State returns the last published embedded state.
func (p *Poller) State() types.EmbeddedState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// TerminalError returns the terminal polling failure, or nil while polling
// is healthy or merely retrying.
func (p *Poller) TerminalError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminalErr
}

// Subscribe returns a channel receiving state updates. Slow subscribers drop
// updates rather than block the poll loop.
func (p *Poller) Subscribe() <-chan Update {
	ch := make(chan Update, 8)
	p.mu.Lock()
	p.subscribers = append(p.subscribers, ch)
	p.mu.Unlock()
	return ch
}

func (p *Poller) loop(ctx context.Context, stop <-chan struct{}) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.backoffBase
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if terminal := p.tick(ctx, bo, stop); terminal {
				return
			}
		}
	}
}

// tick performs one readiness query. Returns true when polling must stop.
func (p *Poller) tick(ctx context.Context, bo backoff.BackOff, stop <-chan struct{}) bool {
	p.metrics.PollTicks.Inc()

	state, err := p.svc.GetEmbeddedState(ctx)
	if err == nil {
		p.mu.Lock()
		p.failures = 0
		p.setStateLocked(ctx, state)
		p.mu.Unlock()
		bo.Reset()
		return false
	}

	p.metrics.PollFailures.Inc()

	p.mu.Lock()
	p.failures++
	exhausted := p.failures >= p.maxFailures
	if exhausted {
		p.terminalErr = apperrors.ErrPollingFailed
		p.running = false
	}
	failures := p.failures
	p.mu.Unlock()

	if exhausted {
		p.metrics.PollTerminal.Inc()
		logger.Error(ctx, "embedded state polling stopped", "failures", failures, "error", err)
		p.publish(Update{State: p.State(), Err: apperrors.ErrPollingFailed})
		return true
	}

	logger.Warn(ctx, "embedded state poll failed", "attempt", failures, "error", err)

	// Back off before the next tick fires; the stop signal still wins.
	select {
	case <-time.After(bo.NextBackOff()):
	case <-stop:
		return true
	case <-ctx.Done():
		return true
	}
	return false
}

// setStateLocked publishes and logs only when the state actually changed.
func (p *Poller) setStateLocked(ctx context.Context, state types.EmbeddedState) {
	if state == p.state {
		return
	}
	previous := p.state
	p.state = state
	p.metrics.StateChanges.Inc()
	logger.Info(ctx, "embedded state changed", "from", string(previous), "to", string(state))

	// Deliver inline so subscribers observe changes in the order they
	// happened. Sends never block; a full subscriber drops the update.
	for _, ch := range p.subscribers {
		select {
		case ch <- Update{State: state}:
		default:
		}
	}
}

func (p *Poller) publish(u Update) {
	p.mu.Lock()
	subs := make([]chan Update, len(p.subscribers))
	copy(subs, p.subscribers)
	p.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- u:
		default:
		}
	}
}

func (p *Poller) stopLocked() {
	if p.running {
		close(p.stopCh)
		p.running = false
	}
}
