package sessionlog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrStoreUnavailable is returned by [GuardedStore.Save] while writes are
// suspended after repeated failures.
var ErrStoreUnavailable = errors.New("sessionlog: store unavailable")

// GuardState is the write state of a [GuardedStore].
type GuardState int

const (
	// GuardClosed forwards every write.
	GuardClosed GuardState = iota

	// GuardOpen rejects writes until the cool-down has passed.
	GuardOpen

	// GuardProbing lets a single write through to test the store.
	GuardProbing
)

// String returns the state name.
func (s GuardState) String() string {
	switch s {
	case GuardClosed:
		return "closed"
	case GuardOpen:
		return "open"
	case GuardProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// GuardOptions tunes a [GuardedStore]. Zero fields take defaults.
type GuardOptions struct {
	// MaxFailures is the number of consecutive failed saves that suspend
	// writes. Default: 5.
	MaxFailures int

	// CoolDown is how long writes stay suspended before a probe. Default: 30s.
	CoolDown time.Duration

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// GuardedStore wraps a Store so that a failing backend costs one quick
// rejection per session instead of a full timeout. After MaxFailures
// consecutive failures it drops records for CoolDown, then probes with the
// next save; a successful probe resumes normal writes.
//
// Recent and Close pass straight through. Safe for concurrent use.
type GuardedStore struct {
	Store

	maxFailures int
	coolDown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    GuardState
	failures int
	openedAt time.Time
	dropped  int64
}

// Guard wraps st.
func Guard(st Store, opts GuardOptions) *GuardedStore {
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 5
	}
	if opts.CoolDown <= 0 {
		opts.CoolDown = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &GuardedStore{
		Store:       st,
		maxFailures: opts.MaxFailures,
		coolDown:    opts.CoolDown,
		now:         opts.Now,
	}
}

// Save implements [Store].
func (g *GuardedStore) Save(ctx context.Context, rec Record) error {
	if !g.admit() {
		return ErrStoreUnavailable
	}
	err := g.Store.Save(ctx, rec)
	g.record(err)
	return err
}

// admit reports whether a save may reach the backend.
func (g *GuardedStore) admit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case GuardOpen:
		if g.now().Sub(g.openedAt) < g.coolDown {
			g.dropped++
			return false
		}
		g.state = GuardProbing
		slog.Info("sessionlog: probing store", "dropped", g.dropped)
		return true
	case GuardProbing:
		// One probe at a time.
		g.dropped++
		return false
	default:
		return true
	}
}

func (g *GuardedStore) record(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err == nil {
		if g.state != GuardClosed {
			slog.Info("sessionlog: store recovered", "dropped", g.dropped)
		}
		g.state = GuardClosed
		g.failures = 0
		g.dropped = 0
		return
	}

	g.failures++
	if g.state == GuardProbing || g.failures >= g.maxFailures {
		if g.state == GuardClosed {
			slog.Warn("sessionlog: suspending writes", "consecutive_failures", g.failures, "err", err)
		}
		g.state = GuardOpen
		g.openedAt = g.now()
	}
}

// State returns the current write state.
func (g *GuardedStore) State() GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Ping implements [Pinger] when the wrapped store does. An open guard
// reports the store unavailable without contacting it.
func (g *GuardedStore) Ping(ctx context.Context) error {
	if g.State() == GuardOpen {
		return ErrStoreUnavailable
	}
	if p, ok := g.Store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
