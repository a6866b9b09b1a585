package sessionlog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

// flakyStore fails every Save while err is set.
type flakyStore struct {
	*MemStore
	mu    sync.Mutex
	err   error
	saves int
}

func (f *flakyStore) Save(ctx context.Context, rec Record) error {
	f.mu.Lock()
	f.saves++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.MemStore.Save(ctx, rec)
}

func (f *flakyStore) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestGuardedStore(t *testing.T) {
	ctx := context.Background()
	backend := &flakyStore{MemStore: NewMemStore(10), err: errBackend}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	g := Guard(backend, GuardOptions{MaxFailures: 3, CoolDown: time.Minute, Now: clock.now})

	for i := range 3 {
		if err := g.Save(ctx, Record{ID: "x"}); !errors.Is(err, errBackend) {
			t.Fatalf("save %d: err = %v, want backend error", i, err)
		}
	}
	if g.State() != GuardOpen {
		t.Fatalf("state = %v, want open", g.State())
	}

	// While open, saves are rejected without reaching the backend.
	if err := g.Save(ctx, Record{ID: "y"}); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
	if backend.saves != 3 {
		t.Errorf("backend saves = %d, want 3", backend.saves)
	}
	if err := g.Ping(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Ping = %v, want ErrStoreUnavailable", err)
	}

	// A failed probe re-opens for another cool-down.
	clock.advance(time.Minute)
	if err := g.Save(ctx, Record{ID: "z"}); !errors.Is(err, errBackend) {
		t.Errorf("probe err = %v, want backend error", err)
	}
	if g.State() != GuardOpen {
		t.Fatalf("state after failed probe = %v, want open", g.State())
	}

	// A successful probe closes the guard.
	clock.advance(time.Minute)
	backend.setErr(nil)
	if err := g.Save(ctx, Record{ID: "ok"}); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if g.State() != GuardClosed {
		t.Errorf("state = %v, want closed", g.State())
	}
	recs, _ := g.Recent(ctx, 0)
	if len(recs) != 1 || recs[0].ID != "ok" {
		t.Errorf("Recent = %+v, want only ok", recs)
	}
}

func TestGuardedStore_SuccessResetsFailures(t *testing.T) {
	ctx := context.Background()
	backend := &flakyStore{MemStore: NewMemStore(10)}
	g := Guard(backend, GuardOptions{MaxFailures: 2})

	for range 5 {
		backend.setErr(errBackend)
		_ = g.Save(ctx, Record{})
		backend.setErr(nil)
		_ = g.Save(ctx, Record{})
	}
	if g.State() != GuardClosed {
		t.Errorf("state = %v, want closed with interleaved successes", g.State())
	}
}

func TestGuardState_String(t *testing.T) {
	tests := []struct {
		s    GuardState
		want string
	}{
		{GuardClosed, "closed"},
		{GuardOpen, "open"},
		{GuardProbing, "probing"},
		{GuardState(9), "unknown"},
	}
	for _, tc := range tests {
		if got := tc.s.String(); got != tc.want {
			t.Errorf("%d.String() = %q, want %q", tc.s, got, tc.want)
		}
	}
}
