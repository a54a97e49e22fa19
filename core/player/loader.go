package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrLoadSuperseded is returned by a load that a newer load for the same
// item replaced.
var ErrLoadSuperseded = errors.New("player: load superseded")

type inflight struct {
	gen    uint64
	cancel context.CancelFunc
}

// Loader keeps at most one load in flight per logical item. Starting a new
// load cancels the previous one, and a cancelled load never commits.
type Loader struct {
	mu    sync.Mutex
	gen   uint64
	loads map[string]*inflight
}

// NewLoader returns an idle loader.
func NewLoader() *Loader {
	return &Loader{loads: make(map[string]*inflight)}
}

// Load runs fetch for item, cancelling any earlier load of item. commit runs
// under the loader's lock only if fetch succeeded, ctx is still live and this
// load is still the current one; its error is returned. A fetch that ignores
// cancellation and reports success late gets ctx's error instead.
func (l *Loader) Load(ctx context.Context, item string, fetch func(context.Context) error, commit func() error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	if prev, ok := l.loads[item]; ok {
		prev.cancel()
	}
	l.gen++
	mine := &inflight{gen: l.gen, cancel: cancel}
	l.loads[item] = mine
	l.mu.Unlock()

	err := fetch(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.loads[item]; !ok || cur.gen != mine.gen {
		return fmt.Errorf("%w: %s", ErrLoadSuperseded, item)
	}
	delete(l.loads, item)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if commit != nil {
		return commit()
	}
	return nil
}

// CancelAll cancels every in-flight load; none of them will commit.
func (l *Loader) CancelAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for item, in := range l.loads {
		in.cancel()
		delete(l.loads, item)
	}
}

// InFlight reports how many loads are running.
func (l *Loader) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.loads)
}
