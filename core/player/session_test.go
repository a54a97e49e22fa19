package player

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakePlayer struct {
	mu       sync.Mutex
	source   Source
	position time.Duration
	paused   bool
	buffer   time.Duration
	stalling bool
	swaps    []Source
	swapAt   []time.Duration
	swapPaus []bool
}

func (p *fakePlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *fakePlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *fakePlayer) BufferAhead() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer
}

func (p *fakePlayer) Stalling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stalling
}

func (p *fakePlayer) Swap(src Source, position time.Duration, paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = src
	p.swaps = append(p.swaps, src)
	p.swapAt = append(p.swapAt, position)
	p.swapPaus = append(p.swapPaus, paused)
	return nil
}

func (p *fakePlayer) setBuffer(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffer = d
}

func (p *fakePlayer) swapCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.swaps)
}

type fakePreloader struct {
	block   chan struct{} // nil means return immediately
	err     error
	calls   int
	mu      sync.Mutex
	lastPos time.Duration
}

func (f *fakePreloader) Preload(ctx context.Context, src Source, position time.Duration) error {
	f.mu.Lock()
	f.calls++
	f.lastPos = position
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

// lateSuccessPreloader ignores cancellation and reports success after delay.
type lateSuccessPreloader struct {
	delay time.Duration
}

func (l lateSuccessPreloader) Preload(ctx context.Context, src Source, position time.Duration) error {
	time.Sleep(l.delay)
	return nil
}

type fakeURLs struct{}

func (fakeURLs) RenditionURL(ctx context.Context, label string) (string, error) {
	return "https://media.test/v1_" + label + ".mp4", nil
}

func newTestSession(p *fakePlayer, pre *fakePreloader, mutate func(*SessionConfig)) (*Session, *NetworkEstimator) {
	net := NewNetworkEstimator()
	cfg := SessionConfig{
		Decision:       DefaultConfig(testLadder),
		SampleInterval: time.Hour,
		PreloadTimeout: time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewSession("v1", "720p", p, pre, fakeURLs{}, net, cfg), net
}

func waitHistory(t *testing.T, s *Session, n int) []SwitchRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h := s.History(); len(h) >= n {
			return h
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d history entries", n)
	return nil
}

func TestCriticalTickSwitchesAndPreservesPlayback(t *testing.T) {
	p := &fakePlayer{position: 42 * time.Second, paused: true, buffer: time.Second}
	pre := &fakePreloader{}
	s, _ := newTestSession(p, pre, nil)
	defer s.Close()

	action := s.Tick()
	if !action.Switch || action.To != "360p" {
		t.Fatalf("Expected switch to 360p, got %+v", action)
	}

	h := waitHistory(t, s, 1)
	if !h[0].OK || h[0].From != "720p" || h[0].To != "360p" || h[0].Reason != ReasonCriticalBuffer {
		t.Errorf("Unexpected history entry %+v", h[0])
	}
	if got := s.Snapshot(); got.Current != "360p" || got.Pending() {
		t.Errorf("Expected current 360p with nothing pending, got %+v", got)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.source.Label != "360p" || !strings.Contains(p.source.URL, "360p") {
		t.Errorf("Expected 360p source, got %+v", p.source)
	}
	if p.swapAt[0] != 42*time.Second || !p.swapPaus[0] {
		t.Errorf("Expected position and pause state preserved, got %v paused=%v", p.swapAt[0], p.swapPaus[0])
	}
	if pre.lastPos != 42*time.Second {
		t.Errorf("Expected preload from current position, got %v", pre.lastPos)
	}
}

func TestPreloadTimeoutKeepsCurrent(t *testing.T) {
	p := &fakePlayer{buffer: time.Second}
	pre := &fakePreloader{block: make(chan struct{})}
	s, _ := newTestSession(p, pre, func(c *SessionConfig) { c.PreloadTimeout = 20 * time.Millisecond })
	defer s.Close()

	s.Tick()
	h := waitHistory(t, s, 1)
	if h[0].OK || !strings.Contains(h[0].Error, ErrPreloadTimeout.Error()) {
		t.Errorf("Expected preload timeout, got %+v", h[0])
	}
	if got := s.Snapshot(); got.Current != "720p" || got.Pending() {
		t.Errorf("Expected to stay on 720p, got %+v", got)
	}
	if p.swapCount() != 0 {
		t.Error("Expected no swap after timeout")
	}
}

func TestLatePreloadSuccessDoesNotSwap(t *testing.T) {
	p := &fakePlayer{buffer: time.Second}
	s := NewSession("v1", "720p", p, lateSuccessPreloader{delay: 60 * time.Millisecond}, fakeURLs{}, nil, SessionConfig{
		Decision:       DefaultConfig(testLadder),
		SampleInterval: time.Hour,
		PreloadTimeout: 20 * time.Millisecond,
	})
	defer s.Close()

	if a := s.Tick(); !a.Switch {
		t.Fatal("Expected the critical tick to start a switch")
	}
	h := waitHistory(t, s, 1)
	if h[0].OK || !strings.Contains(h[0].Error, ErrPreloadTimeout.Error()) {
		t.Errorf("Expected preload timeout, got %+v", h[0])
	}
	if p.swapCount() != 0 {
		t.Error("Expected no swap once the preload deadline passed")
	}
	if got := s.Snapshot().Current; got != "720p" {
		t.Errorf("Expected to stay on 720p, got %s", got)
	}
}

func TestSetOverrideHonorsCallerContext(t *testing.T) {
	p := &fakePlayer{buffer: 30 * time.Second}
	s, _ := newTestSession(p, &fakePreloader{}, nil)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.SetOverride(ctx, "480p"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if p.swapCount() != 0 {
		t.Error("Expected no swap for a cancelled override")
	}
	got := s.Snapshot()
	if got.Current != "720p" || got.Override != "480p" {
		t.Errorf("Expected 720p playing with 480p still pinned, got %+v", got)
	}
}

func TestPreloadErrorIsNonFatal(t *testing.T) {
	p := &fakePlayer{buffer: time.Second}
	pre := &fakePreloader{err: errors.New("segment 404")}
	s, _ := newTestSession(p, pre, nil)
	defer s.Close()

	s.Tick()
	h := waitHistory(t, s, 1)
	if h[0].OK {
		t.Error("Expected failed switch")
	}
	if s.Snapshot().Current != "720p" {
		t.Error("Expected to remain on current rendition")
	}
}

func TestOneSwitchInFlight(t *testing.T) {
	p := &fakePlayer{buffer: time.Second}
	release := make(chan struct{})
	pre := &fakePreloader{block: release}
	s, _ := newTestSession(p, pre, nil)
	defer s.Close()

	if a := s.Tick(); !a.Switch {
		t.Fatal("Expected first tick to switch")
	}
	if a := s.Tick(); a.Switch {
		t.Errorf("Expected no second switch while one is in flight, got %+v", a)
	}
	close(release)
	waitHistory(t, s, 1)

	pre.mu.Lock()
	defer pre.mu.Unlock()
	if pre.calls != 1 {
		t.Errorf("Expected one preload, got %d", pre.calls)
	}
}

func TestManualOverrideDisablesAutomaticSwitching(t *testing.T) {
	p := &fakePlayer{buffer: 30 * time.Second}
	pre := &fakePreloader{}
	s, net := newTestSession(p, pre, func(c *SessionConfig) {
		c.Decision.UpgradeCooldown = 0
		c.Decision.DowngradeCooldown = 0
	})
	defer s.Close()
	for i := 0; i < 5; i++ {
		net.Add(50000)
	}

	if err := s.SetOverride(context.Background(), "480p"); err != nil {
		t.Fatalf("SetOverride() error: %v", err)
	}
	if got := s.Snapshot(); got.Current != "480p" || got.Override != "480p" {
		t.Fatalf("Expected pinned 480p, got %+v", got)
	}

	for i := 0; i < 5; i++ {
		if a := s.Tick(); a.Switch {
			t.Fatalf("Expected no automatic switch under override, got %+v", a)
		}
	}

	s.ClearOverride()
	a := s.Tick()
	if !a.Switch || a.To != "1080p" {
		t.Fatalf("Expected upgrade after clearing override, got %+v", a)
	}
	waitHistory(t, s, 2)
}

func TestSetOverrideUnknownLabel(t *testing.T) {
	s, _ := newTestSession(&fakePlayer{}, &fakePreloader{}, nil)
	defer s.Close()
	if err := s.SetOverride(context.Background(), "8k"); !errors.Is(err, ErrUnknownRendition) {
		t.Errorf("Expected ErrUnknownRendition, got %v", err)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	s, _ := newTestSession(&fakePlayer{}, &fakePreloader{}, func(c *SessionConfig) { c.HistorySize = 3 })
	defer s.Close()

	for _, l := range []string{"240p", "360p", "480p", "720p", "1080p"} {
		if err := s.SetOverride(context.Background(), l); err != nil {
			t.Fatalf("SetOverride(%s) error: %v", l, err)
		}
	}
	h := s.History()
	if len(h) != 3 {
		t.Fatalf("Expected 3 history entries, got %d", len(h))
	}
	if h[0].To != "480p" || h[2].To != "1080p" {
		t.Errorf("Expected oldest entries dropped, got %+v", h)
	}
}

func TestCloseCancelsInFlightSwitch(t *testing.T) {
	p := &fakePlayer{buffer: time.Second}
	pre := &fakePreloader{block: make(chan struct{})}
	s, _ := newTestSession(p, pre, func(c *SessionConfig) { c.SampleInterval = time.Millisecond })
	s.Start()
	s.Tick()

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	if p.swapCount() != 0 {
		t.Error("Expected no swap after Close")
	}
	if s.Snapshot().Current != "720p" {
		t.Error("Expected current rendition unchanged")
	}
}
