package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"Fanvault/logger"
	"Fanvault/metrics"
)

// ErrPreloadTimeout is returned when a candidate rendition did not buffer in
// time. The session stays on its current rendition.
var ErrPreloadTimeout = errors.New("player: preload timed out")

// ErrUnknownRendition is returned for labels outside the session's ladder.
var ErrUnknownRendition = errors.New("player: unknown rendition")

// Source is a playable rendition URL.
type Source struct {
	Label string
	URL   string
}

// Player is the playback element being controlled.
type Player interface {
	Position() time.Duration
	Paused() bool
	BufferAhead() time.Duration
	Stalling() bool
	// Swap replaces the active source, resuming at position in the given
	// play/pause state.
	Swap(src Source, position time.Duration, paused bool) error
}

// Preloader buffers src in the background from position and returns once
// enough is buffered to swap without a visible restart.
type Preloader interface {
	Preload(ctx context.Context, src Source, position time.Duration) error
}

// URLSource resolves a rendition label to a delivery URL.
type URLSource interface {
	RenditionURL(ctx context.Context, label string) (string, error)
}

// SessionConfig configures a Session. Zero durations pick defaults.
type SessionConfig struct {
	Decision       Config
	SampleInterval time.Duration
	PreloadTimeout time.Duration
	HistorySize    int
	Now            func() time.Time
}

// SwitchRecord is one entry of the bounded switch history.
type SwitchRecord struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	At     time.Time `json:"at"`
	Reason Reason    `json:"reason"`
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
}

// Session controls quality for one playback.
type Session struct {
	itemID    string
	player    Player
	preloader Preloader
	urls      URLSource
	network   *NetworkEstimator
	loader    *Loader
	cfg       SessionConfig

	mu        sync.Mutex
	state     State
	history   []SwitchRecord
	switching bool
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession creates a session playing initial. network may be shared with
// whatever measures segment downloads.
func NewSession(itemID, initial string, p Player, pre Preloader, urls URLSource, network *NetworkEstimator, cfg SessionConfig) *Session {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = time.Second
	}
	if cfg.PreloadTimeout <= 0 {
		cfg.PreloadTimeout = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 20
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if network == nil {
		network = NewNetworkEstimator()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		itemID:    itemID,
		player:    p,
		preloader: pre,
		urls:      urls,
		network:   network,
		loader:    NewLoader(),
		cfg:       cfg,
		state:     State{Current: initial, Target: initial},
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start runs the sampler until Close.
func (s *Session) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.SampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.Tick()
			}
		}
	}()
}

// Close cancels the sampler and any in-flight switch and waits for them.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.loader.CancelAll()
	s.wg.Wait()
}

// Sample reads the player and network signals.
func (s *Session) Sample() Signals {
	cond, err := s.network.Estimate()
	if err != nil {
		cond = ConservativeCondition()
	}
	return Signals{
		BufferAhead: s.player.BufferAhead(),
		Stalling:    s.player.Stalling(),
		Network:     cond,
	}
}

// Tick samples, decides and starts a switch if one is called for. It returns
// the action taken.
func (s *Session) Tick() Action {
	sig := s.Sample()

	s.mu.Lock()
	if s.closed || s.switching {
		s.mu.Unlock()
		return Action{}
	}
	now := s.cfg.Now()
	var action Action
	if ov := s.state.Override; ov != "" {
		// A pinned label that is not playing yet, e.g. because an automatic
		// switch was in flight when it was set or the manual switch failed.
		if ov != s.state.Current && now.Sub(s.state.LastSwitchAt) >= s.cfg.Decision.DowngradeCooldown {
			s.state.Target = ov
			s.state.LastSwitchAt = now
			action = Action{Switch: true, To: ov, Reason: ReasonManual, Immediate: true}
		}
	} else {
		s.state, action = Decide(s.state, sig, now, s.cfg.Decision)
	}
	if action.Switch {
		s.switching = true
	}
	from := s.state.Current
	s.mu.Unlock()

	if action.Switch {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.execute(s.ctx, from, action)
		}()
	}
	return action
}

// SetOverride pins label and disables automatic switching until
// ClearOverride. The switch runs through the normal execution path, bounded
// by ctx as well as the preload timeout. A switch that fails leaves the pin
// in place and Tick retries it.
func (s *Session) SetOverride(ctx context.Context, label string) error {
	if s.cfg.Decision.index(label) < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRendition, label)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return context.Canceled
	}
	s.state.Override = label
	if s.state.Current == label || s.switching {
		s.mu.Unlock()
		return nil
	}
	s.switching = true
	s.state.Target = label
	s.state.LastSwitchAt = s.cfg.Now()
	from := s.state.Current
	s.mu.Unlock()

	return s.execute(ctx, from, Action{Switch: true, To: label, Reason: ReasonManual, Immediate: true})
}

// ClearOverride re-enables automatic switching.
func (s *Session) ClearOverride() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Override = ""
}

// Snapshot returns the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns past switches, oldest first.
func (s *Session) History() []SwitchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SwitchRecord, len(s.history))
	copy(out, s.history)
	return out
}

// execute preloads the target and swaps it in. Any failure leaves playback
// on the current rendition.
func (s *Session) execute(ctx context.Context, from string, action Action) error {
	err := s.preloadAndSwap(ctx, action.To)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.switching = false
	if err == nil {
		s.state.Current = action.To
	}
	s.state.Target = s.state.Current

	rec := SwitchRecord{From: from, To: action.To, At: s.cfg.Now(), Reason: action.Reason, OK: err == nil}
	if err != nil {
		rec.Error = err.Error()
	}
	s.history = append(s.history, rec)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = append([]SwitchRecord(nil), s.history[over:]...)
	}

	result := "ok"
	switch {
	case errors.Is(err, ErrPreloadTimeout):
		result = "timeout"
	case err != nil:
		result = "failed"
	}
	metrics.QualitySwitchesTotal.WithLabelValues(s.direction(from, action.To), string(action.Reason), result).Inc()

	if err != nil {
		logger.Warn("quality switch abandoned",
			logger.String("item", s.itemID),
			logger.String("from", from),
			logger.String("to", action.To),
			logger.String("reason", string(action.Reason)),
			logger.ErrorField(err))
	} else {
		logger.Debug("quality switched",
			logger.String("item", s.itemID),
			logger.String("from", from),
			logger.String("to", action.To),
			logger.String("reason", string(action.Reason)))
	}
	return err
}

// preloadAndSwap runs under ctx, the preload timeout and the session's own
// lifetime, whichever ends first.
func (s *Session) preloadAndSwap(ctx context.Context, label string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PreloadTimeout)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	u, err := s.urls.RenditionURL(ctx, label)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", label, err)
	}
	src := Source{Label: label, URL: u}

	err = s.loader.Load(ctx, s.itemID,
		func(ctx context.Context) error {
			return s.preloader.Preload(ctx, src, s.player.Position())
		},
		func() error {
			// Read position and pause state at swap time.
			return s.player.Swap(src, s.player.Position(), s.player.Paused())
		})
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s", ErrPreloadTimeout, label, s.cfg.PreloadTimeout)
	}
	return err
}

func (s *Session) direction(from, to string) string {
	a, b := s.cfg.Decision.index(from), s.cfg.Decision.index(to)
	switch {
	case b > a:
		return "up"
	case b < a:
		return "down"
	}
	return "same"
}
