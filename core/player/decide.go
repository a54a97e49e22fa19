// Package player is the adaptive quality controller for one playback
// session. Decide is a pure function of (state, signals, now); Session owns
// the sampling timer and executes the switches Decide asks for.
package player

import (
	"time"
)

// BufferHealth classifies seconds of playable content ahead of the play head.
type BufferHealth string

const (
	BufferCritical  BufferHealth = "critical"
	BufferLow       BufferHealth = "low"
	BufferGood      BufferHealth = "good"
	BufferExcellent BufferHealth = "excellent"
)

// Buffer thresholds.
const (
	CriticalBuffer = 2 * time.Second
	LowBuffer      = 5 * time.Second
	GoodBuffer     = 15 * time.Second
)

// ClassifyBuffer maps buffered time to a health class.
func ClassifyBuffer(ahead time.Duration) BufferHealth {
	switch {
	case ahead < CriticalBuffer:
		return BufferCritical
	case ahead < LowBuffer:
		return BufferLow
	case ahead < GoodBuffer:
		return BufferGood
	}
	return BufferExcellent
}

// Trend is the direction of recent throughput.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)

// NetworkCondition is the current throughput estimate.
type NetworkCondition struct {
	DownlinkKbps float64
	Stable       bool
	Trend        Trend
}

// Signals is one sample taken by the session.
type Signals struct {
	BufferAhead time.Duration
	Stalling    bool
	Network     NetworkCondition
}

// Rendition is one playable rung, as listed in the asset manifest.
type Rendition struct {
	Label       string
	Height      int
	BitrateKbps int
}

// Config holds the decision parameters. Ladder must be ascending.
type Config struct {
	Ladder            []Rendition
	UpgradeCooldown   time.Duration
	DowngradeCooldown time.Duration
	// SafetyMargin multiplies a rung's bitrate before comparing it with the
	// downlink; UnstableMargin replaces it on an unstable or degrading link.
	SafetyMargin   float64
	UnstableMargin float64
	CriticalDrop   int
}

// DefaultConfig returns the standard parameters for ladder.
func DefaultConfig(ladder []Rendition) Config {
	return Config{
		Ladder:            ladder,
		UpgradeCooldown:   10 * time.Second,
		DowngradeCooldown: 4 * time.Second,
		SafetyMargin:      1.3,
		UnstableMargin:    1.8,
		CriticalDrop:      2,
	}
}

// State is the controller state carried between ticks.
type State struct {
	Current      string
	Target       string
	LastSwitchAt time.Time
	Override     string
}

// Pending reports whether a switch is in flight.
func (s State) Pending() bool {
	return s.Target != "" && s.Target != s.Current
}

// Reason explains a switch.
type Reason string

const (
	ReasonCriticalBuffer Reason = "critical_buffer"
	ReasonStall          Reason = "stall"
	ReasonBandwidthUp    Reason = "bandwidth_up"
	ReasonBandwidthDown  Reason = "bandwidth_down"
	ReasonManual         Reason = "manual"
)

// Action is what Decide asks the session to do.
type Action struct {
	Switch bool
	To     string
	Reason Reason
	// Immediate is set on the buffer emergency path, which ignores cooldown.
	Immediate bool
}

func (c Config) index(label string) int {
	for i, r := range c.Ladder {
		if r.Label == label {
			return i
		}
	}
	return -1
}

func (c Config) margin(n NetworkCondition) float64 {
	if !n.Stable || n.Trend == TrendDegrading {
		return c.UnstableMargin
	}
	return c.SafetyMargin
}

// sustainable is the highest rung whose margin-adjusted bitrate fits under
// the downlink, or the lowest rung if none does.
func (c Config) sustainable(n NetworkCondition) int {
	m := c.margin(n)
	best := 0
	for i, r := range c.Ladder {
		if float64(r.BitrateKbps)*m < n.DownlinkKbps {
			best = i
		}
	}
	return best
}

// Decide evaluates one tick. It never touches the player; the returned state
// records an emitted switch as the new target and stamps LastSwitchAt.
func Decide(st State, sig Signals, now time.Time, cfg Config) (State, Action) {
	if st.Override != "" || len(cfg.Ladder) == 0 || st.Pending() {
		return st, Action{}
	}

	cur := cfg.index(st.Current)
	if cur < 0 {
		cur = 0
	}

	emit := func(to int, reason Reason, immediate bool) (State, Action) {
		label := cfg.Ladder[to].Label
		st.Target = label
		st.LastSwitchAt = now
		return st, Action{Switch: true, To: label, Reason: reason, Immediate: immediate}
	}

	health := ClassifyBuffer(sig.BufferAhead)
	if health == BufferCritical || sig.Stalling {
		to := max(cur-cfg.CriticalDrop, 0)
		if to == cur {
			return st, Action{}
		}
		reason := ReasonCriticalBuffer
		if sig.Stalling && health != BufferCritical {
			reason = ReasonStall
		}
		return emit(to, reason, true)
	}

	elapsed := now.Sub(st.LastSwitchAt)
	if st.LastSwitchAt.IsZero() {
		elapsed = time.Duration(1<<63 - 1)
	}

	best := cfg.sustainable(sig.Network)
	switch {
	case best > cur:
		if sig.Network.Stable && sig.BufferAhead > 2*LowBuffer && elapsed >= cfg.UpgradeCooldown {
			return emit(best, ReasonBandwidthUp, false)
		}
	case best < cur:
		if elapsed >= cfg.DowngradeCooldown {
			return emit(best, ReasonBandwidthDown, false)
		}
	}
	return st, Action{}
}
