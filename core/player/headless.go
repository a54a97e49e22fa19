package player

import (
	"sync"
	"time"
)

// DefaultMaxBuffer caps how far ahead a Headless player buffers.
const DefaultMaxBuffer = 30 * time.Second

// Headless is a playback element with no renderer. It plays in real time and
// fills its buffer at the measured downlink relative to the active
// rendition's bitrate, so a Session can be run against a live deployment.
type Headless struct {
	mu        sync.Mutex
	bitrates  map[string]int
	network   *NetworkEstimator
	now       func() time.Time
	maxBuffer time.Duration

	last     time.Time
	src      Source
	position time.Duration
	buffer   time.Duration
	paused   bool
	stalled  bool
}

// NewHeadless starts playing initial at position zero with an empty buffer.
func NewHeadless(ladder []Rendition, initial Source, network *NetworkEstimator, now func() time.Time) *Headless {
	if now == nil {
		now = time.Now
	}
	if network == nil {
		network = NewNetworkEstimator()
	}
	bitrates := make(map[string]int, len(ladder))
	for _, r := range ladder {
		bitrates[r.Label] = r.BitrateKbps
	}
	return &Headless{
		bitrates:  bitrates,
		network:   network,
		now:       now,
		maxBuffer: DefaultMaxBuffer,
		last:      now(),
		src:       initial,
	}
}

// advanceLocked moves the clock: fill first, then play from the buffer.
func (h *Headless) advanceLocked() {
	now := h.now()
	dt := now.Sub(h.last)
	h.last = now
	if dt <= 0 {
		return
	}

	if kbps := h.bitrates[h.src.Label]; kbps > 0 {
		cond, err := h.network.Estimate()
		if err != nil {
			cond = ConservativeCondition()
		}
		h.buffer += time.Duration(float64(dt) * cond.DownlinkKbps / float64(kbps))
		if h.buffer > h.maxBuffer {
			h.buffer = h.maxBuffer
		}
	}

	if h.paused {
		h.stalled = false
		return
	}
	played := min(dt, h.buffer)
	h.position += played
	h.buffer -= played
	h.stalled = played < dt
}

func (h *Headless) Position() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.advanceLocked()
	return h.position
}

func (h *Headless) Paused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

func (h *Headless) BufferAhead() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.advanceLocked()
	return h.buffer
}

func (h *Headless) Stalling() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.advanceLocked()
	return h.stalled
}

// SetPaused pauses or resumes playback.
func (h *Headless) SetPaused(paused bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.advanceLocked()
	h.paused = paused
}

// Swap keeps the buffered span: the preload fetched ahead of position
// before the swap was called.
func (h *Headless) Swap(src Source, position time.Duration, paused bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.advanceLocked()
	h.src = src
	h.position = position
	h.paused = paused
	return nil
}

// Source returns the active source.
func (h *Headless) Source() Source {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.src
}
