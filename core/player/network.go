package player

import (
	"errors"
	"math"
	"sync"
)

// ErrNetworkMeasurementUnavailable is returned before any throughput sample
// has been recorded.
var ErrNetworkMeasurementUnavailable = errors.New("player: no network measurement available")

// ConservativeDownlinkKbps is assumed when no measurement exists.
const ConservativeDownlinkKbps = 1000

// ConservativeCondition is the fallback estimate: modest and unstable, so
// the controller never upgrades on it.
func ConservativeCondition() NetworkCondition {
	return NetworkCondition{DownlinkKbps: ConservativeDownlinkKbps, Stable: false, Trend: TrendStable}
}

// NetworkEstimator smooths throughput samples. A fast and a slow EWMA give
// the trend; the coefficient of variation over a short window gives
// stability.
type NetworkEstimator struct {
	mu      sync.Mutex
	fast    float64
	slow    float64
	window  []float64
	next    int
	count   int
	samples int
}

const (
	fastAlpha       = 0.5
	slowAlpha       = 0.1
	windowSize      = 8
	minStableSample = 3
	maxStableCV     = 0.25
	trendBand       = 0.1
)

// NewNetworkEstimator returns an empty estimator.
func NewNetworkEstimator() *NetworkEstimator {
	return &NetworkEstimator{window: make([]float64, windowSize)}
}

// Add records one throughput sample in kbps. Non-positive samples are ignored.
func (e *NetworkEstimator) Add(kbps float64) {
	if kbps <= 0 || math.IsNaN(kbps) || math.IsInf(kbps, 0) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.samples == 0 {
		e.fast, e.slow = kbps, kbps
	} else {
		e.fast = fastAlpha*kbps + (1-fastAlpha)*e.fast
		e.slow = slowAlpha*kbps + (1-slowAlpha)*e.slow
	}
	e.samples++

	e.window[e.next] = kbps
	e.next = (e.next + 1) % len(e.window)
	if e.count < len(e.window) {
		e.count++
	}
}

// AddTransfer records bytes received over seconds.
func (e *NetworkEstimator) AddTransfer(bytes int64, seconds float64) {
	if seconds <= 0 {
		return
	}
	e.Add(float64(bytes) * 8 / 1000 / seconds)
}

// Estimate returns the current condition.
func (e *NetworkEstimator) Estimate() (NetworkCondition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.samples == 0 {
		return NetworkCondition{}, ErrNetworkMeasurementUnavailable
	}

	trend := TrendStable
	switch {
	case e.fast > e.slow*(1+trendBand):
		trend = TrendImproving
	case e.fast < e.slow*(1-trendBand):
		trend = TrendDegrading
	}

	return NetworkCondition{
		DownlinkKbps: e.fast,
		Stable:       e.count >= minStableSample && e.cv() <= maxStableCV,
		Trend:        trend,
	}, nil
}

func (e *NetworkEstimator) cv() float64 {
	var sum float64
	for i := 0; i < e.count; i++ {
		sum += e.window[i]
	}
	mean := sum / float64(e.count)
	if mean == 0 {
		return math.Inf(1)
	}
	var sq float64
	for i := 0; i < e.count; i++ {
		d := e.window[i] - mean
		sq += d * d
	}
	return math.Sqrt(sq/float64(e.count)) / mean
}
