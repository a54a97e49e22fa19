package player

import (
	"errors"
	"testing"
)

func TestEstimateUnavailable(t *testing.T) {
	e := NewNetworkEstimator()
	if _, err := e.Estimate(); !errors.Is(err, ErrNetworkMeasurementUnavailable) {
		t.Errorf("Expected ErrNetworkMeasurementUnavailable, got %v", err)
	}
	e.Add(0)
	e.Add(-5)
	if _, err := e.Estimate(); err == nil {
		t.Error("Expected non-positive samples to be ignored")
	}

	c := ConservativeCondition()
	if c.Stable || c.DownlinkKbps != ConservativeDownlinkKbps {
		t.Errorf("Unexpected fallback %+v", c)
	}
}

func TestEstimateStability(t *testing.T) {
	tests := []struct {
		name       string
		samples    []float64
		wantStable bool
	}{
		{"Steady", []float64{3000, 3100, 2950, 3050, 3000}, true},
		{"TooFew", []float64{3000, 3000}, false},
		{"Jittery", []float64{500, 6000, 800, 7000, 400}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewNetworkEstimator()
			for _, s := range tt.samples {
				e.Add(s)
			}
			got, err := e.Estimate()
			if err != nil {
				t.Fatalf("Estimate() error: %v", err)
			}
			if got.Stable != tt.wantStable {
				t.Errorf("Expected stable=%v, got %+v", tt.wantStable, got)
			}
		})
	}
}

func TestEstimateTrend(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		want    Trend
	}{
		{"Flat", []float64{2000, 2000, 2000, 2000}, TrendStable},
		{"Rising", []float64{1000, 1000, 1000, 1000, 4000, 4000}, TrendImproving},
		{"Falling", []float64{4000, 4000, 4000, 4000, 1000, 1000}, TrendDegrading},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewNetworkEstimator()
			for _, s := range tt.samples {
				e.Add(s)
			}
			got, _ := e.Estimate()
			if got.Trend != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got.Trend)
			}
		})
	}
}

func TestAddTransfer(t *testing.T) {
	e := NewNetworkEstimator()
	e.AddTransfer(250_000, 1) // 2000 kbps
	got, _ := e.Estimate()
	if got.DownlinkKbps != 2000 {
		t.Errorf("Expected 2000 kbps, got %v", got.DownlinkKbps)
	}
}
