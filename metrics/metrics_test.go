package metrics

import (
	"testing"
)

func TestTranscodeMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"TranscodeJobsTotal", TranscodeJobsTotal},
		{"TranscodeRenditionsTotal", TranscodeRenditionsTotal},
		{"TranscodeJobDuration", TranscodeJobDuration},
		{"TranscodeJobsInProgress", TranscodeJobsInProgress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestDeliveryMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"URLResolutionsTotal", URLResolutionsTotal},
		{"URLCacheRequestsTotal", URLCacheRequestsTotal},
		{"URLCacheEvictionsTotal", URLCacheEvictionsTotal},
		{"URLCacheEntries", URLCacheEntries},
		{"URLCacheFlushesTotal", URLCacheFlushesTotal},
		{"QualitySwitchesTotal", QualitySwitchesTotal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestLabelledMetricsAcceptLabels(t *testing.T) {
	TranscodeRenditionsTotal.WithLabelValues("720p", "success").Inc()
	URLCacheRequestsTotal.WithLabelValues("hit").Inc()
	QualitySwitchesTotal.WithLabelValues("down", "buffer_critical", "ok").Inc()
}
