package transcode

import (
	"time"

	"Fanvault/model"
)

// EventType names a job progress event.
type EventType string

const (
	EventJobStarted    EventType = "job_started"
	EventRenditionDone EventType = "rendition_done"
	EventJobDone       EventType = "job_done"
)

// Event is one progress notification for a running job.
type Event struct {
	Type      EventType              `json:"type"`
	JobID     string                 `json:"jobId"`
	AssetID   string                 `json:"assetId"`
	Planned   []string               `json:"planned,omitempty"`
	Rendition *model.RenditionResult `json:"rendition,omitempty"`
	Status    model.ProcessingStatus `json:"status,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Time      time.Time              `json:"time"`
}

// EventSink receives job events. Publish must not block the job.
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Publish(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Publish(Event) {}
