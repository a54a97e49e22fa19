package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"Fanvault/core/ladder"
	"Fanvault/core/transcode"
	"Fanvault/model"
)

func TestPlanCommand(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"plan", "--width", "1280", "--height", "720", "-l", "240p,720p,1080p,8k"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	got := out.String()
	for _, want := range []string{"source 1280x720", "240p", "426x240", "720p", "1280x720", "2 label(s) skipped"} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected %q in output:\n%s", want, got)
		}
	}
	if strings.Contains(got, "1920x1080") {
		t.Errorf("Expected no upscaled rendition:\n%s", got)
	}
}

func TestPrintPlanNothingSkipped(t *testing.T) {
	specs, err := ladder.Plan(1920, 1080, []string{"360p"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	var out bytes.Buffer
	printPlan(&out, 1920, 1080, []string{"360p"}, specs)
	if strings.Contains(out.String(), "skipped") {
		t.Errorf("Unexpected skip note:\n%s", out.String())
	}
}

func TestPrintManifest(t *testing.T) {
	m := model.NewTranscodeManifest("a1")
	m.Record(model.RenditionResult{Label: "720p", Height: 720, Success: true, SizeBytes: 2048, CompressionRatio: 3.5, Path: "processed/a1/a1_720p.mp4"})
	m.Record(model.RenditionResult{Label: "240p", Height: 240, Error: "encode failed: exit status 1"})
	m.Finalize(time.Now())

	var out bytes.Buffer
	printManifest(&out, m)
	got := out.String()

	if strings.Index(got, "240p") > strings.Index(got, "720p") {
		t.Errorf("Expected rows ordered by height:\n%s", got)
	}
	for _, want := range []string{"2.0 KB", "3.50", "encode failed", "status: completed (1/2 succeeded)"} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected %q in output:\n%s", want, got)
		}
	}
}

func TestPrintEvent(t *testing.T) {
	tests := []struct {
		name  string
		event transcode.Event
		want  string
	}{
		{"Started", transcode.Event{Type: transcode.EventJobStarted, JobID: "j1", Planned: []string{"240p"}}, "job j1 started, planned [240p]"},
		{"RenditionOK", transcode.Event{Type: transcode.EventRenditionDone, Rendition: &model.RenditionResult{Label: "240p", Success: true, SizeBytes: 512}}, "240p ok (512 B)"},
		{"RenditionFailed", transcode.Event{Type: transcode.EventRenditionDone, Rendition: &model.RenditionResult{Label: "480p", Error: "upload failed"}}, "480p failed: upload failed"},
		{"JobFailed", transcode.Event{Type: transcode.EventJobDone, JobID: "j1", Status: model.StatusFailed, Error: "probe failed"}, "job j1 failed: probe failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			printEvent(&out, tt.event)
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("Expected %q, got %q", tt.want, out.String())
			}
		})
	}
}
