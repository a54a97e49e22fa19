package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"Fanvault/core/access"
	"Fanvault/core/player"
)

type recordingPlayer struct {
	mu     sync.Mutex
	buffer time.Duration
	swaps  []player.Source
}

func (p *recordingPlayer) Position() time.Duration    { return 12 * time.Second }
func (p *recordingPlayer) Paused() bool               { return false }
func (p *recordingPlayer) Stalling() bool             { return false }
func (p *recordingPlayer) BufferAhead() time.Duration { return p.buffer }

func (p *recordingPlayer) Swap(src player.Source, position time.Duration, paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.swaps = append(p.swaps, src)
	return nil
}

func (p *recordingPlayer) swapped() []player.Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]player.Source(nil), p.swaps...)
}

type instantPreloader struct{}

func (instantPreloader) Preload(ctx context.Context, src player.Source, position time.Duration) error {
	return nil
}

func waitSwitch(t *testing.T, s *player.Session) player.SwitchRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h := s.History(); len(h) > 0 {
			return h[0]
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for a switch")
	return player.SwitchRecord{}
}

func TestRenditionSourceLadder(t *testing.T) {
	f := newFixture(t)
	src := RenditionSource{Service: f.svc, PrincipalID: "fan", AssetID: "v1"}

	got, err := src.Ladder(context.Background())
	if err != nil {
		t.Fatalf("Ladder() error: %v", err)
	}
	if len(got) != 2 || got[0].Label != "360p" || got[1].Label != "720p" || got[1].BitrateKbps != 2800 {
		t.Errorf("Unexpected ladder %+v", got)
	}

	if _, err := (RenditionSource{Service: f.svc, PrincipalID: "op", AssetID: "v2"}).Ladder(context.Background()); !errors.Is(err, ErrRenditionNotFound) {
		t.Errorf("Expected ErrRenditionNotFound for an unprocessed asset, got %v", err)
	}
}

func TestSessionSwitchesThroughDelivery(t *testing.T) {
	f := newFixture(t)
	src := RenditionSource{Service: f.svc, PrincipalID: "fan", AssetID: "v1", ExpiresIn: time.Hour}
	ladder, err := src.Ladder(context.Background())
	if err != nil {
		t.Fatalf("Ladder() error: %v", err)
	}

	p := &recordingPlayer{buffer: time.Second}
	s := player.NewSession("v1", "720p", p, instantPreloader{}, src, nil, player.SessionConfig{
		Decision:       player.DefaultConfig(ladder),
		SampleInterval: time.Hour,
	})
	defer s.Close()

	if a := s.Tick(); !a.Switch || a.To != "360p" {
		t.Fatalf("Expected a critical switch to 360p, got %+v", a)
	}
	if rec := waitSwitch(t, s); !rec.OK {
		t.Fatalf("Expected the switch to succeed, got %+v", rec)
	}

	swaps := p.swapped()
	if len(swaps) != 1 || !strings.Contains(swaps[0].URL, "processed/v1/v1_360p.mp4") {
		t.Fatalf("Expected a swap to the signed 360p URL, got %+v", swaps)
	}
	if got := f.store.LastSign().Key; got != "processed/v1/v1_360p.mp4" {
		t.Errorf("Expected the store to sign the stored rendition path, got %s", got)
	}
	if f.cache.Stats().Entries == 0 {
		t.Error("Expected the resolved URL to be cached")
	}
}

func TestSessionSwitchDeniedWithoutGrant(t *testing.T) {
	f := newFixture(t)
	src := RenditionSource{Service: f.svc, PrincipalID: "stranger", AssetID: "v1"}

	p := &recordingPlayer{buffer: time.Second}
	s := player.NewSession("v1", "720p", p, instantPreloader{}, src, nil, player.SessionConfig{
		Decision:       player.DefaultConfig([]player.Rendition{{Label: "360p", Height: 360, BitrateKbps: 800}, {Label: "720p", Height: 720, BitrateKbps: 2800}}),
		SampleInterval: time.Hour,
	})
	defer s.Close()

	s.Tick()
	rec := waitSwitch(t, s)
	if rec.OK || !strings.Contains(rec.Error, access.ErrAccessDenied.Error()) {
		t.Errorf("Expected an access denied switch failure, got %+v", rec)
	}
	if len(p.swapped()) != 0 || s.Snapshot().Current != "720p" {
		t.Error("Expected playback to stay on 720p")
	}
	if f.resolver.count() != 0 {
		t.Error("Expected no resolution for a denied principal")
	}
}
