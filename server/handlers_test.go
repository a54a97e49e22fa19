package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"Fanvault/config"
	"Fanvault/core/access"
	"Fanvault/core/auth"
	"Fanvault/core/delivery"
	"Fanvault/core/resolver"
	"Fanvault/core/transcode"
	"Fanvault/model"
	"Fanvault/storage"
)

type fakeAccess struct {
	privileged map[string]bool
	grants     map[string]bool // principal|asset
}

func (f *fakeAccess) IsPrivileged(ctx context.Context, principalID string) bool {
	return f.privileged[principalID]
}

func (f *fakeAccess) CanAccess(ctx context.Context, principalID, mediaID string) bool {
	return f.privileged[principalID] || f.grants[principalID+"|"+mediaID]
}

type fakeDelivery struct {
	mu          sync.Mutex
	err         error
	lastLabel   string
	lastExpiry  time.Duration
	lastTF      resolver.Transform
	lastPrinc   string
	manifestHit bool
}

func (f *fakeDelivery) URL(ctx context.Context, principalID, assetID, label string, expiresIn time.Duration) (*delivery.URLResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPrinc, f.lastLabel, f.lastExpiry = principalID, label, expiresIn
	if f.err != nil {
		return nil, f.err
	}
	return &delivery.URLResponse{URL: "https://media.test/" + assetID, Label: "720p", ExpiresAt: time.Unix(1700000000, 0).UTC()}, nil
}

func (f *fakeDelivery) Manifest(ctx context.Context, principalID, assetID string, expiresIn time.Duration) (*delivery.ManifestResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manifestHit = true
	if f.err != nil {
		return nil, f.err
	}
	return &delivery.ManifestResponse{
		Manifest:     []delivery.ManifestEntry{{Label: "240p", Height: 240, URL: "https://media.test/240"}},
		OriginalPath: "uploads/" + assetID + "/source.mp4",
		Status:       model.StatusCompleted,
	}, nil
}

func (f *fakeDelivery) SecureURL(ctx context.Context, principalID, assetID, p string, tf resolver.Transform, expiresIn time.Duration) (*resolver.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPrinc, f.lastTF, f.lastExpiry = principalID, tf, expiresIn
	if f.err != nil {
		return nil, f.err
	}
	return &resolver.Result{URL: "https://media.test/" + p, Kind: model.KindImage}, nil
}

func (f *fakeDelivery) snapshot() fakeDelivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeDelivery{lastLabel: f.lastLabel, lastExpiry: f.lastExpiry, lastTF: f.lastTF, lastPrinc: f.lastPrinc, manifestHit: f.manifestHit}
}

type fakeRunner struct {
	mu      sync.Mutex
	err     error
	block   chan struct{}
	started chan struct{}
	lastReq transcode.Request
}

func (f *fakeRunner) Run(ctx context.Context, req transcode.Request) (*model.TranscodeManifest, error) {
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	m := model.NewTranscodeManifest(req.AssetID)
	m.Record(model.RenditionResult{Label: "480p", Height: 480, Success: true, Path: "processed/a1/a1_480p.mp4"})
	m.Record(model.RenditionResult{Label: "240p", Height: 240, Success: true, Path: "processed/a1/a1_240p.mp4"})
	m.Finalize(time.Now())
	return m, nil
}

func (f *fakeRunner) request() transcode.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

type apiFixture struct {
	handler  *Handler
	issuer   *auth.Issuer
	delivery *fakeDelivery
	runner   *fakeRunner
	server   *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	f := &apiFixture{
		issuer:   issuer,
		delivery: &fakeDelivery{},
		runner:   &fakeRunner{},
	}
	acc := &fakeAccess{
		privileged: map[string]bool{"op": true},
		grants:     map[string]bool{"fan|a1": true},
	}
	cfg := &config.Config{TranscodeMaxJobs: 1, TranscodeDefaultLabels: []string{"240p", "480p"}}
	hub := NewJobHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	f.handler = NewHandler(cfg, issuer, acc, f.delivery, f.runner, hub, nil)
	f.server = httptest.NewServer(f.handler.Router())
	t.Cleanup(f.server.Close)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, principal, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if principal != "" {
		token, err := f.issuer.GenerateToken(principal)
		if err != nil {
			t.Fatalf("GenerateToken: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]interface{}{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestAuthMiddleware(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"Missing", "", http.StatusUnauthorized},
		{"WrongScheme", "Basic abc", http.StatusUnauthorized},
		{"BadToken", "Bearer not-a-jwt", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/api/media/a1", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("Do: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}

	t.Run("QueryToken", func(t *testing.T) {
		token, _ := f.issuer.GenerateToken("fan")
		resp, err := http.Get(f.server.URL + "/api/media/a1?token=" + token)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected 200, got %d", resp.StatusCode)
		}
		if got := f.delivery.snapshot().lastPrinc; got != "fan" {
			t.Errorf("Expected principal fan, got %q", got)
		}
	})
}

func TestMediaHandler(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/media/a1?label=720p&expiresIn=600", "fan", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if body["url"] != "https://media.test/a1" || body["label"] != "720p" {
		t.Errorf("Unexpected body %v", body)
	}
	if got := f.delivery.snapshot(); got.lastLabel != "720p" || got.lastExpiry != 10*time.Minute {
		t.Errorf("Expected label 720p and 10m expiry, got %q %s", got.lastLabel, got.lastExpiry)
	}

	resp, body = f.do(t, http.MethodGet, "/api/media/a1?format=manifest", "fan", "")
	if resp.StatusCode != http.StatusOK || !f.delivery.snapshot().manifestHit {
		t.Fatalf("Expected manifest response, got %d", resp.StatusCode)
	}
	if entries, ok := body["manifest"].([]interface{}); !ok || len(entries) != 1 {
		t.Errorf("Expected one manifest entry, got %v", body["manifest"])
	}

	for _, q := range []string{"?format=hls", "?expiresIn=-5", "?expiresIn=soon"} {
		resp, _ = f.do(t, http.MethodGet, "/api/media/a1"+q, "fan", "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, resp.StatusCode)
		}
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"Denied", fmt.Errorf("wrap: %w", access.ErrAccessDenied), http.StatusForbidden, "AccessDenied"},
		{"AssetMissing", model.ErrAssetNotFound, http.StatusNotFound, "NotFound"},
		{"ObjectMissing", storage.ErrNotFound, http.StatusNotFound, "NotFound"},
		{"RenditionMissing", delivery.ErrRenditionNotFound, http.StatusNotFound, "NotFound"},
		{"InvalidPath", resolver.ErrInvalidPath, http.StatusBadRequest, "InvalidPath"},
		{"Other", errors.New("boom"), http.StatusInternalServerError, "Internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.delivery.err = tt.err
			resp, body := f.do(t, http.MethodGet, "/api/media/a1", "fan", "")
			if resp.StatusCode != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, resp.StatusCode)
			}
			if body["code"] != tt.code {
				t.Errorf("Expected code %s, got %v", tt.code, body["code"])
			}
			if tt.want == http.StatusInternalServerError && strings.Contains(fmt.Sprint(body["error"]), "boom") {
				t.Error("Expected internal error detail to be hidden")
			}
		})
	}
}

func TestSecureURLHandler(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/secure-url", "fan",
		`{"assetId":"a1","path":"uploads/a1/cover.jpg","width":640,"quality":80,"format":"webp","expiresIn":120}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if body["url"] != "https://media.test/uploads/a1/cover.jpg" {
		t.Errorf("Unexpected url %v", body["url"])
	}
	want := resolver.Transform{Width: 640, Quality: 80, Format: "webp"}
	if got := f.delivery.snapshot(); got.lastTF != want || got.lastExpiry != 2*time.Minute {
		t.Errorf("Expected %+v / 2m, got %+v / %s", want, got.lastTF, got.lastExpiry)
	}

	for _, b := range []string{`{`, `{"assetId":"a1"}`, `{"path":"x.jpg"}`} {
		resp, _ = f.do(t, http.MethodPost, "/api/secure-url", "fan", b)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", b, resp.StatusCode)
		}
	}
}

func TestTranscodeHandler(t *testing.T) {
	t.Run("NonPrivilegedDenied", func(t *testing.T) {
		f := newAPIFixture(t)
		resp, _ := f.do(t, http.MethodPost, "/api/transcode", "fan", `{"assetId":"a1","sourcePath":"uploads/a1/s.mp4"}`)
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", resp.StatusCode)
		}
	})

	t.Run("DefaultsLabelsAndSortsResults", func(t *testing.T) {
		f := newAPIFixture(t)
		resp, body := f.do(t, http.MethodPost, "/api/transcode", "op", `{"assetId":"a1","sourcePath":"uploads/a1/s.mp4"}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}
		if got := f.runner.request().TargetLabels; strings.Join(got, ",") != "240p,480p" {
			t.Errorf("Expected default labels, got %v", got)
		}
		if body["success"] != true {
			t.Errorf("Expected success, got %v", body["success"])
		}
		per := body["perRendition"].([]interface{})
		if len(per) != 2 || per[0].(map[string]interface{})["label"] != "240p" {
			t.Errorf("Expected results ordered by height, got %v", per)
		}
	})

	t.Run("JobFatalErrors", func(t *testing.T) {
		for err, want := range map[error]int{
			transcode.ErrInputTooLarge: http.StatusRequestEntityTooLarge,
			transcode.ErrProbeFailed:   http.StatusUnprocessableEntity,
			storage.ErrNotFound:        http.StatusNotFound,
		} {
			f := newAPIFixture(t)
			f.runner.err = fmt.Errorf("job: %w", err)
			resp, _ := f.do(t, http.MethodPost, "/api/transcode", "op", `{"assetId":"a1","sourcePath":"uploads/a1/s.mp4"}`)
			if resp.StatusCode != want {
				t.Errorf("%v: expected %d, got %d", err, want, resp.StatusCode)
			}
		}
	})

	t.Run("BoundedConcurrency", func(t *testing.T) {
		f := newAPIFixture(t)
		f.runner.block = make(chan struct{})
		f.runner.started = make(chan struct{}, 1)

		token, _ := f.issuer.GenerateToken("op")
		done := make(chan int, 1)
		go func() {
			req, _ := http.NewRequest(http.MethodPost, f.server.URL+"/api/transcode",
				strings.NewReader(`{"assetId":"a1","sourcePath":"uploads/a1/s.mp4"}`))
			req.Header.Set("Authorization", "Bearer "+token)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				done <- 0
				return
			}
			resp.Body.Close()
			done <- resp.StatusCode
		}()
		<-f.runner.started

		resp, _ := f.do(t, http.MethodPost, "/api/transcode", "op", `{"assetId":"a2","sourcePath":"uploads/a2/s.mp4"}`)
		if resp.StatusCode != http.StatusTooManyRequests {
			t.Errorf("Expected 429 while at capacity, got %d", resp.StatusCode)
		}
		close(f.runner.block)
		if code := <-done; code != http.StatusOK {
			t.Errorf("Expected first job to finish with 200, got %d", code)
		}
	})
}

func TestCacheStatsRequiresPrivilege(t *testing.T) {
	f := newAPIFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/api/cache/stats", "fan", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, "/api/cache/stats", "op", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 with cache disabled, got %d", resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)
	for _, p := range []string{"/health", "/metrics"} {
		resp, err := http.Get(f.server.URL + p)
		if err != nil {
			t.Fatalf("Get %s: %v", p, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", p, resp.StatusCode)
		}
	}
}
