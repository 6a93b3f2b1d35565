package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/lipsync-audio-service/internal/classify"
	"github.com/skypro1111/lipsync-audio-service/internal/config"
	"github.com/skypro1111/lipsync-audio-service/internal/lipsync"
	"github.com/skypro1111/lipsync-audio-service/internal/metrics"
	"github.com/skypro1111/lipsync-audio-service/internal/profile"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testEnv struct {
	config   *config.Config
	manager  *lipsync.Manager
	hub      *ResultHub
	http     *HTTPServer
	registry *prometheus.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Profile.Path = filepath.Join(t.TempDir(), "profile.yaml")

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	mc := cfg.ManagerConfig()
	mc.TickRate = 5 * time.Millisecond
	mgr, err := lipsync.NewManager(testLogger(), profile.New("test"), mc, m)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(mgr.Stop)

	hub := NewResultHub(testLogger(), m)
	t.Cleanup(hub.Close)

	return &testEnv{
		config:   cfg,
		manager:  mgr,
		hub:      hub,
		http:     NewHTTPServer(testLogger(), cfg, mgr, nil, hub, m, registry),
		registry: registry,
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	e.http.Handler().ServeHTTP(rec, req)
	return rec
}

func sine(n, sampleRate int, freq, amplitude float64) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// publishedAnalyzer creates an analyzer and waits for its first published result
func publishedAnalyzer(t *testing.T, mgr *lipsync.Manager, id string) *lipsync.Analyzer {
	t.Helper()

	a, err := mgr.CreateAnalyzer(id, "speaker", 16000)
	if err != nil {
		t.Fatalf("CreateAnalyzer failed: %v", err)
	}
	a.Ingest(sine(a.WindowLength(), 16000, 440, 0.5), 1)

	// Ticks before the ingest see silence, so wait for a voiced result
	waitFor(t, "first voiced result", func() bool {
		r, ok := a.Result()
		return ok && r.Status != classify.NoSpeech
	})
	return a
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", body["status"])
	}
	components := body["components"].(map[string]interface{})
	if _, ok := components["udp_server"]; ok {
		t.Error("udp_server component should be absent without a UDP server")
	}
	if _, ok := components["websocket"]; !ok {
		t.Error("websocket component missing")
	}
}

func TestRoutes(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"root", http.MethodGet, "/", "", http.StatusOK, "Lip-Sync Vowel Analysis Service"},
		{"unknown path", http.MethodGet, "/nope", "", http.StatusNotFound, ""},
		{"method not allowed", http.MethodPost, "/health", "", http.StatusMethodNotAllowed, ""},
		{"empty analyzer list", http.MethodGet, "/analyzers", "", http.StatusOK, `"total_analyzers":0`},
		{"unknown analyzer", http.MethodGet, "/analyzers/42", "", http.StatusNotFound, "analyzer not found"},
		{"delete unknown analyzer", http.MethodDelete, "/analyzers/42", "", http.StatusNotFound, ""},
		{"calibrate unknown analyzer", http.MethodPost, "/analyzers/42/calibrate?vowel=A", "", http.StatusNotFound, ""},
		{"config", http.MethodGet, "/config", "", http.StatusOK, `"frame_duration_ms":30`},
		{"stats", http.MethodGet, "/stats", "", http.StatusOK, `"calibration"`},
		{"profile", http.MethodGet, "/profile", "", http.StatusOK, `"name":"test"`},
		{"reset invalid vowel", http.MethodDelete, "/profile/X", "", http.StatusBadRequest, "invalid vowel"},
		{"reset vowel", http.MethodDelete, "/profile/a", "", http.StatusNoContent, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.target, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d (%s)", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("Expected body to contain %q, got %s", tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestCalibrateEndpoint(t *testing.T) {
	env := newTestEnv(t)

	// A stopped analyzer never publishes, so calibration conflicts
	idle, err := env.manager.CreateAnalyzer("idle", "", 16000)
	if err != nil {
		t.Fatalf("CreateAnalyzer failed: %v", err)
	}
	idle.Stop()
	rec := env.do(t, http.MethodPost, "/analyzers/idle/calibrate?vowel=A", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for stopped analyzer, got %d", rec.Code)
	}

	publishedAnalyzer(t, env.manager, "1")

	rec = env.do(t, http.MethodPost, "/analyzers/1/calibrate?vowel=Z", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid vowel, got %d", rec.Code)
	}

	for i := 1; i <= 3; i++ {
		rec = env.do(t, http.MethodPost, "/analyzers/1/calibrate?vowel=o", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d (%s)", rec.Code, rec.Body.String())
		}

		var body struct {
			Vowel string `json:"vowel"`
			Count uint64 `json:"count"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("Invalid JSON: %v", err)
		}
		if body.Vowel != "O" || body.Count != uint64(i) {
			t.Errorf("Expected O with count %d, got %s with %d", i, body.Vowel, body.Count)
		}
	}

	if !env.manager.Profile().Calibrated(profile.O) {
		t.Error("Vowel O should be calibrated")
	}

	rec = env.do(t, http.MethodGet, "/profile", "")
	var view ProfileView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if o := view.Vowels["O"]; !o.Calibrated || o.Count != 3 || len(o.Mean) != 12 {
		t.Errorf("Unexpected O view %+v", o)
	}
	if a := view.Vowels["A"]; a.Calibrated || a.Mean != nil {
		t.Errorf("Vowel A should be uncalibrated, got %+v", a)
	}

	rec = env.do(t, http.MethodDelete, "/profile/O", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rec.Code)
	}
	if env.manager.Profile().Calibrated(profile.O) {
		t.Error("Vowel O should be reset")
	}
}

func TestAnalyzerDetail(t *testing.T) {
	env := newTestEnv(t)
	publishedAnalyzer(t, env.manager, "7")

	rec := env.do(t, http.MethodGet, "/analyzers/7", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var view struct {
		ID     string      `json:"id"`
		Name   string      `json:"name"`
		Result *ResultView `json:"result"`
		MFCC   []float32   `json:"mfcc"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if view.ID != "7" || view.Name != "speaker" {
		t.Errorf("Unexpected identity %q/%q", view.ID, view.Name)
	}
	if view.Result == nil {
		t.Fatal("Expected a published result")
	}
	// Nothing is calibrated yet
	if view.Result.Status != "uncalibrated" || view.Result.Vowel != "" {
		t.Errorf("Expected uncalibrated result, got %+v", view.Result)
	}
	if len(view.Result.Distances) != 0 {
		t.Errorf("Uncalibrated distances should be omitted, got %v", view.Result.Distances)
	}
	if len(view.MFCC) != 12 {
		t.Errorf("Expected 12 coefficients, got %d", len(view.MFCC))
	}

	rec = env.do(t, http.MethodGet, "/analyzers", "")
	if !strings.Contains(rec.Body.String(), `"total_analyzers":1`) {
		t.Errorf("Expected one analyzer, got %s", rec.Body.String())
	}

	rec = env.do(t, http.MethodDelete, "/analyzers/7", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rec.Code)
	}
	if _, exists := env.manager.GetAnalyzer("7"); exists {
		t.Error("Analyzer should be removed")
	}
}

func TestGainAndWindowEndpoints(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.manager.CreateAnalyzer("3", "", 16000)
	if err != nil {
		t.Fatalf("CreateAnalyzer failed: %v", err)
	}

	tests := []struct {
		name       string
		target     string
		body       string
		wantStatus int
		check      func(t *testing.T)
	}{
		{
			name:       "gain is clamped",
			target:     "/analyzers/3/gain",
			body:       `{"gain": 5}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T) {
				if a.Gain() != 2 {
					t.Errorf("Expected gain clamped to 2, got %f", a.Gain())
				}
			},
		},
		{
			name:       "gain missing",
			target:     "/analyzers/3/gain",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "gain malformed",
			target:     "/analyzers/3/gain",
			body:       `gain=1`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "window too short",
			target:     "/analyzers/3/window",
			body:       `{"window_length": 10}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "window too long",
			target:     "/analyzers/3/window",
			body:       `{"window_length": 70368744177664}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "frame duration too long",
			target:     "/analyzers/3/window",
			body:       `{"frame_duration_ms": 100000}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "frame duration negative",
			target:     "/analyzers/3/window",
			body:       `{"frame_duration_ms": -20}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "window from frame duration",
			target:     "/analyzers/3/window",
			body:       `{"frame_duration_ms": 20}`,
			wantStatus: http.StatusAccepted,
			check: func(t *testing.T) {
				waitFor(t, "window resize", func() bool { return a.WindowLength() == 320 })
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, tt.target, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d (%s)", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.check != nil {
				tt.check(t)
			}
		})
	}
}

func TestProfileSaveEndpoint(t *testing.T) {
	env := newTestEnv(t)
	a := publishedAnalyzer(t, env.manager, "1")
	if err := a.Calibrate(profile.E); err != nil {
		t.Fatalf("Calibrate failed: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/profile/save", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	loaded, err := profile.Load(env.config.Profile.Path)
	if err != nil {
		t.Fatalf("Saved profile could not be loaded: %v", err)
	}
	if loaded.Count(profile.E) != 1 {
		t.Errorf("Expected 1 E sample in saved profile, got %d", loaded.Count(profile.E))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	// Generate at least one request sample
	env.do(t, http.MethodGet, "/health", "")

	rec := env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "lipsync_http_requests_total") {
		t.Errorf("Expected HTTP request metric in output")
	}
}
