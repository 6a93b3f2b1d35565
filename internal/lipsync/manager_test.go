package lipsync

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/skypro1111/lipsync-audio-service/internal/mfcc"
	"github.com/skypro1111/lipsync-audio-service/internal/profile"
)

func createTestManagerConfig() ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.TickRate = 5 * time.Millisecond
	cfg.StreamTimeout = time.Hour
	cfg.CleanupInterval = time.Hour
	return cfg
}

func newTestManager(t *testing.T, cfg ManagerConfig) *Manager {
	t.Helper()

	mgr, err := NewManager(testLogger(), profile.New("test"), cfg, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(mgr.Stop)
	return mgr
}

func TestNewManagerValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*ManagerConfig)
	}{
		{name: "zero tick rate", modify: func(c *ManagerConfig) { c.TickRate = 0 }},
		{name: "zero frame duration", modify: func(c *ManagerConfig) { c.FrameDuration = 0 }},
		{name: "bad mfcc", modify: func(c *ManagerConfig) { c.MFCC = mfcc.Config{NumFilters: 1} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := createTestManagerConfig()
			tt.modify(&cfg)
			if _, err := NewManager(testLogger(), profile.New("p"), cfg, nil); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}

	if _, err := NewManager(testLogger(), nil, createTestManagerConfig(), nil); err == nil {
		t.Error("expected error for nil profile")
	}
}

func TestCreateAnalyzer(t *testing.T) {
	mgr := newTestManager(t, createTestManagerConfig())

	a, err := mgr.CreateAnalyzer("1", "mic", 48000)
	if err != nil {
		t.Fatalf("CreateAnalyzer failed: %v", err)
	}

	if !a.Running() {
		t.Error("expected analyzer to be started")
	}
	if a.Name() != "mic" {
		t.Errorf("name = %q, want mic", a.Name())
	}
	if a.WindowLength() != 1440 {
		t.Errorf("window length = %d, want 1440 for 30ms at 48kHz", a.WindowLength())
	}

	// Same ID returns the existing analyzer with updated metadata
	again, err := mgr.CreateAnalyzer("1", "headset", 48000)
	if err != nil {
		t.Fatalf("CreateAnalyzer failed: %v", err)
	}
	if again != a {
		t.Error("expected the existing analyzer")
	}
	if a.Name() != "headset" {
		t.Errorf("name = %q, want headset", a.Name())
	}

	if got, ok := mgr.GetAnalyzer("1"); !ok || got != a {
		t.Error("GetAnalyzer did not return the analyzer")
	}
	if _, ok := mgr.GetAnalyzer("missing"); ok {
		t.Error("expected missing analyzer")
	}
	if mgr.ActiveCount() != 1 {
		t.Errorf("active count = %d, want 1", mgr.ActiveCount())
	}
}

func TestCreateAnalyzerRejectsSampleRate(t *testing.T) {
	mgr := newTestManager(t, createTestManagerConfig())

	tests := []struct {
		name       string
		sampleRate int
	}{
		{name: "zero", sampleRate: 0},
		{name: "below minimum", sampleRate: mfcc.MinSampleRate - 1},
		{name: "above maximum", sampleRate: mfcc.MaxSampleRate + 1},
		{name: "huge", sampleRate: 4_000_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := mgr.CreateAnalyzer(tt.name, "", tt.sampleRate); !errors.Is(err, mfcc.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
			if _, ok := mgr.GetAnalyzer(tt.name); ok {
				t.Error("rejected analyzer was registered")
			}
		})
	}

	if mgr.ActiveCount() != 0 {
		t.Errorf("active count = %d, want 0", mgr.ActiveCount())
	}
}

func TestCreateAnalyzerLimit(t *testing.T) {
	cfg := createTestManagerConfig()
	cfg.MaxAnalyzers = 2
	mgr := newTestManager(t, cfg)

	for _, id := range []string{"a", "b"} {
		if _, err := mgr.CreateAnalyzer(id, id, 16000); err != nil {
			t.Fatalf("CreateAnalyzer(%s) failed: %v", id, err)
		}
	}

	if _, err := mgr.CreateAnalyzer("c", "c", 16000); !errors.Is(err, ErrTooManyAnalyzers) {
		t.Errorf("expected ErrTooManyAnalyzers, got %v", err)
	}

	all := mgr.All()
	if len(all) != 2 || all[0].ID != "a" || all[1].ID != "b" {
		t.Errorf("unexpected analyzers %v", all)
	}
}

func TestRemoveAnalyzer(t *testing.T) {
	mgr := newTestManager(t, createTestManagerConfig())

	a, err := mgr.CreateAnalyzer("gone", "", 16000)
	if err != nil {
		t.Fatalf("CreateAnalyzer failed: %v", err)
	}

	if !mgr.RemoveAnalyzer("gone") {
		t.Fatal("RemoveAnalyzer returned false")
	}
	if a.Running() {
		t.Error("removed analyzer should be stopped")
	}
	if mgr.RemoveAnalyzer("gone") {
		t.Error("second RemoveAnalyzer should return false")
	}
	if mgr.ActiveCount() != 0 {
		t.Errorf("active count = %d, want 0", mgr.ActiveCount())
	}
}

func TestTickLoopDrivesAnalyzers(t *testing.T) {
	mgr := newTestManager(t, createTestManagerConfig())

	a, err := mgr.CreateAnalyzer("live", "live", 16000)
	if err != nil {
		t.Fatalf("CreateAnalyzer failed: %v", err)
	}

	a.Ingest(formants(480, 16000, 700, 1200, 0.3), 1)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := a.Result(); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("tick loop did not publish a result")
}

func TestCleanupExpired(t *testing.T) {
	cfg := createTestManagerConfig()
	cfg.StreamTimeout = 10 * time.Millisecond
	mgr := newTestManager(t, cfg)

	if _, err := mgr.CreateAnalyzer("idle", "", 16000); err != nil {
		t.Fatalf("CreateAnalyzer failed: %v", err)
	}
	active, err := mgr.CreateAnalyzer("active", "", 16000)
	if err != nil {
		t.Fatalf("CreateAnalyzer failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	active.Ingest(make([]float32, 160), 1)

	mgr.cleanupExpired()

	if _, ok := mgr.GetAnalyzer("idle"); ok {
		t.Error("expected idle analyzer to be removed")
	}
	if _, ok := mgr.GetAnalyzer("active"); !ok {
		t.Error("expected active analyzer to survive")
	}
}

func TestStopSavesProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")

	cfg := createTestManagerConfig()
	cfg.ProfilePath = path
	cfg.SaveOnExit = true

	p := profile.New("saved")
	p.Add(profile.U, mfcc.Vector{1, 2, 3})

	mgr, err := NewManager(testLogger(), p, cfg, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	a, err := mgr.CreateAnalyzer("s", "", 16000)
	if err != nil {
		t.Fatalf("CreateAnalyzer failed: %v", err)
	}

	mgr.Stop()
	mgr.Stop()

	if a.Running() {
		t.Error("expected analyzers stopped")
	}
	if mgr.ActiveCount() != 0 {
		t.Errorf("active count = %d, want 0", mgr.ActiveCount())
	}

	loaded, err := profile.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Count(profile.U) != 1 {
		t.Errorf("loaded count = %d, want 1", loaded.Count(profile.U))
	}
}

func TestSaveProfileWithoutPath(t *testing.T) {
	mgr := newTestManager(t, createTestManagerConfig())
	if err := mgr.SaveProfile(); err == nil {
		t.Error("expected error without profile path")
	}
}
