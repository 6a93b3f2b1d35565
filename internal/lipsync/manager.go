package lipsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/skypro1111/lipsync-audio-service/internal/classify"
	"github.com/skypro1111/lipsync-audio-service/internal/metrics"
	"github.com/skypro1111/lipsync-audio-service/internal/mfcc"
	"github.com/skypro1111/lipsync-audio-service/internal/profile"
)

// ErrTooManyAnalyzers is returned when MaxAnalyzers would be exceeded
var ErrTooManyAnalyzers = errors.New("lipsync: too many analyzers")

// ManagerConfig contains configuration for the analyzer manager
type ManagerConfig struct {
	FrameDuration   time.Duration
	TickRate        time.Duration
	StreamTimeout   time.Duration
	CleanupInterval time.Duration
	MaxAnalyzers    int
	OutputGain      float32
	MFCC            mfcc.Config
	Classify        classify.Config

	// ProfilePath is where Stop saves the profile when SaveOnExit is set
	ProfilePath string
	SaveOnExit  bool
}

// DefaultManagerConfig returns settings for 30ms windows analyzed at 60Hz
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		FrameDuration:   30 * time.Millisecond,
		TickRate:        time.Second / 60,
		StreamTimeout:   60 * time.Second,
		CleanupInterval: 30 * time.Second,
		OutputGain:      1,
		MFCC:            mfcc.DefaultConfig(),
		Classify:        classify.DefaultConfig(),
	}
}

// Manager owns the shared profile and every analyzer, and drives their ticks
type Manager struct {
	analyzers map[string]*Analyzer
	mu        sync.RWMutex
	logger    *slog.Logger
	metrics   *metrics.Metrics
	profile   *profile.Profile
	config    ManagerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// NewManager creates a manager and starts its tick and cleanup routines
func NewManager(logger *slog.Logger, p *profile.Profile, cfg ManagerConfig, m *metrics.Metrics) (*Manager, error) {
	if p == nil {
		return nil, fmt.Errorf("profile is required")
	}
	if cfg.TickRate <= 0 {
		return nil, fmt.Errorf("tick rate must be positive, got %v", cfg.TickRate)
	}
	if cfg.FrameDuration <= 0 {
		return nil, fmt.Errorf("frame duration must be positive, got %v", cfg.FrameDuration)
	}
	if err := cfg.MFCC.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mfcc config: %w", err)
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		analyzers: make(map[string]*Analyzer),
		logger:    logger,
		metrics:   m,
		profile:   p,
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
	}

	mgr.wg.Add(2)
	go mgr.tickLoop()
	go mgr.cleanupLoop()

	return mgr, nil
}

// Profile returns the profile shared by all analyzers
func (m *Manager) Profile() *profile.Profile {
	return m.profile
}

// Config returns the manager configuration
func (m *Manager) Config() ManagerConfig {
	return m.config
}

// CreateAnalyzer creates and starts an analyzer for a stream.
// If the ID already exists the existing analyzer is renamed and returned.
func (m *Manager) CreateAnalyzer(id, name string, sampleRate int) (*Analyzer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.analyzers[id]; exists {
		m.logger.Warn("Analyzer already exists, updating metadata",
			slog.String("analyzer_id", id),
			slog.String("existing_name", existing.Name()),
			slog.String("new_name", name),
		)
		existing.SetName(name)
		if existing.SampleRate() != sampleRate {
			m.logger.Warn("Ignoring sample rate change for existing analyzer",
				slog.String("analyzer_id", id),
				slog.Int("sample_rate", existing.SampleRate()),
				slog.Int("requested_sample_rate", sampleRate),
			)
		}
		return existing, nil
	}

	if m.config.MaxAnalyzers > 0 && len(m.analyzers) >= m.config.MaxAnalyzers {
		return nil, fmt.Errorf("%w: limit is %d", ErrTooManyAnalyzers, m.config.MaxAnalyzers)
	}

	cfg := AnalyzerConfig{
		SampleRate:   sampleRate,
		WindowLength: WindowLength(sampleRate, m.config.FrameDuration),
		OutputGain:   m.config.OutputGain,
		MFCC:         m.config.MFCC,
		Classify:     m.config.Classify,
	}

	a, err := NewAnalyzer(id, cfg, m.profile, m.logger, m.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create analyzer %s: %w", id, err)
	}
	if name != "" {
		a.SetName(name)
	}
	if err := a.Start(); err != nil {
		return nil, fmt.Errorf("failed to start analyzer %s: %w", id, err)
	}

	m.analyzers[id] = a
	m.metrics.RecordAnalyzerCreated()
	m.metrics.SetActiveAnalyzers(len(m.analyzers))

	m.logger.Info("Created new analyzer",
		slog.String("analyzer_id", id),
		slog.String("name", a.Name()),
		slog.Int("sample_rate", sampleRate),
		slog.Int("window_length", cfg.WindowLength),
	)

	return a, nil
}

// GetAnalyzer retrieves an existing analyzer
func (m *Manager) GetAnalyzer(id string) (*Analyzer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, exists := m.analyzers[id]
	return a, exists
}

// ActiveCount returns the number of analyzers
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.analyzers)
}

// All returns a snapshot of all analyzers ordered by ID
func (m *Manager) All() []*Analyzer {
	m.mu.RLock()
	analyzers := make([]*Analyzer, 0, len(m.analyzers))
	for _, a := range m.analyzers {
		analyzers = append(analyzers, a)
	}
	m.mu.RUnlock()

	sort.Slice(analyzers, func(i, j int) bool {
		return analyzers[i].ID < analyzers[j].ID
	})
	return analyzers
}

// RemoveAnalyzer stops an analyzer and forgets it.
// It blocks until the analyzer's in-flight job has finished.
func (m *Manager) RemoveAnalyzer(id string) bool {
	m.mu.Lock()
	a, exists := m.analyzers[id]
	if exists {
		delete(m.analyzers, id)
	}
	count := len(m.analyzers)
	m.mu.Unlock()

	if !exists {
		return false
	}

	a.Stop()

	lifetime := time.Since(a.CreatedAt)
	m.metrics.RecordAnalyzerDestroyed(lifetime.Seconds())
	m.metrics.SetActiveAnalyzers(count)

	m.logger.Info("Analyzer removed",
		slog.String("analyzer_id", id),
		slog.String("name", a.Name()),
		slog.Duration("duration", lifetime),
	)
	return true
}

// SaveProfile writes the shared profile to the configured path
func (m *Manager) SaveProfile() error {
	if m.config.ProfilePath == "" {
		return fmt.Errorf("no profile path configured")
	}
	if err := profile.Save(m.config.ProfilePath, m.profile); err != nil {
		return err
	}
	m.logger.Info("Profile saved",
		slog.String("path", m.config.ProfilePath),
		slog.String("name", m.profile.Name),
	)
	return nil
}

// Stop halts ticking, stops every analyzer and optionally saves the profile
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.logger.Info("Stopping analyzer manager...")

		// Stop routines first so no tick races the teardown
		m.cancel()
		m.wg.Wait()

		m.mu.Lock()
		analyzers := m.analyzers
		m.analyzers = make(map[string]*Analyzer)
		m.mu.Unlock()

		for _, a := range analyzers {
			a.Stop()
			m.metrics.RecordAnalyzerDestroyed(time.Since(a.CreatedAt).Seconds())
		}
		m.metrics.SetActiveAnalyzers(0)

		if m.config.SaveOnExit {
			if err := m.SaveProfile(); err != nil {
				m.logger.Error("Failed to save profile on exit", slog.String("error", err.Error()))
			}
		}

		m.logger.Info("Analyzer manager stopped",
			slog.Int("stopped_analyzers", len(analyzers)),
		)
	})
}

// tickLoop drives every analyzer at the configured tick rate
func (m *Manager) tickLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.TickRate)
	defer ticker.Stop()

	m.logger.Info("Analysis tick loop started", slog.Duration("tick_rate", m.config.TickRate))

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Analysis tick loop stopping")
			return
		case <-ticker.C:
			for _, a := range m.All() {
				a.Tick()
			}
		}
	}
}

// cleanupLoop removes analyzers that have not received audio within the stream timeout
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	if m.config.StreamTimeout <= 0 {
		<-m.ctx.Done()
		return
	}

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.logger.Info("Analyzer cleanup routine started",
		slog.Duration("timeout", m.config.StreamTimeout),
		slog.Duration("check_interval", m.config.CleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Analyzer cleanup routine stopping")
			return
		case <-ticker.C:
			m.cleanupExpired()
		}
	}
}

// cleanupExpired removes analyzers idle longer than the stream timeout
func (m *Manager) cleanupExpired() {
	now := time.Now()
	expired := make([]string, 0)

	for _, a := range m.All() {
		if now.Sub(a.LastActivity()) > m.config.StreamTimeout {
			expired = append(expired, a.ID)
		}
	}

	if len(expired) > 0 {
		m.logger.Info("Cleaning up expired analyzers",
			slog.Int("expired_count", len(expired)),
		)
		for _, id := range expired {
			m.RemoveAnalyzer(id)
		}
	}
}
