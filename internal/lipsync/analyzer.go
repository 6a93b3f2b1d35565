package lipsync

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/lipsync-audio-service/internal/audio"
	"github.com/skypro1111/lipsync-audio-service/internal/classify"
	"github.com/skypro1111/lipsync-audio-service/internal/metrics"
	"github.com/skypro1111/lipsync-audio-service/internal/mfcc"
	"github.com/skypro1111/lipsync-audio-service/internal/profile"
)

var (
	// ErrNoFeatures is returned by Calibrate before the first completed cycle
	ErrNoFeatures = errors.New("lipsync: no features published yet")
	// ErrStopped is returned for operations that need a running analyzer
	ErrStopped = errors.New("lipsync: analyzer is stopped")
)

// AnalyzerConfig holds per-stream analysis settings
type AnalyzerConfig struct {
	SampleRate   int
	WindowLength int
	OutputGain   float32
	MFCC         mfcc.Config
	Classify     classify.Config
}

// Validate checks the analyzer configuration
func (c AnalyzerConfig) Validate() error {
	if err := mfcc.ValidateSampleRate(c.SampleRate); err != nil {
		return err
	}
	if err := mfcc.ValidateWindowLength(c.WindowLength); err != nil {
		return err
	}
	if err := c.MFCC.Validate(); err != nil {
		return fmt.Errorf("invalid mfcc config: %w", err)
	}
	return nil
}

// WindowLength converts a frame duration to a sample count, clamped to the extractor limits
func WindowLength(sampleRate int, frame time.Duration) int {
	if frame <= 0 || sampleRate <= 0 {
		return mfcc.MinWindowLength
	}
	if int64(frame) > math.MaxInt64/int64(sampleRate) {
		return mfcc.MaxWindowLength
	}
	n := int64(sampleRate) * int64(frame) / int64(time.Second)
	switch {
	case n < mfcc.MinWindowLength:
		return mfcc.MinWindowLength
	case n > mfcc.MaxWindowLength:
		return mfcc.MaxWindowLength
	}
	return int(n)
}

// Update is delivered to listeners after every completed cycle
type Update struct {
	AnalyzerID string
	Sequence   uint64
	MFCC       mfcc.Vector
	Result     classify.Result
	Time       time.Time
}

// Listener receives updates in the ticking goroutine. It must not block for long.
type Listener func(Update)

type listenerEntry struct {
	id uint64
	fn Listener
}

// jobResult is what a background job hands back to the tick
type jobResult struct {
	features mfcc.Features
	result   classify.Result
	err      error
	duration time.Duration
}

// Stats is a point-in-time view of an analyzer
type Stats struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Running          bool      `json:"running"`
	JobInFlight      bool      `json:"job_in_flight"`
	SampleRate       int       `json:"sample_rate"`
	WindowLength     int       `json:"window_length"`
	Gain             float32   `json:"gain"`
	CyclesLaunched   uint64    `json:"cycles_launched"`
	CyclesCompleted  uint64    `json:"cycles_completed"`
	TicksSkipped     uint64    `json:"ticks_skipped"`
	ExtractionErrors uint64    `json:"extraction_errors"`
	SamplesIngested  uint64    `json:"samples_ingested"`
	Listeners        int       `json:"listeners"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
}

// Analyzer runs the analysis cycle for one audio stream.
//
// Every Tick either collects the finished job and launches the next one, or
// does nothing because the previous job is still running. At most one job is
// in flight, and results are published in launch order.
type Analyzer struct {
	ID        string
	CreatedAt time.Time

	sampleRate int
	mfccConfig mfcc.Config
	profile    *profile.Profile
	classifier *classify.Classifier
	ring       *audio.RingBuffer
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// spawn launches a job; tests replace it to control completion timing
	spawn func(job func())

	// lifecycle serializes Start and Stop
	lifecycle sync.Mutex

	// gain and activity are touched by the audio producer without mu
	gain         atomic.Uint32
	lastActivity atomic.Int64
	ingested     atomic.Uint64

	mu            sync.Mutex
	name          string
	running       bool
	inFlight      bool
	done          chan jobResult
	extractor     *mfcc.Extractor
	window        []float32
	windowLength  int
	pendingLength int
	published     bool
	mfcc          mfcc.Vector
	result        classify.Result
	sequence      uint64
	listeners     []listenerEntry
	nextListener  uint64

	// stopped is closed when the analyzer stops and replaced on every Start
	stopped chan struct{}

	cyclesLaunched   uint64
	cyclesCompleted  uint64
	ticksSkipped     uint64
	extractionErrors uint64
}

// NewAnalyzer creates a stopped analyzer bound to the shared profile p
func NewAnalyzer(id string, cfg AnalyzerConfig, p *profile.Profile, logger *slog.Logger, m *metrics.Metrics) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analyzer config: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("analyzer %s: profile is required", id)
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With(slog.String("analyzer_id", id))
	now := time.Now()

	a := &Analyzer{
		ID:           id,
		CreatedAt:    now,
		name:         id,
		sampleRate:   cfg.SampleRate,
		mfccConfig:   cfg.MFCC,
		profile:      p,
		classifier:   classify.New(p, cfg.Classify, logger),
		ring:         audio.NewRingBuffer(0),
		logger:       logger,
		metrics:      m,
		spawn:        func(job func()) { go job() },
		windowLength: cfg.WindowLength,
		done:         make(chan jobResult, 1),
		stopped:      make(chan struct{}),
	}
	close(a.stopped)
	a.SetGain(cfg.OutputGain)
	a.lastActivity.Store(now.UnixNano())

	return a, nil
}

// Start allocates the buffers and enables ticking. Calling Start on a running analyzer is a no-op.
func (a *Analyzer) Start() error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil
	}

	if err := a.allocate(a.windowLength); err != nil {
		return err
	}
	a.pendingLength = 0
	a.running = true
	a.stopped = make(chan struct{})

	a.logger.Info("Analyzer started",
		slog.Int("sample_rate", a.sampleRate),
		slog.Int("window_length", a.windowLength),
	)
	return nil
}

// Stop disables ticking, waits for the in-flight job and releases the buffers.
// Calling Stop on a stopped analyzer is a no-op.
func (a *Analyzer) Stop() {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	waitForJob := a.inFlight
	a.mu.Unlock()

	// Jobs are never interrupted; the result is drained and discarded
	if waitForJob {
		<-a.done
	}

	a.mu.Lock()
	a.inFlight = false
	a.ring.Release()
	a.window = nil
	a.extractor = nil
	// A restarted analyzer must not calibrate from audio heard before the stop
	a.published = false
	a.mfcc = mfcc.Vector{}
	a.result = classify.Result{}
	close(a.stopped)
	cycles := a.cyclesCompleted
	a.mu.Unlock()

	a.logger.Info("Analyzer stopped",
		slog.Uint64("cycles_completed", cycles),
		slog.Duration("lifetime", time.Since(a.CreatedAt)),
	)
}

// Done returns a channel that is closed when the analyzer stops.
// On a stopped analyzer it is already closed.
func (a *Analyzer) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

// Running reports whether the analyzer has been started
func (a *Analyzer) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// allocate sizes the ring buffer, job window and extractor. Caller holds mu.
func (a *Analyzer) allocate(length int) error {
	extractor, err := mfcc.New(length, a.sampleRate, a.mfccConfig)
	if err != nil {
		return fmt.Errorf("failed to create extractor: %w", err)
	}
	a.ring.Resize(length)
	a.window = make([]float32, length)
	a.extractor = extractor
	a.windowLength = length
	return nil
}

// Tick advances the analysis cycle by one step. It never waits for a job.
func (a *Analyzer) Tick() {
	update, publish := a.collect()
	if publish {
		a.notify(update)
	}
	a.schedule()
}

// collect retrieves the finished job, if any, and stores its output.
// ok is false when there is nothing to hand to listeners.
func (a *Analyzer) collect() (update Update, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running || !a.inFlight {
		return Update{}, false
	}

	var jr jobResult
	select {
	case jr = <-a.done:
		a.inFlight = false
	default:
		a.ticksSkipped++
		a.metrics.RecordTickSkipped()
		return Update{}, false
	}

	a.cyclesCompleted++

	if jr.err != nil {
		a.extractionErrors++
		a.metrics.RecordExtractionError()
		a.logger.Debug("Feature extraction failed, skipping publication",
			slog.String("error", jr.err.Error()),
		)
		return Update{}, false
	}

	a.mfcc = jr.features.MFCC
	a.result = jr.result
	a.published = true
	a.sequence++

	a.metrics.RecordCycle(jr.result.Status.String(), jr.duration.Seconds())
	if jr.result.HasVowel {
		a.metrics.RecordVowel(jr.result.Vowel.String(), float64(jr.result.Distance))
	}

	return Update{
		AnalyzerID: a.ID,
		Sequence:   a.sequence,
		MFCC:       a.mfcc,
		Result:     a.result,
		Time:       time.Now(),
	}, true
}

// notify invokes listeners in registration order, outside the lock
func (a *Analyzer) notify(update Update) {
	a.mu.Lock()
	listeners := make([]listenerEntry, len(a.listeners))
	copy(listeners, a.listeners)
	a.mu.Unlock()

	for _, l := range listeners {
		l.fn(update)
	}
}

// schedule applies a pending resize, snapshots the ring and launches the next job
func (a *Analyzer) schedule() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running || a.inFlight {
		return
	}

	if a.pendingLength > 0 {
		length := a.pendingLength
		a.pendingLength = 0
		if err := a.allocate(length); err != nil {
			a.logger.Warn("Failed to resize analysis window",
				slog.Int("window_length", length),
				slog.String("error", err.Error()),
			)
		} else {
			a.logger.Info("Analysis window resized", slog.Int("window_length", length))
		}
	}

	a.ring.Snapshot(a.window)

	extractor := a.extractor
	classifier := a.classifier
	window := a.window
	done := a.done

	a.inFlight = true
	a.cyclesLaunched++

	a.spawn(func() {
		start := time.Now()
		features, err := extractor.Extract(window)
		var result classify.Result
		if err == nil {
			result = classifier.Classify(features.MFCC, features.Volume)
		}
		done <- jobResult{
			features: features,
			result:   result,
			err:      err,
			duration: time.Since(start),
		}
	})
}

// Ingest feeds interleaved frames from the audio producer.
// The first channel is copied into the ring buffer, then the output gain is
// applied to frames in place. Ingest never waits for analysis.
func (a *Analyzer) Ingest(frames []float32, channels int) {
	if channels < 1 {
		channels = 1
	}

	a.ring.Write(frames, channels)
	audio.ApplyGain(frames, a.Gain())

	samples := (len(frames) + channels - 1) / channels
	a.ingested.Add(uint64(samples))
	a.lastActivity.Store(time.Now().UnixNano())
	a.metrics.RecordSamplesIngested(samples)
}

// Calibrate adds the most recently published MFCC vector to vowel v of the profile
func (a *Analyzer) Calibrate(v profile.Vowel) error {
	if !v.Valid() {
		return fmt.Errorf("%w: %d", profile.ErrInvalidVowel, uint8(v))
	}

	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return ErrStopped
	}
	if !a.published {
		a.mu.Unlock()
		return ErrNoFeatures
	}
	vec := a.mfcc
	a.mu.Unlock()

	if err := a.profile.Add(v, vec); err != nil {
		return fmt.Errorf("failed to calibrate vowel %s: %w", v, err)
	}
	a.metrics.RecordCalibration(v.String())

	a.logger.Debug("Calibration sample added",
		slog.String("vowel", v.String()),
		slog.Uint64("count", a.profile.Count(v)),
	)
	return nil
}

// Subscribe registers fn for every completed cycle. The returned func removes it.
func (a *Analyzer) Subscribe(fn Listener) (cancel func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextListener++
	id := a.nextListener
	a.listeners = append(a.listeners, listenerEntry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			for i, l := range a.listeners {
				if l.id == id {
					a.listeners = append(a.listeners[:i:i], a.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// SetWindowLength changes the analysis window. On a running analyzer the
// change is applied by the next tick that has no job in flight.
func (a *Analyzer) SetWindowLength(n int) error {
	if err := mfcc.ValidateWindowLength(n); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		a.windowLength = n
		a.pendingLength = 0
		return nil
	}
	if n == a.windowLength {
		a.pendingLength = 0
		return nil
	}
	a.pendingLength = n
	return nil
}

// WindowLength returns the active window length
func (a *Analyzer) WindowLength() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.windowLength
}

// SetGain sets the pass-through output gain, clamped to [0, 2]
func (a *Analyzer) SetGain(g float32) {
	a.gain.Store(math.Float32bits(audio.ClampGain(g)))
}

// Gain returns the pass-through output gain
func (a *Analyzer) Gain() float32 {
	return math.Float32frombits(a.gain.Load())
}

// SetName updates the human-readable stream name
func (a *Analyzer) SetName(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.name = name
}

// Name returns the human-readable stream name
func (a *Analyzer) Name() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.name
}

// SampleRate returns the stream sample rate
func (a *Analyzer) SampleRate() int {
	return a.sampleRate
}

// Profile returns the profile the analyzer classifies against and calibrates
func (a *Analyzer) Profile() *profile.Profile {
	return a.profile
}

// Result returns the latest published classification. ok is false before the first cycle.
func (a *Analyzer) Result() (result classify.Result, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result, a.published
}

// MFCC returns the latest published feature vector. ok is false before the first cycle.
func (a *Analyzer) MFCC() (vec mfcc.Vector, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mfcc, a.published
}

// LastActivity returns the time of the last Ingest call
func (a *Analyzer) LastActivity() time.Time {
	return time.Unix(0, a.lastActivity.Load())
}

// Stats returns counters and state for monitoring
func (a *Analyzer) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Stats{
		ID:               a.ID,
		Name:             a.name,
		Running:          a.running,
		JobInFlight:      a.inFlight,
		SampleRate:       a.sampleRate,
		WindowLength:     a.windowLength,
		Gain:             a.Gain(),
		CyclesLaunched:   a.cyclesLaunched,
		CyclesCompleted:  a.cyclesCompleted,
		TicksSkipped:     a.ticksSkipped,
		ExtractionErrors: a.extractionErrors,
		SamplesIngested:  a.ingested.Load(),
		Listeners:        len(a.listeners),
		CreatedAt:        a.CreatedAt,
		LastActivity:     a.LastActivity(),
	}
}
