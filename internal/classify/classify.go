package classify

import (
	"log/slog"
	"math"

	"github.com/skypro1111/lipsync-audio-service/internal/mfcc"
	"github.com/skypro1111/lipsync-audio-service/internal/profile"
)

const (
	// DefaultMinVolume is the RMS below which a window is treated as silence
	DefaultMinVolume = 1e-4

	// varianceFloor keeps coefficients with near-zero spread from dominating
	varianceFloor = 1e-4
)

// Status describes how a result was decided
type Status uint8

const (
	// StatusMatch means a calibrated vowel was the nearest and within range
	StatusMatch Status = iota
	// StatusNoSpeech means the window was below the volume gate
	StatusNoSpeech
	// StatusUncalibrated means no vowel has any calibration data
	StatusUncalibrated
	// StatusUncertain means the nearest vowel is further than MaxDistance,
	// or no calibrated vowel is at a finite distance
	StatusUncertain
)

var statusNames = map[Status]string{
	StatusMatch:        "match",
	StatusNoSpeech:     "no_speech",
	StatusUncalibrated: "uncalibrated",
	StatusUncertain:    "uncertain",
}

// String returns the wire name of the status
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config controls the decision policy
type Config struct {
	// MinVolume gates silence; windows quieter than this are NoSpeech
	MinVolume float32
	// MaxDistance marks results beyond it as uncertain. 0 disables the check.
	MaxDistance float32
	// SuppressUncertain clears the vowel of uncertain results
	SuppressUncertain bool
}

// DefaultConfig returns the default decision policy
func DefaultConfig() Config {
	return Config{MinVolume: DefaultMinVolume}
}

// Result is the outcome of classifying one window.
// HasVowel is false for NoSpeech, Uncalibrated and suppressed Uncertain results.
type Result struct {
	Status   Status
	Vowel    profile.Vowel
	HasVowel bool
	// Distance to the selected vowel, +Inf when none was selected
	Distance float32
	Volume   float32
	// Distances per vowel in A, I, U, E, O order; +Inf for uncalibrated vowels
	Distances [profile.NumVowels]float32
}

// Classifier maps MFCC vectors to the nearest calibrated vowel
type Classifier struct {
	profile *profile.Profile
	config  Config
	logger  *slog.Logger
}

// New creates a classifier that reads statistics from p on every call
func New(p *profile.Profile, cfg Config, logger *slog.Logger) *Classifier {
	if cfg.MinVolume < 0 {
		cfg.MinVolume = 0
	}
	if cfg.MaxDistance < 0 {
		cfg.MaxDistance = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		profile: p,
		config:  cfg,
		logger:  logger,
	}
}

// Config returns the decision policy in use
func (c *Classifier) Config() Config {
	return c.config
}

// Distance returns the variance-normalized RMS distance between vec and stats
func Distance(vec mfcc.Vector, stats profile.Statistics) float32 {
	var sum float64
	for k := range vec {
		d := float64(vec[k]) - float64(stats.Mean[k])
		sum += d * d / (float64(stats.Variance[k]) + varianceFloor)
	}
	return float32(math.Sqrt(sum / mfcc.NumCoefficients))
}

// Classify selects the calibrated vowel nearest to vec.
// The result depends only on the inputs and the current profile contents.
func (c *Classifier) Classify(vec mfcc.Vector, volume float32) Result {
	result := Result{
		Volume:   volume,
		Distance: float32(math.Inf(1)),
	}

	calibrated := 0
	for _, v := range profile.Vowels() {
		stats, ok := c.profile.Statistics(v)
		if !ok {
			result.Distances[v] = float32(math.Inf(1))
			continue
		}
		calibrated++

		d := Distance(vec, stats)
		if math.IsNaN(float64(d)) || math.IsInf(float64(d), 0) {
			d = float32(math.Inf(1))
		}
		result.Distances[v] = d
		// Strict comparison keeps the earlier vowel on ties and never selects +Inf
		if d < result.Distance {
			result.Vowel = v
			result.Distance = d
			result.HasVowel = true
		}
	}

	// Silence wins over everything else, but distances are still reported
	if !(volume >= c.config.MinVolume) {
		result.Status = StatusNoSpeech
		result.clearVowel()
		return result
	}

	if calibrated == 0 {
		result.Status = StatusUncalibrated
		return result
	}

	// Every calibrated vowel is infinitely far, e.g. a non-finite input vector
	if !result.HasVowel {
		result.Status = StatusUncertain
		return result
	}

	c.logger.Debug("Vowel classified",
		slog.String("vowel", result.Vowel.String()),
		slog.Float64("distance", float64(result.Distance)),
		slog.Float64("volume", float64(volume)))

	if c.config.MaxDistance > 0 && result.Distance > c.config.MaxDistance {
		result.Status = StatusUncertain
		if c.config.SuppressUncertain {
			result.clearVowel()
		}
		return result
	}

	result.Status = StatusMatch
	return result
}

func (r *Result) clearVowel() {
	r.Vowel = 0
	r.HasVowel = false
	r.Distance = float32(math.Inf(1))
}
