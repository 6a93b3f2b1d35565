package profile

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/skypro1111/lipsync-audio-service/internal/mfcc"
)

// ErrNonFinite is returned for NaN or infinite coefficients
var ErrNonFinite = errors.New("profile: non-finite value")

// Statistics is the calibrated distribution of one vowel
type Statistics struct {
	Mean     mfcc.Vector `json:"mean" yaml:"mean"`
	Variance mfcc.Vector `json:"variance" yaml:"variance"`
	Count    uint64      `json:"count" yaml:"count"`
}

// entry accumulates one vowel with Welford's algorithm.
// Sums are kept in float64 so long calibration sessions do not drift.
type entry struct {
	mu    sync.RWMutex
	count uint64
	mean  [mfcc.NumCoefficients]float64
	m2    [mfcc.NumCoefficients]float64
}

// Profile holds per-vowel MFCC statistics collected during calibration.
// It is shared by pointer between analyzers. Each vowel has its own lock,
// so calibrating one vowel never blocks reads of another.
type Profile struct {
	Name string

	entries [NumVowels]entry
}

// New creates an empty, fully uncalibrated profile
func New(name string) *Profile {
	return &Profile{Name: name}
}

// Add folds one MFCC vector into the statistics of vowel v
func (p *Profile) Add(v Vowel, vec mfcc.Vector) error {
	if !v.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidVowel, uint8(v))
	}
	if i, ok := firstNonFinite(vec); ok {
		return fmt.Errorf("%w: vowel %s coefficient %d is %f", ErrNonFinite, v, i, vec[i])
	}

	e := &p.entries[v]
	e.mu.Lock()
	defer e.mu.Unlock()

	e.count++
	n := float64(e.count)
	for i, x := range vec {
		xf := float64(x)
		delta := xf - e.mean[i]
		e.mean[i] += delta / n
		e.m2[i] += delta * (xf - e.mean[i])
		if e.m2[i] < 0 {
			e.m2[i] = 0
		}
	}

	return nil
}

// Statistics returns the mean and population variance of vowel v.
// ok is false while the vowel is uncalibrated or invalid.
func (p *Profile) Statistics(v Vowel) (stats Statistics, ok bool) {
	if !v.Valid() {
		return Statistics{}, false
	}

	e := &p.entries[v]
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.count == 0 {
		return Statistics{}, false
	}

	n := float64(e.count)
	stats.Count = e.count
	for i := range e.mean {
		stats.Mean[i] = float32(e.mean[i])
		stats.Variance[i] = float32(e.m2[i] / n)
	}
	return stats, true
}

// Count returns the number of samples added for vowel v
func (p *Profile) Count(v Vowel) uint64 {
	if !v.Valid() {
		return 0
	}

	e := &p.entries[v]
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.count
}

// Calibrated reports whether vowel v has at least one sample
func (p *Profile) Calibrated(v Vowel) bool {
	return p.Count(v) > 0
}

// Restore replaces the statistics of vowel v, e.g. from a saved profile
func (p *Profile) Restore(v Vowel, stats Statistics) error {
	if !v.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidVowel, uint8(v))
	}
	if i, ok := firstNonFinite(stats.Mean); ok {
		return fmt.Errorf("%w: vowel %s mean[%d] is %f", ErrNonFinite, v, i, stats.Mean[i])
	}
	if i, ok := firstNonFinite(stats.Variance); ok {
		return fmt.Errorf("%w: vowel %s variance[%d] is %f", ErrNonFinite, v, i, stats.Variance[i])
	}
	for i, variance := range stats.Variance {
		if variance < 0 {
			return fmt.Errorf("vowel %s: variance[%d] cannot be negative, got %f", v, i, variance)
		}
	}

	e := &p.entries[v]
	e.mu.Lock()
	defer e.mu.Unlock()

	e.count = stats.Count
	n := float64(stats.Count)
	for i := range e.mean {
		e.mean[i] = float64(stats.Mean[i])
		e.m2[i] = float64(stats.Variance[i]) * n
	}
	return nil
}

// Reset discards all samples of vowel v
func (p *Profile) Reset(v Vowel) error {
	if !v.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidVowel, uint8(v))
	}

	e := &p.entries[v]
	e.mu.Lock()
	defer e.mu.Unlock()

	e.count = 0
	e.mean = [mfcc.NumCoefficients]float64{}
	e.m2 = [mfcc.NumCoefficients]float64{}
	return nil
}

// Snapshot returns the statistics of every calibrated vowel
func (p *Profile) Snapshot() map[Vowel]Statistics {
	out := make(map[Vowel]Statistics, NumVowels)
	for _, v := range Vowels() {
		if stats, ok := p.Statistics(v); ok {
			out[v] = stats
		}
	}
	return out
}

func firstNonFinite(vec mfcc.Vector) (int, bool) {
	for i, x := range vec {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return i, true
		}
	}
	return 0, false
}
