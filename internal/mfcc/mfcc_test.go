package mfcc

import (
	"errors"
	"math"
	"testing"
)

func sine(n, sampleRate int, freq, amplitude float64) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return s
}

// vowelLike mixes two formant-ish partials to get a speech-like spectrum
func vowelLike(n, sampleRate int, f1, f2 float64) []float32 {
	a := sine(n, sampleRate, f1, 0.3)
	b := sine(n, sampleRate, f2, 0.15)
	for i := range a {
		a[i] += b[i]
	}
	return a
}

func TestHammingWindow(t *testing.T) {
	w := hammingWindow(400)
	if len(w) != 400 {
		t.Fatalf("expected 400, got %d", len(w))
	}
	if math.Abs(w[0]-0.08) > 0.01 {
		t.Errorf("w[0] = %f, want ~0.08", w[0])
	}
	if math.Abs(w[199]-1.0) > 0.02 {
		t.Errorf("w[199] = %f, want ~1.0", w[199])
	}
}

func TestMelConversion(t *testing.T) {
	mel := hzToMel(1000)
	if math.Abs(mel-1000.45) > 1.0 {
		t.Errorf("hzToMel(1000) = %f, want ~1000.45", mel)
	}
	if hz := melToHz(mel); math.Abs(hz-1000) > 0.1 {
		t.Errorf("melToHz(hzToMel(1000)) = %f, want 1000", hz)
	}
}

func TestMelFilterBank(t *testing.T) {
	bank := melFilterBank(24, 1024, 48000, 100, 8000)
	if len(bank) != 24 {
		t.Fatalf("expected 24 filters, got %d", len(bank))
	}

	for i, f := range bank {
		if len(f) != 513 {
			t.Fatalf("filter %d: expected 513 bins, got %d", i, len(f))
		}
		nonZero := false
		for _, v := range f {
			if v < 0 || v > 1 {
				t.Fatalf("filter %d: weight %f out of [0, 1]", i, v)
			}
			if v > 0 {
				nonZero = true
			}
		}
		if !nonZero {
			t.Errorf("filter %d is all zeros", i)
		}
	}
}

func TestExtractLengthAndVolume(t *testing.T) {
	tests := []struct {
		name       string
		length     int
		sampleRate int
	}{
		{name: "minimum window", length: MinWindowLength, sampleRate: 8000},
		{name: "odd length", length: 331, sampleRate: 16000},
		{name: "power of two", length: 1024, sampleRate: 44100},
		{name: "48k 30ms", length: 1440, sampleRate: 48000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.length, tt.sampleRate, DefaultConfig())
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}

			features, err := e.Extract(vowelLike(tt.length, tt.sampleRate, 700, 1200))
			if err != nil {
				t.Fatalf("Extract failed: %v", err)
			}

			if len(features.MFCC) != NumCoefficients {
				t.Errorf("expected %d coefficients, got %d", NumCoefficients, len(features.MFCC))
			}
			if features.Volume < 0 {
				t.Errorf("expected non-negative volume, got %f", features.Volume)
			}
			for i, c := range features.MFCC {
				if math.IsNaN(float64(c)) || math.IsInf(float64(c), 0) {
					t.Errorf("coefficient %d is not finite: %f", i, c)
				}
			}
		})
	}
}

func TestExtractIdempotent(t *testing.T) {
	e, err := New(1024, 16000, DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	window := vowelLike(1024, 16000, 300, 2300)

	first, err := e.Extract(window)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	// An unrelated window in between must not leak into the next result
	if _, err := e.Extract(vowelLike(1024, 16000, 800, 1100)); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	second, err := e.Extract(window)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if first != second {
		t.Errorf("expected identical features, got %+v and %+v", first, second)
	}
}

func TestExtractSilence(t *testing.T) {
	e, err := New(512, 16000, DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	features, err := e.Extract(make([]float32, 512))
	if err != nil {
		t.Fatalf("Extract failed on silence: %v", err)
	}

	if features.Volume != 0 {
		t.Errorf("expected zero volume, got %f", features.Volume)
	}

	// Every band hits the floor, so the cepstrum of a constant is ~0
	for i, c := range features.MFCC {
		if math.Abs(float64(c)) > 1e-3 {
			t.Errorf("coefficient %d = %f, want ~0 for silence", i, c)
		}
	}
}

func TestExtractVolume(t *testing.T) {
	e, err := New(1600, 16000, DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// RMS of a full-period sine with amplitude a is a/sqrt(2)
	features, err := e.Extract(sine(1600, 16000, 100, 0.5))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	want := 0.5 / math.Sqrt2
	if math.Abs(float64(features.Volume)-want) > 1e-3 {
		t.Errorf("volume = %f, want %f", features.Volume, want)
	}
}

func TestExtractNonFinite(t *testing.T) {
	e, err := New(256, 8000, DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	window := vowelLike(256, 8000, 500, 1500)
	window[10] = float32(math.NaN())
	window[20] = float32(math.Inf(1))

	features, err := e.Extract(window)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if math.IsNaN(float64(features.Volume)) {
		t.Error("volume is NaN")
	}
	for i, c := range features.MFCC {
		if math.IsNaN(float64(c)) || math.IsInf(float64(c), 0) {
			t.Errorf("coefficient %d is not finite: %f", i, c)
		}
	}
}

func TestExtractInvalidInput(t *testing.T) {
	e, err := New(512, 16000, DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tests := []struct {
		name    string
		samples []float32
	}{
		{name: "nil window", samples: nil},
		{name: "empty window", samples: []float32{}},
		{name: "too short", samples: make([]float32, 511)},
		{name: "too long", samples: make([]float32, 513)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Extract(tt.samples)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name       string
		length     int
		sampleRate int
		cfg        Config
	}{
		{name: "window too short", length: 32, sampleRate: 16000, cfg: DefaultConfig()},
		{name: "zero sample rate", length: 512, sampleRate: 0, cfg: DefaultConfig()},
		{name: "too few filters", length: 512, sampleRate: 16000, cfg: Config{NumFilters: 12, LowFreq: 100, HighFreq: 8000}},
		{name: "inverted band", length: 512, sampleRate: 16000, cfg: Config{NumFilters: 24, LowFreq: 4000, HighFreq: 1000}},
		{name: "low edge above nyquist", length: 512, sampleRate: 8000, cfg: Config{NumFilters: 24, LowFreq: 4500, HighFreq: 8000}},
		{name: "window too long", length: MaxWindowLength + 1, sampleRate: 16000, cfg: DefaultConfig()},
		{name: "huge window", length: 1 << 46, sampleRate: 16000, cfg: DefaultConfig()},
		{name: "sample rate too low", length: 512, sampleRate: MinSampleRate - 1, cfg: DefaultConfig()},
		{name: "sample rate too high", length: 512, sampleRate: 4_000_000_000, cfg: DefaultConfig()},
		{name: "bad pre-emphasis", length: 512, sampleRate: 16000, cfg: Config{NumFilters: 24, LowFreq: 100, HighFreq: 8000, PreEmphasis: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.length, tt.sampleRate, tt.cfg); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestNewAcceptsBounds(t *testing.T) {
	tests := []struct {
		length     int
		sampleRate int
	}{
		{MinWindowLength, MinSampleRate},
		{MaxWindowLength, MaxSampleRate},
	}

	for _, tt := range tests {
		e, err := New(tt.length, tt.sampleRate, DefaultConfig())
		if err != nil {
			t.Errorf("New(%d, %d) failed: %v", tt.length, tt.sampleRate, err)
			continue
		}
		if e.WindowLength() != tt.length {
			t.Errorf("WindowLength() = %d, want %d", e.WindowLength(), tt.length)
		}
	}
}

func TestExtractDistinguishesSpectra(t *testing.T) {
	low, err := Extract(vowelLike(1024, 16000, 300, 800), 16000)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	high, err := Extract(vowelLike(1024, 16000, 300, 2500), 16000)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if low.MFCC == high.MFCC {
		t.Error("expected different spectra to produce different MFCC vectors")
	}
}

func TestVectorHelpers(t *testing.T) {
	var zero Vector
	if !zero.IsZero() {
		t.Error("expected zero vector to report IsZero")
	}

	a := Vector{1, 2, 3}
	b := Vector{0.5, 2, 4}
	d := a.Sub(b)
	if d[0] != 0.5 || d[1] != 0 || d[2] != -1 {
		t.Errorf("unexpected difference %v", d)
	}
	if a.IsZero() {
		t.Error("expected non-zero vector")
	}
}
