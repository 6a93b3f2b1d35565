package mfcc

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

const (
	// NumCoefficients is the length of every MFCC vector
	NumCoefficients = 12

	// MinWindowLength is the shortest window the extractor accepts
	MinWindowLength = 64

	// MaxWindowLength is the longest window the extractor accepts.
	// It covers 500ms at 192kHz.
	MaxWindowLength = 1 << 17

	// MinSampleRate and MaxSampleRate bound the rates a filter bank is built for
	MinSampleRate = 8000
	MaxSampleRate = 192000

	// energyFloor guards the logarithm of empty filter bands
	energyFloor = 1e-10
)

// ErrInvalidInput is returned for empty or wrongly sized input windows
var ErrInvalidInput = errors.New("mfcc: invalid input")

// Vector is a fixed-length MFCC feature vector. Coefficient 0 (overall energy)
// is not part of it; index 0 holds cepstral coefficient 1.
type Vector [NumCoefficients]float32

// IsZero reports whether every coefficient is zero
func (v Vector) IsZero() bool {
	return v == Vector{}
}

// Sub returns v - o
func (v Vector) Sub(o Vector) Vector {
	var d Vector
	for i := range v {
		d[i] = v[i] - o[i]
	}
	return d
}

// Features is the output of one extraction
type Features struct {
	MFCC   Vector  `json:"mfcc"`
	Volume float32 `json:"volume"` // RMS of the raw window
}

// Config controls the mel filter bank
type Config struct {
	NumFilters  int     // number of triangular mel filters
	LowFreq     float64 // lowest filter edge in Hz
	HighFreq    float64 // highest filter edge in Hz, clamped to Nyquist
	PreEmphasis float64 // first-order pre-emphasis coefficient, 0 disables
}

// DefaultConfig returns the filter bank used for vowel classification
func DefaultConfig() Config {
	return Config{
		NumFilters:  24,
		LowFreq:     100,
		HighFreq:    8000,
		PreEmphasis: 0.97,
	}
}

// Validate checks the filter bank parameters
func (c Config) Validate() error {
	if c.NumFilters <= NumCoefficients {
		return fmt.Errorf("num_filters must be greater than %d, got %d", NumCoefficients, c.NumFilters)
	}
	if c.LowFreq < 0 {
		return fmt.Errorf("low_freq cannot be negative, got %f", c.LowFreq)
	}
	if c.HighFreq <= c.LowFreq {
		return fmt.Errorf("high_freq (%f) must be greater than low_freq (%f)", c.HighFreq, c.LowFreq)
	}
	if c.PreEmphasis < 0 || c.PreEmphasis >= 1 {
		return fmt.Errorf("pre_emphasis must be in [0, 1), got %f", c.PreEmphasis)
	}
	return nil
}

// Extractor turns fixed-length audio windows into MFCC vectors.
// The output depends only on the input window; an Extractor keeps scratch
// buffers and is not safe for concurrent use.
type Extractor struct {
	cfg        Config
	length     int
	sampleRate int

	fft     *fourier.FFT
	window  []float64   // Hamming window
	melBank [][]float64 // [NumFilters][length/2+1]

	frame    []float64
	spectrum []complex128
	mags     []float64
	logMel   []float64
}

// New creates an extractor for windows of the given length
func New(windowLength, sampleRate int, cfg Config) (*Extractor, error) {
	if err := ValidateWindowLength(windowLength); err != nil {
		return nil, err
	}
	if err := ValidateSampleRate(sampleRate); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	highFreq := math.Min(cfg.HighFreq, float64(sampleRate)/2)
	if highFreq <= cfg.LowFreq {
		return nil, fmt.Errorf("%w: low_freq %.0f Hz is above Nyquist for %d Hz", ErrInvalidInput, cfg.LowFreq, sampleRate)
	}

	half := windowLength/2 + 1
	return &Extractor{
		cfg:        cfg,
		length:     windowLength,
		sampleRate: sampleRate,
		fft:        fourier.NewFFT(windowLength),
		window:     hammingWindow(windowLength),
		melBank:    melFilterBank(cfg.NumFilters, windowLength, sampleRate, cfg.LowFreq, highFreq),
		frame:      make([]float64, windowLength),
		spectrum:   make([]complex128, half),
		mags:       make([]float64, half),
		logMel:     make([]float64, cfg.NumFilters),
	}, nil
}

// ValidateWindowLength checks n against MinWindowLength and MaxWindowLength
func ValidateWindowLength(n int) error {
	if n < MinWindowLength || n > MaxWindowLength {
		return fmt.Errorf("%w: window length must be between %d and %d, got %d",
			ErrInvalidInput, MinWindowLength, MaxWindowLength, n)
	}
	return nil
}

// ValidateSampleRate checks rate against MinSampleRate and MaxSampleRate
func ValidateSampleRate(rate int) error {
	if rate < MinSampleRate || rate > MaxSampleRate {
		return fmt.Errorf("%w: sample rate must be between %d and %d Hz, got %d",
			ErrInvalidInput, MinSampleRate, MaxSampleRate, rate)
	}
	return nil
}

// WindowLength returns the number of samples Extract expects
func (e *Extractor) WindowLength() int {
	return e.length
}

// SampleRate returns the sample rate the filter bank was built for
func (e *Extractor) SampleRate() int {
	return e.sampleRate
}

// Extract computes the MFCC vector and RMS volume of one window
func (e *Extractor) Extract(samples []float32) (Features, error) {
	if len(samples) == 0 {
		return Features{}, fmt.Errorf("%w: empty window", ErrInvalidInput)
	}
	if len(samples) != e.length {
		return Features{}, fmt.Errorf("%w: expected %d samples, got %d", ErrInvalidInput, e.length, len(samples))
	}

	var features Features

	// Volume is reported even for silent windows
	var sumSquares float64
	prev := 0.0
	for i, s := range samples {
		x := float64(s)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			x = 0
		}
		sumSquares += x * x

		// Pre-emphasis, then Hamming window
		y := x
		if i > 0 {
			y -= e.cfg.PreEmphasis * prev
		}
		prev = x
		e.frame[i] = y * e.window[i]
	}
	features.Volume = float32(math.Sqrt(sumSquares / float64(len(samples))))

	e.spectrum = e.fft.Coefficients(e.spectrum, e.frame)
	for k, c := range e.spectrum {
		e.mags[k] = math.Hypot(real(c), imag(c))
	}

	for m, filter := range e.melBank {
		energy := floats.Dot(filter, e.mags)
		if energy < energyFloor {
			energy = energyFloor
		}
		e.logMel[m] = math.Log10(energy)
	}

	// DCT-II, keeping coefficients 1..NumCoefficients
	numFilters := float64(len(e.logMel))
	for i := 0; i < NumCoefficients; i++ {
		k := float64(i + 1)
		sum := 0.0
		for j, v := range e.logMel {
			sum += v * math.Cos(math.Pi*k*(float64(j)+0.5)/numFilters)
		}
		features.MFCC[i] = float32(sum)
	}

	return features, nil
}

// Extract is a convenience wrapper that builds a default extractor for one window
func Extract(samples []float32, sampleRate int) (Features, error) {
	e, err := New(len(samples), sampleRate, DefaultConfig())
	if err != nil {
		return Features{}, err
	}
	return e.Extract(samples)
}
