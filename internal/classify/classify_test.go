package classify

import (
	"math"
	"testing"

	"github.com/skypro1111/lipsync-audio-service/internal/mfcc"
	"github.com/skypro1111/lipsync-audio-service/internal/profile"
)

// calibratedProfile returns a profile with A at e0 and I at e1, three samples each
func calibratedProfile(t *testing.T) *profile.Profile {
	t.Helper()

	p := profile.New("test")
	for i := 0; i < 3; i++ {
		if err := p.Add(profile.A, mfcc.Vector{1}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if err := p.Add(profile.I, mfcc.Vector{0, 1}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	return p
}

func TestClassifyNearestVowel(t *testing.T) {
	c := New(calibratedProfile(t), DefaultConfig(), nil)

	result := c.Classify(mfcc.Vector{0.9, 0.1}, 0.05)

	if result.Status != StatusMatch {
		t.Fatalf("status = %s, want match", result.Status)
	}
	if !result.HasVowel || result.Vowel != profile.A {
		t.Fatalf("vowel = %s (has=%v), want A", result.Vowel, result.HasVowel)
	}
	if result.Distances[profile.A] >= result.Distances[profile.I] {
		t.Errorf("expected distance to A (%f) below distance to I (%f)",
			result.Distances[profile.A], result.Distances[profile.I])
	}
	if result.Distance != result.Distances[profile.A] {
		t.Errorf("distance = %f, want %f", result.Distance, result.Distances[profile.A])
	}
	if result.Volume != 0.05 {
		t.Errorf("volume = %f, want 0.05", result.Volume)
	}
}

func TestClassifyUncalibratedNeverSelected(t *testing.T) {
	c := New(calibratedProfile(t), DefaultConfig(), nil)

	// Exactly the zero vector, which is what an uncalibrated vowel's mean would be
	result := c.Classify(mfcc.Vector{}, 1)

	for _, v := range []profile.Vowel{profile.U, profile.E, profile.O} {
		if !math.IsInf(float64(result.Distances[v]), 1) {
			t.Errorf("vowel %s: distance = %f, want +Inf", v, result.Distances[v])
		}
	}
	if result.Vowel != profile.A && result.Vowel != profile.I {
		t.Errorf("selected uncalibrated vowel %s", result.Vowel)
	}
}

func TestClassifyNonFiniteDistances(t *testing.T) {
	// I sits at the largest float32, where the distance to A overflows
	far := func(t *testing.T) *profile.Profile {
		t.Helper()
		p := profile.New("far")
		if err := p.Add(profile.A, mfcc.Vector{}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if err := p.Add(profile.I, mfcc.Vector{math.MaxFloat32}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		return p
	}

	tests := []struct {
		name         string
		profile      func(t *testing.T) *profile.Profile
		vec          mfcc.Vector
		status       Status
		hasVowel     bool
		wantVowel    profile.Vowel
		wantDistance float64
	}{
		{
			name:         "overflowing distance loses",
			profile:      far,
			vec:          mfcc.Vector{math.MaxFloat32},
			status:       StatusMatch,
			hasVowel:     true,
			wantVowel:    profile.I,
			wantDistance: 0,
		},
		{
			name:         "NaN input matches nothing",
			profile:      calibratedProfile,
			vec:          mfcc.Vector{float32(math.NaN())},
			status:       StatusUncertain,
			wantDistance: math.Inf(1),
		},
		{
			name:         "infinite input matches nothing",
			profile:      calibratedProfile,
			vec:          mfcc.Vector{0, float32(math.Inf(-1))},
			status:       StatusUncertain,
			wantDistance: math.Inf(1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.profile(t), DefaultConfig(), nil)
			result := c.Classify(tt.vec, 0.5)

			if result.Status != tt.status {
				t.Errorf("status = %s, want %s", result.Status, tt.status)
			}
			if result.HasVowel != tt.hasVowel {
				t.Fatalf("has vowel = %v, want %v", result.HasVowel, tt.hasVowel)
			}
			if tt.hasVowel && result.Vowel != tt.wantVowel {
				t.Errorf("vowel = %s, want %s", result.Vowel, tt.wantVowel)
			}
			if float64(result.Distance) != tt.wantDistance {
				t.Errorf("distance = %f, want %f", result.Distance, tt.wantDistance)
			}
			for _, v := range profile.Vowels() {
				d := float64(result.Distances[v])
				if math.IsNaN(d) || math.IsInf(d, -1) {
					t.Errorf("vowel %s: distance = %f, want finite or +Inf", v, d)
				}
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name      string
		profile   func(t *testing.T) *profile.Profile
		cfg       Config
		vec       mfcc.Vector
		volume    float32
		status    Status
		hasVowel  bool
		wantVowel profile.Vowel
	}{
		{
			name:    "below volume gate",
			profile: calibratedProfile,
			cfg:     DefaultConfig(),
			vec:     mfcc.Vector{1},
			volume:  1e-5,
			status:  StatusNoSpeech,
		},
		{
			name:    "NaN volume is silence",
			profile: calibratedProfile,
			cfg:     DefaultConfig(),
			vec:     mfcc.Vector{1},
			volume:  float32(math.NaN()),
			status:  StatusNoSpeech,
		},
		{
			name:    "empty profile",
			profile: func(*testing.T) *profile.Profile { return profile.New("empty") },
			cfg:     DefaultConfig(),
			vec:     mfcc.Vector{1},
			volume:  0.5,
			status:  StatusUncalibrated,
		},
		{
			name:      "exact volume threshold passes",
			profile:   calibratedProfile,
			cfg:       Config{MinVolume: 0.01},
			vec:       mfcc.Vector{0, 1},
			volume:    0.01,
			status:    StatusMatch,
			hasVowel:  true,
			wantVowel: profile.I,
		},
		{
			name:      "far match is uncertain",
			profile:   calibratedProfile,
			cfg:       Config{MinVolume: DefaultMinVolume, MaxDistance: 1},
			vec:       mfcc.Vector{0.9, 0.1},
			volume:    0.5,
			status:    StatusUncertain,
			hasVowel:  true,
			wantVowel: profile.A,
		},
		{
			name:     "uncertain suppressed",
			profile:  calibratedProfile,
			cfg:      Config{MinVolume: DefaultMinVolume, MaxDistance: 1, SuppressUncertain: true},
			vec:      mfcc.Vector{0.9, 0.1},
			volume:   0.5,
			status:   StatusUncertain,
			hasVowel: false,
		},
		{
			name:      "close match within max distance",
			profile:   calibratedProfile,
			cfg:       Config{MinVolume: DefaultMinVolume, MaxDistance: 1},
			vec:       mfcc.Vector{1},
			volume:    0.5,
			status:    StatusMatch,
			hasVowel:  true,
			wantVowel: profile.A,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.profile(t), tt.cfg, nil)
			result := c.Classify(tt.vec, tt.volume)

			if result.Status != tt.status {
				t.Errorf("status = %s, want %s", result.Status, tt.status)
			}
			if result.HasVowel != tt.hasVowel {
				t.Fatalf("hasVowel = %v, want %v", result.HasVowel, tt.hasVowel)
			}
			if tt.hasVowel && result.Vowel != tt.wantVowel {
				t.Errorf("vowel = %s, want %s", result.Vowel, tt.wantVowel)
			}
			if !tt.hasVowel && !math.IsInf(float64(result.Distance), 1) {
				t.Errorf("distance = %f, want +Inf without a vowel", result.Distance)
			}
		})
	}
}

func TestClassifyTieGoesToEarlierVowel(t *testing.T) {
	p := profile.New("tie")
	for _, v := range []profile.Vowel{profile.O, profile.E, profile.U} {
		p.Add(v, mfcc.Vector{2, 2})
	}

	c := New(p, DefaultConfig(), nil)
	result := c.Classify(mfcc.Vector{1, 1}, 1)

	if result.Vowel != profile.U {
		t.Errorf("vowel = %s, want U", result.Vowel)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := New(calibratedProfile(t), DefaultConfig(), nil)
	vec := mfcc.Vector{0.4, 0.6, -0.2, 0.1}

	first := c.Classify(vec, 0.3)
	for i := 0; i < 50; i++ {
		if got := c.Classify(vec, 0.3); got != first {
			t.Fatalf("iteration %d: got %+v, want %+v", i, got, first)
		}
	}
}

func TestDistanceVarianceNormalization(t *testing.T) {
	tight := profile.Statistics{Count: 10}
	loose := profile.Statistics{Count: 10}
	loose.Variance[0] = 4

	vec := mfcc.Vector{1}

	// (1 / (0 + 1e-4)) / 12
	wantTight := math.Sqrt(1e4 / 12)
	if d := Distance(vec, tight); math.Abs(float64(d)-wantTight) > 1e-2 {
		t.Errorf("tight distance = %f, want %f", d, wantTight)
	}
	if Distance(vec, loose) >= Distance(vec, tight) {
		t.Error("expected larger variance to shrink the distance")
	}
	if d := Distance(mfcc.Vector{}, tight); d != 0 {
		t.Errorf("distance to own mean = %f, want 0", d)
	}
}

func TestStatusString(t *testing.T) {
	tests := map[Status]string{
		StatusMatch:        "match",
		StatusNoSpeech:     "no_speech",
		StatusUncalibrated: "uncalibrated",
		StatusUncertain:    "uncertain",
		Status(42):         "unknown",
	}
	for status, want := range tests {
		if got := status.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", status, got, want)
		}
	}
}
