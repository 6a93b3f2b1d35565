package server

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/skypro1111/lipsync-audio-service/internal/classify"
	"github.com/skypro1111/lipsync-audio-service/internal/profile"
)

func TestNewResultView(t *testing.T) {
	inf := float32(math.Inf(1))

	tests := []struct {
		name          string
		result        classify.Result
		wantVowel     string
		wantDistance  bool
		wantDistances int
	}{
		{
			name: "match",
			result: classify.Result{
				Status:    classify.Match,
				Vowel:     profile.E,
				HasVowel:  true,
				Distance:  1.5,
				Volume:    0.2,
				Distances: [profile.NumVowels]float32{3, inf, 2, 1.5, inf},
			},
			wantVowel:     "E",
			wantDistance:  true,
			wantDistances: 3,
		},
		{
			name: "no speech",
			result: classify.Result{
				Status:    classify.NoSpeech,
				Distance:  inf,
				Distances: [profile.NumVowels]float32{inf, inf, inf, inf, inf},
			},
		},
		{
			name: "suppressed uncertain keeps distances",
			result: classify.Result{
				Status:    classify.Uncertain,
				Distance:  inf,
				Volume:    0.1,
				Distances: [profile.NumVowels]float32{9, inf, inf, inf, inf},
			},
			wantDistances: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := NewResultView(tt.result)

			if view.Status != tt.result.Status.String() {
				t.Errorf("Status = %q, want %q", view.Status, tt.result.Status.String())
			}
			if view.Vowel != tt.wantVowel {
				t.Errorf("Vowel = %q, want %q", view.Vowel, tt.wantVowel)
			}
			if (view.Distance != nil) != tt.wantDistance {
				t.Errorf("Distance presence = %v, want %v", view.Distance != nil, tt.wantDistance)
			}
			if len(view.Distances) != tt.wantDistances {
				t.Errorf("len(Distances) = %d, want %d", len(view.Distances), tt.wantDistances)
			}

			// Every view must be encodable
			if _, err := json.Marshal(view); err != nil {
				t.Errorf("Marshal failed: %v", err)
			}
		})
	}
}

func TestFinite(t *testing.T) {
	tests := []struct {
		in   float32
		want float32
	}{
		{0.5, 0.5},
		{float32(math.Inf(1)), 0},
		{float32(math.Inf(-1)), 0},
		{float32(math.NaN()), 0},
	}
	for _, tt := range tests {
		if got := finite(tt.in); got != tt.want {
			t.Errorf("finite(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
