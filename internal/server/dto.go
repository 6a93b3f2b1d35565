package server

import (
	"math"
	"time"

	"github.com/skypro1111/lipsync-audio-service/internal/classify"
	"github.com/skypro1111/lipsync-audio-service/internal/lipsync"
	"github.com/skypro1111/lipsync-audio-service/internal/mfcc"
	"github.com/skypro1111/lipsync-audio-service/internal/profile"
)

// ResultView is the JSON form of a classification result.
// Infinite distances cannot be encoded, so uncalibrated vowels are omitted.
type ResultView struct {
	Status    string             `json:"status"`
	Vowel     string             `json:"vowel,omitempty"`
	Distance  *float32           `json:"distance,omitempty"`
	Volume    float32            `json:"volume"`
	Distances map[string]float32 `json:"distances"`
}

// UpdateMessage is pushed to websocket clients after every completed cycle
type UpdateMessage struct {
	Type       string     `json:"type"`
	AnalyzerID string     `json:"analyzer_id"`
	Sequence   uint64     `json:"sequence"`
	Result     ResultView `json:"result"`
	MFCC       []float32  `json:"mfcc"`
	Timestamp  time.Time  `json:"timestamp"`
}

// AnalyzerView combines analyzer statistics with its latest output
type AnalyzerView struct {
	lipsync.Stats
	Result *ResultView `json:"result,omitempty"`
	MFCC   []float32   `json:"mfcc,omitempty"`
}

// VowelView is the JSON form of one vowel's calibration statistics
type VowelView struct {
	Calibrated bool      `json:"calibrated"`
	Count      uint64    `json:"count"`
	Mean       []float32 `json:"mean,omitempty"`
	Variance   []float32 `json:"variance,omitempty"`
}

// ProfileView is the JSON form of the shared profile
type ProfileView struct {
	Name   string               `json:"name"`
	Vowels map[string]VowelView `json:"vowels"`
}

// NewResultView converts a classification result to its JSON form
func NewResultView(r classify.Result) ResultView {
	view := ResultView{
		Status:    r.Status.String(),
		Volume:    finite(r.Volume),
		Distances: make(map[string]float32, profile.NumVowels),
	}
	if r.HasVowel {
		view.Vowel = r.Vowel.String()
		if !isInf(r.Distance) {
			d := r.Distance
			view.Distance = &d
		}
	}
	for _, v := range profile.Vowels() {
		if d := r.Distances[v]; !isInf(d) {
			view.Distances[v.String()] = d
		}
	}
	return view
}

func newUpdateMessage(u lipsync.Update) UpdateMessage {
	return UpdateMessage{
		Type:       "result",
		AnalyzerID: u.AnalyzerID,
		Sequence:   u.Sequence,
		Result:     NewResultView(u.Result),
		MFCC:       vectorSlice(u.MFCC),
		Timestamp:  u.Time.UTC(),
	}
}

func newAnalyzerView(a *lipsync.Analyzer) AnalyzerView {
	view := AnalyzerView{Stats: a.Stats()}
	if result, ok := a.Result(); ok {
		rv := NewResultView(result)
		view.Result = &rv
	}
	if vec, ok := a.MFCC(); ok {
		view.MFCC = vectorSlice(vec)
	}
	return view
}

// NewProfileView summarizes every vowel of p
func NewProfileView(p *profile.Profile) ProfileView {
	view := ProfileView{
		Name:   p.Name,
		Vowels: make(map[string]VowelView, profile.NumVowels),
	}
	for _, v := range profile.Vowels() {
		stats, ok := p.Statistics(v)
		vv := VowelView{Calibrated: ok, Count: p.Count(v)}
		if ok {
			vv.Mean = vectorSlice(stats.Mean)
			vv.Variance = vectorSlice(stats.Variance)
		}
		view.Vowels[v.String()] = vv
	}
	return view
}

func vectorSlice(v mfcc.Vector) []float32 {
	out := make([]float32, len(v))
	copy(out, v[:])
	return out
}

func isInf(f float32) bool {
	return math.IsInf(float64(f), 0)
}

// finite maps NaN and infinities to zero so the value can be encoded
func finite(f float32) float32 {
	if isInf(f) || f != f {
		return 0
	}
	return f
}
