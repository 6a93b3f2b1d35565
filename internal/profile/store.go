package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/skypro1111/lipsync-audio-service/internal/mfcc"
)

// document is the on-disk layout of a profile
type document struct {
	Name   string                `yaml:"name"`
	Vowels map[string]vowelStats `yaml:"vowels"`
}

type vowelStats struct {
	Mean     []float32 `yaml:"mean,flow"`
	Variance []float32 `yaml:"variance,flow"`
	Count    uint64    `yaml:"count"`
}

// Load reads a profile saved by Save
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}

	p, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	return p, nil
}

// Unmarshal decodes a YAML profile document
func Unmarshal(data []byte) (*Profile, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	p := New(doc.Name)
	for name, vs := range doc.Vowels {
		v, err := ParseVowel(name)
		if err != nil {
			return nil, err
		}
		if len(vs.Mean) != mfcc.NumCoefficients || len(vs.Variance) != mfcc.NumCoefficients {
			return nil, fmt.Errorf("vowel %s: expected %d coefficients, got mean=%d variance=%d",
				v, mfcc.NumCoefficients, len(vs.Mean), len(vs.Variance))
		}
		if vs.Count == 0 {
			continue
		}

		stats := Statistics{Count: vs.Count}
		copy(stats.Mean[:], vs.Mean)
		copy(stats.Variance[:], vs.Variance)
		if err := p.Restore(v, stats); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Marshal encodes the calibrated vowels of p as YAML
func Marshal(p *Profile) ([]byte, error) {
	doc := document{
		Name:   p.Name,
		Vowels: make(map[string]vowelStats, NumVowels),
	}
	for v, stats := range p.Snapshot() {
		doc.Vowels[v.String()] = vowelStats{
			Mean:     append([]float32(nil), stats.Mean[:]...),
			Variance: append([]float32(nil), stats.Variance[:]...),
			Count:    stats.Count,
		}
	}
	return yaml.Marshal(&doc)
}

// Save writes p to path atomically (write to temp file, then rename)
func Save(path string, p *Profile) error {
	data, err := Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create profile directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".profile-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp profile: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close profile: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move profile into place: %w", err)
	}
	return nil
}

// LoadOrNew loads the profile at path, or returns an empty profile called
// name when the file does not exist yet
func LoadOrNew(path, name string) (p *Profile, loaded bool, err error) {
	if path == "" {
		return New(name), false, nil
	}
	p, err = Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(name), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}
