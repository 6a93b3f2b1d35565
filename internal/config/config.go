package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skypro1111/lipsync-audio-service/internal/classify"
	"github.com/skypro1111/lipsync-audio-service/internal/lipsync"
	"github.com/skypro1111/lipsync-audio-service/internal/mfcc"
)

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	HTTP     HTTPConfig     `yaml:"http"`
	Audio    AudioConfig    `yaml:"audio"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Profile  ProfileConfig  `yaml:"profile"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains UDP server configuration
type ServerConfig struct {
	UDPPort              int    `yaml:"udp_port"`
	BindAddress          string `yaml:"bind_address"`
	BufferSize           int    `yaml:"buffer_size"`
	MaxConcurrentStreams int    `yaml:"max_concurrent_streams"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains audio input parameters
type AudioConfig struct {
	SampleRate    int     `yaml:"sample_rate"`    // Hz, used for streams that send audio without a start packet
	OutputGain    float32 `yaml:"output_gain"`    // pass-through gain, 0..2
	StreamTimeout int     `yaml:"stream_timeout"` // seconds
}

// AnalysisConfig contains analysis cycle parameters
type AnalysisConfig struct {
	FrameDurationMs   int        `yaml:"frame_duration_ms"`
	TickRate          int        `yaml:"tick_rate"` // ticks per second
	MinVolume         float32    `yaml:"min_volume"`
	MaxDistance       float32    `yaml:"max_distance"` // 0 disables the uncertainty check
	SuppressUncertain bool       `yaml:"suppress_uncertain"`
	MFCC              MFCCConfig `yaml:"mfcc"`
}

// MFCCConfig contains feature extractor parameters
type MFCCConfig struct {
	NumFilters  int     `yaml:"num_filters"`
	LowFreq     float64 `yaml:"low_freq"`
	HighFreq    float64 `yaml:"high_freq"`
	PreEmphasis float64 `yaml:"pre_emphasis"`
}

// ProfileConfig contains calibration profile persistence settings
type ProfileConfig struct {
	Name       string `yaml:"name"`
	Path       string `yaml:"path"`
	SaveOnExit bool   `yaml:"save_on_exit"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Bounds of analysis.frame_duration_ms
const (
	MinFrameDurationMs = 5
	MaxFrameDurationMs = 500
)

// Default returns a configuration with every field set to its default
func Default() *Config {
	extractor := mfcc.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			UDPPort:              4444,
			BindAddress:          "0.0.0.0",
			BufferSize:           65536,
			MaxConcurrentStreams: 64,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Audio: AudioConfig{
			SampleRate:    48000,
			OutputGain:    1,
			StreamTimeout: 60,
		},
		Analysis: AnalysisConfig{
			FrameDurationMs: 30,
			TickRate:        60,
			MinVolume:       classify.DefaultMinVolume,
			MFCC: MFCCConfig{
				NumFilters:  extractor.NumFilters,
				LowFreq:     extractor.LowFreq,
				HighFreq:    extractor.HighFreq,
				PreEmphasis: extractor.PreEmphasis,
			},
		},
		Profile: ProfileConfig{
			Name: "default",
			Path: "./profiles/default.yaml",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file.
// Fields missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Analysis.Validate(); err != nil {
		return fmt.Errorf("analysis config: %w", err)
	}

	if err := c.Profile.Validate(); err != nil {
		return fmt.Errorf("profile config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	if s.MaxConcurrentStreams < 1 {
		return fmt.Errorf("max_concurrent_streams must be at least 1, got %d", s.MaxConcurrentStreams)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < mfcc.MinSampleRate || a.SampleRate > mfcc.MaxSampleRate {
		return fmt.Errorf("sample_rate must be between %d and %d Hz, got %d",
			mfcc.MinSampleRate, mfcc.MaxSampleRate, a.SampleRate)
	}

	if a.OutputGain < 0 || a.OutputGain > 2 {
		return fmt.Errorf("output_gain must be between 0 and 2, got %f", a.OutputGain)
	}

	if a.StreamTimeout < 1 {
		return fmt.Errorf("stream_timeout must be at least 1 second, got %d", a.StreamTimeout)
	}

	return nil
}

// Validate validates analysis configuration
func (a *AnalysisConfig) Validate() error {
	if a.FrameDurationMs < MinFrameDurationMs || a.FrameDurationMs > MaxFrameDurationMs {
		return fmt.Errorf("frame_duration_ms must be between %d and %d, got %d",
			MinFrameDurationMs, MaxFrameDurationMs, a.FrameDurationMs)
	}

	if a.TickRate < 1 || a.TickRate > 1000 {
		return fmt.Errorf("tick_rate must be between 1 and 1000 per second, got %d", a.TickRate)
	}

	if a.MinVolume < 0 {
		return fmt.Errorf("min_volume cannot be negative, got %f", a.MinVolume)
	}

	if a.MaxDistance < 0 {
		return fmt.Errorf("max_distance cannot be negative, got %f", a.MaxDistance)
	}

	if err := a.MFCCConfig().Validate(); err != nil {
		return fmt.Errorf("mfcc: %w", err)
	}

	return nil
}

// Validate validates profile configuration
func (p *ProfileConfig) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	if p.SaveOnExit && p.Path == "" {
		return fmt.Errorf("path cannot be empty when save_on_exit is enabled")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is treated as a file path
	return nil
}

// GetStreamTimeoutDuration returns the stream timeout as a time.Duration
func (a *AudioConfig) GetStreamTimeoutDuration() time.Duration {
	return time.Duration(a.StreamTimeout) * time.Second
}

// GetFrameDuration returns the analysis window duration as a time.Duration
func (a *AnalysisConfig) GetFrameDuration() time.Duration {
	return time.Duration(a.FrameDurationMs) * time.Millisecond
}

// GetTickInterval returns the time between ticks
func (a *AnalysisConfig) GetTickInterval() time.Duration {
	if a.TickRate <= 0 {
		return 0
	}
	return time.Second / time.Duration(a.TickRate)
}

// MFCCConfig returns the feature extractor configuration
func (a *AnalysisConfig) MFCCConfig() mfcc.Config {
	return mfcc.Config{
		NumFilters:  a.MFCC.NumFilters,
		LowFreq:     a.MFCC.LowFreq,
		HighFreq:    a.MFCC.HighFreq,
		PreEmphasis: a.MFCC.PreEmphasis,
	}
}

// ClassifyConfig returns the classifier decision policy
func (a *AnalysisConfig) ClassifyConfig() classify.Config {
	return classify.Config{
		MinVolume:         a.MinVolume,
		MaxDistance:       a.MaxDistance,
		SuppressUncertain: a.SuppressUncertain,
	}
}

// ManagerConfig assembles the analyzer manager settings
func (c *Config) ManagerConfig() lipsync.ManagerConfig {
	return lipsync.ManagerConfig{
		FrameDuration:   c.Analysis.GetFrameDuration(),
		TickRate:        c.Analysis.GetTickInterval(),
		StreamTimeout:   c.Audio.GetStreamTimeoutDuration(),
		CleanupInterval: 30 * time.Second,
		MaxAnalyzers:    c.Server.MaxConcurrentStreams,
		OutputGain:      c.Audio.OutputGain,
		MFCC:            c.Analysis.MFCCConfig(),
		Classify:        c.Analysis.ClassifyConfig(),
		ProfilePath:     c.Profile.Path,
		SaveOnExit:      c.Profile.SaveOnExit,
	}
}
