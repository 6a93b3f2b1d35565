package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/skypro1111/lipsync-audio-service/internal/audio"
	"github.com/skypro1111/lipsync-audio-service/internal/lipsync"
	"github.com/skypro1111/lipsync-audio-service/internal/mfcc"
)

// windowOptions controls how a recording is cut into analysis windows
type windowOptions struct {
	frame time.Duration
	hop   time.Duration
	start time.Duration
	end   time.Duration // zero means until the end of the recording
}

// readWAV loads a 16-bit PCM WAV file
func readWAV(path string) (*audio.WAV, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	wav, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return wav, nil
}

// eachWindow replays a recording through a ring buffer the way the live
// service receives it, and calls fn with the features of every full window.
// at is the position of the window's last sample.
func eachWindow(wav *audio.WAV, cfg mfcc.Config, opts windowOptions,
	fn func(at time.Duration, features mfcc.Features) error) error {

	if wav.Channels < 1 {
		return fmt.Errorf("invalid channel count %d", wav.Channels)
	}
	if opts.hop <= 0 {
		return fmt.Errorf("hop must be positive, got %v", opts.hop)
	}

	windowLength := lipsync.WindowLength(wav.SampleRate, opts.frame)
	extractor, err := mfcc.New(windowLength, wav.SampleRate, cfg)
	if err != nil {
		return fmt.Errorf("failed to create extractor: %w", err)
	}

	hop := int(int64(wav.SampleRate) * int64(opts.hop) / int64(time.Second))
	if hop < 1 {
		hop = 1
	}

	frames := wav.Float32()
	totalFrames := len(frames) / wav.Channels
	first := frameIndex(opts.start, wav.SampleRate, totalFrames)
	last := totalFrames
	if opts.end > 0 {
		last = frameIndex(opts.end, wav.SampleRate, totalFrames)
	}
	if first >= last {
		return fmt.Errorf("empty range %v..%v in a %.2fs recording", opts.start, opts.end, wav.Duration())
	}

	ring := audio.NewRingBuffer(windowLength)
	window := make([]float32, windowLength)

	for pos := first; pos < last; pos += hop {
		end := pos + hop
		if end > last {
			end = last
		}
		ring.Write(frames[pos*wav.Channels:end*wav.Channels], wav.Channels)
		if ring.Written() < uint64(windowLength) {
			continue
		}

		ring.Snapshot(window)
		features, err := extractor.Extract(window)
		if err != nil {
			return fmt.Errorf("feature extraction failed at %v: %w", sampleTime(end, wav.SampleRate), err)
		}
		if err := fn(sampleTime(end, wav.SampleRate), features); err != nil {
			return err
		}
	}
	return nil
}

func frameIndex(d time.Duration, sampleRate, limit int) int {
	i := int(int64(sampleRate) * int64(d) / int64(time.Second))
	if i < 0 {
		return 0
	}
	if i > limit {
		return limit
	}
	return i
}

func sampleTime(frame, sampleRate int) time.Duration {
	return time.Duration(int64(frame) * int64(time.Second) / int64(sampleRate))
}
