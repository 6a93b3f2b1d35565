package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/lipsync-audio-service/internal/classify"
	"github.com/skypro1111/lipsync-audio-service/internal/mfcc"
	"github.com/skypro1111/lipsync-audio-service/internal/profile"
	"github.com/skypro1111/lipsync-audio-service/internal/server"
)

type analyzeOptions struct {
	window      windowOptions
	format      string
	minVolume   float32
	maxDistance float32
}

// windowResult is one line of analyze output
type windowResult struct {
	Time   float64           `json:"time"`
	Result server.ResultView `json:"result"`
}

func newAnalyzeCommand(global *globalOptions) *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze <file.wav>",
		Short: "Print the vowel detected in every window of a WAV file",
		Long: `Cut a 16-bit PCM WAV file into overlapping windows, extract the MFCC
vector of each and classify it against the calibration profile.

Only the first channel is analyzed. Output is a table by default, or
one JSON object per line with --format json.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			p, path, err := global.loadProfile(cfg)
			if err != nil {
				return err
			}
			if !anyCalibrated(p) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: profile %s has no calibrated vowels\n", path)
			}

			wav, err := readWAV(args[0])
			if err != nil {
				return err
			}

			classifyCfg := cfg.Analysis.ClassifyConfig()
			if cmd.Flags().Changed("min-volume") {
				classifyCfg.MinVolume = opts.minVolume
			}
			if cmd.Flags().Changed("max-distance") {
				classifyCfg.MaxDistance = opts.maxDistance
			}
			if !cmd.Flags().Changed("frame") {
				opts.window.frame = cfg.Analysis.GetFrameDuration()
			}

			classifier := classify.New(p, classifyCfg, global.logger(cmd.ErrOrStderr()))
			return runAnalyze(cmd.OutOrStdout(), wav.SampleRate, opts, func(emit func(time.Duration, classify.Result) error) error {
				return eachWindow(wav, cfg.Analysis.MFCCConfig(), opts.window, func(at time.Duration, f mfcc.Features) error {
					return emit(at, classifier.Classify(f.MFCC, f.Volume))
				})
			})
		},
	}

	cmd.Flags().DurationVar(&opts.window.frame, "frame", 30*time.Millisecond, "analysis window duration")
	cmd.Flags().DurationVar(&opts.window.hop, "hop", 10*time.Millisecond, "distance between consecutive windows")
	cmd.Flags().DurationVar(&opts.window.start, "start", 0, "skip audio before this offset")
	cmd.Flags().DurationVar(&opts.window.end, "end", 0, "stop at this offset (0 means end of file)")
	cmd.Flags().StringVar(&opts.format, "format", "table", "output format: table or json")
	cmd.Flags().Float32Var(&opts.minVolume, "min-volume", classify.DefaultMinVolume, "volume below which a window is silence")
	cmd.Flags().Float32Var(&opts.maxDistance, "max-distance", 0, "distance above which a match is uncertain (0 disables)")

	return cmd
}

// runAnalyze formats every classified window produced by source
func runAnalyze(w io.Writer, sampleRate int, opts *analyzeOptions,
	source func(emit func(time.Duration, classify.Result) error) error) error {

	switch opts.format {
	case "json":
		enc := json.NewEncoder(w)
		return source(func(at time.Duration, r classify.Result) error {
			return enc.Encode(windowResult{Time: at.Seconds(), Result: server.NewResultView(r)})
		})

	case "table":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tSTATUS\tVOWEL\tDISTANCE\tVOLUME")
		counts := make(map[string]int)
		total := 0
		err := source(func(at time.Duration, r classify.Result) error {
			vowel, distance := "-", "-"
			if r.HasVowel {
				vowel = r.Vowel.String()
				distance = fmt.Sprintf("%.3f", r.Distance)
				counts[vowel]++
			}
			total++
			_, err := fmt.Fprintf(tw, "%.3f\t%s\t%s\t%s\t%.5f\n", at.Seconds(), r.Status, vowel, distance, r.Volume)
			return err
		})
		if err != nil {
			return err
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		fmt.Fprintf(w, "\n%d windows at %d Hz", total, sampleRate)
		for _, v := range profile.Vowels() {
			if n := counts[v.String()]; n > 0 {
				fmt.Fprintf(w, ", %s=%d", v, n)
			}
		}
		fmt.Fprintln(w)
		return nil

	default:
		return fmt.Errorf("unknown format %q (use table or json)", opts.format)
	}
}

func anyCalibrated(p *profile.Profile) bool {
	for _, v := range profile.Vowels() {
		if p.Calibrated(v) {
			return true
		}
	}
	return false
}
