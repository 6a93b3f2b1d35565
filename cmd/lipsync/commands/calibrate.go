package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/lipsync-audio-service/internal/audio"
	"github.com/skypro1111/lipsync-audio-service/internal/classify"
	"github.com/skypro1111/lipsync-audio-service/internal/mfcc"
	"github.com/skypro1111/lipsync-audio-service/internal/profile"
)

type calibrateOptions struct {
	window    windowOptions
	vowel     string
	minVolume float32
	dryRun    bool
}

func newCalibrateCommand(global *globalOptions) *cobra.Command {
	opts := &calibrateOptions{}

	cmd := &cobra.Command{
		Use:   "calibrate <file.wav>",
		Short: "Add the voiced windows of a WAV file to one vowel of a profile",
		Long: `Extract the MFCC vector of every window of a recording of a single
vowel and add the voiced ones to that vowel's statistics. Windows quieter
than --min-volume are skipped. The profile file is created if missing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := profile.ParseVowel(opts.vowel)
			if err != nil {
				return fmt.Errorf("--vowel: %w", err)
			}

			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			p, path, err := global.loadProfile(cfg)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("frame") {
				opts.window.frame = cfg.Analysis.GetFrameDuration()
			}
			if !cmd.Flags().Changed("min-volume") {
				opts.minVolume = cfg.Analysis.MinVolume
			}

			wav, err := readWAV(args[0])
			if err != nil {
				return err
			}

			added, skipped, err := calibrateFromWAV(p, v, wav, cfg.Analysis.MFCCConfig(), opts)
			if err != nil {
				return err
			}
			if added == 0 {
				return fmt.Errorf("no window of %s is louder than %g", args[0], opts.minVolume)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "vowel %s: added %d windows, skipped %d quiet windows, total %d samples\n",
				v, added, skipped, p.Count(v))

			if opts.dryRun {
				fmt.Fprintln(out, "dry run, profile not saved")
				return nil
			}
			if err := profile.Save(path, p); err != nil {
				return err
			}
			fmt.Fprintf(out, "saved %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.vowel, "vowel", "", "vowel to calibrate: A, I, U, E or O")
	cmd.Flags().DurationVar(&opts.window.frame, "frame", 30*time.Millisecond, "analysis window duration")
	cmd.Flags().DurationVar(&opts.window.hop, "hop", 10*time.Millisecond, "distance between consecutive windows")
	cmd.Flags().DurationVar(&opts.window.start, "start", 0, "skip audio before this offset")
	cmd.Flags().DurationVar(&opts.window.end, "end", 0, "stop at this offset (0 means end of file)")
	cmd.Flags().Float32Var(&opts.minVolume, "min-volume", classify.DefaultMinVolume, "skip windows quieter than this")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "report without saving the profile")
	cmd.MarkFlagRequired("vowel")

	return cmd
}

// calibrateFromWAV adds every window at or above the volume gate to vowel v
func calibrateFromWAV(p *profile.Profile, v profile.Vowel, wav *audio.WAV, cfg mfcc.Config,
	opts *calibrateOptions) (added, skipped int, err error) {

	err = eachWindow(wav, cfg, opts.window, func(_ time.Duration, f mfcc.Features) error {
		if !(f.Volume >= opts.minVolume) {
			skipped++
			return nil
		}
		if err := p.Add(v, f.MFCC); err != nil {
			return err
		}
		added++
		return nil
	})
	return added, skipped, err
}
