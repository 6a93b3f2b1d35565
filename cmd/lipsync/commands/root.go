package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/skypro1111/lipsync-audio-service/internal/config"
	"github.com/skypro1111/lipsync-audio-service/internal/logging"
	"github.com/skypro1111/lipsync-audio-service/internal/profile"
)

const version = "1.0.0"

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	configPath  string
	profilePath string
	verbose     bool
}

// NewRootCommand builds the command tree. Each call returns an independent
// tree, so tests can run commands without sharing flag state.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "lipsync",
		Short: "Offline tools for the lip-sync vowel analysis service",
		Long: `lipsync - offline tools for the lip-sync vowel analysis service.

The analysis settings come from the service configuration file when
--config is given, otherwise from the built-in defaults. The calibration
profile defaults to the path named in that configuration.

Examples:
  # Calibrate each vowel from a recording of it
  lipsync calibrate a.wav --vowel A --profile speaker.yaml
  lipsync calibrate i.wav --vowel I --profile speaker.yaml

  # Check what the profile detects in a sentence
  lipsync analyze sentence.wav --profile speaker.yaml

  # Feed the running service
  lipsync send sentence.wav --addr 127.0.0.1:4444 --stream-id 1`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "service configuration file")
	root.PersistentFlags().StringVarP(&opts.profilePath, "profile", "p", "", "calibration profile file (overrides the configuration)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		newAnalyzeCommand(opts),
		newCalibrateCommand(opts),
		newProfileCommand(opts),
		newSendCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}

// loadConfig returns the service configuration named by --config, or the defaults
func (o *globalOptions) loadConfig() (*config.Config, error) {
	if o.configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveProfilePath prefers --profile over the configured path
func (o *globalOptions) resolveProfilePath(cfg *config.Config) (string, error) {
	path := o.profilePath
	if path == "" {
		path = cfg.Profile.Path
	}
	if path == "" {
		return "", fmt.Errorf("no profile path: use --profile or set profile.path in the configuration")
	}
	return path, nil
}

// loadProfile opens the profile, creating an empty one when the file does not exist
func (o *globalOptions) loadProfile(cfg *config.Config) (*profile.Profile, string, error) {
	path, err := o.resolveProfilePath(cfg)
	if err != nil {
		return nil, "", err
	}
	p, _, err := profile.LoadOrNew(path, cfg.Profile.Name)
	if err != nil {
		return nil, "", err
	}
	return p, path, nil
}

// logger writes to stderr so command output on stdout stays parseable
func (o *globalOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	if w == nil {
		w = os.Stderr
	}
	return logging.NewWriter(w, "text", level)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lipsync %s\n", version)
		},
	}
}
