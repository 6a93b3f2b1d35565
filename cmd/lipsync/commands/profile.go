package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/skypro1111/lipsync-audio-service/internal/profile"
	"github.com/skypro1111/lipsync-audio-service/internal/server"
)

func newProfileCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or reset a calibration profile",
	}
	cmd.AddCommand(newProfileShowCommand(global), newProfileResetCommand(global))
	return cmd
}

func newProfileShowCommand(global *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the per-vowel calibration statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			p, path, err := global.loadProfile(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "table":
				fmt.Fprintf(out, "profile %q (%s)\n", p.Name, path)
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VOWEL\tSAMPLES\tMEAN[0:3]\tMEAN VARIANCE")
				for _, v := range profile.Vowels() {
					stats, ok := p.Statistics(v)
					if !ok {
						fmt.Fprintf(tw, "%s\t0\t-\t-\n", v)
						continue
					}
					var sum float32
					for _, x := range stats.Variance {
						sum += x
					}
					fmt.Fprintf(tw, "%s\t%d\t%.2f %.2f %.2f\t%.4f\n", v, stats.Count,
						stats.Mean[0], stats.Mean[1], stats.Mean[2], sum/float32(len(stats.Variance)))
				}
				return tw.Flush()
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(server.NewProfileView(p))
			case "yaml":
				data, err := profile.Marshal(p)
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			default:
				return fmt.Errorf("unknown format %q (use table, json or yaml)", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "output format: table, json or yaml")
	return cmd
}

func newProfileResetCommand(global *globalOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "reset [vowel...]",
		Short: "Clear the calibration of the given vowels",
		RunE: func(cmd *cobra.Command, args []string) error {
			var vowels []profile.Vowel
			switch {
			case all:
				vowels = profile.Vowels()
			case len(args) == 0:
				return fmt.Errorf("name at least one vowel or use --all")
			default:
				for _, arg := range args {
					v, err := profile.ParseVowel(arg)
					if err != nil {
						return err
					}
					vowels = append(vowels, v)
				}
			}

			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			p, path, err := global.loadProfile(cfg)
			if err != nil {
				return err
			}

			for _, v := range vowels {
				if err := p.Reset(v); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", v)
			}
			return profile.Save(path, p)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "reset every vowel")
	return cmd
}
