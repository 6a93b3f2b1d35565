package commands

import (
	"context"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/lipsync-audio-service/internal/audio"
	"github.com/skypro1111/lipsync-audio-service/internal/protocol"
)

type sendOptions struct {
	addr     string
	streamID uint32
	name     string
	packet   time.Duration
	realtime bool
	noStop   bool
}

func newSendCommand(global *globalOptions) *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send <file.wav>",
		Short: "Stream a WAV file to the service over UDP",
		Long: `Send a start packet, the recording as audio packets and a stop packet
to a running service. Packets are paced in real time unless --realtime=false.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.addr == "" {
				cfg, err := global.loadConfig()
				if err != nil {
					return err
				}
				opts.addr = fmt.Sprintf("127.0.0.1:%d", cfg.Server.UDPPort)
			}
			if opts.name == "" {
				opts.name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			wav, err := readWAV(args[0])
			if err != nil {
				return err
			}

			conn, err := net.Dial("udp", opts.addr)
			if err != nil {
				return fmt.Errorf("failed to dial %s: %w", opts.addr, err)
			}
			defer conn.Close()

			sent, err := sendWAV(cmd.Context(), conn, wav, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d audio packets (%.2fs) to %s as stream %d\n",
				sent, wav.Duration(), opts.addr, opts.streamID)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "service UDP address (default 127.0.0.1:<server.udp_port>)")
	cmd.Flags().Uint32Var(&opts.streamID, "stream-id", 1, "stream identifier")
	cmd.Flags().StringVar(&opts.name, "name", "", "stream name (default file name)")
	cmd.Flags().DurationVar(&opts.packet, "packet", 20*time.Millisecond, "audio per packet")
	cmd.Flags().BoolVar(&opts.realtime, "realtime", true, "pace packets at the recording's speed")
	cmd.Flags().BoolVar(&opts.noStop, "no-stop", false, "leave the stream open instead of sending a stop packet")

	return cmd
}

// sendWAV writes the recording to w as start, audio and stop packets.
// It returns the number of audio packets written.
func sendWAV(ctx context.Context, w io.Writer, wav *audio.WAV, opts *sendOptions) (int, error) {
	if wav.Channels < 1 || wav.Channels > protocol.MaxChannels {
		return 0, fmt.Errorf("unsupported channel count %d", wav.Channels)
	}
	channels := uint8(wav.Channels)

	framesPerPacket := int(int64(wav.SampleRate) * int64(opts.packet) / int64(time.Second))
	if limit := protocol.MaxSamplesPerPacket() / wav.Channels; framesPerPacket > limit {
		framesPerPacket = limit
	}
	if framesPerPacket < 1 {
		framesPerPacket = 1
	}

	start, err := protocol.BuildStartPacket(opts.streamID, channels, opts.name, uint32(wav.SampleRate))
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(start); err != nil {
		return 0, fmt.Errorf("failed to send start packet: %w", err)
	}

	var ticker *time.Ticker
	if opts.realtime {
		ticker = time.NewTicker(sampleTime(framesPerPacket, wav.SampleRate))
		defer ticker.Stop()
	}

	samples := wav.Float32()
	sent := 0
	for pos := 0; pos < len(samples); pos += framesPerPacket * wav.Channels {
		end := pos + framesPerPacket*wav.Channels
		if end > len(samples) {
			end = len(samples)
		}

		packet, err := protocol.BuildAudioPacket(opts.streamID, channels, uint32(sent), samples[pos:end])
		if err != nil {
			return sent, err
		}
		if _, err := w.Write(packet); err != nil {
			return sent, fmt.Errorf("failed to send audio packet %d: %w", sent, err)
		}
		sent++

		if ticker != nil {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-ticker.C:
			}
		}
	}

	if opts.noStop {
		return sent, nil
	}

	stop, err := protocol.BuildStopPacket(opts.streamID, channels)
	if err != nil {
		return sent, err
	}
	if _, err := w.Write(stop); err != nil {
		return sent, fmt.Errorf("failed to send stop packet: %w", err)
	}
	return sent, nil
}
