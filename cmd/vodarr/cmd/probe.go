package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/engine"
	"github.com/jmylchreest/vodarr/pkg/bytesize"
	"github.com/jmylchreest/vodarr/pkg/duration"
)

var probeJSON bool

var probeCmd = &cobra.Command{
	Use:   "probe <source>",
	Short: "Inspect a media file",
	Long: `Probe a media file with ffprobe and print its container format,
duration and stream layout. This is the same probe the conversion
pipeline uses to plan chunk windows.`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "output the raw probe result as JSON")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	detector := engine.NewBinaryDetector(cfg.Engine.FFmpegPath, cfg.Engine.FFprobePath)
	prober := engine.NewProber(detector, cfg.Engine, slog.Default())

	result, err := prober.Probe(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("probing source: %w", err)
	}

	if probeJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling probe result: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	printProbeSummary(result)
	return nil
}

// printProbeSummary prints a human-readable digest of a probe result.
func printProbeSummary(result *engine.ProbeResult) {
	fmt.Printf("file:       %s\n", result.Format.Filename)
	fmt.Printf("container:  %s", result.Format.FormatName)
	if result.Format.FormatLongName != "" {
		fmt.Printf(" (%s)", result.Format.FormatLongName)
	}
	fmt.Println()

	if d := result.Duration(); d > 0 {
		fmt.Printf("duration:   %s\n", duration.Format(d))
	} else {
		fmt.Println("duration:   unknown")
	}
	if size, err := strconv.ParseInt(result.Format.Size, 10, 64); err == nil && size > 0 {
		fmt.Printf("size:       %s\n", bytesize.Format(bytesize.Size(size)))
	}
	if br := result.Bitrate(); br > 0 {
		fmt.Printf("bitrate:    %d kb/s\n", br/1000)
	}

	if len(result.Streams) == 0 {
		return
	}
	fmt.Println("streams:")
	for i := range result.Streams {
		s := &result.Streams[i]
		switch s.CodecType {
		case "video":
			fmt.Printf("  #%d video %s", s.Index, s.CodecName)
			if s.Profile != "" {
				fmt.Printf(" (%s)", s.Profile)
			}
			if s.Width > 0 && s.Height > 0 {
				fmt.Printf(" %dx%d", s.Width, s.Height)
			}
			if fps := s.Framerate(); fps > 0 {
				fmt.Printf(" %.2f fps", fps)
			}
			fmt.Println()
		case "audio":
			fmt.Printf("  #%d audio %s", s.Index, s.CodecName)
			if s.ChannelLayout != "" {
				fmt.Printf(" %s", s.ChannelLayout)
			} else if s.Channels > 0 {
				fmt.Printf(" %dch", s.Channels)
			}
			if s.SampleRate != "" {
				fmt.Printf(" %s Hz", s.SampleRate)
			}
			fmt.Println()
		default:
			fmt.Printf("  #%d %s %s\n", s.Index, s.CodecType, s.CodecName)
		}
	}
}
