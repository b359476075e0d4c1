package file

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tphakala/motioncam/internal/analysis"
	"github.com/tphakala/motioncam/internal/conf"
)

// Command creates a new file command for scanning a recorded video.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file [input.mp4]",
		Short: "Scan a video file for motion",
		Long:  "Replay a video file through motion detection and recording, then print the events found.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return analysis.FileAnalysis(ctx, settings, args[0], cmd.OutOrStdout())
		},
	}

	return cmd
}
