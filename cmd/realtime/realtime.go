package realtime

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/motioncam/internal/analysis"
	"github.com/tphakala/motioncam/internal/conf"
)

// Command creates a new command for realtime capture.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Capture and record motion in realtime",
		Long:  "Watch the configured camera, record clips while motion lasts and process each motion event.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return analysis.RealtimeAnalysis(ctx, settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		cobra.CheckErr(err)
	}

	return cmd
}

// setupFlags configures flags specific to the realtime command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Camera.Source, "source", viper.GetString("camera.source"), "Video source: device index, file path or stream URL")
	cmd.Flags().StringVar(&settings.Audio.Source, "audio", viper.GetString("audio.source"), "Audio capture device name or ID")
	cmd.Flags().BoolVar(&settings.Audio.Enabled, "with-audio", viper.GetBool("audio.enabled"), "Record an audio track")
	cmd.Flags().DurationVar(&settings.Recording.MaxDuration, "maxduration", viper.GetDuration("recording.maxduration"), "Recording cap")
	cmd.Flags().BoolVar(&settings.WebServer.Enabled, "api", viper.GetBool("webserver.enabled"), "Enable the control API")
	cmd.Flags().StringVar(&settings.WebServer.Listen, "api-listen", viper.GetString("webserver.listen"), "Listen address of the control API")
	cmd.Flags().BoolVar(&settings.Telemetry.Enabled, "telemetry", viper.GetBool("telemetry.enabled"), "Enable Prometheus telemetry endpoint")
	cmd.Flags().StringVar(&settings.Telemetry.Listen, "listen", viper.GetString("telemetry.listen"), "Listen address and port of telemetry endpoint")

	return conf.BindFlags(cmd.Flags(), map[string]string{
		"source":      "camera.source",
		"audio":       "audio.source",
		"with-audio":  "audio.enabled",
		"maxduration": "recording.maxduration",
		"api":         "webserver.enabled",
		"api-listen":  "webserver.listen",
		"telemetry":   "telemetry.enabled",
		"listen":      "telemetry.listen",
	})
}
