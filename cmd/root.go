package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/motioncam/cmd/devices"
	"github.com/tphakala/motioncam/cmd/file"
	"github.com/tphakala/motioncam/cmd/notify"
	"github.com/tphakala/motioncam/cmd/realtime"
	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "motioncam",
		Short:         "Motion triggered camera recorder",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		GetLogger().Error("failed to set up flags", logger.Error(err))
	}

	devicesCmd := devices.Command()
	subcommands := []*cobra.Command{
		realtime.Command(settings),
		file.Command(settings),
		notify.Command(settings),
		devicesCmd,
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Listing devices needs no validated settings or telemetry
		if cmd.Name() == devicesCmd.Name() {
			return nil
		}
		return initialize(settings)
	}

	return rootCmd
}

// initialize runs after flags are parsed and before any subcommand.
func initialize(settings *conf.Settings) error {
	if err := conf.ValidateSettings(settings); err != nil {
		return err
	}

	if settings.Sentry.Enabled {
		if err := errors.InitSentry(settings.Sentry.DSN, settings.Sentry.Environment, settings.Version); err != nil {
			GetLogger().Warn("error reporting disabled", logger.Error(err))
		}
	}
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	flags.StringVar(&settings.Main.Name, "name", viper.GetString("main.name"), "Node name used in notifications and MQTT payloads")
	flags.StringVarP(&settings.Motion.Mode, "mode", "m", viper.GetString("motion.mode"), "Detection mode: background-model, point-tracking or chromaticity-edge")
	flags.StringVar(&settings.Recording.Path, "recordings", viper.GetString("recording.path"), "Directory for recordings")
	flags.StringVar(&settings.Camera.ImagePath, "stills", viper.GetString("camera.imagepath"), "Directory for motion stills")

	return conf.BindFlags(flags, map[string]string{
		"debug":      "debug",
		"name":       "main.name",
		"mode":       "motion.mode",
		"recordings": "recording.path",
		"stills":     "camera.imagepath",
	})
}

// GetLogger returns the cmd package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("cmd")
}
