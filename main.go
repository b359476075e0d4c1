package main

import (
	"fmt"
	"os"
	"time"

	"github.com/tphakala/motioncam/cmd"
	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

// buildDate and version are set with -ldflags at build time
var (
	buildDate string
	version   string
)

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return 1
	}
	settings.Version = version
	settings.BuildDate = buildDate

	if settings.Debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
	}
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		return 1
	}
	logger.SetGlobal(central)
	defer func() {
		errors.FlushSentry(2 * time.Second)
		if err := central.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing logger: %v\n", err)
		}
	}()

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		central.Module("main").Error("command failed", logger.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
