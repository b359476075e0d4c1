package analysis

import (
	"github.com/shirou/gopsutil/v3/host"

	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/logger"
)

// logSystemDetails logs the platform the node runs on and its key settings.
func logSystemDetails(settings *conf.Settings) {
	log := GetLogger()

	info, err := host.Info()
	if err != nil {
		log.Warn("failed to read host info", logger.Error(err))
	} else {
		log.Info("system details",
			logger.String("os", info.OS),
			logger.String("platform", info.Platform),
			logger.String("platform_version", info.PlatformVersion),
			logger.String("arch", info.KernelArch),
			logger.String("hostname", info.Hostname))
	}

	log.Info("starting camera node",
		logger.String("node", settings.Main.Name),
		logger.String("source", settings.Camera.Source),
		logger.String("mode", settings.Motion.Mode),
		logger.Int("width", settings.Camera.Width),
		logger.Int("height", settings.Camera.Height),
		logger.Float64("fps", settings.Camera.FPS),
		logger.Duration("max_recording", settings.Recording.MaxDuration),
		logger.Bool("audio", settings.Audio.Enabled))
}
