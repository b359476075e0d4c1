// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "motioncam")
	viper.SetDefault("main.userid", "owner")

	viper.SetDefault("logging.defaultlevel", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file.enabled", true)
	viper.SetDefault("logging.file.path", "logs/motioncam.log")
	viper.SetDefault("logging.file.level", "debug")
	viper.SetDefault("logging.file.maxsize", 50)
	viper.SetDefault("logging.file.maxage", 30)
	viper.SetDefault("logging.file.maxrotatedfiles", 5)
	viper.SetDefault("logging.file.compress", true)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.environment", "production")

	viper.SetDefault("camera.enabled", true)
	viper.SetDefault("camera.source", "0")
	viper.SetDefault("camera.width", 640)
	viper.SetDefault("camera.height", 360)
	viper.SetDefault("camera.fps", 30.0)
	viper.SetDefault("camera.fourcc", "avc1")
	viper.SetDefault("camera.warmup", 5*time.Second)
	viper.SetDefault("camera.imageinterval", 20*time.Second)
	viper.SetDefault("camera.imagepath", "data/images")

	viper.SetDefault("motion.mode", "background-model")
	viper.SetDefault("motion.interval", 20)
	viper.SetDefault("motion.resetinterval", 300)
	viper.SetDefault("motion.relativesize", 0.005)
	viper.SetDefault("motion.contourthreshold", 127)
	viper.SetDefault("motion.mincontourarea", 10)
	viper.SetDefault("motion.smallareapercent", 0.05)
	viper.SetDefault("motion.prerecordframes", 40)
	viper.SetDefault("motion.backgroundmodel.history", 400)
	viper.SetDefault("motion.backgroundmodel.varthreshold", 40)
	viper.SetDefault("motion.backgroundmodel.medianblur", 5)
	viper.SetDefault("motion.pointtracking.displacement", 2.0)
	viper.SetDefault("motion.pointtracking.windowsize", 21)
	viper.SetDefault("motion.pointtracking.maxlevel", 3)
	viper.SetDefault("motion.pointtracking.iterations", 15)
	viper.SetDefault("motion.pointtracking.epsilon", 0.02)
	viper.SetDefault("motion.chromaedge.alpha", 0.8)
	viper.SetDefault("motion.chromaedge.beta", 0.1)
	viper.SetDefault("motion.chromaedge.chromathreshold", 3.0)
	viper.SetDefault("motion.chromaedge.edgethreshold", 1.0)
	viper.SetDefault("motion.framediff.threshold", 40)
	viper.SetDefault("motion.framediff.dilateiterations", 2)

	viper.SetDefault("recording.path", "data/videos")
	viper.SetDefault("recording.maxduration", 20*time.Second)

	viper.SetDefault("audio.enabled", true)
	viper.SetDefault("audio.source", "")
	viper.SetDefault("audio.samplerate", 44100)
	viper.SetDefault("audio.channels", 1)
	viper.SetDefault("audio.jointimeout", 2*time.Second)
	viper.SetDefault("audio.buffersize", 1<<20)

	viper.SetDefault("media.ffmpegpath", "")
	viper.SetDefault("media.ffprobepath", "")
	viper.SetDefault("media.embedmetadata", true)
	viper.SetDefault("media.timeout", 2*time.Minute)

	viper.SetDefault("monitor.pollinterval", time.Second)
	viper.SetDefault("monitor.waitcycles", 14)
	viper.SetDefault("monitor.queuesize", 64)

	viper.SetDefault("classifier.enabled", false)
	viper.SetDefault("classifier.modelpath", "models/yolov8n.onnx")
	viper.SetDefault("classifier.threshold", 0.4)
	viper.SetDefault("classifier.inputsize", 640)

	viper.SetDefault("storage.archivepath", "data/archive")
	viper.SetDefault("storage.maxusage", "90%")
	viper.SetDefault("storage.upload.enabled", false)
	viper.SetDefault("storage.upload.credentialsfile", "")
	viper.SetDefault("storage.upload.folderid", "")
	viper.SetDefault("storage.upload.timeout", 5*time.Minute)
	viper.SetDefault("storage.retention.policy", "none")
	viper.SetDefault("storage.retention.maxage", 30*24*time.Hour)
	viper.SetDefault("storage.retention.maxusage", "80%")
	viper.SetDefault("storage.retention.minfiles", 10)
	viper.SetDefault("storage.retention.interval", 15*time.Minute)

	viper.SetDefault("notification.enabled", false)
	viper.SetDefault("notification.urls", []string{})
	viper.SetDefault("notification.title", "Motion detected")
	viper.SetDefault("notification.capacity", 5.0)
	viper.SetDefault("notification.rate", 1.0/20.0)
	viper.SetDefault("notification.timeout", 30*time.Second)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "data/motioncam.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.database", "motioncam")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "motioncam/events")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.listen", ":8080")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "0.0.0.0:8090")
}
