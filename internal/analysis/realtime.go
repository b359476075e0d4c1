package analysis

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/motioncam/internal/api"
	"github.com/tphakala/motioncam/internal/camera"
	"github.com/tphakala/motioncam/internal/classifier"
	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/datastore"
	"github.com/tphakala/motioncam/internal/diskmanager"
	"github.com/tphakala/motioncam/internal/logger"
	"github.com/tphakala/motioncam/internal/media"
	"github.com/tphakala/motioncam/internal/monitor"
	"github.com/tphakala/motioncam/internal/motion"
	"github.com/tphakala/motioncam/internal/mqtt"
	"github.com/tphakala/motioncam/internal/myaudio"
	"github.com/tphakala/motioncam/internal/notification"
	"github.com/tphakala/motioncam/internal/observability"
	"github.com/tphakala/motioncam/internal/upload"
)

// RealtimeAnalysis runs the camera node until ctx is cancelled. Optional components that fail
// to initialise are logged and left out; the camera, dispatcher and muxer are required.
func RealtimeAnalysis(ctx context.Context, settings *conf.Settings) error {
	log := GetLogger()
	logSystemDetails(settings)

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	store, err := openDataStore(settings)
	if err != nil {
		return err
	}
	if store != nil {
		defer closeDataStore(store)
		applyStoredMode(settings, store)
	}

	dispatcher, err := motion.NewDispatcher(motion.DefaultRegistry(), settings.Motion)
	if err != nil {
		return err
	}
	defer func() {
		if err := dispatcher.Close(); err != nil {
			log.Warn("failed to release motion strategies", logger.Error(err))
		}
	}()

	ffmpeg, err := media.NewFFmpeg(settings.Media)
	if err != nil {
		return err
	}

	cam, err := camera.New(settings, cameraDeps(settings, dispatcher, ffmpeg, metrics))
	if err != nil {
		return err
	}
	defer func() {
		if err := cam.Close(); err != nil {
			log.Warn("failed to close camera", logger.Error(err))
		}
	}()

	detector, err := classifier.New(settings.Classifier)
	if err != nil {
		log.Warn("object classifier unavailable, events are stored without detections", logger.Error(err))
		detector = classifier.Noop{}
	}
	defer func() {
		if err := detector.Close(); err != nil {
			log.Warn("failed to release classifier", logger.Error(err))
		}
	}()

	deps := monitor.Deps{
		Source:     cam,
		Classifier: detector,
		Storage:    newStorage(ctx, settings),
		Notifier:   newNotifier(settings),
		MQTTTopic:  settings.MQTT.Topic,
		NodeName:   settings.Main.Name,
		Metrics:    metrics.Monitor,
	}
	if store != nil {
		deps.Store = store
	}
	if settings.Media.EmbedMetadata {
		deps.Media = ffmpeg
	}
	if client := connectMQTT(ctx, settings, metrics); client != nil {
		defer client.Disconnect()
		deps.MQTT = client
	}

	events, err := monitor.NewEventMonitor(settings.Monitor, deps)
	if err != nil {
		return err
	}

	runners := []func(context.Context) error{cam.Run, events.Run}

	if settings.WebServer.Enabled {
		opts := []api.ServerOption{api.WithSettingsSaver(conf.SaveSettings)}
		if store != nil {
			opts = append(opts, api.WithPreferenceStore(store))
		}
		server, err := api.New(cam, settings, opts...)
		if err != nil {
			return err
		}
		runners = append(runners, server.Run)
	}

	if settings.Telemetry.Enabled {
		endpoint, err := observability.NewEndpoint(settings.Telemetry, metrics)
		if err != nil {
			return err
		}
		runners = append(runners, endpoint.Run)
	}

	if cleaner := newRetentionCleaner(settings); cleaner.Enabled() {
		runners = append(runners, cleaner.Run)
	}

	if settings.Camera.Enabled {
		if err := cam.Enable(); err != nil {
			log.Error("capture could not be started, waiting for an explicit start", logger.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, run := range runners {
		g.Go(func() error { return run(gctx) })
	}

	if err := g.Wait(); err != nil {
		log.Error("camera node stopped with error", logger.Error(err))
		return err
	}
	log.Info("camera node stopped")
	return nil
}

// cameraDeps assembles the camera collaborators. Audio and the disk guard are only set when
// configured, so the interfaces stay nil otherwise.
func cameraDeps(settings *conf.Settings, dispatcher *motion.Dispatcher, muxer camera.Muxer, metrics *observability.Metrics) camera.Deps {
	log := GetLogger()
	cs := settings.Camera

	deps := camera.Deps{
		Dispatcher: dispatcher,
		OpenSource: func() (camera.FrameSource, error) {
			src, err := camera.OpenDevice(cs.Source, cs.Width, cs.Height, cs.FPS)
			if err != nil {
				return nil, err
			}
			return src, nil
		},
		NewSink: camera.NewVideoWriterFactory(cs.FourCC),
		Muxer:   muxer,
		Metrics: metrics.Camera,
	}

	if settings.Audio.Enabled {
		deps.Audio = myaudio.NewRecorder(myaudio.NewMalgoSource(settings.Audio), settings.Audio)
	}

	if settings.Storage.MaxUsage != "" {
		guard, err := diskmanager.NewGuard(conf.GetBasePath(settings.Recording.Path), settings.Storage.MaxUsage)
		if err != nil {
			log.Warn("disk usage guard disabled", logger.String("max_usage", settings.Storage.MaxUsage), logger.Error(err))
		} else {
			deps.Guard = guard
		}
	}
	return deps
}

// newRetentionCleaner prunes the recording, still and archive directories. It returns nil when
// the retention settings are unusable.
func newRetentionCleaner(settings *conf.Settings) *diskmanager.Cleaner {
	var dirs []string
	for _, p := range []string{settings.Recording.Path, settings.Camera.ImagePath, settings.Storage.ArchivePath} {
		if p != "" {
			dirs = append(dirs, conf.GetBasePath(p))
		}
	}
	cleaner, err := diskmanager.NewCleaner(settings.Storage.Retention, dirs...)
	if err != nil {
		GetLogger().Warn("retention cleaner disabled", logger.Error(err))
		return nil
	}
	return cleaner
}

// openDataStore opens the configured event database. It returns nil when none is enabled.
func openDataStore(settings *conf.Settings) (datastore.Interface, error) {
	store := datastore.New(settings)
	if store == nil {
		GetLogger().Info("no event database configured, events are not persisted")
		return nil, nil
	}
	if err := store.Open(); err != nil {
		return nil, err
	}
	return store, nil
}

func closeDataStore(store datastore.Interface) {
	if err := store.Close(); err != nil {
		GetLogger().Error("failed to close database", logger.Error(err))
	}
}

// applyStoredMode replaces the configured detection mode with the owner's stored one.
func applyStoredMode(settings *conf.Settings, store api.PreferenceStore) {
	userID := settings.Main.UserID
	if userID == "" {
		return
	}
	log := GetLogger()

	pref, err := store.GetPreference(userID)
	if err != nil {
		log.Warn("failed to read stored detection mode", logger.String("user_id", userID), logger.Error(err))
		return
	}
	if pref.DetectionMode == "" {
		return
	}

	mode, err := motion.ParseMode(pref.DetectionMode)
	if err != nil {
		log.Warn("ignoring invalid stored detection mode",
			logger.String("user_id", userID),
			logger.String("mode", pref.DetectionMode))
		return
	}
	if mode.String() != settings.Motion.Mode {
		log.Info("using stored detection mode",
			logger.String("configured", settings.Motion.Mode),
			logger.String("stored", mode.String()))
	}
	settings.Motion.Mode = mode.String()
}

// newStorage builds the recording storage, uploading to Drive when configured.
func newStorage(ctx context.Context, settings *conf.Settings) *upload.Storage {
	var uploader upload.Uploader
	if settings.Storage.Upload.Enabled {
		drive, err := upload.NewDriveUploader(ctx, settings.Storage.Upload)
		if err != nil {
			GetLogger().Warn("remote upload disabled, recordings are archived locally", logger.Error(err))
		} else {
			uploader = drive
		}
	}
	return upload.NewStorage(uploader, settings.Storage.ArchivePath)
}

// newNotifier returns the shoutrrr notifier or a no-op one when notifications are off.
func newNotifier(settings *conf.Settings) notification.Notifier {
	ns := settings.Notification
	if !ns.Enabled {
		return notification.Noop{}
	}
	n, err := notification.NewShoutrrrNotifier(notification.Config{
		URLs:     ns.URLs,
		Title:    ns.Title,
		NodeName: settings.Main.Name,
		Capacity: ns.Capacity,
		Rate:     ns.Rate,
		Timeout:  ns.Timeout,
	})
	if err != nil {
		GetLogger().Warn("notifications disabled", logger.Error(err))
		return notification.Noop{}
	}
	return n
}

// connectMQTT connects the event publisher. The client reconnects on its own after the first
// successful connection; a failed first attempt disables publishing.
func connectMQTT(ctx context.Context, settings *conf.Settings, metrics *observability.Metrics) mqtt.Client {
	if !settings.MQTT.Enabled {
		return nil
	}
	client := mqtt.NewClient(mqtt.ConfigFromSettings(settings), metrics.MQTT)
	if err := client.Connect(ctx); err != nil {
		GetLogger().Warn("MQTT publishing disabled",
			logger.String("broker", logger.RedactSensitiveData(settings.MQTT.Broker)),
			logger.Error(err))
		return nil
	}
	return client
}
