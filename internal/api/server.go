package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/tphakala/motioncam/internal/api/middleware"
	"github.com/tphakala/motioncam/internal/camera"
	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/datastore"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
	"github.com/tphakala/motioncam/internal/motion"
)

// CameraControl is the part of a camera the API drives.
type CameraControl interface {
	Enabled() bool
	Enable() error
	Disable() error
	Lifecycle() camera.Lifecycle
	State() camera.RecordingState
	Mode() motion.Mode
	SetMode(name string) (motion.Mode, error)
	LatestRecording() string
	LatestStill() (camera.Still, bool)
}

// PreferenceStore persists per-user preferences such as the detection mode.
type PreferenceStore interface {
	GetPreference(userID string) (datastore.UserPreference, error)
	SavePreference(pref *datastore.UserPreference) error
}

// Server is the HTTP server exposing the runtime controls of one camera.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	log      logger.Logger

	camera       CameraControl
	preferences  PreferenceStore
	saveSettings func() error

	// modeMu serialises mode changes so the persisted mode matches the active one.
	modeMu sync.Mutex

	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithPreferenceStore persists mode changes as the configured user's preference.
func WithPreferenceStore(store PreferenceStore) ServerOption {
	return func(s *Server) {
		s.preferences = store
	}
}

// WithSettingsSaver writes mode changes back to the configuration file.
func WithSettingsSaver(save func() error) ServerOption {
	return func(s *Server) {
		s.saveSettings = save
	}
}

// WithLogger replaces the package logger.
func WithLogger(log logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// New creates a Server for cam configured from settings.
func New(cam CameraControl, settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	if cam == nil {
		return nil, errors.Newf("api server requires a camera").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if settings == nil {
		settings = &conf.Settings{}
	}

	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config:    config,
		settings:  settings,
		camera:    cam,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = GetLogger()
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.errorHandler

	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized", logger.String("address", config.Listen))
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestLogger(s.log))

	security := mw.DefaultSecurityConfig()
	security.AllowedOrigins = s.config.AllowedOrigins
	s.echo.Use(mw.NewCORS(security))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders(security))
}

func (s *Server) setupRoutes() {
	v1 := s.echo.Group("/api/v1")

	v1.GET("/health", s.healthCheck)
	v1.GET("/status", s.getStatus)
	v1.POST("/capture/start", s.startCapture)
	v1.POST("/capture/stop", s.stopCapture)
	v1.GET("/mode", s.getMode)
	v1.PUT("/mode", s.putMode)
	v1.GET("/recordings/latest", s.latestRecording)
	v1.GET("/still.jpg", s.latestStill)
}

// errorHandler renders every error as {"error": message} and logs server-side failures.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := http.StatusText(code)

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if msg, ok := he.Message.(string); ok {
			message = msg
		} else {
			message = http.StatusText(code)
		}
	}

	if code >= http.StatusInternalServerError {
		s.log.Error("request failed",
			logger.String("method", c.Request().Method),
			logger.String("path", c.Path()),
			logger.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, map[string]string{"error": message})
	}
	if err != nil {
		s.log.Warn("failed to write error response", logger.Error(err))
	}
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting HTTP server", logger.String("address", s.config.Listen))
		if err := s.echo.Start(s.config.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.New(err).
				Component("api").
				Category(errors.CategoryHTTP).
				Context("address", s.config.Listen).
				Build()
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if err := s.Shutdown(); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown stops accepting requests and waits for in-flight ones up to the shutdown timeout.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryHTTP).
			Context("operation", "shutdown").
			Build()
	}
	s.log.Info("HTTP server shutdown complete")
	return nil
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
