package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
	"github.com/tphakala/motioncam/internal/motion"
)

// StatusResponse describes the camera as seen by GET /api/v1/status.
type StatusResponse struct {
	Node            string   `json:"node,omitempty"`
	Enabled         bool     `json:"enabled"`
	Lifecycle       string   `json:"lifecycle"`
	Recording       string   `json:"recording"`
	Mode            string   `json:"mode"`
	Modes           []string `json:"modes"`
	LatestRecording string   `json:"latestRecording,omitempty"`
	UptimeSeconds   float64  `json:"uptimeSeconds"`
}

// ModeRequest is the body of PUT /api/v1/mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// ModeResponse reports the active mode and whether the change was persisted.
type ModeResponse struct {
	Mode      string `json:"mode"`
	Persisted bool   `json:"persisted"`
}

func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"version":        s.settings.Version,
		"build_date":     s.settings.BuildDate,
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

func (s *Server) status() StatusResponse {
	modes := motion.Modes()
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = m.String()
	}
	return StatusResponse{
		Node:            s.settings.Main.Name,
		Enabled:         s.camera.Enabled(),
		Lifecycle:       string(s.camera.Lifecycle()),
		Recording:       s.camera.State().String(),
		Mode:            s.camera.Mode().String(),
		Modes:           names,
		LatestRecording: s.camera.LatestRecording(),
		UptimeSeconds:   time.Since(s.startTime).Seconds(),
	}
}

func (s *Server) getStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.status())
}

func (s *Server) startCapture(c echo.Context) error {
	if err := s.camera.Enable(); err != nil {
		s.log.Error("failed to start capture", logger.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "camera could not be opened").SetInternal(err)
	}
	s.log.Info("capture started through api")
	return c.JSON(http.StatusOK, s.status())
}

func (s *Server) stopCapture(c echo.Context) error {
	if err := s.camera.Disable(); err != nil {
		s.log.Error("failed to stop capture", logger.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "camera could not be closed").SetInternal(err)
	}
	s.log.Info("capture stopped through api")
	return c.JSON(http.StatusOK, s.status())
}

func (s *Server) getMode(c echo.Context) error {
	return c.JSON(http.StatusOK, ModeResponse{Mode: s.camera.Mode().String(), Persisted: true})
}

func (s *Server) putMode(c echo.Context) error {
	var req ModeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	if strings.TrimSpace(req.Mode) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mode is required")
	}

	s.modeMu.Lock()
	defer s.modeMu.Unlock()

	mode, err := s.camera.SetMode(req.Mode)
	if err != nil {
		if errors.Is(err, motion.ErrUnknownMode) {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown detection mode "+strconv.Quote(req.Mode)).SetInternal(err)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "mode change failed").SetInternal(err)
	}

	persisted := s.persistMode(mode)
	return c.JSON(http.StatusOK, ModeResponse{Mode: mode.String(), Persisted: persisted})
}

// persistMode stores the active mode as the owner's preference and in the config file.
// Failures are logged; the running camera keeps the new mode either way.
func (s *Server) persistMode(mode motion.Mode) bool {
	persisted := true

	if s.preferences != nil && s.settings.Main.UserID != "" {
		if err := s.savePreference(mode); err != nil {
			s.log.Warn("failed to persist detection mode preference",
				logger.String("mode", mode.String()),
				logger.String("user_id", s.settings.Main.UserID),
				logger.Error(err))
			persisted = false
		}
	}

	if s.saveSettings != nil {
		s.settings.Motion.Mode = mode.String()
		if err := s.saveSettings(); err != nil {
			s.log.Warn("failed to persist detection mode setting",
				logger.String("mode", mode.String()),
				logger.Error(err))
			persisted = false
		}
	}

	if s.preferences == nil && s.saveSettings == nil {
		persisted = false
	}
	return persisted
}

func (s *Server) savePreference(mode motion.Mode) error {
	pref, err := s.preferences.GetPreference(s.settings.Main.UserID)
	if err != nil {
		return err
	}
	pref.UserID = s.settings.Main.UserID
	pref.DetectionMode = mode.String()
	return s.preferences.SavePreference(&pref)
}

func (s *Server) latestRecording(c echo.Context) error {
	path := s.camera.LatestRecording()
	if path == "" {
		return echo.NewHTTPError(http.StatusNotFound, "no recording available")
	}
	return c.JSON(http.StatusOK, map[string]string{"path": path})
}

func (s *Server) latestStill(c echo.Context) error {
	still, ok := s.camera.LatestStill()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no still available")
	}

	h := c.Response().Header()
	h.Set("Cache-Control", "no-store")
	h.Set("X-Motion", strconv.FormatBool(still.Motion))
	if still.Motion {
		h.Set("X-Motion-Position", string(still.Position))
		h.Set("X-Motion-Size", string(still.Size))
	}
	if !still.CapturedAt.IsZero() {
		h.Set("Last-Modified", still.CapturedAt.UTC().Format(http.TimeFormat))
	}
	return c.Blob(http.StatusOK, "image/jpeg", still.JPEG)
}
