package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/motioncam/internal/camera"
	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/datastore"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
	"github.com/tphakala/motioncam/internal/motion"
)

type fakeCamera struct {
	mu        sync.Mutex
	enabled   bool
	enableErr error
	mode      motion.Mode
	state     camera.RecordingState
	latest    string
	still     camera.Still
}

func (f *fakeCamera) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeCamera) Enable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enableErr != nil {
		return f.enableErr
	}
	f.enabled = true
	return nil
}

func (f *fakeCamera) Disable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = false
	return nil
}

func (f *fakeCamera) Lifecycle() camera.Lifecycle {
	if f.Enabled() {
		return camera.LifecycleWarmingUp
	}
	return camera.LifecycleOff
}

func (f *fakeCamera) State() camera.RecordingState { return f.state }

func (f *fakeCamera) Mode() motion.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *fakeCamera) SetMode(name string) (motion.Mode, error) {
	m, err := motion.ParseMode(name)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = m
	return m, nil
}

func (f *fakeCamera) LatestRecording() string { return f.latest }

func (f *fakeCamera) LatestStill() (camera.Still, bool) { return f.still, f.still.JPEG != nil }

type fakePreferences struct {
	saved   []datastore.UserPreference
	saveErr error
}

func (f *fakePreferences) GetPreference(userID string) (datastore.UserPreference, error) {
	return datastore.UserPreference{UserID: userID, Notify: datastore.NotifyNone}, nil
}

func (f *fakePreferences) SavePreference(pref *datastore.UserPreference) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, *pref)
	return nil
}

func newTestServer(t *testing.T, cam *fakeCamera, opts ...ServerOption) *Server {
	t.Helper()
	settings := &conf.Settings{}
	settings.Main.Name = "garage"
	settings.Main.UserID = "owner"
	settings.Version = "1.2.3"

	opts = append([]ServerOption{WithLogger(logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC))}, opts...)
	s, err := New(cam, settings, opts...)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, http.NoBody)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestNewRequiresCamera(t *testing.T) {
	t.Parallel()
	_, err := New(nil, &conf.Settings{})
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeCamera{mode: motion.DefaultMode})
	rec := do(t, s, http.MethodGet, "/api/v1/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
}

func TestStatusReflectsCamera(t *testing.T) {
	t.Parallel()

	cam := &fakeCamera{mode: motion.ModePointTracking, state: camera.StateMuxing, latest: "/rec/a.mp4"}
	s := newTestServer(t, cam)

	rec := do(t, s, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	st := decode[StatusResponse](t, rec)
	assert.Equal(t, "garage", st.Node)
	assert.False(t, st.Enabled)
	assert.Equal(t, "off", st.Lifecycle)
	assert.Equal(t, "muxing", st.Recording)
	assert.Equal(t, "point-tracking", st.Mode)
	assert.Equal(t, "/rec/a.mp4", st.LatestRecording)
	assert.Len(t, st.Modes, 3)
}

func TestCaptureStartAndStop(t *testing.T) {
	t.Parallel()

	cam := &fakeCamera{mode: motion.DefaultMode}
	s := newTestServer(t, cam)

	rec := do(t, s, http.MethodPost, "/api/v1/capture/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, cam.Enabled())
	assert.Equal(t, "warming_up", decode[StatusResponse](t, rec).Lifecycle)

	rec = do(t, s, http.MethodPost, "/api/v1/capture/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, cam.Enabled())
}

func TestCaptureStartFailure(t *testing.T) {
	t.Parallel()

	cam := &fakeCamera{enableErr: errors.NewStd("device busy")}
	s := newTestServer(t, cam)

	rec := do(t, s, http.MethodPost, "/api/v1/capture/start", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "camera could not be opened", decode[map[string]string](t, rec)["error"])
}

func TestPutModePersistsPreferenceAndSettings(t *testing.T) {
	t.Parallel()

	prefs := &fakePreferences{}
	saves := 0
	cam := &fakeCamera{mode: motion.DefaultMode}
	s := newTestServer(t, cam,
		WithPreferenceStore(prefs),
		WithSettingsSaver(func() error { saves++; return nil }))

	rec := do(t, s, http.MethodPut, "/api/v1/mode", `{"mode":"mckenna"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[ModeResponse](t, rec)
	assert.Equal(t, "chromaticity-edge", resp.Mode)
	assert.True(t, resp.Persisted)
	assert.Equal(t, motion.ModeChromaticityEdge, cam.Mode())

	require.Len(t, prefs.saved, 1)
	assert.Equal(t, "owner", prefs.saved[0].UserID)
	assert.Equal(t, "chromaticity-edge", prefs.saved[0].DetectionMode)
	assert.Equal(t, datastore.NotifyNone, prefs.saved[0].Notify, "other preferences are kept")

	assert.Equal(t, 1, saves)
	assert.Equal(t, "chromaticity-edge", s.settings.Motion.Mode)

	rec = do(t, s, http.MethodGet, "/api/v1/mode", "")
	assert.Equal(t, "chromaticity-edge", decode[ModeResponse](t, rec).Mode)
}

func TestPutModePersistFailureKeepsMode(t *testing.T) {
	t.Parallel()

	cam := &fakeCamera{mode: motion.DefaultMode}
	s := newTestServer(t, cam, WithPreferenceStore(&fakePreferences{saveErr: errors.NewStd("db locked")}))

	rec := do(t, s, http.MethodPut, "/api/v1/mode", `{"mode":"point-tracking"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[ModeResponse](t, rec).Persisted)
	assert.Equal(t, motion.ModePointTracking, cam.Mode())
}

func TestPutModeRejectsUnknownMode(t *testing.T) {
	t.Parallel()

	cam := &fakeCamera{mode: motion.ModePointTracking}
	s := newTestServer(t, cam)

	rec := do(t, s, http.MethodPut, "/api/v1/mode", `{"mode":"optical-magic"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, motion.ModePointTracking, cam.Mode())

	rec = do(t, s, http.MethodPut, "/api/v1/mode", `{"mode":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPut, "/api/v1/mode", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestRecording(t *testing.T) {
	t.Parallel()

	cam := &fakeCamera{}
	s := newTestServer(t, cam)

	rec := do(t, s, http.MethodGet, "/api/v1/recordings/latest", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	cam.latest = "/rec/motion_combined.mp4"
	rec = do(t, s, http.MethodGet, "/api/v1/recordings/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/rec/motion_combined.mp4", decode[map[string]string](t, rec)["path"])
}

func TestLatestStill(t *testing.T) {
	t.Parallel()

	cam := &fakeCamera{}
	s := newTestServer(t, cam)

	rec := do(t, s, http.MethodGet, "/api/v1/still.jpg", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	cam.still = camera.Still{
		JPEG:       []byte{0xff, 0xd8, 0xff, 0xd9},
		Motion:     true,
		Position:   motion.PositionLeft,
		Size:       motion.SizeLarge,
		CapturedAt: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	rec = do(t, s, http.MethodGet, "/api/v1/still.jpg", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "true", rec.Header().Get("X-Motion"))
	assert.Equal(t, "Left", rec.Header().Get("X-Motion-Position"))
	assert.Equal(t, "Large", rec.Header().Get("X-Motion-Size"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xd9}, rec.Body.Bytes())
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultListen, ConfigFromSettings(&conf.Settings{}).Listen)

	settings := &conf.Settings{}
	settings.WebServer.Listen = "127.0.0.1:9000"
	cfg := ConfigFromSettings(settings)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	require.NoError(t, cfg.Validate())

	cfg.ReadTimeout = 0
	assert.True(t, errors.IsCategory(cfg.Validate(), errors.CategoryConfiguration))
}
