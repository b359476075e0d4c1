package analysis

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/motioncam/internal/camera"
	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/datastore"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/motion"
	"github.com/tphakala/motioncam/internal/notification"
)

func TestFrameClockFollowsMediaTime(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := newFrameClock(base, 25)
	assert.Equal(t, base, clock.Now())

	for range 50 {
		clock.Tick()
	}
	assert.Equal(t, base.Add(2*time.Second), clock.Now())
}

func TestReportDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 4*time.Second, Report{Frames: 100, FPS: 25}.Duration())
	assert.Zero(t, Report{Frames: 100}.Duration())
}

type results map[string]camera.RecordingResult

func (r results) Result(id string) (camera.RecordingResult, bool) {
	v, ok := r[id]
	return v, ok
}

func TestCollectRecordingsDeduplicatesInEventOrder(t *testing.T) {
	t.Parallel()

	res := results{
		"rec-b": {ID: "rec-b", State: camera.StateReady, OutputPath: "/r/b.mp4"},
		"rec-a": {ID: "rec-a", State: camera.StateError},
	}
	events := []motion.EventDescriptor{
		{ID: "1", RecordingID: "rec-b"},
		{ID: "2", RecordingID: ""},
		{ID: "3", RecordingID: "rec-b"},
		{ID: "4", RecordingID: "rec-a"},
		{ID: "5", RecordingID: "rec-missing"},
	}

	got := collectRecordings(res, events)
	require.Len(t, got, 2)
	assert.Equal(t, "rec-b", got[0].ID)
	assert.Equal(t, "rec-a", got[1].ID)
}

func TestWriteReport(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	report := Report{
		Source: "garden.mp4",
		Mode:   motion.ModeBackgroundModel,
		Start:  start,
		Frames: 250,
		FPS:    25,
		Events: []motion.EventDescriptor{{
			RecordingID: "0123456789abcdef",
			Position:    motion.PositionRight,
			Size:        motion.SizeSmall,
			ImagePath:   "/stills/motion_1.jpg",
			DetectedAt:  start.Add(1500 * time.Millisecond),
		}},
		Recordings: []camera.RecordingResult{
			{ID: "0123456789abcdef", State: camera.StateError, Err: errors.NewStd("mux failed")},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, report))
	out := buf.String()

	assert.Contains(t, out, "garden.mp4")
	assert.Contains(t, out, "background-model")
	assert.Contains(t, out, "250 (10s at 25.00 fps)")
	assert.Contains(t, out, "+1.5s")
	assert.Contains(t, out, "Right")
	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "0123456789")
	assert.Contains(t, out, "mux failed")
}

func TestWriteReportWithoutMotion(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, Report{Source: "empty.mp4", FPS: 25}))
	assert.Contains(t, buf.String(), "No motion detected.")
}

func TestValidateVideoFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	assert.True(t, errors.IsCategory(validateVideoFile(filepath.Join(dir, "none.mp4")), errors.CategoryFileIO))
	assert.True(t, errors.IsCategory(validateVideoFile(dir), errors.CategoryValidation))

	empty := filepath.Join(dir, "empty.mp4")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	assert.True(t, errors.IsCategory(validateVideoFile(empty), errors.CategoryValidation))

	video := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(video, []byte("data"), 0o644))
	assert.NoError(t, validateVideoFile(video))
}

type prefStore struct {
	pref datastore.UserPreference
	err  error
}

func (p *prefStore) GetPreference(string) (datastore.UserPreference, error) { return p.pref, p.err }

func (p *prefStore) SavePreference(*datastore.UserPreference) error { return nil }

func TestApplyStoredMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		userID string
		store  *prefStore
		want   string
	}{
		{"stored canonical mode", "owner", &prefStore{pref: datastore.UserPreference{DetectionMode: "point-tracking"}}, "point-tracking"},
		{"stored legacy alias", "owner", &prefStore{pref: datastore.UserPreference{DetectionMode: "mckenna"}}, "chromaticity-edge"},
		{"no stored mode", "owner", &prefStore{}, "background-model"},
		{"invalid stored mode", "owner", &prefStore{pref: datastore.UserPreference{DetectionMode: "bogus"}}, "background-model"},
		{"lookup failure", "owner", &prefStore{err: errors.NewStd("db down")}, "background-model"},
		{"no owner", "", &prefStore{pref: datastore.UserPreference{DetectionMode: "point-tracking"}}, "background-model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			settings := &conf.Settings{}
			settings.Main.UserID = tt.userID
			settings.Motion.Mode = "background-model"

			applyStoredMode(settings, tt.store)
			assert.Equal(t, tt.want, settings.Motion.Mode)
		})
	}
}

func TestNewNotifierFallsBackToNoop(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{}
	assert.IsType(t, notification.Noop{}, newNotifier(settings))

	settings.Notification.Enabled = true
	assert.IsType(t, notification.Noop{}, newNotifier(settings), "no URLs configured")
}

func TestNewRetentionCleaner(t *testing.T) {
	settings := &conf.Settings{}
	settings.Recording.Path = t.TempDir()
	settings.Storage.Retention = conf.RetentionSettings{Policy: "age", MaxAge: time.Hour, Interval: time.Minute}

	cleaner := newRetentionCleaner(settings)
	require.NotNil(t, cleaner)
	assert.True(t, cleaner.Enabled())

	settings.Storage.Retention.Policy = "sometimes"
	assert.Nil(t, newRetentionCleaner(settings))
	assert.False(t, newRetentionCleaner(settings).Enabled())
}
