package diskmanager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/errors"
)

var testNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

// writeAged creates a file of size bytes last modified age before testNow.
func writeAged(t *testing.T, dir, name string, size int, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	mod := testNow.Add(-age)
	require.NoError(t, os.Chtimes(path, mod, mod))
	return path
}

func newTestCleaner(t *testing.T, settings conf.RetentionSettings, dirs ...string) *Cleaner {
	t.Helper()
	if settings.Interval == 0 {
		settings.Interval = time.Minute
	}
	c, err := NewCleaner(settings, dirs...)
	require.NoError(t, err)
	c.now = func() time.Time { return testNow }
	return c
}

func TestAgeBasedCleanup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	old1 := writeAged(t, dir, "2026/09/a.mp4", 100, 40*24*time.Hour)
	old2 := writeAged(t, dir, "2026/09/a.jpg", 50, 35*24*time.Hour)
	fresh := writeAged(t, dir, "2026/10/b.mp4", 10, time.Hour)
	other := writeAged(t, dir, "notes.txt", 10, 90*24*time.Hour)

	c := newTestCleaner(t, conf.RetentionSettings{Policy: PolicyAge, MaxAge: 30 * 24 * time.Hour}, dir)

	res, err := c.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, int64(150), res.Freed)

	assert.NoFileExists(t, old1)
	assert.NoFileExists(t, old2)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other, "unknown extensions are never deleted")
}

func TestAgeBasedCleanupKeepsMinFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	oldest := writeAged(t, dir, "a.mp4", 1, 50*24*time.Hour)
	older := writeAged(t, dir, "b.mp4", 1, 45*24*time.Hour)
	old := writeAged(t, dir, "c.mp4", 1, 40*24*time.Hour)

	c := newTestCleaner(t, conf.RetentionSettings{Policy: PolicyAge, MaxAge: 24 * time.Hour, MinFiles: 2}, dir)

	res, err := c.AgeBasedCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.NoFileExists(t, oldest)
	assert.FileExists(t, older)
	assert.FileExists(t, old)
}

func TestCleanupSkipsActiveFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writing := writeAged(t, dir, "current.mp4", 1, 30*time.Second)

	c := newTestCleaner(t, conf.RetentionSettings{Policy: PolicyUsage, MaxUsage: "50%"}, dir)
	c.usage = func(string) (float64, error) { return 99, nil }

	res, err := c.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)
	assert.FileExists(t, writing)
}

func TestUsageBasedCleanup(t *testing.T) {
	t.Parallel()

	recordings := t.TempDir()
	stills := t.TempDir()
	r1 := writeAged(t, recordings, "r1.mp4", 10, 5*time.Hour)
	r2 := writeAged(t, recordings, "r2.mp4", 10, 4*time.Hour)
	r3 := writeAged(t, recordings, "r3.mp4", 10, 3*time.Hour)
	s1 := writeAged(t, stills, "s1.jpg", 10, 6*time.Hour)

	c := newTestCleaner(t, conf.RetentionSettings{Policy: PolicyUsage, MaxUsage: "80%"}, recordings, stills)

	// recordings volume drops below the limit after two deletions, stills volume is fine
	used := map[string]float64{recordings: 95, stills: 10}
	c.usage = func(path string) (float64, error) {
		v := used[path]
		if path == recordings {
			used[path] -= 5
		}
		return v, nil
	}

	res, err := c.UsageBasedCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)
	assert.NoFileExists(t, r1)
	assert.NoFileExists(t, r2)
	assert.FileExists(t, r3)
	assert.FileExists(t, s1)
}

func TestUsageBasedCleanupBelowLimit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f := writeAged(t, dir, "r1.mp4", 10, 48*time.Hour)

	c := newTestCleaner(t, conf.RetentionSettings{Policy: PolicyUsage, MaxUsage: "80%"}, dir)
	c.usage = func(string) (float64, error) { return 20, nil }

	res, err := c.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)
	assert.FileExists(t, f)
}

func TestCollectDeduplicatesNestedRoots(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	nested := filepath.Join(root, "archive")
	writeAged(t, nested, "a.mp4", 1, 2*time.Hour)
	writeAged(t, root, "b.jpg", 1, 3*time.Hour)

	c := newTestCleaner(t, conf.RetentionSettings{Policy: PolicyAge, MaxAge: time.Hour}, root, nested, root+"/")
	assert.Len(t, c.dirs, 2)

	files, err := c.collect(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "b.jpg", filepath.Base(files[0].Path))
	assert.Equal(t, root, files[1].Root)
}

func TestGetMediaFilesMissingRoot(t *testing.T) {
	t.Parallel()

	files, err := GetMediaFiles(context.Background(), filepath.Join(t.TempDir(), "nope"), allowedFileTypes)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestNewCleanerValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		settings conf.RetentionSettings
		wantErr  bool
	}{
		{name: "empty policy disables", settings: conf.RetentionSettings{}},
		{name: "age", settings: conf.RetentionSettings{Policy: PolicyAge, MaxAge: time.Hour, Interval: time.Minute}},
		{name: "age without max age", settings: conf.RetentionSettings{Policy: PolicyAge, Interval: time.Minute}, wantErr: true},
		{name: "usage out of range", settings: conf.RetentionSettings{Policy: PolicyUsage, MaxUsage: "0%", Interval: time.Minute}, wantErr: true},
		{name: "usage without interval", settings: conf.RetentionSettings{Policy: PolicyUsage, MaxUsage: "80%"}, wantErr: true},
		{name: "unknown", settings: conf.RetentionSettings{Policy: "lru", Interval: time.Minute}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := NewCleaner(tt.settings, "/tmp")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, c)
		})
	}

	_, err := NewCleaner(conf.RetentionSettings{Policy: "lru", Interval: time.Minute})
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestCleanerRunDisabled(t *testing.T) {
	t.Parallel()

	c, err := NewCleaner(conf.RetentionSettings{Policy: PolicyNone}, t.TempDir())
	require.NoError(t, err)
	assert.False(t, c.Enabled())

	var nilCleaner *Cleaner
	assert.False(t, nilCleaner.Enabled())
	require.NoError(t, nilCleaner.Run(context.Background()))
}

func TestCleanerRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	old := writeAged(t, dir, "a.mp4", 1, 72*time.Hour)

	c := newTestCleaner(t, conf.RetentionSettings{Policy: PolicyAge, MaxAge: time.Hour, Interval: time.Hour}, dir)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(old)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
