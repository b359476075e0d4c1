package media

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/motioncam/internal/errors"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  []call
	stdout []byte
	err    error
	// effect runs before returning, e.g. to create the output file
	effect func(args []string)
}

func (r *fakeRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{name: name, args: append([]string(nil), args...)})
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.NewStd("command run without deadline")
	}
	if r.effect != nil {
		r.effect(args)
	}
	return r.stdout, r.err
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestMuxBuildsCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	video := filepath.Join(dir, "rec.mp4")
	audio := filepath.Join(dir, "rec_raw.wav")
	out := filepath.Join(dir, "rec_combined.mp4")
	touch(t, video)
	touch(t, audio)

	runner := &fakeRunner{}
	ff := newFFmpeg("/usr/bin/ffmpeg", "/usr/bin/ffprobe", time.Second, runner.run)

	require.NoError(t, ff.Mux(context.Background(), video, audio, out))
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "/usr/bin/ffmpeg", runner.calls[0].name)
	assert.Equal(t, []string{
		"-y", "-i", video, "-i", audio,
		"-c:v", "copy", "-c:a", "aac", "-strict", "experimental", out,
	}, runner.calls[0].args)
}

func TestMuxMissingInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	video := filepath.Join(dir, "rec.mp4")
	touch(t, video)

	runner := &fakeRunner{}
	ff := newFFmpeg("ffmpeg", "ffprobe", time.Second, runner.run)

	err := ff.Mux(context.Background(), video, filepath.Join(dir, "missing.wav"), filepath.Join(dir, "out.mp4"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMux))
	assert.Empty(t, runner.calls)
}

func TestMuxFailureRemovesPartialOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	video := filepath.Join(dir, "rec.mp4")
	audio := filepath.Join(dir, "rec_raw.wav")
	out := filepath.Join(dir, "rec_combined.mp4")
	touch(t, video)
	touch(t, audio)

	runner := &fakeRunner{
		err:    errors.NewStd("exit status 1"),
		effect: func(args []string) { _ = os.WriteFile(args[len(args)-1], []byte("partial"), 0o644) },
	}
	ff := newFFmpeg("ffmpeg", "ffprobe", time.Second, runner.run)

	err := ff.Mux(context.Background(), video, audio, out)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMux))
	assert.NoFileExists(t, out)
	assert.FileExists(t, video)
}

func TestEmbedMetadataReplacesOriginal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "rec_combined.mp4")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	runner := &fakeRunner{
		effect: func(args []string) { _ = os.WriteFile(args[len(args)-1], []byte("tagged"), 0o644) },
	}
	ff := newFFmpeg("ffmpeg", "ffprobe", time.Second, runner.run)

	require.NoError(t, ff.EmbedMetadata(context.Background(), path, Metadata{Position: "Left", Size: "Large"}))

	require.Len(t, runner.calls, 1)
	assert.Contains(t, runner.calls[0].args, `comment={"position":"Left","size":"Large"}`)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "tagged", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestEmbedMetadataFailureKeepsOriginal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "rec_combined.mp4")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	runner := &fakeRunner{err: errors.NewStd("exit status 1")}
	ff := newFFmpeg("ffmpeg", "ffprobe", time.Second, runner.run)

	require.Error(t, ff.EmbedMetadata(context.Background(), path, Metadata{Position: "Right", Size: "Small"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestReadMetadata(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		stdout: []byte(`{"format":{"tags":{"comment":"{\"position\":\"Right\",\"size\":\"Small\"}"}}}`),
	}
	ff := newFFmpeg("ffmpeg", "/opt/ffprobe", time.Second, runner.run)

	meta, err := ff.ReadMetadata(context.Background(), "/tmp/rec.mp4")
	require.NoError(t, err)
	assert.Equal(t, Metadata{Position: "Right", Size: "Small"}, meta)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "/opt/ffprobe", runner.calls[0].name)
	assert.Equal(t, []string{"-v", "error", "-show_entries", "format_tags=comment", "-of", "json", "/tmp/rec.mp4"}, runner.calls[0].args)

	ok, err := ff.Verify(context.Background(), "/tmp/rec.mp4", Metadata{Position: "Right", Size: "Small"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ff.Verify(context.Background(), "/tmp/rec.mp4", Metadata{Position: "Left", Size: "Small"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadMetadataWithoutComment(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{stdout: []byte(`{"format":{}}`)}
	ff := newFFmpeg("ffmpeg", "ffprobe", time.Second, runner.run)

	_, err := ff.ReadMetadata(context.Background(), "/tmp/rec.mp4")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}

func TestReadMetadataWithoutFfprobe(t *testing.T) {
	t.Parallel()

	ff := newFFmpeg("ffmpeg", "", time.Second, (&fakeRunner{}).run)

	_, err := ff.ReadMetadata(context.Background(), "/tmp/rec.mp4")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestRunCommandReportsStderr(t *testing.T) {
	t.Parallel()

	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}

	_, err := runCommand(context.Background(), "/bin/sh", "-c", "echo broken pipe >&2; exit 3")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCommandExecution))

	var ee *errors.EnhancedError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "broken pipe", ee.GetContext()["stderr"])
}

func TestTail(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", tail("  abc \n", 10))
	assert.Equal(t, "def", tail("abcdef", 3))
}
