package myaudio

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
	)
}

type fakeSource struct {
	mu      sync.Mutex
	format  Format
	openErr error
	onData  func([]byte)
	opened  int
	closed  int
}

func (f *fakeSource) Open(onData func([]byte)) (Format, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return Format{}, f.openErr
	}
	f.opened++
	f.onData = onData
	return f.format, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.onData = nil
	return nil
}

func (f *fakeSource) emit(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onData != nil {
		f.onData(data)
	}
}

func newTestRecorder(src Source, bufferSize int) *Recorder {
	return NewRecorder(src, conf.AudioSettings{
		Enabled:     true,
		BufferSize:  bufferSize,
		JoinTimeout: time.Second,
	})
}

func TestRecorderAccumulatesInOrder(t *testing.T) {
	src := &fakeSource{format: Format{SampleRate: 8000, Channels: 1}}
	rec := newTestRecorder(src, 1024)

	require.NoError(t, rec.Start(context.Background()))
	assert.True(t, rec.Running())

	src.emit([]byte{1, 2, 3, 4})
	time.Sleep(3 * drainInterval)
	src.emit([]byte{5, 6})

	clip, err := rec.Stop()
	require.NoError(t, err)
	assert.False(t, rec.Running())
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, clip.PCM)
	assert.Equal(t, 8000, clip.SampleRate)
	assert.Equal(t, 1, clip.Channels)
	assert.Equal(t, 1, src.closed)
}

func TestRecorderStartTwiceFails(t *testing.T) {
	src := &fakeSource{format: Format{SampleRate: 8000, Channels: 1}}
	rec := newTestRecorder(src, 1024)

	require.NoError(t, rec.Start(context.Background()))
	err := rec.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))

	_, err = rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, 1, src.opened)
}

func TestRecorderStopWithoutStart(t *testing.T) {
	rec := newTestRecorder(&fakeSource{}, 1024)

	_, err := rec.Stop()
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
}

func TestRecorderOpenFailure(t *testing.T) {
	src := &fakeSource{openErr: errors.NewStd("no device")}
	rec := newTestRecorder(src, 1024)

	err := rec.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAudio))
	assert.False(t, rec.Running())
}

func TestRecorderDropsOverflow(t *testing.T) {
	src := &fakeSource{format: Format{SampleRate: 8000, Channels: 1}}
	rec := newTestRecorder(src, 8)

	require.NoError(t, rec.Start(context.Background()))
	src.emit([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})

	clip, err := rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, clip.PCM)
}

func TestRecorderReusableAfterStop(t *testing.T) {
	src := &fakeSource{format: Format{SampleRate: 8000, Channels: 1}}
	rec := newTestRecorder(src, 64)

	require.NoError(t, rec.Start(context.Background()))
	src.emit([]byte{1, 2})
	first, err := rec.Stop()
	require.NoError(t, err)

	require.NoError(t, rec.Start(context.Background()))
	src.emit([]byte{3, 4})
	second, err := rec.Stop()
	require.NoError(t, err)

	assert.Equal(t, []byte{1, 2}, first.PCM)
	assert.Equal(t, []byte{3, 4}, second.PCM)
}

func TestRecorderParentCancelStopsDrain(t *testing.T) {
	src := &fakeSource{format: Format{SampleRate: 8000, Channels: 1}}
	rec := newTestRecorder(src, 64)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, rec.Start(ctx))
	src.emit([]byte{9, 9})
	cancel()

	clip, err := rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, clip.PCM)
}
