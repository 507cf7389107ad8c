package downloader

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFmpeg writes a shell script that prints ffmpeg-like stderr, writes
// its last argument and exits with code.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\nfor last; do :; done\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestRemuxArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"-i", "http://h/a.m3u8", "-c", "copy", "-bsf:a", "aac_adtstoasc", "-y", "/tmp/a.mp4"},
		RemuxArgs("http://h/a.m3u8", "/tmp/a.mp4"))
}

func TestFFmpegProgress(t *testing.T) {
	var p ffmpegProgress

	_, ok := p.feed("frame=  10 time=00:00:05.00 bitrate=1000kbits/s")
	assert.False(t, ok, "no position before duration")

	_, ok = p.feed("  Duration: 00:01:40.00, start: 0.000000, bitrate: 0 kb/s")
	assert.False(t, ok)

	got, ok := p.feed("frame=  10 time=00:00:50.00 bitrate=1000kbits/s")
	require.True(t, ok)
	assert.InDelta(t, 50.0, got, 0.001)
}

func TestScanFFmpegLines(t *testing.T) {
	sc := bufio.NewScanner(strings.NewReader("a\rb\nc"))
	sc.Split(scanFFmpegLines)
	var got []string
	for sc.Scan() {
		got = append(got, sc.Text())
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestRemuxStrategy_Success(t *testing.T) {
	bin := fakeFFmpeg(t, `printf '  Duration: 00:00:10.00, start: 0\n' >&2
printf 'time=00:00:05.00\rtime=00:00:10.00\r' >&2
printf 'muxed' > "$last"
exit 0`)

	dest := filepath.Join(t.TempDir(), "out.mp4")
	job, events := testJob(t, "http://h/index.m3u8", dest)

	err := NewRemuxStrategy(bin).Execute(context.Background(), job)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "muxed", string(data))

	progress := events.forID("job")
	require.Len(t, progress, 2)
	assert.InDelta(t, 50.0, progress[0].Progress, 0.001)
	assert.Equal(t, 99.0, progress[1].Progress, "capped until exit")
	assert.Equal(t, "Processing...", progress[1].Speed)
}

func TestRemuxStrategy_NonZeroExit(t *testing.T) {
	bin := fakeFFmpeg(t, `echo 'Server returned 404 Not Found' >&2
exit 3`)

	job, _ := testJob(t, "http://h/index.m3u8", filepath.Join(t.TempDir(), "out.mp4"))

	err := NewRemuxStrategy(bin).Execute(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, "ffmpeg exited with code 3", err.Error())
}

func TestRemuxStrategy_MissingBinary(t *testing.T) {
	job, _ := testJob(t, "http://h/index.m3u8", filepath.Join(t.TempDir(), "out.mp4"))

	err := NewRemuxStrategy(filepath.Join(t.TempDir(), "no-such-ffmpeg")).Execute(context.Background(), job)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCancelled)
	assert.Equal(t, ResourceNone, job.State.Active())
}

func TestRemuxStrategy_CancelKillsProcess(t *testing.T) {
	bin := fakeFFmpeg(t, `echo '  Duration: 01:00:00.00' >&2
exec sleep 30`)

	job, _ := testJob(t, "http://h/index.m3u8", filepath.Join(t.TempDir(), "out.mp4"))

	done := make(chan error, 1)
	go func() {
		done <- NewRemuxStrategy(bin).Execute(job.State.Context(), job)
	}()

	require.Eventually(t, func() bool { return job.State.Active() == ResourceProcess }, 2*time.Second, time.Millisecond)
	assert.Equal(t, ResourceProcess, job.State.Cancel())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("remux did not return after cancel")
	}
}
