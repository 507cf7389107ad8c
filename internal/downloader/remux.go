package downloader

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
)

// DefaultFFmpegPath is looked up on the executable search path.
const DefaultFFmpegPath = "ffmpeg"

const remuxSpeedText = "Processing..."

var (
	ffmpegDurationRe = regexp.MustCompile(`Duration: (\d{2}):(\d{2}):(\d{2})`)
	ffmpegTimeRe     = regexp.MustCompile(`time=(\d{2}):(\d{2}):(\d{2})`)
)

// RemuxStrategy copies a segmented playlist into a single container with ffmpeg.
type RemuxStrategy struct {
	FFmpegPath string
}

// NewRemuxStrategy creates a remux strategy running the given binary.
func NewRemuxStrategy(ffmpegPath string) *RemuxStrategy {
	if ffmpegPath == "" {
		ffmpegPath = DefaultFFmpegPath
	}
	return &RemuxStrategy{FFmpegPath: ffmpegPath}
}

func (s *RemuxStrategy) Name() StrategyName { return StrategyRemux }

// RemuxArgs returns the ffmpeg argument list for a remux.
func RemuxArgs(url, dest string) []string {
	return []string{"-i", url, "-c", "copy", "-bsf:a", "aac_adtstoasc", "-y", dest}
}

func (s *RemuxStrategy) Execute(ctx context.Context, job Job) error {
	if err := job.checkCancelled(); err != nil {
		return err
	}

	cmd := exec.Command(s.FFmpegPath, RemuxArgs(job.URL, job.Path)...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open ffmpeg stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	res := ProcessResource(cmd.Process)
	if err := job.State.Attach(res); err != nil {
		_ = cmd.Wait()
		return err
	}
	defer job.State.Detach(res)

	stop := context.AfterFunc(ctx, res.Terminate)
	defer stop()

	var tracker ffmpegProgress
	scanner := bufio.NewScanner(stderr)
	scanner.Split(scanFFmpegLines)
	for scanner.Scan() {
		if job.State.Cancelled() {
			res.Terminate()
			break
		}
		if progress, ok := tracker.feed(scanner.Text()); ok {
			job.Report.ProgressText(capBelowDone(progress), remuxSpeedText)
		}
	}
	// Drain whatever is left so the process never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, stderr)

	waitErr := cmd.Wait()
	if job.State.Cancelled() {
		return ErrCancelled
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return fmt.Errorf("ffmpeg exited with code %d", exitErr.ExitCode())
		}
		return fmt.Errorf("ffmpeg failed: %w", waitErr)
	}
	return nil
}

// ffmpegProgress turns ffmpeg stderr lines into a percentage.
type ffmpegProgress struct {
	duration int
}

// feed consumes one line. It reports a percentage once both a duration and
// a position have been seen.
func (p *ffmpegProgress) feed(line string) (float64, bool) {
	if m := ffmpegDurationRe.FindStringSubmatch(line); m != nil {
		p.duration = hmsSeconds(m)
	}
	if p.duration == 0 {
		return 0, false
	}
	m := ffmpegTimeRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	return float64(hmsSeconds(m)) / float64(p.duration) * 100, true
}

func hmsSeconds(m []string) int {
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	secs, _ := strconv.Atoi(m[3])
	return h*3600 + mins*60 + secs
}

// scanFFmpegLines splits on either \r or \n; ffmpeg rewrites its status
// line with carriage returns.
func scanFFmpegLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
