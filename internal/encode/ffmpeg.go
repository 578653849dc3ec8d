package encode

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maauso/videocollage/internal/composition"
)

// Compile-time check that FFmpegBackend implements Backend.
var _ Backend = (*FFmpegBackend)(nil)

// presetArgs maps a Preset to x264 settings.
var presetArgs = map[Preset][]string{
	PresetHighestQuality: {"-preset", "slow", "-crf", "17"},
	PresetMedium:         {"-preset", "medium", "-crf", "23"},
	PresetLow:            {"-preset", "veryfast", "-crf", "28"},
}

// FFmpegBackend implements Backend using the ffmpeg CLI.
type FFmpegBackend struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	logger     *slog.Logger
}

// NewFFmpegBackend creates a new FFmpegBackend.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegBackend(ffmpegPath string, logger *slog.Logger) *FFmpegBackend {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegBackend{ffmpegPath: ffmpegPath, logger: logger}
}

// Start launches ffmpeg for req and returns immediately. Progress is read
// from ffmpeg's -progress stream and pushed on the session's channel.
func (b *FFmpegBackend) Start(ctx context.Context, req Request) (Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	args := BuildArgs(req)
	runCtx, cancel := context.WithCancel(ctx)

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(runCtx, b.ffmpegPath, args...)
	cmd.WaitDelay = 2 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: stdout pipe: %w", ErrSessionUnavailable, err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: start ffmpeg: %w", ErrSessionUnavailable, err)
	}

	s := &ffmpegSession{
		ctx:      runCtx,
		cancel:   cancel,
		progress: make(chan float64, 1),
		done:     make(chan struct{}),
		status:   StatusExporting,
	}

	b.logger.Debug("ffmpeg started",
		slog.String("output", req.OutputPath),
		slog.Int("tracks", len(req.Timeline.Tracks)),
		slog.String("duration", req.Timeline.Duration.Decimal()),
	)

	go s.run(cmd, stdout, &stderr, args, req.Timeline.Duration.Microseconds())
	return s, nil
}

// BuildArgs constructs the ffmpeg argument slice (without the binary) that
// renders req. Every track is scaled into its band and overlaid on a black
// canvas lasting the timeline duration.
func BuildArgs(req Request) []string {
	tl := req.Timeline
	args := make([]string, 0, 32+4*len(tl.Tracks))

	// --- Preamble ---
	// -n refuses to overwrite: the destination must have been cleared beforehand.
	args = append(args,
		"-hide_banner", "-nostdin", "-n",
		"-loglevel", "error",
		"-progress", "pipe:1", "-nostats",
	)

	// --- Inputs ---
	for _, tr := range tl.Tracks {
		if req.Fill == FillLoop {
			args = append(args, "-stream_loop", "-1")
		}
		args = append(args, "-i", tr.Source)
	}

	// --- Filter graph and maps ---
	args = append(args,
		"-filter_complex", BuildFilterGraph(req),
		"-map", "[out]",
		"-an",
	)

	// --- Video codec ---
	args = append(args, "-c:v", "libx264")
	args = append(args, presetArgs[req.Preset]...)
	args = append(args,
		"-pix_fmt", "yuv420p",
		"-r", frameRate(tl),
		"-t", tl.Duration.Decimal(),
		"-movflags", "+faststart",
	)

	// --- Output ---
	return append(args, req.OutputPath)
}

// BuildFilterGraph returns the -filter_complex graph for req. The single
// composition instruction supplies one layer per track.
func BuildFilterGraph(req Request) string {
	tl := req.Timeline
	rate := frameRate(tl)
	layers := tl.Instructions[0].Layers

	eofAction := "pass"
	if req.Fill == FillHold {
		eofAction = "repeat"
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("color=c=black:s=%dx%d:r=%s:d=%s[base]",
		tl.RenderSize.Width, tl.RenderSize.Height, rate, tl.Duration.Decimal()))

	prev := "base"
	for i, layer := range layers {
		input := tl.TrackIndex(layer.TrackID)
		if input < 0 {
			continue
		}
		tr := tl.Tracks[input]

		var chain []string
		if req.Fill != FillLoop {
			chain = append(chain,
				"trim=start=0:duration="+tr.SourceRange.Duration.Decimal(),
				"setpts=PTS-STARTPTS",
			)
		}
		chain = append(chain,
			fmt.Sprintf("scale=%d:%d", layer.ScaledSize.Width, layer.ScaledSize.Height),
			"setsar=1",
			"fps="+rate,
		)
		parts = append(parts, fmt.Sprintf("[%d:v]%s[l%d]", input, strings.Join(chain, ","), i))

		out := fmt.Sprintf("o%d", i)
		parts = append(parts, fmt.Sprintf("[%s][l%d]overlay=x=%d:y=%d:eof_action=%s[%s]",
			prev, i,
			int(math.Round(layer.Transform.TranslateX)),
			int(math.Round(layer.Transform.TranslateY)),
			eofAction, out))
		prev = out
	}

	parts = append(parts, fmt.Sprintf("[%s]format=yuv420p[out]", prev))
	return strings.Join(parts, ";")
}

// frameRate renders the inverse of the frame duration, e.g. "30/1".
func frameRate(tl *composition.Timeline) string {
	fd := tl.FrameDuration
	return strconv.FormatInt(int64(fd.Timescale), 10) + "/" + strconv.FormatInt(fd.Value, 10)
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// ffmpegSession is a running ffmpeg process.
type ffmpegSession struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool

	progress chan float64
	done     chan struct{}

	mu     sync.Mutex
	status Status
	err    error
}

func (s *ffmpegSession) Progress() <-chan float64 { return s.progress }

func (s *ffmpegSession) Done() <-chan struct{} { return s.done }

func (s *ffmpegSession) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *ffmpegSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *ffmpegSession) Cancel() {
	s.cancelled.Store(true)
	s.cancel()
}

// publish replaces any unread progress value with p. Only run calls it.
func (s *ffmpegSession) publish(p float64) {
	select {
	case <-s.progress:
	default:
	}
	s.progress <- p
}

// run reads progress until ffmpeg closes stdout, then waits for the process
// and records the terminal status.
func (s *ffmpegSession) run(cmd *exec.Cmd, stdout io.Reader, stderr *bytes.Buffer, args []string, totalUS int64) {
	defer close(s.done)

	last := 0.0
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if p, ok := progressLine(scanner.Text(), totalUS); ok && p > last {
			last = p
			s.publish(p)
		}
	}
	_, _ = io.Copy(io.Discard, stdout)

	waitErr := cmd.Wait()
	cancelled := s.cancelled.Load() || s.ctx.Err() != nil
	s.cancel()

	s.mu.Lock()
	switch {
	case cancelled:
		s.status = StatusCancelled
		s.err = ErrCancelled
	case waitErr != nil:
		s.status = StatusFailed
		s.err = fmt.Errorf("%w: %w", ErrEncodeFailed, &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    waitErr,
		})
	default:
		s.status = StatusCompleted
		if last < 1 {
			s.publish(1)
		}
	}
	s.mu.Unlock()

	close(s.progress)
}
