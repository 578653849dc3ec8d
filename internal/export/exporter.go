// Package export runs one collage export at a time: it composes the
// timeline, clears the destination, drives the encode session and reports
// progress and the terminal result over channels.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/videocollage/internal/composition"
	"github.com/maauso/videocollage/internal/encode"
	"github.com/maauso/videocollage/internal/job"
	"github.com/maauso/videocollage/internal/layout"
	"github.com/maauso/videocollage/internal/media"
)

// DefaultProgressInterval is how often buffered progress is emitted.
const DefaultProgressInterval = 100 * time.Millisecond

// Static errors for export operations.
var (
	// ErrExportInProgress is returned when an export is requested while another is running.
	ErrExportInProgress = errors.New("export: an export is already in progress")
	// ErrDestinationConflict is returned when an existing destination file cannot be removed.
	ErrDestinationConflict = errors.New("export: destination conflict")
)

// Filesystem is the part of the filesystem the exporter needs to stage a destination.
type Filesystem interface {
	Exists(path string) (bool, error)
	Remove(path string) error
}

// Observer is called with a snapshot of the job record whenever its state or
// progress changes. Calls for one job are sequential.
type Observer func(snapshot *job.Job)

// Option configures an Exporter.
type Option func(*Exporter)

// WithPreset sets the encoder quality preset.
func WithPreset(p encode.Preset) Option {
	return func(e *Exporter) { e.preset = p }
}

// WithFillMode sets what a band shows after a shorter clip ends.
func WithFillMode(m encode.FillMode) Option {
	return func(e *Exporter) { e.fill = m }
}

// WithFrameDuration sets the output frame duration.
func WithFrameDuration(d media.Time) Option {
	return func(e *Exporter) { e.frameDuration = d }
}

// WithProgressInterval sets how often progress is emitted. Zero emits every
// value pushed by the encoder.
func WithProgressInterval(d time.Duration) Option {
	return func(e *Exporter) {
		if d >= 0 {
			e.interval = d
		}
	}
}

// WithObserver registers fn to receive job record snapshots.
func WithObserver(fn Observer) Option {
	return func(e *Exporter) { e.observer = fn }
}

// WithErrorClassifier sets the function deriving the failure kind stored on
// the job record.
func WithErrorClassifier(fn func(error) string) Option {
	return func(e *Exporter) { e.classify = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

// JobOption adjusts the job record before the export starts.
type JobOption func(*job.Job)

// Exporter composes and encodes collages. Only one export runs at a time.
type Exporter struct {
	decoder media.Decoder
	backend encode.Backend
	fs      Filesystem
	logger  *slog.Logger

	preset        encode.Preset
	fill          encode.FillMode
	frameDuration media.Time
	interval      time.Duration
	observer      Observer
	classify      func(error) string

	mu     sync.Mutex
	active *Job
}

// NewExporter creates an Exporter.
func NewExporter(dec media.Decoder, backend encode.Backend, fs Filesystem, opts ...Option) *Exporter {
	e := &Exporter{
		decoder:       dec,
		backend:       backend,
		fs:            fs,
		logger:        slog.Default(),
		preset:        encode.PresetHighestQuality,
		fill:          encode.FillBlack,
		frameDuration: composition.DefaultFrameDuration,
		interval:      DefaultProgressInterval,
		classify:      func(error) string { return "" },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export starts composing clips per plan into destination and returns
// immediately. Cancelling ctx cancels the export.
// It returns ErrExportInProgress if another export has not finished.
func (e *Exporter) Export(ctx context.Context, clips []media.ClipSource, plan *layout.Plan, destination string, opts ...JobOption) (*Job, error) {
	e.mu.Lock()
	if e.active != nil {
		e.mu.Unlock()
		return nil, ErrExportInProgress
	}

	rec := job.New()
	rec.SetClips(clipRecords(clips, plan))
	if plan != nil {
		rec.OutputWidth = plan.OutputSize.Width
		rec.OutputHeight = plan.OutputSize.Height
		rec.Duration = plan.TotalDuration.Decimal()
	}
	for _, opt := range opts {
		opt(rec)
	}

	runCtx, cancel := context.WithCancel(ctx)
	j := &Job{
		rec:         rec,
		destination: destination,
		progress:    make(chan float64, 1),
		done:        make(chan struct{}),
		cancel:      cancel,
	}
	e.active = j
	e.mu.Unlock()

	e.logger.Info("export requested",
		slog.String("job_id", rec.ID),
		slog.Int("clips", len(clips)),
		slog.String("destination", destination),
	)
	e.notify(j)

	go e.run(runCtx, j, clips, plan)
	return j, nil
}

// run drives j to exactly one terminal state.
func (e *Exporter) run(ctx context.Context, j *Job, clips []media.ClipSource, plan *layout.Plan) {
	defer j.cancel()

	res := e.execute(ctx, j, clips, plan)

	switch res.Status {
	case job.StatusCompleted:
		_ = j.rec.Complete(res.OutputPath)
		e.logger.Info("export completed",
			slog.String("job_id", j.rec.ID),
			slog.String("output", res.OutputPath),
		)
	case job.StatusCancelled:
		_ = j.rec.Cancel()
		e.logger.Info("export cancelled", slog.String("job_id", j.rec.ID))
	default:
		_ = j.rec.Fail(e.classify(res.Err), res.Err.Error())
		e.logger.Error("export failed",
			slog.String("job_id", j.rec.ID),
			slog.String("error", res.Err.Error()),
		)
	}
	e.notify(j)

	close(j.progress)
	j.result = res

	e.mu.Lock()
	if e.active == j {
		e.active = nil
	}
	e.mu.Unlock()

	close(j.done)
}

func (e *Exporter) execute(ctx context.Context, j *Job, clips []media.ClipSource, plan *layout.Plan) Result {
	// --- Building ---
	tl, err := composition.Build(ctx, e.decoder, clips, plan, composition.WithFrameDuration(e.frameDuration))
	if ctx.Err() != nil {
		return cancelled()
	}
	if err != nil {
		return failed(err)
	}

	// --- Staging ---
	if err := e.stage(j.destination); err != nil {
		return failed(err)
	}
	if ctx.Err() != nil {
		return cancelled()
	}

	// --- Encoding ---
	if err := j.rec.StartEncoding(); err != nil {
		return failed(err)
	}
	e.notify(j)

	sess, err := e.backend.Start(ctx, encode.Request{
		Timeline:   tl,
		OutputPath: j.destination,
		Preset:     e.preset,
		Fill:       e.fill,
	})
	if err != nil {
		if ctx.Err() != nil {
			return cancelled()
		}
		return failed(err)
	}

	e.logger.Debug("encode started",
		slog.String("job_id", j.rec.ID),
		slog.String("duration", tl.Duration.Decimal()),
	)

	e.watch(ctx, j, sess)

	switch sess.Status() {
	case encode.StatusCompleted:
		e.emit(j, 1)
		return Result{Status: job.StatusCompleted, OutputPath: j.destination}
	case encode.StatusCancelled:
		e.discard(j)
		return cancelled()
	default:
		e.discard(j)
		err := sess.Err()
		if err == nil {
			err = encode.ErrEncodeFailed
		}
		return failed(err)
	}
}

// stage removes an existing file at destination.
func (e *Exporter) stage(destination string) error {
	exists, err := e.fs.Exists(destination)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDestinationConflict, err)
	}
	if !exists {
		return nil
	}
	if err := e.fs.Remove(destination); err != nil {
		return fmt.Errorf("%w: %w", ErrDestinationConflict, err)
	}
	e.logger.Debug("removed existing destination", slog.String("path", destination))
	return nil
}

// watch forwards session progress until the session is done. Progress is
// coalesced to one value per interval.
func (e *Exporter) watch(ctx context.Context, j *Job, sess encode.Session) {
	var tick <-chan time.Time
	if e.interval > 0 {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	progress := sess.Progress()
	stop := ctx.Done()
	pending, latest := false, 0.0

	for {
		select {
		case p, ok := <-progress:
			if !ok {
				progress = nil
				continue
			}
			if tick == nil {
				e.emit(j, p)
				continue
			}
			latest, pending = p, true
		case <-tick:
			if pending {
				e.emit(j, latest)
				pending = false
			}
		case <-stop:
			sess.Cancel()
			stop = nil
		case <-sess.Done():
			// Progress is closed before Done; take what is still buffered.
			if progress != nil {
				for p := range progress {
					latest, pending = p, true
				}
			}
			if pending && sess.Status() == encode.StatusCompleted {
				e.emit(j, latest)
			}
			return
		}
	}
}

// emit records p on the job and publishes it when it advances progress.
func (e *Exporter) emit(j *Job, p float64) {
	p, ok := encode.NormalizeProgress(p)
	if !ok || !j.rec.UpdateProgress(p) {
		return
	}
	j.publish(j.rec.GetProgress())
	e.notify(j)
}

// discard removes a partially written destination.
func (e *Exporter) discard(j *Job) {
	if err := e.fs.Remove(j.destination); err != nil {
		e.logger.Warn("failed to remove partial output",
			slog.String("job_id", j.rec.ID),
			slog.String("path", j.destination),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Exporter) notify(j *Job) {
	if e.observer != nil {
		e.observer(j.rec.Clone())
	}
}

func cancelled() Result {
	return Result{Status: job.StatusCancelled, Err: encode.ErrCancelled}
}

func failed(err error) Result {
	return Result{Status: job.StatusFailed, Err: err}
}

// clipRecords describes clips and their bands for the job record.
func clipRecords(clips []media.ClipSource, plan *layout.Plan) []job.Clip {
	records := make([]job.Clip, 0, len(clips))
	for i, c := range clips {
		rec := job.Clip{
			Index:      i,
			Identifier: c.Identifier,
			Width:      c.NaturalSize.Width,
			Height:     c.NaturalSize.Height,
			Duration:   c.Duration.String(),
		}
		if plan != nil && i < len(plan.Placements) {
			rec.BandY = plan.Placements[i].Band.Y
			rec.BandHeight = plan.Placements[i].Band.Height
		}
		records = append(records, rec)
	}
	return records
}
