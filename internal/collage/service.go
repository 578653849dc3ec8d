// Package collage is the entry point callers use to turn a list of clips into
// a stacked collage video. It loads and plans the clips, hands them to the
// exporter, keeps job records and saves finished outputs to the media library.
package collage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/maauso/videocollage/internal/encode"
	"github.com/maauso/videocollage/internal/export"
	"github.com/maauso/videocollage/internal/job"
	"github.com/maauso/videocollage/internal/layout"
	"github.com/maauso/videocollage/internal/media"
	"github.com/maauso/videocollage/internal/storage"
)

// DefaultOutputName is the output file name used when the caller gives none.
const DefaultOutputName = "collageVideo.mp4"

// Static errors for cancellation.
var (
	// ErrAlreadyFinished is returned when cancelling a job in a terminal state.
	ErrAlreadyFinished = errors.New("collage: export already finished")
	// ErrNotRunning is returned when cancelling a job that is not terminal but
	// is not owned by this service, such as a record left by another process.
	ErrNotRunning = errors.New("collage: export is not running")
)

// Request is one collage export request.
type Request struct {
	// Clips are the clip identifiers, top band first.
	Clips []string
	// OutputName is the output file name hint. Only its base name is used.
	OutputName string
	// PushToLibrary saves the finished output to the media library.
	PushToLibrary bool
}

// Options configures a Service.
type Options struct {
	OutputSize       media.Size
	OutputName       string
	Preset           encode.Preset
	Fill             encode.FillMode
	FrameDuration    media.Time
	ProgressInterval time.Duration
}

// Service plans and exports collages.
type Service struct {
	decoder    media.Decoder
	exporter   *export.Exporter
	store      storage.Storage
	repo       job.Repository
	logger     *slog.Logger
	outputSize media.Size
	outputName string

	mu sync.Mutex
	// busy is held from the start of PlanAndExport until the export and its
	// library save are finished, so a new export cannot reuse the output
	// path while the previous output is still being read.
	busy    bool
	running map[string]*export.Job
	wg      sync.WaitGroup
}

// NewService creates a Service. Exports are encoded by backend and written
// through store; job records are kept in repo.
func NewService(dec media.Decoder, backend encode.Backend, store storage.Storage, repo job.Repository, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.OutputName == "" {
		opts.OutputName = DefaultOutputName
	}

	s := &Service{
		decoder:    dec,
		store:      store,
		repo:       repo,
		logger:     logger,
		outputSize: opts.OutputSize,
		outputName: opts.OutputName,
		running:    make(map[string]*export.Job),
	}

	exporterOpts := []export.Option{
		export.WithLogger(logger),
		export.WithObserver(s.record),
		export.WithErrorClassifier(func(err error) string { return string(Classify(err)) }),
		export.WithProgressInterval(opts.ProgressInterval),
	}
	if opts.Preset != "" {
		exporterOpts = append(exporterOpts, export.WithPreset(opts.Preset))
	}
	if opts.Fill != "" {
		exporterOpts = append(exporterOpts, export.WithFillMode(opts.Fill))
	}
	if opts.FrameDuration.IsPositive() {
		exporterOpts = append(exporterOpts, export.WithFrameDuration(opts.FrameDuration))
	}
	s.exporter = export.NewExporter(dec, backend, store, exporterOpts...)

	return s
}

// PlanAndExport loads the clips, plans their bands and starts the export.
// Failures before the export starts are returned as *Failure; later
// outcomes arrive through the returned job. The export is not bound to ctx
// cancellation, only to Cancel.
func (s *Service) PlanAndExport(ctx context.Context, req Request) (*export.Job, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, NewFailure(export.ErrExportInProgress)
	}
	s.busy = true
	s.mu.Unlock()

	started := false
	defer func() {
		if !started {
			s.release()
		}
	}()

	clips := make([]media.ClipSource, 0, len(req.Clips))
	for i, id := range req.Clips {
		clip, err := media.LoadClip(ctx, s.decoder, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, NewFailure(ctx.Err())
			}
			if !errors.Is(err, media.ErrNoVisualTrack) {
				err = fmt.Errorf("%w: %w", layout.ErrInvalidTrack, err)
			}
			return nil, NewFailure(&layout.TrackError{Index: i, Err: err})
		}
		clips = append(clips, clip)
	}

	plan, err := layout.NewPlan(clips, s.outputSize)
	if err != nil {
		return nil, NewFailure(err)
	}

	name := req.OutputName
	if name == "" {
		name = s.outputName
	}
	destination, err := s.store.OutputPath(name)
	if err != nil {
		return nil, NewFailure(err)
	}

	// The job is registered under mu so Cancel cannot observe its record
	// before it can be cancelled.
	s.mu.Lock()
	ej, err := s.exporter.Export(context.WithoutCancel(ctx), clips, plan, destination, func(r *job.Job) {
		r.PushToLibrary = req.PushToLibrary
	})
	if err != nil {
		s.mu.Unlock()
		return nil, NewFailure(err)
	}
	s.running[ej.ID()] = ej
	s.wg.Add(1)
	s.mu.Unlock()

	started = true
	go s.finalize(ej)

	return ej, nil
}

// release frees the export slot.
func (s *Service) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// finalize waits for ej and saves a completed output to the media library.
func (s *Service) finalize(ej *export.Job) {
	defer s.wg.Done()
	<-ej.Done()

	res := ej.Result()
	snap := ej.Snapshot()

	if res.Status == job.StatusCompleted && snap.PushToLibrary {
		s.persist(snap, res.OutputPath)
	}

	s.mu.Lock()
	delete(s.running, ej.ID())
	s.busy = false
	s.mu.Unlock()
}

// persist copies the output into the library and records the location.
// The job stays COMPLETED either way.
func (s *Service) persist(snap *job.Job, outputPath string) {
	key := snap.ID + "/" + filepath.Base(outputPath)

	location, err := s.store.Persist(context.Background(), outputPath, key)
	if err != nil {
		s.logger.Error("failed to save output to library",
			slog.String("job_id", snap.ID),
			slog.String("error", err.Error()),
		)
		snap.SetLibraryError(fmt.Sprintf("save to library: %v", err))
	} else {
		s.logger.Info("output saved to library",
			slog.String("job_id", snap.ID),
			slog.String("location", location),
		)
		snap.SetLibraryLocation(location)
	}
	s.record(snap)
}

// record saves a job snapshot.
func (s *Service) record(snap *job.Job) {
	if err := s.repo.Save(context.Background(), snap); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", snap.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Exporting reports whether an export, including its library save, is in progress.
func (s *Service) Exporting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Get returns the job record with the given id.
func (s *Service) Get(ctx context.Context, id string) (*job.Job, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns all job records, oldest first.
func (s *Service) List(ctx context.Context) ([]*job.Job, error) {
	return s.repo.List(ctx)
}

// Cancel cancels the running export with the given id.
// It returns job.ErrJobNotFound for unknown ids, ErrAlreadyFinished for
// jobs in a terminal state and ErrNotRunning for other jobs this service does
// not run.
func (s *Service) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	ej, ok := s.running[id]
	s.mu.Unlock()

	if ok {
		select {
		case <-ej.Done():
		default:
			s.logger.Info("cancelling export", slog.String("job_id", id))
			ej.Cancel()
			return nil
		}
	}

	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.IsTerminal() {
		return ErrAlreadyFinished
	}
	return ErrNotRunning
}

// Shutdown cancels running exports and waits for them to finish or ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, ej := range s.running {
		ej.Cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
