// Package bootstrap provides dependency initialization for the collage export server.
package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/maauso/videocollage/internal/collage"
	"github.com/maauso/videocollage/internal/config"
	"github.com/maauso/videocollage/internal/encode"
	"github.com/maauso/videocollage/internal/job"
	"github.com/maauso/videocollage/internal/media"
	"github.com/maauso/videocollage/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	CollageService *collage.Service

	closers []func() error
}

// Close releases resources held by the dependencies.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize job repository
	repo, err := initRepository(cfg, logger, deps)
	if err != nil {
		return nil, err
	}

	// Initialize decoder and encode backend
	decoder := media.NewFFprobeDecoder(cfg.FFprobePath)
	backend := encode.NewFFmpegBackend(cfg.FFmpegPath, logger)

	deps.CollageService = collage.NewService(decoder, backend, store, repo, logger, collage.Options{
		OutputSize:       cfg.OutputSize(),
		OutputName:       cfg.OutputName,
		Preset:           cfg.Preset(),
		Fill:             cfg.Fill(),
		FrameDuration:    cfg.FrameDuration(),
		ProgressInterval: cfg.ProgressInterval,
	})

	return deps, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Store, err := storage.NewS3Storage(cfg.TempDir, cfg.S3Config())
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 library configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("prefix", cfg.S3Prefix),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir, cfg.LibraryDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local library configured",
		slog.String("temp_dir", localStore.TempDir()),
		slog.String("library_dir", localStore.LibraryDir()),
	)
	return localStore, nil
}

// initRepository opens the SQLite job store when DB_PATH is set and falls
// back to an in-memory store otherwise.
func initRepository(cfg *config.Config, logger *slog.Logger, deps *Dependencies) (job.Repository, error) {
	if cfg.DBPath == "" {
		logger.Info("job records kept in memory")
		return job.NewMemoryRepository(), nil
	}

	repo, err := job.NewSQLiteRepository(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open job database: %w", err)
	}
	deps.closers = append(deps.closers, repo.Close)
	logger.Info("job records stored in SQLite", slog.String("path", cfg.DBPath))
	return repo, nil
}
