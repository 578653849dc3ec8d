package job

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Compile-time check that SQLiteRepository implements Repository.
var _ Repository = (*SQLiteRepository)(nil)

// SQLiteRepository persists jobs in a SQLite database.
type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteRepository opens (or creates) the database at dbPath, applies
// pending migrations and fails any job left running by a previous process.
func NewSQLiteRepository(dbPath string, logger *slog.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	r := &SQLiteRepository{db: conn, logger: logger}

	if err := r.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := r.markInterruptedJobs(); err != nil {
		logger.Warn("failed to mark interrupted jobs", slog.String("error", err.Error()))
	}

	return r, nil
}

// Close closes the underlying database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) migrate() error {
	migrations, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, m := range migrations {
		if m.IsDir() {
			continue
		}

		name := m.Name()
		if r.isMigrationApplied(name) {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		if _, err := r.db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}

		if _, err := r.db.Exec("INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", name, err)
		}

		r.logger.Info("applied migration", slog.String("name", name))
	}

	return nil
}

func (r *SQLiteRepository) isMigrationApplied(name string) bool {
	var exists int
	err := r.db.QueryRow("SELECT 1 FROM sqlite_master WHERE type='table' AND name='_migrations'").Scan(&exists)
	if err != nil {
		return false
	}

	var applied int
	err = r.db.QueryRow("SELECT 1 FROM _migrations WHERE name = ?", name).Scan(&applied)
	return err == nil && applied == 1
}

// markInterruptedJobs fails jobs whose encoder died with the previous process.
func (r *SQLiteRepository) markInterruptedJobs() error {
	now := formatTime(time.Now())
	_, err := r.db.ExecContext(context.Background(), `
		UPDATE export_jobs
		SET status = ?, error_kind = 'EncodeFailed', error = 'interrupted by restart', updated_at = ?, completed_at = ?
		WHERE status IN (?, ?)
	`, StatusFailed, now, now, StatusBuilding, StatusEncoding)
	return err
}

// Save inserts or replaces the job row.
func (r *SQLiteRepository) Save(ctx context.Context, job *Job) error {
	j := job.Clone()

	clips, err := json.Marshal(j.Clips)
	if err != nil {
		return fmt.Errorf("encode clips: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO export_jobs (
			id, status, clips, progress, error_kind, error, output_path,
			output_width, output_height, duration, push_to_library, library_location,
			created_at, updated_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			clips = excluded.clips,
			progress = excluded.progress,
			error_kind = excluded.error_kind,
			error = excluded.error,
			output_path = excluded.output_path,
			output_width = excluded.output_width,
			output_height = excluded.output_height,
			duration = excluded.duration,
			push_to_library = excluded.push_to_library,
			library_location = excluded.library_location,
			updated_at = excluded.updated_at,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`,
		j.ID, j.Status, string(clips), j.Progress,
		nullString(j.ErrorKind), nullString(j.Error), nullString(j.OutputPath),
		j.OutputWidth, j.OutputHeight, nullString(j.Duration),
		boolToInt(j.PushToLibrary), nullString(j.LibraryLocation),
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt),
		nullTime(j.StartedAt), nullTime(j.CompletedAt),
	)
	return err
}

const selectJobColumns = `
	SELECT id, status, clips, progress, error_kind, error, output_path,
		output_width, output_height, duration, push_to_library, library_location,
		created_at, updated_at, started_at, completed_at
	FROM export_jobs`

// FindByID returns the job with the given id or ErrJobNotFound.
func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, selectJobColumns+" WHERE id = ?", id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return j, err
}

// List returns all jobs, oldest first.
func (r *SQLiteRepository) List(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, selectJobColumns+" ORDER BY created_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]*Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j                             Job
		status, clips                 string
		errorKind, errMsg, outputPath sql.NullString
		duration, libraryLocation     sql.NullString
		pushToLibrary                 int
		createdAt, updatedAt          string
		startedAt, completedAt        sql.NullString
	)

	err := row.Scan(&j.ID, &status, &clips, &j.Progress, &errorKind, &errMsg, &outputPath,
		&j.OutputWidth, &j.OutputHeight, &duration, &pushToLibrary, &libraryLocation,
		&createdAt, &updatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	j.Status = Status(status)
	if err := json.Unmarshal([]byte(clips), &j.Clips); err != nil {
		return nil, fmt.Errorf("decode clips of %s: %w", j.ID, err)
	}
	if j.Clips == nil {
		j.Clips = make([]Clip, 0)
	}
	j.ErrorKind = errorKind.String
	j.Error = errMsg.String
	j.OutputPath = outputPath.String
	j.Duration = duration.String
	j.PushToLibrary = pushToLibrary == 1
	j.LibraryLocation = libraryLocation.String
	j.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	j.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	if startedAt.Valid {
		j.StartedAt, _ = time.Parse(timeLayout, startedAt.String)
	}
	if completedAt.Valid {
		j.CompletedAt, _ = time.Parse(timeLayout, completedAt.String)
	}
	return &j, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
