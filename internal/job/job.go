// Package job provides the CompositionJob aggregate tracking one collage export.
// It includes the Job entity with its state machine, as well as repository
// interfaces and implementations for persistence.
package job

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/maauso/videocollage/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusBuilding indicates the timeline is being composed.
	StatusBuilding Status = "BUILDING"
	// StatusEncoding indicates the encoder is writing the output.
	StatusEncoding Status = "ENCODING"
	// StatusCompleted indicates the output file was written.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the export failed.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the export was cancelled by the caller.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusBuilding:  {StatusEncoding, StatusFailed, StatusCancelled},
	StatusEncoding:  {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Clip records one source clip and the band it was placed in.
type Clip struct {
	// Index is the position of the clip in the input.
	Index int `json:"index"`
	// Identifier is the clip handle (a file path).
	Identifier string `json:"identifier"`
	// Width and Height are the natural size of the visual track.
	Width  int `json:"width"`
	Height int `json:"height"`
	// Duration is the rational clip duration, e.g. "7/1".
	Duration string `json:"duration"`
	// BandY and BandHeight locate the clip's band in the output frame.
	BandY      int `json:"band_y"`
	BandHeight int `json:"band_height"`
}

// Job represents a composition export.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Clips describes the inputs in band order.
	Clips []Clip
	// Progress is the normalized encode progress in [0, 1].
	Progress float64
	// ErrorKind classifies the failure when Status is FAILED.
	ErrorKind string
	// Error contains any error message if the job failed.
	Error string
	// OutputPath is the destination file, set once the job completed.
	OutputPath string
	// OutputWidth and OutputHeight are the render size.
	OutputWidth  int
	OutputHeight int
	// Duration is the composition duration as decimal seconds.
	Duration string
	// PushToLibrary indicates whether the output is saved to the media library.
	PushToLibrary bool
	// LibraryLocation is where the output was saved in the media library.
	LibraryLocation string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when encoding started.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial BUILDING status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial BUILDING status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusBuilding,
		Clips:     make([]Clip, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusEncoding:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// StartEncoding transitions the job from BUILDING to ENCODING.
func (j *Job) StartEncoding() error {
	return j.TransitionTo(StatusEncoding)
}

// Complete transitions the job to COMPLETED and records the output path.
func (j *Job) Complete(outputPath string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.OutputPath = outputPath
	j.Progress = 1
	return nil
}

// Fail transitions the job to FAILED with a failure kind and message.
func (j *Job) Fail(kind, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.ErrorKind = kind
	j.Error = errMsg
	return nil
}

// Cancel transitions the job to CANCELLED.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetClips sets the clips for this job.
func (j *Job) SetClips(clips []Clip) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Clips = clips
	j.UpdatedAt = time.Now()
}

// UpdateProgress records p if it advances the progress while encoding.
// NaN, decreasing values and updates outside ENCODING are ignored.
// It reports whether the progress changed.
func (j *Job) UpdateProgress(p float64) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status != StatusEncoding || math.IsNaN(p) {
		return false
	}
	p = math.Min(1, math.Max(0, p))
	if p <= j.Progress {
		return false
	}
	j.Progress = p
	j.UpdatedAt = time.Now()
	return true
}

// GetProgress returns the current progress (thread-safe).
func (j *Job) GetProgress() float64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Progress
}

// SetLibraryLocation records where the output was saved in the media library.
func (j *Job) SetLibraryLocation(location string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.LibraryLocation = location
	j.UpdatedAt = time.Now()
}

// SetLibraryError records a failure to save the output to the media library.
// The job status is left unchanged.
func (j *Job) SetLibraryError(errMsg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Error = errMsg
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted ||
		j.Status == StatusFailed ||
		j.Status == StatusCancelled
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	clips := make([]Clip, len(j.Clips))
	copy(clips, j.Clips)

	return &Job{
		ID:              j.ID,
		Status:          j.Status,
		Clips:           clips,
		Progress:        j.Progress,
		ErrorKind:       j.ErrorKind,
		Error:           j.Error,
		OutputPath:      j.OutputPath,
		OutputWidth:     j.OutputWidth,
		OutputHeight:    j.OutputHeight,
		Duration:        j.Duration,
		PushToLibrary:   j.PushToLibrary,
		LibraryLocation: j.LibraryLocation,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
	}
}
