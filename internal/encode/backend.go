// Package encode renders a composed timeline to a video file.
// It defines the Backend and Session ports and an implementation backed by
// the ffmpeg CLI that pushes progress as the encode advances.
package encode

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/maauso/videocollage/internal/composition"
)

// Static errors for encode operations.
var (
	// ErrSessionUnavailable is returned when a session cannot be created for the given inputs.
	ErrSessionUnavailable = errors.New("encode: export session unavailable")
	// ErrEncodeFailed is returned when the encoder reports a failure mid-job.
	ErrEncodeFailed = errors.New("encode: encode failed")
	// ErrCancelled is reported by a session that was cancelled before finishing.
	ErrCancelled = errors.New("encode: cancelled")
)

// Preset selects encoder quality settings.
type Preset string

const (
	// PresetHighestQuality favours quality over speed.
	PresetHighestQuality Preset = "highest"
	// PresetMedium balances quality and speed.
	PresetMedium Preset = "medium"
	// PresetLow favours speed.
	PresetLow Preset = "low"
)

// IsValid returns true if the preset is known.
func (p Preset) IsValid() bool {
	return p == PresetHighestQuality || p == PresetMedium || p == PresetLow
}

// FillMode decides what a band shows after its clip ends and before the
// composition does.
type FillMode string

const (
	// FillBlack leaves the band black once the clip has ended.
	FillBlack FillMode = "black"
	// FillHold holds the clip's last frame.
	FillHold FillMode = "hold"
	// FillLoop restarts the clip from the beginning.
	FillLoop FillMode = "loop"
)

// IsValid returns true if the fill mode is known.
func (m FillMode) IsValid() bool {
	return m == FillBlack || m == FillHold || m == FillLoop
}

// Status is the state of an encode session.
type Status string

const (
	// StatusExporting indicates the encoder is running.
	StatusExporting Status = "EXPORTING"
	// StatusCompleted indicates the output file was written.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the encoder failed.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the session was cancelled.
	StatusCancelled Status = "CANCELLED"
)

// Request describes one encode.
type Request struct {
	Timeline   *composition.Timeline
	OutputPath string
	Preset     Preset
	Fill       FillMode
}

// Validate checks that the request can be turned into a session.
// Failures wrap ErrSessionUnavailable.
func (r Request) Validate() error {
	switch {
	case r.Timeline == nil:
		return fmt.Errorf("%w: no timeline", ErrSessionUnavailable)
	case len(r.Timeline.Tracks) == 0:
		return fmt.Errorf("%w: timeline has no tracks", ErrSessionUnavailable)
	case len(r.Timeline.Instructions) != 1 || len(r.Timeline.Instructions[0].Layers) != len(r.Timeline.Tracks):
		return fmt.Errorf("%w: timeline needs one instruction covering every track", ErrSessionUnavailable)
	case !r.Timeline.RenderSize.IsPositive():
		return fmt.Errorf("%w: render size %s", ErrSessionUnavailable, r.Timeline.RenderSize)
	case !r.Timeline.Duration.IsPositive():
		return fmt.Errorf("%w: duration %s", ErrSessionUnavailable, r.Timeline.Duration)
	case !r.Timeline.FrameDuration.IsPositive():
		return fmt.Errorf("%w: frame duration %s", ErrSessionUnavailable, r.Timeline.FrameDuration)
	case r.OutputPath == "":
		return fmt.Errorf("%w: output path is required", ErrSessionUnavailable)
	case !r.Preset.IsValid():
		return fmt.Errorf("%w: unknown preset %q", ErrSessionUnavailable, r.Preset)
	case !r.Fill.IsValid():
		return fmt.Errorf("%w: unknown fill mode %q", ErrSessionUnavailable, r.Fill)
	}
	return nil
}

// Session is a running encode.
type Session interface {
	// Progress delivers normalized progress in [0, 1], non-decreasing.
	// Only the latest unread value is kept. The channel is closed when the
	// session ends, before Done is closed.
	Progress() <-chan float64

	// Done is closed once the session reaches a terminal status.
	Done() <-chan struct{}

	// Status returns the current status.
	Status() Status

	// Err returns the failure cause once Done is closed, nil on success.
	Err() error

	// Cancel stops the encode. It is safe to call more than once and after
	// completion.
	Cancel()
}

// Backend starts encode sessions.
type Backend interface {
	// Start begins encoding req without blocking. It returns an error
	// wrapping ErrSessionUnavailable when no session can be created.
	Start(ctx context.Context, req Request) (Session, error)
}

// NormalizeProgress clamps p to [0, 1]. It reports false for NaN.
func NormalizeProgress(p float64) (float64, bool) {
	if math.IsNaN(p) {
		return 0, false
	}
	return math.Min(1, math.Max(0, p)), true
}
