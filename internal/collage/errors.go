package collage

import (
	"context"
	"errors"
	"fmt"

	"github.com/maauso/videocollage/internal/composition"
	"github.com/maauso/videocollage/internal/encode"
	"github.com/maauso/videocollage/internal/export"
	"github.com/maauso/videocollage/internal/layout"
	"github.com/maauso/videocollage/internal/media"
	"github.com/maauso/videocollage/internal/storage"
)

// Kind classifies a failed export for callers.
type Kind string

// Failure kinds.
const (
	KindEmptyInput               Kind = "EmptyInput"
	KindInvalidTrack             Kind = "InvalidTrack"
	KindTimelineBuildFailed      Kind = "TimelineBuildFailed"
	KindExportSessionUnavailable Kind = "ExportSessionUnavailable"
	KindEncodeFailed             Kind = "EncodeFailed"
	KindDestinationConflict      Kind = "DestinationConflict"
	KindExportInProgress         Kind = "ExportInProgress"
	KindCancelled                Kind = "Cancelled"
)

// Classify maps an error chain to its Kind. Unknown errors are EncodeFailed.
func Classify(err error) Kind {
	var buildErr *composition.BuildError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, encode.ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, export.ErrExportInProgress):
		return KindExportInProgress
	case errors.Is(err, layout.ErrEmptyInput):
		return KindEmptyInput
	case errors.As(err, &buildErr),
		errors.Is(err, composition.ErrTrackInsertion),
		errors.Is(err, composition.ErrPlanMismatch):
		return KindTimelineBuildFailed
	case errors.Is(err, layout.ErrInvalidTrack), errors.Is(err, media.ErrNoVisualTrack):
		return KindInvalidTrack
	case errors.Is(err, export.ErrDestinationConflict), errors.Is(err, storage.ErrInvalidName):
		return KindDestinationConflict
	case errors.Is(err, encode.ErrSessionUnavailable), errors.Is(err, layout.ErrInvalidOutputSize):
		return KindExportSessionUnavailable
	default:
		return KindEncodeFailed
	}
}

// Failure is the terminal Failed(kind, message) reported to callers.
type Failure struct {
	Kind Kind
	// ClipIndex is the offending clip, or -1 when the failure is not tied to one.
	ClipIndex int
	Err       error
}

// NewFailure classifies err and extracts the clip index it refers to.
func NewFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: Classify(err), ClipIndex: clipIndex(err), Err: err}
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func clipIndex(err error) int {
	var trackErr *layout.TrackError
	if errors.As(err, &trackErr) {
		return trackErr.Index
	}
	var buildErr *composition.BuildError
	if errors.As(err, &buildErr) {
		return buildErr.ClipIndex
	}
	return -1
}
