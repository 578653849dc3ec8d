package collage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maauso/videocollage/internal/composition"
	"github.com/maauso/videocollage/internal/encode"
	"github.com/maauso/videocollage/internal/export"
	"github.com/maauso/videocollage/internal/layout"
	"github.com/maauso/videocollage/internal/media"
	"github.com/maauso/videocollage/internal/storage"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"empty input", layout.ErrEmptyInput, KindEmptyInput},
		{"degenerate size", &layout.TrackError{Index: 1, Err: layout.ErrInvalidTrack}, KindInvalidTrack},
		{"no visual track at load", &layout.TrackError{Index: 0, Err: media.ErrNoVisualTrack}, KindInvalidTrack},
		{"no visual track at build", &composition.BuildError{ClipIndex: 2, Err: media.ErrNoVisualTrack}, KindTimelineBuildFailed},
		{"insertion rejected", &composition.BuildError{ClipIndex: 0, Err: composition.ErrTrackInsertion}, KindTimelineBuildFailed},
		{"plan mismatch", composition.ErrPlanMismatch, KindTimelineBuildFailed},
		{"session unavailable", fmt.Errorf("%w: start ffmpeg: not found", encode.ErrSessionUnavailable), KindExportSessionUnavailable},
		{"invalid output size", layout.ErrInvalidOutputSize, KindExportSessionUnavailable},
		{"encode failed", fmt.Errorf("%w: exit status 1", encode.ErrEncodeFailed), KindEncodeFailed},
		{"destination conflict", fmt.Errorf("%w: permission denied", export.ErrDestinationConflict), KindDestinationConflict},
		{"invalid output name", storage.ErrInvalidName, KindDestinationConflict},
		{"in progress", export.ErrExportInProgress, KindExportInProgress},
		{"cancelled session", encode.ErrCancelled, KindCancelled},
		{"cancelled context", context.Canceled, KindCancelled},
		{"unknown", errors.New("boom"), KindEncodeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestNewFailure(t *testing.T) {
	t.Run("track error carries clip index", func(t *testing.T) {
		f := NewFailure(&layout.TrackError{Index: 1, Err: layout.ErrInvalidTrack})
		assert.Equal(t, KindInvalidTrack, f.Kind)
		assert.Equal(t, 1, f.ClipIndex)
		assert.ErrorIs(t, f, layout.ErrInvalidTrack)
		assert.Contains(t, f.Error(), "InvalidTrack")
	})

	t.Run("build error carries clip index", func(t *testing.T) {
		f := NewFailure(&composition.BuildError{ClipIndex: 2, Err: composition.ErrTrackInsertion})
		assert.Equal(t, KindTimelineBuildFailed, f.Kind)
		assert.Equal(t, 2, f.ClipIndex)
	})

	t.Run("no clip", func(t *testing.T) {
		f := NewFailure(layout.ErrEmptyInput)
		assert.Equal(t, -1, f.ClipIndex)
	})

	t.Run("existing failure is returned as is", func(t *testing.T) {
		orig := &Failure{Kind: KindCancelled, ClipIndex: -1, Err: encode.ErrCancelled}
		assert.Same(t, orig, NewFailure(fmt.Errorf("wrapped: %w", orig)))
	})
}
