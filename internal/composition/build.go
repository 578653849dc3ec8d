package composition

import (
	"context"
	"errors"
	"fmt"

	"github.com/maauso/videocollage/internal/layout"
	"github.com/maauso/videocollage/internal/media"
)

// Static errors for timeline construction.
var (
	// ErrTrackInsertion is returned when a source range cannot be inserted into a track.
	ErrTrackInsertion = errors.New("composition: track insertion rejected")
	// ErrPlanMismatch is returned when the plan does not have one placement per clip.
	ErrPlanMismatch = errors.New("composition: plan does not match clips")
)

// BuildError reports the clip whose track could not be built.
type BuildError struct {
	ClipIndex int
	Err       error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build timeline: clip %d: %v", e.ClipIndex, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Option configures Build.
type Option func(*builder)

// WithFrameDuration sets the output frame duration.
func WithFrameDuration(d media.Time) Option {
	return func(b *builder) {
		if d.IsPositive() {
			b.frameDuration = d
		}
	}
}

type builder struct {
	frameDuration media.Time
}

// Build opens every clip through dec and composes a timeline where all tracks
// start at composition time zero and play concurrently, each stacked in the
// band the plan assigns to it.
//
// Any failure aborts the build and discards the partial timeline. Failures
// tied to a clip are returned as *BuildError. A cancelled ctx returns
// ctx.Err() without touching the remaining clips.
func Build(ctx context.Context, dec media.Decoder, clips []media.ClipSource, plan *layout.Plan, opts ...Option) (*Timeline, error) {
	if plan == nil || len(plan.Placements) != len(clips) {
		return nil, ErrPlanMismatch
	}

	b := builder{frameDuration: DefaultFrameDuration}
	for _, opt := range opts {
		opt(&b)
	}

	full := TimeRange{Start: media.Zero, Duration: plan.TotalDuration}
	tracks := make([]Track, 0, len(clips))
	layers := make([]LayerInstruction, 0, len(clips))

	for i, clip := range clips {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := dec.Probe(ctx, clip.Identifier)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &BuildError{ClipIndex: i, Err: err}
		}
		if !info.VisualTrackPresent {
			return nil, &BuildError{ClipIndex: i, Err: media.ErrNoVisualTrack}
		}

		track := Track{
			ID:          i + 1,
			ClipIndex:   i,
			Source:      clip.Identifier,
			NaturalSize: info.NaturalSize,
			At:          media.Zero,
		}
		if err := insertTimeRange(&track, TimeRange{Start: media.Zero, Duration: clip.Duration}, info.Duration); err != nil {
			return nil, &BuildError{ClipIndex: i, Err: err}
		}

		p := plan.Placements[i]
		tracks = append(tracks, track)
		layers = append(layers, LayerInstruction{
			TrackID:    track.ID,
			Band:       p.Band,
			Transform:  p.Transform,
			ScaledSize: p.ScaledSize,
			TimeRange:  full,
		})
	}

	return &Timeline{
		RenderSize:    plan.OutputSize,
		FrameDuration: b.frameDuration,
		Duration:      plan.TotalDuration,
		Tracks:        tracks,
		Instructions:  []Instruction{{TimeRange: full, Layers: layers}},
	}, nil
}

// insertTimeRange places r of a source lasting sourceDuration into track.
func insertTimeRange(track *Track, r TimeRange, sourceDuration media.Time) error {
	if !r.Duration.IsPositive() {
		return fmt.Errorf("%w: empty range %s", ErrTrackInsertion, r.Duration)
	}
	if r.End().Compare(sourceDuration) > 0 {
		return fmt.Errorf("%w: range ends at %s past source duration %s",
			ErrTrackInsertion, r.End().Decimal(), sourceDuration.Decimal())
	}
	track.SourceRange = r
	return nil
}
