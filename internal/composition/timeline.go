// Package composition builds the in-memory timeline that combines source
// tracks and their layout transforms into one output over time.
package composition

import (
	"github.com/maauso/videocollage/internal/layout"
	"github.com/maauso/videocollage/internal/media"
)

// DefaultFrameDuration is the output frame duration (30 fps).
var DefaultFrameDuration = media.NewTime(1, 30)

// TimeRange is the half-open interval [Start, Start+Duration).
type TimeRange struct {
	Start    media.Time
	Duration media.Time
}

// End returns Start+Duration.
func (r TimeRange) End() media.Time {
	return r.Start.Add(r.Duration)
}

// Track is one composition track holding the full time range of a source clip.
type Track struct {
	// ID is the 1-based composition track ID.
	ID int
	// ClipIndex is the position of the source clip in the input.
	ClipIndex int
	// Source is the clip identifier.
	Source string
	// NaturalSize is the size of the source visual track.
	NaturalSize media.Size
	// SourceRange is the inserted range of the source, always [0, duration).
	SourceRange TimeRange
	// At is the composition time the range was inserted at.
	At media.Time
}

// LayerInstruction is the transform applied to one track over a time range.
type LayerInstruction struct {
	TrackID    int
	Band       layout.Band
	Transform  layout.Transform
	ScaledSize media.Size
	TimeRange  TimeRange
}

// Instruction aggregates the layer instructions for one time segment.
type Instruction struct {
	TimeRange TimeRange
	Layers    []LayerInstruction
}

// Timeline is a composed multi-track timeline ready for encoding.
type Timeline struct {
	RenderSize    media.Size
	FrameDuration media.Time
	// Duration is the length of the longest track.
	Duration     media.Time
	Tracks       []Track
	Instructions []Instruction
}

// TrackIndex returns the position in Tracks of the track with the given ID,
// or -1. Encoders number their inputs in the same order.
func (t *Timeline) TrackIndex(id int) int {
	for i, tr := range t.Tracks {
		if tr.ID == id {
			return i
		}
	}
	return -1
}
