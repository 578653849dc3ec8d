// Package media provides clip descriptors, rational media time and the
// decoder port used to inspect source clips.
package media

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoVisualTrack is returned when a clip exposes no decodable video track.
var ErrNoVisualTrack = errors.New("media: clip has no visual track")

// Size is a pixel size.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsPositive reports whether both dimensions are strictly positive.
func (s Size) IsPositive() bool {
	return s.Width > 0 && s.Height > 0
}

// String returns "WxH".
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ClipSource describes one input clip as reported by the decoder.
type ClipSource struct {
	// Identifier is the opaque handle (a file path for the ffmpeg backend).
	Identifier string
	// NaturalSize is the size of the clip's visual track.
	NaturalSize Size
	// Duration is the clip length.
	Duration Time
}

// TrackInfo is what a Decoder reports about a clip.
type TrackInfo struct {
	// VisualTrackPresent is false when the media has no usable video stream.
	VisualTrackPresent bool
	// NaturalSize is the size of the first visual track.
	NaturalSize Size
	// Duration is the length of the first visual track.
	Duration Time
	// Codec is the codec name of the first visual track.
	Codec string
	// FrameRate is the average frame rate as reported by the decoder, e.g. "30/1".
	FrameRate string
}

// Decoder defines the interface for inspecting source clips.
// Implementations open the media identified by identifier and describe its
// first visual track.
type Decoder interface {
	// Probe opens the media and reports its visual track. Unreadable media
	// is an error; media without a visual track is reported through
	// TrackInfo.VisualTrackPresent rather than an error.
	Probe(ctx context.Context, identifier string) (TrackInfo, error)
}

// LoadClip probes identifier and returns its ClipSource.
// It returns ErrNoVisualTrack when the media has no visual track.
func LoadClip(ctx context.Context, dec Decoder, identifier string) (ClipSource, error) {
	info, err := dec.Probe(ctx, identifier)
	if err != nil {
		return ClipSource{}, err
	}
	if !info.VisualTrackPresent {
		return ClipSource{}, fmt.Errorf("%w: %s", ErrNoVisualTrack, identifier)
	}
	return ClipSource{
		Identifier:  identifier,
		NaturalSize: info.NaturalSize,
		Duration:    info.Duration,
	}, nil
}
