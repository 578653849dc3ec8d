// Package layout computes how N clips are stacked into equal horizontal bands
// of one output frame.
//
// Planning is pure: no I/O, no state. The same input always yields the same plan.
package layout

import (
	"errors"
	"fmt"

	"github.com/maauso/videocollage/internal/media"
)

// Static errors for layout planning.
var (
	// ErrEmptyInput is returned when no clips are supplied.
	ErrEmptyInput = errors.New("layout: no clips supplied")
	// ErrInvalidTrack is returned when a clip reports a degenerate natural size.
	ErrInvalidTrack = errors.New("layout: invalid track")
	// ErrInvalidOutputSize is returned when the output size is not strictly positive.
	ErrInvalidOutputSize = errors.New("layout: output size must be positive")
)

// TrackError reports which clip failed validation.
type TrackError struct {
	Index int
	Err   error
}

func (e *TrackError) Error() string {
	return fmt.Sprintf("clip %d: %v", e.Index, e.Err)
}

func (e *TrackError) Unwrap() error {
	return e.Err
}

// Transform is an affine map from a clip's natural frame into the output frame:
// x' = ScaleX*x + TranslateX, y' = ScaleY*y + TranslateY.
type Transform struct {
	ScaleX     float64 `json:"scale_x"`
	ScaleY     float64 `json:"scale_y"`
	TranslateX float64 `json:"translate_x"`
	TranslateY float64 `json:"translate_y"`
}

// Apply maps the point (x, y).
func (t Transform) Apply(x, y float64) (float64, float64) {
	return t.ScaleX*x + t.TranslateX, t.ScaleY*y + t.TranslateY
}

// Band is a horizontal strip [Y, Y+Height) spanning the full output width.
type Band struct {
	Index  int `json:"index"`
	Y      int `json:"y"`
	Height int `json:"height"`
}

// Placement positions one clip in its band.
type Placement struct {
	// BandIndex is the 0-based vertical slot, 0 being the top.
	BandIndex int
	// Band is the strip of the output frame the clip fills.
	Band Band
	// Transform maps the clip's natural rectangle onto Band.
	Transform Transform
	// ScaledSize is the clip size after applying Transform.
	ScaledSize media.Size
}

// Plan is the output of NewPlan: one placement per clip plus the aggregate
// duration of the composition.
type Plan struct {
	OutputSize media.Size
	Placements []Placement
	// TotalDuration is the maximum clip duration.
	TotalDuration media.Time
}

// NewPlan computes the band layout for clips in order.
//
// The output height is split into len(clips) bands of H/N pixels; the last
// band absorbs the remainder so heights sum exactly to H. Each clip is
// stretched non-uniformly to fill its band.
func NewPlan(clips []media.ClipSource, outputSize media.Size) (*Plan, error) {
	if len(clips) == 0 {
		return nil, ErrEmptyInput
	}
	if !outputSize.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOutputSize, outputSize)
	}
	if outputSize.Height < len(clips) {
		return nil, fmt.Errorf("%w: height %d cannot hold %d bands", ErrInvalidOutputSize, outputSize.Height, len(clips))
	}

	for i, c := range clips {
		if !c.NaturalSize.IsPositive() {
			return nil, &TrackError{
				Index: i,
				Err:   fmt.Errorf("%w: natural size %s", ErrInvalidTrack, c.NaturalSize),
			}
		}
		if !c.Duration.IsValid() {
			return nil, &TrackError{
				Index: i,
				Err:   fmt.Errorf("%w: duration %s", ErrInvalidTrack, c.Duration),
			}
		}
	}

	bands := Bands(len(clips), outputSize.Height)
	placements := make([]Placement, len(clips))
	durations := make([]media.Time, len(clips))

	for i, c := range clips {
		b := bands[i]
		placements[i] = Placement{
			BandIndex: i,
			Band:      b,
			Transform: Transform{
				ScaleX:     float64(outputSize.Width) / float64(c.NaturalSize.Width),
				ScaleY:     float64(b.Height) / float64(c.NaturalSize.Height),
				TranslateX: 0,
				TranslateY: float64(b.Y),
			},
			ScaledSize: media.Size{Width: outputSize.Width, Height: b.Height},
		}
		durations[i] = c.Duration
	}

	return &Plan{
		OutputSize:    outputSize,
		Placements:    placements,
		TotalDuration: media.MaxTime(durations...),
	}, nil
}

// Bands partitions height into n gapless strips ordered top to bottom.
// Every band is height/n tall except the last, which takes the remainder.
// It returns nil when n is not positive.
func Bands(n, height int) []Band {
	if n <= 0 {
		return nil
	}
	base := height / n
	bands := make([]Band, n)
	for i := range bands {
		h := base
		if i == n-1 {
			h = height - base*(n-1)
		}
		bands[i] = Band{Index: i, Y: base * i, Height: h}
	}
	return bands
}
