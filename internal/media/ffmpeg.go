package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os/exec"
)

// ErrFFprobeExecution is returned when the ffprobe command fails.
var ErrFFprobeExecution = errors.New("ffprobe execution failed")

// Compile-time check that FFprobeDecoder implements Decoder.
var _ Decoder = (*FFprobeDecoder)(nil)

// FFprobeDecoder implements Decoder using the ffprobe CLI.
type FFprobeDecoder struct {
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewFFprobeDecoder creates a new FFprobeDecoder.
// If ffprobePath is empty, it defaults to "ffprobe" (found via PATH).
func NewFFprobeDecoder(ffprobePath string) *FFprobeDecoder {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFprobeDecoder{ffprobePath: ffprobePath}
}

// Probe runs a single ffprobe JSON call against identifier and describes its
// first visual track.
func (d *FFprobeDecoder) Probe(ctx context.Context, identifier string) (TrackInfo, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, d.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		identifier,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return TrackInfo{}, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return TrackInfo{}, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	return ParseProbeJSON(stdout.Bytes())
}

// ParseProbeJSON converts raw ffprobe JSON output into a TrackInfo.
// Exported for testing without a real ffprobe binary.
func ParseProbeJSON(data []byte) (TrackInfo, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return TrackInfo{}, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	for i := range raw.Streams {
		s := &raw.Streams[i]
		if s.CodecType != "video" || s.Disposition["attached_pic"] == 1 {
			continue
		}
		duration, err := streamDuration(s, &raw.Format)
		if err != nil {
			return TrackInfo{}, err
		}
		return TrackInfo{
			VisualTrackPresent: true,
			NaturalSize:        Size{Width: s.Width, Height: s.Height},
			Duration:           duration,
			Codec:              s.CodecName,
			FrameRate:          s.AvgFrameRate,
		}, nil
	}

	return TrackInfo{VisualTrackPresent: false}, nil
}

// streamDuration prefers the exact duration_ts*time_base of the stream and
// falls back to the decimal stream or container duration.
func streamDuration(s *ffprobeStream, f *ffprobeFormat) (Time, error) {
	if s.DurationTS > 0 && s.TimeBase != "" {
		if tb, err := ParseRational(s.TimeBase); err == nil {
			d := new(big.Rat).Mul(big.NewRat(s.DurationTS, 1), tb)
			return fromRat(d), nil
		}
	}
	for _, v := range []string{s.Duration, f.Duration} {
		if v == "" || v == "N/A" {
			continue
		}
		return ParseDecimalSeconds(v)
	}
	return Time{}, fmt.Errorf("%w: stream %d has no duration", ErrInvalidTime, s.Index)
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Filename string `json:"filename"`
	Duration string `json:"duration"`
}

type ffprobeStream struct {
	Index        int            `json:"index"`
	CodecName    string         `json:"codec_name"`
	CodecType    string         `json:"codec_type"`
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	AvgFrameRate string         `json:"avg_frame_rate"`
	TimeBase     string         `json:"time_base"`
	DurationTS   int64          `json:"duration_ts"`
	Duration     string         `json:"duration"`
	Disposition  map[string]int `json:"disposition"`
}
