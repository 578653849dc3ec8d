// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/videocollage/internal/encode"
	"github.com/maauso/videocollage/internal/media"
	"github.com/maauso/videocollage/internal/storage"
)

// Static errors for configuration validation.
var (
	// ErrInvalidOutputSize is returned when OUTPUT_WIDTH or OUTPUT_HEIGHT is not positive.
	ErrInvalidOutputSize = errors.New("config: OUTPUT_WIDTH and OUTPUT_HEIGHT must be positive")
	// ErrInvalidFrameRate is returned when FRAME_RATE is outside [1, MaxFrameRate].
	ErrInvalidFrameRate = errors.New("config: FRAME_RATE must be between 1 and 240")
	// ErrInvalidPreset is returned when EXPORT_PRESET is unknown.
	ErrInvalidPreset = errors.New("config: EXPORT_PRESET must be one of highest, medium, low")
	// ErrInvalidFillMode is returned when FILL_MODE is unknown.
	ErrInvalidFillMode = errors.New("config: FILL_MODE must be one of black, hold, loop")
	// ErrInvalidProgressInterval is returned when PROGRESS_INTERVAL is negative.
	ErrInvalidProgressInterval = errors.New("config: PROGRESS_INTERVAL must not be negative")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Storage settings
	TempDir    string `env:"TEMP_DIR, default=/tmp/videocollage" json:"temp_dir"`
	LibraryDir string `env:"LIBRARY_DIR, default=/tmp/videocollage/library" json:"library_dir"`
	DBPath     string `env:"DB_PATH" json:"db_path,omitempty"` // Empty keeps job records in memory

	// Tooling
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Export settings
	OutputWidth      int           `env:"OUTPUT_WIDTH, default=1080" json:"output_width"`
	OutputHeight     int           `env:"OUTPUT_HEIGHT, default=1920" json:"output_height"`
	FrameRate        int           `env:"FRAME_RATE, default=30" json:"frame_rate"`
	ExportPreset     string        `env:"EXPORT_PRESET, default=highest" json:"export_preset"`
	FillMode         string        `env:"FILL_MODE, default=black" json:"fill_mode"`
	ProgressInterval time.Duration `env:"PROGRESS_INTERVAL, default=100ms" json:"progress_interval"`
	OutputName       string        `env:"OUTPUT_NAME, default=collageVideo.mp4" json:"output_name"`

	// Optional S3 media library settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3Prefix           string `env:"S3_PREFIX, default=collages" json:"s3_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// S3Config returns the S3 storage settings.
func (c *Config) S3Config() storage.S3Config {
	return storage.S3Config{
		Bucket:          c.S3Bucket,
		Region:          c.S3Region,
		Endpoint:        c.S3Endpoint,
		AccessKeyID:     c.AWSAccessKeyID,
		SecretAccessKey: c.AWSSecretAccessKey,
		Prefix:          c.S3Prefix,
	}
}

// OutputSize returns the render size of exported collages.
func (c *Config) OutputSize() media.Size {
	return media.Size{Width: c.OutputWidth, Height: c.OutputHeight}
}

// MaxFrameRate is the highest accepted FRAME_RATE.
const MaxFrameRate = 240

// FrameDuration returns the output frame duration, 1/FrameRate seconds.
func (c *Config) FrameDuration() media.Time {
	return media.NewTime(1, int32(c.FrameRate)) // #nosec G115 - bounded by Validate
}

// Preset returns the encoder preset.
func (c *Config) Preset() encode.Preset {
	return encode.Preset(strings.ToLower(c.ExportPreset))
}

// Fill returns the fill mode for bands whose clip ended.
func (c *Config) Fill() encode.FillMode {
	return encode.FillMode(strings.ToLower(c.FillMode))
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the export settings are usable.
func (c *Config) Validate() error {
	if c.OutputWidth <= 0 || c.OutputHeight <= 0 {
		return ErrInvalidOutputSize
	}
	if c.FrameRate <= 0 || c.FrameRate > MaxFrameRate {
		return ErrInvalidFrameRate
	}
	if !c.Preset().IsValid() {
		return ErrInvalidPreset
	}
	if !c.Fill().IsValid() {
		return ErrInvalidFillMode
	}
	if c.ProgressInterval < 0 {
		return ErrInvalidProgressInterval
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, LibraryDir: %s, DBPath: %s, Output: %dx%d@%d, Preset: %s, Fill: %s, ProgressInterval: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.LibraryDir,
		c.DBPath,
		c.OutputWidth,
		c.OutputHeight,
		c.FrameRate,
		c.ExportPreset,
		c.FillMode,
		c.ProgressInterval,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
