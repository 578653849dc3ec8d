// Package server provides the HTTP surface for requesting and following
// collage exports. It includes handlers, middleware, routes, and DTOs
// separated from domain types.
package server

import "time"

// CreateExportRequest is the HTTP request body for starting an export.
type CreateExportRequest struct {
	// Clips are the clip paths, top band first.
	Clips []string `json:"clips" validate:"max=64,dive,required"`
	// OutputName is an optional output file name.
	OutputName string `json:"output_name" validate:"omitempty,max=255,excludesall=/\\"`
	// PushToLibrary saves the finished collage to the media library.
	PushToLibrary bool `json:"push_to_library"`
}

// CreateExportResponse is the HTTP response after starting an export.
type CreateExportResponse struct {
	// ID is the unique identifier for the export job.
	ID string `json:"id"`
	// Status is the job status when the response was written.
	Status string `json:"status"`
}

// ClipResponse describes one clip of an export.
type ClipResponse struct {
	Index      int    `json:"index"`
	Identifier string `json:"identifier"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Duration   string `json:"duration"`
	BandY      int    `json:"band_y"`
	BandHeight int    `json:"band_height"`
}

// ExportResponse is the HTTP response for getting export details.
type ExportResponse struct {
	// ID is the unique identifier for the export job.
	ID string `json:"id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Progress is the encode progress in [0, 1].
	Progress float64 `json:"progress"`
	// Clips describes the inputs and their bands.
	Clips []ClipResponse `json:"clips"`
	// OutputWidth and OutputHeight are the render size.
	OutputWidth  int `json:"output_width"`
	OutputHeight int `json:"output_height"`
	// Duration is the collage duration in seconds.
	Duration string `json:"duration,omitempty"`
	// OutputPath is the written file (if completed).
	OutputPath string `json:"output_path,omitempty"`
	// PushToLibrary indicates whether the output is saved to the media library.
	PushToLibrary bool `json:"push_to_library"`
	// LibraryLocation is where the output was saved in the media library.
	LibraryLocation string `json:"library_location,omitempty"`
	// ErrorKind classifies the failure (if failed).
	ErrorKind string `json:"error_kind,omitempty"`
	// Error contains any error message.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the export was requested.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the export reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListExportsResponse is the HTTP response for listing exports.
type ListExportsResponse struct {
	Exports []ExportResponse `json:"exports"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
	// ClipIndex is the offending clip, when the error refers to one.
	ClipIndex *int `json:"clip_index,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Exporting reports whether an export is running.
	Exporting bool `json:"exporting"`
}
