package export

import (
	"context"

	"github.com/maauso/videocollage/internal/job"
)

// Result is the terminal outcome of an export.
type Result struct {
	// Status is COMPLETED, FAILED or CANCELLED.
	Status job.Status
	// OutputPath is the destination, set only when Status is COMPLETED.
	OutputPath string
	// Err is the failure cause. Cancelled exports carry encode.ErrCancelled.
	Err error
}

// Job is a running export.
type Job struct {
	rec         *job.Job
	destination string

	progress chan float64
	done     chan struct{}
	cancel   context.CancelFunc

	// result is written once before done is closed.
	result Result
}

// ID returns the job identifier.
func (j *Job) ID() string {
	return j.rec.ID
}

// Destination returns the output path.
func (j *Job) Destination() string {
	return j.destination
}

// Progress delivers non-decreasing progress values in [0, 1]. Only the
// latest unread value is kept. The channel is closed before Done.
func (j *Job) Progress() <-chan float64 {
	return j.progress
}

// Done is closed once the export reached a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Result returns the terminal outcome. It is only meaningful after Done is closed.
func (j *Job) Result() Result {
	select {
	case <-j.done:
		return j.result
	default:
		return Result{Status: j.rec.GetStatus()}
	}
}

// Wait blocks until the export finishes or ctx is done.
func (j *Job) Wait(ctx context.Context) (Result, error) {
	select {
	case <-j.done:
		return j.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel requests cancellation. It has no effect once the export finished.
func (j *Job) Cancel() {
	j.cancel()
}

// Snapshot returns a copy of the job record.
func (j *Job) Snapshot() *job.Job {
	return j.rec.Clone()
}

// publish replaces any unread progress value with p.
func (j *Job) publish(p float64) {
	select {
	case <-j.progress:
	default:
	}
	j.progress <- p
}
