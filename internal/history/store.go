// Package history persists command results so they can be retrieved
// later by run ID.
package history

import (
	"errors"
	"time"

	"github.com/deixis/cmdrun/internal/runner"
)

// ErrNotFound is returned when no record exists for a run ID.
var ErrNotFound = errors.New("run not found")

// Store persists and retrieves run records.
type Store interface {
	Save(rec *Record) error
	Load(runID string) (*Record, error)
}

// Record is a stored command result.
type Record struct {
	runner.Result
	Start time.Time `json:"start"`
	Dir   string    `json:"dir,omitempty"` // working directory of the run
}

// NewRecord wraps res for storage. start is when the run began.
func NewRecord(res *runner.Result, start time.Time, dir string) *Record {
	return &Record{Result: *res, Start: start, Dir: dir}
}

// Stream returns the captured text of the named stream ("stdout" or
// "stderr"). ok is false for any other name.
func (r *Record) Stream(name string) (text string, ok bool) {
	switch name {
	case "stdout":
		return r.Stdout, true
	case "stderr":
		return r.Stderr, true
	default:
		return "", false
	}
}
