package batch

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/menta2k/facecrop/pkg/geometry"
)

// Stage names a step of the per-image pipeline.
type Stage string

const (
	StageLoad     Stage = "load"
	StageDetect   Stage = "detect"
	StageGeometry Stage = "geometry"
	StageCrop     Stage = "crop"
	StageSave     Stage = "save"
)

// Status is the terminal state of one image.
type Status int

const (
	StatusPending Status = iota
	StatusSucceeded
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "pending"
	}
}

// StageError records which pipeline step failed for which image.
type StageError struct {
	Stage Stage
	Path  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Result is the outcome for a single source image.
type Result struct {
	Index  int
	Source string
	Output string
	Status Status
	Plan   geometry.Plan
	Err    *StageError
}

// Report summarises a run. Results are in source order.
type Report struct {
	RunID     string
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Failures  []*StageError
	Results   []Result
	Duration  time.Duration
}

// Err combines all per-image failures, or returns nil if there were none.
func (r Report) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, f)
	}
	return err
}

func (r *Report) collect(results []Result) {
	r.Results = results
	r.Total = len(results)
	for _, res := range results {
		switch res.Status {
		case StatusSucceeded:
			r.Succeeded++
		case StatusFailed:
			r.Failed++
			r.Failures = append(r.Failures, res.Err)
		default:
			r.Skipped++
		}
	}
}
