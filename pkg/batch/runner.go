package batch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/facecrop/pkg/processing"
)

// Runner executes a Job.
type Runner struct {
	job       Job
	targets   []Target
	processor *processing.Processor
	logger    *zap.SugaredLogger
}

// NewRunner validates job and returns a runner for it.
func NewRunner(job Job, logger *zap.SugaredLogger) (*Runner, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Runner{
		job:       job,
		targets:   job.Targets(),
		processor: processing.NewProcessor(),
		logger:    logger,
	}, nil
}

// Run processes every source image. Per-image failures are recorded in the
// report and never abort the run. The returned error is non-nil only when
// ctx was cancelled; images not finished by then are counted as skipped.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	report := Report{RunID: uuid.NewString()}
	log := r.logger.With("run_id", report.RunID)

	log.Infow("starting batch",
		"images", len(r.job.Sources),
		"workers", r.job.workers(),
		"ratio", r.job.Ratio.String(),
		"policy", r.job.Policy.String(),
	)

	for i, t := range r.targets {
		if t.Renamed {
			log.Warnw("output name already taken, renamed", "path", r.job.Sources[i], "output", t.Output)
		}
	}

	results := make([]Result, len(r.job.Sources))
	g := new(errgroup.Group)
	g.SetLimit(r.job.workers())

	for i, src := range r.job.Sources {
		results[i] = Result{Index: i, Source: src, Status: StatusSkipped}
		if ctx.Err() != nil {
			continue
		}
		g.Go(func() error {
			results[i] = r.process(ctx, log, i, src)
			return nil
		})
	}
	_ = g.Wait()

	report.collect(results)
	report.Duration = time.Since(start)

	log.Infow("batch finished",
		"total", report.Total,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"duration", report.Duration,
	)
	return report, ctx.Err()
}

// process moves one image through Load, Detect, Geometry, Crop and Save.
func (r *Runner) process(ctx context.Context, log *zap.SugaredLogger, index int, src string) Result {
	res := Result{Index: index, Source: src}
	log = log.With("path", src)

	fail := func(stage Stage, err error) Result {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			res.Status = StatusSkipped
			return res
		}
		res.Status = StatusFailed
		res.Err = &StageError{Stage: stage, Path: src, Err: err}
		log.Warnw("image failed", "stage", stage, "error", err)
		return res
	}

	if err := ctx.Err(); err != nil {
		res.Status = StatusSkipped
		return res
	}

	img, _, err := r.processor.LoadImage(src)
	if err != nil {
		return fail(StageLoad, err)
	}

	out, err := Crop(ctx, img, r.job.Detector, r.job.Ratio, r.job.Policy, log)
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			return fail(se.Stage, se.Err)
		}
		return fail(StageCrop, err)
	}
	res.Plan = out.Plan

	target := r.targets[index]
	output := target.Output
	if err := ctx.Err(); err != nil {
		return fail(StageSave, err)
	}
	if err := r.processor.SaveImage(ctx, out.Image, output, target.Format, r.job.Quality, r.job.Lossless); err != nil {
		return fail(StageSave, err)
	}
	res.Output = output

	if target.Debug != "" {
		overlay := r.processor.CreateDebugOverlay(img, out.Faces, out.Plan.Rect)
		if err := r.processor.SaveImage(ctx, overlay, target.Debug, processing.FormatPNG, 0, false); err != nil {
			log.Warnw("failed to save debug overlay", "path", target.Debug, "error", err)
		}
	}

	log.Infow("saved result", "output", output, "faces", len(out.Faces), "crop", out.Plan.Rect.String())
	res.Status = StatusSucceeded
	return res
}
