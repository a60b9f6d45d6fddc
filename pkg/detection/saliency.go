package detection

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/muesli/smartcrop"
	"go.uber.org/zap"

	"github.com/menta2k/facecrop/pkg/geometry"
	"github.com/menta2k/facecrop/pkg/types"
)

// resizer implements smartcrop.Resizer on top of imaging.
type resizer struct {
	resampler imaging.ResampleFilter
}

func (r *resizer) Resize(img image.Image, width, height uint) image.Image {
	return imaging.Resize(img, int(width), int(height), r.resampler)
}

// SaliencyDetector reports the most interesting window of the target ratio
// as a single box. It does not look for faces specifically and is meant for
// images where a cascade finds nothing useful.
type SaliencyDetector struct {
	ratio    types.AspectRatio
	analyzer smartcrop.Analyzer
	logger   *zap.SugaredLogger
}

// NewSaliencyDetector creates a saliency detector for the given ratio.
func NewSaliencyDetector(ratio types.AspectRatio, logger *zap.SugaredLogger) (*SaliencyDetector, error) {
	if !ratio.Valid() {
		return nil, fmt.Errorf("%w: invalid aspect ratio %s", types.ErrDetectorInit, ratio)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SaliencyDetector{
		ratio:    ratio,
		analyzer: smartcrop.NewAnalyzer(&resizer{resampler: imaging.Lanczos}),
		logger:   logger,
	}, nil
}

// Detect implements Detector.
func (d *SaliencyDetector) Detect(ctx context.Context, img image.Image) ([]types.BoundingBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := img.Bounds()
	dims, err := geometry.TargetDimensions(b.Dx(), b.Dy(), d.ratio)
	if err != nil && !errors.Is(err, geometry.ErrFallback) {
		return nil, err
	}

	// FindBestCrop has no context support, so run it aside and stop waiting
	// on cancellation.
	type cropResult struct {
		crop image.Rectangle
		err  error
	}
	resultChan := make(chan cropResult, 1)
	go func() {
		crop, err := d.analyzer.FindBestCrop(img, dims.Width, dims.Height)
		resultChan <- cropResult{crop: crop, err: err}
	}()

	var result cropResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result = <-resultChan:
	}
	if result.err != nil {
		return nil, fmt.Errorf("finding best crop: %w", result.err)
	}

	crop := result.crop.Intersect(b)
	if crop.Empty() {
		return nil, nil
	}
	box := types.BoxFromRect(crop.Sub(b.Min))
	d.logger.Debugw("saliency detection", "box", box)
	return []types.BoundingBox{box}, nil
}
