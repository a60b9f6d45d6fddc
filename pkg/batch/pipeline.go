package batch

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/menta2k/facecrop/pkg/detection"
	"github.com/menta2k/facecrop/pkg/geometry"
	"github.com/menta2k/facecrop/pkg/processing"
	"github.com/menta2k/facecrop/pkg/types"
)

// Outcome is a decoded image after detection, geometry and crop.
type Outcome struct {
	Image image.Image
	Faces []types.BoundingBox
	Plan  geometry.Plan
}

// Crop runs the Detect, Geometry and Crop stages on an already decoded
// image. A failing detector is logged and treated as finding no faces unless
// ctx was cancelled. Errors are *StageError values with an empty Path.
func Crop(ctx context.Context, img image.Image, d detection.Detector, ratio types.AspectRatio, policy geometry.Policy, log *zap.SugaredLogger) (Outcome, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	faces, err := d.Detect(ctx, img)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, &StageError{Stage: StageDetect, Err: ctx.Err()}
		}
		log.Warnw("face detection failed, cropping without faces", "error", err)
		faces = nil
	}

	b := img.Bounds()
	plan, err := geometry.Compute(b.Dx(), b.Dy(), ratio, faces, policy)
	switch {
	case errors.Is(err, geometry.ErrFallback):
		log.Warnw("could not compute new dimension, keeping original", "error", err)
	case err != nil:
		return Outcome{}, &StageError{Stage: StageGeometry, Err: err}
	}

	log.Debugw("convert aspect ratio",
		"from", fmt.Sprintf("%.4f", float64(b.Dx())/float64(b.Dy())),
		"to", fmt.Sprintf("%.4f", ratio.Value()))
	log.Debugw("crop size",
		"from", fmt.Sprintf("%dx%d", b.Dx(), b.Dy()),
		"to", fmt.Sprintf("%dx%d", plan.Width, plan.Height),
		"axis", plan.Axis.String())
	if len(faces) > 0 {
		log.Debugw("detected faces", "count", len(faces), "bounds", plan.Bounds.String())
	}

	cropped, err := processing.NewProcessor().CropImage(img, plan.Rect)
	if err != nil {
		return Outcome{}, &StageError{Stage: StageCrop, Err: err}
	}
	return Outcome{Image: cropped, Faces: faces, Plan: plan}, nil
}
