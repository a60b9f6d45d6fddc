// Package facecrop crops images to a target aspect ratio while keeping the
// faces they contain in frame.
//
// Exactly one axis is reduced, so the largest possible area of the source
// survives. The crop window is positioned over the union of the detected
// faces, with headroom above them by default, and is always clamped inside
// the image. Images without faces are centre-cropped.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		"github.com/menta2k/facecrop"
//		"github.com/menta2k/facecrop/pkg/detection"
//		"github.com/menta2k/facecrop/pkg/types"
//	)
//
//	func main() {
//		det, err := detection.LoadPigoDetector("cascade/facefinder", detection.DefaultTuning(), nil)
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		c, err := facecrop.New(types.AspectRatio{Width: 4, Height: 5}, facecrop.WithDetector(det))
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		plan, err := c.CropFile(context.Background(), "photo.jpg", "photo_4x5.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//		log.Printf("kept %s of %dx%d", plan.Rect, plan.ImageWidth, plan.ImageHeight)
//	}
//
// The package consists of these components:
//
//  1. Geometry (pkg/geometry): axis selection, face bounds and offset clamping
//  2. Detection (pkg/detection): pigo cascade, vision-model and saliency detectors
//  3. Processing (pkg/processing): decoding, cropping and atomic encoding
//  4. Batch (pkg/batch): the per-image pipeline over a bounded worker pool
//
// The facecrop command (cmd/facecrop) wraps the same pipeline for files,
// directories and an HTTP server.
package facecrop

import (
	"context"
	"fmt"
	"image"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/menta2k/facecrop/internal/utils"
	"github.com/menta2k/facecrop/pkg/batch"
	"github.com/menta2k/facecrop/pkg/detection"
	"github.com/menta2k/facecrop/pkg/geometry"
	"github.com/menta2k/facecrop/pkg/processing"
	"github.com/menta2k/facecrop/pkg/types"
)

// Version of the facecrop library
const Version = "1.0.0"

// Cropper provides a high-level interface for face-aware cropping
type Cropper struct {
	ratio     types.AspectRatio
	detector  detection.Detector
	policy    geometry.Policy
	workers   int
	processor *processing.Processor
	logger    *zap.SugaredLogger
}

// Option configures a Cropper.
type Option func(*Cropper)

// WithDetector sets the face detector. Without it every crop is centred.
func WithDetector(d detection.Detector) Option {
	return func(c *Cropper) { c.detector = d }
}

// WithPolicy sets the offset policy.
func WithPolicy(p geometry.Policy) Option {
	return func(c *Cropper) { c.policy = p }
}

// WithWorkers bounds the concurrency of CropDirectory.
func WithWorkers(n int) Option {
	return func(c *Cropper) { c.workers = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Cropper) { c.logger = l }
}

// New creates a Cropper for the given aspect ratio.
func New(ratio types.AspectRatio, opts ...Option) (*Cropper, error) {
	if !ratio.Valid() {
		return nil, fmt.Errorf("%w: invalid aspect ratio %s", types.ErrConfiguration, ratio)
	}
	c := &Cropper{
		ratio:     ratio,
		detector:  detection.None,
		policy:    geometry.PolicyHeadBias,
		processor: processing.NewProcessor(),
		logger:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.detector == nil {
		c.detector = detection.None
	}
	return c, nil
}

// CropImage detects faces in img and returns the cropped image with the
// plan that produced it.
func (c *Cropper) CropImage(ctx context.Context, img image.Image) (batch.Outcome, error) {
	return batch.Crop(ctx, img, c.detector, c.ratio, c.policy, c.logger)
}

// CropFile crops one image file. The output format follows the extension of
// outputPath.
func (c *Cropper) CropFile(ctx context.Context, inputPath, outputPath string) (geometry.Plan, error) {
	img, _, err := c.processor.LoadImage(inputPath)
	if err != nil {
		return geometry.Plan{}, fmt.Errorf("failed to load image: %w", err)
	}

	out, err := c.CropImage(ctx, img)
	if err != nil {
		return geometry.Plan{}, fmt.Errorf("cropping failed: %w", err)
	}

	format := processing.FormatFromPath(outputPath)
	if err := c.processor.SaveImage(ctx, out.Image, outputPath, format, processing.DefaultQuality, false); err != nil {
		return geometry.Plan{}, fmt.Errorf("failed to save crop: %w", err)
	}
	return out.Plan, nil
}

// CropDirectory crops every jpg, jpeg and png file directly inside inputDir
// into outputDir, which must exist.
func (c *Cropper) CropDirectory(ctx context.Context, inputDir, outputDir string) (batch.Report, error) {
	files, err := utils.ListImageFiles(inputDir)
	if err != nil {
		return batch.Report{}, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	if !utils.DirExists(outputDir) {
		return batch.Report{}, fmt.Errorf("%w: output directory %s does not exist", types.ErrConfiguration, filepath.Clean(outputDir))
	}
	if len(files) == 0 {
		return batch.Report{}, nil
	}

	runner, err := batch.NewRunner(batch.Job{
		Sources:   files,
		OutputDir: outputDir,
		Detector:  c.detector,
		Ratio:     c.ratio,
		Policy:    c.policy,
		Workers:   c.workers,
	}, c.logger)
	if err != nil {
		return batch.Report{}, err
	}
	return runner.Run(ctx)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
