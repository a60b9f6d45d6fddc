package detection

import (
	"context"
	"fmt"
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"
	"go.uber.org/zap"

	"github.com/menta2k/facecrop/pkg/types"
)

// Tuning holds the fixed cascade parameters of the pigo detector.
type Tuning struct {
	ScoreThreshold float32 `json:"score_threshold" yaml:"score_threshold"` // minimum detection quality (Q)
	ScaleFactor    float64 `json:"scale_factor" yaml:"scale_factor"`       // image pyramid step
	ShiftFactor    float64 `json:"shift_factor" yaml:"shift_factor"`       // sliding window step, fraction of window size
	IoUThreshold   float64 `json:"iou_threshold" yaml:"iou_threshold"`     // clustering of overlapping detections
	MinFaceSize    int     `json:"min_face_size" yaml:"min_face_size"`     // floor for the derived minimum face size
	Angle          float64 `json:"angle" yaml:"angle"`                     // cascade rotation, 0 for upright faces
}

// DefaultTuning returns the detector defaults.
func DefaultTuning() Tuning {
	return Tuning{
		ScoreThreshold: 5.0,
		ScaleFactor:    1.1,
		ShiftFactor:    0.1,
		IoUThreshold:   0.2,
		MinFaceSize:    20,
		Angle:          0,
	}
}

// Validate checks the tuning values.
func (t Tuning) Validate() error {
	if t.ScaleFactor <= 1 {
		return fmt.Errorf("scale_factor must be greater than 1")
	}
	if t.ShiftFactor <= 0 || t.ShiftFactor > 1 {
		return fmt.Errorf("shift_factor must be in (0, 1]")
	}
	if t.IoUThreshold < 0 || t.IoUThreshold > 1 {
		return fmt.Errorf("iou_threshold must be between 0 and 1")
	}
	if t.MinFaceSize < 1 {
		return fmt.Errorf("min_face_size must be positive")
	}
	return nil
}

// MinSize returns the smallest face size searched for in an image of the
// given width, so sensitivity scales with resolution.
func (t Tuning) MinSize(width int) int {
	return max(width/100, t.MinFaceSize)
}

// PigoDetector finds faces with a pigo pixel-intensity cascade. The unpacked
// classifier is read-only and shared by all callers.
type PigoDetector struct {
	classifier *pigo.Pigo
	tuning     Tuning
	logger     *zap.SugaredLogger
}

// NewPigoDetector unpacks a cascade model. Failures wrap types.ErrDetectorInit.
func NewPigoDetector(model []byte, tuning Tuning, logger *zap.SugaredLogger) (*PigoDetector, error) {
	if len(model) == 0 {
		return nil, fmt.Errorf("%w: empty cascade model", types.ErrDetectorInit)
	}
	if err := tuning.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDetectorInit, err)
	}

	classifier, err := unpack(model)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unpack cascade model: %v", types.ErrDetectorInit, err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &PigoDetector{classifier: classifier, tuning: tuning, logger: logger}, nil
}

// unpack guards against pigo indexing past the end of truncated models.
func unpack(model []byte) (classifier *pigo.Pigo, err error) {
	defer func() {
		if r := recover(); r != nil {
			classifier, err = nil, fmt.Errorf("malformed cascade: %v", r)
		}
	}()
	return pigo.NewPigo().Unpack(model)
}

// LoadPigoDetector reads a cascade model file and unpacks it.
func LoadPigoDetector(path string, tuning Tuning, logger *zap.SugaredLogger) (*PigoDetector, error) {
	model, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read model file: %v", types.ErrDetectorInit, err)
	}
	return NewPigoDetector(model, tuning, logger)
}

// Tuning returns the detector parameters.
func (d *PigoDetector) Tuning() Tuning {
	return d.tuning
}

// Detect runs the cascade over the luminance of img.
func (d *PigoDetector) Detect(ctx context.Context, img image.Image) ([]types.BoundingBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pixels, cols, rows := grayscale(img)
	minSize := d.tuning.MinSize(cols)
	maxSize := max(cols, rows)
	if minSize > maxSize {
		return nil, nil
	}

	params := pigo.CascadeParams{
		MinSize:     minSize,
		MaxSize:     maxSize,
		ShiftFactor: d.tuning.ShiftFactor,
		ScaleFactor: d.tuning.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pixels,
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := d.classifier.RunCascade(params, d.tuning.Angle)
	dets = d.classifier.ClusterDetections(dets, d.tuning.IoUThreshold)

	faces := make([]types.BoundingBox, 0, len(dets))
	for _, det := range dets {
		if det.Q < d.tuning.ScoreThreshold {
			continue
		}
		faces = append(faces, boxFromDetection(det))
	}

	d.logger.Debugw("pigo detection finished",
		"candidates", len(dets), "faces", len(faces), "min_size", minSize, "max_size", maxSize)
	return faces, nil
}

// boxFromDetection converts a centre/scale detection to a box relative to the
// image's top-left corner.
func boxFromDetection(det pigo.Detection) types.BoundingBox {
	return types.BoundingBox{
		X:      det.Col - det.Scale/2,
		Y:      det.Row - det.Scale/2,
		Width:  det.Scale,
		Height: det.Scale,
	}
}
