package detection

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/menta2k/facecrop/pkg/client"
	"github.com/menta2k/facecrop/pkg/processing"
	"github.com/menta2k/facecrop/pkg/types"
)

// CheckPrompt asks the model to describe a probe image, confirming it
// accepts image input at all.
const CheckPrompt = `What do you see in this image? Describe it briefly.`

// FacePrompt asks a vision model for every face in the image.
const FacePrompt = `You are a face locator.

Return JSON only:
{
  "faces": [
    {"confidence": 0.0, "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}}
  ],
  "description": "short neutral sentence (≤ 20 words)"
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels). x,y is the top-left corner.
- One entry per visible human face. The box covers the face from hairline to chin.
- Do not guess real identities.
- If there are no faces, return {"faces": [], "description": "..."}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Model input defaults.
const (
	DefaultMaxDim        = 1024
	DefaultImageQuality  = 85
	DefaultMinConfidence = 0.3
)

// VisionDetector locates faces by asking a vision-language model.
type VisionDetector struct {
	client        client.VisionClient
	processor     *processing.Processor
	model         string
	prompt        string
	maxDim        int
	quality       int
	minConfidence float64
	logger        *zap.SugaredLogger
}

// VisionOption configures a VisionDetector.
type VisionOption func(*VisionDetector)

// WithPrompt replaces FacePrompt.
func WithPrompt(prompt string) VisionOption {
	return func(d *VisionDetector) { d.prompt = prompt }
}

// WithMaxDim sets the longest side of the image sent to the model.
func WithMaxDim(maxDim int) VisionOption {
	return func(d *VisionDetector) { d.maxDim = maxDim }
}

// WithMinConfidence drops faces the model is less sure about.
func WithMinConfidence(c float64) VisionOption {
	return func(d *VisionDetector) { d.minConfidence = c }
}

// NewVisionDetector creates a detector backed by a vision client.
func NewVisionDetector(c client.VisionClient, model string, logger *zap.SugaredLogger, opts ...VisionOption) (*VisionDetector, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: vision client is nil", types.ErrDetectorInit)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: vision model name is required", types.ErrDetectorInit)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	d := &VisionDetector{
		client:        c,
		processor:     processing.NewProcessor(),
		model:         model,
		prompt:        FacePrompt,
		maxDim:        DefaultMaxDim,
		quality:       DefaultImageQuality,
		minConfidence: DefaultMinConfidence,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Detect implements Detector.
func (d *VisionDetector) Detect(ctx context.Context, img image.Image) ([]types.BoundingBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	imgB64, err := d.processor.PrepareImageForModel(img, "jpg", d.maxDim, d.quality)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image for model: %w", err)
	}

	analysis, err := d.client.DetectFaces(ctx, d.model, d.prompt, imgB64)
	if err != nil {
		return nil, fmt.Errorf("vision model %s: %w", d.model, err)
	}

	b := img.Bounds()
	boxes := make([]types.BoundingBox, 0, len(analysis.Faces))
	for _, f := range analysis.Faces {
		if f.Confidence < d.minConfidence {
			continue
		}
		box, ok := toPixels(normalizeBox(f.Box), b.Dx(), b.Dy())
		if !ok {
			continue
		}
		boxes = append(boxes, box)
	}

	d.logger.Debugw("vision detection",
		"model", d.model,
		"reported", len(analysis.Faces),
		"faces", len(boxes),
		"description", analysis.Description,
	)
	return boxes, nil
}

// CheckVision sends a small grey image with CheckPrompt and returns the
// model's reply. An unreachable server, an unknown model or an empty reply
// is an error.
func (d *VisionDetector) CheckVision(ctx context.Context) (string, error) {
	probe := imaging.New(64, 64, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
	imgB64, err := d.processor.PrepareImageForModel(probe, "jpg", d.maxDim, d.quality)
	if err != nil {
		return "", fmt.Errorf("failed to prepare image for model: %w", err)
	}
	reply, err := d.client.SimpleQuery(ctx, d.model, CheckPrompt, imgB64)
	if err != nil {
		return "", fmt.Errorf("vision model %s: %w", d.model, err)
	}
	if strings.TrimSpace(reply) == "" {
		return "", fmt.Errorf("vision model %s returned an empty reply", d.model)
	}
	return reply, nil
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(v, 1))
}

// normalizeBox clips a model box to the unit square.
func normalizeBox(b types.Box) types.Box {
	x, y := clampUnit(b.X), clampUnit(b.Y)
	return types.Box{
		X: x,
		Y: y,
		W: clampUnit(x+b.W) - x,
		H: clampUnit(y+b.H) - y,
	}
}

// toPixels scales a normalized box to an image of w x h pixels. Empty
// boxes are rejected.
func toPixels(b types.Box, w, h int) (types.BoundingBox, bool) {
	x0 := int(math.Round(b.X * float64(w)))
	y0 := int(math.Round(b.Y * float64(h)))
	x1 := int(math.Round((b.X + b.W) * float64(w)))
	y1 := int(math.Round((b.Y + b.H) * float64(h)))
	if x1 <= x0 || y1 <= y0 {
		return types.BoundingBox{}, false
	}
	return types.BoundingBox{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}, true
}
