// Package geometry computes face-aware crop rectangles.
//
// Exactly one axis of the source image is reduced to reach the target ratio,
// which keeps the largest possible area. The crop window is then positioned
// over the union of the detected faces and clamped inside the image.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/menta2k/facecrop/pkg/types"
)

// ErrFallback is reported when a target dimension could not be computed and
// the original dimension was kept instead. It is a warning, not a failure.
var ErrFallback = errors.New("crop dimension computation fell back to original size")

// ErrInvalidInput is returned for non-positive image dimensions or ratios.
var ErrInvalidInput = errors.New("invalid geometry input")

// Policy selects how the crop offset is derived from the bounds.
type Policy int

const (
	// PolicyHeadBias centres horizontally and anchors vertically a fifth of
	// the crop height above the top of the faces, leaving headroom.
	PolicyHeadBias Policy = iota
	// PolicyCenter centres the crop window on the bounds on both axes.
	PolicyCenter
)

func (p Policy) String() string {
	switch p {
	case PolicyHeadBias:
		return "head"
	case PolicyCenter:
		return "center"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy converts a policy name to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "head", "head-bias", "headbias":
		return PolicyHeadBias, nil
	case "center", "centre":
		return PolicyCenter, nil
	default:
		return 0, fmt.Errorf("unknown offset policy %q (use head or center)", name)
	}
}

// headroomDivisor places the top of the faces this fraction of the crop
// height below the top edge of the frame.
const headroomDivisor = 5

// Dimensions is the result of axis selection.
type Dimensions struct {
	Axis   types.Axis
	Width  int
	Height int
}

// Plan holds every intermediate value of a crop computation.
type Plan struct {
	ImageWidth  int
	ImageHeight int
	Dimensions
	Bounds   types.Bounds
	Faces    int
	Rect     types.CropRectangle
	Fallback bool
}

// TargetDimensions selects the axis to crop and the resulting size.
// If the rounded size is unusable the original dimension is kept and
// ErrFallback is returned together with the usable Dimensions.
func TargetDimensions(width, height int, ratio types.AspectRatio) (Dimensions, error) {
	if width < 1 || height < 1 {
		return Dimensions{}, fmt.Errorf("%w: image size %dx%d", ErrInvalidInput, width, height)
	}
	if !ratio.Valid() || math.IsInf(ratio.Value(), 0) || math.IsNaN(ratio.Value()) {
		return Dimensions{}, fmt.Errorf("%w: aspect ratio %s", ErrInvalidInput, ratio)
	}

	originalRatio := float64(width) / float64(height)
	targetRatio := ratio.Value()

	if originalRatio > targetRatio {
		// too wide
		newWidth, ok := toDimension(float64(height)*targetRatio, width)
		dims := Dimensions{Axis: types.AxisWidth, Width: newWidth, Height: height}
		if !ok {
			return dims, fmt.Errorf("%w: width for %dx%d at %s", ErrFallback, width, height, ratio)
		}
		return dims, nil
	}

	newHeight, ok := toDimension(float64(width)/targetRatio, height)
	dims := Dimensions{Axis: types.AxisHeight, Width: width, Height: newHeight}
	if !ok {
		return dims, fmt.Errorf("%w: height for %dx%d at %s", ErrFallback, width, height, ratio)
	}
	return dims, nil
}

// toDimension rounds v to a pixel count in [1, original]. On failure it
// returns original and false.
func toDimension(v float64, original int) (int, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return original, false
	}
	r := math.Round(v)
	if r < 1 || r > float64(original) {
		return original, false
	}
	return int(r), true
}

// DefaultBounds is the centred window on the cropped axis spanning the full
// image on the other axis. It is used when no faces were detected.
func DefaultBounds(width, height int, dims Dimensions) types.Bounds {
	b := types.Bounds{MinX: 0, MaxX: width, MinY: 0, MaxY: height}
	switch dims.Axis {
	case types.AxisWidth:
		b.MinX = (width - dims.Width) / 2
		b.MaxX = b.MinX + dims.Width
	case types.AxisHeight:
		b.MinY = (height - dims.Height) / 2
		b.MaxY = b.MinY + dims.Height
	}
	return b
}

// UnionBounds returns the smallest region containing every face, or def
// when faces is empty.
func UnionBounds(def types.Bounds, faces []types.BoundingBox) types.Bounds {
	if len(faces) == 0 {
		return def
	}
	b := types.Bounds{
		MinX: faces[0].X,
		MaxX: faces[0].Right(),
		MinY: faces[0].Y,
		MaxY: faces[0].Bottom(),
	}
	for _, f := range faces[1:] {
		b.MinX = min(b.MinX, f.X)
		b.MinY = min(b.MinY, f.Y)
		b.MaxX = max(b.MaxX, f.Right())
		b.MaxY = max(b.MaxY, f.Bottom())
	}
	return b
}

// Offset positions a window of size dims over bounds inside an image of
// width x height. Head bias only applies when bounds differ from the
// default region, so a face-less image is always centre-cropped.
func Offset(width, height int, dims Dimensions, bounds, def types.Bounds, policy Policy) (x, y int) {
	x = (bounds.MinX + bounds.MaxX - dims.Width) / 2
	y = (bounds.MinY + bounds.MaxY - dims.Height) / 2
	if policy == PolicyHeadBias && bounds != def {
		y = bounds.MinY - dims.Height/headroomDivisor
	}
	return clamp(x, 0, width-dims.Width), clamp(y, 0, height-dims.Height)
}

// Compute runs axis selection, bounds and offset for one image.
// A fallback during axis selection is reported in Plan.Fallback and the
// returned error wraps ErrFallback; the plan is still usable.
func Compute(width, height int, ratio types.AspectRatio, faces []types.BoundingBox, policy Policy) (Plan, error) {
	dims, err := TargetDimensions(width, height, ratio)
	fallback := errors.Is(err, ErrFallback)
	if err != nil && !fallback {
		return Plan{}, err
	}

	def := DefaultBounds(width, height, dims)
	bounds := UnionBounds(def, faces)
	x, y := Offset(width, height, dims, bounds, def, policy)

	plan := Plan{
		ImageWidth:  width,
		ImageHeight: height,
		Dimensions:  dims,
		Bounds:      bounds,
		Faces:       len(faces),
		Rect:        types.CropRectangle{X: x, Y: y, Width: dims.Width, Height: dims.Height},
		Fallback:    fallback,
	}
	return plan, err
}

func clamp(v, lo, hi int) int {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}
