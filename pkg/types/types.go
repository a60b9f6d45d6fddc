package types

import (
	"fmt"
	"image"
)

// BoundingBox marks a detected face in image pixel coordinates.
// X and Y may be negative when a detection overlaps the image edge.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Right returns the x coordinate one past the right edge of the box.
func (b BoundingBox) Right() int {
	return b.X + b.Width
}

// Bottom returns the y coordinate one past the bottom edge of the box.
func (b BoundingBox) Bottom() int {
	return b.Y + b.Height
}

// Rect converts the box to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.Right(), b.Bottom())
}

// BoxFromRect converts an image.Rectangle to a BoundingBox.
func BoxFromRect(r image.Rectangle) BoundingBox {
	return BoundingBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Bounds is the axis-aligned region the crop window is centred on.
type Bounds struct {
	MinX int `json:"min_x"`
	MaxX int `json:"max_x"`
	MinY int `json:"min_y"`
	MaxY int `json:"max_y"`
}

func (b Bounds) String() string {
	return fmt.Sprintf("(%d, %d) to (%d, %d)", b.MinX, b.MinY, b.MaxX, b.MaxY)
}

// CropRectangle is the region of the source image that is kept.
type CropRectangle struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect converts the crop to an image.Rectangle relative to origin.
func (c CropRectangle) Rect(origin image.Point) image.Rectangle {
	return image.Rect(c.X, c.Y, c.X+c.Width, c.Y+c.Height).Add(origin)
}

// Within reports whether the crop lies inside an image of the given size.
func (c CropRectangle) Within(width, height int) bool {
	return c.X >= 0 && c.Y >= 0 && c.Width >= 0 && c.Height >= 0 &&
		c.X+c.Width <= width && c.Y+c.Height <= height
}

func (c CropRectangle) String() string {
	return fmt.Sprintf("%dx%d@%d,%d", c.Width, c.Height, c.X, c.Y)
}

// AspectRatio is a target width:height ratio. Only the quotient matters.
type AspectRatio struct {
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Value returns Width/Height.
func (a AspectRatio) Value() float64 {
	return a.Width / a.Height
}

// Valid reports whether both parts are positive.
func (a AspectRatio) Valid() bool {
	return a.Width > 0 && a.Height > 0
}

func (a AspectRatio) String() string {
	return fmt.Sprintf("%g:%g", a.Width, a.Height)
}

// Axis identifies the dimension reduced to reach the target ratio.
type Axis int

const (
	AxisWidth Axis = iota
	AxisHeight
)

func (a Axis) String() string {
	if a == AxisWidth {
		return "width"
	}
	return "height"
}

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Face is a single face reported by a vision model
type Face struct {
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// FaceAnalysis contains the faces a vision model located in an image
type FaceAnalysis struct {
	Faces       []Face `json:"faces"`
	Description string `json:"description"`
}
