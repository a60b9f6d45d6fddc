// Package detection adapts face detection engines to a single interface
// returning pixel-space bounding boxes.
package detection

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"strings"

	"github.com/menta2k/facecrop/pkg/types"
)

// Detector finds faces in a decoded image. Implementations must be safe for
// concurrent use and must not re-decode the image.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]types.BoundingBox, error)
}

// Func adapts a function to the Detector interface.
type Func func(ctx context.Context, img image.Image) ([]types.BoundingBox, error)

// Detect calls f.
func (f Func) Detect(ctx context.Context, img image.Image) ([]types.BoundingBox, error) {
	return f(ctx, img)
}

// None is a Detector that never finds anything, which reduces the pipeline to
// a plain centre crop.
var None Detector = Func(func(context.Context, image.Image) ([]types.BoundingBox, error) {
	return nil, nil
})

// Backend names a detector implementation.
type Backend string

const (
	BackendPigo     Backend = "pigo"
	BackendOllama   Backend = "ollama"
	BackendLlamaCpp Backend = "llamacpp"
	BackendSaliency Backend = "saliency"
	BackendNone     Backend = "none"
)

// ParseBackend converts a backend name to a Backend.
func ParseBackend(name string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(name))); b {
	case "":
		return BackendPigo, nil
	case BackendPigo, BackendOllama, BackendLlamaCpp, BackendSaliency, BackendNone:
		return b, nil
	default:
		return "", fmt.Errorf("unknown detector backend %q", name)
	}
}

// grayscale returns a tightly packed 8-bit luminance buffer for img along
// with its column and row counts. *image.Gray input is reused without
// copying when it is already packed.
func grayscale(img image.Image) (pixels []uint8, cols, rows int) {
	b := img.Bounds()
	cols, rows = b.Dx(), b.Dy()

	if g, ok := img.(*image.Gray); ok && g.Stride == cols {
		return g.Pix, cols, rows
	}

	gray := image.NewGray(image.Rect(0, 0, cols, rows))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray.Pix, cols, rows
}
