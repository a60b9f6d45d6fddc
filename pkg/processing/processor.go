package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/facecrop/pkg/types"
)

// Supported formats.
const (
	FormatJPEG = "jpg"
	FormatPNG  = "png"
	FormatWebP = "webp"
)

// DefaultQuality is the JPEG/WebP encoding quality used when none is set.
const DefaultQuality = 95

var mimeFormats = map[string]string{
	"image/jpeg": FormatJPEG,
	"image/png":  FormatPNG,
	"image/webp": FormatWebP,
}

// Processor handles image decoding, cropping and encoding
type Processor struct{}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{}
}

// SniffFormat inspects the leading bytes of data and returns the image
// format, or an error wrapping types.ErrDecode for anything else.
func SniffFormat(data []byte) (string, error) {
	mtype := mimetype.Detect(data)
	for m := mtype; m != nil; m = m.Parent() {
		if format, ok := mimeFormats[m.String()]; ok {
			return format, nil
		}
	}
	return "", fmt.Errorf("%w: unsupported content type %s", types.ErrDecode, mtype.String())
}

// LoadImage loads an image from a file path after checking its content type.
func (p *Processor) LoadImage(path string) (image.Image, string, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("%w: failed to open image: %v", types.ErrDecode, err)
	}
	format, ok := mimeFormats[mtype.String()]
	if !ok {
		return nil, "", fmt.Errorf("%w: unsupported content type %s", types.ErrDecode, mtype.String())
	}

	if img, err := imaging.Open(path); err == nil {
		return img, format, nil
	} else if format != FormatWebP {
		return nil, "", fmt.Errorf("%w: %v", types.ErrDecode, err)
	}

	// Fallback: explicit WebP decode
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("%w: failed to open image: %v", types.ErrDecode, err)
	}
	defer f.Close()

	img, err := webp.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", types.ErrDecode, err)
	}
	return img, format, nil
}

// DecodeBytes decodes an in-memory image and reports its format.
func (p *Processor) DecodeBytes(data []byte) (image.Image, string, error) {
	format, err := SniffFormat(data)
	if err != nil {
		return nil, "", err
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err == nil {
		return img, format, nil
	}
	if format == FormatWebP {
		if img, err2 := webp.Decode(bytes.NewReader(data)); err2 == nil {
			return img, format, nil
		}
	}
	return nil, "", fmt.Errorf("%w: %v", types.ErrDecode, err)
}

// CropImage copies the crop rectangle out of img. The rectangle is relative
// to the image's top-left corner.
func (p *Processor) CropImage(img image.Image, crop types.CropRectangle) (image.Image, error) {
	bounds := img.Bounds()
	if crop.Width == 0 || crop.Height == 0 || !crop.Within(bounds.Dx(), bounds.Dy()) {
		return nil, fmt.Errorf("crop %v outside image bounds %v", crop, bounds)
	}
	return imaging.Crop(img, crop.Rect(bounds.Min)), nil
}

// FormatFromPath returns the output format implied by a file extension,
// defaulting to PNG.
func FormatFromPath(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "jpg", "jpeg":
		return FormatJPEG
	case "webp":
		return FormatWebP
	default:
		return FormatPNG
	}
}

// NormalizeFormat maps format aliases to one of the Format constants.
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

// ContentType returns the MIME type of a format.
func ContentType(format string) string {
	switch format {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/png"
	}
}

// Encode writes img to w in the given format.
func (p *Processor) Encode(w io.Writer, img image.Image, format string, quality int, lossless bool) error {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	switch format {
	case FormatWebP:
		return webp.Encode(w, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
	case FormatPNG:
		return imaging.Encode(w, img, imaging.PNG)
	case FormatJPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// SaveImage encodes img into a temporary file next to path and renames it
// into place, so path either holds a complete image or is left untouched.
// The context is checked once more before the rename.
func (p *Processor) SaveImage(ctx context.Context, img image.Image, path, format string, quality int, lossless bool) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: failed to create temporary file: %v", types.ErrSave, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err = p.Encode(tmp, img, format, quality, lossless); err != nil {
		return fmt.Errorf("%w: encoding %s: %v", types.ErrSave, format, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrSave, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrSave, err)
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: %v", types.ErrSave, err)
	}
	return nil
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
