package converters

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"
	"path/filepath"

	"github.com/gen2brain/go-fitz"
	xdraw "golang.org/x/image/draw"
)

const (
	pointsPerInch = 72.0

	// visionScale renders pages at 3x for OCR legibility.
	visionScale        = 3.0
	maxVisionDimension = 4096

	// cropDPI is the resolution used for table-strategy image crops.
	cropDPI = 150.0
)

func openFitz(path string) (*fitz.Document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrOpenDocument, filepath.Base(path), err)
	}
	return doc, nil
}

func countPages(path string) (int, error) {
	doc, err := openFitz(path)
	if err != nil {
		return 0, err
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

// visionScaleFor returns the render scale for a page of the given size in
// points: 3x, unless that would exceed the vision size cap, in which case the
// scale shrinks so the longer side lands on the cap.
func visionScaleFor(widthPt, heightPt float64) float64 {
	longest := math.Max(widthPt, heightPt) * visionScale
	if longest > maxVisionDimension {
		return visionScale * maxVisionDimension / longest
	}
	return visionScale
}

// renderVisionPage renders page index i (0-based) as PNG for a vision model.
func renderVisionPage(doc *fitz.Document, i int) ([]byte, error) {
	bound, err := doc.Bound(i)
	if err != nil {
		return nil, fmt.Errorf("page %d bounds: %w", i+1, err)
	}
	scale := visionScaleFor(float64(bound.Dx()), float64(bound.Dy()))

	img, err := doc.ImageDPI(i, pointsPerInch*scale)
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", i+1, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, clampDimensions(img, maxVisionDimension)); err != nil {
		return nil, fmt.Errorf("encode page %d: %w", i+1, err)
	}
	return buf.Bytes(), nil
}

// clampDimensions downscales src so neither side exceeds limit. Rounding in
// the renderer can overshoot the computed scale by a pixel.
func clampDimensions(src image.Image, limit int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= limit && h <= limit {
		return src
	}
	ratio := float64(limit) / float64(max(w, h))
	dw := max(1, int(math.Floor(float64(w)*ratio)))
	dh := max(1, int(math.Floor(float64(h)*ratio)))

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	return dst
}
