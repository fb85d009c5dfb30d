package converters

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// readStructure is swapped in tests to simulate documents MuPDF can open
// but pdfcpu cannot parse.
var readStructure = readPDFContext

// readPDFContext parses, validates (relaxed) and optimizes a PDF so image
// objects are indexed per page. Its errors do not wrap ErrOpenDocument.
func readPDFContext(path string) (*model.Context, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read pdf structure %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return nil, fmt.Errorf("read pdf structure %s: %w", filepath.Base(path), err)
	}
	return ctx, nil
}

// pageImages returns the embedded images of a page ordered by object number.
// With stub set the image data is not decoded.
func pageImages(ctx *model.Context, pageNr int, stub bool) ([]model.Image, error) {
	byObj, err := pdfcpu.ExtractPageImages(ctx, pageNr, stub)
	if err != nil {
		return nil, fmt.Errorf("page %d images: %w", pageNr, err)
	}
	objNrs := make([]int, 0, len(byObj))
	for objNr := range byObj {
		objNrs = append(objNrs, objNr)
	}
	sort.Ints(objNrs)

	out := make([]model.Image, 0, len(objNrs))
	for _, objNr := range objNrs {
		out = append(out, byObj[objNr])
	}
	return out, nil
}

// mimeForFormat maps an image encoding name to a MIME type. Unknown
// encodings are reported as PNG.
func mimeForFormat(format string) string {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "png":
		return "image/png"
	case "jpeg", "jpg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "bmp":
		return "image/bmp"
	default:
		return "image/png"
	}
}

func nativeFormat(format string) bool {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "png", "jpeg", "jpg", "gif", "bmp":
		return true
	}
	return false
}

// decodeEmbedded reads one extracted image, measures it and normalizes
// encodings browsers cannot show (tiff and friends) to PNG.
func decodeEmbedded(img model.Image) (ExtractedImage, error) {
	if img.Reader == nil {
		return ExtractedImage{}, fmt.Errorf("image %s has no data", img.Name)
	}
	data, err := io.ReadAll(img)
	if err != nil {
		return ExtractedImage{}, fmt.Errorf("read image %s: %w", img.Name, err)
	}
	if len(data) == 0 {
		return ExtractedImage{}, fmt.Errorf("image %s is empty", img.Name)
	}

	out := ExtractedImage{
		Data:     data,
		Width:    img.Width,
		Height:   img.Height,
		MIMEType: mimeForFormat(img.FileType),
	}

	if !nativeFormat(img.FileType) {
		decoded, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return ExtractedImage{}, fmt.Errorf("decode %s image %s: %w", img.FileType, img.Name, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, decoded); err != nil {
			return ExtractedImage{}, fmt.Errorf("re-encode image %s: %w", img.Name, err)
		}
		b := decoded.Bounds()
		out.Data, out.Width, out.Height = buf.Bytes(), b.Dx(), b.Dy()
		return out, nil
	}

	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		out.Width, out.Height = cfg.Width, cfg.Height
	}
	return out, nil
}
