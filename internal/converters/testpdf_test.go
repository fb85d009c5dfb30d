package converters

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type pdfText struct {
	X, Y float64
	S    string
}

// pdfImage is an uncompressed DeviceRGB image of W x H pixels painted into
// the PW x PH point rectangle whose lower-left corner is X, Y.
type pdfImage struct {
	W, H         int
	X, Y, PW, PH float64
}

type testPage struct {
	Texts  []pdfText
	Images []pdfImage
}

// writeTestPDF writes a minimal letter-size PDF with one Helvetica text
// object per entry and returns its path.
func writeTestPDF(t *testing.T, pages [][]pdfText) string {
	t.Helper()
	tp := make([]testPage, len(pages))
	for i, texts := range pages {
		tp[i].Texts = texts
	}
	return writePDF(t, tp)
}

// writePDF is writeTestPDF with image XObjects. Each image gets its own
// object, numbered in page then paint order.
func writePDF(t *testing.T, pages []testPage) string {
	t.Helper()

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"", // page tree, filled once the page objects are numbered
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}

	var kids []string
	for pi, p := range pages {
		pageNr := len(objects) + 1
		contentNr := pageNr + 1
		kids = append(kids, fmt.Sprintf("%d 0 R", pageNr))

		var content bytes.Buffer
		var xobjects []string
		var images []string
		for i, img := range p.Images {
			fmt.Fprintf(&content, "q %g 0 0 %g %g %g cm /Im%d Do Q\n", img.PW, img.PH, img.X, img.Y, i)
			xobjects = append(xobjects, fmt.Sprintf("/Im%d %d 0 R", i, contentNr+1+i))
			images = append(images, rgbImageObject(img.W, img.H, byte(40*pi+10*i)))
		}
		for _, tx := range p.Texts {
			fmt.Fprintf(&content, "BT /F1 12 Tf %g %g Td (%s) Tj ET\n", tx.X, tx.Y, tx.S)
		}

		resources := "/Font << /F1 3 0 R >>"
		if len(xobjects) > 0 {
			resources += " /XObject << " + strings.Join(xobjects, " ") + " >>"
		}
		objects = append(objects, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << %s >> /Contents %d 0 R >>",
			resources, contentNr))
		objects = append(objects, fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String()))
		objects = append(objects, images...)
	}
	objects[1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	path := filepath.Join(t.TempDir(), "test.pdf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

// rgbImageObject returns an image XObject filled with a single gray-ish
// color derived from shade, so no two test images share content.
func rgbImageObject(w, h int, shade byte) string {
	px := bytes.Repeat([]byte{0x20 + shade, 0x60, 0xA0 - shade/2}, w*h)
	return fmt.Sprintf(
		"<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceRGB /BitsPerComponent 8 /Length %d >>\nstream\n%s\nendstream",
		w, h, len(px), px)
}

// breakXRef points startxref past the end of the file, leaving a document
// that needs xref repair to open.
func breakXRef(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	i := bytes.LastIndex(data, []byte("startxref\n"))
	require.GreaterOrEqual(t, i, 0)
	data = append(data[:i:i], []byte("startxref\n99999\n%%EOF\n")...)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func twoPagePDF(t *testing.T) string {
	return writeTestPDF(t, [][]pdfText{
		{{X: 72, Y: 720, S: "Hello world"}},
		{{X: 72, Y: 720, S: "Second page"}},
	})
}

// imagePDF has two placed images and a 9x9 point spacer on page 1 and one
// image on page 2.
func imagePDF(t *testing.T) string {
	return writePDF(t, []testPage{
		{
			Texts: []pdfText{{X: 72, Y: 720, S: "Figures"}},
			Images: []pdfImage{
				{W: 4, H: 3, X: 72, Y: 500, PW: 100, PH: 80},
				{W: 6, H: 2, X: 300, Y: 500, PW: 120, PH: 40},
				{W: 2, H: 2, X: 72, Y: 300, PW: 9, PH: 9},
			},
		},
		{
			Texts:  []pdfText{{X: 72, Y: 720, S: "Chart"}},
			Images: []pdfImage{{W: 5, H: 2, X: 72, Y: 400, PW: 200, PH: 100}},
		},
	})
}
