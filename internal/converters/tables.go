package converters

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog"
)

const IDTables = "pdfplumber"

// TableConverter reads the text layer with ledongthuc/pdf, detects tables
// from column-aligned text rows and crops placed images from a page render.
type TableConverter struct {
	log zerolog.Logger
}

func NewTableConverter(logger zerolog.Logger) *TableConverter {
	return &TableConverter{log: logger.With().Str("converter", IDTables).Logger()}
}

func (c *TableConverter) ID() string { return IDTables }

func (c *TableConverter) ExtractText(ctx context.Context, path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w %s: %v", ErrOpenDocument, filepath.Base(path), err)
	}
	defer f.Close()

	var parts []string
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			c.log.Warn().Err(err).Int("page", i).Msg("page text failed")
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		parts = append(parts, pageSection(i, text))
	}
	return strings.Join(parts, "\n\n"), nil
}

func (c *TableConverter) ExtractTables(ctx context.Context, path string) ([]ExtractedTable, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrOpenDocument, filepath.Base(path), err)
	}
	defer f.Close()

	tables := []ExtractedTable{}
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		rows, err := p.GetTextByRow()
		if err != nil {
			c.log.Warn().Err(err).Int("page", i).Msg("page rows failed")
			continue
		}
		tables = append(tables, filterTables(groupTables(rowCells(rows)), i)...)
	}
	return tables, nil
}

// rowCells orders text rows top to bottom and splits each into cells.
func rowCells(rows pdf.Rows) [][]string {
	sorted := make(pdf.Rows, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position > sorted[j].Position })

	out := make([][]string, 0, len(sorted))
	for _, row := range sorted {
		runs := make([]textRun, 0, len(row.Content))
		for _, t := range row.Content {
			if t.S == "" {
				continue
			}
			runs = append(runs, textRun{X: t.X, W: t.W, FontSize: t.FontSize, S: t.S})
		}
		if len(runs) == 0 {
			continue
		}
		out = append(out, segmentRow(runs))
	}
	return out
}

// ExtractImages crops every placed image from a 150 DPI page render and
// returns it as PNG. Placements smaller than 10x10 points are skipped. Only
// a document MuPDF cannot open is an error; when pdfcpu cannot locate the
// placements no images are returned.
func (c *TableConverter) ExtractImages(ctx context.Context, path string) ([]ExtractedImage, error) {
	doc, err := openFitz(path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	out := []ExtractedImage{}
	pdfCtx, err := readStructure(path)
	if err != nil {
		c.log.Warn().Err(err).Str("file", filepath.Base(path)).Msg("skipping image placements")
		return out, nil
	}

	for page := 1; page <= pdfCtx.PageCount && page <= doc.NumPage(); page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		regions, err := c.placements(pdfCtx, page)
		if err != nil {
			c.log.Warn().Err(err).Int("page", page).Msg("skipping page images")
			continue
		}
		if len(regions) == 0 {
			continue
		}

		bound, err := doc.Bound(page - 1)
		if err != nil {
			c.log.Warn().Err(err).Int("page", page).Msg("skipping page images")
			continue
		}
		rendered, err := doc.ImageDPI(page-1, cropDPI)
		if err != nil {
			c.log.Warn().Err(err).Int("page", page).Msg("skipping page images")
			continue
		}

		for order, r := range regions {
			if regionTooSmall(r) {
				continue
			}
			crop := cropRegion(rendered, float64(bound.Dy()), cropDPI, r)
			if crop == nil {
				continue
			}
			var buf bytes.Buffer
			if err := png.Encode(&buf, crop); err != nil {
				c.log.Warn().Err(err).Int("page", page).Int("order", order).Msg("skipping image")
				continue
			}
			out = append(out, ExtractedImage{
				Data:        buf.Bytes(),
				PageNumber:  page,
				OrderInPage: order,
				Width:       int(r.width()),
				Height:      int(r.height()),
				MIMEType:    "image/png",
			})
		}
	}
	return out, nil
}

func (c *TableConverter) placements(pdfCtx *model.Context, page int) ([]region, error) {
	imgs, err := pageImages(pdfCtx, page, true)
	if err != nil {
		return nil, err
	}
	if len(imgs) == 0 {
		return nil, nil
	}
	names := make(map[string]bool, len(imgs))
	for _, img := range imgs {
		names[img.Name] = true
	}

	r, err := pdfcpu.ExtractPageContent(pdfCtx, page)
	if err != nil {
		return nil, fmt.Errorf("page %d content: %w", page, err)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("page %d content: %w", page, err)
	}
	return scanImagePlacements(content, names), nil
}

func (c *TableConverter) PageCount(ctx context.Context, path string) (int, error) {
	return countPages(path)
}

func (c *TableConverter) Convert(ctx context.Context, path string) (*ConversionResult, error) {
	return convert(ctx, c, path)
}
