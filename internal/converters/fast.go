package converters

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog"
)

const IDFast = "pymupdf"

// FastConverter extracts structured text with MuPDF and embedded images with
// pdfcpu. It never detects tables.
type FastConverter struct {
	log zerolog.Logger
}

func NewFastConverter(logger zerolog.Logger) *FastConverter {
	return &FastConverter{log: logger.With().Str("converter", IDFast).Logger()}
}

func (c *FastConverter) ID() string { return IDFast }

// ExtractText returns Markdown built from MuPDF's per-page HTML. When that
// fails or yields nothing, it falls back to plain page text.
func (c *FastConverter) ExtractText(ctx context.Context, path string) (string, error) {
	doc, err := openFitz(path)
	if err != nil {
		return "", err
	}
	defer doc.Close()

	text, err := markdownPages(ctx, doc)
	if err == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		c.log.Warn().Err(err).Str("file", filepath.Base(path)).Msg("structured text failed, using plain text")
	}
	return plainPages(ctx, doc, c.log)
}

func markdownPages(ctx context.Context, doc *fitz.Document) (string, error) {
	parts := make([]string, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		pageHTML, err := doc.HTML(i, false)
		if err != nil {
			return "", fmt.Errorf("page %d html: %w", i+1, err)
		}
		md, err := pageHTMLToMarkdown(pageHTML)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i+1, err)
		}
		if md != "" {
			parts = append(parts, md)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// plainPages emits "--- Page N ---" sections, skipping pages without text.
// Pages that fail to extract are logged and skipped.
func plainPages(ctx context.Context, doc *fitz.Document, log zerolog.Logger) (string, error) {
	var parts []string
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := doc.Text(i)
		if err != nil {
			log.Warn().Err(err).Int("page", i+1).Msg("page text failed")
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		parts = append(parts, pageSection(i+1, text))
	}
	return strings.Join(parts, "\n\n"), nil
}

func pageSection(page int, text string) string {
	return fmt.Sprintf("--- Page %d ---\n%s", page, strings.TrimSpace(text))
}

// ExtractImages returns every embedded raster image. Images that cannot be
// read are skipped, and a document whose object structure cannot be parsed
// yields no images.
func (c *FastConverter) ExtractImages(ctx context.Context, path string) ([]ExtractedImage, error) {
	out := []ExtractedImage{}
	pdfCtx, err := readStructure(path)
	if err != nil {
		c.log.Warn().Err(err).Str("file", filepath.Base(path)).Msg("skipping embedded images")
		return out, nil
	}

	for page := 1; page <= pdfCtx.PageCount; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		imgs, err := pageImages(pdfCtx, page, false)
		if err != nil {
			c.log.Warn().Err(err).Int("page", page).Msg("skipping page images")
			continue
		}
		order := 0
		for _, raw := range imgs {
			img, err := decodeEmbedded(raw)
			if err != nil {
				c.log.Warn().Err(err).Int("page", page).Msg("skipping image")
				continue
			}
			img.PageNumber = page
			img.OrderInPage = order
			order++
			out = append(out, img)
		}
	}
	c.log.Debug().Int("images", len(out)).Str("file", filepath.Base(path)).Msg("images extracted")
	return out, nil
}

func (c *FastConverter) ExtractTables(ctx context.Context, path string) ([]ExtractedTable, error) {
	return []ExtractedTable{}, nil
}

func (c *FastConverter) PageCount(ctx context.Context, path string) (int, error) {
	return countPages(path)
}

func (c *FastConverter) Convert(ctx context.Context, path string) (*ConversionResult, error) {
	return convert(ctx, c, path)
}
