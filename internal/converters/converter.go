// Package converters turns PDF files into text, images and tables using one
// of a fixed set of extraction strategies.
package converters

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ExtractedImage is a raster image pulled out of a page. Ownership passes to
// the caller, which persists it.
type ExtractedImage struct {
	Data        []byte
	PageNumber  int // 1-based
	OrderInPage int // 0-based
	Width       int
	Height      int
	MIMEType    string
}

// Extension is the file extension derived from the MIME subtype.
func (img ExtractedImage) Extension() string {
	if i := strings.LastIndex(img.MIMEType, "/"); i != -1 {
		return img.MIMEType[i+1:]
	}
	return img.MIMEType
}

// ExtractedTable holds a table detected on a page. Rows are not required to
// have the same number of cells as Headers.
type ExtractedTable struct {
	Headers    []string   `json:"headers"`
	Rows       [][]string `json:"rows"`
	PageNumber int        `json:"page_number"`
}

// ConversionResult is everything a strategy extracted from one document.
type ConversionResult struct {
	Text      string
	Images    []ExtractedImage
	Tables    []ExtractedTable
	PageCount int
}

// Converter is one extraction strategy.
type Converter interface {
	ID() string
	ExtractText(ctx context.Context, path string) (string, error)
	ExtractImages(ctx context.Context, path string) ([]ExtractedImage, error)
	ExtractTables(ctx context.Context, path string) ([]ExtractedTable, error)
	PageCount(ctx context.Context, path string) (int, error)
	Convert(ctx context.Context, path string) (*ConversionResult, error)
}

// ErrOpenDocument wraps failures to open a PDF at all. It is the only
// extraction failure that aborts a conversion.
var ErrOpenDocument = errors.New("cannot open pdf")

// UnknownConverterError is returned for identifiers outside the catalog.
type UnknownConverterError struct {
	ID string
}

func (e *UnknownConverterError) Error() string {
	return "unknown converter: " + e.ID
}

// convert runs the four extraction operations of c one after another and
// assembles the result.
func convert(ctx context.Context, c Converter, path string) (*ConversionResult, error) {
	pages, err := c.PageCount(ctx, path)
	if err != nil {
		return nil, err
	}
	text, err := c.ExtractText(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%s: extract text: %w", c.ID(), err)
	}
	images, err := c.ExtractImages(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%s: extract images: %w", c.ID(), err)
	}
	tables, err := c.ExtractTables(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%s: extract tables: %w", c.ID(), err)
	}
	return &ConversionResult{
		Text:      text,
		Images:    images,
		Tables:    tables,
		PageCount: pages,
	}, nil
}
