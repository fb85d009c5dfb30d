package converters

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"repage/internal/llm"
)

const (
	IDOpenAI = "openai"
	IDClaude = "claude"

	visionConcurrency = 4
	visionPageTimeout = 2 * time.Minute
	tableTokenBudget  = 4000
)

const transcriptionPrompt = `You are an expert OCR transcriber. Transcribe all text in this page image exactly, keeping the original language (do not translate Japanese or any other language), and structure it as Markdown:

# Top-level heading (largest font)
## Section heading (next largest)
### Sub-heading (bold or emphasized)

Plain paragraph text.

- Bulleted items (lines starting with ・, ●, ○, - and similar)

1. Numbered items (lines starting with (1), ①, 1. and similar)

> Quotations or boxed notes

Rules:
- Reproduce statute and document numbers exactly.
- Keep full-width brackets and full-width digits as printed.
- Do not confuse kanji numerals with Arabic numerals.
- Do not insert line breaks inside a paragraph.
- Output only the transcription.`

const tablePrompt = `If this page image contains tables, extract every table.
Return strictly this JSON and nothing else:
{"tables": [{"headers": ["col1", "col2"], "rows": [["v1", "v2"]]}]}
If there are no tables, return {"tables": []}.`

// VisionConverter transcribes rendered pages through a vision model. Image
// extraction is delegated to the fast local strategy.
type VisionConverter struct {
	id         string
	client     llm.Client
	images     *FastConverter
	textTokens int
	log        zerolog.Logger
}

// NewOpenAIVisionConverter builds the "openai" strategy.
func NewOpenAIVisionConverter(client llm.Client, logger zerolog.Logger) *VisionConverter {
	return newVisionConverter(IDOpenAI, client, 8000, logger)
}

// NewClaudeVisionConverter builds the "claude" strategy. Haiku-class models
// get the smaller text budget.
func NewClaudeVisionConverter(client llm.Client, model string, logger zerolog.Logger) *VisionConverter {
	budget := 8000
	if strings.Contains(model, "haiku") {
		budget = 4096
	}
	return newVisionConverter(IDClaude, client, budget, logger)
}

func newVisionConverter(id string, client llm.Client, textTokens int, logger zerolog.Logger) *VisionConverter {
	return &VisionConverter{
		id:         id,
		client:     client,
		images:     NewFastConverter(logger),
		textTokens: textTokens,
		log:        logger.With().Str("converter", id).Logger(),
	}
}

func (c *VisionConverter) ID() string { return c.id }

// ExtractText transcribes every page. Any failed page call fails the whole
// operation; pages with an empty transcription are left out.
func (c *VisionConverter) ExtractText(ctx context.Context, path string) (string, error) {
	pages, err := c.eachPage(ctx, path, llm.Request{Prompt: transcriptionPrompt, MaxTokens: c.textTokens},
		func(page int, out string, err error) (string, error) {
			if err != nil {
				return "", fmt.Errorf("transcribe page %d: %w", page, err)
			}
			return out, nil
		})
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(pages))
	for i, text := range pages {
		if strings.TrimSpace(text) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", i+1, text))
	}
	return strings.Join(parts, "\n\n"), nil
}

// tablePayload is the answer to tablePrompt. Cells arrive as strings,
// numbers, booleans or null.
type tablePayload struct {
	Tables []struct {
		Headers []any `json:"headers"`
		Rows    []any `json:"rows"`
	} `json:"tables"`
}

func cellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func cellTexts(vs []any) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = cellText(v)
	}
	return out
}

// ExtractTables asks the model for tables page by page. Pages whose answer
// fails or cannot be parsed contribute nothing.
func (c *VisionConverter) ExtractTables(ctx context.Context, path string) ([]ExtractedTable, error) {
	pages, err := c.eachPage(ctx, path, llm.Request{Prompt: tablePrompt, MaxTokens: tableTokenBudget},
		func(page int, out string, err error) (string, error) {
			if err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				c.log.Warn().Err(err).Int("page", page).Msg("table pass failed")
				return "", nil
			}
			return out, nil
		})
	if err != nil {
		return nil, err
	}

	tables := []ExtractedTable{}
	for i, out := range pages {
		if out == "" {
			continue
		}
		tables = append(tables, parseVisionTables(out, i+1, c.log)...)
	}
	return tables, nil
}

func parseVisionTables(out string, page int, log zerolog.Logger) []ExtractedTable {
	var payload tablePayload
	if err := llm.ParseJSONResponse(out, &payload); err != nil {
		log.Warn().Err(err).Int("page", page).Msg("skipping unparseable table response")
		return nil
	}
	tables := make([]ExtractedTable, 0, len(payload.Tables))
	for _, t := range payload.Tables {
		rows := make([][]string, 0, len(t.Rows))
		for _, r := range t.Rows {
			if cells, ok := r.([]any); ok {
				rows = append(rows, cellTexts(cells))
			} else {
				rows = append(rows, []string{cellText(r)})
			}
		}
		tables = append(tables, ExtractedTable{Headers: cellTexts(t.Headers), Rows: rows, PageNumber: page})
	}
	return tables
}

// eachPage renders every page and sends it with req, at most
// visionConcurrency calls in flight. handle sees each result and may turn it
// into a fatal error. Results come back in page order.
func (c *VisionConverter) eachPage(
	ctx context.Context,
	path string,
	req llm.Request,
	handle func(page int, out string, err error) (string, error),
) ([]string, error) {
	doc, err := openFitz(path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	n := doc.NumPage()
	results := make([]string, n)

	// MuPDF documents are not safe for concurrent rendering.
	var renderMu sync.Mutex
	render := func(i int) ([]byte, error) {
		renderMu.Lock()
		defer renderMu.Unlock()
		return renderVisionPage(doc, i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(visionConcurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			png, err := render(i)
			if err != nil {
				return err
			}
			callCtx, cancel := context.WithTimeout(gctx, visionPageTimeout)
			defer cancel()

			r := req
			r.Image = png
			out, callErr := c.client.Complete(callCtx, r)
			out, err = handle(i+1, out, callErr)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	c.log.Debug().Int("pages", n).Str("file", filepath.Base(path)).Msg("vision pass done")
	return results, nil
}

func (c *VisionConverter) ExtractImages(ctx context.Context, path string) ([]ExtractedImage, error) {
	return c.images.ExtractImages(ctx, path)
}

func (c *VisionConverter) PageCount(ctx context.Context, path string) (int, error) {
	return countPages(path)
}

func (c *VisionConverter) Convert(ctx context.Context, path string) (*ConversionResult, error) {
	return convert(ctx, c, path)
}
