package services

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"repage/internal/browser"
	"repage/internal/converters"
	"repage/internal/db"
	"repage/internal/llm"
	"repage/internal/models"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "repage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func testBox(t *testing.T) *SecretBox {
	t.Helper()
	box, err := NewSecretBox("test-secret")
	require.NoError(t, err)
	return box
}

type fakeClient struct {
	mu    sync.Mutex
	reply string
	err   error
	reqs  []llm.Request
}

func (f *fakeClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.reply, f.err
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func factoryFor(client llm.Client) llm.Factory {
	return func(llm.Provider, string, string) (llm.Client, error) {
		return client, nil
	}
}

// forbiddenFactory fails the test if any client is requested.
func forbiddenFactory(t *testing.T) llm.Factory {
	return func(p llm.Provider, _, _ string) (llm.Client, error) {
		t.Errorf("unexpected %s client request", p)
		return nil, llm.ErrNoCredentials
	}
}

type fakeFetcher struct {
	pages []browser.Page
	err   error
	urls  []string
}

func (f *fakeFetcher) FetchPages(ctx context.Context, urls []string) ([]browser.Page, error) {
	f.urls = append(f.urls, urls...)
	return f.pages, f.err
}

type fakeConverter struct {
	id     string
	result *converters.ConversionResult
	err    error
	paths  []string
}

func (f *fakeConverter) ID() string { return f.id }

func (f *fakeConverter) ExtractText(ctx context.Context, path string) (string, error) {
	return f.result.Text, f.err
}

func (f *fakeConverter) ExtractImages(ctx context.Context, path string) ([]converters.ExtractedImage, error) {
	return f.result.Images, f.err
}

func (f *fakeConverter) ExtractTables(ctx context.Context, path string) ([]converters.ExtractedTable, error) {
	return f.result.Tables, f.err
}

func (f *fakeConverter) PageCount(ctx context.Context, path string) (int, error) {
	return f.result.PageCount, f.err
}

func (f *fakeConverter) Convert(ctx context.Context, path string) (*converters.ConversionResult, error) {
	f.paths = append(f.paths, path)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeStrategies struct {
	conv      *fakeConverter
	pages     int
	pageErr   error
	requested []string
}

func (f *fakeStrategies) Get(id string) (converters.Converter, error) {
	f.requested = append(f.requested, id)
	if !converters.Known(id) {
		return nil, &converters.UnknownConverterError{ID: id}
	}
	return f.conv, nil
}

func (f *fakeStrategies) PageCount(ctx context.Context, path string) (int, error) {
	return f.pages, f.pageErr
}

func (f *fakeStrategies) factory() SelectorFactory {
	return func(string, llm.Credentials) Strategies { return f }
}

const testProfile = `{
  "site_name": "Example News",
  "base_url": "https://example.com",
  "design_system": {
    "colors": {"primary": "#aa0000", "text": "#111111"},
    "typography": {"font_family": "Georgia, serif", "line_height": 1.6}
  },
  "html_templates": {"heading_h1": "<h1 class='title'>{text}</h1>"},
  "inline_css": ".site-body { margin: 0; }",
  "special_features": ["red headings", "boxed quotes"],
  "conversion_instructions": "Use short paragraphs."
}`

// seedReadyTemplate inserts a template that already has testProfile.
func seedReadyTemplate(t *testing.T, conn *sql.DB) *models.Template {
	t.Helper()
	ctx := context.Background()
	svc := NewTemplateService(conn)
	tmpl, err := svc.Create(ctx, models.DefaultUserID, TemplateInput{Name: "News", URL1: "https://example.com/a"})
	require.NoError(t, err)
	require.NoError(t, svc.SetReady(ctx, tmpl.ID, testProfile))
	tmpl, err = svc.Get(ctx, models.DefaultUserID, tmpl.ID)
	require.NoError(t, err)
	return tmpl
}

var nopLogger = zerolog.Nop()
