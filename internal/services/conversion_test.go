package services

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repage/internal/converters"
	"repage/internal/models"
)

type conversionFixture struct {
	conn       *sql.DB
	svc        *ConversionService
	settings   *SettingsService
	storage    *FileStorage
	strategies *fakeStrategies
	client     *fakeClient
	template   *models.Template
}

func newConversionFixture(t *testing.T) *conversionFixture {
	t.Helper()
	conn := openTestDB(t)
	storage, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	box := testBox(t)

	f := &conversionFixture{
		conn:     conn,
		storage:  storage,
		settings: NewSettingsService(conn, box, converters.IDFast),
		strategies: &fakeStrategies{
			pages: 2,
			conv: &fakeConverter{
				id: converters.IDFast,
				result: &converters.ConversionResult{
					Text: "--- Page 1 ---\n\n# Report\n\n--- Page 2 ---\n\nClosing words",
					Images: []converters.ExtractedImage{
						{Data: []byte("png-1"), PageNumber: 1, OrderInPage: 0, Width: 120, Height: 80, MIMEType: "image/png"},
						{Data: []byte("jpg-2"), PageNumber: 2, OrderInPage: 0, MIMEType: "image/jpeg"},
					},
					Tables:    []converters.ExtractedTable{},
					PageCount: 2,
				},
			},
		},
		client:   &fakeClient{reply: "```html\n<article class='post'><h1>Report</h1></article>\n```"},
		template: seedReadyTemplate(t, conn),
	}
	f.svc = NewConversionService(
		conn,
		ConversionOptions{MaxUploadSize: 1024, DefaultConverter: converters.IDFast},
		storage,
		box,
		NewSynthesizer(factoryFor(f.client), nopLogger),
		f.strategies.factory(),
		nopLogger,
	)
	return f
}

func (f *conversionFixture) upload(t *testing.T) *models.Conversion {
	t.Helper()
	conv, err := f.svc.Create(context.Background(), models.DefaultUserID, f.template.ID, "Report.PDF", []byte("%PDF-1.4"), "")
	require.NoError(t, err)
	return conv
}

func TestConversionCreate(t *testing.T) {
	f := newConversionFixture(t)
	conv := f.upload(t)

	assert.Equal(t, models.ConversionUploaded, conv.Status)
	assert.Equal(t, "Report.PDF", conv.OriginalFilename)
	assert.Equal(t, int64(2), conv.PageCount.Int64)
	assert.True(t, strings.HasPrefix(conv.PDFPath, "uploads/"))
	assert.False(t, conv.GeneratedHTML.Valid)

	data, err := f.storage.Read(conv.PDFPath)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))
}

func TestConversionCreatePageCountFailureIsNotFatal(t *testing.T) {
	f := newConversionFixture(t)
	f.strategies.pageErr = errors.New("broken xref")

	conv := f.upload(t)
	assert.Equal(t, models.ConversionUploaded, conv.Status)
	assert.False(t, conv.PageCount.Valid)
}

func TestConversionCreateStorageFailureLeavesNothingBehind(t *testing.T) {
	f := newConversionFixture(t)
	ctx := context.Background()

	// A plain file where the first conversion's upload directory belongs.
	blocker := filepath.Join(f.storage.root, "uploads", "1")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := f.svc.Create(ctx, models.DefaultUserID, f.template.ID, "a.pdf", []byte("%PDF-1.4"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save pdf")

	var rows int
	require.NoError(t, f.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversions;`).Scan(&rows))
	assert.Zero(t, rows)
	_, err = os.Stat(blocker)
	assert.True(t, errors.Is(err, os.ErrNotExist), "partial upload is removed")

	conv := f.upload(t)
	assert.Equal(t, models.ConversionUploaded, conv.Status)
}

func TestConversionCreateValidation(t *testing.T) {
	f := newConversionFixture(t)
	ctx := context.Background()

	pending, err := NewTemplateService(f.conn).Create(ctx, models.DefaultUserID, TemplateInput{Name: "p", URL1: "https://p.example"})
	require.NoError(t, err)

	tests := []struct {
		name       string
		templateID int64
		filename   string
		size       int
		converter  string
		want       string
	}{
		{"template missing", 999, "a.pdf", 10, "", CodeTemplateNotFound},
		{"template not ready", pending.ID, "a.pdf", 10, "", CodeTemplateNotReady},
		{"too large", f.template.ID, "a.pdf", 1025, "", CodeFileTooLarge},
		{"not a pdf", f.template.ID, "a.docx", 10, "", CodeInvalidFileType},
		{"size checked before type", f.template.ID, "a.docx", 2048, "", CodeFileTooLarge},
		{"unknown converter", f.template.ID, "a.pdf", 10, "ocrmypdf", CodeUnknownConverter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, models.DefaultUserID, tt.templateID, tt.filename, bytes.Repeat([]byte("x"), tt.size), tt.converter)
			require.Error(t, err)
			assert.Equal(t, tt.want, CodeOf(err))
		})
	}

	_, total, err := f.svc.List(ctx, models.DefaultUserID, "", 1, 20)
	require.NoError(t, err)
	assert.Zero(t, total, "rejected uploads leave no rows")
}

func TestConversionRun(t *testing.T) {
	f := newConversionFixture(t)
	ctx := context.Background()
	_, err := f.settings.UpdateAPIKeys(ctx, models.DefaultUserID, nil, strPtr("sk-ant"))
	require.NoError(t, err)
	conv := f.upload(t)

	require.NoError(t, f.svc.Run(ctx, conv.ID, models.DefaultUserID))

	got, err := f.svc.Get(ctx, models.DefaultUserID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversionCompleted, got.Status)
	assert.Equal(t, converters.IDFast, got.ConverterUsed.String)
	assert.Equal(t, int64(2), got.PageCount.Int64)
	assert.False(t, got.ErrorMessage.Valid)

	html := got.GeneratedHTML.String
	assert.Contains(t, html, "<article class='post'><h1>Report</h1>")
	assert.Contains(t, html, "<div class=\"pdf-images\">")
	assert.Less(t, strings.Index(html, "pdf-images\">"), strings.LastIndex(html, "</article>"), "images go inside the article")
	assert.Contains(t, html, `src="/api/conversions/`)
	assert.Contains(t, html, `alt="Page 1 Image 0" width="120" height="80"`)

	require.Len(t, f.strategies.conv.paths, 1)
	pdfPath, err := f.storage.Path(conv.PDFPath)
	require.NoError(t, err)
	assert.Equal(t, pdfPath, f.strategies.conv.paths[0])
	assert.Equal(t, []string{converters.IDFast}, f.strategies.requested)

	images, err := f.svc.Images(ctx, models.DefaultUserID, conv.ID)
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "page1_0.png", images[0].Filename)
	assert.Equal(t, "page2_0.jpeg", images[1].Filename)
	assert.Equal(t, int64(5), images[0].FileSize)
	assert.Equal(t, "image/jpeg", images[1].MIMEType)

	require.Equal(t, 1, f.client.calls())
	assert.Contains(t, f.client.reqs[0].Prompt, "Closing words")
}

func TestConversionRunUsesBoundHandle(t *testing.T) {
	f := newConversionFixture(t)
	ctx := context.Background()
	conv := f.upload(t)

	closed := openTestDB(t)
	require.NoError(t, closed.Close())
	detached := f.svc.WithDB(closed)
	assert.Error(t, detached.Run(ctx, conv.ID, models.DefaultUserID))

	require.NoError(t, detached.WithDB(f.conn).Run(ctx, conv.ID, models.DefaultUserID))
	got, err := f.svc.Get(ctx, models.DefaultUserID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversionCompleted, got.Status)
}

func TestConversionRunReplacesImages(t *testing.T) {
	f := newConversionFixture(t)
	ctx := context.Background()
	conv := f.upload(t)

	require.NoError(t, f.svc.Run(ctx, conv.ID, models.DefaultUserID))
	f.strategies.conv.result.Images = f.strategies.conv.result.Images[1:]
	require.NoError(t, f.svc.Run(ctx, conv.ID, models.DefaultUserID))

	images, err := f.svc.Images(ctx, models.DefaultUserID, conv.ID)
	require.NoError(t, err)
	require.Len(t, images, 1)
	names, err := f.storage.ListImages(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"page2_0.jpeg"}, names)
}

func TestConversionRunWithoutKeysUsesLocalStyling(t *testing.T) {
	f := newConversionFixture(t)
	ctx := context.Background()
	conv := f.upload(t)

	require.NoError(t, f.svc.Run(ctx, conv.ID, models.DefaultUserID))
	got, err := f.svc.Get(ctx, models.DefaultUserID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversionCompleted, got.Status)
	assert.Contains(t, got.GeneratedHTML.String, "<h1>Report</h1>")
	assert.Contains(t, got.GeneratedHTML.String, ".site-body")
	assert.Zero(t, f.client.calls())
}

func TestConversionRunFailure(t *testing.T) {
	f := newConversionFixture(t)
	ctx := context.Background()
	f.strategies.conv.err = converters.ErrOpenDocument
	conv := f.upload(t)

	err := f.svc.Run(ctx, conv.ID, models.DefaultUserID)
	require.Error(t, err)
	assert.Equal(t, CodeConverterError, CodeOf(err))
	assert.ErrorIs(t, err, converters.ErrOpenDocument)

	got, err := f.svc.Get(ctx, models.DefaultUserID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversionError, got.Status)
	assert.Contains(t, got.ErrorMessage.String, "cannot open pdf")
	assert.False(t, got.GeneratedHTML.Valid, "html untouched on failure")
}

func TestConversionRunUnknownRequestedConverter(t *testing.T) {
	f := newConversionFixture(t)
	ctx := context.Background()
	conv := f.upload(t)
	_, err := f.conn.Exec(`UPDATE conversions SET requested_converter = 'gone' WHERE id = ?`, conv.ID)
	require.NoError(t, err)

	err = f.svc.Run(ctx, conv.ID, models.DefaultUserID)
	assert.Equal(t, CodeUnknownConverter, CodeOf(err))
	got, err := f.svc.Get(ctx, models.DefaultUserID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversionError, got.Status)
}

func TestConversionRunPrefersRequestedConverter(t *testing.T) {
	f := newConversionFixture(t)
	ctx := context.Background()
	_, err := f.settings.UpdateConverter(ctx, models.DefaultUserID, converters.IDClaude)
	require.NoError(t, err)

	conv, err := f.svc.Create(ctx, models.DefaultUserID, f.template.ID, "a.pdf", []byte("%PDF"), converters.IDTables)
	require.NoError(t, err)
	require.NoError(t, f.svc.Run(ctx, conv.ID, models.DefaultUserID))
	assert.Equal(t, []string{converters.IDTables}, f.strategies.requested)

	other := f.upload(t)
	require.NoError(t, f.svc.Run(ctx, other.ID, models.DefaultUserID))
	assert.Equal(t, converters.IDClaude, f.strategies.requested[1], "falls back to the user's current strategy")
}

func TestConversionApprove(t *testing.T) {
	f := newConversionFixture(t)
	ctx := context.Background()
	conv := f.upload(t)

	_, err := f.svc.Approve(ctx, models.DefaultUserID, conv.ID)
	assert.Equal(t, CodeInvalidStatus, CodeOf(err))

	require.NoError(t, f.svc.Run(ctx, conv.ID, models.DefaultUserID))
	approved, err := f.svc.Approve(ctx, models.DefaultUserID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversionApproved, approved.Status)
	assert.True(t, approved.ApprovedAt.Valid)
	assert.True(t, approved.IsConverted())

	_, err = f.svc.Approve(ctx, models.DefaultUserID, 999)
	assert.ErrorIs(t, err, ErrConversionNotFound)
}

func TestConversionHTML(t *testing.T) {
	f := newConversionFixture(t)
	ctx := context.Background()
	conv := f.upload(t)

	_, err := f.svc.HTML(ctx, models.DefaultUserID, conv.ID, true)
	assert.Equal(t, CodeNoHTML, CodeOf(err))

	require.NoError(t, f.svc.Run(ctx, conv.ID, models.DefaultUserID))

	raw, err := f.svc.HTML(ctx, models.DefaultUserID, conv.ID, false)
	require.NoError(t, err)
	assert.Contains(t, raw, ImageURL(conv.ID, "page1_0.png"))

	embedded, err := f.svc.HTML(ctx, models.DefaultUserID, conv.ID, true)
	require.NoError(t, err)
	assert.NotContains(t, embedded, ImageURL(conv.ID, "page1_0.png"))
	assert.Contains(t, embedded, "data:image/png;base64,"+base64.StdEncoding.EncodeToString([]byte("png-1")))
	assert.Contains(t, embedded, "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString([]byte("jpg-2")))

	updated, err := f.svc.UpdateHTML(ctx, models.DefaultUserID, conv.ID, "<p>edited</p>")
	require.NoError(t, err)
	assert.Equal(t, "<p>edited</p>", updated.GeneratedHTML.String)
	assert.Equal(t, models.ConversionCompleted, updated.Status)
}

func TestConversionImagesAndZip(t *testing.T) {
	f := newConversionFixture(t)
	ctx := context.Background()
	conv := f.upload(t)

	_, err := f.svc.ImagesZip(ctx, models.DefaultUserID, conv.ID)
	assert.Equal(t, CodeNoImages, CodeOf(err))

	require.NoError(t, f.svc.Run(ctx, conv.ID, models.DefaultUserID))

	data, err := f.svc.ImagesZip(ctx, models.DefaultUserID, conv.ID)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Len(t, zr.File, 2)

	img, err := f.svc.Image(ctx, models.DefaultUserID, conv.ID, "page2_0.jpeg")
	require.NoError(t, err)
	assert.Equal(t, "jpg-2", string(img))

	_, err = f.svc.Image(ctx, models.DefaultUserID, conv.ID, "nope.png")
	assert.Equal(t, CodeImageNotFound, CodeOf(err))
	_, err = f.svc.Image(ctx, models.DefaultUserID, conv.ID, "../../uploads/x.pdf")
	assert.Equal(t, CodeImageNotFound, CodeOf(err))
}

func TestConversionListAndDelete(t *testing.T) {
	f := newConversionFixture(t)
	ctx := context.Background()
	first := f.upload(t)
	second := f.upload(t)
	require.NoError(t, f.svc.Run(ctx, second.ID, models.DefaultUserID))

	list, total, err := f.svc.List(ctx, models.DefaultUserID, "", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	done, total, err := f.svc.List(ctx, models.DefaultUserID, string(models.ConversionCompleted), 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, second.ID, done[0].ID)

	require.NoError(t, f.svc.Delete(ctx, models.DefaultUserID, second.ID))
	_, err = f.svc.Get(ctx, models.DefaultUserID, second.ID)
	assert.ErrorIs(t, err, ErrConversionNotFound)

	var rows int
	require.NoError(t, f.conn.QueryRow(`SELECT COUNT(*) FROM extracted_images WHERE conversion_id = ?`, second.ID).Scan(&rows))
	assert.Zero(t, rows, "image rows cascade")
	names, err := f.storage.ListImages(second.ID)
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = f.svc.Get(ctx, models.DefaultUserID, first.ID)
	assert.NoError(t, err)
}
