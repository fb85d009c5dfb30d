package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"repage/internal/converters"
	"repage/internal/llm"
	"repage/internal/models"
)

// Strategies is what a run needs from the strategy selector.
type Strategies interface {
	Get(id string) (converters.Converter, error)
	PageCount(ctx context.Context, path string) (int, error)
}

// SelectorFactory builds a selector for one run from that run's
// credentials.
type SelectorFactory func(defaultID string, creds llm.Credentials) Strategies

// NewSelectorFactory returns the production factory over llm.NewClient
// (or the given llm factory).
func NewSelectorFactory(factory llm.Factory, logger zerolog.Logger) SelectorFactory {
	return func(defaultID string, creds llm.Credentials) Strategies {
		return converters.NewSelector(defaultID, creds, factory, logger)
	}
}

type ConversionOptions struct {
	MaxUploadSize    int64
	DefaultConverter string
}

// ConversionService owns the conversion lifecycle: upload, background
// generation, review and approval.
type ConversionService struct {
	db          *sql.DB
	opts        ConversionOptions
	storage     *FileStorage
	box         *SecretBox
	synth       *Synthesizer
	newSelector SelectorFactory
	log         zerolog.Logger
}

func NewConversionService(
	conn *sql.DB,
	opts ConversionOptions,
	storage *FileStorage,
	box *SecretBox,
	synth *Synthesizer,
	newSelector SelectorFactory,
	logger zerolog.Logger,
) *ConversionService {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 50 << 20
	}
	return &ConversionService{
		db:          conn,
		opts:        opts,
		storage:     storage,
		box:         box,
		synth:       synth,
		newSelector: newSelector,
		log:         logger.With().Str("component", "conversions").Logger(),
	}
}

// with returns a copy of the service bound to conn.
// WithDB returns a copy of s bound to conn. Background runs use it to work
// on a handle that outlives the request.
func (s *ConversionService) WithDB(conn *sql.DB) *ConversionService {
	cp := *s
	cp.db = conn
	return &cp
}

func (s *ConversionService) templates() *TemplateService {
	return NewTemplateService(s.db)
}

func (s *ConversionService) settings() *SettingsService {
	return NewSettingsService(s.db, s.box, s.opts.DefaultConverter)
}

// Create validates and stores an upload as a new conversion in the
// uploaded state.
func (s *ConversionService) Create(ctx context.Context, userID, templateID int64, filename string, content []byte, requested string) (*models.Conversion, error) {
	tmpl, err := s.templates().Get(ctx, userID, templateID)
	if err != nil {
		return nil, err
	}
	if !tmpl.IsReady() {
		return nil, newAppError(CodeTemplateNotReady, "template has not finished learning", nil)
	}
	if int64(len(content)) > s.opts.MaxUploadSize {
		return nil, newAppError(CodeFileTooLarge, fmt.Sprintf("file exceeds %d bytes", s.opts.MaxUploadSize), nil)
	}
	if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return nil, newAppError(CodeInvalidFileType, "only PDF files are accepted", nil)
	}
	if requested != "" && !converters.Known(requested) {
		return nil, newAppError(CodeUnknownConverter, "unknown converter: "+requested, nil)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversions (user_id, template_id, original_filename, pdf_path, status, requested_converter, created_at, updated_at)
		VALUES (?, ?, ?, '', ?, ?, ?, ?);
	`, userID, templateID, filename, models.ConversionUploading, nullString(requested), now, now)
	if err != nil {
		return nil, fmt.Errorf("insert conversion: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert conversion: %w", err)
	}

	locator, err := s.storage.SavePDF(id, bytes.NewReader(content))
	if err != nil {
		s.abandonUpload(ctx, id)
		return nil, fmt.Errorf("save pdf: %w", err)
	}

	pages := sql.NullInt64{}
	if path, err := s.storage.Path(locator); err == nil {
		n, err := s.newSelector("", llm.Credentials{}).PageCount(ctx, path)
		if err != nil {
			s.log.Warn().Err(err).Int64("conversion_id", id).Msg("page count failed")
		} else {
			pages = sql.NullInt64{Int64: int64(n), Valid: true}
		}
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE conversions SET pdf_path = ?, status = ?, page_count = ?, updated_at = ? WHERE id = ?;
	`, locator, models.ConversionUploaded, pages, time.Now().UTC(), id); err != nil {
		s.abandonUpload(ctx, id)
		return nil, fmt.Errorf("update conversion: %w", err)
	}
	return s.Get(ctx, userID, id)
}

// abandonUpload removes the row and any written file of an upload that
// never reached the uploaded state.
func (s *ConversionService) abandonUpload(ctx context.Context, id int64) {
	ctx = context.WithoutCancel(ctx)
	if err := s.storage.DeleteConversion(id); err != nil {
		s.log.Error().Err(err).Int64("conversion_id", id).Msg("failed to remove partial upload")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversions WHERE id = ?;`, id); err != nil {
		s.log.Error().Err(err).Int64("conversion_id", id).Msg("failed to remove abandoned conversion")
	}
}

const conversionColumns = `id, user_id, template_id, original_filename, pdf_path, generated_html, status,
	converter_used, requested_converter, page_count, error_message, created_at, updated_at, approved_at`

func scanConversion(row rowScanner) (*models.Conversion, error) {
	var c models.Conversion
	if err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.TemplateID,
		&c.OriginalFilename,
		&c.PDFPath,
		&c.GeneratedHTML,
		&c.Status,
		&c.ConverterUsed,
		&c.RequestedConverter,
		&c.PageCount,
		&c.ErrorMessage,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.ApprovedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *ConversionService) Get(ctx context.Context, userID, id int64) (*models.Conversion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversionColumns+` FROM conversions WHERE id = ? AND user_id = ?;`, id, userID)
	c, err := scanConversion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversion %d: %w", id, ErrConversionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversion: %w", err)
	}
	return c, nil
}

// List returns one page of conversions, newest first, and the total count.
func (s *ConversionService) List(ctx context.Context, userID int64, status string, page, limit int) ([]models.Conversion, int, error) {
	page, limit = NormalizePage(page, limit)

	where := `WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		where += ` AND status = ?`
		args = append(args, status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversions `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+conversionColumns+` FROM conversions `+where+`
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?;`, append(args, limit, (page-1)*limit)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversions: %w", err)
	}
	defer rows.Close()

	list := []models.Conversion{}
	for rows.Next() {
		c, err := scanConversion(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan conversion: %w", err)
		}
		list = append(list, *c)
	}
	return list, total, rows.Err()
}

// Run performs generation for one conversion. Failures are recorded on the
// conversion and also returned. Callers running it past the end of a request
// bind a handle of their own with WithDB.
func (s *ConversionService) Run(ctx context.Context, conversionID, userID int64) error {
	conv, err := s.Get(ctx, userID, conversionID)
	if err != nil {
		return err
	}
	log := s.log.With().Int64("conversion_id", conversionID).Logger()

	if err := s.setStatus(ctx, conversionID, models.ConversionConverting); err != nil {
		return err
	}
	log.Info().Msg("conversion started")

	if err := s.process(ctx, conv, log); err != nil {
		log.Error().Err(err).Msg("conversion failed")
		if _, setErr := s.db.ExecContext(ctx, `
			UPDATE conversions SET status = ?, error_message = ?, updated_at = ? WHERE id = ?;
		`, models.ConversionError, err.Error(), time.Now().UTC(), conversionID); setErr != nil {
			log.Error().Err(setErr).Msg("record conversion error")
		}
		return err
	}
	log.Info().Msg("conversion completed")
	return nil
}

func (s *ConversionService) setStatus(ctx context.Context, id int64, status models.ConversionStatus) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE conversions SET status = ?, updated_at = ? WHERE id = ?;
	`, status, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("set conversion %d %s: %w", id, status, err)
	}
	return nil
}

func (s *ConversionService) process(ctx context.Context, conv *models.Conversion, log zerolog.Logger) error {
	creds, st, err := s.settings().Credentials(ctx, conv.UserID)
	if err != nil {
		return err
	}

	strategyID := st.CurrentConverter
	if conv.RequestedConverter.Valid && conv.RequestedConverter.String != "" {
		strategyID = conv.RequestedConverter.String
	}
	strategy, err := s.newSelector(strategyID, creds).Get(strategyID)
	if err != nil {
		var unknown *converters.UnknownConverterError
		if errors.As(err, &unknown) {
			return newAppError(CodeUnknownConverter, unknown.Error(), nil)
		}
		return newAppError(CodeConverterError, "converter unavailable", err)
	}

	path, err := s.storage.Path(conv.PDFPath)
	if err != nil {
		return err
	}
	result, err := strategy.Convert(ctx, path)
	if err != nil {
		return newAppError(CodeConverterError, "extraction failed", err)
	}
	log.Debug().
		Str("converter", strategyID).
		Int("pages", result.PageCount).
		Int("images", len(result.Images)).
		Int("tables", len(result.Tables)).
		Msg("extraction done")

	stored, err := s.replaceImages(ctx, conv.ID, result.Images)
	if err != nil {
		return err
	}

	tmpl, err := s.templates().Get(ctx, conv.UserID, conv.TemplateID)
	if err != nil {
		return err
	}
	html := s.synth.Generate(ctx, result.Text, tmpl.StyleProfile.String, creds)
	html = InjectImages(html, conv.ID, stored)

	if _, err := s.db.ExecContext(ctx, `
		UPDATE conversions
		SET status = ?, generated_html = ?, converter_used = ?, page_count = ?, error_message = NULL, updated_at = ?
		WHERE id = ?;
	`, models.ConversionCompleted, html, strategyID, result.PageCount, time.Now().UTC(), conv.ID); err != nil {
		return fmt.Errorf("store generated html: %w", err)
	}
	return nil
}

// replaceImages drops images from any earlier run and stores the new set.
func (s *ConversionService) replaceImages(ctx context.Context, conversionID int64, images []converters.ExtractedImage) ([]models.StoredImage, error) {
	if err := s.storage.DeleteImages(conversionID); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM extracted_images WHERE conversion_id = ?;`, conversionID); err != nil {
		return nil, fmt.Errorf("delete image rows: %w", err)
	}

	stored := make([]models.StoredImage, 0, len(images))
	for _, img := range images {
		name := ImageFilename(img.PageNumber, img.OrderInPage, img.Extension())
		locator, err := s.storage.SaveImage(conversionID, name, img.Data)
		if err != nil {
			return nil, fmt.Errorf("save image %s: %w", name, err)
		}
		rec := models.StoredImage{
			ConversionID: conversionID,
			Filename:     name,
			FilePath:     locator,
			PageNumber:   img.PageNumber,
			OrderInPage:  img.OrderInPage,
			Width:        img.Width,
			Height:       img.Height,
			FileSize:     int64(len(img.Data)),
			MIMEType:     img.MIMEType,
			CreatedAt:    time.Now().UTC(),
		}
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO extracted_images (conversion_id, filename, file_path, page_number, order_in_page, width, height, file_size, mime_type, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, rec.ConversionID, rec.Filename, rec.FilePath, rec.PageNumber, rec.OrderInPage, rec.Width, rec.Height, rec.FileSize, rec.MIMEType, rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert image %s: %w", name, err)
		}
		if rec.ID, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("insert image %s: %w", name, err)
		}
		stored = append(stored, rec)
	}
	return stored, nil
}

// Approve marks a completed conversion as approved.
func (s *ConversionService) Approve(ctx context.Context, userID, id int64) (*models.Conversion, error) {
	conv, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if conv.Status != models.ConversionCompleted {
		return nil, newAppError(CodeInvalidStatus, fmt.Sprintf("conversion is %s, only completed conversions can be approved", conv.Status), nil)
	}
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `
		UPDATE conversions SET status = ?, approved_at = ?, updated_at = ? WHERE id = ?;
	`, models.ConversionApproved, now, now, id); err != nil {
		return nil, fmt.Errorf("approve conversion: %w", err)
	}
	return s.Get(ctx, userID, id)
}

// UpdateHTML stores hand-edited HTML.
func (s *ConversionService) UpdateHTML(ctx context.Context, userID, id int64, html string) (*models.Conversion, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE conversions SET generated_html = ?, updated_at = ? WHERE id = ?;
	`, html, time.Now().UTC(), id); err != nil {
		return nil, fmt.Errorf("update html: %w", err)
	}
	return s.Get(ctx, userID, id)
}

// HTML returns the generated HTML, with this conversion's images inlined
// as data URIs when embed is set.
func (s *ConversionService) HTML(ctx context.Context, userID, id int64, embed bool) (string, error) {
	conv, err := s.Get(ctx, userID, id)
	if err != nil {
		return "", err
	}
	if !conv.GeneratedHTML.Valid || conv.GeneratedHTML.String == "" {
		return "", newAppError(CodeNoHTML, "no HTML has been generated", nil)
	}
	html := conv.GeneratedHTML.String
	if embed {
		html = EmbedImages(html, id, func(filename string) ([]byte, error) {
			locator, err := s.storage.ImageLocator(id, filename)
			if err != nil {
				return nil, err
			}
			return s.storage.Read(locator)
		})
	}
	return html, nil
}

func (s *ConversionService) Images(ctx context.Context, userID, id int64) ([]models.StoredImage, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversion_id, filename, file_path, page_number, order_in_page,
			COALESCE(width, 0), COALESCE(height, 0), COALESCE(file_size, 0), COALESCE(mime_type, ''), created_at
		FROM extracted_images WHERE conversion_id = ?
		ORDER BY page_number, order_in_page;
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	images := []models.StoredImage{}
	for rows.Next() {
		var img models.StoredImage
		if err := rows.Scan(
			&img.ID,
			&img.ConversionID,
			&img.Filename,
			&img.FilePath,
			&img.PageNumber,
			&img.OrderInPage,
			&img.Width,
			&img.Height,
			&img.FileSize,
			&img.MIMEType,
			&img.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// Image returns one stored image file of a conversion.
func (s *ConversionService) Image(ctx context.Context, userID, id int64, filename string) ([]byte, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	locator, err := s.storage.ImageLocator(id, filename)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, ErrImageNotFound)
	}
	data, err := s.storage.Read(locator)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, ErrImageNotFound)
	}
	return data, nil
}

// ImagesZip returns a zip of every stored image, or NO_IMAGES.
func (s *ConversionService) ImagesZip(ctx context.Context, userID, id int64) ([]byte, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	n, err := s.storage.WriteImagesZip(&buf, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, newAppError(CodeNoImages, "conversion has no images", nil)
	}
	return buf.Bytes(), nil
}

// Delete removes a conversion with its files.
func (s *ConversionService) Delete(ctx context.Context, userID, id int64) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	if err := s.storage.DeleteConversion(id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversions WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("delete conversion: %w", err)
	}
	return nil
}
