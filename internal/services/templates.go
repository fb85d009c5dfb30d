package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"repage/internal/models"
)

const (
	maxTemplateName = 200
	maxURLLength    = 2000
)

type TemplateInput struct {
	Name string
	URL1 string
	URL2 string
	URL3 string
}

// TemplateUpdate changes only the fields that are non-nil. An empty string
// clears url2 or url3.
type TemplateUpdate struct {
	Name *string
	URL1 *string
	URL2 *string
	URL3 *string
}

type TemplateService struct {
	db *sql.DB
}

func NewTemplateService(db *sql.DB) *TemplateService {
	return &TemplateService{db: db}
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", validationError("template name is required")
	}
	if utf8.RuneCountInString(name) > maxTemplateName {
		return "", validationError("template name must be at most %d characters", maxTemplateName)
	}
	return name, nil
}

// validateURL accepts "" (unset) or an absolute http(s) URL.
func validateURL(field, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if len(raw) > maxURLLength {
		return "", validationError("%s must be at most %d characters", field, maxURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", validationError("%s must start with http:// or https://", field)
	}
	return raw, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *TemplateService) Create(ctx context.Context, userID int64, in TemplateInput) (*models.Template, error) {
	name, err := validateName(in.Name)
	if err != nil {
		return nil, err
	}
	var urls [3]string
	for i, raw := range []string{in.URL1, in.URL2, in.URL3} {
		if urls[i], err = validateURL(fmt.Sprintf("url%d", i+1), raw); err != nil {
			return nil, err
		}
	}
	if urls[0] == "" {
		return nil, validationError("url1 is required")
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (user_id, name, url1, url2, url3, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?);
	`, userID, name, urls[0], nullString(urls[1]), nullString(urls[2]), models.TemplatePending, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert template: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert template: %w", err)
	}

	return &models.Template{
		ID:        id,
		UserID:    userID,
		Name:      name,
		URL1:      urls[0],
		URL2:      nullString(urls[1]),
		URL3:      nullString(urls[2]),
		Status:    models.TemplatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

const templateColumns = `id, user_id, name, url1, url2, url3, style_profile, status, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*models.Template, error) {
	var t models.Template
	if err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Name,
		&t.URL1,
		&t.URL2,
		&t.URL3,
		&t.StyleProfile,
		&t.Status,
		&t.ErrorMessage,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *TemplateService) Get(ctx context.Context, userID, id int64) (*models.Template, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = ? AND user_id = ?;`, id, userID)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %d: %w", id, ErrTemplateNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan template: %w", err)
	}
	return t, nil
}

// List returns one page of templates, newest first, and the total count.
// An empty status matches all.
func (s *TemplateService) List(ctx context.Context, userID int64, status string, page, limit int) ([]models.Template, int, error) {
	page, limit = NormalizePage(page, limit)

	where := `WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		where += ` AND status = ?`
		args = append(args, status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM templates `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count templates: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM templates `+where+`
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?;`, append(args, limit, (page-1)*limit)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	templates := []models.Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, *t)
	}
	return templates, total, rows.Err()
}

// NormalizePage applies the paging defaults: page 1, limit 20, at most 100.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

// Update applies in. Changing any URL discards the learned profile and puts
// the template back to pending.
func (s *TemplateService) Update(ctx context.Context, userID, id int64, in TemplateUpdate) (*models.Template, error) {
	t, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		if t.Name, err = validateName(*in.Name); err != nil {
			return nil, err
		}
	}
	urlsChanged := false
	if in.URL1 != nil {
		u, err := validateURL("url1", *in.URL1)
		if err != nil {
			return nil, err
		}
		if u == "" {
			return nil, validationError("url1 is required")
		}
		urlsChanged = urlsChanged || u != t.URL1
		t.URL1 = u
	}
	for i, pair := range []struct {
		in  *string
		dst *sql.NullString
	}{{in.URL2, &t.URL2}, {in.URL3, &t.URL3}} {
		if pair.in == nil {
			continue
		}
		u, err := validateURL(fmt.Sprintf("url%d", i+2), *pair.in)
		if err != nil {
			return nil, err
		}
		next := nullString(u)
		urlsChanged = urlsChanged || next != *pair.dst
		*pair.dst = next
	}

	if urlsChanged {
		t.StyleProfile = sql.NullString{}
		t.Status = models.TemplatePending
		t.ErrorMessage = sql.NullString{}
	}
	t.UpdatedAt = time.Now().UTC()

	if _, err := s.db.ExecContext(ctx, `
		UPDATE templates
		SET name = ?, url1 = ?, url2 = ?, url3 = ?, style_profile = ?, status = ?, error_message = ?, updated_at = ?
		WHERE id = ?;
	`, t.Name, t.URL1, t.URL2, t.URL3, t.StyleProfile, t.Status, t.ErrorMessage, t.UpdatedAt, t.ID); err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	return t, nil
}

// Delete removes a template that no conversion references.
func (s *TemplateService) Delete(ctx context.Context, userID, id int64) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	var refs int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversions WHERE template_id = ?;`, id).Scan(&refs); err != nil {
		return fmt.Errorf("count conversions: %w", err)
	}
	if refs > 0 {
		return newAppError(CodeHasConversions, "template is used by existing conversions", nil)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return nil
}

func (s *TemplateService) setStatus(ctx context.Context, id int64, status models.TemplateStatus, profile, message sql.NullString, keepProfile bool) error {
	query := `UPDATE templates SET status = ?, error_message = ?, updated_at = ?`
	args := []any{status, message, time.Now().UTC()}
	if !keepProfile {
		query += `, style_profile = ?`
		args = append(args, profile)
	}
	query += ` WHERE id = ?;`
	if _, err := s.db.ExecContext(ctx, query, append(args, id)...); err != nil {
		return fmt.Errorf("set template %d %s: %w", id, status, err)
	}
	return nil
}

func (s *TemplateService) SetLearning(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, models.TemplateLearning, sql.NullString{}, sql.NullString{}, true)
}

// SetReady stores a freshly learned profile, replacing any previous one.
func (s *TemplateService) SetReady(ctx context.Context, id int64, profileJSON string) error {
	return s.setStatus(ctx, id, models.TemplateReady, nullString(profileJSON), sql.NullString{}, false)
}

func (s *TemplateService) SetError(ctx context.Context, id int64, message string) error {
	return s.setStatus(ctx, id, models.TemplateError, sql.NullString{}, nullString(message), true)
}
