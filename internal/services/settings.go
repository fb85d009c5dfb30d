package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"repage/internal/converters"
	"repage/internal/llm"
	"repage/internal/models"
)

var (
	OpenAIModels    = []string{"gpt-4o-mini", "gpt-4o"}
	AnthropicModels = []string{"claude-3-haiku-20240307", "claude-3-5-sonnet-20241022"}
)

// SettingsService owns per-user converter choice, API keys and models.
type SettingsService struct {
	db               *sql.DB
	box              *SecretBox
	defaultConverter string
}

func NewSettingsService(db *sql.DB, box *SecretBox, defaultConverter string) *SettingsService {
	if defaultConverter == "" {
		defaultConverter = converters.IDFast
	}
	return &SettingsService{db: db, box: box, defaultConverter: defaultConverter}
}

// WithDB returns a copy of s bound to conn.
func (s *SettingsService) WithDB(conn *sql.DB) *SettingsService {
	return &SettingsService{db: conn, box: s.box, defaultConverter: s.defaultConverter}
}

func (s *SettingsService) get(ctx context.Context, userID int64) (*models.UserSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, current_converter, openai_api_key_enc, anthropic_api_key_enc, openai_model, anthropic_model, updated_at
		FROM user_settings WHERE user_id = ?;
	`, userID)
	var st models.UserSettings
	if err := row.Scan(
		&st.UserID,
		&st.CurrentConverter,
		&st.OpenAIKeyEncrypted,
		&st.AnthropicKeyEncrypted,
		&st.OpenAIModel,
		&st.AnthropicModel,
		&st.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &st, nil
}

// GetOrCreate returns the user's settings, inserting defaults on first use.
func (s *SettingsService) GetOrCreate(ctx context.Context, userID int64) (*models.UserSettings, error) {
	st, err := s.get(ctx, userID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan settings: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO user_settings (user_id, current_converter, updated_at) VALUES (?, ?, ?);
	`, userID, s.defaultConverter, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("insert settings: %w", err)
	}
	st, err = s.get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("scan settings: %w", err)
	}
	return st, nil
}

func (s *SettingsService) UpdateConverter(ctx context.Context, userID int64, id string) (*models.UserSettings, error) {
	if !converters.Known(id) {
		return nil, newAppError(CodeUnknownConverter, "unknown converter: "+id, nil)
	}
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE user_settings SET current_converter = ?, updated_at = ? WHERE user_id = ?;
	`, id, time.Now().UTC(), userID); err != nil {
		return nil, fmt.Errorf("update converter: %w", err)
	}
	return s.GetOrCreate(ctx, userID)
}

// UpdateAPIKeys changes the keys that are non-nil. An empty string clears
// the stored key.
func (s *SettingsService) UpdateAPIKeys(ctx context.Context, userID int64, openaiKey, anthropicKey *string) (*models.UserSettings, error) {
	st, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if st.OpenAIKeyEncrypted, err = s.sealKey(openaiKey, st.OpenAIKeyEncrypted); err != nil {
		return nil, err
	}
	if st.AnthropicKeyEncrypted, err = s.sealKey(anthropicKey, st.AnthropicKeyEncrypted); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE user_settings SET openai_api_key_enc = ?, anthropic_api_key_enc = ?, updated_at = ? WHERE user_id = ?;
	`, st.OpenAIKeyEncrypted, st.AnthropicKeyEncrypted, time.Now().UTC(), userID); err != nil {
		return nil, fmt.Errorf("update api keys: %w", err)
	}
	return s.GetOrCreate(ctx, userID)
}

func (s *SettingsService) sealKey(plain *string, current sql.NullString) (sql.NullString, error) {
	switch {
	case plain == nil:
		return current, nil
	case *plain == "":
		return sql.NullString{}, nil
	}
	sealed, err := s.box.Seal(*plain)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encrypt api key: %w", err)
	}
	return sql.NullString{String: sealed, Valid: true}, nil
}

// UpdateModels changes the models that are non-nil, each checked against
// its provider's allowed list.
func (s *SettingsService) UpdateModels(ctx context.Context, userID int64, openaiModel, anthropicModel *string) (*models.UserSettings, error) {
	if openaiModel != nil && !slices.Contains(OpenAIModels, *openaiModel) {
		return nil, validationError("invalid OpenAI model: %s", *openaiModel)
	}
	if anthropicModel != nil && !slices.Contains(AnthropicModels, *anthropicModel) {
		return nil, validationError("invalid Anthropic model: %s", *anthropicModel)
	}
	st, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if openaiModel != nil {
		st.OpenAIModel = *openaiModel
	}
	if anthropicModel != nil {
		st.AnthropicModel = *anthropicModel
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE user_settings SET openai_model = ?, anthropic_model = ?, updated_at = ? WHERE user_id = ?;
	`, st.OpenAIModel, st.AnthropicModel, time.Now().UTC(), userID); err != nil {
		return nil, fmt.Errorf("update models: %w", err)
	}
	return s.GetOrCreate(ctx, userID)
}

// Credentials decrypts the stored keys for one run. Plaintext keys are never
// kept on the service.
func (s *SettingsService) Credentials(ctx context.Context, userID int64) (llm.Credentials, *models.UserSettings, error) {
	st, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return llm.Credentials{}, nil, err
	}
	creds := llm.Credentials{OpenAIModel: st.OpenAIModel, AnthropicModel: st.AnthropicModel}
	if st.HasOpenAIKey() {
		if creds.OpenAIKey, err = s.box.Open(st.OpenAIKeyEncrypted.String); err != nil {
			return llm.Credentials{}, nil, fmt.Errorf("openai key: %w", err)
		}
	}
	if st.HasAnthropicKey() {
		if creds.AnthropicKey, err = s.box.Open(st.AnthropicKeyEncrypted.String); err != nil {
			return llm.Credentials{}, nil, fmt.Errorf("anthropic key: %w", err)
		}
	}
	return creds, st, nil
}
