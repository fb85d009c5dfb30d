package api

import (
	"database/sql"
	"encoding/json"
	"time"

	"repage/internal/converters"
	"repage/internal/models"
	"repage/internal/services"
)

type convertersResponse struct {
	Available []converters.CatalogEntry `json:"available"`
	Current   string                    `json:"current"`
}

type listResponse[T any] struct {
	Items   []T  `json:"items"`
	Total   int  `json:"total"`
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	HasNext bool `json:"has_next"`
}

func newListResponse[T any](items []T, total, page, limit int) listResponse[T] {
	return listResponse[T]{
		Items:   items,
		Total:   total,
		Page:    page,
		Limit:   limit,
		HasNext: page*limit < total,
	}
}

func nullString(v sql.NullString) *string {
	if v.Valid {
		str := v.String
		return &str
	}
	return nil
}

func nullInt(v sql.NullInt64) *int64 {
	if v.Valid {
		n := v.Int64
		return &n
	}
	return nil
}

func nullTime(t sql.NullTime) *time.Time {
	if t.Valid {
		tt := t.Time
		return &tt
	}
	return nil
}

type templateResponse struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	URL1         string          `json:"url1"`
	URL2         *string         `json:"url2"`
	URL3         *string         `json:"url3"`
	Status       string          `json:"status"`
	ErrorMessage *string         `json:"error_message"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	LearnedRules json.RawMessage `json:"learned_rules,omitempty"`
}

func toTemplateResponse(t *models.Template, withProfile bool) templateResponse {
	resp := templateResponse{
		ID:           t.ID,
		Name:         t.Name,
		URL1:         t.URL1,
		URL2:         nullString(t.URL2),
		URL3:         nullString(t.URL3),
		Status:       string(t.Status),
		ErrorMessage: nullString(t.ErrorMessage),
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
	if withProfile && t.StyleProfile.Valid && json.Valid([]byte(t.StyleProfile.String)) {
		resp.LearnedRules = json.RawMessage(t.StyleProfile.String)
	}
	return resp
}

type conversionResponse struct {
	ID               int64     `json:"id"`
	TemplateID       int64     `json:"template_id"`
	OriginalFilename string    `json:"original_filename"`
	Status           string    `json:"status"`
	PageCount        *int64    `json:"page_count"`
	ConverterUsed    *string   `json:"converter_used"`
	ConverterType    *string   `json:"converter_type"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toConversionResponse(c *models.Conversion) conversionResponse {
	used := nullString(c.ConverterUsed)
	return conversionResponse{
		ID:               c.ID,
		TemplateID:       c.TemplateID,
		OriginalFilename: c.OriginalFilename,
		Status:           string(c.Status),
		PageCount:        nullInt(c.PageCount),
		ConverterUsed:    used,
		ConverterType:    used,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

type templateRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type imageResponse struct {
	ID          int64  `json:"id"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	PageNumber  int    `json:"page_number"`
	OrderInPage int    `json:"order_in_page"`
	Width       *int   `json:"width"`
	Height      *int   `json:"height"`
}

func toImageResponse(img models.StoredImage) imageResponse {
	resp := imageResponse{
		ID:          img.ID,
		Filename:    img.Filename,
		URL:         services.ImageURL(img.ConversionID, img.Filename),
		PageNumber:  img.PageNumber,
		OrderInPage: img.OrderInPage,
	}
	if img.Width > 0 {
		w := img.Width
		resp.Width = &w
	}
	if img.Height > 0 {
		h := img.Height
		resp.Height = &h
	}
	return resp
}

type conversionDetailResponse struct {
	conversionResponse
	GeneratedHTML *string         `json:"generated_html"`
	Template      *templateRef    `json:"template"`
	Images        []imageResponse `json:"images"`
	ErrorMessage  *string         `json:"error_message"`
	ApprovedAt    *time.Time      `json:"approved_at"`
}

type settingsResponse struct {
	DefaultConverter   string `json:"default_converter"`
	OpenAIAPIKeySet    bool   `json:"openai_api_key_set"`
	AnthropicAPIKeySet bool   `json:"anthropic_api_key_set"`
	OpenAIModel        string `json:"openai_model"`
	AnthropicModel     string `json:"anthropic_model"`
}

func toSettingsResponse(st *models.UserSettings) settingsResponse {
	return settingsResponse{
		DefaultConverter:   st.CurrentConverter,
		OpenAIAPIKeySet:    st.HasOpenAIKey(),
		AnthropicAPIKeySet: st.HasAnthropicKey(),
		OpenAIModel:        st.OpenAIModel,
		AnthropicModel:     st.AnthropicModel,
	}
}

type modelChoice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var modelNames = map[string]string{
	"gpt-4o-mini":                "GPT-4o Mini",
	"gpt-4o":                     "GPT-4o",
	"claude-3-haiku-20240307":    "Claude 3 Haiku",
	"claude-3-5-sonnet-20241022": "Claude 3.5 Sonnet",
}

func modelChoices(ids []string) []modelChoice {
	out := make([]modelChoice, len(ids))
	for i, id := range ids {
		name := modelNames[id]
		if name == "" {
			name = id
		}
		out[i] = modelChoice{ID: id, Name: name}
	}
	return out
}

type currentModels struct {
	OpenAIModel    string `json:"openai_model"`
	AnthropicModel string `json:"anthropic_model"`
}

type modelsResponse struct {
	OpenAIModels    []modelChoice `json:"openai_models"`
	AnthropicModels []modelChoice `json:"anthropic_models"`
	Current         currentModels `json:"current"`
}
