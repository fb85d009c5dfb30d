package models

import (
	"database/sql"
	"time"
)

// DefaultUserID owns every record; the application has no login.
const DefaultUserID int64 = 1

type TemplateStatus string

const (
	TemplatePending  TemplateStatus = "pending"
	TemplateLearning TemplateStatus = "learning"
	TemplateReady    TemplateStatus = "ready"
	TemplateError    TemplateStatus = "error"
)

type Template struct {
	ID           int64
	UserID       int64
	Name         string
	URL1         string
	URL2         sql.NullString
	URL3         sql.NullString
	StyleProfile sql.NullString
	Status       TemplateStatus
	ErrorMessage sql.NullString
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// URLs returns the configured reference URLs in order, skipping blanks.
func (t *Template) URLs() []string {
	var urls []string
	if t.URL1 != "" {
		urls = append(urls, t.URL1)
	}
	for _, u := range []sql.NullString{t.URL2, t.URL3} {
		if u.Valid && u.String != "" {
			urls = append(urls, u.String)
		}
	}
	return urls
}

func (t *Template) IsReady() bool {
	return t.Status == TemplateReady
}

type ConversionStatus string

const (
	ConversionUploading  ConversionStatus = "uploading"
	ConversionUploaded   ConversionStatus = "uploaded"
	ConversionConverting ConversionStatus = "converting"
	ConversionCompleted  ConversionStatus = "completed"
	ConversionApproved   ConversionStatus = "approved"
	ConversionError      ConversionStatus = "error"
)

type Conversion struct {
	ID                 int64
	UserID             int64
	TemplateID         int64
	OriginalFilename   string
	PDFPath            string
	GeneratedHTML      sql.NullString
	Status             ConversionStatus
	ConverterUsed      sql.NullString
	RequestedConverter sql.NullString
	PageCount          sql.NullInt64
	ErrorMessage       sql.NullString
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ApprovedAt         sql.NullTime
}

// IsConverted reports whether HTML generation has finished successfully.
func (c *Conversion) IsConverted() bool {
	return c.Status == ConversionCompleted || c.Status == ConversionApproved
}

// StoredImage is the persisted record of an image pulled out of a PDF.
type StoredImage struct {
	ID           int64
	ConversionID int64
	Filename     string
	FilePath     string
	PageNumber   int
	OrderInPage  int
	Width        int
	Height       int
	FileSize     int64
	MIMEType     string
	CreatedAt    time.Time
}

type UserSettings struct {
	UserID                int64
	CurrentConverter      string
	OpenAIKeyEncrypted    sql.NullString
	AnthropicKeyEncrypted sql.NullString
	OpenAIModel           string
	AnthropicModel        string
	UpdatedAt             time.Time
}

func (s *UserSettings) HasOpenAIKey() bool {
	return s.OpenAIKeyEncrypted.Valid && s.OpenAIKeyEncrypted.String != ""
}

func (s *UserSettings) HasAnthropicKey() bool {
	return s.AnthropicKeyEncrypted.Valid && s.AnthropicKeyEncrypted.String != ""
}
