package converters

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"repage/internal/llm"
)

// CatalogEntry describes one strategy for clients choosing a converter.
type CatalogEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	RequiresKey bool   `json:"requires_api_key"`
}

// Catalog is the closed set of strategies, in display order.
var Catalog = []CatalogEntry{
	{ID: IDFast, Name: "PyMuPDF", Description: "Fast, lightweight text and image extraction (recommended)"},
	{ID: IDTables, Name: "pdfplumber", Description: "Strong at table extraction"},
	{ID: IDOpenAI, Name: "OpenAI Vision", Description: "OCR through the OpenAI vision model (API billed)", RequiresKey: true},
	{ID: IDClaude, Name: "Claude Vision", Description: "OCR through the Claude vision model (API billed)", RequiresKey: true},
}

// Known reports whether id names a catalog strategy.
func Known(id string) bool {
	for _, e := range Catalog {
		if e.ID == id {
			return true
		}
	}
	return false
}

// Selector hands out strategy instances by id. Instances are built on first
// use and cached; credential or model changes evict only the affected vision
// strategy.
type Selector struct {
	mu        sync.Mutex
	defaultID string
	creds     llm.Credentials
	factory   llm.Factory
	log       zerolog.Logger
	cache     map[string]Converter
}

func NewSelector(defaultID string, creds llm.Credentials, factory llm.Factory, logger zerolog.Logger) *Selector {
	if defaultID == "" {
		defaultID = IDFast
	}
	if factory == nil {
		factory = llm.NewClient
	}
	return &Selector{
		defaultID: defaultID,
		creds:     creds,
		factory:   factory,
		log:       logger,
		cache:     make(map[string]Converter),
	}
}

// Get returns the strategy for id, or the default strategy for "".
func (s *Selector) Get(id string) (Converter, error) {
	if id == "" {
		id = s.defaultID
	}
	if !Known(id) {
		return nil, &UnknownConverterError{ID: id}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cache[id]; ok {
		return c, nil
	}
	c, err := s.build(id)
	if err != nil {
		return nil, err
	}
	s.cache[id] = c
	return c, nil
}

func (s *Selector) build(id string) (Converter, error) {
	switch id {
	case IDFast:
		return NewFastConverter(s.log), nil
	case IDTables:
		return NewTableConverter(s.log), nil
	case IDOpenAI:
		client, err := s.client(llm.ProviderOpenAI, s.creds.OpenAIKey, s.creds.OpenAIModel)
		if err != nil {
			return nil, fmt.Errorf("%s converter: %w", id, err)
		}
		return NewOpenAIVisionConverter(client, s.log), nil
	case IDClaude:
		client, err := s.client(llm.ProviderAnthropic, s.creds.AnthropicKey, s.creds.AnthropicModel)
		if err != nil {
			return nil, fmt.Errorf("%s converter: %w", id, err)
		}
		return NewClaudeVisionConverter(client, s.creds.AnthropicModel, s.log), nil
	}
	return nil, &UnknownConverterError{ID: id}
}

func (s *Selector) client(provider llm.Provider, key, model string) (llm.Client, error) {
	if key == "" {
		return nil, llm.ErrNoCredentials
	}
	return s.factory(provider, key, model)
}

// UpdateCredentials replaces the API keys and evicts the vision strategy of
// each provider whose key changed.
func (s *Selector) UpdateCredentials(openaiKey, anthropicKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if openaiKey != s.creds.OpenAIKey {
		s.creds.OpenAIKey = openaiKey
		delete(s.cache, IDOpenAI)
	}
	if anthropicKey != s.creds.AnthropicKey {
		s.creds.AnthropicKey = anthropicKey
		delete(s.cache, IDClaude)
	}
}

// UpdateModels replaces the model names, evicting like UpdateCredentials.
func (s *Selector) UpdateModels(openaiModel, anthropicModel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if openaiModel != s.creds.OpenAIModel {
		s.creds.OpenAIModel = openaiModel
		delete(s.cache, IDOpenAI)
	}
	if anthropicModel != s.creds.AnthropicModel {
		s.creds.AnthropicModel = anthropicModel
		delete(s.cache, IDClaude)
	}
}

// PageCount always uses the fast local strategy.
func (s *Selector) PageCount(ctx context.Context, path string) (int, error) {
	c, err := s.Get(IDFast)
	if err != nil {
		return 0, err
	}
	return c.PageCount(ctx, path)
}
