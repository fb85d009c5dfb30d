package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"repage/internal/browser"
	"repage/internal/llm"
	"repage/internal/models"
)

const (
	learnPromptHTMLChars = 15000
	learnOpenAITokens    = 4000
	learnTemperature     = 0.3
	learnTimeout         = 3 * time.Minute
)

// LearningService derives a StyleProfile from a site's reference pages.
type LearningService struct {
	templates *TemplateService
	fetcher   browser.Fetcher
	factory   llm.Factory
	log       zerolog.Logger
}

func NewLearningService(templates *TemplateService, fetcher browser.Fetcher, factory llm.Factory, logger zerolog.Logger) *LearningService {
	if factory == nil {
		factory = llm.NewClient
	}
	return &LearningService{
		templates: templates,
		fetcher:   fetcher,
		factory:   factory,
		log:       logger.With().Str("component", "learner").Logger(),
	}
}

// WithTemplates returns a copy of s that records outcomes through templates.
func (s *LearningService) WithTemplates(templates *TemplateService) *LearningService {
	cp := *s
	cp.templates = templates
	return &cp
}

// Learn runs a learning pass for t and records the outcome on the template:
// ready with the new profile, or error with the message.
func (s *LearningService) Learn(ctx context.Context, t *models.Template, creds llm.Credentials) (*StyleProfile, error) {
	if err := s.templates.SetLearning(ctx, t.ID); err != nil {
		return nil, err
	}

	profile, err := s.learn(ctx, t.URLs(), creds)
	if err == nil {
		var raw string
		if raw, err = profile.JSON(); err == nil {
			err = s.templates.SetReady(ctx, t.ID, raw)
		}
	}
	if err != nil {
		s.log.Error().Err(err).Int64("template_id", t.ID).Msg("learning failed")
		if setErr := s.templates.SetError(ctx, t.ID, err.Error()); setErr != nil {
			s.log.Error().Err(setErr).Int64("template_id", t.ID).Msg("record learning error")
		}
		return nil, err
	}

	s.log.Info().Int64("template_id", t.ID).Str("site", profile.SiteName).Msg("style profile learned")
	return profile, nil
}

// LearnURLs learns a profile without touching any template record.
func (s *LearningService) LearnURLs(ctx context.Context, urls []string, creds llm.Credentials) (*StyleProfile, error) {
	return s.learn(ctx, urls, creds)
}

func (s *LearningService) learn(ctx context.Context, urls []string, creds llm.Credentials) (*StyleProfile, error) {
	if len(urls) == 0 {
		return nil, validationError("at least one reference url is required")
	}
	provider, key, model, ok := creds.Preferred()
	if !ok {
		return nil, newAppError(CodeLLMError, "no LLM API key configured", llm.ErrNoCredentials)
	}

	pages, err := s.fetcher.FetchPages(ctx, urls)
	if err != nil {
		return nil, newAppError(CodeLLMError, "failed to fetch reference page", err)
	}

	client, err := s.factory(provider, key, model)
	if err != nil {
		return nil, newAppError(CodeLLMError, fmt.Sprintf("create %s client", provider), err)
	}
	maxTokens := learnOpenAITokens
	if provider == llm.ProviderAnthropic {
		maxTokens = llm.AnthropicTokenBudget(model)
	}

	callCtx, cancel := context.WithTimeout(ctx, learnTimeout)
	defer cancel()
	out, err := client.Complete(callCtx, llm.Request{
		Prompt:      buildLearningPrompt(pages),
		MaxTokens:   maxTokens,
		Temperature: learnTemperature,
	})
	if err != nil {
		return nil, newAppError(CodeLLMError, fmt.Sprintf("%s API error", provider), err)
	}

	var raw map[string]any
	if err := llm.ParseJSONResponse(out, &raw); err != nil {
		s.log.Debug().Str("response", truncateForLog(out, 1000)).Msg("unparseable learning response")
		return nil, newAppError(CodeLLMError, "could not parse the model response as JSON", err)
	}
	profile := ProfileFromMap(raw)
	return &profile, nil
}

func truncateForLog(s string, n int) string {
	t, _ := truncateRunes(s, n)
	return t
}

func buildLearningPrompt(pages []browser.Page) string {
	sections := make([]string, len(pages))
	for i, p := range pages {
		body, _ := truncateRunes(p.HTML, learnPromptHTMLChars)
		sections[i] = fmt.Sprintf("[URL: %s]\n%s", p.URL, body)
	}

	return `You are an expert at analyzing website design and coding patterns.
Analyze the HTML pages below and extract the rules needed to turn PDF content into HTML in this site's style.

[Pages]
` + strings.Join(sections, "\n\n") + `

[Output format]
Respond with JSON in exactly this shape and nothing else.

{
  "site_name": "site name",
  "base_url": "base URL",
  "design_system": {
    "colors": {
      "primary": "#primary color",
      "secondary": "#secondary color",
      "background": "#background color",
      "text": "#text color",
      "accent": "#accent color"
    },
    "typography": {
      "font_family": "font family",
      "base_font_size": "base font size",
      "line_height": "line height"
    }
  },
  "html_templates": {
    "article_wrapper": "article wrapper markup such as <article class='...'>{content}</article>",
    "heading_h1": "h1 markup such as <h1 class='...'>{text}</h1>",
    "heading_h2": "h2 markup such as <h2 class='...'>{text}</h2>",
    "heading_h3": "h3 markup such as <h3 class='...'>{text}</h3>",
    "paragraph": "paragraph markup such as <p class='...'>{text}</p>",
    "unordered_list": "list markup such as <ul class='...'><li>{item}</li></ul>",
    "ordered_list": "numbered list markup such as <ol class='...'><li>{item}</li></ol>",
    "table": "table markup such as <table class='...'><thead>...</thead><tbody>...</tbody></table>",
    "blockquote": "quote markup such as <blockquote class='...'>{text}</blockquote>",
    "emphasis_box": "emphasis box or callout markup, if any",
    "dialogue_box": "dialogue or Q&A box markup, if any"
  },
  "inline_css": "CSS for a <style> tag covering fonts, colors and layout, about 2000 characters at most",
  "special_features": [
    "3 to 5 design traits specific to this site"
  ],
  "conversion_instructions": "concrete instructions for converting PDF text to HTML in this site's style, about 200 characters"
}

Important:
- html_templates must contain HTML snippets that can be used as is.
- inline_css must be CSS that can go straight into a <style> tag.
- Capture the site's distinctive elements (speech bubbles, colored boxes and the like).`
}
