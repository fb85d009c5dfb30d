package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repage/internal/browser"
	"repage/internal/llm"
	"repage/internal/models"
)

func newPendingTemplate(t *testing.T, svc *TemplateService) *models.Template {
	t.Helper()
	tmpl, err := svc.Create(context.Background(), models.DefaultUserID, TemplateInput{
		Name: "Blog", URL1: "https://a.example", URL2: "https://b.example",
	})
	require.NoError(t, err)
	return tmpl
}

func TestLearnStoresProfile(t *testing.T) {
	templates := NewTemplateService(openTestDB(t))
	tmpl := newPendingTemplate(t, templates)
	fetcher := &fakeFetcher{pages: []browser.Page{
		{URL: "https://a.example", HTML: "<html><body class='a'></body></html>"},
		{URL: "https://b.example", HTML: "<html><body class='b'></body></html>"},
	}}
	client := &fakeClient{reply: "```json\n" + testProfile + "\n```"}
	learner := NewLearningService(templates, fetcher, factoryFor(client), nopLogger)

	profile, err := learner.Learn(context.Background(), tmpl, testCreds)
	require.NoError(t, err)
	assert.Equal(t, "Example News", profile.SiteName)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, fetcher.urls)

	require.Equal(t, 1, client.calls())
	req := client.reqs[0]
	assert.Equal(t, 4096, req.MaxTokens)
	assert.InDelta(t, 0.3, req.Temperature, 1e-9)
	assert.Contains(t, req.Prompt, "[URL: https://a.example]\n<html><body class='a'></body></html>")
	assert.Contains(t, req.Prompt, "[URL: https://b.example]")

	stored, err := templates.Get(context.Background(), models.DefaultUserID, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TemplateReady, stored.Status)
	parsed, err := ParseStyleProfile(stored.StyleProfile.String)
	require.NoError(t, err)
	assert.Equal(t, "1.6", string(parsed.DesignSystem.Typography.LineHeight))
}

func TestLearnFailuresMarkTemplate(t *testing.T) {
	tests := []struct {
		name      string
		creds     llm.Credentials
		fetchErr  error
		reply     string
		clientErr error
		wantIs    error
		fetched   bool
	}{
		{name: "no key", creds: llm.Credentials{}, wantIs: llm.ErrNoCredentials},
		{name: "fetch fails", creds: testCreds, fetchErr: errors.New("net::ERR_NAME_NOT_RESOLVED"), fetched: true},
		{name: "model fails", creds: testCreds, clientErr: errors.New("overloaded"), fetched: true},
		{name: "unparseable", creds: testCreds, reply: "I cannot help with that.", wantIs: llm.ErrUnparseableResponse, fetched: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			templates := NewTemplateService(openTestDB(t))
			tmpl := newPendingTemplate(t, templates)
			fetcher := &fakeFetcher{
				pages: []browser.Page{{URL: "https://a.example", HTML: "<html></html>"}},
				err:   tt.fetchErr,
			}
			client := &fakeClient{reply: tt.reply, err: tt.clientErr}
			learner := NewLearningService(templates, fetcher, factoryFor(client), nopLogger)

			_, err := learner.Learn(context.Background(), tmpl, tt.creds)
			require.Error(t, err)
			assert.Equal(t, CodeLLMError, CodeOf(err))
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			assert.Equal(t, tt.fetched, len(fetcher.urls) > 0)

			stored, err := templates.Get(context.Background(), models.DefaultUserID, tmpl.ID)
			require.NoError(t, err)
			assert.Equal(t, models.TemplateError, stored.Status)
			assert.NotEmpty(t, stored.ErrorMessage.String)
			assert.False(t, stored.StyleProfile.Valid)
		})
	}
}

func TestLearnAcceptsLooseProfileShapes(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		check func(t *testing.T, p *StyleProfile)
	}{
		{
			name:  "features as one string",
			reply: `{"site_name":"x","special_features":"rounded boxes"}`,
			check: func(t *testing.T, p *StyleProfile) {
				assert.Equal(t, []string{"rounded boxes"}, p.SpecialFeatures)
			},
		},
		{
			name:  "template given as object",
			reply: `{"site_name":"x","html_templates":{"paragraph":{"tag":"p","class":"lead"}}}`,
			check: func(t *testing.T, p *StyleProfile) {
				assert.JSONEq(t, `{"tag":"p","class":"lead"}`, p.HTMLTemplates["paragraph"])
			},
		},
		{
			name:  "extra template role",
			reply: `{"site_name":"x","html_templates":{"heading_h1":"<h1>{text}</h1>","card":"<div class='card'>{content}</div>"}}`,
			check: func(t *testing.T, p *StyleProfile) {
				assert.Equal(t, "<div class='card'>{content}</div>", p.HTMLTemplates["card"])
				assert.Equal(t, "<h1>{text}</h1>", p.HTMLTemplates["heading_h1"])
			},
		},
		{
			name:  "numbers and wrong nesting",
			reply: `{"site_name":42,"design_system":{"colors":"red","typography":{"line_height":1.5}},"special_features":["a",3,null]}`,
			check: func(t *testing.T, p *StyleProfile) {
				assert.Equal(t, "42", p.SiteName)
				assert.True(t, p.DesignSystem.Colors.empty())
				assert.Equal(t, "1.5", string(p.DesignSystem.Typography.LineHeight))
				assert.Equal(t, []string{"a", "3"}, p.SpecialFeatures)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			templates := NewTemplateService(openTestDB(t))
			tmpl := newPendingTemplate(t, templates)
			fetcher := &fakeFetcher{pages: []browser.Page{{URL: "https://a.example", HTML: "<html></html>"}}}
			learner := NewLearningService(templates, fetcher, factoryFor(&fakeClient{reply: tt.reply}), nopLogger)

			profile, err := learner.Learn(context.Background(), tmpl, testCreds)
			require.NoError(t, err)
			tt.check(t, profile)

			stored, err := templates.Get(context.Background(), models.DefaultUserID, tmpl.ID)
			require.NoError(t, err)
			assert.Equal(t, models.TemplateReady, stored.Status)
			reparsed, err := ParseStyleProfile(stored.StyleProfile.String)
			require.NoError(t, err)
			assert.Equal(t, profile, reparsed, "stored profile round-trips")
		})
	}
}

func TestSynthesisPromptKeepsExtraTemplateRoles(t *testing.T) {
	p, err := ParseStyleProfile(`{"html_templates":{"card":"<div class='card'>{content}</div>"}}`)
	require.NoError(t, err)
	prompt := buildSynthesisPrompt("text", p)
	assert.Contains(t, prompt, `"card": "<div class='card'>{content}</div>"`)
}

func TestLearnURLsRequiresURL(t *testing.T) {
	learner := NewLearningService(nil, &fakeFetcher{}, forbiddenFactory(t), nopLogger)
	_, err := learner.LearnURLs(context.Background(), nil, testCreds)
	assert.Equal(t, CodeValidation, CodeOf(err))
}

func TestBuildLearningPromptTruncates(t *testing.T) {
	prompt := buildLearningPrompt([]browser.Page{{URL: "u", HTML: strings.Repeat("h", learnPromptHTMLChars+5)}})
	assert.Contains(t, prompt, "[URL: u]\n"+strings.Repeat("h", learnPromptHTMLChars)+"\n")
	assert.NotContains(t, prompt, strings.Repeat("h", learnPromptHTMLChars+1))
	assert.Contains(t, prompt, `"conversion_instructions"`)
}
