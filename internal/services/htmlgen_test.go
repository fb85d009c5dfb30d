package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repage/internal/llm"
)

var testCreds = llm.Credentials{
	AnthropicKey:   "sk-ant",
	AnthropicModel: "claude-3-haiku-20240307",
	OpenAIModel:    "gpt-4o-mini",
}

func TestFallback(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "headings and paragraphs",
			in:   "# Title\n\nBody text\n\n## Sub",
			want: "<h1>Title</h1>\n<p>Body text</p>\n<h2>Sub</h2>",
		},
		{
			name: "page marker",
			in:   "--- Page 1 ---\nHello",
			want: "<p>---</p>\n<h3>Page 1 ---\nHello</h3>",
		},
		{
			name: "escapes markup",
			in:   "a < b & <script>",
			want: "<p>a &lt; b &amp; &lt;script&gt;</p>",
		},
		{
			name: "blank blocks dropped",
			in:   "\n\n\n\n### Deep\n\n   \n\n",
			want: "<h3>Deep</h3>",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Fallback(tt.in))
		})
	}
}

func TestFallbackDeterministic(t *testing.T) {
	in := "--- Page 1 ---\n# A\n\ntext\n\n--- Page 2 ---\nmore"
	assert.Equal(t, Fallback(in), Fallback(in))
}

func TestBasicWrap(t *testing.T) {
	out := BasicWrap("# Hi")
	assert.True(t, strings.HasPrefix(out, "<style>\n"))
	assert.Contains(t, out, "font-family: sans-serif;")
	assert.Contains(t, out, ".pdf-images {")
	assert.Contains(t, out, "<div class=\"repage-content\">\n<h1>Hi</h1>\n</div>")
}

func TestAddStylesOrder(t *testing.T) {
	p, err := ParseStyleProfile(testProfile)
	require.NoError(t, err)

	out := AddStyles("<p>x</p>", p)
	inline := strings.Index(out, ".site-body")
	def := strings.Index(out, ".emphasis-box")
	colors := strings.Index(out, "color: #111111;")
	typo := strings.Index(out, "font-family: Georgia, serif;")
	require.True(t, inline >= 0 && def >= 0 && colors >= 0 && typo >= 0, out)
	assert.Less(t, inline, def)
	assert.Less(t, def, colors)
	assert.Less(t, colors, typo)

	assert.Contains(t, out, "background-color: #fff;", "background falls back")
	assert.Contains(t, out, "color: #aa0000;")
	assert.Contains(t, out, "font-size: 16px;")
	assert.Contains(t, out, "line-height: 1.6;")
	assert.True(t, strings.HasSuffix(out, "<div class=\"repage-content\">\n<p>x</p>\n</div>"))
}

func TestAddStylesSkipsEmptyDesignSystem(t *testing.T) {
	out := AddStyles("<p>x</p>", &StyleProfile{})
	assert.NotContains(t, out, "line-height: 1.8;")
	assert.NotContains(t, out, "color: #333;\n    background-color")
	assert.Contains(t, out, ".repage-content h1 {")
}

func TestCSSValueAcceptsNumbers(t *testing.T) {
	p, err := ParseStyleProfile(`{"design_system":{"typography":{"base_font_size":"18px","line_height":1.75}}}`)
	require.NoError(t, err)
	assert.Equal(t, "18px", p.DesignSystem.Typography.BaseFontSize.or("x"))
	assert.Equal(t, "1.75", p.DesignSystem.Typography.LineHeight.or("x"))
	assert.Equal(t, "x", p.DesignSystem.Typography.FontFamily.or("x"))

	p, err = ParseStyleProfile(`{"design_system":{"typography":{"line_height":true}}}`)
	require.NoError(t, err)
	assert.Equal(t, "1.8", p.DesignSystem.Typography.LineHeight.or("1.8"), "boolean css values are dropped")
	_, err = ParseStyleProfile(`not json`)
	assert.Error(t, err)
}

func TestExtractHTML(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"```html\n<p>a</p>\n```", "<p>a</p>"},
		{"Here you go:\n```\n<p>b</p>\n```\nDone.", "<p>b</p>"},
		{"  <p>c</p>  ", "<p>c</p>"},
		{"```html\n<p>unterminated", "```html\n<p>unterminated"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractHTML(tt.in))
	}
}

func TestGenerateWithoutProfileUsesBasicWrap(t *testing.T) {
	s := NewSynthesizer(forbiddenFactory(t), nopLogger)
	out := s.Generate(context.Background(), "# T", "", testCreds)
	assert.Equal(t, BasicWrap("# T"), out)

	out = s.Generate(context.Background(), "# T", "{broken", testCreds)
	assert.Equal(t, BasicWrap("# T"), out)
}

func TestGenerateLongTextSkipsModel(t *testing.T) {
	s := NewSynthesizer(forbiddenFactory(t), nopLogger)
	p, err := ParseStyleProfile(testProfile)
	require.NoError(t, err)

	text := strings.Repeat("あ", maxLLMTextChars+1)
	out := s.Generate(context.Background(), text, testProfile, testCreds)
	assert.Equal(t, StyledWrap(text, p), out)
}

func TestGenerateWithoutKeyUsesStyledWrap(t *testing.T) {
	s := NewSynthesizer(forbiddenFactory(t), nopLogger)
	p, err := ParseStyleProfile(testProfile)
	require.NoError(t, err)

	out := s.Generate(context.Background(), "body", testProfile, llm.Credentials{})
	assert.Equal(t, StyledWrap("body", p), out)
}

func TestGenerateModelFailureFallsBack(t *testing.T) {
	client := &fakeClient{err: errors.New("rate limited")}
	s := NewSynthesizer(factoryFor(client), nopLogger)
	p, err := ParseStyleProfile(testProfile)
	require.NoError(t, err)

	out := s.Generate(context.Background(), "body", testProfile, testCreds)
	assert.Equal(t, StyledWrap("body", p), out)
	assert.Equal(t, 1, client.calls())
}

func TestGenerateUsesModelOutput(t *testing.T) {
	client := &fakeClient{reply: "Sure!\n```html\n<h1 class='title'>Report</h1>\n```"}
	s := NewSynthesizer(factoryFor(client), nopLogger)

	out := s.Generate(context.Background(), "# Report", testProfile, testCreds)
	assert.Contains(t, out, "<div class=\"repage-content\">\n<h1 class='title'>Report</h1>\n</div>")
	assert.Contains(t, out, ".site-body")

	require.Equal(t, 1, client.calls())
	req := client.reqs[0]
	assert.Equal(t, 4096, req.MaxTokens)
	assert.InDelta(t, 0.3, req.Temperature, 1e-9)
	assert.Contains(t, req.Prompt, "Site name: Example News")
	assert.Contains(t, req.Prompt, `"heading_h1": "<h1 class='title'>{text}</h1>"`)
	assert.Contains(t, req.Prompt, "- red headings\n- boxed quotes")
	assert.Contains(t, req.Prompt, "Use short paragraphs.")
	assert.Contains(t, req.Prompt, "[PDF text]\n# Report")
}

func TestBuildSynthesisPrompt(t *testing.T) {
	prompt := buildSynthesisPrompt("short", &StyleProfile{SiteName: "S"})
	assert.Contains(t, prompt, "[HTML templates]\nnone")
	assert.Contains(t, prompt, "[Site features]\nnone")

	long := strings.Repeat("x", maxPromptTextChars+10)
	prompt = buildSynthesisPrompt(long, &StyleProfile{})
	assert.Contains(t, prompt, strings.Repeat("x", maxPromptTextChars)+"\n\n[... truncated ...]")
	assert.NotContains(t, prompt, strings.Repeat("x", maxPromptTextChars+1))
}

func TestTruncateRunes(t *testing.T) {
	s, cut := truncateRunes("héllo", 3)
	assert.True(t, cut)
	assert.Equal(t, "hél", s)

	s, cut = truncateRunes("abc", 3)
	assert.False(t, cut)
	assert.Equal(t, "abc", s)
}
