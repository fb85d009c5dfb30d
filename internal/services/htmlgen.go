package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"repage/internal/llm"
)

const (
	// Longer texts are styled locally without a model call.
	maxLLMTextChars    = 15000
	maxPromptTextChars = 30000
	synthTimeout       = 3 * time.Minute
	synthOpenAITokens  = 4096
	synthTemperature   = 0.3
)

const defaultCSS = `
.repage-content {
    max-width: 900px;
    margin: 0 auto;
    padding: 2rem;
}
.repage-content h1 {
    font-size: 1.8rem;
    margin-bottom: 1.5rem;
    padding-bottom: 0.5rem;
    border-bottom: 2px solid #333;
}
.repage-content h2 {
    font-size: 1.4rem;
    margin-top: 2rem;
    margin-bottom: 1rem;
}
.repage-content h3 {
    font-size: 1.2rem;
    margin-top: 1.5rem;
    margin-bottom: 0.8rem;
}
.repage-content p {
    margin-bottom: 1rem;
}
.repage-content ul, .repage-content ol {
    margin-bottom: 1rem;
    padding-left: 2rem;
}
.repage-content li {
    margin-bottom: 0.5rem;
}
.repage-content table {
    width: 100%;
    border-collapse: collapse;
    margin-bottom: 1.5rem;
}
.repage-content th, .repage-content td {
    border: 1px solid #ddd;
    padding: 0.75rem;
    text-align: left;
}
.repage-content th {
    background-color: #f5f5f5;
    font-weight: bold;
}
.repage-content blockquote {
    border-left: 4px solid #ddd;
    padding-left: 1rem;
    margin: 1rem 0;
    color: #666;
}
.emphasis-box {
    background-color: #fff3cd;
    border: 1px solid #ffc107;
    border-radius: 4px;
    padding: 1rem;
    margin: 1rem 0;
}
.dialogue-box {
    background-color: #e7f3ff;
    border-radius: 8px;
    padding: 1rem;
    margin: 1rem 0;
    position: relative;
}
` + imageCSS

const imageCSS = `.pdf-images {
    margin: 2rem 0;
    padding: 1rem;
    background-color: #f9f9f9;
    border-radius: 8px;
}
.pdf-image {
    margin: 1rem 0;
    text-align: center;
}
.pdf-image img {
    max-width: 100%;
    height: auto;
    border: 1px solid #ddd;
    border-radius: 4px;
    box-shadow: 0 2px 4px rgba(0, 0, 0, 0.1);
}
`

const basicCSS = `.repage-content {
    max-width: 900px;
    margin: 0 auto;
    padding: 2rem;
    font-family: sans-serif;
    line-height: 1.8;
}
.repage-content h1, .repage-content h2, .repage-content h3 {
    margin-top: 1.5rem;
}
.repage-content p {
    margin-bottom: 1rem;
}
` + imageCSS

// Synthesizer turns extracted text into HTML in a learned site style.
type Synthesizer struct {
	factory llm.Factory
	log     zerolog.Logger
}

func NewSynthesizer(factory llm.Factory, logger zerolog.Logger) *Synthesizer {
	if factory == nil {
		factory = llm.NewClient
	}
	return &Synthesizer{factory: factory, log: logger.With().Str("component", "synthesizer").Logger()}
}

// Generate always returns HTML. Without a usable profile the text is wrapped
// plainly; long texts, missing keys and model failures fall back to the
// local styled rendering.
func (s *Synthesizer) Generate(ctx context.Context, text, profileJSON string, creds llm.Credentials) string {
	if strings.TrimSpace(profileJSON) == "" {
		s.log.Warn().Msg("no style profile, using basic wrap")
		return BasicWrap(text)
	}
	profile, err := ParseStyleProfile(profileJSON)
	if err != nil {
		s.log.Error().Err(err).Msg("unusable style profile, using basic wrap")
		return BasicWrap(text)
	}

	if n := utf8.RuneCountInString(text); n > maxLLMTextChars {
		s.log.Info().Int("chars", n).Msg("text too long for model, using styled wrap")
		return StyledWrap(text, profile)
	}

	provider, key, model, ok := creds.Preferred()
	if !ok {
		s.log.Warn().Msg("no LLM API key, using styled wrap")
		return StyledWrap(text, profile)
	}

	body, err := s.callModel(ctx, provider, key, model, buildSynthesisPrompt(text, profile))
	if err != nil {
		s.log.Warn().Err(err).Str("provider", string(provider)).Msg("html generation failed, using styled wrap")
		return StyledWrap(text, profile)
	}
	return AddStyles(body, profile)
}

func (s *Synthesizer) callModel(ctx context.Context, provider llm.Provider, key, model, prompt string) (string, error) {
	client, err := s.factory(provider, key, model)
	if err != nil {
		return "", fmt.Errorf("create %s client: %w", provider, err)
	}
	maxTokens := synthOpenAITokens
	if provider == llm.ProviderAnthropic {
		maxTokens = llm.AnthropicTokenBudget(model)
	}

	callCtx, cancel := context.WithTimeout(ctx, synthTimeout)
	defer cancel()
	out, err := client.Complete(callCtx, llm.Request{
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: synthTemperature,
	})
	if err != nil {
		return "", newAppError(CodeLLMError, fmt.Sprintf("%s html generation failed", provider), err)
	}
	return extractHTML(out), nil
}

func truncateRunes(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], true
		}
		i++
	}
	return s, false
}

func buildSynthesisPrompt(text string, p *StyleProfile) string {
	if t, cut := truncateRunes(text, maxPromptTextChars); cut {
		text = t + "\n\n[... truncated ...]"
	}

	templates := "none"
	if len(p.HTMLTemplates) > 0 {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(p.HTMLTemplates); err == nil {
			templates = strings.TrimSpace(buf.String())
		}
	}

	features := "none"
	if len(p.SpecialFeatures) > 0 {
		lines := make([]string, len(p.SpecialFeatures))
		for i, f := range p.SpecialFeatures {
			lines[i] = "- " + f
		}
		features = strings.Join(lines, "\n")
	}

	var b strings.Builder
	b.WriteString("You are an expert at converting PDF text into web page HTML.\n")
	b.WriteString("Convert the PDF text below into HTML that matches the design style of the specified site.\n\n")
	fmt.Fprintf(&b, "[Site]\nSite name: %s\n\n", p.SiteName)
	fmt.Fprintf(&b, "[HTML templates]\n%s\n\n", templates)
	fmt.Fprintf(&b, "[Site features]\n%s\n\n", features)
	fmt.Fprintf(&b, "[Conversion instructions]\n%s\n\n", p.ConversionInstructions)
	fmt.Fprintf(&b, "[PDF text]\n%s\n\n", text)
	b.WriteString(`[Output rules]
- Output only the HTML body content (no <!DOCTYPE> or head element).
- Use the class names and styles of the HTML templates above.
- Mark up headings, paragraphs, lists and tables appropriately.
- Keep the structure of the original text (heading levels, bullet lists, tables).
- Make use of the site's characteristic design elements.
- Highlight important passages with emphasis boxes or similar.

Output the HTML:`)
	return b.String()
}

// extractHTML takes the body of an html fence, else of a generic fence, else
// the trimmed response.
func extractHTML(content string) string {
	for _, open := range []string{"```html", "```"} {
		start := strings.Index(content, open)
		if start == -1 {
			continue
		}
		start += len(open)
		if end := strings.Index(content[start:], "```"); end > 0 {
			return strings.TrimSpace(content[start : start+end])
		}
	}
	return strings.TrimSpace(content)
}

// Fallback renders page-marked, Markdown-ish text as simple block HTML.
// Blocks are separated by blank lines; "#", "##" and "###" prefixes become
// headings and everything else a paragraph. Text is HTML-escaped.
func Fallback(text string) string {
	text = strings.ReplaceAll(text, "--- Page", "\n\n---\n\n### Page")

	var parts []string
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		switch {
		case strings.HasPrefix(block, "###"):
			parts = append(parts, "<h3>"+html.EscapeString(strings.TrimSpace(block[3:]))+"</h3>")
		case strings.HasPrefix(block, "##"):
			parts = append(parts, "<h2>"+html.EscapeString(strings.TrimSpace(block[2:]))+"</h2>")
		case strings.HasPrefix(block, "#"):
			parts = append(parts, "<h1>"+html.EscapeString(strings.TrimSpace(block[1:]))+"</h1>")
		default:
			parts = append(parts, "<p>"+html.EscapeString(block)+"</p>")
		}
	}
	return strings.Join(parts, "\n")
}

func wrap(css, body string) string {
	return "<style>\n" + css + "\n</style>\n<div class=\"repage-content\">\n" + body + "\n</div>"
}

// BasicWrap renders text with minimal built-in CSS.
func BasicWrap(text string) string {
	return wrap(basicCSS, Fallback(text))
}

// StyledWrap renders text locally and applies the profile's styles.
func StyledWrap(text string, p *StyleProfile) string {
	return AddStyles(Fallback(text), p)
}

// AddStyles wraps body in the content container with the profile's inline
// CSS, the default CSS, then color and typography rules derived from the
// design system.
func AddStyles(body string, p *StyleProfile) string {
	var parts []string
	if p.InlineCSS != "" {
		parts = append(parts, p.InlineCSS)
	}
	parts = append(parts, defaultCSS)

	if c := p.DesignSystem.Colors; !c.empty() {
		parts = append(parts, fmt.Sprintf(`
.repage-content {
    color: %s;
    background-color: %s;
}
.repage-content a {
    color: %s;
}
.repage-content h1, .repage-content h2, .repage-content h3 {
    color: %s;
}
`, c.Text.or("#333"), c.Background.or("#fff"), c.Primary.or("#0066cc"), c.Primary.or("#333")))
	}
	if t := p.DesignSystem.Typography; !t.empty() {
		parts = append(parts, fmt.Sprintf(`
.repage-content {
    font-family: %s;
    font-size: %s;
    line-height: %s;
}
`, t.FontFamily.or("sans-serif"), t.BaseFontSize.or("16px"), t.LineHeight.or("1.8")))
	}
	return wrap(strings.Join(parts, "\n"), body)
}
