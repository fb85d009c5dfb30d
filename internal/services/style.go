package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// cssValue is a CSS value from the profile. Models emit line heights and
// font sizes as strings or bare numbers; both are kept.
type cssValue string

func (v cssValue) or(fallback string) string {
	if s := strings.TrimSpace(string(v)); s != "" {
		return s
	}
	return fallback
}

type Colors struct {
	Primary    cssValue `json:"primary,omitempty"`
	Secondary  cssValue `json:"secondary,omitempty"`
	Background cssValue `json:"background,omitempty"`
	Text       cssValue `json:"text,omitempty"`
	Accent     cssValue `json:"accent,omitempty"`
}

func (c Colors) empty() bool { return c == Colors{} }

type Typography struct {
	FontFamily   cssValue `json:"font_family,omitempty"`
	BaseFontSize cssValue `json:"base_font_size,omitempty"`
	LineHeight   cssValue `json:"line_height,omitempty"`
}

func (t Typography) empty() bool { return t == Typography{} }

type DesignSystem struct {
	Colors     Colors     `json:"colors"`
	Typography Typography `json:"typography"`
}

// HTMLTemplates maps a content role to a markup snippet used on the
// reference site. The learning prompt asks for article_wrapper, heading_h1,
// heading_h2, heading_h3, paragraph, unordered_list, ordered_list, table,
// blockquote, emphasis_box and dialogue_box; any other role the model adds
// is kept and passed on to synthesis.
type HTMLTemplates map[string]string

// StyleProfile is the learned design of a reference site.
type StyleProfile struct {
	SiteName               string        `json:"site_name"`
	BaseURL                string        `json:"base_url"`
	DesignSystem           DesignSystem  `json:"design_system"`
	HTMLTemplates          HTMLTemplates `json:"html_templates,omitempty"`
	InlineCSS              string        `json:"inline_css"`
	SpecialFeatures        []string      `json:"special_features"`
	ConversionInstructions string        `json:"conversion_instructions"`
}

// UnmarshalJSON accepts any JSON object. Fields of an unexpected shape are
// coerced rather than rejected, so only JSON syntax decides success.
func (p *StyleProfile) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = ProfileFromMap(raw)
	return nil
}

// ProfileFromMap projects a decoded JSON object onto a StyleProfile:
// scalars become strings, a single string stands in for a list, nested
// objects inside templates are kept as their JSON text, and wrong-typed
// CSS values are dropped.
func ProfileFromMap(raw map[string]any) StyleProfile {
	p := StyleProfile{
		SiteName:               asString(raw["site_name"]),
		BaseURL:                asString(raw["base_url"]),
		InlineCSS:              asString(raw["inline_css"]),
		SpecialFeatures:        asStrings(raw["special_features"]),
		ConversionInstructions: asString(raw["conversion_instructions"]),
	}

	ds := asObject(raw["design_system"])
	colors := asObject(ds["colors"])
	p.DesignSystem.Colors = Colors{
		Primary:    asCSS(colors["primary"]),
		Secondary:  asCSS(colors["secondary"]),
		Background: asCSS(colors["background"]),
		Text:       asCSS(colors["text"]),
		Accent:     asCSS(colors["accent"]),
	}
	typo := asObject(ds["typography"])
	p.DesignSystem.Typography = Typography{
		FontFamily:   asCSS(typo["font_family"]),
		BaseFontSize: asCSS(typo["base_font_size"]),
		LineHeight:   asCSS(typo["line_height"]),
	}

	if tmpls := asObject(raw["html_templates"]); len(tmpls) > 0 {
		p.HTMLTemplates = make(HTMLTemplates, len(tmpls))
		for role, v := range tmpls {
			if s := asString(v); s != "" {
				p.HTMLTemplates[role] = s
			}
		}
	}
	return p
}

func asObject(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func asStrings(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := strings.TrimSpace(asString(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := strings.TrimSpace(asString(t)); s != "" {
			return []string{s}
		}
		return nil
	}
}

func asCSS(v any) cssValue {
	switch t := v.(type) {
	case string:
		return cssValue(t)
	case float64:
		return cssValue(strconv.FormatFloat(t, 'f', -1, 64))
	}
	return ""
}

// ParseStyleProfile decodes a stored profile. Only text that is not a JSON
// object is rejected.
func ParseStyleProfile(raw string) (*StyleProfile, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("empty style profile")
	}
	var p StyleProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode style profile: %w", err)
	}
	return &p, nil
}

// JSON encodes the profile for storage.
func (p *StyleProfile) JSON() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode style profile: %w", err)
	}
	return string(b), nil
}
