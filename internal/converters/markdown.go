package converters

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/dom"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"golang.org/x/net/html"
)

var (
	mdConverter     *converter.Converter
	mdConverterOnce sync.Once

	// MuPDF positions every line absolutely; runs of blank lines are noise.
	excessBlankLines = regexp.MustCompile(`\n{3,}`)
)

// markdownConverter returns a shared converter that drops inline data-URI
// images. Images are extracted separately and injected later.
func markdownConverter() *converter.Converter {
	mdConverterOnce.Do(func() {
		mdConverter = converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		)
		mdConverter.Register.RendererFor("img", converter.TagTypeInline,
			func(ctx converter.Context, w converter.Writer, n *html.Node) converter.RenderStatus {
				src := dom.GetAttributeOr(n, "src", "")
				if strings.HasPrefix(src, "data:") {
					return converter.RenderSuccess
				}
				return converter.RenderTryNext
			},
			converter.PriorityEarly,
		)
	})
	return mdConverter
}

// pageHTMLToMarkdown converts one page of MuPDF HTML output to Markdown.
func pageHTMLToMarkdown(pageHTML string) (string, error) {
	md, err := markdownConverter().ConvertString(pageHTML)
	if err != nil {
		return "", fmt.Errorf("markdown conversion: %w", err)
	}
	md = excessBlankLines.ReplaceAllString(md, "\n\n")
	return strings.TrimSpace(md), nil
}
