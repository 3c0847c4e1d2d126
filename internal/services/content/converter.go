// -----------------------------------------------------------------------
// Content Converter - page HTML to markdown and markdown to HTML
// -----------------------------------------------------------------------

package content

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Converter turns captured page HTML into markdown suitable for task
// payloads, and markdown results back into HTML for display.
type Converter struct {
	logger arbor.ILogger
}

// PageContent is the distilled form of a captured page.
type PageContent struct {
	Title    string `json:"title"`
	Markdown string `json:"markdown"`
	Size     int    `json:"size"`
}

// NewConverter creates a content converter.
func NewConverter(logger arbor.ILogger) *Converter {
	return &Converter{logger: logger}
}

// PageSource renders a URL and returns its document HTML. The browser
// automation session satisfies this.
type PageSource interface {
	CaptureHTML(ctx context.Context, pageURL string) (string, error)
}

// CapturePage renders a URL through the source and distills it to markdown.
func (c *Converter) CapturePage(ctx context.Context, source PageSource, pageURL string) (*PageContent, error) {
	htmlContent, err := source.CaptureHTML(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", pageURL, err)
	}
	return c.ExtractMarkdown(htmlContent, pageURL)
}

// ExtractMarkdown parses HTML, strips chrome (scripts, nav, footers),
// locates the main content region, and converts it to markdown.
func (c *Converter) ExtractMarkdown(htmlContent, baseURL string) (*PageContent, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := extractTitle(doc)
	doc.Find("script, style, nav, footer, aside, noscript").Remove()

	content := doc.Find("main, article, .content, #content, #main").First()
	if content.Length() == 0 {
		content = doc.Find("body")
	}

	fragment, err := goquery.OuterHtml(content)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize content region: %w", err)
	}

	converter := md.NewConverter(baseURL, true, nil)
	markdown, err := converter.ConvertString(fragment)
	if err != nil {
		c.logger.Warn().Err(err).Msg("HTML to markdown conversion failed, using plain text fallback")
		markdown = strings.TrimSpace(content.Text())
	}

	result := &PageContent{
		Title:    title,
		Markdown: strings.TrimSpace(markdown),
		Size:     len(htmlContent),
	}

	c.logger.Debug().
		Str("title", title).
		Int("html_bytes", len(htmlContent)).
		Int("markdown_bytes", len(result.Markdown)).
		Msg("Page content converted to markdown")
	return result, nil
}

// RenderHTML converts a markdown result to HTML with GFM extensions.
func (c *Converter) RenderHTML(markdown string) (string, error) {
	renderer := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	var buf bytes.Buffer
	if err := renderer.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}

func extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if ogTitle, ok := doc.Find("meta[property='og:title']").Attr("content"); ok && ogTitle != "" {
		return strings.TrimSpace(ogTitle)
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return "Untitled"
}
