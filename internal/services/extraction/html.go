package extraction

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/probatio/probatio/internal/models"
)

// HTMLExtractor converts web pages to markdown text. Boilerplate elements
// are stripped before conversion; title and author come from head metadata.
type HTMLExtractor struct{}

func NewHTMLExtractor() *HTMLExtractor {
	return &HTMLExtractor{}
}

func (e *HTMLExtractor) Name() string    { return "html_extractor" }
func (e *HTMLExtractor) Version() string { return "1.0.0" }

func (e *HTMLExtractor) Formats() []models.SourceFormat {
	return []models.SourceFormat{models.FormatHTML}
}

func (e *HTMLExtractor) Extract(ctx context.Context, data []byte, filename string) (*models.ExtractedContent, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	metadata := map[string]interface{}{}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		metadata["title"] = title
	}
	doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		content, _ := sel.Attr("content")
		if content == "" {
			return
		}
		switch strings.ToLower(name) {
		case "author":
			metadata["author"] = content
		case "description":
			metadata["description"] = content
		}
	})

	// Strip chrome before conversion so spans carry article text, not menus.
	doc.Find("script, style, noscript, nav, header, footer, aside").Remove()

	body := doc.Find("body")
	html, err := body.Html()
	if err != nil || strings.TrimSpace(html) == "" {
		html = string(data)
	}

	var warnings []string
	converter := md.NewConverter("", true, nil)
	text, err := converter.ConvertString(html)
	if err != nil || strings.TrimSpace(text) == "" {
		warnings = append(warnings, "markdown conversion failed, fell back to tag stripping")
		text = stripTags(html)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("html yielded no text content")
	}

	return &models.ExtractedContent{
		Format:   models.FormatHTML,
		Text:     text,
		Warnings: warnings,
		Metadata: metadata,
	}, nil
}

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`[ \t]+`)
)

func stripTags(html string) string {
	stripped := tagPattern.ReplaceAllString(html, " ")
	stripped = spacePattern.ReplaceAllString(stripped, " ")
	stripped = strings.ReplaceAll(stripped, "&amp;", "&")
	stripped = strings.ReplaceAll(stripped, "&lt;", "<")
	stripped = strings.ReplaceAll(stripped, "&gt;", ">")
	stripped = strings.ReplaceAll(stripped, "&quot;", `"`)
	stripped = strings.ReplaceAll(stripped, "&#39;", "'")
	stripped = strings.ReplaceAll(stripped, "&nbsp;", " ")
	return strings.TrimSpace(stripped)
}
