package transform

import (
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ternarybob/arbor"
)

// Bodies are converted in batches at persist time, so the fallback
// patterns are compiled once here rather than per call.
var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// Service renders stored page snapshots as markdown for readable source
// views. Conversion failures never fail a run; the raw HTML stays the
// canonical record and markdown is strictly derived.
type Service struct {
	logger arbor.ILogger
}

// NewService creates a new transform service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		logger: logger,
	}
}

// HTMLToMarkdown converts HTML content to markdown.
// baseURL resolves relative links so the markdown stays navigable.
func (s *Service) HTMLToMarkdown(html string, baseURL string) (string, error) {
	if html == "" {
		return "", nil
	}

	converter := md.NewConverter(baseURL, true, nil)
	converted, err := converter.ConvertString(html)
	if err != nil {
		s.logger.Warn().Err(err).Str("base_url", baseURL).Msg("HTML to markdown conversion failed, using fallback")
		return stripTags(html), nil
	}

	// Heavily scripted pages can convert to nothing; the stripped text
	// is still more useful than an empty rendition
	if strings.TrimSpace(converted) == "" {
		s.logger.Debug().
			Int("html_length", len(html)).
			Str("base_url", baseURL).
			Msg("Markdown conversion produced empty output, applying fallback")
		return stripTags(html), nil
	}

	return converted, nil
}

// ValidateHTML checks if the input looks like HTML worth rendering
func (s *Service) ValidateHTML(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return fmt.Errorf("empty content")
	}

	if !strings.Contains(trimmed, "<") {
		return fmt.Errorf("content does not appear to be HTML")
	}

	return nil
}

// stripTags removes markup for fallback cases where conversion fails
func stripTags(htmlStr string) string {
	stripped := tagPattern.ReplaceAllString(htmlStr, "")
	cleaned := spacePattern.ReplaceAllString(stripped, " ")

	// Decode HTML entities (basic set)
	cleaned = strings.ReplaceAll(cleaned, "&amp;", "&")
	cleaned = strings.ReplaceAll(cleaned, "&lt;", "<")
	cleaned = strings.ReplaceAll(cleaned, "&gt;", ">")
	cleaned = strings.ReplaceAll(cleaned, "&quot;", "\"")
	cleaned = strings.ReplaceAll(cleaned, "&#39;", "'")
	cleaned = strings.ReplaceAll(cleaned, "&nbsp;", " ")

	return strings.TrimSpace(cleaned)
}
