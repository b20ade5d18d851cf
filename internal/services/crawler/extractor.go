package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lustro/internal/common"
	"github.com/ternarybob/lustro/internal/models"
)

// ExtractedLink is one outbound link discovered on a page, in document order
type ExtractedLink struct {
	TargetURL string // Canonical form
	Text      string // Anchor text, alt text or attribute name context
	Type      models.LinkType
}

// LinkExtractor discovers outbound links from HTML. Four passes run in a
// fixed order - static anchors, dynamic script references, resource
// references - and each can be toggled per run. Off-origin targets either
// become external links or are dropped, depending on configuration.
type LinkExtractor struct {
	extractStatic   bool
	extractDynamic  bool
	extractResource bool
	extractExternal bool
	seedURL         string
	logger          arbor.ILogger
}

// NewLinkExtractor creates an extractor bound to a run's seed origin
func NewLinkExtractor(config models.AnalysisConfig, seedURL string, logger arbor.ILogger) *LinkExtractor {
	return &LinkExtractor{
		extractStatic:   config.ExtractStaticLinks,
		extractDynamic:  config.ExtractDynamicLinks,
		extractResource: config.ExtractResourceLinks,
		extractExternal: config.ExtractExternalLinks,
		seedURL:         seedURL,
		logger:          logger,
	}
}

// Dynamic link patterns: navigation assignments in inline handlers and
// URL-shaped string literals in inline scripts
var (
	onclickURLPattern = regexp.MustCompile(`(?:location\.href|window\.location(?:\.href)?|window\.open\()\s*=?\s*['"]([^'"]+)['"]`)
	scriptURLPattern  = regexp.MustCompile(`['"](https?://[^'"\s]+|/[^'"\s]+)['"]`)
)

// Extract parses the page body and returns its outbound links in discovery
// order. The first occurrence of a target fixes its type; later duplicates
// on the same page are dropped.
func (le *LinkExtractor) Extract(body []byte, pageURL string) ([]ExtractedLink, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML for link extraction: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page URL %q: %w", pageURL, err)
	}

	var links []ExtractedLink
	seen := make(map[string]bool)

	add := func(href, text string, linkType models.LinkType) {
		target, err := ResolveURL(base, href)
		if err != nil {
			return
		}

		if !common.SameOrigin(target, le.seedURL) {
			if !le.extractExternal {
				return
			}
			linkType = models.LinkTypeExternal
		}

		if seen[target] {
			return
		}
		seen[target] = true

		links = append(links, ExtractedLink{
			TargetURL: target,
			Text:      collapseText(text),
			Type:      linkType,
		})
	}

	if le.extractStatic {
		le.extractStaticLinks(doc, add)
	}
	if le.extractDynamic {
		le.extractDynamicLinks(doc, add)
	}
	if le.extractResource {
		le.extractResourceLinks(doc, add)
	}

	le.logger.Debug().
		Str("page_url", pageURL).
		Int("links_found", len(links)).
		Msg("Links extracted from page")

	return links, nil
}

// extractStaticLinks finds href targets on a, area and non-resource link
// elements, in document order
func (le *LinkExtractor) extractStaticLinks(doc *goquery.Document, add func(href, text string, t models.LinkType)) {
	doc.Find("a[href], area[href]").Each(func(i int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists || href == "" {
			return
		}
		text := s.Text()
		if text == "" {
			text, _ = s.Attr("alt")
		}
		add(href, text, models.LinkTypeStatic)
	})

	doc.Find("link[href]").Each(func(i int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists || href == "" {
			return
		}
		rel, _ := s.Attr("rel")
		switch strings.ToLower(strings.TrimSpace(rel)) {
		case "canonical", "alternate", "next", "prev", "help":
			add(href, rel, models.LinkTypeStatic)
		}
	})
}

// extractDynamicLinks finds navigation targets expressed in JavaScript:
// inline click handlers, data attributes and URL literals inside inline
// scripts
func (le *LinkExtractor) extractDynamicLinks(doc *goquery.Document, add func(href, text string, t models.LinkType)) {
	doc.Find("[onclick]").Each(func(i int, s *goquery.Selection) {
		onclick, _ := s.Attr("onclick")
		for _, match := range onclickURLPattern.FindAllStringSubmatch(onclick, -1) {
			add(match[1], s.Text(), models.LinkTypeDynamic)
		}
	})

	for _, attr := range []string{"data-href", "data-url", "data-link"} {
		doc.Find("[" + attr + "]").Each(func(i int, s *goquery.Selection) {
			if value, exists := s.Attr(attr); exists && value != "" {
				add(value, attr, models.LinkTypeDynamic)
			}
		})
	}

	doc.Find("script").Each(func(i int, s *goquery.Selection) {
		if _, external := s.Attr("src"); external {
			return
		}
		for _, match := range scriptURLPattern.FindAllStringSubmatch(s.Text(), -1) {
			candidate := match[1]
			// Root-relative candidates must look like paths, not regex or
			// division leftovers
			if strings.HasPrefix(candidate, "/") && (len(candidate) < 2 || strings.ContainsAny(candidate, "*()|\\")) {
				continue
			}
			add(candidate, "script", models.LinkTypeDynamic)
		}
	})
}

// extractResourceLinks finds embedded asset references: images, scripts,
// stylesheets and media sources
func (le *LinkExtractor) extractResourceLinks(doc *goquery.Document, add func(href, text string, t models.LinkType)) {
	doc.Find("img[src]").Each(func(i int, s *goquery.Selection) {
		if src, exists := s.Attr("src"); exists && src != "" {
			alt, _ := s.Attr("alt")
			add(src, alt, models.LinkTypeResource)
		}
	})

	doc.Find("script[src]").Each(func(i int, s *goquery.Selection) {
		if src, exists := s.Attr("src"); exists && src != "" {
			add(src, "script", models.LinkTypeResource)
		}
	})

	doc.Find("link[href]").Each(func(i int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists || href == "" {
			return
		}
		rel, _ := s.Attr("rel")
		switch strings.ToLower(strings.TrimSpace(rel)) {
		case "stylesheet", "icon", "shortcut icon", "preload", "prefetch":
			add(href, rel, models.LinkTypeResource)
		}
	})

	doc.Find("source[src], video[src], audio[src], iframe[src], embed[src]").Each(func(i int, s *goquery.Selection) {
		if src, exists := s.Attr("src"); exists && src != "" {
			add(src, goquery.NodeName(s), models.LinkTypeResource)
		}
	})
}

// collapseText trims and collapses whitespace in anchor text, bounding its
// length so stored records stay small
func collapseText(text string) string {
	fields := strings.Fields(text)
	collapsed := strings.Join(fields, " ")
	if len(collapsed) > 200 {
		collapsed = collapsed[:200]
	}
	return collapsed
}
