package crawler

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/ternarybob/lustro/internal/models"
)

// blankWordThreshold is the word count below which a page with structural
// chrome counts as blank
const blankWordThreshold = 50

// Classification is the content profile of one fetched page
type Classification struct {
	Title           string
	WordCount       int
	HasHeader       bool
	HasFooter       bool
	HasNavigation   bool
	PageType        models.PageType
	StructureDigest string
}

// Classifier derives a content profile from a page body. It is stateless
// and safe for concurrent use.
type Classifier struct{}

func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify parses the body once and applies the classification rules:
// word count over text with script/style/comments stripped, chrome flags
// from semantic elements or their ARIA roles, page type from status and
// content, and a deterministic digest of the tag skeleton.
func (c *Classifier) Classify(body []byte, statusCode int) Classification {
	cls := Classification{}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		// Unparseable bytes still classify by status
		cls.PageType = pageTypeFor(statusCode, 0, false, len(bytes.TrimSpace(body)) == 0)
		cls.StructureDigest = digestBytes(nil)
		return cls
	}

	// Digest before any mutation of the parse tree
	cls.StructureDigest = structureDigest(doc)

	cls.Title = strings.TrimSpace(doc.Find("title").First().Text())
	cls.HasHeader, cls.HasFooter, cls.HasNavigation = chromeFlags(doc)

	// Comments never surface through Text(); script and style bodies do,
	// so drop those elements before counting
	doc.Find("script, style").Remove()
	cls.WordCount = len(strings.Fields(doc.Text()))

	hasChrome := cls.HasHeader || cls.HasFooter || cls.HasNavigation
	cls.PageType = pageTypeFor(statusCode, cls.WordCount, hasChrome, len(bytes.TrimSpace(body)) == 0)

	return cls
}

// pageTypeFor applies the classification precedence: error, redirect,
// blank, content
func pageTypeFor(statusCode, wordCount int, hasChrome, emptyBody bool) models.PageType {
	switch {
	case statusCode >= 400:
		return models.PageTypeError
	case statusCode >= 300 && statusCode < 400 && emptyBody:
		return models.PageTypeRedirect
	case wordCount < blankWordThreshold && hasChrome:
		return models.PageTypeBlank
	default:
		return models.PageTypeContent
	}
}

// chromeFlags reports header/footer/navigation presence. An element counts
// via its tag or via an ARIA role of banner, contentinfo or navigation;
// the role attribute is a space-separated token list.
func chromeFlags(doc *goquery.Document) (header, footer, nav bool) {
	header = doc.Find("header").Length() > 0
	footer = doc.Find("footer").Length() > 0
	nav = doc.Find("nav").Length() > 0

	if header && footer && nav {
		return
	}

	doc.Find("[role]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		role, _ := sel.Attr("role")
		for _, token := range strings.Fields(role) {
			switch strings.ToLower(token) {
			case "banner":
				header = true
			case "contentinfo":
				footer = true
			case "navigation":
				nav = true
			}
		}
		return !(header && footer && nav)
	})
	return
}

// structureDigest hashes the element skeleton: tag names in document order
// with explicit open/close markers so nesting is preserved, text and
// attributes excluded. Equivalent structures always hash equal.
func structureDigest(doc *goquery.Document) string {
	var sb strings.Builder
	for _, root := range doc.Nodes {
		writeSkeleton(&sb, root)
	}
	return digestBytes([]byte(sb.String()))
}

func writeSkeleton(sb *strings.Builder, n *html.Node) {
	if n.Type == html.ElementNode {
		sb.WriteByte('<')
		sb.WriteString(n.Data)
		sb.WriteByte('>')
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		writeSkeleton(sb, child)
	}
	if n.Type == html.ElementNode {
		sb.WriteString("</")
		sb.WriteString(n.Data)
		sb.WriteByte('>')
	}
}

func digestBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
