package crawler

import (
	"strings"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lustro/internal/models"
)

func extractorConfig(static, dynamic, resource, external bool) models.AnalysisConfig {
	cfg := models.DefaultAnalysisConfig()
	cfg.ExtractStaticLinks = static
	cfg.ExtractDynamicLinks = dynamic
	cfg.ExtractResourceLinks = resource
	cfg.ExtractExternalLinks = external
	return cfg
}

func newTestExtractor(cfg models.AnalysisConfig) *LinkExtractor {
	return NewLinkExtractor(cfg, "https://site.test/", arbor.NewLogger())
}

func linkByTarget(links []ExtractedLink, target string) *ExtractedLink {
	for i := range links {
		if links[i].TargetURL == target {
			return &links[i]
		}
	}
	return nil
}

func TestExtractorStaticLinks(t *testing.T) {
	body := []byte(`<html><body>
		<a href="/about">About Us</a>
		<map><area href="/map" alt="Site Map"></map>
		<a href="mailto:team@site.test">Mail</a>
		<a href="#">Top</a>
		<link rel="canonical" href="/canon">
	</body></html>`)

	le := newTestExtractor(extractorConfig(true, false, false, false))
	links, err := le.Extract(body, "https://site.test/")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(links) != 3 {
		t.Fatalf("Expected 3 links (mailto and bare fragment dropped), got %d: %+v", len(links), links)
	}

	about := linkByTarget(links, "https://site.test/about")
	if about == nil {
		t.Fatal("Expected /about to be extracted")
	}
	if about.Type != models.LinkTypeStatic {
		t.Errorf("Expected static type, got %s", about.Type)
	}
	if about.Text != "About Us" {
		t.Errorf("Expected anchor text captured, got %q", about.Text)
	}

	area := linkByTarget(links, "https://site.test/map")
	if area == nil {
		t.Fatal("Expected area href to be extracted")
	}
	if area.Text != "Site Map" {
		t.Errorf("Expected alt text on textless area, got %q", area.Text)
	}

	canon := linkByTarget(links, "https://site.test/canon")
	if canon == nil {
		t.Fatal("Expected rel=canonical link to be extracted")
	}
	if canon.Type != models.LinkTypeStatic {
		t.Errorf("Expected canonical link typed static, got %s", canon.Type)
	}
}

func TestExtractorDynamicLinks(t *testing.T) {
	body := []byte(`<html><body>
		<button onclick="location.href='/next'">Next</button>
		<div data-href="/panel">Panel</div>
		<script>var route = "/app/main";</script>
		<script src="/external.js">var ignored = "/never";</script>
	</body></html>`)

	le := newTestExtractor(extractorConfig(false, true, false, false))
	links, err := le.Extract(body, "https://site.test/")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	next := linkByTarget(links, "https://site.test/next")
	if next == nil {
		t.Fatal("Expected onclick navigation target to be extracted")
	}
	if next.Type != models.LinkTypeDynamic {
		t.Errorf("Expected dynamic type, got %s", next.Type)
	}
	if next.Text != "Next" {
		t.Errorf("Expected element text, got %q", next.Text)
	}

	if linkByTarget(links, "https://site.test/panel") == nil {
		t.Error("Expected data-href target to be extracted")
	}
	if linkByTarget(links, "https://site.test/app/main") == nil {
		t.Error("Expected inline script URL literal to be extracted")
	}
	if linkByTarget(links, "https://site.test/never") != nil {
		t.Error("External script bodies must not be scanned for URLs")
	}
}

func TestExtractorResourceLinks(t *testing.T) {
	body := []byte(`<html><head>
		<link rel="stylesheet" href="/css/site.css">
	</head><body>
		<img src="/logo.png" alt="Logo">
		<script src="/js/app.js"></script>
		<iframe src="/frame"></iframe>
	</body></html>`)

	le := newTestExtractor(extractorConfig(false, false, true, false))
	links, err := le.Extract(body, "https://site.test/")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(links) != 4 {
		t.Fatalf("Expected 4 resource links, got %d: %+v", len(links), links)
	}
	for _, link := range links {
		if link.Type != models.LinkTypeResource {
			t.Errorf("Expected resource type for %s, got %s", link.TargetURL, link.Type)
		}
	}

	logo := linkByTarget(links, "https://site.test/logo.png")
	if logo == nil || logo.Text != "Logo" {
		t.Errorf("Expected image alt text captured, got %+v", logo)
	}
	frame := linkByTarget(links, "https://site.test/frame")
	if frame == nil || frame.Text != "iframe" {
		t.Errorf("Expected element name on iframe source, got %+v", frame)
	}
}

func TestExtractorExternalToggle(t *testing.T) {
	body := []byte(`<html><body>
		<a href="/local">Local</a>
		<a href="https://other.test/page">Elsewhere</a>
	</body></html>`)

	le := newTestExtractor(extractorConfig(true, false, false, false))
	links, err := le.Extract(body, "https://site.test/")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("Expected off-origin target dropped, got %d links", len(links))
	}

	le = newTestExtractor(extractorConfig(true, false, false, true))
	links, err = le.Extract(body, "https://site.test/")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	external := linkByTarget(links, "https://other.test/page")
	if external == nil {
		t.Fatal("Expected off-origin target extracted when externals are on")
	}
	if external.Type != models.LinkTypeExternal {
		t.Errorf("Expected off-origin target typed external, got %s", external.Type)
	}
	local := linkByTarget(links, "https://site.test/local")
	if local == nil || local.Type != models.LinkTypeStatic {
		t.Errorf("Expected same-origin target to keep its static type, got %+v", local)
	}
}

func TestExtractorFirstOccurrenceFixesType(t *testing.T) {
	// The same target appears as an anchor and as an image source. Passes
	// run static first, so the anchor's type wins and the duplicate drops.
	body := []byte(`<html><body>
		<a href="/dual">Dual</a>
		<img src="/dual" alt="Dual image">
	</body></html>`)

	le := newTestExtractor(extractorConfig(true, false, true, false))
	links, err := le.Extract(body, "https://site.test/")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(links) != 1 {
		t.Fatalf("Expected duplicate target collapsed, got %d links", len(links))
	}
	if links[0].Type != models.LinkTypeStatic {
		t.Errorf("Expected first occurrence to fix the type as static, got %s", links[0].Type)
	}
	if links[0].Text != "Dual" {
		t.Errorf("Expected first occurrence text kept, got %q", links[0].Text)
	}
}

func TestExtractorDocumentOrder(t *testing.T) {
	body := []byte(`<html><body>
		<a href="/first">1</a>
		<a href="/second">2</a>
		<a href="/third">3</a>
	</body></html>`)

	le := newTestExtractor(extractorConfig(true, false, false, false))
	links, err := le.Extract(body, "https://site.test/")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	want := []string{
		"https://site.test/first",
		"https://site.test/second",
		"https://site.test/third",
	}
	if len(links) != len(want) {
		t.Fatalf("Expected %d links, got %d", len(want), len(links))
	}
	for i, target := range want {
		if links[i].TargetURL != target {
			t.Errorf("Expected %s at position %d, got %s", target, i, links[i].TargetURL)
		}
	}
}

func TestExtractorRelativeResolution(t *testing.T) {
	body := []byte(`<html><body>
		<a href="sibling">Sibling</a>
		<a href="../up">Up</a>
		<a href="?sort=asc">Sorted</a>
	</body></html>`)

	le := newTestExtractor(extractorConfig(true, false, false, false))
	links, err := le.Extract(body, "https://site.test/docs/guide/intro")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if linkByTarget(links, "https://site.test/docs/guide/sibling") == nil {
		t.Error("Expected relative href resolved against the page path")
	}
	if linkByTarget(links, "https://site.test/docs/up") == nil {
		t.Error("Expected dot-segment href resolved upward")
	}
	if linkByTarget(links, "https://site.test/docs/guide/intro?sort=asc") == nil {
		t.Error("Expected query-only href resolved to the page with query")
	}
}

func TestCollapseText(t *testing.T) {
	if got := collapseText("  Multi \n\t line   text "); got != "Multi line text" {
		t.Errorf("Expected collapsed whitespace, got %q", got)
	}

	long := strings.Repeat("a ", 200)
	if got := collapseText(long); len(got) != 200 {
		t.Errorf("Expected text bounded at 200 characters, got %d", len(got))
	}
}
