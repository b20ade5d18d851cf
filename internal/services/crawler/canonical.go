package crawler

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// CanonicalURL normalizes a URL into its identity form. Two URLs naming the
// same resource canonicalize to the same string: scheme and host lowercase,
// default ports stripped, fragment removed, dot-segments resolved. The query
// string is preserved byte for byte because servers may treat parameter
// order as significant.
func CanonicalURL(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", fmt.Errorf("empty URL")
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("unparseable URL %q: %w", rawURL, err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("URL %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("URL %q has no host", rawURL)
	}
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.Path = normalizePath(u.Path)
	u.RawPath = ""

	return u.String(), nil
}

// normalizePath resolves dot-segments and collapses duplicate slashes while
// keeping the trailing-slash distinction: /a/b/ and /a/b stay different
// resources.
func normalizePath(p string) string {
	if p == "" {
		return "/"
	}

	trailing := strings.HasSuffix(p, "/")
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == "" {
		cleaned = "/"
	}
	if trailing && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

// skipSchemes are href prefixes that never name fetchable documents
var skipSchemes = []string{"javascript:", "mailto:", "tel:", "data:", "about:", "file:", "ftp:"}

// ResolveURL resolves an href against its page URL and canonicalizes the
// result. Returns an error for non-document hrefs (javascript:, mailto:,
// bare fragments) so extractors can drop them.
func ResolveURL(base *url.URL, href string) (string, error) {
	trimmed := strings.TrimSpace(href)
	if trimmed == "" || trimmed == "#" {
		return "", fmt.Errorf("empty href")
	}

	lower := strings.ToLower(trimmed)
	for _, scheme := range skipSchemes {
		if strings.HasPrefix(lower, scheme) {
			return "", fmt.Errorf("skipped scheme in href %q", href)
		}
	}

	ref, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("unparseable href %q: %w", href, err)
	}

	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", fmt.Errorf("non-http scheme %q in href %q", abs.Scheme, href)
	}

	return CanonicalURL(abs.String())
}
