package interfaces

// TransformService renders fetched page bodies as markdown for readable
// source views
type TransformService interface {
	// HTMLToMarkdown converts HTML content to markdown
	// baseURL is used for resolving relative links
	HTMLToMarkdown(html string, baseURL string) (string, error)

	// ValidateHTML checks if the input looks like valid HTML
	ValidateHTML(content string) error
}
