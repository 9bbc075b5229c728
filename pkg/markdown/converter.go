package markdown

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

// ToOverlayHTML converts assistant markdown to the small HTML subset the
// overlay transcript widget accepts
func ToOverlayHTML(markdown string) string {
	if markdown == "" {
		return ""
	}

	html := string(blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(blackfriday.CommonExtensions)))

	return cleanHTMLForOverlay(html)
}

// cleanHTMLForOverlay strips tags the overlay widget cannot render
func cleanHTMLForOverlay(html string) string {
	// Remove wrapping <p> tags
	html = regexp.MustCompile(`<p>(.*?)</p>`).ReplaceAllString(html, "$1\n")

	// Convert <strong> to <b>
	html = strings.ReplaceAll(html, "<strong>", "<b>")
	html = strings.ReplaceAll(html, "</strong>", "</b>")

	// Convert <em> to <i>
	html = strings.ReplaceAll(html, "<em>", "<i>")
	html = strings.ReplaceAll(html, "</em>", "</i>")

	// Flatten code blocks
	html = regexp.MustCompile(`<pre><code(?: class="[^"]*")?>(.*?)</code></pre>`).ReplaceAllString(html, "<pre>$1</pre>")

	// Lists become bullet lines
	html = strings.ReplaceAll(html, "<ul>", "")
	html = strings.ReplaceAll(html, "</ul>", "")
	html = strings.ReplaceAll(html, "<ol>", "")
	html = strings.ReplaceAll(html, "</ol>", "")
	html = strings.ReplaceAll(html, "<li>", "• ")
	html = strings.ReplaceAll(html, "</li>", "\n")

	// Drop any other tag the widget doesn't support
	supportedTags := []string{"b", "i", "u", "s", "code", "pre", "a", "br"}
	tagPattern := `</?([a-zA-Z]+)(?:\s[^>]*)?>`

	html = regexp.MustCompile(tagPattern).ReplaceAllStringFunc(html, func(match string) string {
		tagMatch := regexp.MustCompile(`</?([a-zA-Z]+)`).FindStringSubmatch(match)
		if len(tagMatch) > 1 {
			tagName := tagMatch[1]
			for _, supported := range supportedTags {
				if tagName == supported {
					return match
				}
			}
		}
		return ""
	})

	// Clean up extra newlines
	html = regexp.MustCompile(`\n{3,}`).ReplaceAllString(html, "\n\n")

	return strings.TrimSpace(html)
}
