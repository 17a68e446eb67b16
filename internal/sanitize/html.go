package sanitize

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// StripHTML returns only the text content of s. Script and style bodies are
// discarded. If the parser fails the tags are removed with a regex instead.
func StripHTML(s string) string {
	if s == "" || !strings.ContainsAny(s, "<&") {
		return s
	}

	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return StripTagsRegex(s)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return b.String()
}

// StripTagsRegex removes anything that looks like a tag.
func StripTagsRegex(s string) string {
	return tagPattern.ReplaceAllString(s, "")
}
