package search

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// Removed before any text is collected.
var strippedSelectors = []string{
	"script", "style", "nav", "footer", "header", "iframe", "noscript", "aside", "form",
	".ads", ".banner", ".comments", ".social-share", ".related-posts",
}

// The first element in document order matching any of these is the content region.
var contentSelectors = []string{
	"main", "article", ".content", ".post", ".entry", "#content", ".article", ".post-content", ".entry-content",
}

func extractPageText(body []byte, maxRunes int) (string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	stripNodes(doc)

	region := findFirst(doc, func(n *html.Node) bool { return matchesAny(n, contentSelectors) })
	if region == nil {
		region = findFirst(doc, func(n *html.Node) bool { return n.Type == html.ElementNode && n.Data == "body" })
	}
	if region == nil {
		region = doc
	}

	var builder strings.Builder
	collectText(region, &builder)
	return trimToRunes(collapseWhitespace(builder.String()), maxRunes), nil
}

func stripNodes(node *html.Node) {
	for child := node.FirstChild; child != nil; {
		next := child.NextSibling
		if matchesAny(child, strippedSelectors) {
			node.RemoveChild(child)
		} else {
			stripNodes(child)
		}
		child = next
	}
}

func findFirst(node *html.Node, match func(*html.Node) bool) *html.Node {
	if node == nil {
		return nil
	}
	if match(node) {
		return node
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if found := findFirst(child, match); found != nil {
			return found
		}
	}
	return nil
}

// Elements whose boundaries separate words. Inline markup joins its text
// with the surrounding run.
var blockElements = map[string]struct{}{
	"address": {}, "article": {}, "aside": {}, "blockquote": {}, "br": {}, "dd": {}, "div": {},
	"dl": {}, "dt": {}, "figcaption": {}, "figure": {}, "footer": {}, "h1": {}, "h2": {}, "h3": {},
	"h4": {}, "h5": {}, "h6": {}, "header": {}, "hr": {}, "li": {}, "main": {}, "ol": {}, "p": {},
	"pre": {}, "section": {}, "table": {}, "td": {}, "th": {}, "tr": {}, "ul": {},
}

func collectText(node *html.Node, out *strings.Builder) {
	if node.Type == html.TextNode {
		out.WriteString(node.Data)
		return
	}
	_, block := blockElements[strings.ToLower(node.Data)]
	block = block && node.Type == html.ElementNode
	if block {
		out.WriteByte(' ')
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, out)
	}
	if block {
		out.WriteByte(' ')
	}
}

// matchesAny supports bare tag names, .class and #id selectors.
func matchesAny(node *html.Node, selectors []string) bool {
	if node == nil || node.Type != html.ElementNode {
		return false
	}
	for _, selector := range selectors {
		switch {
		case strings.HasPrefix(selector, "."):
			if hasClass(node, selector[1:]) {
				return true
			}
		case strings.HasPrefix(selector, "#"):
			if attr(node, "id") == selector[1:] {
				return true
			}
		default:
			if strings.EqualFold(node.Data, selector) {
				return true
			}
		}
	}
	return false
}

func hasClass(node *html.Node, class string) bool {
	for _, value := range strings.Fields(attr(node, "class")) {
		if value == class {
			return true
		}
	}
	return false
}

func attr(node *html.Node, key string) string {
	for _, a := range node.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func collapseWhitespace(raw string) string {
	return strings.Join(strings.Fields(strings.ToValidUTF8(raw, "")), " ")
}

func trimToRunes(raw string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(raw)
	if len(runes) <= limit {
		return raw
	}
	return string(runes[:limit])
}
