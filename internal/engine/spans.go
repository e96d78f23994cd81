package engine

import (
	"strings"

	"golang.org/x/net/html"
)

// labeledSpan is one small identified text run inside a chunk, typical of
// documents reconstructed from page images where every line carries its own
// element id.
type labeledSpan struct {
	ID   string
	Text string
}

// collectLabeledSpans returns the chunk's identified text runs when the
// chunk is composed of them: elements carrying an id whose content is plain
// text. Returns nil if any such element has nested markup, since the batch
// path can only reinject flat text.
func collectLabeledSpans(fragment string) []labeledSpan {
	var spans []labeledSpan
	flat := true
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode {
			if id := nodeID(node); id != "" {
				text, ok := flatText(node)
				if !ok {
					flat = false
					return
				}
				if strings.TrimSpace(text) != "" {
					spans = append(spans, labeledSpan{ID: id, Text: text})
				}
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	for _, node := range parseFragment(fragment) {
		walk(node)
	}
	if !flat {
		return nil
	}
	return spans
}

// reinjectSpans replaces each labeled element's text with its translation,
// leaving everything else in the chunk untouched. Spans missing from the
// map keep their source text.
func reinjectSpans(fragment string, translated map[string]string) string {
	nodes := parseFragment(fragment)
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode {
			if id := nodeID(node); id != "" {
				if text, ok := translated[id]; ok {
					setNodeText(node, text)
				}
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	for _, node := range nodes {
		walk(node)
	}
	var sb strings.Builder
	for _, node := range nodes {
		if err := html.Render(&sb, node); err != nil {
			return fragment
		}
	}
	return sb.String()
}

func nodeID(node *html.Node) string {
	for _, attr := range node.Attr {
		if attr.Key == "id" {
			return attr.Val
		}
	}
	return ""
}

// flatText returns the element's text content and whether the element holds
// only text nodes.
func flatText(node *html.Node) (string, bool) {
	var sb strings.Builder
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != html.TextNode {
			return "", false
		}
		sb.WriteString(child.Data)
	}
	return sb.String(), true
}

func setNodeText(node *html.Node, text string) {
	for node.FirstChild != nil {
		node.RemoveChild(node.FirstChild)
	}
	node.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}
