package document

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// parseHTMLDocument parses raw HTML into a document tree. x/net/html always
// produces the html/head/body skeleton, which is the normalized shape all
// downstream stages rely on.
func parseHTMLDocument(raw []byte) (*html.Node, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func findElement(n *html.Node, tag string) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func renderNode(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", fmt.Errorf("render html node: %w", err)
	}
	return buf.String(), nil
}

func renderChildren(n *html.Node) (string, error) {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("render html node: %w", err)
		}
	}
	return buf.String(), nil
}

// nodeText returns the concatenated text content of a subtree.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func getAttr(n *html.Node, name string) string {
	for _, attr := range n.Attr {
		if attr.Key == name {
			return attr.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, name, value string) {
	for i, attr := range n.Attr {
		if attr.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

// normalizeWhitespace collapses runs of whitespace into single spaces and
// trims the result. Used for text fingerprints and chunk source text.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// buildTextDocument wraps paragraphs of plain text into an HTML document,
// splitting on blank lines.
func buildTextDocument(text string) (*html.Node, int, error) {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	blocks := strings.Split(normalized, "\n\n")

	var sb strings.Builder
	sb.WriteString("<html><head></head><body>")
	paragraphs := 0
	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		sb.WriteString("<p>")
		// Single newlines inside a block stay as line breaks.
		lines := strings.Split(block, "\n")
		for i, line := range lines {
			if i > 0 {
				sb.WriteString("<br/>")
			}
			sb.WriteString(html.EscapeString(strings.TrimSpace(line)))
		}
		sb.WriteString("</p>")
		paragraphs++
	}
	sb.WriteString("</body></html>")

	doc, err := parseHTMLDocument([]byte(sb.String()))
	if err != nil {
		return nil, 0, err
	}
	return doc, paragraphs, nil
}
