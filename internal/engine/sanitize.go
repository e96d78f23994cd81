package engine

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// sanitizeOutput cleans up the decorations language models habitually add
// around returned markup: code fences, a <snippet> envelope, or full
// html/body wrappers re-added around a fragment.
func sanitizeOutput(raw string) string {
	s := strings.TrimSpace(raw)
	s = stripCodeFence(s)
	s = stripEnvelope(s, "snippet")
	if hasDocumentWrapper(s) {
		s = unwrapBody(s)
	}
	return strings.TrimSpace(s)
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := s
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		body = body[idx+1:]
	} else {
		return s
	}
	body = strings.TrimRight(body, "\n \t")
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}

func stripEnvelope(s, tag string) string {
	open := "<" + tag + ">"
	close := "</" + tag + ">"
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, open) && strings.HasSuffix(trimmed, close) {
		inner := trimmed[len(open) : len(trimmed)-len(close)]
		return strings.TrimSpace(inner)
	}
	return s
}

func hasDocumentWrapper(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<body") ||
		strings.Contains(lower, "<!doctype")
}

// unwrapBody parses the string as a full document and returns the body's
// inner markup.
func unwrapBody(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}
	body := findNode(doc, atom.Body)
	if body == nil {
		return s
	}
	var sb strings.Builder
	for child := body.FirstChild; child != nil; child = child.NextSibling {
		if err := html.Render(&sb, child); err != nil {
			return s
		}
	}
	return sb.String()
}

// ensureRoot re-wraps the output in the source chunk's root element when the
// model dropped it, keeping the original attributes. Chunks always have a
// single root element, so a missing or mismatched root is unambiguous.
func ensureRoot(source, output string) string {
	srcRoot := singleRootElement(source)
	if srcRoot == nil {
		return output
	}
	outRoot := singleRootElement(output)
	if outRoot != nil && outRoot.Data == srcRoot.Data {
		return output
	}
	wrapper := &html.Node{
		Type:     html.ElementNode,
		Data:     srcRoot.Data,
		DataAtom: srcRoot.DataAtom,
		Attr:     append([]html.Attribute(nil), srcRoot.Attr...),
	}
	for _, child := range parseFragment(output) {
		wrapper.AppendChild(child)
	}
	var sb strings.Builder
	if err := html.Render(&sb, wrapper); err != nil {
		return output
	}
	return sb.String()
}

// singleRootElement returns the fragment's root element if the fragment
// consists of exactly one element plus optional surrounding whitespace.
func singleRootElement(fragment string) *html.Node {
	var root *html.Node
	for _, node := range parseFragment(fragment) {
		switch node.Type {
		case html.ElementNode:
			if root != nil {
				return nil
			}
			root = node
		case html.TextNode:
			if strings.TrimSpace(node.Data) != "" {
				return nil
			}
		}
	}
	return root
}

func parseFragment(fragment string) []*html.Node {
	context := &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), context)
	if err != nil {
		return nil
	}
	return nodes
}

func collectText(node *html.Node, sb *strings.Builder) {
	if node.Type == html.TextNode {
		sb.WriteString(node.Data)
		sb.WriteByte(' ')
		return
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, sb)
	}
}

func findNode(node *html.Node, a atom.Atom) *html.Node {
	if node.Type == html.ElementNode && node.DataAtom == a {
		return node
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if found := findNode(child, a); found != nil {
			return found
		}
	}
	return nil
}
