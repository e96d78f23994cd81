package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// blockTags are the elements treated as one structural chunk each. Anything
// else with children is flattened into its children.
var blockTags = map[string]bool{
	"p":          true,
	"h1":         true,
	"h2":         true,
	"h3":         true,
	"h4":         true,
	"h5":         true,
	"h6":         true,
	"ul":         true,
	"ol":         true,
	"dl":         true,
	"li":         true,
	"table":      true,
	"blockquote": true,
	"pre":        true,
	"figure":     true,
	"hr":         true,
	"address":    true,
}

// ParsedChunk is one block-level fragment of the normalized document, the
// unit of independent machine translation.
type ParsedChunk struct {
	Order     int
	ChunkID   string
	HTML      string
	Text      string
	AnchorIDs []string
}

// chunkBody walks the body's top-level nodes in document order and produces
// the ordered chunk list. A node becomes one chunk when its tag is a
// recognized block-level element or it has no children; otherwise its
// children are flattened. Bare text runs are wrapped as <p>.
func chunkBody(body *html.Node) ([]ParsedChunk, error) {
	nodes := collectChunkNodes(body)

	chunks := make([]ParsedChunk, 0, len(nodes))
	for i, node := range nodes {
		serialized, err := renderNode(node)
		if err != nil {
			return nil, err
		}
		chunk := ParsedChunk{
			Order:     i,
			ChunkID:   chunkID(serialized, i),
			HTML:      serialized,
			Text:      normalizeWhitespace(nodeText(node)),
			AnchorIDs: collectAnchorIDs(node),
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func collectChunkNodes(parent *html.Node) []*html.Node {
	nodes := make([]*html.Node, 0)
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			if strings.TrimSpace(c.Data) == "" {
				continue
			}
			nodes = append(nodes, wrapTextNode(c))
		case html.ElementNode:
			if blockTags[c.Data] || c.FirstChild == nil {
				nodes = append(nodes, c)
				continue
			}
			nodes = append(nodes, collectChunkNodes(c)...)
		}
	}
	return nodes
}

// wrapTextNode wraps a bare text run into a detached <p> element.
func wrapTextNode(text *html.Node) *html.Node {
	p := &html.Node{Type: html.ElementNode, Data: "p"}
	p.AppendChild(&html.Node{Type: html.TextNode, Data: strings.TrimSpace(text.Data)})
	return p
}

// chunkID derives a deterministic chunk identity from serialized content and
// position, so re-parsing identical content yields identical IDs.
func chunkID(serialized string, position int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s", position, serialized)))
	return hex.EncodeToString(sum[:])[:16]
}

func collectAnchorIDs(n *html.Node) []string {
	ids := make([]string, 0)
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode {
			if id := getAttr(node, anchorIDAttr); id != "" {
				ids = append(ids, id)
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return ids
}
