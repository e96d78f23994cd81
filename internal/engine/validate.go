package engine

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

const anchorIDAttr = "data-anchor-id"

// validateStructure checks that the translated fragment kept the source's
// element structure: the depth-first sequence of element names must match,
// and every anchor placeholder must survive with identical markup. Text
// content is expected to differ and is not compared.
func validateStructure(chunkID, source, translated string) error {
	srcTags := tagSequence(source)
	outTags := tagSequence(translated)
	if len(srcTags) != len(outTags) {
		return &StructuralMismatchError{
			ChunkID: chunkID,
			Detail:  fmt.Sprintf("element count changed from %d to %d", len(srcTags), len(outTags)),
		}
	}
	for i := range srcTags {
		if srcTags[i] != outTags[i] {
			return &StructuralMismatchError{
				ChunkID: chunkID,
				Detail:  fmt.Sprintf("element %d changed from <%s> to <%s>", i, srcTags[i], outTags[i]),
			}
		}
	}

	srcAnchors := anchorMarkup(source)
	outAnchors := anchorMarkup(translated)
	for id, markup := range srcAnchors {
		got, ok := outAnchors[id]
		if !ok {
			return &StructuralMismatchError{
				ChunkID: chunkID,
				Detail:  fmt.Sprintf("anchor %s removed", id),
			}
		}
		if got != markup {
			return &StructuralMismatchError{
				ChunkID: chunkID,
				Detail:  fmt.Sprintf("anchor %s modified", id),
			}
		}
	}
	return nil
}

// tagSequence returns element names in depth-first document order.
func tagSequence(fragment string) []string {
	var tags []string
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode {
			tags = append(tags, node.Data)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	for _, node := range parseFragment(fragment) {
		walk(node)
	}
	return tags
}

// anchorMarkup maps each anchor id in the fragment to the normalized
// rendering of its element. Both sides go through the same parse and render,
// so unchanged anchors compare equal regardless of the model's whitespace.
func anchorMarkup(fragment string) map[string]string {
	anchors := make(map[string]string)
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode {
			for _, attr := range node.Attr {
				if attr.Key == anchorIDAttr && attr.Val != "" {
					var sb strings.Builder
					if html.Render(&sb, node) == nil {
						anchors[attr.Val] = sb.String()
					}
					break
				}
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	for _, node := range parseFragment(fragment) {
		walk(node)
	}
	return anchors
}
