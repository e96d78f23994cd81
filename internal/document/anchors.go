package document

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	anchorTag       = "span"
	anchorClass     = "doc-anchor"
	anchorIDAttr    = "data-anchor-id"
	anchorAssetAttr = "data-asset-id"
	anchorAlignAttr = "data-align"
	anchorWidthAttr = "data-width"

	// emuPerPixel converts office-native EMU sizing to CSS pixels
	// (914400 EMU per inch at 96 px per inch).
	emuPerPixel = 9525

	// fingerprintWindow bounds the normalized-text window hashed on each side
	// of an anchor. Content hashes, not offsets, keep anchors locatable after
	// translation changes text length.
	fingerprintWindow = 120
)

// ExtractedAsset is a candidate asset pulled out of the document, addressed
// by the content hash of its raw bytes.
type ExtractedAsset struct {
	Hash      string
	Bytes     []byte
	MediaType string
	Width     int
	Height    int
	AltText   string
	Caption   string
	// KeepOriginal marks assets whose embedded text must not be translated.
	KeepOriginal bool
	// SourceURL is set for remote images that were not inlined; assembly
	// prefers it over inline data.
	SourceURL string
}

// ExtractedAnchor records one asset placement in the flowing text.
type ExtractedAnchor struct {
	AnchorID  string
	AssetHash string
	ChunkID   string
	DocOrder  int
	Alignment string
	WidthPx   int
	Caption   string

	BeforeHash string
	AfterHash  string
}

// CandidateAsset carries bytes and pre-known placement metadata produced by a
// family converter for an internal image reference (e.g. a DOCX media part).
type CandidateAsset struct {
	Bytes     []byte
	MediaType string
	AltText   string
	Caption   string
	WidthEMU  int64
	Alignment string
}

// extractAnchors replaces every image element in the document with an inert
// anchor placeholder and returns the deduplicated assets plus one anchor per
// placement. Anchors are marked non-translatable so the translation engine
// leaves them byte-for-byte unchanged.
func extractAnchors(doc *html.Node, candidates map[string]CandidateAsset) ([]*ExtractedAsset, []*ExtractedAnchor) {
	images := make([]*html.Node, 0)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "img" {
			images = append(images, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	assets := make([]*ExtractedAsset, 0, len(images))
	assetsByHash := make(map[string]*ExtractedAsset)
	anchors := make([]*ExtractedAnchor, 0, len(images))

	for docOrder, img := range images {
		asset := resolveAsset(img, candidates)
		if existing, ok := assetsByHash[asset.Hash]; ok {
			asset = existing
		} else {
			assetsByHash[asset.Hash] = asset
			assets = append(assets, asset)
		}

		anchor := &ExtractedAnchor{
			AnchorID:  anchorID(asset.Hash, docOrder),
			AssetHash: asset.Hash,
			DocOrder:  docOrder,
			Alignment: inferAlignment(img),
			WidthPx:   inferWidth(img, candidates),
			Caption:   captionFor(img),
		}
		anchor.BeforeHash, anchor.AfterHash = fingerprintAround(doc, img)
		anchors = append(anchors, anchor)

		replaceWithAnchor(img, anchor)
	}
	return assets, anchors
}

func resolveAsset(img *html.Node, candidates map[string]CandidateAsset) *ExtractedAsset {
	src := getAttr(img, "src")
	asset := &ExtractedAsset{
		AltText: getAttr(img, "alt"),
		Caption: captionFor(img),
	}

	switch {
	case candidates != nil && candidateFor(candidates, src) != nil:
		candidate := candidateFor(candidates, src)
		asset.Bytes = candidate.Bytes
		asset.MediaType = candidate.MediaType
		if asset.AltText == "" {
			asset.AltText = candidate.AltText
		}
		if asset.Caption == "" {
			asset.Caption = candidate.Caption
		}
	case strings.HasPrefix(src, "data:"):
		mediaType, data, err := decodeDataURI(src)
		if err == nil {
			asset.Bytes = data
			asset.MediaType = mediaType
		}
	default:
		// Remote image: not fetched at parse time, addressed by its URL.
		asset.SourceURL = src
	}

	if len(asset.Bytes) > 0 {
		asset.Hash = contentHash(asset.Bytes)
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(asset.Bytes)); err == nil {
			asset.Width = cfg.Width
			asset.Height = cfg.Height
		}
		if asset.MediaType == "" {
			asset.MediaType = sniffImageType(asset.Bytes)
		}
	} else {
		asset.Hash = contentHash([]byte(src))
	}
	return asset
}

func candidateFor(candidates map[string]CandidateAsset, src string) *CandidateAsset {
	if candidate, ok := candidates[src]; ok {
		return &candidate
	}
	return nil
}

// anchorID is deterministic over (asset, placement) so re-parsing the same
// content updates anchors in place instead of recreating them.
func anchorID(assetHash string, docOrder int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", assetHash, docOrder)))
	return "a-" + hex.EncodeToString(sum[:])[:12]
}

func replaceWithAnchor(img *html.Node, anchor *ExtractedAnchor) {
	placeholder := &html.Node{Type: html.ElementNode, Data: anchorTag}
	setAttr(placeholder, "class", anchorClass)
	setAttr(placeholder, anchorIDAttr, anchor.AnchorID)
	setAttr(placeholder, anchorAssetAttr, anchor.AssetHash)
	if anchor.Alignment != "" {
		setAttr(placeholder, anchorAlignAttr, anchor.Alignment)
	}
	if anchor.WidthPx > 0 {
		setAttr(placeholder, anchorWidthAttr, strconv.Itoa(anchor.WidthPx))
	}
	setAttr(placeholder, "translate", "no")

	parent := img.Parent
	parent.InsertBefore(placeholder, img)
	parent.RemoveChild(img)
}

// inferAlignment resolves image alignment from the explicit align attribute,
// inline style (text-align/float), or the parent's style, in that order.
func inferAlignment(img *html.Node) string {
	if align := normalizeAlign(getAttr(img, "align")); align != "" {
		return align
	}
	if align := alignFromStyle(getAttr(img, "style")); align != "" {
		return align
	}
	if img.Parent != nil {
		if align := normalizeAlign(getAttr(img.Parent, "align")); align != "" {
			return align
		}
		if align := alignFromStyle(getAttr(img.Parent, "style")); align != "" {
			return align
		}
	}
	return ""
}

func alignFromStyle(style string) string {
	for _, decl := range strings.Split(style, ";") {
		key, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.ToLower(key))
		if key == "text-align" || key == "float" {
			if align := normalizeAlign(value); align != "" {
				return align
			}
		}
	}
	return ""
}

func normalizeAlign(value string) string {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "left", "right", "center":
		return strings.TrimSpace(strings.ToLower(value))
	}
	return ""
}

// inferWidth resolves display width in pixels from inline style, the width
// attribute, or office-native EMU sizing.
func inferWidth(img *html.Node, candidates map[string]CandidateAsset) int {
	if width := widthFromStyle(getAttr(img, "style")); width > 0 {
		return width
	}
	if width, err := strconv.Atoi(strings.TrimSuffix(getAttr(img, "width"), "px")); err == nil && width > 0 {
		return width
	}
	if emu, err := strconv.ParseInt(getAttr(img, "data-emu-width"), 10, 64); err == nil && emu > 0 {
		return int(emu / emuPerPixel)
	}
	if candidate := candidateFor(candidates, getAttr(img, "src")); candidate != nil && candidate.WidthEMU > 0 {
		return int(candidate.WidthEMU / emuPerPixel)
	}
	return 0
}

func widthFromStyle(style string) int {
	for _, decl := range strings.Split(style, ";") {
		key, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(strings.ToLower(key)) != "width" {
			continue
		}
		value = strings.TrimSpace(strings.ToLower(value))
		value = strings.TrimSuffix(value, "px")
		if width, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return width
		}
	}
	return 0
}

func captionFor(img *html.Node) string {
	if title := getAttr(img, "title"); title != "" {
		return title
	}
	// figure > img + figcaption
	if img.Parent != nil && img.Parent.Type == html.ElementNode && img.Parent.Data == "figure" {
		if figcaption := findElement(img.Parent, "figcaption"); figcaption != nil {
			return normalizeWhitespace(nodeText(figcaption))
		}
	}
	return ""
}

// fingerprintAround hashes a bounded window of normalized text immediately
// before and after the target node.
func fingerprintAround(root, target *html.Node) (before, after string) {
	var beforeText, afterText strings.Builder
	seen := false
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n == target {
			seen = true
			return
		}
		if n.Type == html.TextNode {
			if seen {
				afterText.WriteString(n.Data)
			} else {
				beforeText.WriteString(n.Data)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return FingerprintBefore(beforeText.String()), FingerprintAfter(afterText.String())
}

// Fingerprints is the pair of neighboring-text hashes stored on an anchor.
type Fingerprints struct {
	Before string
	After  string
}

// AnchorFingerprints recomputes the neighboring-text fingerprints of every
// anchor placeholder in an HTML fragment, keyed by anchor ID. Run it whenever
// the owning chunk's content changes so the stored hashes keep describing the
// text that actually surrounds the anchor.
func AnchorFingerprints(fragment string) (map[string]Fingerprints, error) {
	container := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), container)
	if err != nil {
		return nil, err
	}
	for _, node := range nodes {
		container.AppendChild(node)
	}

	targets := make(map[string]*html.Node)
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if id := getAttr(n, anchorIDAttr); id != "" {
				targets[id] = n
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(container)

	prints := make(map[string]Fingerprints, len(targets))
	for id, node := range targets {
		before, after := fingerprintAround(container, node)
		prints[id] = Fingerprints{Before: before, After: after}
	}
	return prints, nil
}

// TextFingerprint hashes a normalized text window into the short form stored
// on anchors.
func TextFingerprint(window string) string {
	if window == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(window))
	return hex.EncodeToString(sum[:])[:16]
}

// FingerprintBefore returns the fingerprint of the trailing window of text
// preceding an anchor.
func FingerprintBefore(text string) string {
	return TextFingerprint(tailWindow(normalizeWhitespace(text)))
}

// FingerprintAfter returns the fingerprint of the leading window of text
// following an anchor.
func FingerprintAfter(text string) string {
	return TextFingerprint(headWindow(normalizeWhitespace(text)))
}

func tailWindow(s string) string {
	runes := []rune(s)
	if len(runes) <= fingerprintWindow {
		return s
	}
	return string(runes[len(runes)-fingerprintWindow:])
}

func headWindow(s string) string {
	runes := []rune(s)
	if len(runes) <= fingerprintWindow {
		return s
	}
	return string(runes[:fingerprintWindow])
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func decodeDataURI(uri string) (mediaType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URI")
	}
	mediaType = meta
	base64Encoded := false
	if strings.HasSuffix(meta, ";base64") {
		mediaType = strings.TrimSuffix(meta, ";base64")
		base64Encoded = true
	}
	if base64Encoded {
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", nil, err
		}
	} else {
		data = []byte(payload)
	}
	return mediaType, data, nil
}

func sniffImageType(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG")):
		return "image/png"
	case bytes.HasPrefix(data, []byte("\xff\xd8\xff")):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF8")):
		return "image/gif"
	case bytes.HasPrefix(data, []byte("<svg")) || bytes.HasPrefix(data, []byte("<?xml")):
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}
