// Package document converts uploaded files (PDF, Word, HTML, text, office
// formats) into a normalized HTML document, an ordered list of structural
// chunks, and the embedded assets with anchor placeholders marking their
// positions.
package document

import (
	"golang.org/x/net/html"
)

// Metadata is the document-level information a family converter could
// determine.
type Metadata struct {
	Pages      int `json:"pages,omitempty"`
	Paragraphs int `json:"paragraphs,omitempty"`
}

// Result is the parser output: the normalized document, its chunks, and the
// extracted assets and anchors.
type Result struct {
	// Document is the full normalized HTML with anchors in place of images.
	Document string
	// HeadHTML is the inner head markup, persisted on the job for assembly.
	HeadHTML string
	// BodyHTML is the inner body markup after anchor substitution.
	BodyHTML string

	Chunks  []ParsedChunk
	Assets  []*ExtractedAsset
	Anchors []*ExtractedAnchor

	Metadata Metadata
}

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse converts raw file bytes into the normalized parse result. Returns
// UnsupportedFormatError, ParseError or EmptyContentError; all three are
// fatal for the job.
func (p *Parser) Parse(raw []byte, mediaType, filename string) (*Result, error) {
	family := DetectFamily(filename, mediaType)
	if family == FamilyUnknown {
		return nil, &UnsupportedFormatError{Filename: filename, MediaType: mediaType}
	}

	var (
		doc        *html.Node
		candidates map[string]CandidateAsset
		meta       Metadata
		err        error
	)
	switch family {
	case FamilyHTML:
		doc, err = parseHTMLDocument(raw)
		if err != nil {
			return nil, &ParseError{Family: FamilyHTML, Cause: err}
		}
	case FamilyText:
		doc, meta.Paragraphs, err = buildTextDocument(string(raw))
		if err != nil {
			return nil, &ParseError{Family: FamilyText, Cause: err}
		}
	case FamilyWord:
		doc, candidates, meta, err = parseWordDocument(raw)
		if err != nil {
			return nil, err
		}
	case FamilyPDF:
		doc, meta, err = parsePDFDocument(raw)
		if err != nil {
			return nil, err
		}
	case FamilyOffice:
		doc, candidates, meta, err = parseOfficeDocument(raw, filename)
		if err != nil {
			return nil, err
		}
	}

	assets, anchors := extractAnchors(doc, candidates)

	body := findElement(doc, "body")
	head := findElement(doc, "head")

	chunks, err := chunkBody(body)
	if err != nil {
		return nil, &ParseError{Family: family, Cause: err}
	}
	if len(chunks) == 0 {
		// Whole-document fallback: one chunk from the flattened text.
		text := normalizeWhitespace(nodeText(body))
		if text == "" {
			return nil, &EmptyContentError{Filename: filename}
		}
		serialized := "<p>" + html.EscapeString(text) + "</p>"
		chunks = []ParsedChunk{{
			Order:   0,
			ChunkID: chunkID(serialized, 0),
			HTML:    serialized,
			Text:    text,
		}}
	}

	assignAnchorChunks(chunks, anchors)

	result := &Result{
		Chunks:   chunks,
		Assets:   assets,
		Anchors:  anchors,
		Metadata: meta,
	}
	if result.Document, err = renderNode(doc); err != nil {
		return nil, &ParseError{Family: family, Cause: err}
	}
	if head != nil {
		if result.HeadHTML, err = renderChildren(head); err != nil {
			return nil, &ParseError{Family: family, Cause: err}
		}
	}
	if result.BodyHTML, err = renderChildren(body); err != nil {
		return nil, &ParseError{Family: family, Cause: err}
	}
	return result, nil
}

// assignAnchorChunks links each anchor to the chunk that contains its
// placeholder.
func assignAnchorChunks(chunks []ParsedChunk, anchors []*ExtractedAnchor) {
	owners := make(map[string]string)
	for _, chunk := range chunks {
		for _, anchorID := range chunk.AnchorIDs {
			owners[anchorID] = chunk.ChunkID
		}
	}
	for _, anchor := range anchors {
		anchor.ChunkID = owners[anchor.AnchorID]
	}
}
