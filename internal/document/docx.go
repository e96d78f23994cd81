package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// docxRelPrefix marks internal image references resolved through the DOCX
// relationship table.
const docxRelPrefix = "docxrel:"

// parseWordDocument converts a DOCX archive into a normalized HTML document
// plus candidate assets extracted from the media parts. Legacy binary .doc
// files fall back to printable-text extraction.
func parseWordDocument(raw []byte) (*html.Node, map[string]CandidateAsset, Metadata, error) {
	reader, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		// Not a zip archive: legacy .doc. Best effort.
		doc, paragraphs, buildErr := buildTextDocument(extractPrintableText(raw))
		if buildErr != nil {
			return nil, nil, Metadata{}, &ParseError{Family: FamilyWord, Cause: buildErr}
		}
		return doc, nil, Metadata{Paragraphs: paragraphs}, nil
	}

	documentXML, err := readZipFile(reader, "word/document.xml")
	if err != nil {
		return nil, nil, Metadata{}, &ParseError{Family: FamilyWord, Cause: err}
	}

	relTargets, err := readDocxRelationships(reader)
	if err != nil {
		return nil, nil, Metadata{}, &ParseError{Family: FamilyWord, Cause: err}
	}

	candidates := make(map[string]CandidateAsset)
	markup, paragraphs, err := docxBodyMarkup(documentXML, reader, relTargets, candidates)
	if err != nil {
		return nil, nil, Metadata{}, &ParseError{Family: FamilyWord, Cause: err}
	}

	doc, err := parseHTMLDocument([]byte("<html><head></head><body>" + markup + "</body></html>"))
	if err != nil {
		return nil, nil, Metadata{}, &ParseError{Family: FamilyWord, Cause: err}
	}
	return doc, candidates, Metadata{Paragraphs: paragraphs}, nil
}

// docxBodyMarkup streams word/document.xml and emits one <p> per w:p,
// inlining drawings as <img> references with their EMU extent preserved.
func docxBodyMarkup(documentXML []byte, reader *zip.Reader, relTargets map[string]string, candidates map[string]CandidateAsset) (string, int, error) {
	decoder := xml.NewDecoder(bytes.NewReader(documentXML))

	var sb strings.Builder
	var paragraph strings.Builder
	paragraphs := 0
	inParagraph := false
	paragraphHasContent := false

	// Drawing state: the extent usually precedes the blip reference.
	var pendingEMU int64

	flushParagraph := func() {
		if inParagraph && paragraphHasContent {
			sb.WriteString("<p>")
			sb.WriteString(paragraph.String())
			sb.WriteString("</p>")
			paragraphs++
		}
		paragraph.Reset()
		inParagraph = false
		paragraphHasContent = false
	}

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("decode document.xml: %w", err)
		}

		switch element := token.(type) {
		case xml.StartElement:
			switch element.Name.Local {
			case "p":
				flushParagraph()
				inParagraph = true
			case "t":
				var text string
				if err := decoder.DecodeElement(&text, &element); err != nil {
					return "", 0, fmt.Errorf("decode text run: %w", err)
				}
				if text != "" {
					paragraph.WriteString(html.EscapeString(text))
					paragraphHasContent = true
				}
			case "br", "cr":
				paragraph.WriteString("<br/>")
			case "tab":
				paragraph.WriteString(" ")
			case "extent":
				for _, attr := range element.Attr {
					if attr.Name.Local == "cx" {
						if cx, err := strconv.ParseInt(attr.Value, 10, 64); err == nil {
							pendingEMU = cx
						}
					}
				}
			case "blip":
				for _, attr := range element.Attr {
					if attr.Name.Local != "embed" {
						continue
					}
					ref := docxRelPrefix + attr.Value
					if _, ok := candidates[ref]; !ok {
						candidate, err := docxMediaCandidate(reader, relTargets[attr.Value])
						if err != nil {
							return "", 0, err
						}
						candidate.WidthEMU = pendingEMU
						candidates[ref] = candidate
					}
					paragraph.WriteString(`<img src="` + ref + `"`)
					if pendingEMU > 0 {
						paragraph.WriteString(` data-emu-width="` + strconv.FormatInt(pendingEMU, 10) + `"`)
					}
					paragraph.WriteString("/>")
					paragraphHasContent = true
					pendingEMU = 0
				}
			}
		case xml.EndElement:
			if element.Name.Local == "p" {
				flushParagraph()
			}
		}
	}
	flushParagraph()
	return sb.String(), paragraphs, nil
}

func docxMediaCandidate(reader *zip.Reader, target string) (CandidateAsset, error) {
	if target == "" {
		return CandidateAsset{}, fmt.Errorf("drawing references unknown relationship")
	}
	data, err := readZipFile(reader, path.Join("word", target))
	if err != nil {
		return CandidateAsset{}, err
	}
	return CandidateAsset{
		Bytes:     data,
		MediaType: mediaTypeForName(target),
	}, nil
}

type docxRelationships struct {
	Relationships []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

func readDocxRelationships(reader *zip.Reader) (map[string]string, error) {
	data, err := readZipFile(reader, "word/_rels/document.xml.rels")
	if err != nil {
		// A document without media parts has no relationships we need.
		return map[string]string{}, nil
	}
	var rels docxRelationships
	if err := xml.Unmarshal(data, &rels); err != nil {
		return nil, fmt.Errorf("decode relationships: %w", err)
	}
	targets := make(map[string]string, len(rels.Relationships))
	for _, rel := range rels.Relationships {
		targets[rel.ID] = rel.Target
	}
	return targets, nil
}

func readZipFile(reader *zip.Reader, name string) ([]byte, error) {
	for _, file := range reader.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}

func mediaTypeForName(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// extractPrintableText scans a binary buffer for runs of printable text,
// the best-effort path for legacy .doc and RTF inputs.
func extractPrintableText(raw []byte) string {
	var sb strings.Builder
	var run []rune
	flush := func() {
		// Short runs are binary noise, not prose.
		if len(run) >= 4 {
			sb.WriteString(string(run))
			sb.WriteString("\n")
		}
		run = run[:0]
	}
	for _, b := range raw {
		if b == '\n' || b == '\r' || b == '\t' || (b >= 0x20 && b < 0x7f) {
			run = append(run, rune(b))
			continue
		}
		flush()
	}
	flush()
	return sb.String()
}
