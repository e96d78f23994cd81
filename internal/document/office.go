package document

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"io"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

const odtRefPrefix = "odtref:"

// parseOfficeDocument handles the catch-all office family (RTF, ODT, CSV,
// XML, JSON) with best-effort text extraction.
func parseOfficeDocument(raw []byte, filename string) (*html.Node, map[string]CandidateAsset, Metadata, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".odt":
		return parseODT(raw)
	case ".rtf":
		doc, paragraphs, err := buildTextDocument(stripRTF(raw))
		if err != nil {
			return nil, nil, Metadata{}, &ParseError{Family: FamilyOffice, Cause: err}
		}
		return doc, nil, Metadata{Paragraphs: paragraphs}, nil
	case ".csv":
		return parseCSV(raw)
	case ".json":
		doc, paragraphs, err := buildTextDocument(jsonText(raw))
		if err != nil {
			return nil, nil, Metadata{}, &ParseError{Family: FamilyOffice, Cause: err}
		}
		return doc, nil, Metadata{Paragraphs: paragraphs}, nil
	default: // .xml
		doc, paragraphs, err := buildTextDocument(xmlText(raw))
		if err != nil {
			return nil, nil, Metadata{}, &ParseError{Family: FamilyOffice, Cause: err}
		}
		return doc, nil, Metadata{Paragraphs: paragraphs}, nil
	}
}

// parseODT extracts text:p paragraphs and embedded pictures from an
// OpenDocument archive.
func parseODT(raw []byte) (*html.Node, map[string]CandidateAsset, Metadata, error) {
	reader, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, nil, Metadata{}, &ParseError{Family: FamilyOffice, Cause: err}
	}
	contentXML, err := readZipFile(reader, "content.xml")
	if err != nil {
		return nil, nil, Metadata{}, &ParseError{Family: FamilyOffice, Cause: err}
	}

	candidates := make(map[string]CandidateAsset)
	decoder := xml.NewDecoder(bytes.NewReader(contentXML))

	var sb strings.Builder
	var paragraph strings.Builder
	paragraphs := 0
	depth := 0 // nesting inside text:p

	flush := func() {
		if paragraph.Len() > 0 {
			sb.WriteString("<p>")
			sb.WriteString(paragraph.String())
			sb.WriteString("</p>")
			paragraphs++
		}
		paragraph.Reset()
	}

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, Metadata{}, &ParseError{Family: FamilyOffice, Cause: err}
		}
		switch element := token.(type) {
		case xml.StartElement:
			switch element.Name.Local {
			case "p", "h":
				if depth == 0 {
					flush()
				}
				depth++
			case "image":
				for _, attr := range element.Attr {
					if attr.Name.Local != "href" {
						continue
					}
					ref := odtRefPrefix + attr.Value
					if _, ok := candidates[ref]; !ok {
						data, err := readZipFile(reader, path.Clean(attr.Value))
						if err != nil {
							continue
						}
						candidates[ref] = CandidateAsset{
							Bytes:     data,
							MediaType: mediaTypeForName(attr.Value),
						}
					}
					paragraph.WriteString(`<img src="` + ref + `"/>`)
				}
			}
		case xml.EndElement:
			if element.Name.Local == "p" || element.Name.Local == "h" {
				depth--
				if depth <= 0 {
					depth = 0
					flush()
				}
			}
		case xml.CharData:
			if depth > 0 {
				paragraph.WriteString(html.EscapeString(string(element)))
			}
		}
	}
	flush()

	doc, err := parseHTMLDocument([]byte("<html><head></head><body>" + sb.String() + "</body></html>"))
	if err != nil {
		return nil, nil, Metadata{}, &ParseError{Family: FamilyOffice, Cause: err}
	}
	return doc, candidates, Metadata{Paragraphs: paragraphs}, nil
}

// parseCSV renders rows as an HTML table so structure survives translation.
func parseCSV(raw []byte) (*html.Node, map[string]CandidateAsset, Metadata, error) {
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, Metadata{}, &ParseError{Family: FamilyOffice, Cause: err}
	}

	var sb strings.Builder
	sb.WriteString("<table>")
	for _, record := range records {
		sb.WriteString("<tr>")
		for _, field := range record {
			sb.WriteString("<td>")
			sb.WriteString(html.EscapeString(field))
			sb.WriteString("</td>")
		}
		sb.WriteString("</tr>")
	}
	sb.WriteString("</table>")

	doc, err := parseHTMLDocument([]byte("<html><head></head><body>" + sb.String() + "</body></html>"))
	if err != nil {
		return nil, nil, Metadata{}, &ParseError{Family: FamilyOffice, Cause: err}
	}
	return doc, nil, Metadata{Paragraphs: len(records)}, nil
}

// stripRTF removes RTF control words and groups, keeping plain text.
func stripRTF(raw []byte) string {
	var sb strings.Builder
	i := 0
	for i < len(raw) {
		switch raw[i] {
		case '{', '}':
			i++
		case '\\':
			i++
			// \par and \line become newlines; other control words drop.
			start := i
			for i < len(raw) && ((raw[i] >= 'a' && raw[i] <= 'z') || (raw[i] >= 'A' && raw[i] <= 'Z')) {
				i++
			}
			word := string(raw[start:i])
			// Numeric parameter
			for i < len(raw) && ((raw[i] >= '0' && raw[i] <= '9') || raw[i] == '-') {
				i++
			}
			if i < len(raw) && raw[i] == ' ' {
				i++
			}
			if word == "par" || word == "line" {
				sb.WriteString("\n\n")
			}
			if word == "" && start < len(raw) {
				// Escaped character like \{ or \\
				sb.WriteByte(raw[start])
				i = start + 1
			}
		default:
			sb.WriteByte(raw[i])
			i++
		}
	}
	return sb.String()
}

// jsonText collects the string values of a JSON document in stable key order.
func jsonText(raw []byte) string {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return string(raw)
	}
	var lines []string
	var walk func(v any)
	walk = func(v any) {
		switch typed := v.(type) {
		case string:
			if strings.TrimSpace(typed) != "" {
				lines = append(lines, typed)
			}
		case []any:
			for _, item := range typed {
				walk(item)
			}
		case map[string]any:
			keys := make([]string, 0, len(typed))
			for k := range typed {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(typed[k])
			}
		}
	}
	walk(value)
	return strings.Join(lines, "\n\n")
}

// xmlText collects character data from an XML document.
func xmlText(raw []byte) string {
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	var lines []string
	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		if chars, ok := token.(xml.CharData); ok {
			if text := strings.TrimSpace(string(chars)); text != "" {
				lines = append(lines, text)
			}
		}
	}
	return strings.Join(lines, "\n\n")
}
