package document

import (
	"bytes"
	"fmt"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// parsePDFDocument extracts page text from a PDF and normalizes it into an
// HTML document, one paragraph block per page.
func parsePDFDocument(raw []byte) (doc *html.Node, meta Metadata, err error) {
	// The pdf library panics on some malformed files; surface those as parse
	// errors with the underlying message preserved.
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = &ParseError{Family: FamilyPDF, Cause: fmt.Errorf("pdf reader panic: %v", r)}
		}
	}()

	reader, err := pdflib.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, Metadata{}, &ParseError{Family: FamilyPDF, Cause: err}
	}

	totalPages := reader.NumPage()
	var sb strings.Builder
	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page does not fail the whole document.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}

	doc, paragraphs, err := buildTextDocument(sb.String())
	if err != nil {
		return nil, Metadata{}, &ParseError{Family: FamilyPDF, Cause: err}
	}
	return doc, Metadata{Pages: totalPages, Paragraphs: paragraphs}, nil
}
