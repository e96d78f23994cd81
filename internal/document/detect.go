package document

import (
	"path/filepath"
	"strings"
)

// Family is the coarse document family a file is parsed as.
type Family string

const (
	FamilyPDF  Family = "pdf"
	FamilyWord Family = "word"
	FamilyHTML Family = "html"
	FamilyText Family = "text"
	// FamilyOffice is the catch-all for RTF/ODT/CSV/XML/JSON, handled by
	// best-effort text extraction.
	FamilyOffice  Family = "office"
	FamilyUnknown Family = ""
)

var extFamilies = map[string]Family{
	".pdf":      FamilyPDF,
	".docx":     FamilyWord,
	".doc":      FamilyWord,
	".html":     FamilyHTML,
	".htm":      FamilyHTML,
	".xhtml":    FamilyHTML,
	".txt":      FamilyText,
	".md":       FamilyText,
	".markdown": FamilyText,
	".rtf":      FamilyOffice,
	".odt":      FamilyOffice,
	".csv":      FamilyOffice,
	".xml":      FamilyOffice,
	".json":     FamilyOffice,
}

var mediaTypeFamilies = map[string]Family{
	"application/pdf":    FamilyPDF,
	"application/msword": FamilyWord,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": FamilyWord,
	"text/html":             FamilyHTML,
	"application/xhtml+xml": FamilyHTML,
	"text/plain":            FamilyText,
	"text/markdown":         FamilyText,
	"application/rtf":       FamilyOffice,
	"text/rtf":              FamilyOffice,
	"application/vnd.oasis.opendocument.text": FamilyOffice,
	"text/csv":         FamilyOffice,
	"application/xml":  FamilyOffice,
	"text/xml":         FamilyOffice,
	"application/json": FamilyOffice,
}

// DetectFamily resolves the document family from the filename extension and
// the declared media type. The extension wins on conflict; the declared type
// is only consulted when the extension says nothing.
func DetectFamily(filename, mediaType string) Family {
	ext := strings.ToLower(filepath.Ext(filename))
	if family, ok := extFamilies[ext]; ok {
		return family
	}

	declared := strings.ToLower(strings.TrimSpace(mediaType))
	if idx := strings.IndexByte(declared, ';'); idx >= 0 {
		declared = strings.TrimSpace(declared[:idx])
	}
	if family, ok := mediaTypeFamilies[declared]; ok {
		return family
	}
	return FamilyUnknown
}
