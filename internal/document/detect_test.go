package document

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFamily(t *testing.T) {
	tests := []struct {
		name      string
		filename  string
		mediaType string
		want      Family
	}{
		{"pdf extension", "report.pdf", "", FamilyPDF},
		{"docx extension", "letter.DOCX", "", FamilyWord},
		{"markdown extension", "README.md", "", FamilyText},
		{"extension wins over declared type", "page.html", "application/pdf", FamilyHTML},
		{"declared type fallback", "upload.bin", "text/html", FamilyHTML},
		{"declared type with parameters", "upload.bin", "text/plain; charset=utf-8", FamilyText},
		{"odt extension", "thesis.odt", "", FamilyOffice},
		{"unknown both", "movie.mkv", "video/x-matroska", FamilyUnknown},
		{"no extension no type", "LICENSE", "", FamilyUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFamily(tt.filename, tt.mediaType))
		})
	}
}

func TestAnchorWidthFromEMU(t *testing.T) {
	parser := NewParser()
	raw := `<html><body><p>Intro</p><img src="` + tinyPNGDataURI() + `" data-emu-width="952500"></body></html>`

	result, err := parser.Parse([]byte(raw), "", "doc.html")
	require.NoError(t, err)
	require.Len(t, result.Anchors, 1)
	assert.Equal(t, 100, result.Anchors[0].WidthPx)
}

func TestAnchorAlignmentFromStyle(t *testing.T) {
	parser := NewParser()
	raw := `<html><body><p>Intro</p><img src="` + tinyPNGDataURI() + `" style="float: right; width: 240px"></body></html>`

	result, err := parser.Parse([]byte(raw), "", "doc.html")
	require.NoError(t, err)
	require.Len(t, result.Anchors, 1)
	assert.Equal(t, "right", result.Anchors[0].Alignment)
	assert.Equal(t, 240, result.Anchors[0].WidthPx)
}

func TestAnchorCaptionFromFigure(t *testing.T) {
	parser := NewParser()
	raw := `<html><body><figure><img src="` + tinyPNGDataURI() + `"><figcaption>Fig 1: layout</figcaption></figure></body></html>`

	result, err := parser.Parse([]byte(raw), "", "doc.html")
	require.NoError(t, err)
	require.Len(t, result.Anchors, 1)
	assert.Equal(t, "Fig 1: layout", result.Anchors[0].Caption)
}

func TestAnchorFingerprintsFromFragment(t *testing.T) {
	fragment := `<p>Leading words before the anchor. <span class="doc-anchor" data-anchor-id="a-1" translate="no"></span> Trailing words after it.</p>`

	prints, err := AnchorFingerprints(fragment)
	require.NoError(t, err)
	fp, ok := prints["a-1"]
	require.True(t, ok)
	assert.Equal(t, FingerprintBefore("Leading words before the anchor. "), fp.Before)
	assert.Equal(t, FingerprintAfter(" Trailing words after it."), fp.After)

	// Only the side whose text changed gets a new hash.
	changed, err := AnchorFingerprints(`<p>Different text. <span data-anchor-id="a-1"></span> Trailing words after it.</p>`)
	require.NoError(t, err)
	assert.NotEqual(t, fp.Before, changed["a-1"].Before)
	assert.Equal(t, fp.After, changed["a-1"].After)
}

func TestFingerprintWindowBoundsContext(t *testing.T) {
	long := strings.Repeat("x", 500) + " shared tail of the surrounding text"
	other := strings.Repeat("y", 300) + long[len(long)-120:]

	require.Equal(t, FingerprintBefore(long), FingerprintBefore(other))
	assert.NotEqual(t, FingerprintBefore(long), FingerprintAfter(long))
	assert.Empty(t, FingerprintBefore("   "))
}
