package document

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 1x1 transparent PNG.
const tinyPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8BQDwAEhQGAhKmMIQAAAABJRU5ErkJggg=="

func tinyPNGDataURI() string {
	return "data:image/png;base64," + tinyPNG
}

func TestParser_HTMLThreeParagraphsOneImage(t *testing.T) {
	parser := NewParser()

	raw := `<html><head><title>Doc</title></head><body>
		<p>First paragraph.</p>
		<p>Second paragraph.</p>
		<img src="` + tinyPNGDataURI() + `" alt="diagram">
		<p>Third paragraph.</p>
	</body></html>`

	result, err := parser.Parse([]byte(raw), "text/html", "doc.html")
	require.NoError(t, err)

	require.Len(t, result.Chunks, 4)
	require.Len(t, result.Assets, 1)
	require.Len(t, result.Anchors, 1)

	assert.Equal(t, "First paragraph.", result.Chunks[0].Text)
	assert.Equal(t, "Second paragraph.", result.Chunks[1].Text)
	assert.Equal(t, "Third paragraph.", result.Chunks[3].Text)

	anchorChunk := result.Chunks[2]
	require.Len(t, anchorChunk.AnchorIDs, 1)
	assert.Contains(t, anchorChunk.HTML, `data-anchor-id="`+result.Anchors[0].AnchorID+`"`)
	assert.Contains(t, anchorChunk.HTML, `translate="no"`)
	assert.NotContains(t, result.Document, "<img")

	asset := result.Assets[0]
	assert.Equal(t, "image/png", asset.MediaType)
	assert.Equal(t, 1, asset.Width)
	assert.Equal(t, 1, asset.Height)
	assert.Equal(t, "diagram", asset.AltText)
	assert.NotEmpty(t, asset.Hash)

	anchor := result.Anchors[0]
	assert.Equal(t, asset.Hash, anchor.AssetHash)
	assert.Equal(t, anchorChunk.ChunkID, anchor.ChunkID)
	assert.NotEmpty(t, anchor.BeforeHash)
	assert.NotEmpty(t, anchor.AfterHash)

	assert.Contains(t, result.HeadHTML, "<title>Doc</title>")
}

func TestParser_DeterministicChunkIDs(t *testing.T) {
	parser := NewParser()
	raw := []byte(`<html><body><p>Alpha</p><p>Beta</p></body></html>`)

	first, err := parser.Parse(raw, "", "doc.html")
	require.NoError(t, err)
	second, err := parser.Parse(raw, "", "doc.html")
	require.NoError(t, err)

	require.Len(t, first.Chunks, 2)
	require.Len(t, second.Chunks, 2)
	for i := range first.Chunks {
		assert.Equal(t, first.Chunks[i].ChunkID, second.Chunks[i].ChunkID)
	}
	assert.NotEqual(t, first.Chunks[0].ChunkID, first.Chunks[1].ChunkID)
}

func TestParser_DuplicateImagesShareOneAsset(t *testing.T) {
	parser := NewParser()
	uri := tinyPNGDataURI()
	raw := `<html><body><p>Intro</p><img src="` + uri + `"><img src="` + uri + `"></body></html>`

	result, err := parser.Parse([]byte(raw), "", "doc.html")
	require.NoError(t, err)

	require.Len(t, result.Assets, 1)
	require.Len(t, result.Anchors, 2)
	assert.Equal(t, result.Anchors[0].AssetHash, result.Anchors[1].AssetHash)
	assert.NotEqual(t, result.Anchors[0].AnchorID, result.Anchors[1].AnchorID)
}

func TestParser_NestedBlocksAreFlattened(t *testing.T) {
	parser := NewParser()
	raw := `<html><body><div><div><p>One</p><h2>Two</h2></div><ul><li>A</li><li>B</li></ul></div></body></html>`

	result, err := parser.Parse([]byte(raw), "", "doc.html")
	require.NoError(t, err)

	require.Len(t, result.Chunks, 3)
	assert.True(t, strings.HasPrefix(result.Chunks[0].HTML, "<p>"))
	assert.True(t, strings.HasPrefix(result.Chunks[1].HTML, "<h2>"))
	assert.True(t, strings.HasPrefix(result.Chunks[2].HTML, "<ul>"))
}

func TestParser_BareTextBecomesParagraph(t *testing.T) {
	parser := NewParser()
	raw := `<html><body>Standalone line<p>Real paragraph</p></body></html>`

	result, err := parser.Parse([]byte(raw), "", "doc.html")
	require.NoError(t, err)

	require.Len(t, result.Chunks, 2)
	assert.Equal(t, "<p>Standalone line</p>", result.Chunks[0].HTML)
}

func TestParser_PlainTextParagraphs(t *testing.T) {
	parser := NewParser()
	raw := "First block line one.\nLine two.\n\nSecond block.\n\n\nThird block."

	result, err := parser.Parse([]byte(raw), "text/plain", "notes.txt")
	require.NoError(t, err)

	require.Len(t, result.Chunks, 3)
	assert.Equal(t, 3, result.Metadata.Paragraphs)
	assert.Contains(t, result.Chunks[0].HTML, "<br/>")
}

func TestParser_UnsupportedFormat(t *testing.T) {
	parser := NewParser()

	_, err := parser.Parse([]byte("binary"), "application/x-blob", "movie.mkv")
	var unsupported *UnsupportedFormatError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "movie.mkv", unsupported.Filename)
}

func TestParser_EmptyDocument(t *testing.T) {
	parser := NewParser()

	_, err := parser.Parse([]byte("<html><body>   </body></html>"), "", "empty.html")
	var empty *EmptyContentError
	require.ErrorAs(t, err, &empty)
}

func TestParser_InlineOnlyBodyStillChunks(t *testing.T) {
	parser := NewParser()
	raw := `<html><body><span>only inline text</span></body></html>`

	result, err := parser.Parse([]byte(raw), "", "doc.html")
	require.NoError(t, err)
	require.NotEmpty(t, result.Chunks)
	assert.Equal(t, "only inline text", result.Chunks[0].Text)
}
