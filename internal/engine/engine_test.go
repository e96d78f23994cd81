package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingodoc/lingodoc/internal/config"
)

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(config.EngineConfig{Provider: "osmosis"}, 0)
	var initErr *EngineInitError
	require.ErrorAs(t, err, &initErr)
}

func TestSanitizeOutput_StripsCodeFence(t *testing.T) {
	raw := "```html\n<p>Bonjour</p>\n```"
	assert.Equal(t, "<p>Bonjour</p>", sanitizeOutput(raw))
}

func TestSanitizeOutput_StripsSnippetEnvelope(t *testing.T) {
	raw := "<snippet><p>Hola</p></snippet>"
	assert.Equal(t, "<p>Hola</p>", sanitizeOutput(raw))
}

func TestSanitizeOutput_UnwrapsDocumentWrapper(t *testing.T) {
	raw := "<!DOCTYPE html><html><head></head><body><p>Hallo</p></body></html>"
	assert.Equal(t, "<p>Hallo</p>", sanitizeOutput(raw))
}

func TestSanitizeOutput_LeavesCleanFragmentAlone(t *testing.T) {
	raw := "<p>Ciao <b>mondo</b></p>"
	assert.Equal(t, raw, sanitizeOutput(raw))
}

func TestEnsureRoot_RewrapsDroppedRoot(t *testing.T) {
	source := `<p class="lead">Hello world</p>`
	output := "Hallo Welt"

	got := ensureRoot(source, output)
	assert.Equal(t, `<p class="lead">Hallo Welt</p>`, got)
}

func TestEnsureRoot_KeepsMatchingRoot(t *testing.T) {
	source := "<p>Hello</p>"
	output := "<p>Hallo</p>"
	assert.Equal(t, output, ensureRoot(source, output))
}

func TestValidateStructure_AcceptsTranslatedText(t *testing.T) {
	source := "<p>Hello <b>bold</b> world</p>"
	translated := "<p>Hallo <b>fette</b> Welt</p>"
	require.NoError(t, validateStructure("c1", source, translated))
}

func TestValidateStructure_RejectsDroppedElement(t *testing.T) {
	source := "<p>Hello <b>bold</b> world</p>"
	translated := "<p>Hallo fette Welt</p>"

	err := validateStructure("c1", source, translated)
	var mismatch *StructuralMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "c1", mismatch.ChunkID)
}

func TestValidateStructure_RejectsModifiedAnchor(t *testing.T) {
	source := `<p>Before <span class="doc-anchor" data-anchor-id="a-1" translate="no"></span> after</p>`
	translated := `<p>Vor <span class="doc-anchor" data-anchor-id="a-1" translate="yes"></span> nach</p>`

	err := validateStructure("c2", source, translated)
	var mismatch *StructuralMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Contains(t, mismatch.Detail, "a-1")
}

func TestValidateStructure_AcceptsUnchangedAnchor(t *testing.T) {
	source := `<p>Before <span class="doc-anchor" data-anchor-id="a-1" translate="no"></span> after</p>`
	translated := `<p>Vor <span class="doc-anchor" data-anchor-id="a-1" translate="no"></span> nach</p>`
	require.NoError(t, validateStructure("c3", source, translated))
}

func TestCollectLabeledSpans(t *testing.T) {
	fragment := `<p><span id="l1">First line</span><span id="l2">Second line</span><span id="l3">  </span></p>`

	spans := collectLabeledSpans(fragment)
	require.Len(t, spans, 2)
	assert.Equal(t, "l1", spans[0].ID)
	assert.Equal(t, "First line", spans[0].Text)
	assert.Equal(t, "l2", spans[1].ID)
}

func TestCollectLabeledSpans_RejectsNestedMarkup(t *testing.T) {
	fragment := `<p><span id="l1">Plain</span><span id="l2">With <b>markup</b></span></p>`
	assert.Nil(t, collectLabeledSpans(fragment))
}

func TestReinjectSpans(t *testing.T) {
	fragment := `<p><span id="l1">First</span> <span id="l2">Second</span></p>`
	out := reinjectSpans(fragment, map[string]string{
		"l1": "Erste",
		"l2": "Zweite",
	})

	assert.Contains(t, out, `<span id="l1">Erste</span>`)
	assert.Contains(t, out, `<span id="l2">Zweite</span>`)

	require.NoError(t, validateStructure("c4", fragment, out))
}

func TestReinjectSpans_MissingIDKeepsSource(t *testing.T) {
	fragment := `<p><span id="l1">First</span></p>`
	out := reinjectSpans(fragment, map[string]string{})
	assert.Contains(t, out, `<span id="l1">First</span>`)
}

func TestBuildMarkupPrompt_IncludesHint(t *testing.T) {
	plain := buildMarkupPrompt("en", "de", "")
	hinted := buildMarkupPrompt("en", "de", "element count changed from 3 to 2")

	assert.NotContains(t, plain, "CORRECTION")
	assert.Contains(t, hinted, "CORRECTION")
	assert.Contains(t, hinted, "element count changed from 3 to 2")
}
