package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lingodoc/lingodoc/internal/llm"
	"github.com/lingodoc/lingodoc/pkg/log"
)

// llmTranslator translates chunk markup through an OpenAI-compatible chat
// endpoint. It is the default provider.
type llmTranslator struct {
	client *llm.Client
	// spanBatchThreshold switches chunks made of many labeled text runs to
	// the id-to-text batch path instead of whole-markup translation.
	spanBatchThreshold int
}

func newLLMTranslator(client *llm.Client, spanBatchThreshold int) *llmTranslator {
	return &llmTranslator{
		client:             client,
		spanBatchThreshold: spanBatchThreshold,
	}
}

func (t *llmTranslator) Name() string {
	return "llm"
}

func (t *llmTranslator) TranslateChunk(ctx context.Context, req Request) (*Result, error) {
	sourceLang := req.SourceLang
	if sourceLang == "" || sourceLang == "auto" {
		if detected := detectSourceLang(textContent(req.HTML)); detected != "" {
			sourceLang = detected
			log.Debug("chunk %s: detected source language %s", req.ChunkID, sourceLang)
		}
	}

	if t.spanBatchThreshold > 0 {
		if spans := collectLabeledSpans(req.HTML); len(spans) >= t.spanBatchThreshold {
			return t.translateSpans(ctx, req, spans, sourceLang)
		}
	}
	return t.translateMarkup(ctx, req, sourceLang)
}

func (t *llmTranslator) translateMarkup(ctx context.Context, req Request, sourceLang string) (*Result, error) {
	systemPrompt := buildMarkupPrompt(sourceLang, req.TargetLang, req.Hint)
	resp, err := t.client.SimpleChat(ctx, req.HTML, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("chunk %s translation failed: %w", req.ChunkID, err)
	}

	output := sanitizeOutput(resp)
	output = ensureRoot(req.HTML, output)
	if err := validateStructure(req.ChunkID, req.HTML, output); err != nil {
		return nil, err
	}
	warnOnLanguageDrift(req.ChunkID, req.TargetLang, textContent(output))

	return &Result{
		HTML:     output,
		Provider: t.Name(),
		Model:    t.client.Model(),
	}, nil
}

// warnOnLanguageDrift flags output that does not read as the target
// language. Detection on short text is unreliable, so this only warns.
func warnOnLanguageDrift(chunkID, targetLang, text string) {
	if targetLang == "" || len(text) < 40 {
		return
	}
	want, _, _ := strings.Cut(targetLang, "-")
	detected := detectSourceLang(text)
	if detected != "" && !strings.EqualFold(detected, want) {
		log.Warn("chunk %s: output reads as %s, expected %s", chunkID, detected, want)
	}
}

// translateSpans sends the chunk's labeled text runs as one JSON object and
// expects the same ids back. Runs the model failed to return fall back to
// individual calls rather than failing the chunk.
func (t *llmTranslator) translateSpans(ctx context.Context, req Request, spans []labeledSpan, sourceLang string) (*Result, error) {
	payload := make(map[string]string, len(spans))
	for _, span := range spans {
		payload[span.ID] = span.Text
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: encode span batch: %w", req.ChunkID, err)
	}

	systemPrompt := buildSpanPrompt(sourceLang, req.TargetLang, req.Hint)
	resp, err := t.client.SimpleChat(ctx, string(encoded), systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("chunk %s span batch failed: %w", req.ChunkID, err)
	}

	translated := make(map[string]string, len(spans))
	if err := json.Unmarshal([]byte(sanitizeOutput(resp)), &translated); err != nil {
		return nil, fmt.Errorf("chunk %s: span batch returned invalid JSON: %w", req.ChunkID, err)
	}

	var missing []labeledSpan
	for _, span := range spans {
		if text, ok := translated[span.ID]; !ok || strings.TrimSpace(text) == "" {
			missing = append(missing, span)
		}
	}
	if len(missing) > 0 {
		log.Warn("chunk %s: span batch returned %d/%d ids, translating %d individually",
			req.ChunkID, len(spans)-len(missing), len(spans), len(missing))
		for _, span := range missing {
			text, err := t.translateSingleSpan(ctx, span.Text, sourceLang, req.TargetLang)
			if err != nil {
				return nil, fmt.Errorf("chunk %s: span %s fallback failed: %w", req.ChunkID, span.ID, err)
			}
			translated[span.ID] = text
		}
	}

	output := reinjectSpans(req.HTML, translated)
	if err := validateStructure(req.ChunkID, req.HTML, output); err != nil {
		return nil, err
	}

	return &Result{
		HTML:     output,
		Provider: t.Name(),
		Model:    t.client.Model(),
	}, nil
}

func (t *llmTranslator) translateSingleSpan(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	var prompt strings.Builder
	prompt.WriteString("Translate the following text from " + langOrUnknown(sourceLang) + " to " + targetLang + ".\n")
	prompt.WriteString("Return ONLY the translated text with no explanations or quotes.\n")

	resp, err := t.client.SimpleChat(ctx, text, prompt.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(sanitizeOutput(resp)), nil
}

func buildMarkupPrompt(sourceLang, targetLang, hint string) string {
	var prompt strings.Builder

	prompt.WriteString("You are a professional document translation expert. Translate the HTML fragment from " + langOrUnknown(sourceLang) + " to " + targetLang + ".\n\n")

	prompt.WriteString("=== RULES ===\n")
	prompt.WriteString("1. Translate only human-readable text content.\n")
	prompt.WriteString("2. Keep every tag, attribute, and the element order exactly as given.\n")
	prompt.WriteString("3. Elements marked translate=\"no\" are placeholders. Copy them byte for byte.\n")
	prompt.WriteString("4. Do not merge, split, add, or drop elements.\n")
	prompt.WriteString("5. Preserve numbers, codes, and inline formatting.\n")

	if hint != "" {
		prompt.WriteString("\n=== CORRECTION ===\n")
		prompt.WriteString("Your previous attempt was rejected: " + hint + "\n")
		prompt.WriteString("Produce the fragment again, fixing only that problem.\n")
	}

	prompt.WriteString("\n=== OUTPUT FORMAT ===\n")
	prompt.WriteString("Return ONLY the translated HTML fragment.\n")
	prompt.WriteString("Do not wrap it in <html>, <body>, code fences, or any commentary.\n")

	return prompt.String()
}

func buildSpanPrompt(sourceLang, targetLang, hint string) string {
	var prompt strings.Builder

	prompt.WriteString("You are a professional document translation expert. The user message is a JSON object mapping ids to short text lines. Translate every value from " + langOrUnknown(sourceLang) + " to " + targetLang + ".\n\n")

	prompt.WriteString("=== RULES ===\n")
	prompt.WriteString("1. Keep every key unchanged.\n")
	prompt.WriteString("2. Translate values only. Do not reorder, add, or drop entries.\n")
	prompt.WriteString("3. Preserve numbers and codes inside values.\n")

	if hint != "" {
		prompt.WriteString("\n=== CORRECTION ===\n")
		prompt.WriteString("Your previous attempt was rejected: " + hint + "\n")
	}

	prompt.WriteString("\n=== OUTPUT FORMAT ===\n")
	prompt.WriteString("Return ONLY the JSON object with translated values.\n")
	prompt.WriteString("The output must parse as JSON and contain exactly the input keys.\n")

	return prompt.String()
}

func langOrUnknown(lang string) string {
	if lang == "" {
		return "the detected source language"
	}
	return lang
}

// textContent strips markup for language detection.
func textContent(fragment string) string {
	var sb strings.Builder
	for _, node := range parseFragment(fragment) {
		collectText(node, &sb)
	}
	return sb.String()
}
