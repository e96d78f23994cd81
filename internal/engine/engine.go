// Package engine translates one structural chunk's HTML between languages
// while preserving tag structure and leaving anchor placeholders untouched.
// Providers are concrete implementations behind the Translator interface,
// selected once by configuration.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/abadojack/whatlanggo"

	"github.com/lingodoc/lingodoc/internal/config"
	"github.com/lingodoc/lingodoc/internal/llm"
)

// Request is one chunk translation call.
type Request struct {
	ChunkID    string
	HTML       string
	SourceLang string
	TargetLang string
	// Hint carries a corrective instruction after a failed structural
	// validation; empty on the first attempt.
	Hint string
}

// Result is the translated chunk with provenance.
type Result struct {
	HTML     string
	Provider string
	Model    string
}

// Translator is the pluggable translation capability.
type Translator interface {
	Name() string
	TranslateChunk(ctx context.Context, req Request) (*Result, error)
}

// EngineInitError is a configuration problem creating the provider. Fatal.
type EngineInitError struct {
	Cause error
}

func (e *EngineInitError) Error() string {
	return fmt.Sprintf("translation engine init: %v", e.Cause)
}

func (e *EngineInitError) Unwrap() error {
	return e.Cause
}

// StructuralMismatchError means the translated HTML failed structural
// validation against its source. Retried once with a corrective hint, then
// treated as a chunk translation failure.
type StructuralMismatchError struct {
	ChunkID string
	Detail  string
}

func (e *StructuralMismatchError) Error() string {
	return fmt.Sprintf("structural mismatch in chunk %s: %s", e.ChunkID, e.Detail)
}

// New selects the configured provider. Adding a provider means adding an
// implementation here, not branching on strings elsewhere.
func New(cfg config.EngineConfig, spanBatchThreshold int) (Translator, error) {
	switch cfg.Provider {
	case "llm":
		client, err := sharedLLMClient(cfg.LLM)
		if err != nil {
			return nil, &EngineInitError{Cause: err}
		}
		return newLLMTranslator(client, spanBatchThreshold), nil
	case "google":
		return newGoogleTranslator(cfg.GoogleProjectID, cfg.GoogleCredentialsFile), nil
	default:
		return nil, &EngineInitError{Cause: fmt.Errorf("unknown provider %q", cfg.Provider)}
	}
}

// The external AI client and its credential are initialized once per process
// and reused. Initialization is idempotent and safe under concurrent
// first-use.
var (
	llmClientOnce sync.Once
	llmClient     *llm.Client
	llmClientErr  error
)

func sharedLLMClient(cfg config.LLMConfig) (*llm.Client, error) {
	llmClientOnce.Do(func() {
		llmClient, llmClientErr = llm.NewClient(&llm.Config{
			APIKey:      cfg.APIKey,
			APIURL:      cfg.APIURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	})
	return llmClient, llmClientErr
}

// detectSourceLang fills in a missing source language from the chunk text.
func detectSourceLang(text string) string {
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}
