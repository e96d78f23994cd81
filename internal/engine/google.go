package engine

import (
	"context"
	"fmt"
	"sync"

	translate "cloud.google.com/go/translate"
	"golang.org/x/text/language"
	"google.golang.org/api/option"
)

// googleTranslator translates chunk markup through the Google Cloud
// Translation API in HTML mode. Anchor placeholders carry translate="no",
// which the API honors, but structure is still validated afterwards.
type googleTranslator struct {
	projectID       string
	credentialsFile string

	once   sync.Once
	client *translate.Client
	err    error
}

func newGoogleTranslator(projectID, credentialsFile string) *googleTranslator {
	return &googleTranslator{
		projectID:       projectID,
		credentialsFile: credentialsFile,
	}
}

func (t *googleTranslator) Name() string {
	return "google"
}

func (t *googleTranslator) clientFor(ctx context.Context) (*translate.Client, error) {
	t.once.Do(func() {
		opts := []option.ClientOption{}
		if t.credentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(t.credentialsFile))
		}
		t.client, t.err = translate.NewClient(ctx, opts...)
		if t.err != nil {
			t.err = &EngineInitError{Cause: fmt.Errorf("create google translate client: %w", t.err)}
		}
	})
	return t.client, t.err
}

func (t *googleTranslator) TranslateChunk(ctx context.Context, req Request) (*Result, error) {
	client, err := t.clientFor(ctx)
	if err != nil {
		return nil, err
	}

	targetTag, err := language.Parse(req.TargetLang)
	if err != nil {
		return nil, fmt.Errorf("invalid target language %q: %w", req.TargetLang, err)
	}

	opts := &translate.Options{Format: translate.HTML}
	if req.SourceLang != "" && req.SourceLang != "auto" {
		sourceTag, err := language.Parse(req.SourceLang)
		if err != nil {
			return nil, fmt.Errorf("invalid source language %q: %w", req.SourceLang, err)
		}
		opts.Source = sourceTag
	}

	translations, err := client.Translate(ctx, []string{req.HTML}, targetTag, opts)
	if err != nil {
		return nil, fmt.Errorf("chunk %s translation failed: %w", req.ChunkID, err)
	}
	if len(translations) == 0 {
		return nil, fmt.Errorf("chunk %s: no translation returned", req.ChunkID)
	}

	output := ensureRoot(req.HTML, translations[0].Text)
	if err := validateStructure(req.ChunkID, req.HTML, output); err != nil {
		return nil, err
	}

	return &Result{
		HTML:     output,
		Provider: t.Name(),
		Model:    "nmt",
	}, nil
}
