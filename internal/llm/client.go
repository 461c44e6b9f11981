// Package llm provides the minimal client surface the pipeline stages
// use to reach a language model, plus response post-processing helpers.
// Stages depend only on the Client interface; tests substitute stubs.
package llm

import "context"

// Client is the minimal completion interface the stage services use.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Embedder turns text into a vector for exemplar retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
