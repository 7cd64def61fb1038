// Package rag runs retrieval-augmented generation: embed the query, search
// the vector store, and ground the language model on what came back.
package rag

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/Leptons1618/nexa/internal/embedding"
	"github.com/Leptons1618/nexa/internal/llm"
	"github.com/Leptons1618/nexa/internal/log"
	"github.com/Leptons1618/nexa/internal/vectorstore"
)

// Refusal is the exact answer returned when retrieval finds no evidence.
// Clients match on it, so the wording is frozen.
const Refusal = "I can only help with questions related to Nexa. This information is not available in the documentation."

// ErrEmptyQuery indicates a blank or whitespace-only query.
var ErrEmptyQuery = errors.New("query must not be empty")

// previewLimit caps the context snippet carried by a contexts event.
const previewLimit = 500

// Event is one step of a streaming generation.
type Event struct {
	// Type is one of "sources", "contexts", "token" or "done".
	Type string `json:"type"`

	// Sources holds deduplicated document names. Set on "sources" events.
	Sources []string `json:"sources,omitempty"`

	// Contexts holds one snippet per retrieved chunk. Set on "contexts"
	// events, which are omitted entirely when retrieval found nothing.
	Contexts []ContextSnippet `json:"contexts,omitempty"`

	// Token is a completion fragment. Set on "token" events.
	Token string `json:"token,omitempty"`
}

// ContextSnippet is the preview of one retrieved chunk.
type ContextSnippet struct {
	Document string  `json:"document"`
	ChunkID  string  `json:"chunk_id"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
}

// PromptSource supplies the current system and retrieval prompts. Reads
// happen per request so edits take effect without a restart.
type PromptSource interface {
	System() string
	RAG() string
}

// Pipeline wires an embedder, a vector store and a language model into the
// two generation entry points.
type Pipeline struct {
	embedder embedding.Embedder
	store    vectorstore.Store
	llm      llm.Client
	prompts  PromptSource
	logger   log.Logger

	mu        sync.RWMutex
	topK      int
	threshold float64
}

// New builds a pipeline.
func New(embedder embedding.Embedder, store vectorstore.Store, client llm.Client, prompts PromptSource, topK int, threshold float64, logger log.Logger) *Pipeline {
	return &Pipeline{
		embedder:  embedder,
		store:     store,
		llm:       client,
		prompts:   prompts,
		topK:      topK,
		threshold: threshold,
		logger:    logger.With("component", "rag"),
	}
}

// Generate answers query in one shot. When retrieval finds nothing the
// refusal text is returned with an empty source list and a nil error; the
// model is never called without evidence.
func (p *Pipeline) Generate(ctx context.Context, query string) (string, []string, error) {
	if strings.TrimSpace(query) == "" {
		return "", nil, ErrEmptyQuery
	}

	hits, err := p.retrieve(ctx, query)
	if err != nil {
		return "", nil, err
	}
	if len(hits) == 0 {
		p.logger.Info("no evidence retrieved", "query_len", len(query))
		return Refusal, []string{}, nil
	}

	answer, err := p.llm.Generate(ctx, p.buildUserPrompt(query, hits), p.prompts.System())
	if err != nil {
		return "", nil, fmt.Errorf("generate answer: %w", err)
	}
	return answer, sourceNames(hits), nil
}

// GenerateStream answers query incrementally. The event order is fixed: one
// sources event, then (when evidence exists) one contexts event, then token
// events, then done. With no evidence the sources list is empty and a single
// token event carries the refusal; the model is not called.
func (p *Pipeline) GenerateStream(ctx context.Context, query string) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		if strings.TrimSpace(query) == "" {
			yield(Event{}, ErrEmptyQuery)
			return
		}

		hits, err := p.retrieve(ctx, query)
		if err != nil {
			yield(Event{}, err)
			return
		}

		if len(hits) == 0 {
			if !yield(Event{Type: "sources", Sources: []string{}}, nil) {
				return
			}
			if !yield(Event{Type: "token", Token: Refusal}, nil) {
				return
			}
			yield(Event{Type: "done"}, nil)
			return
		}

		if !yield(Event{Type: "sources", Sources: sourceNames(hits)}, nil) {
			return
		}
		if !yield(Event{Type: "contexts", Contexts: snippets(hits)}, nil) {
			return
		}

		for fragment, err := range p.llm.GenerateStream(ctx, p.buildUserPrompt(query, hits), p.prompts.System()) {
			if err != nil {
				yield(Event{}, fmt.Errorf("stream answer: %w", err))
				return
			}
			if !yield(Event{Type: "token", Token: fragment}, nil) {
				return
			}
		}

		yield(Event{Type: "done"}, nil)
	}
}

// Retrieval reports the current top-k and similarity threshold.
func (p *Pipeline) Retrieval() (int, float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.topK, p.threshold
}

// SetRetrieval adjusts top-k and the similarity threshold at runtime.
// In-flight requests keep the values they started with.
func (p *Pipeline) SetRetrieval(topK int, threshold float64) {
	p.mu.Lock()
	p.topK = topK
	p.threshold = threshold
	p.mu.Unlock()
	p.logger.Info("retrieval settings updated", "top_k", topK, "similarity_threshold", threshold)
}

func (p *Pipeline) retrieve(ctx context.Context, query string) ([]vectorstore.Hit, error) {
	vec, err := p.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	topK, threshold := p.Retrieval()
	hits, err := p.store.Search(ctx, vec, topK, threshold)
	if err != nil {
		return nil, fmt.Errorf("search store: %w", err)
	}
	return hits, nil
}

func (p *Pipeline) buildUserPrompt(query string, hits []vectorstore.Hit) string {
	contexts := make([]string, len(hits))
	for i, hit := range hits {
		contexts[i] = hit.Text
	}

	var b strings.Builder
	b.WriteString(p.prompts.RAG())
	b.WriteString("\nContext:\n")
	b.WriteString(strings.Join(contexts, "\n---\n"))
	b.WriteString("\n\nUser question: ")
	b.WriteString(query)
	b.WriteString("\nAnswer concisely using only the context.")
	return b.String()
}

// sourceNames deduplicates document names preserving rank order.
func sourceNames(hits []vectorstore.Hit) []string {
	seen := make(map[string]struct{}, len(hits))
	names := make([]string, 0, len(hits))
	for _, hit := range hits {
		name := hit.Metadata.DocumentName
		if name == "" {
			name = "unknown"
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// truncatePreview caps text at previewLimit bytes without splitting a rune.
func truncatePreview(text string) string {
	if len(text) <= previewLimit {
		return text
	}
	cut := previewLimit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func snippets(hits []vectorstore.Hit) []ContextSnippet {
	out := make([]ContextSnippet, len(hits))
	for i, hit := range hits {
		text := truncatePreview(hit.Text)
		name := hit.Metadata.DocumentName
		if name == "" {
			name = "unknown"
		}
		out[i] = ContextSnippet{
			Document: name,
			ChunkID:  hit.Metadata.ID,
			Text:     text,
			Score:    math.Round(hit.Score*1000) / 1000,
		}
	}
	return out
}
