// Package llm defines the language-model capability consumed by the RAG
// pipeline and provides clients for a local Ollama server and for any
// OpenAI-compatible cloud endpoint.
//
// The pipeline only depends on the Client interface: blocking generation,
// token streaming, and a liveness probe. Retry policy toward the provider is
// not implemented here or anywhere above; a failed call is a failed request.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/Leptons1618/nexa/internal/config"
	"github.com/Leptons1618/nexa/internal/log"
)

// ErrUnknownProvider indicates an unrecognized llm_provider value.
var ErrUnknownProvider = errors.New("unknown llm provider")

// Client is the capability interface for a language model provider.
type Client interface {
	// Generate produces a whole completion for prompt, with systemPrompt
	// carried separately in the provider's native system role.
	Generate(ctx context.Context, prompt, systemPrompt string) (string, error)

	// GenerateStream produces the completion incrementally. The sequence
	// ends when the provider signals completion; a transport or provider
	// error is yielded once and terminates the sequence.
	GenerateStream(ctx context.Context, prompt, systemPrompt string) iter.Seq2[string, error]

	// HealthCheck reports whether the provider is reachable. Liveness only,
	// no side effects.
	HealthCheck(ctx context.Context) bool
}

// Options are the sampling parameters forwarded to the provider. They are an
// explicit mutable struct owned by each client and updated through SetOptions,
// never by poking at client fields from outside.
type Options struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Tunable is implemented by clients whose sampling parameters can be read
// and replaced at runtime. Both bundled clients implement it.
type Tunable interface {
	Options() Options
	SetOptions(Options)
}

// New constructs the configured client. Unknown providers fail at startup.
func New(cfg *config.Config, logger log.Logger) (Client, error) {
	opts := Options{
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		MaxTokens:   cfg.MaxTokens,
	}

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		return NewOllama(cfg.OllamaBaseURL, cfg.OllamaModel, opts, cfg.OllamaUseChatAPI, logger), nil
	case config.ProviderCloud:
		return NewCloud(cfg.CloudAPIKey, cfg.CloudBaseURL, cfg.CloudModel, opts, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.LLMProvider)
	}
}
