package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"sync"
	"time"

	"github.com/Leptons1618/nexa/internal/log"
)

// Ollama talks to a local Ollama server. The chat API (/api/chat) is
// preferred; servers too old to have it can be driven through /api/generate
// by disabling useChatAPI.
type Ollama struct {
	baseURL    string
	useChatAPI bool
	client     *http.Client
	logger     log.Logger

	mu    sync.RWMutex
	model string
	opts  Options
}

// NewOllama builds an Ollama client. No connectivity check happens here;
// readiness is observed through HealthCheck.
func NewOllama(baseURL, model string, opts Options, useChatAPI bool, logger log.Logger) *Ollama {
	return &Ollama{
		baseURL:    baseURL,
		model:      model,
		opts:       opts,
		useChatAPI: useChatAPI,
		client:     &http.Client{Timeout: 300 * time.Second},
		logger:     logger.With("component", "llm.ollama"),
	}
}

// SetOptions replaces the sampling parameters for subsequent calls.
// In-flight calls keep the options they started with.
func (o *Ollama) SetOptions(opts Options) {
	o.mu.Lock()
	o.opts = opts
	o.mu.Unlock()
}

// Options reports the current sampling parameters.
func (o *Ollama) Options() Options {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.opts
}

// Model reports the active model name.
func (o *Ollama) Model() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.model
}

// SetModel switches the model used by subsequent calls and returns the
// previous name. The caller is expected to have verified the model exists,
// via ListModels or otherwise.
func (o *Ollama) SetModel(name string) string {
	o.mu.Lock()
	previous := o.model
	o.model = name
	o.mu.Unlock()
	o.logger.Info("model switched", "previous", previous, "current", name)
	return previous
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

func (o *Ollama) options() map[string]any {
	opts := o.Options()
	m := map[string]any{
		"temperature": opts.Temperature,
		"top_p":       opts.TopP,
	}
	if opts.MaxTokens > 0 {
		m["num_predict"] = opts.MaxTokens
	}
	return m
}

// Generate runs a blocking completion.
func (o *Ollama) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	if o.useChatAPI {
		req := ollamaChatRequest{
			Model:    o.Model(),
			Messages: chatMessages(prompt, systemPrompt),
			Stream:   false,
			Options:  o.options(),
		}
		var resp ollamaChatResponse
		if err := o.post(ctx, "/api/chat", req, &resp); err != nil {
			return "", err
		}
		if resp.Error != "" {
			return "", fmt.Errorf("ollama chat: %s", resp.Error)
		}
		return resp.Message.Content, nil
	}

	req := ollamaGenerateRequest{
		Model:   o.Model(),
		Prompt:  prompt,
		System:  systemPrompt,
		Stream:  false,
		Options: o.options(),
	}
	var resp ollamaGenerateResponse
	if err := o.post(ctx, "/api/generate", req, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("ollama generate: %s", resp.Error)
	}
	return resp.Response, nil
}

// GenerateStream runs a streaming completion. Ollama streams newline
// delimited JSON objects, one fragment per line, final object marked done.
func (o *Ollama) GenerateStream(ctx context.Context, prompt, systemPrompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		path := "/api/generate"
		var payload any = ollamaGenerateRequest{
			Model:   o.Model(),
			Prompt:  prompt,
			System:  systemPrompt,
			Stream:  true,
			Options: o.options(),
		}
		if o.useChatAPI {
			path = "/api/chat"
			payload = ollamaChatRequest{
				Model:    o.Model(),
				Messages: chatMessages(prompt, systemPrompt),
				Stream:   true,
				Options:  o.options(),
			}
		}

		body, err := o.stream(ctx, path, payload)
		if err != nil {
			yield("", err)
			return
		}
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var fragment string
			var done bool
			if o.useChatAPI {
				var chunk ollamaChatResponse
				if err := json.Unmarshal(line, &chunk); err != nil {
					yield("", fmt.Errorf("decode ollama stream: %w", err))
					return
				}
				if chunk.Error != "" {
					yield("", fmt.Errorf("ollama chat: %s", chunk.Error))
					return
				}
				fragment, done = chunk.Message.Content, chunk.Done
			} else {
				var chunk ollamaGenerateResponse
				if err := json.Unmarshal(line, &chunk); err != nil {
					yield("", fmt.Errorf("decode ollama stream: %w", err))
					return
				}
				if chunk.Error != "" {
					yield("", fmt.Errorf("ollama generate: %s", chunk.Error))
					return
				}
				fragment, done = chunk.Response, chunk.Done
			}

			if fragment != "" && !yield(fragment, nil) {
				return
			}
			if done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("read ollama stream: %w", err))
		}
	}
}

// HealthCheck probes /api/tags, the cheapest endpoint the server exposes.
func (o *Ollama) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ModelEntry describes one model installed on the Ollama server.
type ModelEntry struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest"`
	ModifiedAt time.Time `json:"modified_at"`
}

// ListModels returns the models installed on the server.
func (o *Ollama) ListModels(ctx context.Context) ([]ModelEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("build ollama request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list ollama models: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list ollama models: status %d", resp.StatusCode)
	}

	var out struct {
		Models []ModelEntry `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ollama models: %w", err)
	}
	return out.Models, nil
}

// ModelInfo returns the server's metadata for one model.
func (o *Ollama) ModelInfo(ctx context.Context, name string) (map[string]any, error) {
	var info map[string]any
	if err := o.post(ctx, "/api/show", map[string]string{"name": name}, &info); err != nil {
		return nil, err
	}
	return info, nil
}

func (o *Ollama) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode ollama request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("call ollama %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ollama %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode ollama response: %w", err)
	}
	return nil
}

func (o *Ollama) stream(ctx context.Context, path string, payload any) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode ollama request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call ollama %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("ollama %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return resp.Body, nil
}

func chatMessages(prompt, systemPrompt string) []ollamaMessage {
	msgs := make([]ollamaMessage, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, ollamaMessage{Role: "system", Content: systemPrompt})
	}
	return append(msgs, ollamaMessage{Role: "user", Content: prompt})
}
