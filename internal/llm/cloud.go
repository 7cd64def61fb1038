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
	"strings"
	"sync"
	"time"

	"github.com/Leptons1618/nexa/internal/log"
)

// Cloud drives any OpenAI-compatible chat completion endpoint. The base URL
// points at the API root (e.g. https://api.groq.com/openai/v1) and the key is
// sent as a bearer token and never logged.
type Cloud struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	logger  log.Logger

	mu   sync.RWMutex
	opts Options
}

// NewCloud builds a cloud client.
func NewCloud(apiKey, baseURL, model string, opts Options, logger log.Logger) *Cloud {
	return &Cloud{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		opts:    opts,
		client:  &http.Client{Timeout: 300 * time.Second},
		logger:  logger.With("component", "llm.cloud"),
	}
}

// SetOptions replaces the sampling parameters for subsequent calls.
// In-flight calls keep the options they started with.
func (c *Cloud) SetOptions(opts Options) {
	c.mu.Lock()
	c.opts = opts
	c.mu.Unlock()
}

// Options reports the current sampling parameters.
func (c *Cloud) Options() Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts
}

// Model reports the configured model name.
func (c *Cloud) Model() string { return c.model }

type cloudRequest struct {
	Model       string          `json:"model"`
	Messages    []ollamaMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	TopP        float64         `json:"top_p"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream"`
}

type cloudChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
}

type cloudResponse struct {
	Choices []cloudChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate runs a blocking completion.
func (c *Cloud) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	resp, err := c.do(ctx, c.request(prompt, systemPrompt, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out cloudResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode cloud response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("cloud completion: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("cloud completion: empty choices")
	}
	return out.Choices[0].Message.Content, nil
}

// GenerateStream runs a streaming completion. The endpoint streams SSE
// frames, each "data:" line holding a delta chunk, terminated by [DONE].
func (c *Cloud) GenerateStream(ctx context.Context, prompt, systemPrompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := c.do(ctx, c.request(prompt, systemPrompt, true))
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return
			}

			var chunk cloudResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				yield("", fmt.Errorf("decode cloud stream: %w", err))
				return
			}
			if chunk.Error != nil {
				yield("", fmt.Errorf("cloud completion: %s", chunk.Error.Message))
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if fragment := chunk.Choices[0].Delta.Content; fragment != "" {
				if !yield(fragment, nil) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("read cloud stream: %w", err))
		}
	}
}

// HealthCheck probes the models listing endpoint.
func (c *Cloud) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Cloud) request(prompt, systemPrompt string, stream bool) cloudRequest {
	opts := c.Options()
	return cloudRequest{
		Model:       c.model,
		Messages:    chatMessages(prompt, systemPrompt),
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		MaxTokens:   opts.MaxTokens,
		Stream:      stream,
	}
}

func (c *Cloud) do(ctx context.Context, payload cloudRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode cloud request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build cloud request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call cloud endpoint: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("cloud endpoint: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return resp, nil
}
