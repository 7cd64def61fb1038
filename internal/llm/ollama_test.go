package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Leptons1618/nexa/internal/log"
)

func testOptions() Options {
	return Options{Temperature: 0.2, TopP: 0.9, MaxTokens: 256}
}

func TestOllamaGenerateChatAPI(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: "hello there"},
			Done:    true,
		})
	}))
	defer srv.Close()

	client := NewOllama(srv.URL, "llama3", testOptions(), true, log.NewNop())
	out, err := client.Generate(context.Background(), "hi", "be brief")
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)

	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "be brief", gotReq.Messages[0].Content)
	assert.Equal(t, "user", gotReq.Messages[1].Role)
	assert.False(t, gotReq.Stream)
	assert.EqualValues(t, 256, gotReq.Options["num_predict"])
}

func TestOllamaSetModel(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(ollamaChatResponse{Done: true})
	}))
	defer srv.Close()

	client := NewOllama(srv.URL, "llama3", testOptions(), true, log.NewNop())
	assert.Equal(t, "llama3", client.Model())

	previous := client.SetModel("phi3")
	assert.Equal(t, "llama3", previous)
	assert.Equal(t, "phi3", client.Model())

	_, err := client.Generate(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "phi3", gotReq.Model, "subsequent calls use the new model")
}

func TestOllamaSetOptions(t *testing.T) {
	client := NewOllama("http://localhost:11434", "llama3", testOptions(), true, log.NewNop())
	assert.Equal(t, testOptions(), client.Options())

	client.SetOptions(Options{Temperature: 0.7, TopP: 0.5, MaxTokens: 64})
	assert.Equal(t, Options{Temperature: 0.7, TopP: 0.5, MaxTokens: 64}, client.Options())
}

func TestOllamaGenerateLegacyAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		var req ollamaGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "be brief", req.System)
		json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: "legacy answer", Done: true})
	}))
	defer srv.Close()

	client := NewOllama(srv.URL, "llama3", testOptions(), false, log.NewNop())
	out, err := client.Generate(context.Background(), "hi", "be brief")
	require.NoError(t, err)
	assert.Equal(t, "legacy answer", out)
}

func TestOllamaGenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewOllama(srv.URL, "missing", testOptions(), true, log.NewNop())
	_, err := client.Generate(context.Background(), "hi", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestOllamaGenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		enc := json.NewEncoder(w)
		for _, frag := range []string{"the ", "quick ", "fox"} {
			enc.Encode(ollamaChatResponse{Message: ollamaMessage{Content: frag}})
		}
		enc.Encode(ollamaChatResponse{Done: true})
	}))
	defer srv.Close()

	client := NewOllama(srv.URL, "llama3", testOptions(), true, log.NewNop())

	var got string
	for frag, err := range client.GenerateStream(context.Background(), "hi", "") {
		require.NoError(t, err)
		got += frag
	}
	assert.Equal(t, "the quick fox", got)
}

func TestOllamaGenerateStreamMidStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"partial "}}`)
		fmt.Fprintln(w, `{"error":"model crashed"}`)
	}))
	defer srv.Close()

	client := NewOllama(srv.URL, "llama3", testOptions(), true, log.NewNop())

	var got string
	var streamErr error
	for frag, err := range client.GenerateStream(context.Background(), "hi", "") {
		if err != nil {
			streamErr = err
			break
		}
		got += frag
	}
	assert.Equal(t, "partial ", got)
	require.Error(t, streamErr)
	assert.Contains(t, streamErr.Error(), "model crashed")
}

func TestOllamaGenerateStreamUnreachable(t *testing.T) {
	client := NewOllama("http://127.0.0.1:1", "llama3", testOptions(), true, log.NewNop())

	count := 0
	var streamErr error
	for _, err := range client.GenerateStream(context.Background(), "hi", "") {
		count++
		streamErr = err
	}
	assert.Equal(t, 1, count)
	require.Error(t, streamErr)
}

func TestOllamaHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	client := NewOllama(srv.URL, "llama3", testOptions(), true, log.NewNop())
	assert.True(t, client.HealthCheck(context.Background()))

	down := NewOllama("http://127.0.0.1:1", "llama3", testOptions(), true, log.NewNop())
	assert.False(t, down.HealthCheck(context.Background()))
}

func TestOllamaListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"llama3:8b","size":4661224676,"digest":"abc123"}]}`))
	}))
	defer srv.Close()

	client := NewOllama(srv.URL, "llama3", testOptions(), true, log.NewNop())
	models, err := client.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "llama3:8b", models[0].Name)
	assert.EqualValues(t, 4661224676, models[0].Size)
}
