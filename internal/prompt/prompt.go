// Package prompt stores the system and retrieval instruction prompts as
// plain text files so operators can edit them without a rebuild.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Leptons1618/nexa/internal/log"
)

// DefaultSystem seeds the system prompt file on first load.
const DefaultSystem = `You are Nexa, a support assistant for the Nexa product.
Answer questions using only the documentation provided to you.
Be concise and factual. If the documentation does not cover the question, say so.`

// DefaultRAG seeds the retrieval instruction prompt file on first load. It is
// prepended to the retrieved context in every generation request.
const DefaultRAG = `Use the context below to answer the user's question.
Cite nothing outside the context. Do not invent details.`

// Store reads and writes the two prompt files. Reads are served from memory;
// Update rewrites the file and the cache together.
type Store struct {
	systemPath string
	ragPath    string
	logger     log.Logger

	mu     sync.RWMutex
	system string
	rag    string
}

// NewStore loads both prompts, writing the built-in defaults for any file
// that does not exist yet.
func NewStore(systemPath, ragPath string, logger log.Logger) (*Store, error) {
	s := &Store{
		systemPath: systemPath,
		ragPath:    ragPath,
		logger:     logger.With("component", "prompt"),
	}

	var err error
	if s.system, err = loadOrSeed(systemPath, DefaultSystem); err != nil {
		return nil, fmt.Errorf("load system prompt: %w", err)
	}
	if s.rag, err = loadOrSeed(ragPath, DefaultRAG); err != nil {
		return nil, fmt.Errorf("load rag prompt: %w", err)
	}
	return s, nil
}

// System returns the current system prompt.
func (s *Store) System() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.system
}

// RAG returns the current retrieval instruction prompt.
func (s *Store) RAG() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rag
}

// Update overwrites one or both prompts. A nil pointer leaves that prompt
// unchanged; an empty string is a valid value.
func (s *Store) Update(system, rag *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if system != nil {
		if err := writeFile(s.systemPath, *system); err != nil {
			return fmt.Errorf("write system prompt: %w", err)
		}
		s.system = *system
		s.logger.Info("system prompt updated", "chars", len(*system))
	}
	if rag != nil {
		if err := writeFile(s.ragPath, *rag); err != nil {
			return fmt.Errorf("write rag prompt: %w", err)
		}
		s.rag = *rag
		s.logger.Info("rag prompt updated", "chars", len(*rag))
	}
	return nil
}

func loadOrSeed(path, fallback string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	if err := writeFile(path, fallback); err != nil {
		return "", err
	}
	return fallback, nil
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
