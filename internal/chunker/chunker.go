// Package chunker splits document text into overlapping word windows for
// embedding and retrieval. Splitting is pure and deterministic: the same
// input always yields the same chunks in the same order.
package chunker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidWindow indicates a chunk size / overlap combination whose window
// stride would never advance through the text.
var ErrInvalidWindow = errors.New("chunk overlap must be smaller than chunk size")

// Split splits text into overlapping chunks of approximately size words.
// Each window starts size-overlap words after the previous one; the last
// window ends at the final word of the input. Empty or whitespace-only input
// yields no chunks.
func Split(text string, size, overlap int) ([]string, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", ErrInvalidWindow, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size %d, overlap %d", ErrInvalidWindow, size, overlap)
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}

	var chunks []string
	for start := 0; start < len(words); {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if start+size >= len(words) {
			break
		}
		start += size - overlap
	}
	return chunks, nil
}
