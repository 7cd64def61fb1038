package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Leptons1618/nexa/internal/config"
	"github.com/Leptons1618/nexa/internal/log"
)

func TestNewExactKind(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		VectorStore:  config.StoreExact,
		IndexPath:    filepath.Join(dir, "index.vec"),
		MetadataPath: filepath.Join(dir, "index_meta.json"),
	}

	store, err := New(context.Background(), cfg, 4, log.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &Exact{}, store)
}

func TestNewUnknownKind(t *testing.T) {
	cfg := &config.Config{VectorStore: "faiss"}

	_, err := New(context.Background(), cfg, 4, log.NewNop())
	assert.ErrorIs(t, err, ErrUnknownKind)
}
