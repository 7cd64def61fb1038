package vectorstore

import (
	"context"
	"fmt"

	"github.com/Leptons1618/nexa/internal/config"
	"github.com/Leptons1618/nexa/internal/log"
)

// New selects and constructs the configured backend. dim is the embedding
// provider's output dimension, fixed for the lifetime of the store. An
// unknown kind fails here, at startup, never at use time.
func New(ctx context.Context, cfg *config.Config, dim int, logger log.Logger) (Store, error) {
	switch cfg.VectorStore {
	case config.StoreExact:
		return NewExact(dim, cfg.IndexPath, cfg.MetadataPath, logger)
	case config.StoreQdrant:
		return NewQdrant(ctx, cfg.QdrantURL, cfg.QdrantAPIKey, cfg.QdrantCollection, dim, logger)
	case config.StorePgvector:
		return NewPgvector(ctx, cfg.PostgresDSN, cfg.PgvectorTable, dim, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.VectorStore)
	}
}
