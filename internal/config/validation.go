package config

import "fmt"

// Validate checks the configuration for values that cannot work at runtime.
// All violations here are fatal: they abort startup rather than surfacing as
// per-request failures later.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case ProviderOllama:
		// Ollama needs no credentials
	case ProviderCloud:
		if c.CloudAPIKey == "" {
			return ErrMissingCloudAPIKey
		}
	default:
		return fmt.Errorf("%w: %q (must be %q or %q)",
			ErrInvalidProvider, c.LLMProvider, ProviderOllama, ProviderCloud)
	}

	switch c.VectorStore {
	case StoreExact:
		if c.IndexPath == "" || c.MetadataPath == "" {
			return fmt.Errorf("%w: index_path and metadata_path must be set when vector_store=exact",
				ErrInvalidStoreKind)
		}
	case StoreQdrant:
		if c.QdrantURL == "" {
			return ErrMissingQdrantURL
		}
	case StorePgvector:
		if c.PostgresDSN == "" {
			return ErrMissingPostgresDSN
		}
	default:
		return fmt.Errorf("%w: %q (must be %q, %q, or %q)",
			ErrInvalidStoreKind, c.VectorStore, StoreExact, StoreQdrant, StorePgvector)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk_overlap cannot be negative, got %d", ErrInvalidChunking, c.ChunkOverlap)
	}
	// Window stride is chunk_size - chunk_overlap; a non-positive stride would
	// never advance through the document.
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap (%d) must be smaller than chunk_size (%d)",
			ErrInvalidChunking, c.ChunkOverlap, c.ChunkSize)
	}

	if c.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidRetrieval, c.TopK)
	}
	if c.EmbeddingBatchSize <= 0 {
		return fmt.Errorf("%w: embedding_batch_size must be positive, got %d",
			ErrInvalidRetrieval, c.EmbeddingBatchSize)
	}

	return nil
}
