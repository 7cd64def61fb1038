package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/Leptons1618/nexa/internal/log"
)

// identPattern restricts the configured table name to a plain identifier so
// it can be interpolated into DDL safely.
var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Pgvector stores vectors in a PostgreSQL table using the pgvector
// extension. Rows are durable on write, so Persist is a no-op. Scores are
// negated inner-product distances: for normalized vectors this matches the
// exact backend's raw inner product.
type Pgvector struct {
	pool   *pgxpool.Pool
	table  string
	logger log.Logger
}

// NewPgvector connects to PostgreSQL and ensures the vector extension and
// the chunk table exist, sized to dim.
func NewPgvector(ctx context.Context, dsn, table string, dim int, logger log.Logger) (*Pgvector, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid pgvector table name %q", table)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := &Pgvector{
		pool:   pool,
		table:  table,
		logger: logger.With("component", "vectorstore", "kind", "pgvector"),
	}
	if err := s.ensureSchema(ctx, dim); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Pgvector) ensureSchema(ctx context.Context, dim int) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("creating vector extension: %w", err)
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id text PRIMARY KEY,
		content text NOT NULL,
		embedding vector(%d) NOT NULL,
		metadata jsonb NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now()
	)`, s.table, dim)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating table %s: %w", s.table, err)
	}
	return nil
}

// Add inserts one row per record in a single batch. Row ids are freshly
// generated, distinct from the chunk ids carried in metadata.
func (s *Pgvector) Add(ctx context.Context, texts []string, vectors [][]float32, metadatas []Metadata) error {
	if len(texts) != len(vectors) || len(metadatas) != len(texts) {
		return fmt.Errorf("%w: %d texts, %d vectors, %d metadata entries",
			ErrLengthMismatch, len(texts), len(vectors), len(metadatas))
	}
	if len(vectors) == 0 {
		return nil
	}

	sql := fmt.Sprintf(
		"INSERT INTO %s (id, content, embedding, metadata) VALUES ($1, $2, $3, $4)", s.table)

	batch := &pgx.Batch{}
	for i := range vectors {
		metaJSON, err := json.Marshal(metadatas[i])
		if err != nil {
			return fmt.Errorf("marshaling metadata %d: %w", i, err)
		}
		batch.Queue(sql, uuid.NewString(), texts[i], pgvector.NewVector(vectors[i]), metaJSON)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer func() {
		_ = results.Close()
	}()
	for range vectors {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("inserting chunk batch: %w", err)
		}
	}
	return nil
}

// Search runs an inner-product scan ordered by the <#> distance operator.
// pgvector returns the negated inner product as a distance, so negating it
// back yields a higher-is-better similarity.
func (s *Pgvector) Search(ctx context.Context, vector []float32, topK int, threshold float64) ([]Hit, error) {
	sql := fmt.Sprintf(`SELECT content, metadata, (embedding <#> $1) * -1 AS score
		FROM %s
		WHERE (embedding <#> $1) * -1 >= $2
		ORDER BY embedding <#> $1
		LIMIT $3`, s.table)

	rows, err := s.pool.Query(ctx, sql, pgvector.NewVector(vector), threshold, topK)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	defer rows.Close()

	hits := make([]Hit, 0, topK)
	for rows.Next() {
		var (
			content  string
			metaJSON []byte
			score    float64
		)
		if err := rows.Scan(&content, &metaJSON, &score); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		var meta Metadata
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return nil, fmt.Errorf("parsing metadata: %w", err)
		}
		hits = append(hits, Hit{Text: content, Score: score, Metadata: meta})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	return hits, nil
}

// Persist is a no-op: rows are durable on write.
func (s *Pgvector) Persist(context.Context) error { return nil }

// Count reports the number of stored rows.
func (s *Pgvector) Count(ctx context.Context) (int, error) {
	var n int
	sql := fmt.Sprintf("SELECT count(*) FROM %s", s.table)
	if err := s.pool.QueryRow(ctx, sql).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting rows: %w", err)
	}
	return n, nil
}

// Clear truncates the table. The schema stays in place, so the store keeps
// accepting writes.
func (s *Pgvector) Clear(ctx context.Context) error {
	sql := fmt.Sprintf("TRUNCATE %s", s.table)
	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("truncating %s: %w", s.table, err)
	}
	s.logger.Info("cleared table", "table", s.table)
	return nil
}

// Close releases the connection pool.
func (s *Pgvector) Close() error {
	s.pool.Close()
	return nil
}
