package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kozaktomas/photo-search/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// ImageEmbeddingRepository provides PostgreSQL-backed whole-image embedding
// storage with an optional in-memory HNSW fast path for similarity search.
type ImageEmbeddingRepository struct {
	pool          *Pool
	hnswIndex     *database.HNSWEmbeddingIndex
	hnswEnabled   bool
	hnswIndexPath string // Path to persist HNSW index (optional)
	hnswMu        sync.RWMutex
}

// NewImageEmbeddingRepository creates a new image embedding repository
func NewImageEmbeddingRepository(pool *Pool) *ImageEmbeddingRepository {
	return &ImageEmbeddingRepository{pool: pool}
}

// Get retrieves an embedding by base image ID, returns nil if not found
func (r *ImageEmbeddingRepository) Get(ctx context.Context, baseImageID int64) (*database.StoredImageEmbedding, error) {
	query := `
		SELECT e.base_image_id, b.path, e.embedding, e.model, e.dim, e.created_at
		FROM image_embeddings e
		JOIN base_images b ON b.id = e.base_image_id
		WHERE e.base_image_id = $1
	`

	var emb database.StoredImageEmbedding
	var vec pgvector.Vector

	err := r.pool.QueryRow(ctx, query, baseImageID).Scan(
		&emb.BaseImageID,
		&emb.Path,
		&vec,
		&emb.Model,
		&emb.Dim,
		&emb.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	emb.Embedding = vec.Slice()
	return &emb, nil
}

// GetByPaths retrieves embeddings for the given paths. Paths with no stored
// embedding are silently absent from the result.
func (r *ImageEmbeddingRepository) GetByPaths(ctx context.Context, paths []string) ([]database.StoredImageEmbedding, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	query := `
		SELECT e.base_image_id, b.path, e.embedding, e.model, e.dim, e.created_at
		FROM image_embeddings e
		JOIN base_images b ON b.id = e.base_image_id
		WHERE b.path = ANY($1)
	`

	rows, err := r.pool.Query(ctx, query, pq.Array(paths))
	if err != nil {
		return nil, fmt.Errorf("query embeddings by paths: %w", err)
	}
	defer rows.Close()

	return scanEmbeddings(rows)
}

// Count returns the total number of embeddings stored
func (r *ImageEmbeddingRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM image_embeddings").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

// FindSimilar finds the most similar embeddings using cosine distance.
// Uses the in-memory HNSW index if enabled, otherwise falls back to PostgreSQL.
func (r *ImageEmbeddingRepository) FindSimilar(ctx context.Context, embedding []float32, limit int) ([]database.StoredImageEmbedding, []float64, error) {
	r.hnswMu.RLock()
	hnswEnabled := r.hnswEnabled && r.hnswIndex != nil
	r.hnswMu.RUnlock()

	if hnswEnabled {
		return r.findSimilarHNSW(embedding, limit)
	}

	return r.findSimilarPostgres(ctx, embedding, limit)
}

// findSimilarHNSW uses the in-memory HNSW index for similarity search
func (r *ImageEmbeddingRepository) findSimilarHNSW(embedding []float32, limit int) ([]database.StoredImageEmbedding, []float64, error) {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if r.hnswIndex == nil {
		return nil, nil, errors.New("HNSW index not initialized")
	}

	// Over-fetch to compensate for the approximate recall, then keep the
	// closest limit results.
	ids, distances, err := r.hnswIndex.Search(embedding, limit*database.HNSWSearchMultiplier)
	if err != nil {
		return nil, nil, fmt.Errorf("HNSW search: %w", err)
	}

	results := make([]database.StoredImageEmbedding, 0, len(ids))
	distancesOut := make([]float64, 0, len(ids))
	for i, id := range ids {
		emb := r.hnswIndex.GetEmbedding(id)
		if emb == nil {
			continue
		}
		results = append(results, *emb)
		distancesOut = append(distancesOut, distances[i])
	}

	sort.Sort(&byDistance{results, distancesOut})
	if len(results) > limit {
		results = results[:limit]
		distancesOut = distancesOut[:limit]
	}
	return results, distancesOut, nil
}

// byDistance sorts search hits and their distances together, ascending.
type byDistance struct {
	embs      []database.StoredImageEmbedding
	distances []float64
}

func (s *byDistance) Len() int           { return len(s.embs) }
func (s *byDistance) Less(i, j int) bool { return s.distances[i] < s.distances[j] }
func (s *byDistance) Swap(i, j int) {
	s.embs[i], s.embs[j] = s.embs[j], s.embs[i]
	s.distances[i], s.distances[j] = s.distances[j], s.distances[i]
}

// findSimilarPostgres uses pgvector for similarity search with ef_search tuning
func (r *ImageEmbeddingRepository) findSimilarPostgres(ctx context.Context, embedding []float32, limit int) ([]database.StoredImageEmbedding, []float64, error) {
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", database.HNSWEfSearch)); err != nil {
		return nil, nil, fmt.Errorf("set ef_search: %w", err)
	}

	query := `
		SELECT e.base_image_id, b.path, e.embedding, e.model, e.dim, e.created_at,
		       e.embedding <=> $1::vector AS distance
		FROM image_embeddings e
		JOIN base_images b ON b.id = e.base_image_id
		ORDER BY distance
		LIMIT $2
	`

	vec := pgvector.NewVector(embedding)
	rows, err := tx.QueryContext(ctx, query, vec, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query similar embeddings: %w", err)
	}
	defer rows.Close()

	var embeddings []database.StoredImageEmbedding
	var distances []float64

	for rows.Next() {
		var emb database.StoredImageEmbedding
		var vec pgvector.Vector
		var dist float64

		if err := rows.Scan(
			&emb.BaseImageID,
			&emb.Path,
			&vec,
			&emb.Model,
			&emb.Dim,
			&emb.CreatedAt,
			&dist,
		); err != nil {
			return nil, nil, fmt.Errorf("scan embedding: %w", err)
		}

		emb.Embedding = vec.Slice()
		embeddings = append(embeddings, emb)
		distances = append(distances, dist)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate embeddings: %w", err)
	}

	return embeddings, distances, nil
}

// Save stores an embedding (upsert)
func (r *ImageEmbeddingRepository) Save(ctx context.Context, emb database.StoredImageEmbedding) error {
	query := `
		INSERT INTO image_embeddings (base_image_id, embedding, model, dim)
		VALUES ($1, $2::vector, $3, $4)
		ON CONFLICT (base_image_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			model = EXCLUDED.model,
			dim = EXCLUDED.dim,
			created_at = NOW()
	`

	vec := pgvector.NewVector(emb.Embedding)
	if _, err := r.pool.Exec(ctx, query, emb.BaseImageID, vec, emb.Model, emb.Dim); err != nil {
		return fmt.Errorf("save embedding: %w", err)
	}
	return nil
}

func scanEmbeddings(rows *sql.Rows) ([]database.StoredImageEmbedding, error) {
	var embeddings []database.StoredImageEmbedding

	for rows.Next() {
		var emb database.StoredImageEmbedding
		var vec pgvector.Vector

		if err := rows.Scan(
			&emb.BaseImageID,
			&emb.Path,
			&vec,
			&emb.Model,
			&emb.Dim,
			&emb.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}

		emb.Embedding = vec.Slice()
		embeddings = append(embeddings, emb)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}

	return embeddings, nil
}

// GetAllEmbeddings retrieves all embeddings from the database
func (r *ImageEmbeddingRepository) GetAllEmbeddings(ctx context.Context) ([]database.StoredImageEmbedding, error) {
	query := `
		SELECT e.base_image_id, b.path, e.embedding, e.model, e.dim, e.created_at
		FROM image_embeddings e
		JOIN base_images b ON b.id = e.base_image_id
		ORDER BY e.base_image_id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query all embeddings: %w", err)
	}
	defer rows.Close()

	return scanEmbeddings(rows)
}

// tryLoadIndex attempts to load the HNSW index from disk.
// Returns true if the index was loaded and is fresh.
func (r *ImageEmbeddingRepository) tryLoadIndex(indexPath string, dbEmbCount int64) bool {
	metadata, metaErr := database.LoadHNSWEmbeddingMetadata(indexPath)
	if metaErr != nil {
		fmt.Printf("Embedding index: metadata file error: %v (will rebuild)\n", metaErr)
		return false
	}
	if metadata.EmbeddingCount != dbEmbCount {
		fmt.Printf("Embedding index: stale (db: count=%d, cached: count=%d) (will rebuild)\n",
			dbEmbCount, metadata.EmbeddingCount)
		return false
	}

	r.hnswIndex = database.NewHNSWEmbeddingIndex()
	if err := r.hnswIndex.LoadWithMetadata(indexPath); err != nil {
		fmt.Printf("Embedding index: failed to load: %v (will rebuild)\n", err)
		return false
	}
	if r.hnswIndex.IsEmpty() {
		fmt.Printf("Embedding index: loaded graph is empty (will rebuild)\n")
		return false
	}
	fmt.Printf("Embedding index: loaded from disk\n")
	return true
}

// EnableHNSW loads or builds the in-memory HNSW index for O(log N)
// similarity search. If indexPath is provided, it tries to load from disk
// first and saves after building. Should be called once at startup.
func (r *ImageEmbeddingRepository) EnableHNSW(ctx context.Context, indexPath string) error {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()

	r.hnswIndexPath = indexPath

	var dbEmbCount int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM image_embeddings").Scan(&dbEmbCount)
	if err != nil {
		return fmt.Errorf("failed to get embedding count: %w", err)
	}

	if indexPath != "" && r.tryLoadIndex(indexPath, dbEmbCount) {
		r.hnswEnabled = true
		return nil
	}

	embeddings, err := r.GetAllEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}

	r.hnswIndex = database.NewHNSWEmbeddingIndex()
	if err := r.hnswIndex.BuildFromEmbeddings(embeddings); err != nil {
		return fmt.Errorf("failed to build HNSW embedding index: %w", err)
	}

	if indexPath != "" && len(embeddings) > 0 {
		metadata := database.HNSWEmbeddingIndexMetadata{EmbeddingCount: dbEmbCount}
		if err := r.hnswIndex.SaveWithMetadata(indexPath, metadata); err != nil {
			fmt.Printf("Warning: failed to save HNSW embedding index to disk: %v\n", err)
		}
	}

	r.hnswEnabled = true
	return nil
}

// HNSWCount returns the number of embeddings in the in-memory index
func (r *ImageEmbeddingRepository) HNSWCount() int {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if r.hnswIndex == nil {
		return 0
	}
	return r.hnswIndex.Count()
}

// IsHNSWEnabled returns whether the in-memory HNSW index is enabled
func (r *ImageEmbeddingRepository) IsHNSWEnabled() bool {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	return r.hnswEnabled && r.hnswIndex != nil
}

// RebuildIndex rebuilds the in-memory index from PostgreSQL data. Called
// once at the end of an indexing pass so new embeddings become searchable.
func (r *ImageEmbeddingRepository) RebuildIndex(ctx context.Context) error {
	r.hnswMu.RLock()
	indexPath := r.hnswIndexPath
	enabled := r.hnswEnabled
	r.hnswMu.RUnlock()

	if !enabled {
		return nil
	}
	return r.EnableHNSW(ctx, indexPath)
}

// Verify interface compliance
var _ database.EmbeddingReader = (*ImageEmbeddingRepository)(nil)
var _ database.EmbeddingWriter = (*ImageEmbeddingRepository)(nil)
