package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/kozaktomas/photo-search/internal/database"
)

// MetadataRepository provides PostgreSQL-backed storage for per-image
// metadata (hashes, basic properties, faces and their derived records).
type MetadataRepository struct {
	pool *Pool
}

// NewMetadataRepository creates a new metadata repository
func NewMetadataRepository(pool *Pool) *MetadataRepository {
	return &MetadataRepository{pool: pool}
}

// SaveHash stores the content hash for a base image (upsert)
func (r *MetadataRepository) SaveHash(ctx context.Context, hash database.StoredImageHash) error {
	query := `
		INSERT INTO image_hashes (base_image_id, hash, hash_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (base_image_id) DO UPDATE SET
			hash = EXCLUDED.hash,
			hash_type = EXCLUDED.hash_type,
			created_at = NOW()
	`

	if _, err := r.pool.Exec(ctx, query, hash.BaseImageID, hash.Hash, hash.HashType); err != nil {
		return fmt.Errorf("save image hash: %w", err)
	}
	return nil
}

// SaveBasic stores decoded image properties for a base image (upsert)
func (r *MetadataRepository) SaveBasic(ctx context.Context, meta database.StoredBasicMetadata) error {
	query := `
		INSERT INTO basic_metadata (base_image_id, width, height, format, size_bytes, file_created)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (base_image_id) DO UPDATE SET
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			format = EXCLUDED.format,
			size_bytes = EXCLUDED.size_bytes,
			file_created = EXCLUDED.file_created,
			created_at = NOW()
	`

	if _, err := r.pool.Exec(ctx, query,
		meta.BaseImageID, meta.Width, meta.Height, meta.Format, meta.SizeBytes, meta.FileCreated); err != nil {
		return fmt.Errorf("save basic metadata: %w", err)
	}
	return nil
}

// SaveFaces stores detected faces for a base image and returns their IDs in
// input order. Upserts on (base_image_id, face_index) keep face IDs stable
// across reindexing runs.
func (r *MetadataRepository) SaveFaces(ctx context.Context, faces []database.StoredFace) ([]int64, error) {
	if len(faces) == 0 {
		return nil, nil
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO faces_in_picture (base_image_id, face_index, bbox, score)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (base_image_id, face_index) DO UPDATE SET
			bbox = EXCLUDED.bbox,
			score = EXCLUDED.score,
			created_at = NOW()
		RETURNING id
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(faces))
	for _, face := range faces {
		var id int64
		if err := stmt.QueryRowContext(ctx, face.BaseImageID, face.FaceIndex, pq.Array(face.BBox), face.Score).Scan(&id); err != nil {
			return nil, fmt.Errorf("insert face %d for image %d: %w", face.FaceIndex, face.BaseImageID, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return ids, nil
}

// SaveFaceEmbedding stores the recognition embedding for a face (upsert)
func (r *MetadataRepository) SaveFaceEmbedding(ctx context.Context, emb database.StoredFaceEmbedding) error {
	query := `
		INSERT INTO face_embeddings (face_id, embedding, dim)
		VALUES ($1, $2::vector, $3)
		ON CONFLICT (face_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			dim = EXCLUDED.dim,
			created_at = NOW()
	`

	vec := pgvector.NewVector(emb.Embedding)
	if _, err := r.pool.Exec(ctx, query, emb.FaceID, vec, emb.Dim); err != nil {
		return fmt.Errorf("save face embedding: %w", err)
	}
	return nil
}

// SaveFaceAgeGender stores the age/gender estimate for a face (upsert)
func (r *MetadataRepository) SaveFaceAgeGender(ctx context.Context, record database.StoredFaceAgeGender) error {
	query := `
		INSERT INTO face_age_gender (face_id, age, gender)
		VALUES ($1, $2, $3)
		ON CONFLICT (face_id) DO UPDATE SET
			age = EXCLUDED.age,
			gender = EXCLUDED.gender,
			created_at = NOW()
	`

	if _, err := r.pool.Exec(ctx, query, record.FaceID, record.Age, record.Gender); err != nil {
		return fmt.Errorf("save face age/gender: %w", err)
	}
	return nil
}

// GetFaces retrieves all faces for a base image ordered by face index
func (r *MetadataRepository) GetFaces(ctx context.Context, baseImageID int64) ([]database.StoredFace, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, base_image_id, face_index, bbox, score, created_at
		FROM faces_in_picture
		WHERE base_image_id = $1
		ORDER BY face_index
	`, baseImageID)
	if err != nil {
		return nil, fmt.Errorf("query faces: %w", err)
	}
	defer rows.Close()

	var faces []database.StoredFace
	for rows.Next() {
		var face database.StoredFace
		if err := rows.Scan(
			&face.ID,
			&face.BaseImageID,
			&face.FaceIndex,
			pq.Array(&face.BBox),
			&face.Score,
			&face.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		faces = append(faces, face)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faces: %w", err)
	}
	return faces, nil
}

// Verify interface compliance
var _ database.MetadataStore = (*MetadataRepository)(nil)
