package database

import (
	"context"
)

// BaseImageStore manages the root image records
type BaseImageStore interface {
	// InsertMany registers paths as base images (idempotent) and returns the
	// records in the same order as the input
	InsertMany(ctx context.Context, paths []string) ([]BaseImage, error)
	// ExistingPaths returns the subset of paths that already have a base image
	ExistingPaths(ctx context.Context, paths []string) (map[string]bool, error)
	// GetByPath retrieves a base image by path, returns nil if not found
	GetByPath(ctx context.Context, path string) (*BaseImage, error)
	// Count returns the total number of base images
	Count(ctx context.Context) (int, error)
}

// MetadataStore persists per-image metadata records. All saves are upserts
// keyed on the base image (or face), so reindexing the same file is safe.
type MetadataStore interface {
	// SaveHash stores the content hash for a base image
	SaveHash(ctx context.Context, hash StoredImageHash) error
	// SaveBasic stores decoded image properties for a base image
	SaveBasic(ctx context.Context, meta StoredBasicMetadata) error
	// SaveFaces stores detected faces for a base image and returns their IDs
	// in input order
	SaveFaces(ctx context.Context, faces []StoredFace) ([]int64, error)
	// SaveFaceEmbedding stores the recognition embedding for a face
	SaveFaceEmbedding(ctx context.Context, emb StoredFaceEmbedding) error
	// SaveFaceAgeGender stores the age/gender estimate for a face
	SaveFaceAgeGender(ctx context.Context, record StoredFaceAgeGender) error
}

// EmbeddingReader provides read access to whole-image embeddings
type EmbeddingReader interface {
	// Get retrieves an embedding by base image ID, returns nil if not found
	Get(ctx context.Context, baseImageID int64) (*StoredImageEmbedding, error)
	// GetByPaths retrieves embeddings for the given paths; paths with no
	// stored embedding are silently absent from the result
	GetByPaths(ctx context.Context, paths []string) ([]StoredImageEmbedding, error)
	// Count returns the total number of embeddings stored
	Count(ctx context.Context) (int, error)
	// FindSimilar finds the most similar embeddings using cosine distance
	FindSimilar(ctx context.Context, embedding []float32, limit int) ([]StoredImageEmbedding, []float64, error)
}

// EmbeddingWriter provides write access to whole-image embeddings
type EmbeddingWriter interface {
	EmbeddingReader

	// Save stores an embedding (upsert)
	Save(ctx context.Context, emb StoredImageEmbedding) error
	// RebuildIndex refreshes the similarity index after an indexing pass
	RebuildIndex(ctx context.Context) error
}
