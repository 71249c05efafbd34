package database

// Embedding dimensions per model
const (
	// ImageEmbeddingDim is the CLIP image/text embedding size
	ImageEmbeddingDim = 768

	// FaceEmbeddingDim is the face recognition embedding size
	FaceEmbeddingDim = 512
)

// HashTypeSHA256 labels hashes computed over the decoded RGB pixel buffer
const HashTypeSHA256 = "SHA256"

// HNSW index parameters for 768-dim image embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// to ensure we have enough after distance filtering.
	HNSWSearchMultiplier = 3
)
