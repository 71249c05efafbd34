package database

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWEmbeddingIndex wraps an in-memory HNSW graph over whole-image
// embeddings, keyed by base image ID.
type HNSWEmbeddingIndex struct {
	graph      *hnsw.Graph[int64]
	savedGraph *hnsw.SavedGraph[int64] // For persistence
	idToEmb    map[int64]*StoredImageEmbedding
	mu         sync.RWMutex
	path       string
}

// NewHNSWEmbeddingIndex creates a new empty HNSW embedding index
func NewHNSWEmbeddingIndex() *HNSWEmbeddingIndex {
	return &HNSWEmbeddingIndex{
		idToEmb: make(map[int64]*StoredImageEmbedding),
	}
}

// BuildFromEmbeddings builds the index from a slice of embeddings
func (h *HNSWEmbeddingIndex) BuildFromEmbeddings(embeddings []StoredImageEmbedding) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(embeddings) == 0 {
		h.graph = nil
		h.savedGraph = nil
		h.idToEmb = make(map[int64]*StoredImageEmbedding)
		return nil
	}

	// Create new graph with cosine distance
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance

	h.idToEmb = make(map[int64]*StoredImageEmbedding, len(embeddings))

	for i := range embeddings {
		emb := &embeddings[i]
		if len(emb.Embedding) == 0 {
			continue
		}

		g.Add(hnsw.MakeNode(emb.BaseImageID, emb.Embedding))
		h.idToEmb[emb.BaseImageID] = emb
	}

	h.graph = g
	return nil
}

// Search finds the k nearest neighbors to the query embedding
// Returns base image IDs and their cosine distances
func (h *HNSWEmbeddingIndex) Search(query []float32, k int) ([]int64, []float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil && h.savedGraph == nil {
		return nil, nil, fmt.Errorf("index not initialized")
	}

	var neighbors []hnsw.Node[int64]
	if h.savedGraph != nil {
		neighbors = h.savedGraph.Search(query, k)
	} else {
		neighbors = h.graph.Search(query, k)
	}

	ids := make([]int64, len(neighbors))
	distances := make([]float64, len(neighbors))

	for i, n := range neighbors {
		ids[i] = n.Key
		// Compute actual cosine distance for the result
		if emb, ok := h.idToEmb[n.Key]; ok && len(emb.Embedding) > 0 {
			distances[i] = CosineDistance(query, emb.Embedding)
		}
	}

	return ids, distances, nil
}

// GetEmbedding returns the embedding for a given base image ID
func (h *HNSWEmbeddingIndex) GetEmbedding(baseImageID int64) *StoredImageEmbedding {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.idToEmb[baseImageID]
}

// Count returns the number of indexed embeddings
func (h *HNSWEmbeddingIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToEmb)
}

// IsEmpty returns true if the index has no graph data loaded
func (h *HNSWEmbeddingIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph == nil && h.savedGraph == nil
}

// HNSWEmbeddingIndexMetadata stores metadata for freshness checking
type HNSWEmbeddingIndexMetadata struct {
	EmbeddingCount int64 `json:"embedding_count"`
}

// LoadHNSWEmbeddingMetadata loads just the metadata file for staleness checking
func LoadHNSWEmbeddingMetadata(basePath string) (*HNSWEmbeddingIndexMetadata, error) {
	metaPath := basePath + ".meta"
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}
	var meta HNSWEmbeddingIndexMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// SaveWithMetadata saves the graph, the freshness metadata and the embedding
// records to disk. The records ride along so the index can be reloaded
// without touching the database.
func (h *HNSWEmbeddingIndex) SaveWithMetadata(basePath string, metadata HNSWEmbeddingIndexMetadata) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil && h.savedGraph == nil {
		// Remove existing files if index is empty
		os.Remove(basePath)
		os.Remove(basePath + ".meta")
		os.Remove(basePath + ".embeddings")
		return nil
	}

	f, err := os.Create(basePath)
	if err != nil {
		return fmt.Errorf("failed to create HNSW embedding index file: %w", err)
	}
	if h.savedGraph != nil {
		// SavedGraph embeds *Graph, so we can call Export on it
		if err := h.savedGraph.Export(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to export HNSW graph from savedGraph: %w", err)
		}
	} else {
		if err := h.graph.Export(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to export HNSW graph: %w", err)
		}
	}
	f.Close()

	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(basePath+".meta", metaData, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	embFile, err := os.Create(basePath + ".embeddings")
	if err != nil {
		return fmt.Errorf("failed to create embeddings file: %w", err)
	}
	defer embFile.Close()

	embeddings := make([]StoredImageEmbedding, 0, len(h.idToEmb))
	for _, emb := range h.idToEmb {
		embeddings = append(embeddings, *emb)
	}

	encoder := gob.NewEncoder(embFile)
	if err := encoder.Encode(embeddings); err != nil {
		return fmt.Errorf("failed to encode embeddings: %w", err)
	}

	return nil
}

// LoadWithMetadata loads the graph and embedding records from disk
func (h *HNSWEmbeddingIndex) LoadWithMetadata(basePath string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.path = basePath

	saved, err := hnsw.LoadSavedGraph[int64](basePath)
	if err != nil {
		return fmt.Errorf("failed to load HNSW embedding index: %w", err)
	}
	h.savedGraph = saved

	embFile, err := os.Open(basePath + ".embeddings")
	if err != nil {
		return fmt.Errorf("failed to open embeddings file: %w", err)
	}
	defer embFile.Close()

	var embeddings []StoredImageEmbedding
	decoder := gob.NewDecoder(embFile)
	if err := decoder.Decode(&embeddings); err != nil {
		return fmt.Errorf("failed to decode embeddings: %w", err)
	}

	h.idToEmb = make(map[int64]*StoredImageEmbedding, len(embeddings))
	for i := range embeddings {
		h.idToEmb[embeddings[i].BaseImageID] = &embeddings[i]
	}

	return nil
}
