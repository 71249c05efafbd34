// Package search composes text and reference-image embeddings into a single
// query vector and resolves it against the stored image embeddings.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/photo-search/internal/database"
)

// DefaultLimit is the number of candidates retrieved per search
const DefaultLimit = 1000

// ErrEmptyQuery is returned when a request carries neither usable text nor
// any resolvable reference image.
var ErrEmptyQuery = errors.New("query needs text or at least one indexed reference image")

// TextEmbedder computes the embedding for a text query
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Request describes one search. Text and reference paths are both optional,
// but at least one must resolve to an embedding.
type Request struct {
	Text     string
	RefPaths []string
	Limit    int
}

// Result is one search hit
type Result struct {
	ID       int64   `json:"id"`
	Path     string  `json:"path"`
	Distance float64 `json:"distance"`
}

// Service executes searches against stored image embeddings
type Service struct {
	embedder   TextEmbedder
	embeddings database.EmbeddingReader
}

// NewService creates a new search service
func NewService(embedder TextEmbedder, embeddings database.EmbeddingReader) *Service {
	return &Service{
		embedder:   embedder,
		embeddings: embeddings,
	}
}

// AverageSlices computes the element-wise mean of the given vectors. All
// vectors must share the same length.
func AverageSlices(slices [][]float32) ([]float32, error) {
	if len(slices) == 0 {
		return nil, errors.New("no slices to average")
	}

	dim := len(slices[0])
	for i, s := range slices {
		if len(s) != dim {
			return nil, fmt.Errorf("slice %d has length %d, expected %d", i, len(s), dim)
		}
	}

	out := make([]float32, dim)
	for _, s := range slices {
		for i, v := range s {
			out[i] += v
		}
	}
	n := float32(len(slices))
	for i := range out {
		out[i] /= n
	}
	return out, nil
}

// Search blends the request's text and reference embeddings into one query
// vector and returns the nearest stored images. Reference paths that have no
// stored embedding are dropped; text and the reference centroid each carry
// equal weight in the blend.
func (s *Service) Search(ctx context.Context, req Request) ([]Result, error) {
	var components [][]float32

	if len(req.RefPaths) > 0 {
		refs, err := s.embeddings.GetByPaths(ctx, req.RefPaths)
		if err != nil {
			return nil, fmt.Errorf("resolve reference images: %w", err)
		}
		if len(refs) > 0 {
			vectors := make([][]float32, len(refs))
			for i, ref := range refs {
				vectors[i] = ref.Embedding
			}
			centroid, err := AverageSlices(vectors)
			if err != nil {
				return nil, fmt.Errorf("average reference embeddings: %w", err)
			}
			components = append(components, centroid)
		}
	}

	// The query text goes to the embedding model exactly as typed. The
	// model was trained on natural text, so case folding or accent
	// stripping here would only move the query away from what it saw.
	if strings.TrimSpace(req.Text) != "" {
		embedding, err := s.embedder.EmbedText(ctx, req.Text)
		if err != nil {
			return nil, fmt.Errorf("embed query text: %w", err)
		}
		components = append(components, embedding)
	}

	if len(components) == 0 {
		return nil, ErrEmptyQuery
	}

	// With a single component the blend is the identity, so a text-only
	// query uses the text embedding as is. Cosine distance makes the
	// query's magnitude irrelevant.
	query, err := AverageSlices(components)
	if err != nil {
		return nil, fmt.Errorf("blend query components: %w", err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	matches, distances, err := s.embeddings.FindSimilar(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("find similar embeddings: %w", err)
	}

	results := make([]Result, len(matches))
	for i, match := range matches {
		results[i] = Result{
			ID:       match.BaseImageID,
			Path:     match.Path,
			Distance: distances[i],
		}
	}
	return results, nil
}
