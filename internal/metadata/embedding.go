package metadata

import (
	"context"
	"fmt"

	"github.com/kozaktomas/photo-search/internal/database"
	"github.com/kozaktomas/photo-search/internal/preprocess"
)

// ImageEmbeddingProvider computes whole-image CLIP embeddings. Images are
// preprocessed locally and embedded in a single batched call per chunk,
// which keeps the inference server's device busy instead of trickling
// one image at a time.
type ImageEmbeddingProvider struct {
	store     database.EmbeddingWriter
	embedder  ImageEmbedder
	model     string
	inputSize int
}

// NewImageEmbeddingProvider creates a new image embedding provider
func NewImageEmbeddingProvider(store database.EmbeddingWriter, embedder ImageEmbedder, model string, inputSize int) *ImageEmbeddingProvider {
	return &ImageEmbeddingProvider{
		store:     store,
		embedder:  embedder,
		model:     model,
		inputSize: inputSize,
	}
}

// Name identifies the provider in logs
func (p *ImageEmbeddingProvider) Name() string {
	return "image-embedding"
}

// Process embeds every image in the batch and persists the results
func (p *ImageEmbeddingProvider) Process(ctx context.Context, images []LoadedImage) error {
	if len(images) == 0 {
		return nil
	}

	tensors := make([][]float32, len(images))
	for i, img := range images {
		tensors[i] = preprocess.NormalizeCHW(img.Image, p.inputSize)
	}

	embeddings, err := p.embedder.EmbedImageBatch(ctx, tensors)
	if err != nil {
		return fmt.Errorf("embed image batch: %w", err)
	}

	for i, img := range images {
		err := p.store.Save(ctx, database.StoredImageEmbedding{
			BaseImageID: img.BaseImageID,
			Path:        img.Path,
			Embedding:   database.NormalizeL2(embeddings[i]),
			Model:       p.model,
			Dim:         len(embeddings[i]),
		})
		if err != nil {
			return fmt.Errorf("save embedding for %s: %w", img.Path, err)
		}
	}
	return nil
}

var _ Provider = (*ImageEmbeddingProvider)(nil)
