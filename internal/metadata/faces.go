package metadata

import (
	"context"
	"fmt"

	"github.com/kozaktomas/photo-search/internal/database"
)

// FaceProvider stores a recognition embedding for every face the detection
// provider found. The embedding is L2-normalized before storage so cosine
// distance degenerates to a dot product at query time.
type FaceProvider struct {
	store    database.MetadataStore
	embedder FaceEmbedder
}

// NewFaceProvider creates a new face recognition provider
func NewFaceProvider(store database.MetadataStore, embedder FaceEmbedder) *FaceProvider {
	return &FaceProvider{
		store:    store,
		embedder: embedder,
	}
}

// Name identifies the provider in logs
func (p *FaceProvider) Name() string {
	return "face-recognition"
}

// Process embeds every detected face in the batch
func (p *FaceProvider) Process(ctx context.Context, images []LoadedImage) error {
	for _, img := range images {
		for i, face := range img.Faces {
			embedding, err := p.embedder.EmbedFace(ctx, face.Crop)
			if err != nil {
				return fmt.Errorf("embed face %d in %s: %w", i, img.Path, err)
			}

			err = p.store.SaveFaceEmbedding(ctx, database.StoredFaceEmbedding{
				FaceID:    face.ID,
				Embedding: database.NormalizeL2(embedding),
				Dim:       len(embedding),
			})
			if err != nil {
				return fmt.Errorf("save face embedding %d for %s: %w", i, img.Path, err)
			}
		}
	}
	return nil
}

var _ Provider = (*FaceProvider)(nil)
