package metadata

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/kozaktomas/photo-search/internal/database"
	"github.com/kozaktomas/photo-search/internal/preprocess"
)

// HashProvider stores a SHA-256 hash of the decoded pixel buffer. Hashing
// pixels instead of file bytes makes the hash survive re-encoding and
// metadata edits.
type HashProvider struct {
	store database.MetadataStore
}

// NewHashProvider creates a new hash provider
func NewHashProvider(store database.MetadataStore) *HashProvider {
	return &HashProvider{store: store}
}

// Name identifies the provider in logs
func (p *HashProvider) Name() string {
	return "image-hash"
}

// Process hashes every image in the batch and persists the results
func (p *HashProvider) Process(ctx context.Context, images []LoadedImage) error {
	for _, img := range images {
		sum := sha256.Sum256(preprocess.RGBBytes(img.Image))

		err := p.store.SaveHash(ctx, database.StoredImageHash{
			BaseImageID: img.BaseImageID,
			Hash:        hex.EncodeToString(sum[:]),
			HashType:    database.HashTypeSHA256,
		})
		if err != nil {
			return fmt.Errorf("save hash for %s: %w", img.Path, err)
		}
	}
	return nil
}

var _ Provider = (*HashProvider)(nil)
