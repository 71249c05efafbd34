package metadata

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kozaktomas/photo-search/internal/database"
)

// BasicProvider stores file attributes (size, timestamp) together with the
// decoded image properties (dimensions and format)
type BasicProvider struct {
	store database.MetadataStore
}

// NewBasicProvider creates a new basic metadata provider
func NewBasicProvider(store database.MetadataStore) *BasicProvider {
	return &BasicProvider{store: store}
}

// Name identifies the provider in logs
func (p *BasicProvider) Name() string {
	return "basic"
}

// Process persists file attributes, dimensions and format for every image
// in the batch. A failed stat skips that image only.
func (p *BasicProvider) Process(ctx context.Context, images []LoadedImage) error {
	for _, img := range images {
		var sizeBytes int64
		var fileCreated *time.Time
		info, err := os.Stat(img.Path)
		if err != nil {
			fmt.Printf("Basic metadata: skipping %s: %v\n", img.Path, err)
			continue
		}
		sizeBytes = info.Size()
		if mod := info.ModTime(); !mod.IsZero() {
			fileCreated = &mod
		}

		bounds := img.Image.Bounds()
		err = p.store.SaveBasic(ctx, database.StoredBasicMetadata{
			BaseImageID: img.BaseImageID,
			Width:       bounds.Dx(),
			Height:      bounds.Dy(),
			Format:      img.Format,
			SizeBytes:   sizeBytes,
			FileCreated: fileCreated,
		})
		if err != nil {
			return fmt.Errorf("save basic metadata for %s: %w", img.Path, err)
		}
	}
	return nil
}

var _ Provider = (*BasicProvider)(nil)
