package metadata

import (
	"context"
	"fmt"
	"image"

	"github.com/kozaktomas/photo-search/internal/database"
	"github.com/kozaktomas/photo-search/internal/vision"
)

// AgeGenderEstimator estimates age and gender for a face crop
type AgeGenderEstimator interface {
	EstimateAgeGender(ctx context.Context, crop image.Image) (*vision.AgeGender, error)
}

// AgeGenderProvider estimates age and gender for every face the detection
// provider found
type AgeGenderProvider struct {
	store     database.MetadataStore
	estimator AgeGenderEstimator
}

// NewAgeGenderProvider creates a new age/gender provider
func NewAgeGenderProvider(store database.MetadataStore, estimator AgeGenderEstimator) *AgeGenderProvider {
	return &AgeGenderProvider{
		store:     store,
		estimator: estimator,
	}
}

// Name identifies the provider in logs
func (p *AgeGenderProvider) Name() string {
	return "age-gender"
}

// Process estimates age and gender for all faces in the batch
func (p *AgeGenderProvider) Process(ctx context.Context, images []LoadedImage) error {
	for _, img := range images {
		for i, face := range img.Faces {
			estimate, err := p.estimator.EstimateAgeGender(ctx, face.Crop)
			if err != nil {
				return fmt.Errorf("estimate age/gender for face %d in %s: %w", i, img.Path, err)
			}

			err = p.store.SaveFaceAgeGender(ctx, database.StoredFaceAgeGender{
				FaceID: face.ID,
				Age:    float64(estimate.Age),
				Gender: float64(estimate.Gender),
			})
			if err != nil {
				return fmt.Errorf("save age/gender for face %d in %s: %w", i, img.Path, err)
			}
		}
	}
	return nil
}

var _ Provider = (*AgeGenderProvider)(nil)
