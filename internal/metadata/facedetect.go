package metadata

import (
	"context"
	"fmt"

	"github.com/kozaktomas/photo-search/internal/database"
	"github.com/kozaktomas/photo-search/internal/detector"
)

// FaceDetectProvider runs face detection once per image and persists the
// face rows. It records the detections on the batch so the face embedding
// and age/gender providers reuse them instead of paying for another
// detection pass.
type FaceDetectProvider struct {
	store  database.MetadataStore
	finder FaceFinder
}

// NewFaceDetectProvider creates a new face detection provider
func NewFaceDetectProvider(store database.MetadataStore, finder FaceFinder) *FaceDetectProvider {
	return &FaceDetectProvider{
		store:  store,
		finder: finder,
	}
}

// Name identifies the provider in logs
func (p *FaceDetectProvider) Name() string {
	return "face-detection"
}

// Process detects and stores faces for every image in the batch
func (p *FaceDetectProvider) Process(ctx context.Context, images []LoadedImage) error {
	for i := range images {
		img := &images[i]

		detected, err := p.finder.Detect(ctx, img.Image)
		if err != nil {
			return fmt.Errorf("detect faces in %s: %w", img.Path, err)
		}
		if len(detected) == 0 {
			continue
		}

		ids, err := p.store.SaveFaces(ctx, storedFaces(*img, detected))
		if err != nil {
			return fmt.Errorf("save faces for %s: %w", img.Path, err)
		}

		img.Faces = make([]DetectedFace, len(detected))
		for j, face := range detected {
			img.Faces[j] = DetectedFace{ID: ids[j], Crop: face.Crop}
		}
	}
	return nil
}

// storedFaces converts detections into face records. Box coordinates are
// stored normalized to [0,1] of the image dimensions so they stay valid for
// any rendition of the image.
func storedFaces(img LoadedImage, detected []detector.Face) []database.StoredFace {
	bounds := img.Image.Bounds()
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())

	faces := make([]database.StoredFace, len(detected))
	for i, face := range detected {
		faces[i] = database.StoredFace{
			BaseImageID: img.BaseImageID,
			FaceIndex:   i,
			BBox: []float64{
				float64(face.Box.XMin) / w,
				float64(face.Box.YMin) / h,
				float64(face.Box.XMax) / w,
				float64(face.Box.YMax) / h,
			},
			Score: float64(face.Box.Score),
		}
	}
	return faces
}

var _ Provider = (*FaceDetectProvider)(nil)
