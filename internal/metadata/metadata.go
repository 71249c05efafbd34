// Package metadata holds the per-image providers run during an indexing
// pass. Each provider derives one kind of record from a decoded image and
// persists it through the metadata store. Face detection runs once per batch
// and records its detections on the images; the face embedding and
// age/gender providers consume those instead of re-running the model.
package metadata

import (
	"context"
	"image"

	"github.com/kozaktomas/photo-search/internal/detector"
)

// LoadedImage is a decoded image travelling through the indexing pipeline.
// Faces is filled in by the face detection provider for the providers that
// run after it.
type LoadedImage struct {
	BaseImageID int64
	Path        string
	Image       image.Image
	Format      string
	Faces       []DetectedFace
}

// DetectedFace pairs a persisted face row with its cropped pixels
type DetectedFace struct {
	ID   int64
	Crop image.Image
}

// Provider derives and persists one kind of metadata for a batch of images
type Provider interface {
	// Name identifies the provider in logs
	Name() string
	// Process derives metadata for every image in the batch
	Process(ctx context.Context, images []LoadedImage) error
}

// FaceFinder locates faces in a decoded image
type FaceFinder interface {
	Detect(ctx context.Context, img image.Image) ([]detector.Face, error)
}

// FaceEmbedder computes a recognition embedding for a face crop
type FaceEmbedder interface {
	EmbedFace(ctx context.Context, crop image.Image) ([]float32, error)
}

// TextEmbedder computes a CLIP embedding for a text query
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// ImageEmbedder computes CLIP embeddings for a batch of preprocessed tensors
type ImageEmbedder interface {
	EmbedImageBatch(ctx context.Context, tensors [][]float32) ([][]float32, error)
}
