package database

import (
	"time"
)

// BaseImage is the root record for an indexed file. Every metadata record
// hangs off its ID.
type BaseImage struct {
	ID        int64
	Path      string
	CreatedAt time.Time
}

// StoredImageHash represents a content hash stored for a base image
type StoredImageHash struct {
	BaseImageID int64
	Hash        string
	HashType    string
	CreatedAt   time.Time
}

// StoredBasicMetadata represents file and decoded image properties for a
// base image. FileCreated is nil when the filesystem reports no timestamp.
type StoredBasicMetadata struct {
	BaseImageID int64
	Width       int
	Height      int
	Format      string
	SizeBytes   int64
	FileCreated *time.Time
	CreatedAt   time.Time
}

// StoredFace represents a detected face within a base image
type StoredFace struct {
	ID          int64
	BaseImageID int64
	FaceIndex   int
	BBox        []float64 // [x1, y1, x2, y2] normalized to [0,1] of image dimensions
	Score       float64
	CreatedAt   time.Time
}

// StoredFaceEmbedding represents a recognition embedding for a detected face
type StoredFaceEmbedding struct {
	FaceID    int64
	Embedding []float32
	Dim       int
	CreatedAt time.Time
}

// StoredFaceAgeGender represents an age/gender estimate for a detected
// face. Both values are raw model outputs, stored without interpretation.
type StoredFaceAgeGender struct {
	FaceID    int64
	Age       float64
	Gender    float64
	CreatedAt time.Time
}

// StoredImageEmbedding represents a whole-image embedding for a base image.
// Path is denormalized from base_images so search results carry it without
// a second query.
type StoredImageEmbedding struct {
	BaseImageID int64
	Path        string
	Embedding   []float32
	Model       string
	Dim         int
	CreatedAt   time.Time
}
