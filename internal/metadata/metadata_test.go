package metadata

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/photo-search/internal/database"
	"github.com/kozaktomas/photo-search/internal/detector"
	"github.com/kozaktomas/photo-search/internal/preprocess"
	"github.com/kozaktomas/photo-search/internal/vision"
)

// fakeStore records every metadata write
type fakeStore struct {
	hashes         []database.StoredImageHash
	basics         []database.StoredBasicMetadata
	faces          []database.StoredFace
	faceEmbeddings []database.StoredFaceEmbedding
	ageGenders     []database.StoredFaceAgeGender
	nextFaceID     int64
}

func (s *fakeStore) SaveHash(_ context.Context, hash database.StoredImageHash) error {
	s.hashes = append(s.hashes, hash)
	return nil
}

func (s *fakeStore) SaveBasic(_ context.Context, meta database.StoredBasicMetadata) error {
	s.basics = append(s.basics, meta)
	return nil
}

func (s *fakeStore) SaveFaces(_ context.Context, faces []database.StoredFace) ([]int64, error) {
	ids := make([]int64, len(faces))
	for i := range faces {
		s.nextFaceID++
		ids[i] = s.nextFaceID
	}
	s.faces = append(s.faces, faces...)
	return ids, nil
}

func (s *fakeStore) SaveFaceEmbedding(_ context.Context, emb database.StoredFaceEmbedding) error {
	s.faceEmbeddings = append(s.faceEmbeddings, emb)
	return nil
}

func (s *fakeStore) SaveFaceAgeGender(_ context.Context, record database.StoredFaceAgeGender) error {
	s.ageGenders = append(s.ageGenders, record)
	return nil
}

type fakeFinder struct {
	faces []detector.Face
	err   error
	calls int
}

func (f *fakeFinder) Detect(_ context.Context, _ image.Image) ([]detector.Face, error) {
	f.calls++
	return f.faces, f.err
}

type fakeFaceEmbedder struct {
	embedding []float32
}

func (f *fakeFaceEmbedder) EmbedFace(_ context.Context, _ image.Image) ([]float32, error) {
	return f.embedding, nil
}

type fakeEstimator struct {
	result vision.AgeGender
}

func (f *fakeEstimator) EstimateAgeGender(_ context.Context, _ image.Image) (*vision.AgeGender, error) {
	return &f.result, nil
}

func solidImage(width, height int, c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestHashProvider(t *testing.T) {
	store := &fakeStore{}
	provider := NewHashProvider(store)

	img := solidImage(4, 4, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	err := provider.Process(context.Background(), []LoadedImage{
		{BaseImageID: 7, Path: "/photos/a.jpg", Image: img, Format: "jpeg"},
	})
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if len(store.hashes) != 1 {
		t.Fatalf("expected 1 hash, got %d", len(store.hashes))
	}

	sum := sha256.Sum256(preprocess.RGBBytes(img))
	want := hex.EncodeToString(sum[:])
	got := store.hashes[0]
	if got.Hash != want {
		t.Errorf("hash = %s, want %s", got.Hash, want)
	}
	if got.HashType != database.HashTypeSHA256 {
		t.Errorf("hash type = %s, want %s", got.HashType, database.HashTypeSHA256)
	}
	if got.BaseImageID != 7 {
		t.Errorf("base image ID = %d, want 7", got.BaseImageID)
	}
}

func TestHashProviderIgnoresEncoding(t *testing.T) {
	// The same pixels must hash identically regardless of the source format.
	store := &fakeStore{}
	provider := NewHashProvider(store)

	img := solidImage(8, 8, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	images := []LoadedImage{
		{BaseImageID: 1, Path: "/photos/a.jpg", Image: img, Format: "jpeg"},
		{BaseImageID: 2, Path: "/photos/a.png", Image: img, Format: "png"},
	}
	if err := provider.Process(context.Background(), images); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if store.hashes[0].Hash != store.hashes[1].Hash {
		t.Error("identical pixels produced different hashes")
	}
}

func TestBasicProvider(t *testing.T) {
	store := &fakeStore{}
	provider := NewBasicProvider(store)

	path := filepath.Join(t.TempDir(), "b.png")
	if err := os.WriteFile(path, []byte("not really a png"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := provider.Process(context.Background(), []LoadedImage{
		{BaseImageID: 3, Path: path, Image: solidImage(640, 480, color.RGBA{A: 255}), Format: "png"},
	})
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if len(store.basics) != 1 {
		t.Fatalf("expected 1 record, got %d", len(store.basics))
	}
	got := store.basics[0]
	if got.Width != 640 || got.Height != 480 || got.Format != "png" {
		t.Errorf("unexpected record %+v", got)
	}
	if got.SizeBytes != int64(len("not really a png")) {
		t.Errorf("size = %d", got.SizeBytes)
	}
	if got.FileCreated == nil {
		t.Error("expected a file timestamp")
	}
}

func TestBasicProviderSkipsMissingFile(t *testing.T) {
	store := &fakeStore{}
	provider := NewBasicProvider(store)

	err := provider.Process(context.Background(), []LoadedImage{
		{BaseImageID: 3, Path: "/does/not/exist.png", Image: solidImage(10, 10, color.RGBA{A: 255}), Format: "png"},
	})
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if len(store.basics) != 0 {
		t.Errorf("expected no records for a missing file, got %d", len(store.basics))
	}
}

func TestFaceDetectProvider(t *testing.T) {
	store := &fakeStore{}
	crop := solidImage(32, 32, color.RGBA{A: 255})
	finder := &fakeFinder{faces: []detector.Face{
		{Box: detector.Box{XMin: 10, YMin: 20, XMax: 50, YMax: 70, Score: 0.9}, Crop: crop},
		{Box: detector.Box{XMin: 100, YMin: 20, XMax: 150, YMax: 80, Score: 0.8}, Crop: crop},
	}}

	provider := NewFaceDetectProvider(store, finder)
	images := []LoadedImage{
		{BaseImageID: 5, Path: "/photos/group.jpg", Image: solidImage(200, 100, color.RGBA{A: 255})},
	}
	if err := provider.Process(context.Background(), images); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if len(store.faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(store.faces))
	}
	if store.faces[0].FaceIndex != 0 || store.faces[1].FaceIndex != 1 {
		t.Error("face indexes not assigned in detection order")
	}
	// Boxes are stored normalized to the 200x100 source image.
	if store.faces[0].BBox[0] != 0.05 || store.faces[0].BBox[3] != 0.7 {
		t.Errorf("unexpected bbox %v", store.faces[0].BBox)
	}

	if len(images[0].Faces) != 2 {
		t.Fatalf("expected 2 recorded detections, got %d", len(images[0].Faces))
	}
	if images[0].Faces[0].ID != 1 || images[0].Faces[1].ID != 2 {
		t.Errorf("recorded face IDs %+v do not match the saved rows", images[0].Faces)
	}
}

func TestFaceDetectProviderNoFaces(t *testing.T) {
	store := &fakeStore{}
	provider := NewFaceDetectProvider(store, &fakeFinder{})

	images := []LoadedImage{
		{BaseImageID: 1, Path: "/photos/landscape.jpg", Image: solidImage(10, 10, color.RGBA{A: 255})},
	}
	if err := provider.Process(context.Background(), images); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if len(store.faces) != 0 {
		t.Errorf("expected no faces saved, got %d", len(store.faces))
	}
	if len(images[0].Faces) != 0 {
		t.Errorf("expected no recorded detections, got %d", len(images[0].Faces))
	}
}

func TestFaceDetectProviderError(t *testing.T) {
	provider := NewFaceDetectProvider(&fakeStore{}, &fakeFinder{err: errors.New("boom")})

	err := provider.Process(context.Background(), []LoadedImage{
		{BaseImageID: 1, Path: "/photos/a.jpg", Image: solidImage(10, 10, color.RGBA{A: 255})},
	})
	if err == nil {
		t.Fatal("expected error from failing detector")
	}
}

func TestFaceProvider(t *testing.T) {
	store := &fakeStore{}
	crop := solidImage(32, 32, color.RGBA{A: 255})
	embedder := &fakeFaceEmbedder{embedding: []float32{3, 4}}

	provider := NewFaceProvider(store, embedder)
	err := provider.Process(context.Background(), []LoadedImage{
		{BaseImageID: 5, Path: "/photos/group.jpg", Faces: []DetectedFace{
			{ID: 11, Crop: crop},
			{ID: 12, Crop: crop},
		}},
	})
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if len(store.faceEmbeddings) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(store.faceEmbeddings))
	}
	if store.faceEmbeddings[0].FaceID != 11 || store.faceEmbeddings[1].FaceID != 12 {
		t.Errorf("embeddings not tied to the detected faces: %+v", store.faceEmbeddings)
	}
	// [3 4] normalizes to [0.6 0.8]
	emb := store.faceEmbeddings[0].Embedding
	if math.Abs(float64(emb[0])-0.6) > 1e-6 || math.Abs(float64(emb[1])-0.8) > 1e-6 {
		t.Errorf("embedding not normalized: %v", emb)
	}
}

func TestAgeGenderProvider(t *testing.T) {
	store := &fakeStore{}
	crop := solidImage(16, 16, color.RGBA{A: 255})
	estimator := &fakeEstimator{result: vision.AgeGender{Age: 42, Gender: 0.25}}

	provider := NewAgeGenderProvider(store, estimator)
	err := provider.Process(context.Background(), []LoadedImage{
		{BaseImageID: 9, Path: "/photos/portrait.jpg", Faces: []DetectedFace{{ID: 4, Crop: crop}}},
	})
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if len(store.ageGenders) != 1 {
		t.Fatalf("expected 1 estimate, got %d", len(store.ageGenders))
	}
	got := store.ageGenders[0]
	if got.FaceID != 4 || got.Age != 42 || got.Gender != 0.25 {
		t.Errorf("unexpected estimate %+v", got)
	}
}

func TestFaceProvidersShareOneDetectionPass(t *testing.T) {
	store := &fakeStore{}
	crop := solidImage(16, 16, color.RGBA{A: 255})
	finder := &fakeFinder{faces: []detector.Face{
		{Box: detector.Box{XMin: 1, YMin: 2, XMax: 5, YMax: 6, Score: 0.9}, Crop: crop},
	}}

	batch := []LoadedImage{
		{BaseImageID: 5, Path: "/photos/group.jpg", Image: solidImage(50, 50, color.RGBA{A: 255})},
	}
	providers := []Provider{
		NewFaceDetectProvider(store, finder),
		NewFaceProvider(store, &fakeFaceEmbedder{embedding: []float32{1, 0}}),
		NewAgeGenderProvider(store, &fakeEstimator{result: vision.AgeGender{Age: 30, Gender: 0.5}}),
	}
	for _, p := range providers {
		if err := p.Process(context.Background(), batch); err != nil {
			t.Fatalf("%s: %v", p.Name(), err)
		}
	}

	if finder.calls != 1 {
		t.Errorf("detector ran %d times, want 1", finder.calls)
	}
	if len(store.faces) != 1 {
		t.Errorf("stored %d face rows, want 1", len(store.faces))
	}
	if len(store.faceEmbeddings) != 1 || store.faceEmbeddings[0].FaceID != 1 {
		t.Errorf("unexpected embeddings %+v", store.faceEmbeddings)
	}
	if len(store.ageGenders) != 1 || store.ageGenders[0].FaceID != 1 {
		t.Errorf("unexpected estimates %+v", store.ageGenders)
	}
}

// fakeEmbeddingWriter implements database.EmbeddingWriter for provider tests
type fakeEmbeddingWriter struct {
	saved []database.StoredImageEmbedding
}

func (w *fakeEmbeddingWriter) Get(context.Context, int64) (*database.StoredImageEmbedding, error) {
	return nil, nil
}

func (w *fakeEmbeddingWriter) GetByPaths(context.Context, []string) ([]database.StoredImageEmbedding, error) {
	return nil, nil
}

func (w *fakeEmbeddingWriter) Count(context.Context) (int, error) {
	return len(w.saved), nil
}

func (w *fakeEmbeddingWriter) FindSimilar(context.Context, []float32, int) ([]database.StoredImageEmbedding, []float64, error) {
	return nil, nil, nil
}

func (w *fakeEmbeddingWriter) Save(_ context.Context, emb database.StoredImageEmbedding) error {
	w.saved = append(w.saved, emb)
	return nil
}

func (w *fakeEmbeddingWriter) RebuildIndex(context.Context) error {
	return nil
}

type fakeImageEmbedder struct {
	gotBatch [][]float32
}

func (f *fakeImageEmbedder) EmbedImageBatch(_ context.Context, tensors [][]float32) ([][]float32, error) {
	f.gotBatch = tensors
	out := make([][]float32, len(tensors))
	for i := range out {
		out[i] = []float32{float32(i + 1), 0}
	}
	return out, nil
}

func TestImageEmbeddingProvider(t *testing.T) {
	writer := &fakeEmbeddingWriter{}
	embedder := &fakeImageEmbedder{}
	provider := NewImageEmbeddingProvider(writer, embedder, "clip", 224)

	images := []LoadedImage{
		{BaseImageID: 1, Path: "/photos/a.jpg", Image: solidImage(100, 60, color.RGBA{R: 255, A: 255})},
		{BaseImageID: 2, Path: "/photos/b.jpg", Image: solidImage(30, 200, color.RGBA{G: 255, A: 255})},
	}
	if err := provider.Process(context.Background(), images); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	// One batched call with one 3x224x224 tensor per image.
	if len(embedder.gotBatch) != 2 {
		t.Fatalf("expected batch of 2 tensors, got %d", len(embedder.gotBatch))
	}
	if len(embedder.gotBatch[0]) != 3*224*224 {
		t.Errorf("tensor length %d, want %d", len(embedder.gotBatch[0]), 3*224*224)
	}

	if len(writer.saved) != 2 {
		t.Fatalf("expected 2 saved embeddings, got %d", len(writer.saved))
	}
	if writer.saved[0].BaseImageID != 1 || writer.saved[0].Path != "/photos/a.jpg" {
		t.Errorf("unexpected first record %+v", writer.saved[0])
	}
	if writer.saved[0].Model != "clip" {
		t.Errorf("model = %s, want clip", writer.saved[0].Model)
	}

	// Embeddings must come back normalized.
	for _, rec := range writer.saved {
		var norm float64
		for _, x := range rec.Embedding {
			norm += float64(x) * float64(x)
		}
		if math.Abs(norm-1) > 1e-6 {
			t.Errorf("embedding for %s has squared norm %v", rec.Path, norm)
		}
	}
}

func TestImageEmbeddingProviderEmptyBatch(t *testing.T) {
	provider := NewImageEmbeddingProvider(&fakeEmbeddingWriter{}, &fakeImageEmbedder{}, "clip", 224)
	if err := provider.Process(context.Background(), nil); err != nil {
		t.Fatalf("Process(nil) error: %v", err)
	}
}
