//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/kozaktomas/photo-search/internal/config"
	"github.com/kozaktomas/photo-search/internal/database"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

func TestBaseImageRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewBaseImageRepository(pool)

	t.Run("InsertMany", func(t *testing.T) {
		images, err := repo.InsertMany(ctx, []string{"/photos/a.jpg", "/photos/b.jpg"})
		if err != nil {
			t.Fatalf("Failed to insert base images: %v", err)
		}
		if len(images) != 2 {
			t.Fatalf("Expected 2 images, got %d", len(images))
		}
		if images[0].Path != "/photos/a.jpg" {
			t.Errorf("Expected path '/photos/a.jpg', got '%s'", images[0].Path)
		}
		if images[0].ID == 0 {
			t.Error("Expected non-zero ID")
		}
	})

	t.Run("InsertManyIdempotent", func(t *testing.T) {
		first, err := repo.InsertMany(ctx, []string{"/photos/dup.jpg"})
		if err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
		second, err := repo.InsertMany(ctx, []string{"/photos/dup.jpg"})
		if err != nil {
			t.Fatalf("Failed to re-insert: %v", err)
		}
		if first[0].ID != second[0].ID {
			t.Errorf("Re-insert changed ID: %d vs %d", first[0].ID, second[0].ID)
		}
	})

	t.Run("ExistingPaths", func(t *testing.T) {
		existing, err := repo.ExistingPaths(ctx, []string{"/photos/a.jpg", "/photos/missing.jpg"})
		if err != nil {
			t.Fatalf("Failed to query existing paths: %v", err)
		}
		if !existing["/photos/a.jpg"] {
			t.Error("Expected '/photos/a.jpg' to exist")
		}
		if existing["/photos/missing.jpg"] {
			t.Error("Did not expect '/photos/missing.jpg' to exist")
		}
	})

	t.Run("GetByPath", func(t *testing.T) {
		img, err := repo.GetByPath(ctx, "/photos/a.jpg")
		if err != nil {
			t.Fatalf("Failed to get by path: %v", err)
		}
		if img == nil {
			t.Fatal("Expected image, got nil")
		}

		missing, err := repo.GetByPath(ctx, "/photos/missing.jpg")
		if err != nil {
			t.Fatalf("Failed to get missing path: %v", err)
		}
		if missing != nil {
			t.Error("Expected nil for missing path")
		}
	})
}

func TestMetadataRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	images := NewBaseImageRepository(pool)
	repo := NewMetadataRepository(pool)

	base, err := images.InsertMany(ctx, []string{"/photos/group.jpg"})
	if err != nil {
		t.Fatalf("Failed to insert base image: %v", err)
	}
	imageID := base[0].ID

	t.Run("SaveHash", func(t *testing.T) {
		err := repo.SaveHash(ctx, database.StoredImageHash{
			BaseImageID: imageID,
			Hash:        "deadbeef",
			HashType:    database.HashTypeSHA256,
		})
		if err != nil {
			t.Fatalf("Failed to save hash: %v", err)
		}

		// Upsert should not error on repeat
		if err := repo.SaveHash(ctx, database.StoredImageHash{
			BaseImageID: imageID,
			Hash:        "cafebabe",
			HashType:    database.HashTypeSHA256,
		}); err != nil {
			t.Fatalf("Failed to upsert hash: %v", err)
		}
	})

	t.Run("SaveBasic", func(t *testing.T) {
		err := repo.SaveBasic(ctx, database.StoredBasicMetadata{
			BaseImageID: imageID,
			Width:       1920,
			Height:      1080,
			Format:      "jpeg",
		})
		if err != nil {
			t.Fatalf("Failed to save basic metadata: %v", err)
		}
	})

	t.Run("SaveFacesStableIDs", func(t *testing.T) {
		faces := []database.StoredFace{
			{BaseImageID: imageID, FaceIndex: 0, BBox: []float64{10, 20, 100, 150}, Score: 0.95},
			{BaseImageID: imageID, FaceIndex: 1, BBox: []float64{200, 50, 300, 200}, Score: 0.88},
		}

		ids, err := repo.SaveFaces(ctx, faces)
		if err != nil {
			t.Fatalf("Failed to save faces: %v", err)
		}
		if len(ids) != 2 {
			t.Fatalf("Expected 2 face IDs, got %d", len(ids))
		}

		again, err := repo.SaveFaces(ctx, faces)
		if err != nil {
			t.Fatalf("Failed to re-save faces: %v", err)
		}
		if again[0] != ids[0] || again[1] != ids[1] {
			t.Errorf("Re-save changed face IDs: %v vs %v", again, ids)
		}

		got, err := repo.GetFaces(ctx, imageID)
		if err != nil {
			t.Fatalf("Failed to get faces: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("Expected 2 faces, got %d", len(got))
		}
		if got[0].FaceIndex != 0 || got[1].FaceIndex != 1 {
			t.Error("Faces not ordered by face index")
		}
	})

	t.Run("SaveFaceDerivedRecords", func(t *testing.T) {
		ids, err := repo.SaveFaces(ctx, []database.StoredFace{
			{BaseImageID: imageID, FaceIndex: 0, BBox: []float64{10, 20, 100, 150}, Score: 0.95},
		})
		if err != nil {
			t.Fatalf("Failed to save face: %v", err)
		}

		embedding := make([]float32, database.FaceEmbeddingDim)
		for i := range embedding {
			embedding[i] = float32(i) / float32(len(embedding))
		}
		if err := repo.SaveFaceEmbedding(ctx, database.StoredFaceEmbedding{
			FaceID:    ids[0],
			Embedding: embedding,
			Dim:       database.FaceEmbeddingDim,
		}); err != nil {
			t.Fatalf("Failed to save face embedding: %v", err)
		}

		if err := repo.SaveFaceAgeGender(ctx, database.StoredFaceAgeGender{
			FaceID: ids[0],
			Age:    31.5,
			Gender: 0.12,
		}); err != nil {
			t.Fatalf("Failed to save face age/gender: %v", err)
		}
	})
}

func TestImageEmbeddingRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	images := NewBaseImageRepository(pool)
	repo := NewImageEmbeddingRepository(pool)

	paths := []string{"/photos/e0.jpg", "/photos/e1.jpg", "/photos/e2.jpg"}
	base, err := images.InsertMany(ctx, paths)
	if err != nil {
		t.Fatalf("Failed to insert base images: %v", err)
	}

	for i, img := range base {
		embedding := make([]float32, database.ImageEmbeddingDim)
		for j := range embedding {
			embedding[j] = float32(j+i) / float32(len(embedding))
		}
		if err := repo.Save(ctx, database.StoredImageEmbedding{
			BaseImageID: img.ID,
			Embedding:   embedding,
			Model:       "clip",
			Dim:         database.ImageEmbeddingDim,
		}); err != nil {
			t.Fatalf("Failed to save embedding: %v", err)
		}
	}

	t.Run("Get", func(t *testing.T) {
		got, err := repo.Get(ctx, base[0].ID)
		if err != nil {
			t.Fatalf("Failed to get embedding: %v", err)
		}
		if got == nil {
			t.Fatal("Expected embedding, got nil")
		}
		if got.Path != paths[0] {
			t.Errorf("Expected path '%s', got '%s'", paths[0], got.Path)
		}
		if len(got.Embedding) != database.ImageEmbeddingDim {
			t.Errorf("Expected %d dimensions, got %d", database.ImageEmbeddingDim, len(got.Embedding))
		}
	})

	t.Run("GetByPaths", func(t *testing.T) {
		got, err := repo.GetByPaths(ctx, []string{paths[0], "/photos/missing.jpg"})
		if err != nil {
			t.Fatalf("Failed to get by paths: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("Expected 1 embedding, got %d", len(got))
		}
	})

	t.Run("FindSimilarPostgres", func(t *testing.T) {
		query := make([]float32, database.ImageEmbeddingDim)
		for i := range query {
			query[i] = float32(i) / float32(len(query))
		}

		results, distances, err := repo.FindSimilar(ctx, query, 2)
		if err != nil {
			t.Fatalf("Failed to find similar: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("Expected 2 results, got %d", len(results))
		}
		if len(results) != len(distances) {
			t.Errorf("Results and distances length mismatch: %d vs %d", len(results), len(distances))
		}
		for i := 1; i < len(distances); i++ {
			if distances[i] < distances[i-1] {
				t.Error("Distances not sorted")
			}
		}
	})

	t.Run("FindSimilarHNSW", func(t *testing.T) {
		if err := repo.EnableHNSW(ctx, ""); err != nil {
			t.Fatalf("Failed to enable HNSW: %v", err)
		}
		if !repo.IsHNSWEnabled() {
			t.Fatal("Expected HNSW to be enabled")
		}

		query := make([]float32, database.ImageEmbeddingDim)
		for i := range query {
			query[i] = float32(i) / float32(len(query))
		}

		results, _, err := repo.FindSimilar(ctx, query, 2)
		if err != nil {
			t.Fatalf("Failed to find similar via HNSW: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("Expected 2 results, got %d", len(results))
		}
	})

	t.Run("RebuildIndex", func(t *testing.T) {
		if err := repo.RebuildIndex(ctx); err != nil {
			t.Fatalf("Failed to rebuild index: %v", err)
		}
	})
}
