package cmd

import (
	"errors"

	"github.com/kozaktomas/photo-search/internal/config"
	"github.com/kozaktomas/photo-search/internal/database/postgres"
	"github.com/kozaktomas/photo-search/internal/detector"
	"github.com/kozaktomas/photo-search/internal/indexer"
	"github.com/kozaktomas/photo-search/internal/metadata"
	"github.com/kozaktomas/photo-search/internal/vision"
)

// visionClient creates a client for the model inference sidecar.
func visionClient(cfg *config.Config) (*vision.Client, error) {
	if cfg.Models.URL == "" {
		return nil, errors.New("MODELS_URL environment variable is required")
	}
	return vision.NewClient(cfg.Models.URL), nil
}

// buildIndexer wires the detector and metadata providers into an indexer
// over the configured media directory. The same construction backs both the
// one-shot index command and the web scan endpoint.
func buildIndexer(
	cfg *config.Config,
	pool *postgres.Pool,
	embRepo *postgres.ImageEmbeddingRepository,
	client *vision.Client,
	progress indexer.ProgressFunc,
) (*indexer.Indexer, error) {
	if cfg.Media.Dir == "" {
		return nil, errors.New("MEDIA_DIR environment variable is required")
	}

	yolo := cfg.Models.Model("yolo")
	clip := cfg.Models.Model("clip")
	det := detector.New(client, yolo.InputSize, yolo.Anchors)

	imagesRepo := postgres.NewBaseImageRepository(pool)
	metaRepo := postgres.NewMetadataRepository(pool)

	// Detection must run before the face providers: they consume its output.
	providers := []metadata.Provider{
		metadata.NewHashProvider(metaRepo),
		metadata.NewBasicProvider(metaRepo),
		metadata.NewFaceDetectProvider(metaRepo, det),
		metadata.NewFaceProvider(metaRepo, client),
		metadata.NewAgeGenderProvider(metaRepo, client),
		metadata.NewImageEmbeddingProvider(embRepo, client, "clip", clip.InputSize),
	}

	return indexer.New(imagesRepo, embRepo, providers, indexer.Options{
		MediaDir:   cfg.Media.Dir,
		ChunkSize:  cfg.Pipeline.ChunkSize,
		QueueDepth: cfg.Pipeline.QueueDepth,
		Workers:    cfg.Pipeline.Workers,
		Progress:   progress,
	}), nil
}
