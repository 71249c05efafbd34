package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kozaktomas/photo-search/internal/config"
	"github.com/kozaktomas/photo-search/internal/database/postgres"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Scan the media library and index new photos",
	Long: `Scan the media directory, register new photos, and run metadata
extraction on them: content hash, dimensions, face detection, face
embeddings, age/gender estimation and CLIP image embeddings.

Already indexed photos are skipped, so the command can be stopped and
rerun at any time.

Examples:
  # Index the configured media directory
  photo-search index

  # Index a different directory
  photo-search index --dir /mnt/photos`,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)

	indexCmd.Flags().String("dir", "", "Media directory to index (overrides MEDIA_DIR)")
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if dir := mustGetString(cmd, "dir"); dir != "" {
		cfg.Media.Dir = dir
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	fmt.Println("Connecting to PostgreSQL...")
	pool, err := postgres.Initialize(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer pool.Close()

	embRepo := postgres.NewImageEmbeddingRepository(pool)
	client, err := visionClient(cfg)
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	var barOnce sync.Once
	progress := func(done, total int) {
		barOnce.Do(func() {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Indexing photos"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("photos"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionFullWidth(),
			)
		})
		_ = bar.Set(done)
	}

	ix, err := buildIndexer(cfg, pool, embRepo, client, progress)
	if err != nil {
		return err
	}

	fmt.Printf("Scanning %s...\n", cfg.Media.Dir)
	stats, err := ix.Run(context.Background())
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	fmt.Printf("Done: %d discovered, %d skipped, %d indexed, %d failed\n",
		stats.Discovered, stats.Skipped, stats.Indexed, stats.Failed)
	return nil
}
