package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/photo-search/internal/config"
	"github.com/kozaktomas/photo-search/internal/database/postgres"
	"github.com/kozaktomas/photo-search/internal/search"
	"github.com/kozaktomas/photo-search/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Photo Search web server.
The web server exposes the search API, a scan endpoint for reindexing the
media library, and serves the media files themselves.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// initEmbeddingHNSW builds or loads the embedding HNSW index for fast similarity search.
func initEmbeddingHNSW(ctx context.Context, embRepo *postgres.ImageEmbeddingRepository, indexPath string) {
	if indexPath != "" {
		fmt.Printf("Loading embedding HNSW index from %s...\n", indexPath)
	} else {
		fmt.Printf("Building in-memory HNSW index for image embeddings...\n")
	}
	if err := embRepo.EnableHNSW(ctx, indexPath); err != nil {
		fmt.Printf("Warning: Failed to build embedding HNSW index: %v\n", err)
		fmt.Printf("Search will use PostgreSQL queries (slower)\n")
	} else if indexPath != "" {
		fmt.Printf("Embedding HNSW index ready with %d embeddings (persisted to %s)\n", embRepo.HNSWCount(), indexPath)
	} else {
		fmt.Printf("Embedding HNSW index built with %d embeddings (in-memory only)\n", embRepo.HNSWCount())
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if cmd.Flags().Changed("port") {
		cfg.Web.Port = mustGetInt(cmd, "port")
	}
	if cmd.Flags().Changed("host") {
		cfg.Web.Host = mustGetString(cmd, "host")
	}

	fmt.Printf("Connecting to PostgreSQL database...\n")
	pool, err := postgres.Initialize(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer pool.Close()

	embRepo := postgres.NewImageEmbeddingRepository(pool)
	initEmbeddingHNSW(context.Background(), embRepo, cfg.Database.HNSWEmbeddingIndexPath)

	client, err := visionClient(cfg)
	if err != nil {
		return err
	}
	ix, err := buildIndexer(cfg, pool, embRepo, client, nil)
	if err != nil {
		return err
	}
	svc := search.NewService(client, embRepo)

	server := web.NewServer(cfg, svc, ix)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Photo Search API on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
