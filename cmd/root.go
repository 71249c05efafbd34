package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "photo-search",
	Short: "A self-hosted semantic search engine for your photo library",
	Long: `Photo Search indexes a local photo library and makes it searchable
by natural language and by visual similarity. Images are scanned for
faces, hashes and CLIP embeddings, stored in PostgreSQL with pgvector,
and served through a small HTTP API.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
