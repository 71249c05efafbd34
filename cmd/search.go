package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kozaktomas/photo-search/internal/config"
	"github.com/kozaktomas/photo-search/internal/database/postgres"
	"github.com/kozaktomas/photo-search/internal/search"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed photos by text and reference images",
	Long: `Search the indexed library with a natural language query, reference
images, or both. Reference images must already be indexed; their stored
embeddings are averaged into the query.

Lower distance values indicate more similar photos.

Examples:
  # Text search
  photo-search search "dog on a beach"

  # Search by similarity to an indexed photo
  photo-search search --ref /media/2021/IMG_1234.jpg

  # Blend text and references
  photo-search search "birthday party" --ref /media/2023/IMG_0042.jpg

  # Output as JSON
  photo-search search "sunset" --json --limit 20`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().Int("limit", 50, "Maximum number of results")
	searchCmd.Flags().Bool("json", false, "Output as JSON")
	searchCmd.Flags().StringSlice("ref", nil, "Reference image path (can be specified multiple times)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	var text string
	if len(args) > 0 {
		text = args[0]
	}
	refs := mustGetStringSlice(cmd, "ref")
	limit := mustGetInt(cmd, "limit")
	asJSON := mustGetBool(cmd, "json")

	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.Initialize(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer pool.Close()

	client, err := visionClient(cfg)
	if err != nil {
		return err
	}
	svc := search.NewService(client, postgres.NewImageEmbeddingRepository(pool))

	results, err := svc.Search(context.Background(), search.Request{
		Text:     text,
		RefPaths: refs,
		Limit:    limit,
	})
	if errors.Is(err, search.ErrEmptyQuery) {
		return errors.New("provide a text query or at least one indexed --ref image")
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if asJSON {
		out, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding results: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	if len(results) == 0 {
		fmt.Println("No results found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DISTANCE\tPATH")
	for _, r := range results {
		fmt.Fprintf(w, "%.4f\t%s\n", r.Distance, r.Path)
	}
	return w.Flush()
}
