// Package indexer drives the media indexing pass: discover files, skip the
// ones already indexed, decode in parallel, then run every metadata provider
// over bounded channels so a slow stage backpressures the ones before it.
package indexer

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/kozaktomas/photo-search/internal/database"
	"github.com/kozaktomas/photo-search/internal/metadata"
	"github.com/kozaktomas/photo-search/internal/preprocess"
)

// Stats summarizes one indexing pass
type Stats struct {
	Discovered int // image files found under the media directory
	Skipped    int // already indexed, not reprocessed
	Indexed    int // newly processed images
	Failed     int // images that could not be decoded or processed
}

// ProgressFunc is called after each processed image
type ProgressFunc func(done, total int)

// Indexer runs the indexing pipeline
type Indexer struct {
	images     database.BaseImageStore
	embeddings database.EmbeddingWriter
	providers  []metadata.Provider

	mediaDir   string
	chunkSize  int
	queueDepth int
	workers    int
	progress   ProgressFunc
}

// Options configures an Indexer
type Options struct {
	MediaDir   string
	ChunkSize  int
	QueueDepth int
	Workers    int
	Progress   ProgressFunc
}

// New creates a new Indexer
func New(images database.BaseImageStore, embeddings database.EmbeddingWriter, providers []metadata.Provider, opts Options) *Indexer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 500
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 3
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Indexer{
		images:     images,
		embeddings: embeddings,
		providers:  providers,
		mediaDir:   opts.MediaDir,
		chunkSize:  opts.ChunkSize,
		queueDepth: opts.QueueDepth,
		workers:    opts.Workers,
		progress:   opts.Progress,
	}
}

// Run executes one full indexing pass and rebuilds the similarity index at
// the end so new embeddings become searchable.
func (ix *Indexer) Run(ctx context.Context) (*Stats, error) {
	paths, err := Walk(ix.mediaDir)
	if err != nil {
		return nil, fmt.Errorf("walk media directory: %w", err)
	}
	Shuffle(paths)

	stats := &Stats{Discovered: len(paths)}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := make(chan []string, ix.queueDepth)
	registered := make(chan []database.BaseImage, ix.queueDepth)
	decoded := make(chan []metadata.LoadedImage, ix.queueDepth)
	errCh := make(chan error, 2)

	// Stage 1: split discovered paths into chunks.
	go func() {
		defer close(chunks)
		for start := 0; start < len(paths); start += ix.chunkSize {
			end := min(start+ix.chunkSize, len(paths))
			select {
			case chunks <- paths[start:end]:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Stage 2: drop already-indexed paths, register the rest.
	var dedupMu sync.Mutex // guards stats.Skipped
	go func() {
		defer close(registered)
		for chunk := range chunks {
			existing, err := ix.images.ExistingPaths(ctx, chunk)
			if err != nil {
				errCh <- fmt.Errorf("query existing paths: %w", err)
				cancel()
				return
			}

			fresh := make([]string, 0, len(chunk))
			for _, path := range chunk {
				if existing[path] {
					dedupMu.Lock()
					stats.Skipped++
					dedupMu.Unlock()
					continue
				}
				fresh = append(fresh, path)
			}
			if len(fresh) == 0 {
				continue
			}

			images, err := ix.images.InsertMany(ctx, fresh)
			if err != nil {
				errCh <- fmt.Errorf("register base images: %w", err)
				cancel()
				return
			}

			select {
			case registered <- images:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Stage 3: decode chunks with a parallel worker pool.
	var decodeMu sync.Mutex // guards stats.Failed
	go func() {
		defer close(decoded)
		for batch := range registered {
			loaded := ix.decodeBatch(batch, &decodeMu, stats)
			if len(loaded) == 0 {
				continue
			}
			select {
			case decoded <- loaded:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Stage 4: run providers. Single consumer keeps the inference device
	// serialized while earlier stages stay busy. A provider failure here
	// means the model server or the database went away, not a bad image,
	// so it aborts the whole run instead of burning through the backlog.
	processed := 0
	var runErr error
	for batch := range decoded {
		if runErr != nil {
			continue // drain so the producer goroutines can exit
		}
		for _, provider := range ix.providers {
			if err := provider.Process(ctx, batch); err != nil {
				runErr = fmt.Errorf("provider %s: %w", provider.Name(), err)
				decodeMu.Lock()
				stats.Failed += len(batch)
				decodeMu.Unlock()
				cancel()
				batch = nil
				break
			}
		}
		stats.Indexed += len(batch)
		processed += len(batch)
		if ix.progress != nil {
			dedupMu.Lock()
			done := processed + stats.Skipped
			dedupMu.Unlock()
			ix.progress(done, stats.Discovered)
		}
	}

	if runErr != nil {
		return stats, runErr
	}
	select {
	case err := <-errCh:
		return stats, err
	default:
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	if err := ix.embeddings.RebuildIndex(ctx); err != nil {
		return stats, fmt.Errorf("rebuild similarity index: %w", err)
	}
	return stats, nil
}

// decodeBatch loads a batch of images from disk in parallel. Undecodable
// files are logged and dropped.
func (ix *Indexer) decodeBatch(batch []database.BaseImage, mu *sync.Mutex, stats *Stats) []metadata.LoadedImage {
	loaded := make([]metadata.LoadedImage, len(batch))
	ok := make([]bool, len(batch))

	var wg sync.WaitGroup
	sem := make(chan struct{}, ix.workers)
	for i, img := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, img database.BaseImage) {
			defer wg.Done()
			defer func() { <-sem }()

			decoded, format, err := preprocess.LoadImage(img.Path)
			if err != nil {
				fmt.Printf("Indexer: skipping %s: %v\n", img.Path, err)
				mu.Lock()
				stats.Failed++
				mu.Unlock()
				return
			}
			loaded[i] = metadata.LoadedImage{
				BaseImageID: img.ID,
				Path:        img.Path,
				Image:       decoded,
				Format:      format,
			}
			ok[i] = true
		}(i, img)
	}
	wg.Wait()

	out := loaded[:0]
	for i := range loaded {
		if ok[i] {
			out = append(out, loaded[i])
		}
	}
	return out
}
