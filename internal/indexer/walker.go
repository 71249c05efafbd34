package indexer

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

// supportedExtensions lists the image formats the pipeline can decode
var supportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".tif":  true,
	".tiff": true,
}

// IsSupportedImage reports whether the path has a decodable image extension
func IsSupportedImage(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// Walk collects all supported image files under root, following symlinks.
// Directories already visited through another link are skipped, so link
// cycles terminate. Unreadable directories are skipped rather than failing
// the whole walk.
func Walk(root string) ([]string, error) {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}

	visited := map[string]bool{}
	var paths []string
	if err := walkDir(resolved, visited, &paths); err != nil {
		return nil, err
	}
	return paths, nil
}

func walkDir(dir string, visited map[string]bool, paths *[]string) error {
	if visited[dir] {
		return nil
	}
	visited[dir] = true

	entries, err := os.ReadDir(dir)
	if err != nil {
		// Permission problems on a subdirectory should not kill the pass.
		fmt.Printf("Walk: skipping %s: %v\n", dir, err)
		return nil
	}

	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())

		info := entry.Type()
		if info&os.ModeSymlink != 0 {
			target, err := filepath.EvalSymlinks(full)
			if err != nil {
				fmt.Printf("Walk: skipping broken link %s: %v\n", full, err)
				continue
			}
			stat, err := os.Stat(target)
			if err != nil {
				fmt.Printf("Walk: skipping %s: %v\n", full, err)
				continue
			}
			if stat.IsDir() {
				if err := walkDir(target, visited, paths); err != nil {
					return err
				}
				continue
			}
			if IsSupportedImage(full) {
				*paths = append(*paths, full)
			}
			continue
		}

		if entry.IsDir() {
			if err := walkDir(full, visited, paths); err != nil {
				return err
			}
			continue
		}

		if IsSupportedImage(entry.Name()) {
			*paths = append(*paths, full)
		}
	}
	return nil
}

// Shuffle randomizes path order in place. Indexing in random order spreads
// large directories across the pass, so progress estimates stay honest and
// a crash does not leave one directory entirely unprocessed.
func Shuffle(paths []string) {
	rand.Shuffle(len(paths), func(i, j int) {
		paths[i], paths[j] = paths[j], paths[i]
	})
}
