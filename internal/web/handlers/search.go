package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/photo-search/internal/search"
)

// mediaURLPrefix is the public prefix under which indexed files are served
const mediaURLPrefix = "media/"

// Searcher executes similarity searches
type Searcher interface {
	Search(ctx context.Context, req search.Request) ([]search.Result, error)
}

// SearchHandler handles similarity search requests
type SearchHandler struct {
	searcher Searcher
	mediaDir string
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(searcher Searcher, mediaDir string) *SearchHandler {
	return &SearchHandler{
		searcher: searcher,
		mediaDir: mediaDir,
	}
}

// searchRequest is the JSON body of a search call. Reference images are
// given as media URLs from earlier results.
type searchRequest struct {
	Query           string   `json:"q"`
	ReferenceImages []string `json:"referenced_images"`
	Limit           int      `json:"limit"`
}

type searchResultItem struct {
	ID        int64   `json:"id"`
	ImagePath string  `json:"image_path"`
	Distance  float64 `json:"distance"`
}

type searchResponse struct {
	Images []searchResultItem `json:"images"`
}

// Search handles POST /api/v1/search
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	refPaths := make([]string, 0, len(req.ReferenceImages))
	for _, ref := range req.ReferenceImages {
		refPaths = append(refPaths, h.mediaURLToPath(ref))
	}

	results, err := h.searcher.Search(r.Context(), search.Request{
		Text:     req.Query,
		RefPaths: refPaths,
		Limit:    req.Limit,
	})
	if errors.Is(err, search.ErrEmptyQuery) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Printf("Search failed for query %q: %v", sanitizeForLog(req.Query), err)
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}

	items := make([]searchResultItem, len(results))
	for i, res := range results {
		items[i] = searchResultItem{
			ID:        res.ID,
			ImagePath: h.pathToMediaURL(res.Path),
			Distance:  res.Distance,
		}
	}

	respondJSON(w, http.StatusOK, searchResponse{Images: items})
}

// pathToMediaURL maps a stored filesystem path to its public media URL
func (h *SearchHandler) pathToMediaURL(path string) string {
	rel, err := filepath.Rel(h.mediaDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		// Path lives outside the media dir (e.g. behind a symlink); serve
		// it by its base name rather than leaking the absolute path.
		return mediaURLPrefix + filepath.Base(path)
	}
	return mediaURLPrefix + filepath.ToSlash(rel)
}

// mediaURLToPath maps a public media URL back to the stored filesystem path
func (h *SearchHandler) mediaURLToPath(url string) string {
	rel := strings.TrimPrefix(url, "/")
	rel = strings.TrimPrefix(rel, mediaURLPrefix)
	return filepath.Join(h.mediaDir, filepath.FromSlash(rel))
}
