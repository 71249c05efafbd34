package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/kozaktomas/photo-search/internal/database"
)

// BaseImageRepository provides PostgreSQL-backed storage for base images
type BaseImageRepository struct {
	pool *Pool
}

// NewBaseImageRepository creates a new base image repository
func NewBaseImageRepository(pool *Pool) *BaseImageRepository {
	return &BaseImageRepository{pool: pool}
}

// InsertMany registers paths as base images and returns the records in input
// order. Paths that already exist keep their ID, so repeated indexing runs
// never duplicate records.
func (r *BaseImageRepository) InsertMany(ctx context.Context, paths []string) ([]database.BaseImage, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// The no-op DO UPDATE makes RETURNING yield a row for conflicts too.
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO base_images (path)
		VALUES ($1)
		ON CONFLICT (path) DO UPDATE SET path = EXCLUDED.path
		RETURNING id, path, created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	images := make([]database.BaseImage, 0, len(paths))
	for _, path := range paths {
		var img database.BaseImage
		if err := stmt.QueryRowContext(ctx, path).Scan(&img.ID, &img.Path, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("insert base image %s: %w", path, err)
		}
		images = append(images, img)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return images, nil
}

// ExistingPaths returns the subset of paths that already have a base image
func (r *BaseImageRepository) ExistingPaths(ctx context.Context, paths []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(paths) == 0 {
		return existing, nil
	}

	rows, err := r.pool.Query(ctx, "SELECT path FROM base_images WHERE path = ANY($1)", pq.Array(paths))
	if err != nil {
		return nil, fmt.Errorf("query existing paths: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		existing[path] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate paths: %w", err)
	}
	return existing, nil
}

// GetByPath retrieves a base image by path, returns nil if not found
func (r *BaseImageRepository) GetByPath(ctx context.Context, path string) (*database.BaseImage, error) {
	var img database.BaseImage
	err := r.pool.QueryRow(ctx,
		"SELECT id, path, created_at FROM base_images WHERE path = $1", path,
	).Scan(&img.ID, &img.Path, &img.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query base image: %w", err)
	}
	return &img, nil
}

// Count returns the total number of base images
func (r *BaseImageRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM base_images").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count base images: %w", err)
	}
	return count, nil
}

// Verify interface compliance
var _ database.BaseImageStore = (*BaseImageRepository)(nil)
