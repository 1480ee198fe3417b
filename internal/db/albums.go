package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AlbumRepository handles album dimension database operations.
type AlbumRepository struct {
	pool *pgxpool.Pool
}

// GetOrCreate inserts the album if it does not exist yet and reports whether
// this call created it.
func (r *AlbumRepository) GetOrCreate(ctx context.Context, album *Album) (bool, error) {
	query := `
		INSERT INTO albums (id, name, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query, album.ID, album.Name)
	if err != nil {
		return false, fmt.Errorf("inserting album: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Get retrieves an album by ID.
func (r *AlbumRepository) Get(ctx context.Context, id string) (*Album, error) {
	query := `
		SELECT id, name
		FROM albums
		WHERE id = $1
	`
	var album Album
	err := r.pool.QueryRow(ctx, query, id).Scan(&album.ID, &album.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying album: %w", err)
	}
	return &album, nil
}

// LinkArtists associates artists with an album. Only called when the album
// was just created; the association set is fixed after that.
func (r *AlbumRepository) LinkArtists(ctx context.Context, albumID string, artistIDs []string) error {
	if len(artistIDs) == 0 {
		return nil
	}
	query := `
		INSERT INTO album_artists (album_id, artist_id)
		SELECT $1, * FROM unnest($2::text[])
		ON CONFLICT (album_id, artist_id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query, albumID, artistIDs)
	if err != nil {
		return fmt.Errorf("linking album artists: %w", err)
	}
	return nil
}
