package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ArtistRepository handles artist dimension database operations.
type ArtistRepository struct {
	pool *pgxpool.Pool
}

// GetOrCreate inserts the artist if it does not exist yet and reports whether
// this call created it. An existing row is never overwritten.
func (r *ArtistRepository) GetOrCreate(ctx context.Context, artist *Artist) (bool, error) {
	query := `
		INSERT INTO artists (id, name, image_url, genres, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query,
		artist.ID,
		artist.Name,
		artist.ImageURL,
		artist.Genres,
	)
	if err != nil {
		return false, fmt.Errorf("inserting artist: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Get retrieves an artist by ID.
func (r *ArtistRepository) Get(ctx context.Context, id string) (*Artist, error) {
	query := `
		SELECT id, name, image_url, genres
		FROM artists
		WHERE id = $1
	`
	var artist Artist
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&artist.ID,
		&artist.Name,
		&artist.ImageURL,
		&artist.Genres,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying artist: %w", err)
	}
	return &artist, nil
}

// UpdateGenres replaces an artist's genre list.
func (r *ArtistRepository) UpdateGenres(ctx context.Context, id string, genres []string) error {
	query := `
		UPDATE artists
		SET genres = $2
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, id, genres)
	if err != nil {
		return fmt.Errorf("updating artist genres: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
