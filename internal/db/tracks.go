package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TrackRepository handles track dimension database operations.
type TrackRepository struct {
	pool *pgxpool.Pool
}

// GetOrCreate inserts the track if it does not exist yet and reports whether
// this call created it. An existing row is never overwritten.
func (r *TrackRepository) GetOrCreate(ctx context.Context, track *Track) (bool, error) {
	query := `
		INSERT INTO tracks (id, name, album_id, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query,
		track.ID,
		track.Name,
		track.AlbumID,
		track.DurationMs,
	)
	if err != nil {
		return false, fmt.Errorf("inserting track: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Get retrieves a track by ID.
func (r *TrackRepository) Get(ctx context.Context, id string) (*Track, error) {
	query := `
		SELECT id, name, album_id, duration_ms
		FROM tracks
		WHERE id = $1
	`
	var track Track
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&track.ID,
		&track.Name,
		&track.AlbumID,
		&track.DurationMs,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying track: %w", err)
	}
	return &track, nil
}

// LinkArtists associates artists with a track. Only called when the track was
// just created.
func (r *TrackRepository) LinkArtists(ctx context.Context, trackID string, artistIDs []string) error {
	if len(artistIDs) == 0 {
		return nil
	}
	query := `
		INSERT INTO track_artists (track_id, artist_id)
		SELECT $1, * FROM unnest($2::text[])
		ON CONFLICT (track_id, artist_id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query, trackID, artistIDs)
	if err != nil {
		return fmt.Errorf("linking track artists: %w", err)
	}
	return nil
}

// SetGenres stores a track's genre snapshot. Only called when the track was
// just created; the snapshot is never revised afterwards.
func (r *TrackRepository) SetGenres(ctx context.Context, trackID string, genres []string) error {
	if len(genres) == 0 {
		return nil
	}
	query := `
		INSERT INTO track_genres (track_id, genre)
		SELECT $1, * FROM unnest($2::text[])
		ON CONFLICT (track_id, genre) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query, trackID, genres)
	if err != nil {
		return fmt.Errorf("setting track genres: %w", err)
	}
	return nil
}
