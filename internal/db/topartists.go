package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TopArtistRepository handles the cached per-user top-artist rankings.
type TopArtistRepository struct {
	pool *pgxpool.Pool
}

// LastUpdated returns when the cache for a (user, time range) pair was last
// refreshed. The second return is false when the cache is empty.
func (r *TopArtistRepository) LastUpdated(ctx context.Context, userID uuid.UUID, timeRange string) (time.Time, bool, error) {
	query := `
		SELECT MAX(last_updated_at)
		FROM top_artists_cache
		WHERE user_id = $1 AND time_range = $2
	`
	var updated *time.Time
	err := r.pool.QueryRow(ctx, query, userID, timeRange).Scan(&updated)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && updated == nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying cache age: %w", err)
	}
	return *updated, true, nil
}

// ListForUser retrieves the cached ranking for a (user, time range) pair,
// best rank first.
func (r *TopArtistRepository) ListForUser(ctx context.Context, userID uuid.UUID, timeRange string, limit int) ([]CachedTopArtist, error) {
	query := `
		SELECT user_id, time_range, artist_id, artist_name, image_url, rank, last_updated_at
		FROM top_artists_cache
		WHERE user_id = $1 AND time_range = $2
		ORDER BY rank
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, userID, timeRange, limit)
	if err != nil {
		return nil, fmt.Errorf("querying top artists cache: %w", err)
	}
	defer rows.Close()

	var artists []CachedTopArtist
	for rows.Next() {
		var a CachedTopArtist
		if err := rows.Scan(
			&a.UserID,
			&a.TimeRange,
			&a.ArtistID,
			&a.ArtistName,
			&a.ImageURL,
			&a.Rank,
			&a.LastUpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning cached artist: %w", err)
		}
		artists = append(artists, a)
	}
	return artists, rows.Err()
}

// ReplaceForUser refreshes the cached ranking for a (user, time range) pair:
// the old rows are deleted and the new ranking is bulk-inserted in a single
// transaction.
func (r *TopArtistRepository) ReplaceForUser(ctx context.Context, userID uuid.UUID, timeRange string, artists []CachedTopArtist) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `DELETE FROM top_artists_cache WHERE user_id = $1 AND time_range = $2`, userID, timeRange)
	if err != nil {
		return fmt.Errorf("clearing top artists cache: %w", err)
	}

	if len(artists) > 0 {
		query := `
			INSERT INTO top_artists_cache (user_id, time_range, artist_id, artist_name, image_url, rank, last_updated_at)
			SELECT $1, $2, *, $7 FROM unnest($3::text[], $4::text[], $5::text[], $6::int[])
		`
		ids := make([]string, len(artists))
		names := make([]string, len(artists))
		images := make([]*string, len(artists))
		ranks := make([]int, len(artists))
		for i, a := range artists {
			ids[i] = a.ArtistID
			names[i] = a.ArtistName
			images[i] = a.ImageURL
			ranks[i] = a.Rank
		}
		now := time.Now()
		_, err = tx.Exec(ctx, query, userID, timeRange, ids, names, images, ranks, now)
		if err != nil {
			return fmt.Errorf("inserting top artists cache: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing cache refresh: %w", err)
	}
	return nil
}
