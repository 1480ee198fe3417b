package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// HistoryRepository handles the append-only listening history ledger.
type HistoryRepository struct {
	pool *pgxpool.Pool
}

// Exists reports whether a play at the given instant is already recorded for
// the user.
func (r *HistoryRepository) Exists(ctx context.Context, userID uuid.UUID, playedAt time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM listening_history
			WHERE user_id = $1 AND played_at = $2
		)
	`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID, playedAt).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking history entry: %w", err)
	}
	return exists, nil
}

// Append records a new play event. A unique-constraint violation on
// (user_id, played_at) means a concurrent writer got there first and is
// treated as success.
func (r *HistoryRepository) Append(ctx context.Context, entry *HistoryEntry) error {
	query := `
		INSERT INTO listening_history (id, user_id, track_id, played_at, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, query,
		entry.ID,
		entry.UserID,
		entry.TrackID,
		entry.PlayedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}
	return nil
}

// MostRecentPlayedAt returns the user's latest recorded play timestamp. The
// second return is false when the user has no history yet.
func (r *HistoryRepository) MostRecentPlayedAt(ctx context.Context, userID uuid.UUID) (time.Time, bool, error) {
	query := `
		SELECT played_at
		FROM listening_history
		WHERE user_id = $1
		ORDER BY played_at DESC
		LIMIT 1
	`
	var playedAt time.Time
	err := r.pool.QueryRow(ctx, query, userID).Scan(&playedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying most recent play: %w", err)
	}
	return playedAt, true, nil
}

// AllForUser retrieves the user's full history joined with track dimensions,
// most recent first.
func (r *HistoryRepository) AllForUser(ctx context.Context, userID uuid.UUID) ([]PlayRecord, error) {
	query := `
		SELECT h.played_at, t.id, t.name, t.duration_ms,
			COALESCE(al.name, ''),
			COALESCE(array_agg(DISTINCT ar.name) FILTER (WHERE ar.name IS NOT NULL), '{}'),
			COALESCE(array_agg(DISTINCT tg.genre) FILTER (WHERE tg.genre IS NOT NULL), '{}')
		FROM listening_history h
		JOIN tracks t ON t.id = h.track_id
		LEFT JOIN albums al ON al.id = t.album_id
		LEFT JOIN track_artists ta ON ta.track_id = t.id
		LEFT JOIN artists ar ON ar.id = ta.artist_id
		LEFT JOIN track_genres tg ON tg.track_id = t.id
		WHERE h.user_id = $1
		GROUP BY h.played_at, t.id, t.name, t.duration_ms, al.name
		ORDER BY h.played_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying listening history: %w", err)
	}
	defer rows.Close()

	var records []PlayRecord
	for rows.Next() {
		var rec PlayRecord
		if err := rows.Scan(
			&rec.PlayedAt,
			&rec.TrackID,
			&rec.TrackName,
			&rec.DurationMs,
			&rec.AlbumName,
			&rec.ArtistNames,
			&rec.Genres,
		); err != nil {
			return nil, fmt.Errorf("scanning play record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
