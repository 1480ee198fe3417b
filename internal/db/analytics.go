package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TrackPlayCount is one row of a play-count ranking computed from the ledger.
type TrackPlayCount struct {
	TrackID    string
	TrackName  string
	ArtistName string
	PlayCount  int
}

// topTracksQuery counts distinct history rows: the artist join fans each
// play out once per track artist, so a raw COUNT would favor multi-artist
// tracks.
const topTracksQuery = `
	SELECT t.id, t.name,
		COALESCE(string_agg(DISTINCT ar.name, ', '), ''),
		COUNT(DISTINCT h.id) AS plays
	FROM listening_history h
	JOIN tracks t ON t.id = h.track_id
	LEFT JOIN track_artists ta ON ta.track_id = t.id
	LEFT JOIN artists ar ON ar.id = ta.artist_id
	WHERE h.user_id = $1 AND h.played_at >= $2
	GROUP BY t.id, t.name
	ORDER BY plays DESC, t.name
	LIMIT $3
`

// TopTracksByPlayCount ranks the user's most played tracks since the given
// instant, most played first.
func (r *HistoryRepository) TopTracksByPlayCount(ctx context.Context, userID uuid.UUID, since time.Time, limit int) ([]TrackPlayCount, error) {
	rows, err := r.pool.Query(ctx, topTracksQuery, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("querying top tracks: %w", err)
	}
	defer rows.Close()

	var tracks []TrackPlayCount
	for rows.Next() {
		var t TrackPlayCount
		if err := rows.Scan(&t.TrackID, &t.TrackName, &t.ArtistName, &t.PlayCount); err != nil {
			return nil, fmt.Errorf("scanning track play count: %w", err)
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}
