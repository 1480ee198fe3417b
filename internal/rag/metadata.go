package rag

import (
	"fmt"
	"strings"
	"time"

	"github.com/auralis/auralis/internal/db"
)

// trackDetail renders one aggregated track as document metadata.
func trackDetail(t trackPlays, withID bool) map[string]any {
	detail := map[string]any{
		"trackName":   t.TrackName,
		"artistNames": t.ArtistNames,
		"playCount":   t.Count,
		"genres":      t.Genres,
		"albumName":   albumLabel(t.AlbumName),
		"durationMs":  t.DurationMs,
	}
	if withID {
		detail["trackId"] = t.TrackID
	}
	return detail
}

func monthlyMetadata(month time.Time, records []db.PlayRecord) map[string]any {
	plays := aggregatePlays(records)

	var topArtists []string
	for _, a := range topCounts(countArtists(records), 5) {
		topArtists = append(topArtists, a.Name)
	}

	var topGenres []string
	for _, g := range topCounts(countGenresByPlay(records), 5) {
		topGenres = append(topGenres, g.Name)
	}

	var topTracks []map[string]any
	for _, t := range topPlays(plays, 10) {
		topTracks = append(topTracks, trackDetail(t, false))
	}

	return map[string]any{
		"month":               month.Format("2006-01"),
		"top_artists":         topArtists,
		"top_genres":          topGenres,
		"track_count":         len(records),
		"unique_tracks":       len(plays),
		"top_tracks_detailed": topTracks,
	}
}

func dailyMetadata(records []db.PlayRecord, start, now time.Time, zone *time.Location) map[string]any {
	return map[string]any{
		"period_type":  "daily",
		"date":         now.In(zone).Format("2006-01-02"),
		"total_plays":  len(records),
		"period_start": start.UTC().Format(time.RFC3339),
		"period_end":   now.UTC().Format(time.RFC3339),
	}
}

func weeklyMetadata(records []db.PlayRecord, start, now time.Time, zone *time.Location) map[string]any {
	return map[string]any{
		"period_type": "weekly",
		"week_start":  start.In(zone).Format("2006-01-02"),
		"week_end":    now.In(zone).Format("2006-01-02"),
		"total_plays": len(records),
	}
}

func hourlyMetadata(records []db.PlayRecord, zone *time.Location) map[string]any {
	var hours []string
	for _, h := range topCounts(countHours(records, zone), 3) {
		next := atoiHour(h.Name) + 1
		hours = append(hours, fmt.Sprintf("between %sh and %dh (%d plays)", h.Name, next, h.Count))
	}
	return map[string]any{
		"pattern_type": "hourly_listening",
		"top_hours":    strings.Join(hours, ", "),
	}
}

func globalMetadata(records []db.PlayRecord) map[string]any {
	plays := aggregatePlays(records)
	genres := countGenresByTrack(plays)

	var topTracks []map[string]any
	for _, t := range topPlays(plays, 20) {
		topTracks = append(topTracks, trackDetail(t, true))
	}

	var topGenres []map[string]any
	for _, g := range topCounts(genres, 10) {
		topGenres = append(topGenres, map[string]any{
			"genre":      g.Name,
			"trackCount": g.Count,
		})
	}

	avg := 0.0
	if len(plays) > 0 {
		avg = float64(len(records)) / float64(len(plays))
	}

	return map[string]any{
		"total_plays":             len(records),
		"unique_tracks":           len(plays),
		"unique_genres":           len(genres),
		"top_tracks_detailed":     topTracks,
		"top_genres_detailed":     topGenres,
		"average_plays_per_track": avg,
	}
}
