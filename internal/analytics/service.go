// Package analytics serves top-artist and top-track rankings, backed by a
// per-user cache for the rankings that need a Spotify round trip.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/auralis/auralis/internal/db"
	"github.com/auralis/auralis/internal/spotify"
)

// Common errors.
var (
	// ErrUnavailable is returned when Spotify is unreachable and no cached
	// ranking exists to fall back on.
	ErrUnavailable = errors.New("ranking unavailable")
)

const (
	// cacheFreshness is how long a cached ranking is served without hitting
	// Spotify again.
	cacheFreshness = 24 * time.Hour

	// fetchLimit is how many artists are fetched and cached per refresh.
	fetchLimit = 50
)

// Periods accepted by TopTracks.
const (
	PeriodLastMonth   = "last_month"
	PeriodLast6Months = "last_6_months"
	PeriodAllTime     = "all_time"
)

// ArtistSource fetches top artists from Spotify.
type ArtistSource interface {
	TopArtists(ctx context.Context, userID uuid.UUID, timeRange string, limit int) ([]spotify.ArtistDetails, bool)
}

// Cache is the materialized ranking store.
type Cache interface {
	LastUpdated(ctx context.Context, userID uuid.UUID, timeRange string) (time.Time, bool, error)
	ListForUser(ctx context.Context, userID uuid.UUID, timeRange string, limit int) ([]db.CachedTopArtist, error)
	ReplaceForUser(ctx context.Context, userID uuid.UUID, timeRange string, artists []db.CachedTopArtist) error
}

// PlayCounts ranks tracks from the listening ledger.
type PlayCounts interface {
	TopTracksByPlayCount(ctx context.Context, userID uuid.UUID, since time.Time, limit int) ([]db.TrackPlayCount, error)
}

// Service answers analytics queries.
type Service struct {
	source  ArtistSource
	cache   Cache
	history PlayCounts
	log     zerolog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates an analytics service.
func New(source ArtistSource, cache Cache, history PlayCounts, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		source:  source,
		cache:   cache,
		history: history,
		log:     log.With().Str("component", "analytics").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TopArtists returns the user's top artists for a Spotify time range
// (short_term, medium_term, long_term). A cache younger than 24 hours is
// served as is; otherwise the ranking is refetched and the cache replaced.
// When Spotify is down a stale cache is better than nothing.
func (s *Service) TopArtists(ctx context.Context, userID uuid.UUID, timeRange string, limit int) ([]db.CachedTopArtist, error) {
	updated, cached, err := s.cache.LastUpdated(ctx, userID, timeRange)
	if err != nil {
		return nil, fmt.Errorf("checking cache age: %w", err)
	}
	if cached && s.now().Sub(updated) < cacheFreshness {
		return s.cache.ListForUser(ctx, userID, timeRange, limit)
	}

	fetched, ok := s.source.TopArtists(ctx, userID, timeRange, fetchLimit)
	if !ok {
		if cached {
			s.log.Warn().
				Stringer("user_id", userID).
				Str("time_range", timeRange).
				Msg("spotify unavailable, serving stale ranking")
			return s.cache.ListForUser(ctx, userID, timeRange, limit)
		}
		return nil, ErrUnavailable
	}

	ranking := make([]db.CachedTopArtist, len(fetched))
	for i, artist := range fetched {
		ranking[i] = db.CachedTopArtist{
			UserID:     userID,
			TimeRange:  timeRange,
			ArtistID:   artist.ID,
			ArtistName: artist.Name,
			ImageURL:   artist.ImageURL(),
			Rank:       i + 1,
		}
	}
	if err := s.cache.ReplaceForUser(ctx, userID, timeRange, ranking); err != nil {
		return nil, fmt.Errorf("refreshing cache: %w", err)
	}

	if limit < len(ranking) {
		ranking = ranking[:limit]
	}
	return ranking, nil
}

// TopTracks ranks the user's most played tracks over a named period,
// computed from the ledger.
func (s *Service) TopTracks(ctx context.Context, userID uuid.UUID, period string, limit int) ([]db.TrackPlayCount, error) {
	var since time.Time
	switch period {
	case PeriodLastMonth:
		since = s.now().AddDate(0, 0, -30)
	case PeriodLast6Months:
		since = s.now().AddDate(0, 0, -180)
	case PeriodAllTime, "":
		since = time.Unix(0, 0)
	default:
		return nil, fmt.Errorf("unknown period %q", period)
	}
	return s.history.TopTracksByPlayCount(ctx, userID, since, limit)
}
