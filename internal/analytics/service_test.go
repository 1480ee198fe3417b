package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auralis/auralis/internal/db"
	"github.com/auralis/auralis/internal/spotify"
)

type fakeSource struct {
	artists []spotify.ArtistDetails
	ok      bool
	calls   int
}

func (f *fakeSource) TopArtists(_ context.Context, _ uuid.UUID, _ string, limit int) ([]spotify.ArtistDetails, bool) {
	f.calls++
	if !f.ok {
		return nil, false
	}
	if limit < len(f.artists) {
		return f.artists[:limit], true
	}
	return f.artists, true
}

type fakeCache struct {
	updated   time.Time
	hasRows   bool
	rows      []db.CachedTopArtist
	replaced  []db.CachedTopArtist
	gotRange  string
	listCalls int
}

func (f *fakeCache) LastUpdated(_ context.Context, _ uuid.UUID, timeRange string) (time.Time, bool, error) {
	f.gotRange = timeRange
	return f.updated, f.hasRows, nil
}

func (f *fakeCache) ListForUser(_ context.Context, _ uuid.UUID, _ string, limit int) ([]db.CachedTopArtist, error) {
	f.listCalls++
	if limit < len(f.rows) {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}

func (f *fakeCache) ReplaceForUser(_ context.Context, _ uuid.UUID, _ string, artists []db.CachedTopArtist) error {
	f.replaced = artists
	f.rows = artists
	f.hasRows = true
	return nil
}

type fakePlayCounts struct {
	gotSince time.Time
	gotLimit int
	rows     []db.TrackPlayCount
}

func (f *fakePlayCounts) TopTracksByPlayCount(_ context.Context, _ uuid.UUID, since time.Time, limit int) ([]db.TrackPlayCount, error) {
	f.gotSince = since
	f.gotLimit = limit
	return f.rows, nil
}

func newTestService(source *fakeSource, cache *fakeCache, counts *fakePlayCounts, now time.Time) *Service {
	return New(source, cache, counts, zerolog.Nop(),
		WithClock(func() time.Time { return now }))
}

func TestTopArtistsServesFreshCacheWithoutFetch(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	cache := &fakeCache{
		updated: now.Add(-2 * time.Hour),
		hasRows: true,
		rows: []db.CachedTopArtist{
			{ArtistID: "a1", ArtistName: "A", Rank: 1},
		},
	}
	source := &fakeSource{ok: true}
	svc := newTestService(source, cache, &fakePlayCounts{}, now)

	ranking, err := svc.TopArtists(context.Background(), uuid.New(), "medium_term", 10)
	require.NoError(t, err)
	require.Len(t, ranking, 1)
	assert.Equal(t, "A", ranking[0].ArtistName)
	assert.Equal(t, 0, source.calls)
	assert.Equal(t, "medium_term", cache.gotRange)
}

func TestTopArtistsRefreshesStaleCache(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	img := "https://img.example/a2.jpg"
	cache := &fakeCache{
		updated: now.Add(-25 * time.Hour),
		hasRows: true,
		rows:    []db.CachedTopArtist{{ArtistID: "old", Rank: 1}},
	}
	source := &fakeSource{ok: true, artists: []spotify.ArtistDetails{
		{ID: "a1", Name: "First"},
		{ID: "a2", Name: "Second", Images: []spotify.Image{{URL: img}}},
		{ID: "a3", Name: "Third"},
	}}
	userID := uuid.New()
	svc := newTestService(source, cache, &fakePlayCounts{}, now)

	ranking, err := svc.TopArtists(context.Background(), userID, "short_term", 2)
	require.NoError(t, err)

	// The full fetch is cached, the response truncated to the limit.
	require.Len(t, cache.replaced, 3)
	require.Len(t, ranking, 2)
	assert.Equal(t, 1, ranking[0].Rank)
	assert.Equal(t, 2, ranking[1].Rank)
	assert.Equal(t, "First", ranking[0].ArtistName)
	assert.Equal(t, userID, ranking[0].UserID)
	assert.Equal(t, "short_term", ranking[0].TimeRange)
	require.NotNil(t, ranking[1].ImageURL)
	assert.Equal(t, img, *ranking[1].ImageURL)
}

func TestTopArtistsStaleFallbackWhenSpotifyDown(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	cache := &fakeCache{
		updated: now.Add(-48 * time.Hour),
		hasRows: true,
		rows:    []db.CachedTopArtist{{ArtistID: "stale", Rank: 1}},
	}
	source := &fakeSource{ok: false}
	svc := newTestService(source, cache, &fakePlayCounts{}, now)

	ranking, err := svc.TopArtists(context.Background(), uuid.New(), "long_term", 10)
	require.NoError(t, err)
	require.Len(t, ranking, 1)
	assert.Equal(t, "stale", ranking[0].ArtistID)
	assert.Empty(t, cache.replaced)
}

func TestTopArtistsUnavailableWithoutCache(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	svc := newTestService(&fakeSource{ok: false}, &fakeCache{}, &fakePlayCounts{}, now)

	_, err := svc.TopArtists(context.Background(), uuid.New(), "medium_term", 10)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTopTracksPeriods(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		period    string
		wantSince time.Time
	}{
		{PeriodLastMonth, now.AddDate(0, 0, -30)},
		{PeriodLast6Months, now.AddDate(0, 0, -180)},
		{PeriodAllTime, time.Unix(0, 0)},
		{"", time.Unix(0, 0)},
	}
	for _, tt := range tests {
		t.Run("period "+tt.period, func(t *testing.T) {
			counts := &fakePlayCounts{rows: []db.TrackPlayCount{{TrackName: "One", PlayCount: 3}}}
			svc := newTestService(&fakeSource{}, &fakeCache{}, counts, now)

			rows, err := svc.TopTracks(context.Background(), uuid.New(), tt.period, 20)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.True(t, counts.gotSince.Equal(tt.wantSince))
			assert.Equal(t, 20, counts.gotLimit)
		})
	}
}

func TestTopTracksRejectsUnknownPeriod(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	svc := newTestService(&fakeSource{}, &fakeCache{}, &fakePlayCounts{}, now)

	_, err := svc.TopTracks(context.Background(), uuid.New(), "fortnight", 20)
	assert.Error(t, err)
}
