package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auralis/auralis/internal/db"
	"github.com/auralis/auralis/internal/spotify"
)

type fakeFetcher struct {
	pages   []*spotify.RecentlyPlayedPage
	failAt  int // fail on this call index; -1 disables
	calls   int
	afters  []*time.Time
	details map[string]*spotify.ArtistDetails
}

func newFakeFetcher(pages ...*spotify.RecentlyPlayedPage) *fakeFetcher {
	return &fakeFetcher{
		pages:   pages,
		failAt:  -1,
		details: make(map[string]*spotify.ArtistDetails),
	}
}

func (f *fakeFetcher) RecentlyPlayed(_ context.Context, _ uuid.UUID, after *time.Time) (*spotify.RecentlyPlayedPage, bool) {
	call := f.calls
	f.calls++
	if after != nil {
		at := *after
		f.afters = append(f.afters, &at)
	} else {
		f.afters = append(f.afters, nil)
	}
	if call == f.failAt {
		return nil, false
	}
	if call < len(f.pages) {
		return f.pages[call], true
	}
	return &spotify.RecentlyPlayedPage{}, true
}

func (f *fakeFetcher) ArtistDetails(_ context.Context, _ uuid.UUID, artistID string) (*spotify.ArtistDetails, bool) {
	d, ok := f.details[artistID]
	return d, ok
}

// memStore implements every persistence interface the orchestrator needs.
type memStore struct {
	artists      map[string]*db.Artist
	albums       map[string]*db.Album
	albumArtists map[string][]string
	tracks       map[string]*db.Track
	trackArtists map[string][]string
	trackGenres  map[string][]string
	entries      []db.HistoryEntry
	lastSync     *time.Time
}

func newMemStore() *memStore {
	return &memStore{
		artists:      make(map[string]*db.Artist),
		albums:       make(map[string]*db.Album),
		albumArtists: make(map[string][]string),
		tracks:       make(map[string]*db.Track),
		trackArtists: make(map[string][]string),
		trackGenres:  make(map[string][]string),
	}
}

type artistStore struct{ *memStore }

func (s artistStore) GetOrCreate(_ context.Context, artist *db.Artist) (bool, error) {
	if _, ok := s.artists[artist.ID]; ok {
		return false, nil
	}
	copied := *artist
	s.artists[artist.ID] = &copied
	return true, nil
}

func (s artistStore) Get(_ context.Context, id string) (*db.Artist, error) {
	artist, ok := s.artists[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return artist, nil
}

func (s artistStore) UpdateGenres(_ context.Context, id string, genres []string) error {
	artist, ok := s.artists[id]
	if !ok {
		return db.ErrNotFound
	}
	artist.Genres = genres
	return nil
}

type albumStore struct{ *memStore }

func (s albumStore) GetOrCreate(_ context.Context, album *db.Album) (bool, error) {
	if _, ok := s.albums[album.ID]; ok {
		return false, nil
	}
	copied := *album
	s.albums[album.ID] = &copied
	return true, nil
}

func (s albumStore) LinkArtists(_ context.Context, albumID string, artistIDs []string) error {
	s.albumArtists[albumID] = append(s.albumArtists[albumID], artistIDs...)
	return nil
}

type trackStore struct{ *memStore }

func (s trackStore) GetOrCreate(_ context.Context, track *db.Track) (bool, error) {
	if _, ok := s.tracks[track.ID]; ok {
		return false, nil
	}
	copied := *track
	s.tracks[track.ID] = &copied
	return true, nil
}

func (s trackStore) LinkArtists(_ context.Context, trackID string, artistIDs []string) error {
	s.trackArtists[trackID] = append(s.trackArtists[trackID], artistIDs...)
	return nil
}

func (s trackStore) SetGenres(_ context.Context, trackID string, genres []string) error {
	s.trackGenres[trackID] = genres
	return nil
}

type ledgerStore struct{ *memStore }

func (s ledgerStore) Exists(_ context.Context, userID uuid.UUID, playedAt time.Time) (bool, error) {
	for _, e := range s.entries {
		if e.UserID == userID && e.PlayedAt.Equal(playedAt) {
			return true, nil
		}
	}
	return false, nil
}

func (s ledgerStore) Append(_ context.Context, entry *db.HistoryEntry) error {
	s.entries = append(s.entries, *entry)
	return nil
}

func (s ledgerStore) MostRecentPlayedAt(_ context.Context, userID uuid.UUID) (time.Time, bool, error) {
	var latest time.Time
	found := false
	for _, e := range s.entries {
		if e.UserID == userID && e.PlayedAt.After(latest) {
			latest = e.PlayedAt
			found = true
		}
	}
	return latest, found, nil
}

type accountStore struct{ *memStore }

func (s accountStore) UpdateLastSync(_ context.Context, _ uuid.UUID, syncTime time.Time) error {
	s.lastSync = &syncTime
	return nil
}

type fakeGenerator struct{ calls int }

func (g *fakeGenerator) GenerateForUser(context.Context, uuid.UUID) error {
	g.calls++
	return nil
}

func newService(fetcher *fakeFetcher, store *memStore, gen *fakeGenerator) *Service {
	return New(
		fetcher,
		artistStore{store},
		albumStore{store},
		trackStore{store},
		ledgerStore{store},
		accountStore{store},
		gen,
		zerolog.Nop(),
	)
}

func playedItem(trackID, artistID string, playedAt time.Time) spotify.PlayedItem {
	return spotify.PlayedItem{
		PlayedAt: playedAt,
		Track: spotify.TrackObject{
			ID:         trackID,
			Name:       "Track " + trackID,
			DurationMs: 200000,
			Album: spotify.AlbumObject{
				ID:      "album-" + trackID,
				Name:    "Album " + trackID,
				Artists: []spotify.ArtistRef{{ID: artistID, Name: "Artist " + artistID}},
			},
			Artists: []spotify.ArtistRef{{ID: artistID, Name: "Artist " + artistID}},
		},
	}
}

func fullPage(start time.Time) *spotify.RecentlyPlayedPage {
	page := &spotify.RecentlyPlayedPage{}
	for i := 0; i < spotify.PageLimit; i++ {
		page.Items = append(page.Items, playedItem(
			fmt.Sprintf("t%02d", i),
			"a1",
			start.Add(time.Duration(i)*time.Minute),
		))
	}
	return page
}

func TestSyncFirstRun(t *testing.T) {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()

	fetcher := newFakeFetcher(&spotify.RecentlyPlayedPage{
		Items: []spotify.PlayedItem{
			playedItem("t1", "a1", base),
			playedItem("t2", "a1", base.Add(time.Minute)),
		},
	})
	fetcher.details["a1"] = &spotify.ArtistDetails{ID: "a1", Name: "Artist a1", Genres: []string{"indie", "rock"}}

	store := newMemStore()
	gen := &fakeGenerator{}
	svc := newService(fetcher, store, gen)

	count, err := svc.SyncRecentlyPlayed(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// First call carries no cursor; a short page ends the run.
	require.Len(t, fetcher.afters, 1)
	assert.Nil(t, fetcher.afters[0])

	assert.Len(t, store.entries, 2)
	assert.Len(t, store.tracks, 2)
	assert.Len(t, store.albums, 2)
	assert.Equal(t, []string{"indie", "rock"}, store.artists["a1"].Genres)
	assert.Equal(t, []string{"indie", "rock"}, store.trackGenres["t1"])
	assert.Equal(t, []string{"a1"}, store.trackArtists["t1"])

	assert.Equal(t, 1, gen.calls)
	require.NotNil(t, store.lastSync)
}

func TestSyncStartsAfterWatermark(t *testing.T) {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()

	store := newMemStore()
	store.entries = append(store.entries, db.HistoryEntry{
		UserID:   userID,
		TrackID:  "old",
		PlayedAt: base,
	})

	fetcher := newFakeFetcher(&spotify.RecentlyPlayedPage{})
	svc := newService(fetcher, store, &fakeGenerator{})

	_, err := svc.SyncRecentlyPlayed(context.Background(), userID)
	require.NoError(t, err)

	require.Len(t, fetcher.afters, 1)
	require.NotNil(t, fetcher.afters[0])
	assert.True(t, fetcher.afters[0].Equal(base))
}

func TestSyncStopsOnFullyDeduplicatedPage(t *testing.T) {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()

	page := fullPage(base)
	store := newMemStore()
	for _, item := range page.Items {
		store.entries = append(store.entries, db.HistoryEntry{
			UserID:   userID,
			TrackID:  item.Track.ID,
			PlayedAt: item.PlayedAt,
		})
	}

	fetcher := newFakeFetcher(page)
	gen := &fakeGenerator{}
	svc := newService(fetcher, store, gen)

	count, err := svc.SyncRecentlyPlayed(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, 1, gen.calls)
}

func TestSyncRegeneratesDocumentsWithoutNewEntries(t *testing.T) {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()

	store := newMemStore()
	store.entries = append(store.entries, db.HistoryEntry{
		UserID:   userID,
		TrackID:  "old",
		PlayedAt: base,
	})

	fetcher := newFakeFetcher(&spotify.RecentlyPlayedPage{})
	gen := &fakeGenerator{}
	svc := newService(fetcher, store, gen)

	count, err := svc.SyncRecentlyPlayed(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// The rolling reports and the retention sweep move with the clock, so an
	// idle user still gets a regeneration pass.
	assert.Equal(t, 1, gen.calls)
	require.NotNil(t, store.lastSync)
}

func TestSyncPaginatesFullPages(t *testing.T) {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()

	first := fullPage(base)
	second := &spotify.RecentlyPlayedPage{
		Items: []spotify.PlayedItem{
			playedItem("x1", "a2", base.Add(2*time.Hour)),
		},
	}

	fetcher := newFakeFetcher(first, second)
	store := newMemStore()
	svc := newService(fetcher, store, &fakeGenerator{})

	count, err := svc.SyncRecentlyPlayed(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, spotify.PageLimit+1, count)

	require.Len(t, fetcher.afters, 2)
	require.NotNil(t, fetcher.afters[1])
	wantCursor := base.Add(time.Duration(spotify.PageLimit-1) * time.Minute)
	assert.True(t, fetcher.afters[1].Equal(wantCursor))
}

func TestSyncLinksAlbumToTrackArtists(t *testing.T) {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()

	// Compilation-style payload: the album names an artist that is not among
	// the track's artists and is never upserted.
	item := playedItem("t1", "a1", base)
	item.Track.Album.Artists = []spotify.ArtistRef{{ID: "various", Name: "Various Artists"}}

	fetcher := newFakeFetcher(&spotify.RecentlyPlayedPage{
		Items: []spotify.PlayedItem{item},
	})
	store := newMemStore()
	svc := newService(fetcher, store, &fakeGenerator{})

	_, err := svc.SyncRecentlyPlayed(context.Background(), userID)
	require.NoError(t, err)

	assert.Equal(t, []string{"a1"}, store.albumArtists["album-t1"])
	_, ok := store.artists["various"]
	assert.False(t, ok)
}

func TestSyncCursorTracksInsertedItems(t *testing.T) {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()

	// The newest item on the full page is already in the ledger; the cursor
	// must advance to the newest inserted play, not past it.
	page := fullPage(base)
	dup := page.Items[spotify.PageLimit-1]
	store := newMemStore()
	store.entries = append(store.entries, db.HistoryEntry{
		UserID:   userID,
		TrackID:  dup.Track.ID,
		PlayedAt: dup.PlayedAt,
	})

	fetcher := newFakeFetcher(page)
	svc := newService(fetcher, store, &fakeGenerator{})

	count, err := svc.SyncRecentlyPlayed(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, spotify.PageLimit-1, count)

	require.Len(t, fetcher.afters, 2)
	require.NotNil(t, fetcher.afters[1])
	wantCursor := base.Add(time.Duration(spotify.PageLimit-2) * time.Minute)
	assert.True(t, fetcher.afters[1].Equal(wantCursor))
}

func TestSyncFetchFailureAborts(t *testing.T) {
	userID := uuid.New()

	fetcher := newFakeFetcher()
	fetcher.failAt = 0
	store := newMemStore()
	gen := &fakeGenerator{}
	svc := newService(fetcher, store, gen)

	count, err := svc.SyncRecentlyPlayed(context.Background(), userID)
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, 0, count)
	assert.Empty(t, store.entries)
	assert.Equal(t, 0, gen.calls)
	assert.Nil(t, store.lastSync)
}

func TestSyncSkipsEnrichmentWhenGenresKnown(t *testing.T) {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()

	store := newMemStore()
	store.artists["a1"] = &db.Artist{ID: "a1", Name: "Artist a1", Genres: []string{"jazz"}}

	fetcher := newFakeFetcher(&spotify.RecentlyPlayedPage{
		Items: []spotify.PlayedItem{playedItem("t1", "a1", base)},
	})
	// No details registered: an enrichment attempt would come back absent
	// and leave the genres empty.
	svc := newService(fetcher, store, &fakeGenerator{})

	_, err := svc.SyncRecentlyPlayed(context.Background(), userID)
	require.NoError(t, err)

	assert.Equal(t, []string{"jazz"}, store.artists["a1"].Genres)
	assert.Equal(t, []string{"jazz"}, store.trackGenres["t1"])
}
