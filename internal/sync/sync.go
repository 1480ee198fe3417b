// Package sync ingests Spotify listening history into the database.
package sync

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
	// ErrUpstreamUnavailable is returned when a Spotify page fetch fails and
	// the sync run has to stop. Entries already ingested stay; the next run
	// resumes from the ledger watermark.
	ErrUpstreamUnavailable = errors.New("spotify unavailable")
)

// Fetcher is the Spotify API surface the orchestrator consumes.
type Fetcher interface {
	RecentlyPlayed(ctx context.Context, userID uuid.UUID, after *time.Time) (*spotify.RecentlyPlayedPage, bool)
	ArtistDetails(ctx context.Context, userID uuid.UUID, artistID string) (*spotify.ArtistDetails, bool)
}

// ArtistStore persists the artist dimension.
type ArtistStore interface {
	GetOrCreate(ctx context.Context, artist *db.Artist) (bool, error)
	Get(ctx context.Context, id string) (*db.Artist, error)
	UpdateGenres(ctx context.Context, id string, genres []string) error
}

// AlbumStore persists the album dimension.
type AlbumStore interface {
	GetOrCreate(ctx context.Context, album *db.Album) (bool, error)
	LinkArtists(ctx context.Context, albumID string, artistIDs []string) error
}

// TrackStore persists the track dimension.
type TrackStore interface {
	GetOrCreate(ctx context.Context, track *db.Track) (bool, error)
	LinkArtists(ctx context.Context, trackID string, artistIDs []string) error
	SetGenres(ctx context.Context, trackID string, genres []string) error
}

// Ledger is the append-only listening history.
type Ledger interface {
	Exists(ctx context.Context, userID uuid.UUID, playedAt time.Time) (bool, error)
	Append(ctx context.Context, entry *db.HistoryEntry) error
	MostRecentPlayedAt(ctx context.Context, userID uuid.UUID) (time.Time, bool, error)
}

// Accounts records sync completion on the linked account.
type Accounts interface {
	UpdateLastSync(ctx context.Context, userID uuid.UUID, syncTime time.Time) error
}

// DocumentGenerator regenerates a user's RAG documents after new history
// arrives.
type DocumentGenerator interface {
	GenerateForUser(ctx context.Context, userID uuid.UUID) error
}

// Service orchestrates incremental history ingestion for one user at a time.
type Service struct {
	fetcher   Fetcher
	artists   ArtistStore
	albums    AlbumStore
	tracks    TrackStore
	ledger    Ledger
	accounts  Accounts
	generator DocumentGenerator
	log       zerolog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a sync service.
func New(fetcher Fetcher, artists ArtistStore, albums AlbumStore, tracks TrackStore, ledger Ledger, accounts Accounts, generator DocumentGenerator, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		fetcher:   fetcher,
		artists:   artists,
		albums:    albums,
		tracks:    tracks,
		ledger:    ledger,
		accounts:  accounts,
		generator: generator,
		log:       log.With().Str("component", "sync").Logger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncRecentlyPlayed pulls the user's recently played tracks page by page,
// starting strictly after the ledger watermark, and appends everything not
// yet recorded. Returns the number of new entries.
//
// The loop stops when a page comes back empty, short, or fully deduplicated;
// documents are then regenerated whether or not anything new arrived. A
// failed fetch aborts the run with ErrUpstreamUnavailable; whatever was
// already appended stays and the next run resumes from the new watermark.
func (s *Service) SyncRecentlyPlayed(ctx context.Context, userID uuid.UUID) (int, error) {
	var after *time.Time
	if watermark, ok, err := s.ledger.MostRecentPlayedAt(ctx, userID); err != nil {
		return 0, fmt.Errorf("loading watermark: %w", err)
	} else if ok {
		after = &watermark
	}

	totalNew := 0
	for {
		page, ok := s.fetcher.RecentlyPlayed(ctx, userID, after)
		if !ok {
			return totalNew, fmt.Errorf("fetching recently played: %w", ErrUpstreamUnavailable)
		}
		if len(page.Items) == 0 {
			break
		}

		batchNew := 0
		var latest time.Time
		for _, item := range page.Items {
			exists, err := s.ledger.Exists(ctx, userID, item.PlayedAt)
			if err != nil {
				return totalNew, fmt.Errorf("checking ledger: %w", err)
			}
			if exists {
				continue
			}

			if err := s.ingest(ctx, userID, item); err != nil {
				return totalNew, err
			}
			batchNew++
			// The next-page cursor advances over inserted entries only.
			if item.PlayedAt.After(latest) {
				latest = item.PlayedAt
			}
		}
		totalNew += batchNew

		// A fully deduplicated or short page means we have caught up.
		if batchNew == 0 || len(page.Items) < spotify.PageLimit {
			break
		}
		after = &latest
	}

	// Regeneration runs even when nothing new arrived: the rolling daily and
	// weekly documents and the retention sweep follow the clock, not the
	// ledger.
	if err := s.generator.GenerateForUser(ctx, userID); err != nil {
		return totalNew, fmt.Errorf("regenerating documents: %w", err)
	}

	if err := s.accounts.UpdateLastSync(ctx, userID, s.now()); err != nil {
		return totalNew, fmt.Errorf("recording sync time: %w", err)
	}

	s.log.Info().
		Stringer("user_id", userID).
		Int("new_entries", totalNew).
		Msg("sync complete")
	return totalNew, nil
}

// ingest upserts the play's dimensions and appends the ledger entry.
func (s *Service) ingest(ctx context.Context, userID uuid.UUID, item spotify.PlayedItem) error {
	track := item.Track
	if track.ID == "" {
		return nil
	}

	genres, err := s.ensureArtists(ctx, userID, track.Artists)
	if err != nil {
		return err
	}

	var albumID *string
	if track.Album.ID != "" {
		if err := s.ensureAlbum(ctx, track.Album, track.Artists); err != nil {
			return err
		}
		id := track.Album.ID
		albumID = &id
	}

	created, err := s.tracks.GetOrCreate(ctx, &db.Track{
		ID:         track.ID,
		Name:       track.Name,
		AlbumID:    albumID,
		DurationMs: track.DurationMs,
	})
	if err != nil {
		return fmt.Errorf("upserting track: %w", err)
	}
	if created {
		if err := s.tracks.LinkArtists(ctx, track.ID, artistIDs(track.Artists)); err != nil {
			return fmt.Errorf("linking track artists: %w", err)
		}
		// Genre snapshot: the union of the artists' genres at creation time.
		if err := s.tracks.SetGenres(ctx, track.ID, genres); err != nil {
			return fmt.Errorf("snapshotting track genres: %w", err)
		}
	}

	if err := s.ledger.Append(ctx, &db.HistoryEntry{
		UserID:   userID,
		TrackID:  track.ID,
		PlayedAt: item.PlayedAt,
	}); err != nil {
		return fmt.Errorf("appending history entry: %w", err)
	}
	return nil
}

// ensureArtists upserts the play's artists, enriching genre-less ones from
// the artist endpoint, and returns the deduplicated union of their genres.
func (s *Service) ensureArtists(ctx context.Context, userID uuid.UUID, refs []spotify.ArtistRef) ([]string, error) {
	var union []string
	seen := make(map[string]bool)

	for _, ref := range refs {
		if ref.ID == "" {
			continue
		}
		if _, err := s.artists.GetOrCreate(ctx, &db.Artist{ID: ref.ID, Name: ref.Name}); err != nil {
			return nil, fmt.Errorf("upserting artist: %w", err)
		}

		stored, err := s.artists.Get(ctx, ref.ID)
		if err != nil {
			return nil, fmt.Errorf("loading artist: %w", err)
		}

		genres := stored.Genres
		if len(genres) == 0 {
			// Enrichment happens at most until genres stick; a fetch failure
			// just leaves the artist genre-less for now.
			details, ok := s.fetcher.ArtistDetails(ctx, userID, ref.ID)
			if ok && len(details.Genres) > 0 {
				if err := s.artists.UpdateGenres(ctx, ref.ID, details.Genres); err != nil {
					return nil, fmt.Errorf("enriching artist genres: %w", err)
				}
				genres = details.Genres
			}
		}

		for _, g := range genres {
			if !seen[g] {
				seen[g] = true
				union = append(union, g)
			}
		}
	}
	return union, nil
}

// ensureAlbum upserts the album, associating it on first sight with the
// track's artists. Those are already upserted; the album payload's own refs
// may name artists that never were.
func (s *Service) ensureAlbum(ctx context.Context, album spotify.AlbumObject, artists []spotify.ArtistRef) error {
	created, err := s.albums.GetOrCreate(ctx, &db.Album{ID: album.ID, Name: album.Name})
	if err != nil {
		return fmt.Errorf("upserting album: %w", err)
	}
	if created {
		if err := s.albums.LinkArtists(ctx, album.ID, artistIDs(artists)); err != nil {
			return fmt.Errorf("linking album artists: %w", err)
		}
	}
	return nil
}

func artistIDs(refs []spotify.ArtistRef) []string {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.ID != "" {
			ids = append(ids, ref.ID)
		}
	}
	return ids
}
