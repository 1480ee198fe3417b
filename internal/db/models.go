package db

import (
	"time"

	"github.com/google/uuid"
)

// User is the identity anchor for all per-user data.
type User struct {
	ID          uuid.UUID
	Email       string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LinkedAccount is a user's linked Spotify account, one-to-one with User.
type LinkedAccount struct {
	UserID        uuid.UUID
	SpotifyUserID string
	Email         string
	DisplayName   string
	AccessToken   string
	RefreshToken  string
	TokenExpiry   time.Time
	LastSyncAt    *time.Time // nullable
	LinkedAt      time.Time
}

// Linked reports whether the account carries a usable access token.
func (a *LinkedAccount) Linked() bool {
	return a != nil && a.AccessToken != ""
}

// Artist is a dimension entity keyed by its Spotify ID.
type Artist struct {
	ID       string
	Name     string
	ImageURL *string  // nullable
	Genres   []string // empty until enriched
}

// Album is a dimension entity keyed by its Spotify ID. Its artist set is
// assigned at creation and never updated afterwards.
type Album struct {
	ID   string
	Name string
}

// Track is a dimension entity keyed by its Spotify ID.
type Track struct {
	ID         string
	Name       string
	AlbumID    *string // nullable
	DurationMs int
}

// HistoryEntry is one immutable play event. The (user_id, played_at) tuple
// is unique per user; the play timestamp acts as the natural dedup key.
type HistoryEntry struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	TrackID  string
	PlayedAt time.Time
}

// PlayRecord is a history entry joined with its track dimensions, the shape
// the document generator and analytics queries consume.
type PlayRecord struct {
	PlayedAt    time.Time
	TrackID     string
	TrackName   string
	ArtistNames []string
	Genres      []string
	AlbumName   string
	DurationMs  int
}

// CachedTopArtist is one row of a per-user materialized top-artist ranking.
type CachedTopArtist struct {
	UserID        uuid.UUID
	TimeRange     string
	ArtistID      string
	ArtistName    string
	ImageURL      *string // nullable
	Rank          int
	LastUpdatedAt time.Time
}

// Document is one embedded, retrievable knowledge unit for the RAG pipeline.
type Document struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Source      string
	SummaryType string
	Content     string
	Embedding   []float32
	Metadata    map[string]any
	CreatedAt   time.Time
}

// Summary types written by the document generator.
const (
	SummaryMonthly           = "monthly"
	SummaryMonthlyStructured = "monthly_structured"
	SummaryDaily             = "daily"
	SummaryWeekly            = "weekly"
	SummaryHourlyPatterns    = "hourly_patterns"
	SummaryTopTracksGlobal   = "top_tracks_global"
)
