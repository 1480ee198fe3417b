package spotify

import "time"

// RecentlyPlayedPage is one page of the recently-played endpoint.
type RecentlyPlayedPage struct {
	Items []PlayedItem `json:"items"`
}

// PlayedItem is a single play event.
type PlayedItem struct {
	Track    TrackObject `json:"track"`
	PlayedAt time.Time   `json:"played_at"`
}

// TrackObject is the track payload inside a play event.
type TrackObject struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	DurationMs int         `json:"duration_ms"`
	Album      AlbumObject `json:"album"`
	Artists    []ArtistRef `json:"artists"`
}

// AlbumObject is the album payload inside a track.
type AlbumObject struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Artists []ArtistRef `json:"artists"`
}

// ArtistRef is the simplified artist reference embedded in tracks and albums.
// It carries no genres; those come from ArtistDetails.
type ArtistRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ArtistDetails is the full artist payload.
type ArtistDetails struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Genres []string `json:"genres"`
	Images []Image  `json:"images"`
}

// Image is an artwork reference.
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ImageURL returns the first image URL, or nil when the artist has none.
func (a *ArtistDetails) ImageURL() *string {
	if len(a.Images) == 0 || a.Images[0].URL == "" {
		return nil
	}
	url := a.Images[0].URL
	return &url
}

// TopArtistsPage is one page of the top-artists endpoint.
type TopArtistsPage struct {
	Items []ArtistDetails `json:"items"`
}
