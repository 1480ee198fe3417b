// Package spotify is a thin client for the Spotify Web API data endpoints.
//
// Every fetch absorbs transport and API failures into an absent result: the
// caller gets (nil, false) and decides what a missing page means for it. The
// client never invents partial data.
package spotify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.spotify.com/v1"

	// PageLimit is the Spotify maximum page size for recently-played.
	PageLimit = 50
)

// TokenSource supplies a valid access token for a user, or reports that none
// is available.
type TokenSource interface {
	ValidAccessToken(ctx context.Context, userID uuid.UUID) (string, bool)
}

// Client calls the Spotify Web API on behalf of linked users.
type Client struct {
	http    *resty.Client
	tokens  TokenSource
	limiter *rate.Limiter
	log     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL. Used in tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.http.SetBaseURL(baseURL)
	}
}

// WithRateLimit overrides the outbound request rate.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New creates a Spotify API client.
func New(tokens TokenSource, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(defaultBaseURL).
			SetTimeout(15 * time.Second),
		tokens:  tokens,
		limiter: rate.NewLimiter(rate.Limit(10), 10),
		log:     log.With().Str("component", "spotify_client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecentlyPlayed fetches one page of the user's recently played tracks. When
// after is non-nil only plays strictly after that instant are returned, the
// cursor travelling as epoch milliseconds. Absent on any failure.
func (c *Client) RecentlyPlayed(ctx context.Context, userID uuid.UUID, after *time.Time) (*RecentlyPlayedPage, bool) {
	token, ok := c.token(ctx, userID)
	if !ok {
		return nil, false
	}

	params := map[string]string{
		"limit": strconv.Itoa(PageLimit),
	}
	if after != nil {
		params["after"] = strconv.FormatInt(after.UnixMilli(), 10)
	}

	var page RecentlyPlayedPage
	ok = c.get(ctx, token, "/me/player/recently-played", params, &page)
	if !ok {
		return nil, false
	}
	return &page, true
}

// ArtistDetails fetches full artist metadata, including genres. Absent on any
// failure.
func (c *Client) ArtistDetails(ctx context.Context, userID uuid.UUID, artistID string) (*ArtistDetails, bool) {
	token, ok := c.token(ctx, userID)
	if !ok {
		return nil, false
	}

	var artist ArtistDetails
	ok = c.get(ctx, token, fmt.Sprintf("/artists/%s", artistID), nil, &artist)
	if !ok {
		return nil, false
	}
	return &artist, true
}

// TopArtists fetches the user's top artists for a Spotify time range
// (short_term, medium_term, long_term). Absent on any failure.
func (c *Client) TopArtists(ctx context.Context, userID uuid.UUID, timeRange string, limit int) ([]ArtistDetails, bool) {
	token, ok := c.token(ctx, userID)
	if !ok {
		return nil, false
	}

	params := map[string]string{
		"time_range": timeRange,
		"limit":      strconv.Itoa(limit),
	}
	var page TopArtistsPage
	ok = c.get(ctx, token, "/me/top/artists", params, &page)
	if !ok {
		return nil, false
	}
	return page.Items, true
}

func (c *Client) token(ctx context.Context, userID uuid.UUID) (string, bool) {
	token, ok := c.tokens.ValidAccessToken(ctx, userID)
	if !ok {
		c.log.Debug().Stringer("user_id", userID).Msg("no usable access token")
		return "", false
	}
	return token, true
}

func (c *Client) get(ctx context.Context, token, path string, params map[string]string, result any) bool {
	if err := c.limiter.Wait(ctx); err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("rate limiter wait aborted")
		return false
	}

	// ForceContentType makes a 200 with an unparseable body surface as an
	// error instead of a zero-valued result.
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParams(params).
		SetResult(result).
		ForceContentType("application/json").
		Get(path)
	if err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("spotify request failed")
		return false
	}
	if resp.IsError() {
		c.log.Warn().
			Int("status", resp.StatusCode()).
			Str("path", path).
			Msg("spotify request returned error status")
		return false
	}
	return true
}
