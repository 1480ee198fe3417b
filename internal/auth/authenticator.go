// Package auth handles Spotify account linking and token lifecycle.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/auralis/auralis/internal/db"
)

var (
	// ErrNotLinked is returned when a user has no linked Spotify account.
	ErrNotLinked = errors.New("no linked spotify account")

	// ErrStateMismatch is returned when the OAuth state parameter doesn't match.
	ErrStateMismatch = errors.New("oauth state mismatch")
)

// AccountStore is the persistence surface the auth package needs.
type AccountStore interface {
	Upsert(ctx context.Context, account *db.LinkedAccount) error
	Get(ctx context.Context, userID uuid.UUID) (*db.LinkedAccount, error)
	UpdateTokens(ctx context.Context, userID uuid.UUID, accessToken, refreshToken string, expiry time.Time) error
	Delete(ctx context.Context, userID uuid.UUID) error
	ListExpiringBefore(ctx context.Context, threshold time.Time) ([]db.LinkedAccount, error)
}

// Authenticator runs the Spotify OAuth2 authorization-code flow and persists
// the resulting account link.
type Authenticator struct {
	auth     *spotifyauth.Authenticator
	accounts AccountStore
	log      zerolog.Logger
}

// NewAuthenticator creates an Authenticator for the link flow.
func NewAuthenticator(accounts AccountStore, clientID, clientSecret, redirectURL string, log zerolog.Logger) *Authenticator {
	auth := spotifyauth.New(
		spotifyauth.WithClientID(clientID),
		spotifyauth.WithClientSecret(clientSecret),
		spotifyauth.WithRedirectURL(redirectURL),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserReadRecentlyPlayed,
			spotifyauth.ScopeUserTopRead,
			spotifyauth.ScopeUserReadEmail,
			spotifyauth.ScopeUserReadPrivate,
		),
	)
	return &Authenticator{
		auth:     auth,
		accounts: accounts,
		log:      log.With().Str("component", "auth").Logger(),
	}
}

// AuthURL builds the Spotify consent page URL for the given state.
func (a *Authenticator) AuthURL(state string) string {
	return a.auth.AuthURL(state)
}

// Exchange trades the authorization code carried by the callback request for
// a token pair. The request's state must match the expected state.
func (a *Authenticator) Exchange(ctx context.Context, state string, r *http.Request) (*oauth2.Token, error) {
	if r.URL.Query().Get("state") != state {
		return nil, ErrStateMismatch
	}
	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		return nil, fmt.Errorf("spotify auth error: %s", errMsg)
	}
	token, err := a.auth.Token(ctx, state, r)
	if err != nil {
		return nil, fmt.Errorf("exchanging code for token: %w", err)
	}
	return token, nil
}

// Link fetches the Spotify profile behind the token and stores the account
// link for the user. Relinking replaces any previous token pair.
func (a *Authenticator) Link(ctx context.Context, userID uuid.UUID, token *oauth2.Token) (*db.LinkedAccount, error) {
	client := spotify.New(a.auth.Client(ctx, token))
	profile, err := client.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching spotify profile: %w", err)
	}

	account := &db.LinkedAccount{
		UserID:        userID,
		SpotifyUserID: profile.ID,
		Email:         profile.Email,
		DisplayName:   profile.DisplayName,
		AccessToken:   token.AccessToken,
		RefreshToken:  token.RefreshToken,
		TokenExpiry:   token.Expiry,
	}
	if err := a.accounts.Upsert(ctx, account); err != nil {
		return nil, fmt.Errorf("storing account link: %w", err)
	}

	a.log.Info().
		Stringer("user_id", userID).
		Str("spotify_user_id", profile.ID).
		Msg("spotify account linked")
	return account, nil
}

// Unlink removes a user's account link. Ingested history is kept.
func (a *Authenticator) Unlink(ctx context.Context, userID uuid.UUID) error {
	if err := a.accounts.Delete(ctx, userID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return ErrNotLinked
		}
		return fmt.Errorf("removing account link: %w", err)
	}
	a.log.Info().Stringer("user_id", userID).Msg("spotify account unlinked")
	return nil
}

// Status returns the user's linked account, or ErrNotLinked.
func (a *Authenticator) Status(ctx context.Context, userID uuid.UUID) (*db.LinkedAccount, error) {
	account, err := a.accounts.Get(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotLinked
	}
	if err != nil {
		return nil, fmt.Errorf("querying account link: %w", err)
	}
	return account, nil
}

// GenerateState creates a random state string for OAuth.
func GenerateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
