package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/auralis/auralis/internal/db"
)

// expiryBuffer is subtracted from the stored expiry when deciding whether a
// token is still usable, so a token never expires mid-request.
const expiryBuffer = 60 * time.Second

// spotifyEndpoint is the Spotify OAuth2 token endpoint.
var spotifyEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.spotify.com/authorize",
	TokenURL: "https://accounts.spotify.com/api/token",
}

// TokenManager owns access-token freshness for linked accounts: demand-driven
// refresh with an expiry buffer, plus a proactive sweep for the scheduler.
// Refreshes for the same account are serialized in-process.
type TokenManager struct {
	accounts AccountStore
	oauth    *oauth2.Config
	log      zerolog.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// TokenManagerOption configures a TokenManager.
type TokenManagerOption func(*TokenManager)

// WithTokenEndpoint overrides the OAuth token endpoint. Used in tests.
func WithTokenEndpoint(endpoint oauth2.Endpoint) TokenManagerOption {
	return func(m *TokenManager) {
		m.oauth.Endpoint = endpoint
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) TokenManagerOption {
	return func(m *TokenManager) {
		m.now = now
	}
}

// NewTokenManager creates a TokenManager.
func NewTokenManager(accounts AccountStore, clientID, clientSecret string, log zerolog.Logger, opts ...TokenManagerOption) *TokenManager {
	m := &TokenManager{
		accounts: accounts,
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     spotifyEndpoint,
		},
		log:   log.With().Str("component", "token_manager").Logger(),
		now:   time.Now,
		locks: make(map[uuid.UUID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ValidAccessToken returns a usable access token for the user, refreshing it
// first when it is within the expiry buffer. The second return is false when
// the user has no linked account or the refresh failed; callers treat that as
// an absent token, never as a fatal error.
func (m *TokenManager) ValidAccessToken(ctx context.Context, userID uuid.UUID) (string, bool) {
	account, err := m.accounts.Get(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return "", false
	}
	if err != nil {
		m.log.Error().Err(err).Stringer("user_id", userID).Msg("loading account for token check")
		return "", false
	}
	if !account.Linked() {
		return "", false
	}

	if m.fresh(account) {
		return account.AccessToken, true
	}

	lock := m.accountLock(userID)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	account, err = m.accounts.Get(ctx, userID)
	if err != nil {
		m.log.Error().Err(err).Stringer("user_id", userID).Msg("reloading account for refresh")
		return "", false
	}
	if m.fresh(account) {
		return account.AccessToken, true
	}

	refreshed, err := m.refresh(ctx, account)
	if err != nil {
		m.log.Warn().Err(err).Stringer("user_id", userID).Msg("token refresh failed")
		return "", false
	}
	return refreshed.AccessToken, true
}

// RefreshExpiring refreshes tokens expiring within the given window. Used by
// the proactive sweep; per-account failures are logged and counted, never
// propagated.
func (m *TokenManager) RefreshExpiring(ctx context.Context, within time.Duration) (refreshed, failed int) {
	threshold := m.now().Add(within)
	accounts, err := m.accounts.ListExpiringBefore(ctx, threshold)
	if err != nil {
		m.log.Error().Err(err).Msg("listing expiring accounts")
		return 0, 0
	}

	for i := range accounts {
		userID := accounts[i].UserID
		lock := m.accountLock(userID)
		lock.Lock()

		// A demand-driven refresh may have rotated the tokens since the
		// listing; replaying the superseded refresh token would fail the
		// exchange. Reload under the lock and skip accounts no longer
		// expiring within the window.
		account, err := m.accounts.Get(ctx, userID)
		if err != nil {
			lock.Unlock()
			failed++
			m.log.Warn().Err(err).Stringer("user_id", userID).Msg("reloading account for sweep")
			continue
		}
		if account.TokenExpiry.After(threshold) {
			lock.Unlock()
			continue
		}

		_, err = m.refresh(ctx, account)
		lock.Unlock()
		if err != nil {
			failed++
			m.log.Warn().Err(err).Stringer("user_id", userID).Msg("proactive refresh failed")
			continue
		}
		refreshed++
	}

	if refreshed > 0 || failed > 0 {
		m.log.Info().Int("refreshed", refreshed).Int("failed", failed).Msg("token sweep complete")
	}
	return refreshed, failed
}

// fresh reports whether the account's token outlives the expiry buffer.
func (m *TokenManager) fresh(account *db.LinkedAccount) bool {
	return account.TokenExpiry.After(m.now().Add(expiryBuffer))
}

// refresh exchanges the account's refresh token for a new token pair and
// persists it. Spotify may omit the refresh token from the response; the old
// one stays valid in that case and is kept.
func (m *TokenManager) refresh(ctx context.Context, account *db.LinkedAccount) (*db.LinkedAccount, error) {
	if account.RefreshToken == "" {
		return nil, fmt.Errorf("account %s has no refresh token", account.UserID)
	}

	source := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: account.RefreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}

	refreshToken := token.RefreshToken
	if refreshToken == "" {
		refreshToken = account.RefreshToken
	}

	if err := m.accounts.UpdateTokens(ctx, account.UserID, token.AccessToken, refreshToken, token.Expiry); err != nil {
		return nil, fmt.Errorf("persisting refreshed token: %w", err)
	}

	account.AccessToken = token.AccessToken
	account.RefreshToken = refreshToken
	account.TokenExpiry = token.Expiry
	return account, nil
}

func (m *TokenManager) accountLock(userID uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[userID] = lock
	}
	return lock
}
