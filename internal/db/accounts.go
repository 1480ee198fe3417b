package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccountRepository handles linked Spotify account database operations.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// Upsert links a Spotify account to a user, replacing any previous link.
func (r *AccountRepository) Upsert(ctx context.Context, account *LinkedAccount) error {
	query := `
		INSERT INTO spotify_accounts (user_id, spotify_user_id, email, display_name, access_token, refresh_token, token_expiry, linked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			spotify_user_id = EXCLUDED.spotify_user_id,
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expiry = EXCLUDED.token_expiry
		RETURNING linked_at
	`
	err := r.pool.QueryRow(ctx, query,
		account.UserID,
		account.SpotifyUserID,
		account.Email,
		account.DisplayName,
		account.AccessToken,
		account.RefreshToken,
		account.TokenExpiry,
	).Scan(&account.LinkedAt)
	if err != nil {
		return fmt.Errorf("upserting spotify account: %w", err)
	}
	return nil
}

// Get retrieves the linked account for a user.
func (r *AccountRepository) Get(ctx context.Context, userID uuid.UUID) (*LinkedAccount, error) {
	query := `
		SELECT user_id, spotify_user_id, email, display_name, access_token, refresh_token, token_expiry, last_sync_at, linked_at
		FROM spotify_accounts
		WHERE user_id = $1
	`
	var account LinkedAccount
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&account.UserID,
		&account.SpotifyUserID,
		&account.Email,
		&account.DisplayName,
		&account.AccessToken,
		&account.RefreshToken,
		&account.TokenExpiry,
		&account.LastSyncAt,
		&account.LinkedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying spotify account: %w", err)
	}
	return &account, nil
}

// UpdateTokens stores a refreshed token pair for an account.
func (r *AccountRepository) UpdateTokens(ctx context.Context, userID uuid.UUID, accessToken, refreshToken string, expiry time.Time) error {
	query := `
		UPDATE spotify_accounts
		SET access_token = $2, refresh_token = $3, token_expiry = $4
		WHERE user_id = $1
	`
	result, err := r.pool.Exec(ctx, query, userID, accessToken, refreshToken, expiry)
	if err != nil {
		return fmt.Errorf("updating tokens: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastSync updates the last sync timestamp for an account.
func (r *AccountRepository) UpdateLastSync(ctx context.Context, userID uuid.UUID, syncTime time.Time) error {
	query := `
		UPDATE spotify_accounts
		SET last_sync_at = $2
		WHERE user_id = $1
	`
	result, err := r.pool.Exec(ctx, query, userID, syncTime)
	if err != nil {
		return fmt.Errorf("updating last sync: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete unlinks a user's Spotify account. History already ingested stays.
func (r *AccountRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	query := `DELETE FROM spotify_accounts WHERE user_id = $1`
	result, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("deleting spotify account: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExpiringBefore retrieves linked accounts whose token expires before the
// given instant. Accounts without a refresh token are skipped.
func (r *AccountRepository) ListExpiringBefore(ctx context.Context, threshold time.Time) ([]LinkedAccount, error) {
	query := `
		SELECT user_id, spotify_user_id, email, display_name, access_token, refresh_token, token_expiry, last_sync_at, linked_at
		FROM spotify_accounts
		WHERE token_expiry < $1 AND refresh_token <> ''
		ORDER BY token_expiry
	`
	rows, err := r.pool.Query(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("querying expiring accounts: %w", err)
	}
	defer rows.Close()

	var accounts []LinkedAccount
	for rows.Next() {
		var account LinkedAccount
		if err := rows.Scan(
			&account.UserID,
			&account.SpotifyUserID,
			&account.Email,
			&account.DisplayName,
			&account.AccessToken,
			&account.RefreshToken,
			&account.TokenExpiry,
			&account.LastSyncAt,
			&account.LinkedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}
