package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LoadCredentials fetches a user's stored broker tokens. Returns sql.ErrNoRows
// wrapped when no row exists yet (a brand-new user with no prior session).
func (s *Store) LoadCredentials(ctx context.Context, userID int64) (accessToken, refreshToken string, expiresAt time.Time, err error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT access_token, refresh_token, expires_at FROM user_credentials WHERE user_id = ?", userID)
	if err := row.Scan(&accessToken, &refreshToken, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return "", "", time.Time{}, fmt.Errorf("credentials for user %d: %w", userID, sql.ErrNoRows)
		}
		return "", "", time.Time{}, fmt.Errorf("load credentials for user %d: %w", userID, err)
	}
	return accessToken, refreshToken, expiresAt, nil
}

// SaveCredentials upserts a user's broker tokens after a refresh.
func (s *Store) SaveCredentials(ctx context.Context, userID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO user_credentials (user_id, access_token, refresh_token, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET access_token = excluded.access_token,
			refresh_token = excluded.refresh_token, expires_at = excluded.expires_at`,
		userID, accessToken, refreshToken, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("save credentials for user %d: %w", userID, err)
	}
	return nil
}
