package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hazyhaar/area/dbopen"
)

// GetAccount returns the provider account of a user, tokens unsealed.
func (s *Store) GetAccount(ctx context.Context, userID, provider string) (*ProviderAccount, error) {
	var acc ProviderAccount
	var expires sql.NullInt64
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, access_token, refresh_token,
		expires_at, created_at, updated_at
		FROM provider_accounts WHERE user_id = ? AND provider = ?`, userID, provider,
	).Scan(&acc.ID, &acc.UserID, &acc.Provider, &acc.ProviderUserID,
		&acc.AccessToken, &acc.RefreshToken, &expires, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s/%s: %w", userID, provider, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s/%s: %w", userID, provider, err)
	}
	acc.ExpiresAt = int64Ptr(expires)
	if acc.AccessToken, err = s.sealer.Open(acc.AccessToken); err != nil {
		return nil, err
	}
	if acc.RefreshToken, err = s.sealer.Open(acc.RefreshToken); err != nil {
		return nil, err
	}
	return &acc, nil
}

// UpsertAccount creates or replaces the (user, provider) account. A second
// user linking the same provider_user_id fails with a unique violation.
func (s *Store) UpsertAccount(ctx context.Context, acc *ProviderAccount) error {
	if acc.ID == "" {
		acc.ID = s.newID()
	}
	now := s.Now()
	if acc.CreatedAt == 0 {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now
	access, err := s.sealer.Seal(acc.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := s.sealer.Seal(acc.RefreshToken)
	if err != nil {
		return err
	}
	_, err = dbopen.Exec(ctx, s.DB,
		`INSERT INTO provider_accounts (id, user_id, provider, provider_user_id,
		access_token, refresh_token, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			provider_user_id = excluded.provider_user_id,
			access_token     = excluded.access_token,
			refresh_token    = excluded.refresh_token,
			expires_at       = excluded.expires_at,
			updated_at       = excluded.updated_at`,
		acc.ID, acc.UserID, acc.Provider, acc.ProviderUserID,
		access, refresh, nullInt64(acc.ExpiresAt), acc.CreatedAt, acc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert account %s/%s: %w", acc.UserID, acc.Provider, err)
	}
	return nil
}

// UpdateTokens persists a refreshed token set. An empty refresh token keeps
// the stored one (providers may omit it on refresh). Access token, expiry
// and refresh token change together or not at all.
func (s *Store) UpdateTokens(ctx context.Context, userID, provider, access, refresh string, expiresAt *int64) error {
	sealedAccess, err := s.sealer.Seal(access)
	if err != nil {
		return err
	}
	sealedRefresh, err := s.sealer.Seal(refresh)
	if err != nil {
		return err
	}
	err = dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE provider_accounts SET access_token = ?, expires_at = ?, updated_at = ?
			WHERE user_id = ? AND provider = ?`,
			sealedAccess, nullInt64(expiresAt), s.Now(), userID, provider)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if sealedRefresh == "" {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE provider_accounts SET refresh_token = ? WHERE user_id = ? AND provider = ?`,
			sealedRefresh, userID, provider)
		return err
	})
	if err != nil {
		return fmt.Errorf("update tokens %s/%s: %w", userID, provider, err)
	}
	return nil
}

// DeleteAccount removes a provider account. Deleting a missing account is
// not an error.
func (s *Store) DeleteAccount(ctx context.Context, userID, provider string) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`DELETE FROM provider_accounts WHERE user_id = ? AND provider = ?`, userID, provider)
	if err != nil {
		return fmt.Errorf("delete account %s/%s: %w", userID, provider, err)
	}
	return nil
}
