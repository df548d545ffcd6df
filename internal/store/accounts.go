package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// OAuthAccount is one per-user per-provider credential row. ExpiresAt is
// epoch seconds; zero means "unknown, treat as expired".
type OAuthAccount struct {
	UserID       string
	Provider     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

// Expired reports whether the access token is past (or at) its expiry.
func (a *OAuthAccount) Expired(now time.Time) bool {
	return a.ExpiresAt <= now.Unix()
}

type Accounts struct {
	db *sql.DB
	mu sync.RWMutex
}

func NewAccounts(d *DB) *Accounts {
	return &Accounts{db: d.SQL()}
}

// Get returns the credential for (userID, provider), or nil when none exists.
func (a *Accounts) Get(userID, provider string) (*OAuthAccount, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	row := a.db.QueryRow(`
		SELECT COALESCE(access_token, ''), COALESCE(refresh_token, ''), expires_at
		FROM oauth_accounts WHERE user_id = ? AND provider = ?
	`, userID, provider)

	acct := &OAuthAccount{UserID: userID, Provider: provider}
	err := row.Scan(&acct.AccessToken, &acct.RefreshToken, &acct.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load oauth account: %w", err)
	}
	return acct, nil
}

// Save upserts the credential row. Called by the token manager after a
// successful refresh; last write wins on concurrent refreshes.
func (a *Accounts) Save(acct *OAuthAccount) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.db.Exec(`
		INSERT INTO oauth_accounts (user_id, provider, access_token, refresh_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = CURRENT_TIMESTAMP
	`, acct.UserID, acct.Provider, acct.AccessToken, acct.RefreshToken, acct.ExpiresAt)

	if err != nil {
		return fmt.Errorf("failed to save oauth account: %w", err)
	}
	return nil
}
