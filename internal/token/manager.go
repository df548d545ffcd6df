package token

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"calhub/internal/store"
)

// Manager holds and refreshes OAuth access tokens per provider per user.
// Every failure path resolves to an empty token; callers treat that as "no
// credential available" and drop the affected source rather than failing
// the whole aggregation.
type Manager struct {
	accounts     *store.Accounts
	config       *oauth2.Config
	tokenInfoURL string
	httpClient   *http.Client

	mu       sync.Mutex
	inflight map[string]*sync.Mutex
}

// NewManager creates a token manager for the Google provider. tokenURL and
// tokenInfoURL override the provider endpoints when non-empty (tests point
// them at a local server).
func NewManager(accounts *store.Accounts, clientID, clientSecret, tokenURL, tokenInfoURL string) *Manager {
	endpoint := google.Endpoint
	if tokenURL != "" {
		endpoint = oauth2.Endpoint{TokenURL: tokenURL}
	}
	return &Manager{
		accounts: accounts,
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     endpoint,
		},
		tokenInfoURL: tokenInfoURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		inflight:     make(map[string]*sync.Mutex),
	}
}

// EnsureValid returns a usable access token for the account, refreshing it
// first when the stored token is expired by timestamp or rejected by the
// introspection endpoint. Returns "" when no usable credential exists.
func (m *Manager) EnsureValid(ctx context.Context, acct *store.OAuthAccount) string {
	if acct == nil {
		return ""
	}

	if !acct.Expired(time.Now()) {
		if m.validate(ctx, acct.AccessToken) {
			return acct.AccessToken
		}
		log.Debug().Str("user", acct.UserID).Str("provider", acct.Provider).
			Msg("Token failed introspection despite valid timestamp")
	}

	return m.Refresh(ctx, acct)
}

// Refresh performs a refresh-token grant and persists the result. It is also
// the second-chance primitive fetchers call after a 401 on a seemingly-valid
// token. Returns "" when no refresh token exists or the grant fails.
func (m *Manager) Refresh(ctx context.Context, acct *store.OAuthAccount) string {
	if acct == nil || acct.RefreshToken == "" {
		return ""
	}

	// Serialize concurrent refreshes for the same user/provider so a burst
	// of fetches performs one grant instead of several.
	lock := m.lockFor(acct.UserID + "/" + acct.Provider)
	lock.Lock()
	defer lock.Unlock()

	// Another fetch may have refreshed while we waited.
	if fresh, err := m.accounts.Get(acct.UserID, acct.Provider); err == nil && fresh != nil {
		if fresh.AccessToken != acct.AccessToken && !fresh.Expired(time.Now()) {
			*acct = *fresh
			return fresh.AccessToken
		}
	}

	stale := &oauth2.Token{
		AccessToken:  acct.AccessToken,
		RefreshToken: acct.RefreshToken,
		Expiry:       time.Unix(1, 0), // force the token source to refresh
	}

	tok, err := m.configFor(acct.Provider).TokenSource(ctx, stale).Token()
	if err != nil {
		log.Warn().Err(err).Str("user", acct.UserID).Str("provider", acct.Provider).
			Msg("Token refresh failed")
		return ""
	}

	acct.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		acct.RefreshToken = tok.RefreshToken
	}
	acct.ExpiresAt = tok.Expiry.Unix()

	if err := m.accounts.Save(acct); err != nil {
		log.Warn().Err(err).Str("user", acct.UserID).Msg("Failed to persist refreshed token")
	}

	log.Debug().Str("user", acct.UserID).Str("provider", acct.Provider).
		Time("expires", tok.Expiry).Msg("Access token refreshed")
	return acct.AccessToken
}

// validate checks the token against the introspection endpoint. A missing
// endpoint or network failure counts as valid; only an explicit rejection
// triggers a refresh.
func (m *Manager) validate(ctx context.Context, accessToken string) bool {
	if m.tokenInfoURL == "" || accessToken == "" {
		return accessToken != ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.tokenInfoURL+"?access_token="+accessToken, nil)
	if err != nil {
		return true
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return true
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// configFor selects the token endpoint by provider. A tokenURL override
// (tests) applies to every provider.
func (m *Manager) configFor(provider string) *oauth2.Config {
	if provider == "microsoft" && m.config.Endpoint.TokenURL == google.Endpoint.TokenURL {
		cfg := *m.config
		cfg.Endpoint = microsoft.AzureADEndpoint("common")
		return &cfg
	}
	return m.config
}

func (m *Manager) lockFor(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.inflight[key]
	if !ok {
		lock = &sync.Mutex{}
		m.inflight[key] = lock
	}
	return lock
}
