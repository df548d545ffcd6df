package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"calhub/internal/cache"
	"calhub/internal/calendar"
	"calhub/internal/store"
	"calhub/internal/token"
)

var (
	// ErrNoCredential is returned by CreateEvent when no usable Google
	// credential exists for the user.
	ErrNoCredential = errors.New("no usable credential")
	// ErrUnimplemented is returned for operations on calendar types with
	// no write path (O365, apple, other).
	ErrUnimplemented = errors.New("not implemented for this calendar type")
)

// Aggregator reconciles events from all of a user's configured calendar
// sources into one unified, time-windowed list. Provider and credential
// failures are absorbed per source; only request-shape problems surface to
// the caller.
type Aggregator struct {
	settings *store.Settings
	accounts *store.Accounts
	tokens   *token.Manager
	google   *calendar.GoogleClient
	graph    *calendar.GraphClient
	relay    *calendar.RelayClient
	cache    *cache.Service
}

func NewAggregator(settings *store.Settings, accounts *store.Accounts, tokens *token.Manager,
	google *calendar.GoogleClient, graph *calendar.GraphClient, relay *calendar.RelayClient,
	cacheSvc *cache.Service) *Aggregator {
	return &Aggregator{
		settings: settings,
		accounts: accounts,
		tokens:   tokens,
		google:   google,
		graph:    graph,
		relay:    relay,
		cache:    cacheSvc,
	}
}

// Request is one validated aggregation call. TimeMin/TimeMax are validated
// by the API layer before the engine runs.
type Request struct {
	UserID  string
	TimeMin time.Time
	TimeMax time.Time
	Query   calendar.Query
}

// Events resolves the user's sources, fans out every fetch concurrently,
// and returns the merged event list. A total resolution or credential
// failure yields an empty list, never an error: the UI degrades to "no
// events" rather than an error screen.
func (a *Aggregator) Events(ctx context.Context, req Request) []calendar.Event {
	settings, err := a.settings.Get(req.UserID)
	if err != nil {
		log.Error().Err(err).Str("user", req.UserID).Msg("Failed to load settings")
		settings = &store.UserSettings{UserID: req.UserID}
	}

	acct, err := a.accounts.Get(req.UserID, "google")
	if err != nil {
		log.Error().Err(err).Str("user", req.UserID).Msg("Failed to load oauth account")
	}
	accessToken := a.tokens.EnsureValid(ctx, acct)

	resolved := calendar.ResolveSources(settings, req.Query, accessToken != "")
	if len(resolved.Google) == 0 && len(resolved.Relays) == 0 && len(resolved.Graph) == 0 {
		return []calendar.Event{}
	}

	if cached, err := a.cache.Get(req.UserID, req.TimeMin, req.TimeMax); err == nil && len(cached) > 0 {
		log.Debug().Str("user", req.UserID).Int("events", len(cached)).Msg("Serving events from cache")
		return cached
	}

	results := a.fetchAll(ctx, req, resolved, accessToken, acct)

	merged := []calendar.Event{}
	for _, res := range results {
		if res.Err != nil {
			// One source's failure must not abort the aggregation; it
			// contributes nothing and the rest proceed.
			log.Warn().Err(res.Err).Str("source", res.Source).Str("calendar", res.CalendarID).
				Msg("Source fetch failed, dropping its contribution")
			continue
		}
		merged = append(merged, res.Events...)

		if err := a.cache.Put(req.UserID, res.Events, req.TimeMin, req.TimeMax, res.Source, res.CalendarID); err != nil {
			log.Warn().Err(err).Str("source", res.Source).Msg("Failed to cache events")
		}
	}

	return merged
}

// fetchAll starts every source fetch together and waits for all of them to
// settle. No ordering is guaranteed across sources.
func (a *Aggregator) fetchAll(ctx context.Context, req Request, resolved calendar.ResolvedSources,
	accessToken string, acct *store.OAuthAccount) []calendar.FetchResult {

	total := len(resolved.Google) + len(resolved.Relays) + len(resolved.Graph)
	out := make(chan calendar.FetchResult, total)
	var wg sync.WaitGroup

	for _, target := range resolved.Google {
		wg.Add(1)
		go func(t calendar.GoogleTarget) {
			defer wg.Done()
			out <- a.google.FetchEvents(ctx, t, req.TimeMin, req.TimeMax, accessToken, acct)
		}(target)
	}

	for _, target := range resolved.Relays {
		wg.Add(1)
		go func(t calendar.RelayTarget) {
			defer wg.Done()
			out <- a.relay.FetchEvents(ctx, t, req.TimeMin, req.TimeMax)
		}(target)
	}

	if len(resolved.Graph) > 0 {
		msToken := a.microsoftToken(ctx, req.UserID)
		for _, target := range resolved.Graph {
			wg.Add(1)
			go func(t calendar.GraphTarget) {
				defer wg.Done()
				if msToken == "" {
					out <- calendar.FetchResult{Source: "o365", CalendarID: "o365_" + t.SourceID,
						Err: ErrNoCredential}
					return
				}
				out <- a.graph.FetchEvents(ctx, t, req.TimeMin, req.TimeMax, msToken)
			}(target)
		}
	}

	wg.Wait()
	close(out)

	results := make([]calendar.FetchResult, 0, total)
	for res := range out {
		results = append(results, res)
	}
	return results
}

// microsoftToken resolves a Graph-capable access token for OAuth-connected
// O365 sources. Missing credentials degrade to "source contributes
// nothing", same as every other per-source failure.
func (a *Aggregator) microsoftToken(ctx context.Context, userID string) string {
	acct, err := a.accounts.Get(userID, "microsoft")
	if err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("Failed to load microsoft oauth account")
		return ""
	}
	return a.tokens.EnsureValid(ctx, acct)
}

// ListO365Calendars returns the Graph calendars reachable with the user's
// Microsoft credential, for picking which ones to configure as sources.
func (a *Aggregator) ListO365Calendars(ctx context.Context, userID string) ([]calendar.GraphCalendar, error) {
	accessToken := a.microsoftToken(ctx, userID)
	if accessToken == "" {
		return nil, ErrNoCredential
	}
	return a.graph.ListCalendars(ctx, accessToken)
}

// Delta returns cached events updated after lastSync whose window overlaps
// the requested range.
func (a *Aggregator) Delta(userID string, timeMin, timeMax, lastSync time.Time) ([]calendar.Event, bool) {
	events, hasNew, err := a.cache.Delta(userID, timeMin, timeMax, lastSync)
	if err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("Delta query failed")
		return []calendar.Event{}, false
	}
	if events == nil {
		events = []calendar.Event{}
	}
	return events, hasNew
}

// CreateEvent creates an event on a Google calendar. O365 calendar ids
// (and the reserved apple/other types) have no write path.
func (a *Aggregator) CreateEvent(ctx context.Context, userID, calendarID string, ev calendar.Event) (calendar.Event, error) {
	if strings.HasPrefix(calendarID, "o365_") {
		return calendar.Event{}, ErrUnimplemented
	}

	acct, err := a.accounts.Get(userID, "google")
	if err != nil {
		return calendar.Event{}, err
	}
	accessToken := a.tokens.EnsureValid(ctx, acct)
	if accessToken == "" {
		return calendar.Event{}, ErrNoCredential
	}

	return a.google.CreateEvent(ctx, accessToken, calendarID, ev)
}

// SaveSettings persists a user's calendar configuration, recomputes the
// source hash, and clears the user's cached events so a reconfigured or
// disabled source cannot leak stale results into the next aggregation.
func (a *Aggregator) SaveSettings(us *store.UserSettings) error {
	us.SourceHash = calendar.SourceHash(us.CalendarSources)

	if err := a.settings.Save(us); err != nil {
		return err
	}

	if err := a.cache.ClearUser(us.UserID); err != nil {
		log.Warn().Err(err).Str("user", us.UserID).Msg("Failed to invalidate cache after settings change")
	}
	return nil
}

// Settings returns the stored configuration for a user.
func (a *Aggregator) Settings(userID string) (*store.UserSettings, error) {
	return a.settings.Get(userID)
}
