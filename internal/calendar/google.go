package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"calhub/internal/store"
	"calhub/internal/token"
)

// googleMaxResults is a pagination ceiling, not pagination: result sets
// beyond it are truncated.
const googleMaxResults = 250

// GoogleClient fetches and creates events through the Google Calendar API.
type GoogleClient struct {
	tokens   *token.Manager
	endpoint string
}

func NewGoogleClient(tokens *token.Manager) *GoogleClient {
	return &GoogleClient{tokens: tokens}
}

// NewGoogleClientWithEndpoint is used by tests to point at a local server.
func NewGoogleClientWithEndpoint(tokens *token.Manager, endpoint string) *GoogleClient {
	return &GoogleClient{tokens: tokens, endpoint: endpoint}
}

func (g *GoogleClient) service(ctx context.Context, accessToken string) (*gcal.Service, error) {
	opts := []option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})),
	}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	return gcal.NewService(ctx, opts...)
}

// FetchEvents lists events for one calendar inside [timeMin, timeMax]. On a
// 401 it refreshes the account's token once and retries the same request;
// any other failure yields a FetchResult carrying the error and no events.
func (g *GoogleClient) FetchEvents(ctx context.Context, target GoogleTarget, timeMin, timeMax time.Time, accessToken string, acct *store.OAuthAccount) FetchResult {
	result := FetchResult{Source: "google", CalendarID: target.CalendarID}

	if accessToken == "" {
		result.Err = errors.New("no access token")
		return result
	}

	items, err := g.list(ctx, target, timeMin, timeMax, accessToken)
	if isUnauthorized(err) {
		// Clock skew or revocation: one second-chance refresh, one retry.
		if refreshed := g.tokens.Refresh(ctx, acct); refreshed != "" {
			items, err = g.list(ctx, target, timeMin, timeMax, refreshed)
		}
	}
	if err != nil {
		result.Err = fmt.Errorf("google events list %q: %w", target.CalendarID, err)
		return result
	}

	for _, item := range items {
		ev, ok := mapGoogleEvent(item, target)
		if !ok {
			continue
		}
		result.Events = append(result.Events, ev)
	}
	return result
}

func (g *GoogleClient) list(ctx context.Context, target GoogleTarget, timeMin, timeMax time.Time, accessToken string) ([]*gcal.Event, error) {
	srv, err := g.service(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}

	call := srv.Events.List(target.CalendarID).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(googleMaxResults)
	if target.Timezone != "" {
		call = call.TimeZone(target.Timezone)
	}

	events, err := call.Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return events.Items, nil
}

// mapGoogleEvent shapes one raw Google item into the unified representation.
// Events lacking a usable start are dropped, not surfaced as errors.
func mapGoogleEvent(item *gcal.Event, target GoogleTarget) (Event, bool) {
	if item.Start == nil || (item.Start.DateTime == "" && item.Start.Date == "") {
		return Event{}, false
	}

	ev := Event{
		ID:           item.Id,
		CalendarID:   target.CalendarID,
		Summary:      item.Summary,
		Description:  item.Description,
		Source:       sourceKind(target.Tags, false),
		CalendarName: target.Name,
		Tags:         target.Tags,
		Start:        EventTime{DateTime: item.Start.DateTime, Date: item.Start.Date},
	}
	if ev.Summary == "" {
		ev.Summary = "No Title"
	}
	if item.End != nil {
		ev.End = EventTime{DateTime: item.End.DateTime, Date: item.End.Date}
	}
	return ev, true
}

// CreateEvent inserts an event into a Google calendar.
func (g *GoogleClient) CreateEvent(ctx context.Context, accessToken, calendarID string, ev Event) (Event, error) {
	srv, err := g.service(ctx, accessToken)
	if err != nil {
		return Event{}, fmt.Errorf("failed to create Calendar service: %w", err)
	}

	ins := &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.DateTime, Date: ev.Start.Date},
		End:         &gcal.EventDateTime{DateTime: ev.End.DateTime, Date: ev.End.Date},
	}

	created, err := srv.Events.Insert(calendarID, ins).Context(ctx).Do()
	if err != nil {
		return Event{}, fmt.Errorf("google events insert %q: %w", calendarID, err)
	}

	out, _ := mapGoogleEvent(created, GoogleTarget{CalendarID: calendarID, Tags: ev.Tags})
	out.Source = ev.Source
	if out.Source == "" {
		out.Source = SourcePersonal
	}
	log.Info().Str("calendar", calendarID).Str("event", created.Id).Msg("Created Google event")
	return out, nil
}

func isUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusUnauthorized
	}
	return false
}
