package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// GraphClient talks to Microsoft Graph directly for OAuth-connected O365
// accounts, the parallel path to the Power-Automate relay.
type GraphClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewGraphClient(timeout time.Duration) *GraphClient {
	return &GraphClient{
		baseURL:    graphBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewGraphClientWithBaseURL is used by tests to point at a local server.
func NewGraphClientWithBaseURL(baseURL string, timeout time.Duration) *GraphClient {
	return &GraphClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type GraphCalendar struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefaultCalendar"`
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphEvent struct {
	ID             string        `json:"id"`
	Subject        string        `json:"subject"`
	BodyPreview    string        `json:"bodyPreview"`
	IsAllDay       bool          `json:"isAllDay"`
	Start          graphDateTime `json:"start"`
	End            graphDateTime `json:"end"`
	Type           string        `json:"type"` // singleInstance | occurrence | exception | seriesMaster
	SeriesMasterID string        `json:"seriesMasterId"`
}

type graphList[T any] struct {
	Value []T `json:"value"`
}

// ListCalendars returns the user's Graph calendars.
func (c *GraphClient) ListCalendars(ctx context.Context, accessToken string) ([]GraphCalendar, error) {
	var out graphList[GraphCalendar]
	if err := c.get(ctx, "/me/calendars", accessToken, &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

// FetchEvents lists the calendar view for one Graph-connected calendar
// inside [timeMin, timeMax]. Graph expands recurring series server-side,
// so every returned item is a concrete occurrence. Events are always
// classified as work.
func (c *GraphClient) FetchEvents(ctx context.Context, target GraphTarget, timeMin, timeMax time.Time, accessToken string) FetchResult {
	sourceID := target.SourceID
	if sourceID == "" {
		sourceID = "default"
	}
	result := FetchResult{Source: "o365", CalendarID: "o365_" + sourceID}

	window := fmt.Sprintf("startDateTime=%s&endDateTime=%s",
		url.QueryEscape(timeMin.UTC().Format(time.RFC3339)),
		url.QueryEscape(timeMax.UTC().Format(time.RFC3339)))

	path := "/me/calendarView?" + window
	if target.CalendarID != "" {
		path = fmt.Sprintf("/me/calendars/%s/calendarView?%s", url.PathEscape(target.CalendarID), window)
	}

	var out graphList[graphEvent]
	if err := c.get(ctx, path, accessToken, &out); err != nil {
		result.Err = fmt.Errorf("graph calendar view %q: %w", target.CalendarID, err)
		return result
	}

	for _, raw := range out.Value {
		ev, ok := mapGraphEvent(raw, target, sourceID)
		if !ok {
			continue
		}
		result.Events = append(result.Events, ev)
	}
	return result
}

func mapGraphEvent(raw graphEvent, target GraphTarget, sourceID string) (Event, bool) {
	if raw.Start.DateTime == "" {
		return Event{}, false
	}

	ev := Event{
		ID:             raw.ID,
		CalendarID:     "o365_" + sourceID,
		Summary:        raw.Subject,
		Description:    raw.BodyPreview,
		Source:         SourceWork,
		CalendarName:   target.Name,
		Tags:           target.Tags,
		SeriesMasterID: raw.SeriesMasterID,
		IsRecurring:    raw.Type == "occurrence" || raw.Type == "exception",
	}
	if ev.Summary == "" {
		ev.Summary = "No Title"
	}

	if raw.IsAllDay {
		ev.Start = EventTime{Date: graphDate(raw.Start.DateTime)}
		ev.End = EventTime{Date: graphDate(raw.End.DateTime)}
	} else {
		ev.Start = EventTime{DateTime: graphRFC3339(raw.Start)}
		ev.End = EventTime{DateTime: graphRFC3339(raw.End)}
	}
	return ev, true
}

// graphDate truncates a Graph dateTime ("2024-01-10T00:00:00.0000000") to
// its date part.
func graphDate(s string) string {
	if len(s) >= 10 {
		return s[:10]
	}
	return s
}

// graphRFC3339 converts a Graph dateTime (no offset, zone named separately)
// into RFC 3339. Graph returns UTC when asked via the Prefer header.
func graphRFC3339(dt graphDateTime) string {
	s := dt.DateTime
	if i := strings.Index(s, "."); i > 0 {
		s = s[:i]
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC().Format(time.RFC3339)
	}
	return dt.DateTime
}

func (c *GraphClient) get(ctx context.Context, path, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("graph returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
