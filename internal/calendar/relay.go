package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RelayClient fetches events from Power-Automate relay URLs. The relay
// authenticates to Microsoft 365 on the user's behalf and returns plain
// JSON; it can be slow and offers no stable event ids, so responses are
// cached briefly per URL and ids are synthesized.
type RelayClient struct {
	httpClient *http.Client
	cache      *relayCache
}

func NewRelayClient(timeout, cacheTTL time.Duration) *RelayClient {
	return &RelayClient{
		httpClient: &http.Client{Timeout: timeout},
		cache:      newRelayCache(cacheTTL),
	}
}

// relayEvent is the raw relay record shape. The relay's Get Calendar Events
// flow emits title/startTime/endTime; Graph-style envelopes use
// subject/start/end. The iCalUld spelling is the relay's, not a typo here.
type relayEvent struct {
	Title       string `json:"title"`
	Subject     string `json:"subject"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Description string `json:"description"`
	Body        string `json:"body"`
	IsAllDay    bool   `json:"isAllDay"`

	ICalUID    string `json:"iCalUId"`
	ICalUIDAlt string `json:"iCalUld"`

	Recurrence          string `json:"recurrence"`
	RecurrenceEndDate   string `json:"recurrenceEndDate"`
	IsRecurringInstance bool   `json:"isRecurringInstance"`
	RecurringMasterID   string `json:"recurringMasterId"`
}

func (r relayEvent) title() string {
	if r.Title != "" {
		return r.Title
	}
	return r.Subject
}

func (r relayEvent) startString() string {
	if r.StartTime != "" {
		return r.StartTime
	}
	return r.Start
}

func (r relayEvent) endString() string {
	if r.EndTime != "" {
		return r.EndTime
	}
	return r.End
}

func (r relayEvent) uid() string {
	if r.ICalUID != "" {
		return r.ICalUID
	}
	return r.ICalUIDAlt
}

// recurrenceInfo classifies the raw record before normalization.
func (r relayEvent) recurrenceInfo() RecurrenceInfo {
	if r.IsRecurringInstance || r.RecurringMasterID != "" {
		return RecurrenceInfo{Kind: RecurrenceInstance, SeriesID: r.RecurringMasterID}
	}
	rule := strings.ToLower(strings.TrimSpace(r.Recurrence))
	if rule != "" && rule != "none" {
		info := RecurrenceInfo{Kind: RecurrenceMaster, Rule: rule}
		if until, ok := parseRelayTime(r.RecurrenceEndDate); ok {
			info.Until = until
		}
		return info
	}
	return RecurrenceInfo{Kind: RecurrenceNone}
}

// relayEnvelope covers the two wrapped payload shapes: {events: [...]} and
// the Graph-style {value: [...]}.
type relayEnvelope struct {
	Events []relayEvent `json:"events"`
	Value  []relayEvent `json:"value"`
}

// FetchEvents GETs the relay URL and returns the normalized, window-filtered
// events. Any failure (non-2xx, timeout, malformed JSON) yields a
// FetchResult carrying the error and no events.
func (c *RelayClient) FetchEvents(ctx context.Context, target RelayTarget, timeMin, timeMax time.Time) FetchResult {
	sourceID := target.SourceID
	if sourceID == "" {
		sourceID = "default"
	}
	result := FetchResult{Source: "o365", CalendarID: "o365_" + sourceID}

	body, ok := c.cache.get(target.URL)
	if !ok {
		var err error
		body, err = c.fetch(ctx, target.URL)
		if err != nil {
			result.Err = fmt.Errorf("relay fetch: %w", err)
			return result
		}
		c.cache.set(target.URL, body)
	}

	raw, err := decodeRelayPayload(body)
	if err != nil {
		result.Err = fmt.Errorf("relay payload: %w", err)
		return result
	}

	result.Events = normalizeRelayEvents(raw, target, sourceID, timeMin, timeMax)
	return result
}

func (c *RelayClient) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("relay returned %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// decodeRelayPayload unwraps any of the three accepted shapes: a bare
// array, {events: [...]}, or {value: [...]}.
func decodeRelayPayload(body []byte) ([]relayEvent, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var events []relayEvent
		if err := json.Unmarshal(body, &events); err != nil {
			return nil, err
		}
		return events, nil
	}

	var env relayEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	if env.Events != nil {
		return env.Events, nil
	}
	return env.Value, nil
}

func normalizeRelayEvents(raw []relayEvent, target RelayTarget, sourceID string, timeMin, timeMax time.Time) []Event {
	var out []Event
	for _, r := range raw {
		info := r.recurrenceInfo()

		if info.Kind == RecurrenceMaster {
			// The relay sometimes returns an unexpanded series master.
			// Expand it into concrete instances inside the window.
			instances, err := expandMaster(r, info, target, sourceID, timeMin, timeMax)
			if err != nil {
				log.Warn().Err(err).Str("title", r.title()).Msg("Failed to expand recurring master")
				continue
			}
			out = append(out, instances...)
			continue
		}

		ev, ok := mapRelayEvent(r, info, target, sourceID)
		if !ok {
			continue
		}
		if !inWindow(ev, info.Kind == RecurrenceInstance, timeMin, timeMax) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// mapRelayEvent shapes one raw relay record. Events lacking a usable start
// are dropped.
func mapRelayEvent(r relayEvent, info RecurrenceInfo, target RelayTarget, sourceID string) (Event, bool) {
	start, startOK := parseRelayTime(r.startString())
	if !startOK {
		return Event{}, false
	}

	ev := Event{
		ID:           synthesizeRelayID(r, sourceID),
		CalendarID:   "o365_" + sourceID,
		Summary:      r.title(),
		Description:  relayDescription(r),
		Source:       sourceKind(target.Tags, true),
		CalendarName: target.Name,
		Tags:         target.Tags,
	}
	if ev.Summary == "" {
		ev.Summary = "No Title (Work)"
	}

	ev.Start = relayEventTime(r.startString(), start, r.IsAllDay)
	if end, ok := parseRelayTime(r.endString()); ok {
		ev.End = relayEventTime(r.endString(), end, r.IsAllDay)
	} else {
		ev.End = ev.Start
	}

	if info.Kind == RecurrenceInstance {
		ev.IsRecurring = true
		ev.SeriesMasterID = info.SeriesID
		ev.Recurrence = r.Recurrence
	}
	return ev, true
}

func relayDescription(r relayEvent) string {
	if r.Description != "" {
		return r.Description
	}
	return r.Body
}

// relayEventTime picks the date-vs-dateTime representation: a date-only
// string or an explicit all-day flag becomes a date.
func relayEventTime(s string, t time.Time, allDay bool) EventTime {
	if allDay || len(strings.TrimSpace(s)) == 10 {
		return EventTime{Date: t.Format("2006-01-02")}
	}
	return EventTime{DateTime: t.UTC().Format(time.RFC3339)}
}

// synthesizeRelayID builds a per-response unique id, since the relay
// guarantees no stable one.
func synthesizeRelayID(r relayEvent, sourceID string) string {
	key := r.uid()
	if key == "" {
		key = strings.ReplaceAll(strings.ToLower(r.title()), " ", "_")
		if key == "" {
			key = sourceID
		}
	}
	return fmt.Sprintf("o365_%s_%s", key, uuid.NewString()[:8])
}

// inWindow applies the window-overlap filter. Non-recurring events must
// start at/after timeMin and end at/before timeMax, or span the window's
// lower boundary. Recurring instances use the relaxed inclusive-overlap
// test so valid instances are not lost to strict boundary filtering.
func inWindow(ev Event, recurring bool, timeMin, timeMax time.Time) bool {
	start := ev.Start.Time()
	end := ev.End.Time()
	if end.IsZero() {
		end = start
	}

	if recurring {
		return start.Before(timeMax) && end.After(timeMin)
	}

	if !start.Before(timeMin) && !end.After(timeMax) {
		return true
	}
	return start.Before(timeMin) && end.After(timeMin)
}

// parseRelayTime accepts the datetime formats observed in relay output.
func parseRelayTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05.999999",
		"2006-01-02",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// relayCache is a short-TTL in-memory response cache keyed by URL. It
// absorbs bursts of requests to a possibly slow relay; it is separate from
// the persistent event cache.
type relayCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]relayCacheEntry
}

type relayCacheEntry struct {
	body []byte
	at   time.Time
}

func newRelayCache(ttl time.Duration) *relayCache {
	return &relayCache{ttl: ttl, entries: make(map[string]relayCacheEntry)}
}

func (c *relayCache) get(url string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[url]
	if !ok || time.Since(e.at) > c.ttl {
		return nil, false
	}
	return e.body, true
}

func (c *relayCache) set(url string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = relayCacheEntry{body: body, at: time.Now()}
}
