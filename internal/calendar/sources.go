package calendar

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"calhub/internal/store"
)

// GoogleTarget is one concrete Google calendar to fetch. Timezone, when
// set, is passed through to the provider so expanded instances land on the
// user's local dates.
type GoogleTarget struct {
	CalendarID string
	Name       string
	Tags       []string
	Timezone   string
}

// RelayTarget is one concrete Power-Automate relay URL to fetch.
type RelayTarget struct {
	URL      string
	SourceID string
	Name     string
	Tags     []string
}

// GraphTarget is one O365 source connected via OAuth rather than a relay
// URL, fetched directly from Microsoft Graph. An empty CalendarID means
// the account's default calendar.
type GraphTarget struct {
	CalendarID string
	SourceID   string
	Name       string
	Tags       []string
}

// ResolvedSources is the concrete fetch target set for one aggregation.
// Apple and "other" sources are reserved types with no fetcher; they are
// counted so callers can report them but contribute no targets.
type ResolvedSources struct {
	Google      []GoogleTarget
	Relays      []RelayTarget
	Graph       []GraphTarget
	Unfetchable int
}

// Query carries the raw request parameters that participate in resolution.
type Query struct {
	CalendarID string
	O365URL    string
	// Timezone overrides the stored settings timezone for this request.
	Timezone string
	// UseCalendarSources selects settings-based resolution. When false the
	// raw CalendarID/O365URL parameters are used directly.
	UseCalendarSources bool
}

// ResolveSources turns a user's configuration into concrete fetch targets.
// Resolution order: explicit calendarSources list, then the legacy
// selectedCals/powerAutomateUrl fields, then raw query parameters. When
// nothing resolves but a usable access token exists, the implicit
// "primary" Google calendar is used as a degraded default.
func ResolveSources(settings *store.UserSettings, q Query, hasToken bool) ResolvedSources {
	var out ResolvedSources

	switch {
	case !q.UseCalendarSources && (q.CalendarID != "" || q.O365URL != ""):
		out = targetsFromQuery(q)
	case settings != nil && len(settings.CalendarSources) > 0:
		out = targetsFromSources(settings.CalendarSources)
	case settings != nil && (len(settings.SelectedCals) > 0 || settings.PowerAutomateURL != ""):
		out = targetsFromLegacy(settings)
	default:
		out = targetsFromQuery(q)
	}

	if len(out.Google) == 0 && len(out.Relays) == 0 && len(out.Graph) == 0 && hasToken {
		out.Google = []GoogleTarget{{CalendarID: "primary"}}
	}

	// Request timezone wins over the stored one.
	tz := q.Timezone
	if tz == "" && settings != nil {
		tz = settings.Timezone
	}
	for i := range out.Google {
		out.Google[i].Timezone = tz
	}

	return out
}

func targetsFromSources(sources []store.CalendarSource) ResolvedSources {
	var out ResolvedSources
	for _, src := range sources {
		if !src.IsEnabled {
			continue
		}
		switch src.Type {
		case "google":
			if src.SourceID == "" {
				continue
			}
			out.Google = append(out.Google, GoogleTarget{
				CalendarID: src.SourceID,
				Name:       src.Name,
				Tags:       src.Tags,
			})
		case "o365":
			switch {
			case strings.HasPrefix(src.ConnectionData, "http"):
				out.Relays = append(out.Relays, RelayTarget{
					URL:      src.ConnectionData,
					SourceID: src.ID,
					Name:     src.Name,
					Tags:     src.Tags,
				})
			case strings.HasPrefix(src.ConnectionData, "oauth:"):
				// OAuth-connected O365 goes through Graph directly. The
				// suffix names the Graph calendar; empty means default.
				out.Graph = append(out.Graph, GraphTarget{
					CalendarID: strings.TrimPrefix(src.ConnectionData, "oauth:"),
					SourceID:   src.ID,
					Name:       src.Name,
					Tags:       src.Tags,
				})
			default:
				out.Unfetchable++
			}
		default:
			// apple/other are reserved, unimplemented
			out.Unfetchable++
		}
	}
	return out
}

func targetsFromLegacy(settings *store.UserSettings) ResolvedSources {
	var out ResolvedSources
	cals := settings.SelectedCals
	if len(cals) == 0 {
		cals = []string{"primary"}
	}
	for _, id := range cals {
		if id == "" {
			continue
		}
		out.Google = append(out.Google, GoogleTarget{CalendarID: id})
	}
	if strings.HasPrefix(settings.PowerAutomateURL, "http") {
		out.Relays = append(out.Relays, RelayTarget{
			URL:      settings.PowerAutomateURL,
			SourceID: "default",
		})
	}
	return out
}

func targetsFromQuery(q Query) ResolvedSources {
	var out ResolvedSources
	if q.CalendarID != "" {
		out.Google = append(out.Google, GoogleTarget{CalendarID: q.CalendarID})
	}
	if strings.HasPrefix(q.O365URL, "http") {
		out.Relays = append(out.Relays, RelayTarget{URL: q.O365URL, SourceID: "default"})
	}
	return out
}

// SourceHash is a deterministic digest over the enabled sources'
// (id, type, sourceId, isEnabled, tags) tuples. Callers compare hashes to
// cheaply detect configuration changes without a full diff.
func SourceHash(sources []store.CalendarSource) string {
	tuples := make([]string, 0, len(sources))
	for _, src := range sources {
		if !src.IsEnabled {
			continue
		}
		tags := append([]string(nil), src.Tags...)
		sort.Strings(tags)
		tuples = append(tuples, strings.Join([]string{
			src.ID, src.Type, src.SourceID, strconv.FormatBool(src.IsEnabled),
			strings.Join(tags, ","),
		}, "|"))
	}
	sort.Strings(tuples)

	sum := sha256.Sum256([]byte(strings.Join(tuples, ";")))
	return hex.EncodeToString(sum[:])
}
