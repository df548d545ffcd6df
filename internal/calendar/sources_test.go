package calendar

import (
	"testing"

	"calhub/internal/store"
)

func TestResolveSources_ExplicitList(t *testing.T) {
	settings := &store.UserSettings{
		UserID: "u1",
		CalendarSources: []store.CalendarSource{
			{ID: "s1", Type: "google", SourceID: "primary", Tags: []string{"personal"}, IsEnabled: true},
			{ID: "s2", Type: "google", SourceID: "team@group.calendar.google.com", Tags: []string{"work"}, IsEnabled: true},
			{ID: "s3", Type: "o365", ConnectionData: "https://relay.example.com/events", Tags: []string{"work"}, IsEnabled: true},
			{ID: "s4", Type: "o365", ConnectionData: "oauth:work-calendar", IsEnabled: true},
			{ID: "s5", Type: "apple", IsEnabled: true},
		},
	}

	out := ResolveSources(settings, Query{UseCalendarSources: true}, true)

	if len(out.Google) != 2 {
		t.Fatalf("expected 2 google targets, got %d", len(out.Google))
	}
	if len(out.Relays) != 1 {
		t.Fatalf("expected 1 relay target, got %d", len(out.Relays))
	}
	if out.Relays[0].SourceID != "s3" {
		t.Errorf("relay source id = %q, want s3", out.Relays[0].SourceID)
	}
	if len(out.Graph) != 1 || out.Graph[0].CalendarID != "work-calendar" {
		t.Errorf("expected oauth o365 source to become a graph target, got %+v", out.Graph)
	}
	if out.Unfetchable != 1 {
		t.Errorf("expected 1 unfetchable (apple) source, got %d", out.Unfetchable)
	}
}

func TestResolveSources_DisabledSourceExcluded(t *testing.T) {
	settings := &store.UserSettings{
		UserID: "u1",
		CalendarSources: []store.CalendarSource{
			{ID: "s1", Type: "google", SourceID: "primary", IsEnabled: false},
			{ID: "s2", Type: "o365", ConnectionData: "https://relay.example.com/events", IsEnabled: false},
		},
	}

	out := ResolveSources(settings, Query{UseCalendarSources: true}, false)

	if len(out.Google) != 0 || len(out.Relays) != 0 || len(out.Graph) != 0 {
		t.Fatalf("disabled sources must contribute no targets, got %+v", out)
	}
}

func TestResolveSources_LegacyFallback(t *testing.T) {
	settings := &store.UserSettings{
		UserID:           "u1",
		SelectedCals:     []string{"primary"},
		PowerAutomateURL: "https://prod-123.westus.logic.azure.com/workflows/abc",
	}

	out := ResolveSources(settings, Query{UseCalendarSources: true}, true)

	if len(out.Google) != 1 || out.Google[0].CalendarID != "primary" {
		t.Fatalf("expected legacy selectedCals to resolve, got %+v", out.Google)
	}
	if len(out.Relays) != 1 || out.Relays[0].URL != settings.PowerAutomateURL {
		t.Fatalf("expected legacy powerAutomateUrl to resolve, got %+v", out.Relays)
	}
	if out.Relays[0].SourceID != "default" {
		t.Errorf("legacy relay source id = %q, want default", out.Relays[0].SourceID)
	}
}

func TestResolveSources_LegacyMatchesExplicitEquivalent(t *testing.T) {
	legacy := &store.UserSettings{
		UserID:           "u1",
		SelectedCals:     []string{"primary"},
		PowerAutomateURL: "https://relay.example.com/events",
	}
	explicit := &store.UserSettings{
		UserID: "u1",
		CalendarSources: []store.CalendarSource{
			{ID: "g", Type: "google", SourceID: "primary", IsEnabled: true},
			{ID: "default", Type: "o365", ConnectionData: "https://relay.example.com/events", IsEnabled: true},
		},
	}

	a := ResolveSources(legacy, Query{UseCalendarSources: true}, true)
	b := ResolveSources(explicit, Query{UseCalendarSources: true}, true)

	if len(a.Google) != len(b.Google) || a.Google[0].CalendarID != b.Google[0].CalendarID {
		t.Errorf("google targets diverge: legacy %+v explicit %+v", a.Google, b.Google)
	}
	if len(a.Relays) != len(b.Relays) || a.Relays[0].URL != b.Relays[0].URL {
		t.Errorf("relay targets diverge: legacy %+v explicit %+v", a.Relays, b.Relays)
	}
}

func TestResolveSources_QueryParamFallback(t *testing.T) {
	out := ResolveSources(&store.UserSettings{UserID: "u1"}, Query{
		CalendarID: "primary",
		O365URL:    "https://relay.example.com/events",
	}, false)

	if len(out.Google) != 1 || len(out.Relays) != 1 {
		t.Fatalf("expected query params to resolve, got %+v", out)
	}
}

func TestResolveSources_QueryBypassesSettings(t *testing.T) {
	settings := &store.UserSettings{
		UserID: "u1",
		CalendarSources: []store.CalendarSource{
			{ID: "s1", Type: "google", SourceID: "configured", IsEnabled: true},
		},
	}

	out := ResolveSources(settings, Query{CalendarID: "raw", UseCalendarSources: false}, true)

	if len(out.Google) != 1 || out.Google[0].CalendarID != "raw" {
		t.Fatalf("expected raw query param to win when useCalendarSources is false, got %+v", out.Google)
	}
}

func TestResolveSources_ImplicitPrimary(t *testing.T) {
	out := ResolveSources(&store.UserSettings{UserID: "u1"}, Query{UseCalendarSources: true}, true)
	if len(out.Google) != 1 || out.Google[0].CalendarID != "primary" {
		t.Fatalf("expected implicit primary with a usable token, got %+v", out.Google)
	}

	out = ResolveSources(&store.UserSettings{UserID: "u1"}, Query{UseCalendarSources: true}, false)
	if len(out.Google) != 0 || len(out.Relays) != 0 {
		t.Fatalf("expected empty target set without a token, got %+v", out)
	}
}

func TestResolveSources_OAuthSentinelNotARelay(t *testing.T) {
	settings := &store.UserSettings{
		UserID: "u1",
		CalendarSources: []store.CalendarSource{
			{ID: "s1", Type: "o365", ConnectionData: "oauth:", IsEnabled: true},
		},
	}

	out := ResolveSources(settings, Query{UseCalendarSources: true}, false)
	if len(out.Relays) != 0 {
		t.Fatalf("oauth: entries must not be fetched as relay URLs, got %+v", out.Relays)
	}
}

func TestResolveSources_TimezoneStamped(t *testing.T) {
	settings := &store.UserSettings{
		UserID:   "u1",
		Timezone: "America/New_York",
		CalendarSources: []store.CalendarSource{
			{ID: "s1", Type: "google", SourceID: "primary", IsEnabled: true},
		},
	}

	out := ResolveSources(settings, Query{UseCalendarSources: true}, true)
	if out.Google[0].Timezone != "America/New_York" {
		t.Fatalf("stored timezone not applied, got %q", out.Google[0].Timezone)
	}

	// The request parameter overrides the stored timezone.
	out = ResolveSources(settings, Query{UseCalendarSources: true, Timezone: "Europe/Berlin"}, true)
	if out.Google[0].Timezone != "Europe/Berlin" {
		t.Fatalf("request timezone must win, got %q", out.Google[0].Timezone)
	}

	// The implicit primary calendar gets it too.
	out = ResolveSources(&store.UserSettings{UserID: "u1", Timezone: "Asia/Tokyo"}, Query{UseCalendarSources: true}, true)
	if out.Google[0].Timezone != "Asia/Tokyo" {
		t.Fatalf("implicit primary missing timezone, got %q", out.Google[0].Timezone)
	}
}

func TestSourceHash(t *testing.T) {
	sources := []store.CalendarSource{
		{ID: "a", Type: "google", SourceID: "primary", Tags: []string{"personal"}, IsEnabled: true},
		{ID: "b", Type: "o365", ConnectionData: "https://relay.example.com", Tags: []string{"work"}, IsEnabled: true},
	}

	h1 := SourceHash(sources)
	if h1 == "" {
		t.Fatal("hash must not be empty")
	}

	// Order-insensitive
	h2 := SourceHash([]store.CalendarSource{sources[1], sources[0]})
	if h1 != h2 {
		t.Error("hash must not depend on source order")
	}

	// Disabled sources do not participate
	withDisabled := append([]store.CalendarSource{
		{ID: "c", Type: "google", SourceID: "other", IsEnabled: false},
	}, sources...)
	if SourceHash(withDisabled) != h1 {
		t.Error("disabled sources must not change the hash")
	}

	// Toggling a source changes the hash
	toggled := []store.CalendarSource{sources[0]}
	if SourceHash(toggled) == h1 {
		t.Error("removing an enabled source must change the hash")
	}
}
