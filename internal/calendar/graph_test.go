package calendar

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGraphFetchEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/calendars/work-cal/calendarView" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"value":[
			{"id":"ev1","subject":"Budget review","bodyPreview":"Q1 numbers","isAllDay":false,
			 "start":{"dateTime":"2024-01-10T14:00:00.0000000","timeZone":"UTC"},
			 "end":{"dateTime":"2024-01-10T15:00:00.0000000","timeZone":"UTC"},
			 "type":"singleInstance"},
			{"id":"ev2","subject":"","isAllDay":true,
			 "start":{"dateTime":"2024-01-10T00:00:00.0000000","timeZone":"UTC"},
			 "end":{"dateTime":"2024-01-11T00:00:00.0000000","timeZone":"UTC"},
			 "type":"occurrence","seriesMasterId":"m1"},
			{"id":"ev3","subject":"No start"}
		]}`)
	}))
	defer srv.Close()

	client := NewGraphClientWithBaseURL(srv.URL, 5*time.Second)
	res := client.FetchEvents(context.Background(),
		GraphTarget{CalendarID: "work-cal", SourceID: "s-ms"}, windowStart, windowEnd, "tok-1")

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("expected 2 events (one dropped for missing start), got %d", len(res.Events))
	}

	ev := res.Events[0]
	if ev.Summary != "Budget review" || ev.Description != "Q1 numbers" {
		t.Errorf("mapping wrong: %+v", ev)
	}
	if ev.Source != SourceWork {
		t.Errorf("graph events must classify as work, got %q", ev.Source)
	}
	if ev.Start.DateTime != "2024-01-10T14:00:00Z" {
		t.Errorf("start = %+v", ev.Start)
	}
	if ev.CalendarID != "o365_s-ms" {
		t.Errorf("calendarId = %q", ev.CalendarID)
	}

	allDay := res.Events[1]
	if allDay.Summary != "No Title" {
		t.Errorf("default title = %q", allDay.Summary)
	}
	if allDay.Start.Date != "2024-01-10" || allDay.Start.DateTime != "" {
		t.Errorf("all-day start = %+v", allDay.Start)
	}
	if !allDay.IsRecurring || allDay.SeriesMasterID != "m1" {
		t.Errorf("occurrence metadata = %+v", allDay)
	}
}

func TestGraphDefaultCalendarPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/calendarView" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"value":[]}`)
	}))
	defer srv.Close()

	client := NewGraphClientWithBaseURL(srv.URL, 5*time.Second)
	res := client.FetchEvents(context.Background(),
		GraphTarget{SourceID: "s-ms"}, windowStart, windowEnd, "tok")
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
}

func TestGraphListCalendars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/calendars" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"value":[{"id":"c1","name":"Calendar","isDefaultCalendar":true}]}`)
	}))
	defer srv.Close()

	client := NewGraphClientWithBaseURL(srv.URL, 5*time.Second)
	cals, err := client.ListCalendars(context.Background(), "tok")
	if err != nil {
		t.Fatal(err)
	}
	if len(cals) != 1 || !cals[0].IsDefault {
		t.Fatalf("calendars = %+v", cals)
	}
}

func TestGraphErrorYieldsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"InvalidAuthenticationToken"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewGraphClientWithBaseURL(srv.URL, 5*time.Second)
	res := client.FetchEvents(context.Background(),
		GraphTarget{CalendarID: "c1", SourceID: "s"}, windowStart, windowEnd, "bad")
	if res.Err == nil {
		t.Fatal("expected an error result")
	}
	if len(res.Events) != 0 {
		t.Fatalf("failed fetch must contribute no events")
	}
}
