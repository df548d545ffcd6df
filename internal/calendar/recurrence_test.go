package calendar

import (
	"testing"
	"time"
)

func TestExpandMasterDaily(t *testing.T) {
	master := relayEvent{
		Title:             "Coverage check",
		StartTime:         "2024-01-08T14:00:00Z",
		EndTime:           "2024-01-08T14:15:00Z",
		Recurrence:        "daily",
		RecurrenceEndDate: "2024-01-20T00:00:00Z",
		ICalUIDAlt:        "coverage", // relay's iCalUld spelling
	}
	info := master.recurrenceInfo()
	if info.Kind != RecurrenceMaster || info.Rule != "daily" {
		t.Fatalf("recurrence info = %+v", info)
	}

	min := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	max := time.Date(2024, 1, 13, 0, 0, 0, 0, time.UTC)

	instances, err := expandMaster(master, info, RelayTarget{SourceID: "default"}, "default", min, max)
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 3 {
		t.Fatalf("expected 3 daily instances (Jan 10, 11, 12), got %d", len(instances))
	}
	for _, ev := range instances {
		if !ev.IsRecurring || ev.SeriesMasterID != "coverage" {
			t.Errorf("instance missing series linkage: %+v", ev)
		}
	}
}

func TestExpandMasterRespectsUntil(t *testing.T) {
	master := relayEvent{
		Title:             "Short series",
		StartTime:         "2024-01-10T09:00:00Z",
		EndTime:           "2024-01-10T09:30:00Z",
		Recurrence:        "daily",
		RecurrenceEndDate: "2024-01-11T23:59:59Z",
	}

	min := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	max := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)

	instances, err := expandMaster(master, master.recurrenceInfo(), RelayTarget{}, "default", min, max)
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expected 2 instances before the recurrence end, got %d", len(instances))
	}
}

func TestExpandMasterUnknownPattern(t *testing.T) {
	master := relayEvent{
		Title:             "Odd",
		StartTime:         "2024-01-10T09:00:00Z",
		EndTime:           "2024-01-10T09:30:00Z",
		Recurrence:        "fortnightly",
		RecurrenceEndDate: "2024-02-01T00:00:00Z",
	}

	_, err := expandMaster(master, master.recurrenceInfo(),
		RelayTarget{}, "default",
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC))
	if err == nil {
		t.Fatal("expected an error for an unknown recurrence pattern")
	}
}

func TestRecurrenceInfoNone(t *testing.T) {
	for _, rec := range []string{"", "none", "None"} {
		ev := relayEvent{Recurrence: rec}
		if ev.recurrenceInfo().Kind != RecurrenceNone {
			t.Errorf("recurrence %q should classify as none", rec)
		}
	}
}
