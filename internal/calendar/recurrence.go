package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"
)

// maxInstancesPerMaster is a safety cap against runaway series.
const maxInstancesPerMaster = 100

// expandMaster generates concrete instances for an unexpanded recurring
// master inside [timeMin, timeMax]. The relay's Get Calendar Events flow
// sometimes fails to expand series itself and returns the bare master with
// a recurrence pattern and end date; without expansion those meetings
// silently vanish from the window.
func expandMaster(r relayEvent, info RecurrenceInfo, target RelayTarget, sourceID string, timeMin, timeMax time.Time) ([]Event, error) {
	start, ok := parseRelayTime(r.startString())
	if !ok {
		return nil, fmt.Errorf("master has no usable start")
	}
	end, ok := parseRelayTime(r.endString())
	if !ok {
		end = start
	}
	duration := end.Sub(start)

	until := info.Until
	if until.IsZero() {
		// No recurrence end date: bound the series at the window end.
		until = timeMax
	}

	freq, err := recurrenceFreq(info.Rule)
	if err != nil {
		return nil, err
	}

	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:    freq,
		Dtstart: start,
		Until:   until,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build recurrence rule: %w", err)
	}

	masterID := r.uid()
	if masterID == "" {
		masterID = fmt.Sprintf("master_%s", uuid.NewString()[:8])
	}

	// Occurrences that merely overlap the window start still count, so
	// back the range off by one event duration.
	occurrences := rule.Between(timeMin.Add(-duration), timeMax, true)

	var out []Event
	for _, occStart := range occurrences {
		if len(out) >= maxInstancesPerMaster {
			break
		}
		occEnd := occStart.Add(duration)
		if !occStart.Before(timeMax) || !occEnd.After(timeMin) {
			continue
		}

		ev, ok := mapRelayEvent(r, RecurrenceInfo{Kind: RecurrenceNone}, target, sourceID)
		if !ok {
			continue
		}
		ev.Start = instanceTime(ev.Start, occStart)
		ev.End = instanceTime(ev.End, occEnd)
		ev.ID = fmt.Sprintf("o365_%s_%s_%s", masterID, occStart.Format("20060102"), uuid.NewString()[:8])
		ev.IsRecurring = true
		ev.SeriesMasterID = masterID
		ev.Recurrence = info.Rule

		out = append(out, ev)
	}
	return out, nil
}

// instanceTime rewrites an event time to a concrete occurrence, keeping the
// master's date-vs-dateTime representation.
func instanceTime(t EventTime, at time.Time) EventTime {
	if t.Date != "" {
		return EventTime{Date: at.Format("2006-01-02")}
	}
	return EventTime{DateTime: at.UTC().Format(time.RFC3339)}
}

func recurrenceFreq(rule string) (rrule.Frequency, error) {
	switch strings.ToLower(rule) {
	case "daily":
		return rrule.DAILY, nil
	case "weekly":
		return rrule.WEEKLY, nil
	case "monthly":
		return rrule.MONTHLY, nil
	case "yearly":
		return rrule.YEARLY, nil
	default:
		return 0, fmt.Errorf("unknown recurrence pattern %q", rule)
	}
}
