package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"calhub/internal/calendar"
	"calhub/internal/engine"
	"calhub/internal/store"
)

type Handlers struct {
	agg *engine.Aggregator
}

func NewHandlers(agg *engine.Aggregator) *Handlers {
	return &Handlers{agg: agg}
}

// Events handles the event-query operation. Malformed time windows are
// client errors; everything downstream degrades to 200 with an empty
// list so a provider outage never surfaces as a 5xx.
func (h *Handlers) Events(c *gin.Context) {
	ident := identityFrom(c)
	if ident == nil {
		JSONError(c, http.StatusUnauthorized, ErrorCodeUnauthorized, "authentication required")
		return
	}

	timeMin, ok := parseTimeParam(c.Query("timeMin"))
	if !ok {
		JSONError(c, http.StatusBadRequest, ErrorCodeValidation, "timeMin is required and must be a valid ISO datetime")
		return
	}
	timeMax, ok := parseTimeParam(c.Query("timeMax"))
	if !ok {
		JSONError(c, http.StatusBadRequest, ErrorCodeValidation, "timeMax is required and must be a valid ISO datetime")
		return
	}

	req := engine.Request{
		UserID:  ident.UserID,
		TimeMin: timeMin,
		TimeMax: timeMax,
		Query: calendar.Query{
			CalendarID:         c.Query("calendarId"),
			O365URL:            c.Query("o365Url"),
			Timezone:           c.Query("timezone"),
			UseCalendarSources: c.DefaultQuery("useCalendarSources", "true") != "false",
		},
	}

	events := h.agg.Events(c.Request.Context(), req)
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// DeltaEvents serves incremental refresh: cached events updated after
// lastSyncTime whose window overlaps the requested range.
func (h *Handlers) DeltaEvents(c *gin.Context) {
	ident := identityFrom(c)
	if ident == nil {
		JSONError(c, http.StatusUnauthorized, ErrorCodeUnauthorized, "authentication required")
		return
	}

	timeMin, ok := parseTimeParam(c.Query("timeMin"))
	if !ok {
		JSONError(c, http.StatusBadRequest, ErrorCodeValidation, "timeMin is required and must be a valid ISO datetime")
		return
	}
	timeMax, ok := parseTimeParam(c.Query("timeMax"))
	if !ok {
		JSONError(c, http.StatusBadRequest, ErrorCodeValidation, "timeMax is required and must be a valid ISO datetime")
		return
	}
	lastSync, ok := parseTimeParam(c.Query("lastSyncTime"))
	if !ok {
		JSONError(c, http.StatusBadRequest, ErrorCodeValidation, "lastSyncTime is required and must be a valid ISO datetime")
		return
	}

	events, hasNew := h.agg.Delta(ident.UserID, timeMin, timeMax, lastSync)
	c.JSON(http.StatusOK, gin.H{"events": events, "hasNewEvents": hasNew})
}

type createEventRequest struct {
	CalendarID  string             `json:"calendarId"`
	Summary     string             `json:"summary"`
	Start       calendar.EventTime `json:"start"`
	End         calendar.EventTime `json:"end"`
	Description string             `json:"description"`
	Source      string             `json:"source"`
	Tags        []string           `json:"tags"`
}

// CreateEvent handles the event-creation operation.
func (h *Handlers) CreateEvent(c *gin.Context) {
	ident := identityFrom(c)
	if ident == nil {
		JSONError(c, http.StatusUnauthorized, ErrorCodeUnauthorized, "authentication required")
		return
	}

	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, ErrorCodeValidation, "invalid request body")
		return
	}
	if req.CalendarID == "" || req.Summary == "" || req.Start.IsZero() || req.End.IsZero() {
		JSONError(c, http.StatusBadRequest, ErrorCodeValidation, "calendarId, summary, start and end are required")
		return
	}

	ev := calendar.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Start:       req.Start,
		End:         req.End,
		Source:      req.Source,
		Tags:        req.Tags,
	}

	created, err := h.agg.CreateEvent(c.Request.Context(), ident.UserID, req.CalendarID, ev)
	switch {
	case errors.Is(err, engine.ErrUnimplemented):
		JSONError(c, http.StatusNotImplemented, ErrorCodeUnimplemented, "event creation is not supported for this calendar type")
		return
	case errors.Is(err, engine.ErrNoCredential):
		JSONError(c, http.StatusUnauthorized, ErrorCodeUnauthorized, "no usable calendar credential")
		return
	case err != nil:
		JSONError(c, http.StatusBadGateway, ErrorCodeUpstream, "event creation failed")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"event": created})
}

// O365Calendars lists the Graph calendars available to the user's Microsoft
// account, so the UI can offer them as configurable sources.
func (h *Handlers) O365Calendars(c *gin.Context) {
	ident := identityFrom(c)
	if ident == nil {
		JSONError(c, http.StatusUnauthorized, ErrorCodeUnauthorized, "authentication required")
		return
	}

	cals, err := h.agg.ListO365Calendars(c.Request.Context(), ident.UserID)
	switch {
	case errors.Is(err, engine.ErrNoCredential):
		JSONError(c, http.StatusUnauthorized, ErrorCodeUnauthorized, "no usable Microsoft credential")
		return
	case err != nil:
		JSONError(c, http.StatusBadGateway, ErrorCodeUpstream, "calendar listing failed")
		return
	}
	if cals == nil {
		cals = []calendar.GraphCalendar{}
	}
	c.JSON(http.StatusOK, gin.H{"calendars": cals})
}

// Settings returns the user's calendar configuration and its source hash.
func (h *Handlers) Settings(c *gin.Context) {
	ident := identityFrom(c)
	if ident == nil {
		JSONError(c, http.StatusUnauthorized, ErrorCodeUnauthorized, "authentication required")
		return
	}

	settings, err := h.agg.Settings(ident.UserID)
	if err != nil {
		JSONError(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to load settings")
		return
	}
	c.JSON(http.StatusOK, settingsResponse(settings))
}

type updateSettingsRequest struct {
	CalendarSources  []store.CalendarSource `json:"calendarSources"`
	SelectedCals     []string               `json:"selectedCals"`
	PowerAutomateURL string                 `json:"powerAutomateUrl"`
	Timezone         string                 `json:"timezone"`
}

// UpdateSettings persists the calendar configuration and invalidates the
// user's event cache before the next aggregation.
func (h *Handlers) UpdateSettings(c *gin.Context) {
	ident := identityFrom(c)
	if ident == nil {
		JSONError(c, http.StatusUnauthorized, ErrorCodeUnauthorized, "authentication required")
		return
	}

	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, ErrorCodeValidation, "invalid request body")
		return
	}

	settings := &store.UserSettings{
		UserID:           ident.UserID,
		CalendarSources:  req.CalendarSources,
		SelectedCals:     req.SelectedCals,
		PowerAutomateURL: req.PowerAutomateURL,
		Timezone:         req.Timezone,
	}

	if err := h.agg.SaveSettings(settings); err != nil {
		JSONError(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to save settings")
		return
	}

	c.JSON(http.StatusOK, settingsResponse(settings))
}

func settingsResponse(s *store.UserSettings) gin.H {
	sources := s.CalendarSources
	if sources == nil {
		sources = []store.CalendarSource{}
	}
	return gin.H{
		"calendarSources":  sources,
		"selectedCals":     s.SelectedCals,
		"powerAutomateUrl": s.PowerAutomateURL,
		"timezone":         s.Timezone,
		"sourceHash":       s.SourceHash,
	}
}

// parseTimeParam accepts RFC 3339 datetimes and bare dates.
func parseTimeParam(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
