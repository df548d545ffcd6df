package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
)

// CalendarSource is one user-configured origin of events.
type CalendarSource struct {
	ID   string `json:"id"`
	Type string `json:"type"` // google | o365 | apple | other
	// SourceID is the provider-native calendar identifier (Google).
	SourceID string `json:"sourceId,omitempty"`
	// ConnectionData is the opaque connection payload. For o365 this is
	// either an http(s) relay URL or an "oauth:"-prefixed sentinel.
	ConnectionData string   `json:"connectionData,omitempty"`
	Name           string   `json:"name,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	IsEnabled      bool     `json:"isEnabled"`
}

// HasTag reports whether the source carries the given tag.
func (s CalendarSource) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// UserSettings holds the calendar configuration for one user. CalendarSources
// supersedes the legacy SelectedCals/PowerAutomateURL pair when non-empty.
type UserSettings struct {
	UserID           string
	CalendarSources  []CalendarSource
	SelectedCals     []string
	PowerAutomateURL string
	Timezone         string
	SourceHash       string
}

type Settings struct {
	db *sql.DB
	mu sync.RWMutex
}

func NewSettings(d *DB) *Settings {
	return &Settings{db: d.SQL()}
}

// Get returns the settings row for userID, or defaults when none exists.
func (s *Settings) Get(userID string) (*UserSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT COALESCE(calendar_sources, ''), COALESCE(selected_cals, ''),
		       COALESCE(power_automate_url, ''), COALESCE(timezone, ''), COALESCE(source_hash, '')
		FROM user_settings WHERE user_id = ?
	`, userID)

	var sourcesJSON, calsJSON string
	us := &UserSettings{UserID: userID}
	err := row.Scan(&sourcesJSON, &calsJSON, &us.PowerAutomateURL, &us.Timezone, &us.SourceHash)
	if err == sql.ErrNoRows {
		return us, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	if sourcesJSON != "" {
		if err := json.Unmarshal([]byte(sourcesJSON), &us.CalendarSources); err != nil {
			// Corrupt stored sources degrade to legacy resolution.
			us.CalendarSources = nil
		}
	}
	if calsJSON != "" {
		if err := json.Unmarshal([]byte(calsJSON), &us.SelectedCals); err != nil {
			us.SelectedCals = nil
		}
	}

	return us, nil
}

// Save upserts the settings row, including the precomputed source hash.
func (s *Settings) Save(us *UserSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sourcesJSON, err := json.Marshal(us.CalendarSources)
	if err != nil {
		return fmt.Errorf("failed to marshal calendar sources: %w", err)
	}
	calsJSON, err := json.Marshal(us.SelectedCals)
	if err != nil {
		return fmt.Errorf("failed to marshal selected calendars: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO user_settings (user_id, calendar_sources, selected_cals, power_automate_url, timezone, source_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			calendar_sources = excluded.calendar_sources,
			selected_cals = excluded.selected_cals,
			power_automate_url = excluded.power_automate_url,
			timezone = excluded.timezone,
			source_hash = excluded.source_hash,
			updated_at = CURRENT_TIMESTAMP
	`, us.UserID, string(sourcesJSON), string(calsJSON), us.PowerAutomateURL, us.Timezone, us.SourceHash)

	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
