package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"calhub/internal/calendar"
	"calhub/internal/store"
)

// Service is the persistent event cache backing aggregation. Entries are
// keyed by user/source/calendar/window; reads silently skip entries older
// than the TTL. The service is constructed and injected, never a process
// singleton, so every operation is user-scoped by design.
type Service struct {
	db  *sql.DB
	ttl time.Duration
	mu  sync.Mutex
}

func NewService(d *store.DB, ttl time.Duration) *Service {
	return &Service{db: d.SQL(), ttl: ttl}
}

// Get returns events from cached entries whose stored start date falls
// inside [start, end] and whose last update is within the TTL. Stale
// entries are excluded, not deleted; the sweep handles deletion.
func (s *Service) Get(userID string, start, end time.Time) ([]calendar.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT events FROM cached_events
		WHERE user_id = ? AND start_date >= ? AND start_date <= ? AND last_updated > ?
	`, userID, start, end, time.Now().Add(-s.ttl))
	if err != nil {
		return nil, fmt.Errorf("failed to query cached events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// Put caches one source's events for a window. Existing entries for the
// same source and calendar whose window overlaps [start, end] are deleted
// first, so superseding fetches never accumulate.
func (s *Service) Put(userID string, events []calendar.Event, start, end time.Time, source, calendarID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin cache transaction: %w", err)
	}
	defer tx.Rollback()

	// Overlap test: cachedStart <= end && cachedEnd >= start.
	_, err = tx.Exec(`
		DELETE FROM cached_events
		WHERE user_id = ? AND source = ? AND calendar_id = ?
		  AND start_date <= ? AND end_date >= ?
	`, userID, source, calendarID, end, start)
	if err != nil {
		return fmt.Errorf("failed to evict overlapping entries: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO cached_events (user_id, source, calendar_id, start_date, end_date, events, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, userID, source, calendarID, start, end, blob, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}

	return tx.Commit()
}

// Delta returns events from entries updated after lastSync whose window
// overlaps [start, end], supporting incremental refresh without a full
// re-fetch.
func (s *Service) Delta(userID string, start, end, lastSync time.Time) ([]calendar.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT events FROM cached_events
		WHERE user_id = ? AND last_updated > ?
		  AND start_date <= ? AND end_date >= ?
	`, userID, lastSync, end, start)
	if err != nil {
		return nil, false, fmt.Errorf("failed to query delta events: %w", err)
	}
	defer rows.Close()

	events, err := collectEvents(rows)
	if err != nil {
		return nil, false, err
	}
	return events, len(events) > 0, nil
}

// ClearExpired deletes every entry older than the TTL.
func (s *Service) ClearExpired() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		DELETE FROM cached_events WHERE last_updated <= ?
	`, time.Now().Add(-s.ttl))
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired entries: %w", err)
	}

	count, _ := result.RowsAffected()
	if count > 0 {
		log.Info().Int64("count", count).Msg("Swept expired cache entries")
	}
	return count, nil
}

// ClearUser wipes all cached entries for one user. Callers invoke this
// whenever the user's calendar source configuration changes, so stale
// events from a reconfigured source cannot leak into results.
func (s *Service) ClearUser(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM cached_events WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to clear user cache: %w", err)
	}
	log.Debug().Str("user", userID).Msg("Cleared event cache")
	return nil
}

// ClearAll wipes every user's entries.
//
// Deprecated: use ClearUser. An unscoped clear on shared storage discards
// other users' cache and is retained only for backward compatibility.
func (s *Service) ClearAll() error {
	log.Warn().Msg("Unscoped cache clear invoked; prefer ClearUser")

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM cached_events`)
	if err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// collectEvents unmarshals the event blobs of the selected entries. A
// corrupt blob counts as a cache miss for that entry, not an error.
func collectEvents(rows *sql.Rows) ([]calendar.Event, error) {
	var out []calendar.Event
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("failed to scan cache row: %w", err)
		}
		var events []calendar.Event
		if err := json.Unmarshal(blob, &events); err != nil {
			log.Warn().Err(err).Msg("Skipping unparseable cache entry")
			continue
		}
		out = append(out, events...)
	}
	return out, rows.Err()
}
