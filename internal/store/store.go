// Package store provides an optional SQLite archival sink for location
// reports and stored-video download metadata, adapted from the
// database/sql + modernc.org/sqlite pattern used for the EPG database.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a thin wrapper around a single SQLite file. A nil *Store (from
// Open with an empty path) makes every method a no-op so archival stays
// genuinely optional.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS locations (
	terminal_id TEXT NOT NULL,
	received_at INTEGER NOT NULL,
	latitude_e6 INTEGER NOT NULL,
	longitude_e6 INTEGER NOT NULL,
	speed_deci INTEGER NOT NULL,
	heading_deg INTEGER NOT NULL,
	time_bcd TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_locations_terminal ON locations(terminal_id, received_at);

CREATE TABLE IF NOT EXISTS stored_video_entries (
	terminal_id TEXT NOT NULL,
	channel INTEGER NOT NULL,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	alarm_mask INTEGER NOT NULL,
	video_type INTEGER NOT NULL,
	discovered_at INTEGER NOT NULL,
	UNIQUE(terminal_id, channel, start_time)
);
`

// Open creates or opens the SQLite file at path and applies the schema.
// An empty path returns a nil, no-op Store.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, nil
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordLocation archives one location report.
func (s *Store) RecordLocation(terminalID string, latE6, lonE6 int32, speedDeci, headingDeg uint16, timeBCD string, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT INTO locations (terminal_id, received_at, latitude_e6, longitude_e6, speed_deci, heading_deg, time_bcd) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		terminalID, at.Unix(), latE6, lonE6, speedDeci, headingDeg, timeBCD,
	)
	if err != nil {
		return fmt.Errorf("store: record location: %w", err)
	}
	return nil
}

// RecordStoredVideoEntry upserts one discovered stored-video entry.
func (s *Store) RecordStoredVideoEntry(terminalID string, channel uint8, startTime, endTime string, alarmMask uint32, videoType uint8, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT INTO stored_video_entries (terminal_id, channel, start_time, end_time, alarm_mask, video_type, discovered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(terminal_id, channel, start_time) DO UPDATE SET end_time=excluded.end_time, alarm_mask=excluded.alarm_mask, video_type=excluded.video_type`,
		terminalID, channel, startTime, endTime, alarmMask, videoType, at.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: record stored video entry: %w", err)
	}
	return nil
}

// RecentLocations returns the most recent N location rows for a terminal,
// newest first.
func (s *Store) RecentLocations(terminalID string, limit int) ([]LocationRow, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT received_at, latitude_e6, longitude_e6, speed_deci, heading_deg, time_bcd FROM locations WHERE terminal_id = ? ORDER BY received_at DESC LIMIT ?`,
		terminalID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query locations: %w", err)
	}
	defer rows.Close()

	var out []LocationRow
	for rows.Next() {
		var r LocationRow
		var receivedAt int64
		if err := rows.Scan(&receivedAt, &r.LatitudeE6, &r.LongitudeE6, &r.SpeedDeci, &r.HeadingDeg, &r.TimeBCD); err != nil {
			return nil, fmt.Errorf("store: scan location row: %w", err)
		}
		r.ReceivedAt = time.Unix(receivedAt, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LocationRow is one archived location report.
type LocationRow struct {
	ReceivedAt  time.Time
	LatitudeE6  int32
	LongitudeE6 int32
	SpeedDeci   uint16
	HeadingDeg  uint16
	TimeBCD     string
}
