package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite event journal
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the SQLite database at the specified path
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets the CLI read while the daemon writes
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db := &DB{
		conn: conn,
		path: path,
	}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Path returns the database file location
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection
func (db *DB) Close() error {
	if db.conn != nil {
		db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return db.conn.Close()
	}
	return nil
}

// Flush forces a WAL checkpoint to write pending changes to the main database file
func (db *DB) Flush() error {
	if db.conn != nil {
		// RESTART checkpoints even with active readers
		_, err := db.conn.Exec("PRAGMA wal_checkpoint(RESTART)")
		return err
	}
	return nil
}

func (db *DB) initSchema() error {
	schema := `
	-- Daemon lifecycle events
	CREATE TABLE IF NOT EXISTS daemon_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Companion process lifecycle
	CREATE TABLE IF NOT EXISTS companion_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Trust grant transitions
	CREATE TABLE IF NOT EXISTS permission_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		old_state TEXT,
		new_state TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Relayed key commands
	CREATE TABLE IF NOT EXISTS key_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		command INTEGER NOT NULL,
		name TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_daemon_events_timestamp ON daemon_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_companion_events_timestamp ON companion_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_permission_events_timestamp ON permission_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_key_events_timestamp ON key_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_key_events_command ON key_events(command);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Event categories as reported by RecentEvents
const (
	SourceDaemon     = "daemon"
	SourceCompanion  = "companion"
	SourcePermission = "permission"
	SourceKey        = "key"
)

// Event is one journal entry from any of the event tables
type Event struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source"`
	EventType string    `json:"event_type"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// exec retries briefly while the database is locked (3 attempts, 5ms
// apart). Journal writes are best effort and must not stall the caller.
func (db *DB) exec(query string, args ...any) error {
	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		_, err := db.conn.Exec(query, args...)
		if err == nil {
			return nil
		}
		if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY") {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		return err
	}
	return fmt.Errorf("failed to write journal entry after %d retries: database locked", maxRetries)
}

// LogDaemonEvent logs a daemon lifecycle event to the database
func (db *DB) LogDaemonEvent(eventType, details string) error {
	return db.exec(
		`INSERT INTO daemon_events (event_type, details, timestamp)
		 VALUES (?, ?, ?)`,
		eventType, details, time.Now(),
	)
}

// LogCompanionEvent records a companion lifecycle event such as
// port_preempted, companion_start or companion_exited
func (db *DB) LogCompanionEvent(eventType, details string) error {
	return db.exec(
		`INSERT INTO companion_events (event_type, details, timestamp)
		 VALUES (?, ?, ?)`,
		eventType, details, time.Now(),
	)
}

// LogPermissionEvent records a trust state transition
func (db *DB) LogPermissionEvent(oldState, newState string) error {
	return db.exec(
		`INSERT INTO permission_events (old_state, new_state, timestamp)
		 VALUES (?, ?, ?)`,
		oldState, newState, time.Now(),
	)
}

// LogKeyEvent records a command accepted for dispatch
func (db *DB) LogKeyEvent(command int, name string) error {
	return db.exec(
		`INSERT INTO key_events (command, name, timestamp)
		 VALUES (?, ?, ?)`,
		command, name, time.Now(),
	)
}

// KeyCount is the number of dispatches of one command
type KeyCount struct {
	Command int    `json:"command"`
	Name    string `json:"name"`
	Count   int64  `json:"count"`
}

// KeyCounts returns dispatch totals per command, most used first
func (db *DB) KeyCounts() ([]KeyCount, error) {
	rows, err := db.conn.Query(
		`SELECT command, MAX(name), COUNT(*) AS n
		 FROM key_events
		 GROUP BY command
		 ORDER BY n DESC, command ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []KeyCount
	for rows.Next() {
		var c KeyCount
		if err := rows.Scan(&c.Command, &c.Name, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// RecentEvents returns the newest limit entries across all tables, newest
// first. Permission transitions are rendered as "old -> new".
func (db *DB) RecentEvents(limit int) ([]Event, error) {
	rows, err := db.conn.Query(
		`SELECT id, source, event_type, details, timestamp FROM (
			SELECT id, 'daemon' AS source, event_type, COALESCE(details, '') AS details, timestamp
			FROM daemon_events
			UNION ALL
			SELECT id, 'companion', event_type, COALESCE(details, ''), timestamp
			FROM companion_events
			UNION ALL
			SELECT id, 'permission', 'transition', COALESCE(old_state, '') || ' -> ' || new_state, timestamp
			FROM permission_events
			UNION ALL
			SELECT id, 'key', 'dispatch', name, timestamp
			FROM key_events
		 )
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts any
		if err := rows.Scan(&e.ID, &e.Source, &e.EventType, &e.Details, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = parseTimestamp(ts)
		events = append(events, e)
	}
	return events, rows.Err()
}

// timestampLayouts covers what the driver writes for time.Time values and
// what CURRENT_TIMESTAMP produces.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	time.DateTime,
}

// parseTimestamp converts a timestamp column read through a UNION, where the
// driver may no longer know the declared DATETIME type.
func parseTimestamp(v any) time.Time {
	var s string
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return time.Time{}
	}
	if i := strings.Index(s, " m="); i >= 0 {
		s = s[:i]
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}
