package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultRetention is how long events are kept before DeleteOldEvents prunes them.
const DefaultRetention = 30 * 24 * time.Hour

// EventType represents the type of a recorded reconciliation event
type EventType string

const (
	EventCycle       EventType = "cycle"
	EventCycleFailed EventType = "cycle_failed"
	EventKill        EventType = "kill"
	EventKillFailed  EventType = "kill_failed"
	EventStart       EventType = "start"
	EventStartFailed EventType = "start_failed"
)

// Event is one row of the reconciliation history
type Event struct {
	ID        string `db:"id"`
	EventType string `db:"event_type"`
	Timestamp int64  `db:"timestamp"`
	CycleID   string `db:"cycle_id"`
	Instance  string `db:"instance"` // Empty for cycle events
	PID       string `db:"pid"`
	Detail    string `db:"detail"` // Summary for cycle events, error text for failures
}

func (e Event) Time() time.Time {
	return time.Unix(e.Timestamp, 0).UTC()
}

// Store appends reconciliation events to a sqlite database.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open connects to the sqlite database at path and prepares the schema.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database %q: %w", path, err)
	}
	store, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore creates a history store on an existing connection
func NewStore(db *sqlx.DB) (*Store, error) {
	if err := DBInit(db); err != nil {
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// DBInit initializes the reconcile events table
func DBInit(db *sqlx.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS reconcile_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		cycle_id TEXT NOT NULL,
		instance TEXT NOT NULL DEFAULT '',
		pid TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT ''
	)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_reconcile_events_timestamp ON reconcile_events(timestamp)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_reconcile_events_instance ON reconcile_events(instance)`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordEvent stores an event, assigning its id and timestamp when unset.
func (s *Store) RecordEvent(ctx context.Context, event Event) error {
	if event.EventType == "" {
		return fmt.Errorf("event type is required")
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp == 0 {
		event.Timestamp = s.now().UTC().Unix()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO reconcile_events (id, event_type, timestamp, cycle_id, instance, pid, detail)
		VALUES (:id, :event_type, :timestamp, :cycle_id, :instance, :pid, :detail)`, event)
	if err != nil {
		return fmt.Errorf("failed to record %s event: %w", event.EventType, err)
	}
	return nil
}

// RecentEvents retrieves the most recent events, newest first
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	var events []Event
	err := s.db.SelectContext(ctx, &events,
		"SELECT * FROM reconcile_events ORDER BY timestamp DESC, rowid DESC LIMIT $1",
		limit)
	return events, err
}

// EventsByInstance retrieves the events recorded for one instance name
func (s *Store) EventsByInstance(ctx context.Context, instance string, limit int) ([]Event, error) {
	var events []Event
	err := s.db.SelectContext(ctx, &events,
		"SELECT * FROM reconcile_events WHERE instance = $1 ORDER BY timestamp DESC, rowid DESC LIMIT $2",
		instance, limit)
	return events, err
}

// DeleteOldEvents deletes events older than the specified duration
func (s *Store) DeleteOldEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	threshold := s.now().UTC().Add(-olderThan).Unix()
	result, err := s.db.ExecContext(ctx, "DELETE FROM reconcile_events WHERE timestamp < $1", threshold)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
