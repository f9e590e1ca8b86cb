// ABOUTME: SQLite implementation of the EventStore interface using modernc.org/sqlite
// ABOUTME: Provides journal persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the EventStore interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Writers from both channels may collide; wait instead of failing with SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS events (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id   TEXT NOT NULL UNIQUE,
			direction  TEXT NOT NULL,
			kind       TEXT NOT NULL,
			attempt    INTEGER NOT NULL DEFAULT 0,
			status     INTEGER NOT NULL DEFAULT 0,
			sender     TEXT NOT NULL DEFAULT '',
			message    TEXT NOT NULL DEFAULT '',
			detail     TEXT NOT NULL DEFAULT '',
			ts         TEXT NOT NULL,

			CHECK (direction IN ('outbound', 'inbound'))
		);

		CREATE INDEX IF NOT EXISTS idx_events_direction_kind ON events(direction, kind);
		CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// AppendEvent appends a new entry to the journal.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendEvent(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO events (event_id, direction, kind, attempt, status, sender, message, detail, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.Direction,
		e.Kind,
		e.Attempt,
		e.Status,
		e.Sender,
		e.Message,
		e.Detail,
		e.Timestamp.UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	s.logger.Debug("appended event",
		"id", e.ID,
		"direction", e.Direction,
		"kind", e.Kind,
	)
	return nil
}

// tsLayout is fixed-width so timestamps compare correctly as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

const eventColumns = `event_id, direction, kind, attempt, status, sender, message, detail, ts`

// scanEvent scans a row into an Event.
func scanEvent(scanner interface{ Scan(dest ...any) error }) (Event, error) {
	var e Event
	var direction, kind, tsStr string

	if err := scanner.Scan(
		&e.ID,
		&direction,
		&kind,
		&e.Attempt,
		&e.Status,
		&e.Sender,
		&e.Message,
		&e.Detail,
		&tsStr,
	); err != nil {
		return e, fmt.Errorf("scanning event: %w", err)
	}

	e.Direction = Direction(direction)
	e.Kind = Kind(kind)
	var err error
	e.Timestamp, err = time.Parse(time.RFC3339Nano, tsStr)
	if err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}
	return e, nil
}

// GetEvent retrieves a single event by ID.
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE event_id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

const listEventsQuery = `
	SELECT ` + eventColumns + `
	FROM events
	WHERE (? IS NULL OR direction = ?)
	  AND (? IS NULL OR kind = ?)
	  AND (? IS NULL OR ts >= ?)
	ORDER BY seq DESC
	LIMIT ?
`

// ListEvents returns events matching the filter criteria.
// Results are returned newest first (DESC by insertion order).
func (s *SQLiteStore) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	limit := normalizeLimit(f.Limit)

	var direction, kind, since *string
	if f.Direction != nil {
		d := string(*f.Direction)
		direction = &d
	}
	if f.Kind != nil {
		k := string(*f.Kind)
		kind = &k
	}
	if f.Since != nil {
		ts := f.Since.UTC().Format(tsLayout)
		since = &ts
	}

	rows, err := s.db.QueryContext(ctx, listEventsQuery,
		direction, direction,
		kind, kind,
		since, since,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}

	if events == nil {
		events = []Event{}
	}
	return events, nil
}
