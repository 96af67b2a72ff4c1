// Package audit persists a trail of operator actions. Every sign-in,
// sign-out, and interface mutation is recorded with the client's IP and
// best-effort MAC address. Writes are append-only; the trail is consulted
// through the HTTP API, newest first.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Actions recorded in the trail.
const (
	ActionSignIn          = "sign-in"
	ActionSignInFailed    = "sign-in-failed"
	ActionSignOut         = "sign-out"
	ActionSetLinkState    = "set-link-state"
	ActionSetWirelessMode = "set-wireless-mode"
)

// Event is one audited operator action.
type Event struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	ClientIP  string    `json:"client_ip"`
	ClientMAC string    `json:"client_mac"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
}

// Log is a SQLite-backed audit trail.
type Log struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open opens (or creates) the audit database at path and ensures the
// schema. SQLite performs best with a single write connection; WAL keeps
// readers concurrent.
func Open(path string, logger *zap.Logger) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	const schema = `CREATE TABLE IF NOT EXISTS audit_events (
		id         TEXT PRIMARY KEY,
		at         TEXT NOT NULL,
		client_ip  TEXT NOT NULL DEFAULT '',
		client_mac TEXT NOT NULL DEFAULT '',
		action     TEXT NOT NULL,
		detail     TEXT NOT NULL DEFAULT ''
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_events_at ON audit_events(at)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit index: %w", err)
	}

	return &Log{db: db, logger: logger, now: time.Now}, nil
}

// Record appends one event. A missing ID or timestamp is filled in.
func (l *Log) Record(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = l.now()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, at, client_ip, client_mac, action, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Time.UTC().Format(time.RFC3339Nano), e.ClientIP, e.ClientMAC, e.Action, e.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, at, client_ip, client_mac, action, detail
		 FROM audit_events ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var at string
		if err := rows.Scan(&e.ID, &at, &e.ClientIP, &e.ClientMAC, &e.Action, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Time, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse audit timestamp %q: %w", at, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// Close releases the database.
func (l *Log) Close() error {
	return l.db.Close()
}
