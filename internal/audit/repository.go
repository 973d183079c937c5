// Package audit keeps the command log: a local history of every direct
// method invocation the agent handled and how it was answered.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-agent/internal/command"
)

// Page size bounds for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one row of the command log.
type Entry struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	RequestID      string          `json:"request_id"`
	Mode           string          `json:"mode"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	ResponseStatus int             `json:"response_status"`
	Outcome        string          `json:"outcome"`
	HandledAt      time.Time       `json:"handled_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Name    string // optional: method name
	Outcome string // optional: responded, acknowledged, send_failed
	Limit   int    // default 50, max 200
	Offset  int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository is the command log store.
type Repository interface {
	command.Recorder
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores the command log in the command_log table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an already migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record appends a handled invocation to the log.
func (r *SQLiteRepository) Record(ctx context.Context, rec command.Record) error {
	at := rec.HandledAt
	if at.IsZero() {
		at = time.Now()
	}

	payload, err := storedPayload(rec.Payload)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO command_log (id, name, request_id, mode, payload, response_status, outcome, handled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), rec.Name, rec.RequestID, rec.Mode.String(), payload,
		rec.ResponseStatus, rec.Outcome, at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting command log entry: %w", err)
	}
	return nil
}

// storedPayload returns the request body as JSON text, or nil when empty.
// Bodies that are not JSON are kept as a JSON string.
func storedPayload(p []byte) (any, error) {
	if len(p) == 0 {
		return nil, nil
	}
	if json.Valid(p) {
		return string(p), nil
	}
	b, err := json.Marshal(string(p))
	if err != nil {
		return nil, fmt.Errorf("encoding command payload: %w", err)
	}
	return string(b), nil
}

// List returns entries matching the filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Name != "" {
		conditions = append(conditions, "name = ?")
		args = append(args, filter.Name)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM command_log " + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting command log: %w", err)
	}

	query := "SELECT id, name, request_id, mode, payload, response_status, outcome, handled_at FROM command_log " +
		where + " ORDER BY handled_at DESC, rowid DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var payload sql.NullString
		var at string
		if err := rows.Scan(&e.ID, &e.Name, &e.RequestID, &e.Mode, &payload,
			&e.ResponseStatus, &e.Outcome, &at); err != nil {
			return nil, fmt.Errorf("scanning command log entry: %w", err)
		}
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		if e.HandledAt, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("parsing command log timestamp %q: %w", at, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
