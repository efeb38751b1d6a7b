package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/datagate/internal/insight"
)

// WriteEvent appends an event to the journal.
// Uses ON CONFLICT(seq) DO NOTHING: a replayed write of the same seq is ignored.
func (s *Store) WriteEvent(ctx context.Context, e insight.Event) error {
	attrs, err := marshalAttributes(e.Attributes)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (seq, flow, kind, schema_name, message, attributes)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`, e.Seq, e.Flow, string(e.Kind), e.Schema, e.Message, attrs)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// EventFilter narrows ReadEvents.
type EventFilter struct {
	Flow     string // only this flow when set
	Schema   string // only this schema when set
	AfterSeq int64  // only events with seq > AfterSeq
	Limit    int    // at most Limit events when > 0
}

// ReadEvents returns journal events ordered by seq ascending.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ReadEvents(ctx context.Context, f EventFilter) ([]insight.Event, error) {
	var (
		where []string
		args  []any
	)
	if f.Flow != "" {
		where = append(where, "flow = ?")
		args = append(args, f.Flow)
	}
	if f.Schema != "" {
		where = append(where, "schema_name = ?")
		args = append(args, f.Schema)
	}
	if f.AfterSeq > 0 {
		where = append(where, "seq > ?")
		args = append(args, f.AfterSeq)
	}

	query := "SELECT seq, flow, kind, schema_name, message, attributes FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []insight.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// MaxSeq returns the highest persisted seq, 0 for an empty journal.
// The journal clock resumes from it on restart.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM events").Scan(&seq); err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq.Int64, nil
}

func scanEvent(rows *sql.Rows) (insight.Event, error) {
	var (
		e     insight.Event
		kind  string
		attrs string
	)
	if err := rows.Scan(&e.Seq, &e.Flow, &kind, &e.Schema, &e.Message, &attrs); err != nil {
		return insight.Event{}, fmt.Errorf("scan event: %w", err)
	}
	e.Kind = insight.Kind(kind)

	decoded, err := unmarshalAttributes(attrs)
	if err != nil {
		return insight.Event{}, fmt.Errorf("event %d: %w", e.Seq, err)
	}
	e.Attributes = decoded
	return e, nil
}

// marshalAttributes converts attributes to JSON TEXT for storage.
// json.Marshal sorts map keys, so equal attributes store identically.
// HTML escaping is disabled to keep SQL text readable.
func marshalAttributes(attrs map[string][]string) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(attrs); err != nil {
		return "", fmt.Errorf("marshal attributes: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func unmarshalAttributes(data string) (map[string][]string, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var attrs map[string][]string
	if err := json.Unmarshal([]byte(data), &attrs); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	return attrs, nil
}
