package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/calltrace/pkg/schema"
	"github.com/rendis/calltrace/pkg/tracer"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/traces.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "open libsql").WithCause(err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	if err := runMigrations(ctx, s.db); err != nil {
		return schema.NewError(schema.ErrCodeStore, "migrate").WithCause(err)
	}
	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *LibSQLStore) SchemaVersion(ctx context.Context) (int, error) {
	v, err := schemaVersion(ctx, s.db)
	if err != nil {
		return 0, storeError("schema version", err)
	}
	return v, nil
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return storeError("vacuum", err)
	}
	return nil
}

// --- Traces ---

// SaveTrace archives rec with its statements and events in one transaction.
// Saving an ID that already exists replaces the earlier archive.
func (s *LibSQLStore) SaveTrace(ctx context.Context, rec *TraceRecord) error {
	if rec.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "trace id is required")
	}
	participants, err := json.Marshal(nonNil(rec.Snapshot.Participants))
	if err != nil {
		return storeError("marshal participants", err).WithTrace(rec.ID)
	}
	rec.CreatedAt = timeOrNow(rec.CreatedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin save", err).WithTrace(rec.ID)
	}
	defer tx.Rollback()

	if err := deleteTraceRows(ctx, tx, rec.ID); err != nil {
		return storeError("replace trace", err).WithTrace(rec.ID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO traces (id, name, loop_threshold, participants, diagram, calls, failures, loops, rendered, image_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, nullStr(rec.Name), rec.LoopThreshold, string(participants), rec.Snapshot.PlantUML(),
		rec.Stats.Calls, rec.Stats.Failures, rec.Stats.Loops, boolInt(rec.Rendered), nullStr(rec.ImagePath), rec.CreatedAt,
	)
	if err != nil {
		return storeError("insert trace", err).WithTrace(rec.ID)
	}

	for i, st := range rec.Snapshot.Statements {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trace_statements (trace_id, position, kind, from_name, to_name, text, count) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, i, string(st.Kind), nullStr(st.From), nullStr(st.To), nullStr(st.Text), st.Count,
		); err != nil {
			return storeError("insert statement", err).WithTrace(rec.ID)
		}
	}

	for i, ev := range rec.Events {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trace_events (trace_id, sequence, kind, caller, callee, detail, count, depth, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, i+1, string(ev.Kind), ev.Caller, ev.Callee, nullStr(ev.Detail), ev.Count, ev.Depth, timeOrNow(ev.Time),
		); err != nil {
			return storeError("insert event", err).WithTrace(rec.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeError("commit save", err).WithTrace(rec.ID)
	}
	return nil
}

// GetTrace loads a trace with its statements and events.
func (s *LibSQLStore) GetTrace(ctx context.Context, id string) (*TraceRecord, error) {
	rec := &TraceRecord{ID: id}
	var (
		name, imagePath  sql.NullString
		participantsJSON string
		diagram          string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, loop_threshold, participants, diagram, calls, failures, loops, rendered, image_path, created_at
		 FROM traces WHERE id = ?`, id,
	).Scan(&name, &rec.LoopThreshold, &participantsJSON, &diagram,
		&rec.Stats.Calls, &rec.Stats.Failures, &rec.Stats.Loops, &rec.Rendered, &imagePath, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("trace", id)
	}
	if err != nil {
		return nil, storeError("get trace", err).WithTrace(id)
	}
	rec.Name = name.String
	rec.ImagePath = imagePath.String

	var participants []string
	if err := json.Unmarshal([]byte(participantsJSON), &participants); err != nil {
		return nil, storeError("unmarshal participants", err).WithTrace(id)
	}
	rec.Snapshot = tracer.Snapshot{ID: id, Name: rec.Name, Participants: participants}
	rec.Stats.Participants = len(participants)

	statements, err := s.statements(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Snapshot.Statements = statements

	events, err := s.GetEvents(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		rec.Events = append(rec.Events, tracer.Event{
			TraceID: id, Kind: e.Kind, Caller: e.Caller, Callee: e.Callee,
			Detail: e.Detail, Count: e.Count, Depth: e.Depth, Time: e.Timestamp,
		})
	}
	return rec, nil
}

func (s *LibSQLStore) statements(ctx context.Context, traceID string) ([]tracer.Statement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, from_name, to_name, text, count FROM trace_statements WHERE trace_id = ? ORDER BY position ASC`, traceID)
	if err != nil {
		return nil, storeError("list statements", err).WithTrace(traceID)
	}
	defer rows.Close()

	statements := []tracer.Statement{}
	for rows.Next() {
		var (
			st             tracer.Statement
			kind           string
			from, to, text sql.NullString
		)
		if err := rows.Scan(&kind, &from, &to, &text, &st.Count); err != nil {
			return nil, storeError("scan statement", err).WithTrace(traceID)
		}
		st.Kind = tracer.Kind(kind)
		st.From, st.To, st.Text = from.String, to.String, text.String
		statements = append(statements, st)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list statements", err).WithTrace(traceID)
	}
	return statements, nil
}

// ListTraces returns trace summaries, newest first.
func (s *LibSQLStore) ListTraces(ctx context.Context, filter TraceFilter) ([]*TraceSummary, error) {
	var where []string
	var args []any

	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}
	if filter.Participant != "" {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(traces.participants) WHERE json_each.value = ?)")
		args = append(args, filter.Participant)
	}
	if filter.FailedOnly {
		where = append(where, "failures > 0")
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := "SELECT id, name, participants, calls, failures, loops, rendered, created_at FROM traces"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list traces", err)
	}
	defer rows.Close()

	var traces []*TraceSummary
	for rows.Next() {
		sum := &TraceSummary{}
		var name sql.NullString
		var participantsJSON string
		if err := rows.Scan(&sum.ID, &name, &participantsJSON, &sum.Calls, &sum.Failures, &sum.Loops, &sum.Rendered, &sum.CreatedAt); err != nil {
			return nil, storeError("scan trace", err)
		}
		sum.Name = name.String
		if err := json.Unmarshal([]byte(participantsJSON), &sum.Participants); err != nil {
			return nil, storeError("unmarshal participants", err).WithTrace(sum.ID)
		}
		traces = append(traces, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list traces", err)
	}
	return traces, nil
}

// MarkRendered records that an image was produced for the trace.
func (s *LibSQLStore) MarkRendered(ctx context.Context, id, imagePath string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE traces SET rendered = 1, image_path = ? WHERE id = ?`, nullStr(imagePath), id,
	)
	if err != nil {
		return storeError("mark rendered", err).WithTrace(id)
	}
	return checkRowsAffected(res, "trace", id)
}

// DeleteTrace removes a trace and everything recorded under it.
func (s *LibSQLStore) DeleteTrace(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin delete", err).WithTrace(id)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM trace_events WHERE trace_id = ?`, id); err != nil {
		return storeError("delete events", err).WithTrace(id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM trace_statements WHERE trace_id = ?`, id); err != nil {
		return storeError("delete statements", err).WithTrace(id)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM traces WHERE id = ?`, id)
	if err != nil {
		return storeError("delete trace", err).WithTrace(id)
	}
	if err := checkRowsAffected(res, "trace", id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeError("commit delete", err).WithTrace(id)
	}
	return nil
}

// --- Events ---

// GetEvents returns events for a trace with sequence > since, ordered by sequence ASC.
func (s *LibSQLStore) GetEvents(ctx context.Context, traceID string, since int64) ([]*EventRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, kind, caller, callee, detail, count, depth, timestamp
		 FROM trace_events WHERE trace_id = ? AND sequence > ? ORDER BY sequence ASC`,
		traceID, since,
	)
	if err != nil {
		return nil, storeError("get events", err).WithTrace(traceID)
	}
	defer rows.Close()

	var events []*EventRecord
	for rows.Next() {
		e := &EventRecord{TraceID: traceID}
		var kind string
		var detail sql.NullString
		if err := rows.Scan(&e.Sequence, &kind, &e.Caller, &e.Callee, &detail, &e.Count, &e.Depth, &e.Timestamp); err != nil {
			return nil, storeError("scan event", err).WithTrace(traceID)
		}
		e.Kind = tracer.EventKind(kind)
		e.Detail = detail.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("get events", err).WithTrace(traceID)
	}
	return events, nil
}

// --- Helpers ---

func deleteTraceRows(ctx context.Context, tx *sql.Tx, id string) error {
	for _, q := range []string{
		`DELETE FROM trace_events WHERE trace_id = ?`,
		`DELETE FROM trace_statements WHERE trace_id = ?`,
		`DELETE FROM traces WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return nil
}

func storeNotFound(resource, id string) *schema.TraceError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeError(op string, err error) *schema.TraceError {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %v", op, err).WithCause(err)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeError("rows affected", err)
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
