// Package sqlstore persists workflows and executions in SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/common-fate/rheoma/pkg/noderr"
	"github.com/common-fate/rheoma/pkg/store"
	"github.com/common-fate/rheoma/pkg/workflow"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	nodes       TEXT NOT NULL,
	connections TEXT NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS executions (
	id           TEXT PRIMARY KEY,
	workflow_id  TEXT NOT NULL,
	event_id     TEXT NOT NULL UNIQUE,
	status       TEXT NOT NULL,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	output       TEXT,
	error        TEXT NOT NULL DEFAULT '',
	error_stack  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id, started_at);

CREATE TABLE IF NOT EXISTS credentials (
	id      TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name    TEXT NOT NULL DEFAULT '',
	type    TEXT NOT NULL DEFAULT '',
	value   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS step_checkpoints (
	event_id TEXT NOT NULL,
	name     TEXT NOT NULL,
	data     BLOB NOT NULL,
	PRIMARY KEY (event_id, name)
);
`

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

type Store struct {
	db *sql.DB
}

var _ store.Store = &Store{}

// Open connects to the database at cfg.Path and applies the schema.
// ":memory:" opens a private in-memory database.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=%d",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	if cfg.Path == ":memory:" {
		dsn = fmt.Sprintf("file::memory:?_foreign_keys=on&_busy_timeout=%d", cfg.BusyTimeout.Milliseconds())
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if cfg.Path == ":memory:" {
		// every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "connecting to database")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "applying schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) PutWorkflow(ctx context.Context, w *workflow.Workflow) error {
	nodes, err := json.Marshal(w.Nodes)
	if err != nil {
		return err
	}
	conns, err := json.Marshal(w.Connections)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, user_id, name, nodes, connections, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			nodes = excluded.nodes,
			connections = excluded.connections,
			updated_at = excluded.updated_at`,
		w.ID, w.UserID, w.Name, string(nodes), string(conns), time.Now().UTC())
	return errors.Wrapf(err, "saving workflow %s", w.ID)
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	var (
		w            = workflow.Workflow{ID: id}
		nodes, conns string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, name, nodes, connections FROM workflows WHERE id = ?`, id,
	).Scan(&w.UserID, &w.Name, &nodes, &conns)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, noderr.NotFound("workflow", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading workflow %s", id)
	}
	if err := json.Unmarshal([]byte(nodes), &w.Nodes); err != nil {
		return nil, errors.Wrapf(err, "decoding nodes of workflow %s", id)
	}
	if err := json.Unmarshal([]byte(conns), &w.Connections); err != nil {
		return nil, errors.Wrapf(err, "decoding connections of workflow %s", id)
	}
	return &w, nil
}

func (s *Store) LoadGraph(ctx context.Context, workflowID, ownerID string) (*workflow.Workflow, error) {
	w, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if w.UserID != ownerID {
		return nil, noderr.NotFound("workflow", workflowID)
	}
	return w, nil
}

func (s *Store) CreateExecution(ctx context.Context, e workflow.Execution) (*workflow.Execution, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, workflow_id, event_id, status, started_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING`,
		e.ID, e.WorkflowID, e.EventID, string(e.Status), e.StartedAt.UTC())
	if err != nil {
		return nil, false, errors.Wrapf(err, "creating execution for event %s", e.EventID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	got, err := s.GetExecutionByEvent(ctx, e.EventID)
	if err != nil {
		return nil, false, err
	}
	return got, n == 1, nil
}

func (s *Store) FinalizeExecution(ctx context.Context, eventID string, o store.Outcome) (*workflow.Execution, error) {
	var output sql.NullString
	if o.Output != nil {
		b, err := json.Marshal(o.Output)
		if err != nil {
			return nil, errors.Wrap(err, "encoding execution output")
		}
		output = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE executions
		SET status = ?, completed_at = ?, output = ?, error = ?, error_stack = ?
		WHERE event_id = ? AND status = ?`,
		string(o.Status), o.CompletedAt.UTC(), output, o.Error, o.ErrorStack,
		eventID, string(workflow.Running))
	if err != nil {
		return nil, errors.Wrapf(err, "finalizing execution for event %s", eventID)
	}
	return s.GetExecutionByEvent(ctx, eventID)
}

const executionColumns = `id, workflow_id, event_id, status, started_at, completed_at, output, error, error_stack`

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*workflow.Execution, error) {
	var (
		e         workflow.Execution
		status    string
		completed sql.NullTime
		output    sql.NullString
	)
	err := row.Scan(&e.ID, &e.WorkflowID, &e.EventID, &status, &e.StartedAt, &completed, &output, &e.Error, &e.ErrorStack)
	if err != nil {
		return nil, err
	}
	e.Status = workflow.Status(status)
	if completed.Valid {
		t := completed.Time
		e.CompletedAt = &t
	}
	if output.Valid {
		if err := json.Unmarshal([]byte(output.String), &e.Output); err != nil {
			return nil, errors.Wrap(err, "decoding execution output")
		}
	}
	return &e, nil
}

func (s *Store) getExecution(ctx context.Context, kind, where, arg string) (*workflow.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE `+where+` = ?`, arg)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, noderr.NotFound(kind, arg)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s %s", kind, arg)
	}
	return e, nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*workflow.Execution, error) {
	return s.getExecution(ctx, "execution", "id", id)
}

func (s *Store) GetExecutionByEvent(ctx context.Context, eventID string) (*workflow.Execution, error) {
	return s.getExecution(ctx, "execution for event", "event_id", eventID)
}

// ListExecutions returns executions for a workflow, most recent first.
func (s *Store) ListExecutions(ctx context.Context, workflowID string) ([]workflow.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE workflow_id = ? ORDER BY started_at DESC`, workflowID)
	if err != nil {
		return nil, errors.Wrapf(err, "listing executions for workflow %s", workflowID)
	}
	defer rows.Close()

	var out []workflow.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) PutCredential(ctx context.Context, c *workflow.Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, user_id, name, type, value) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id, name = excluded.name,
			type = excluded.type, value = excluded.value`,
		c.ID, c.UserID, c.Name, c.Type, c.Value)
	return errors.Wrapf(err, "saving credential %s", c.ID)
}

func (s *Store) GetCredential(ctx context.Context, id string) (*workflow.Credential, error) {
	c := workflow.Credential{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, name, type, value FROM credentials WHERE id = ?`, id,
	).Scan(&c.UserID, &c.Name, &c.Type, &c.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, noderr.NotFound("credential", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading credential %s", id)
	}
	return &c, nil
}

func (s *Store) LoadCheckpoint(ctx context.Context, eventID, name string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM step_checkpoints WHERE event_id = ? AND name = ?`, eventID, name,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, eventID, name string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO step_checkpoints (event_id, name, data) VALUES (?, ?, ?)
		ON CONFLICT(event_id, name) DO UPDATE SET data = excluded.data`,
		eventID, name, data)
	return err
}
