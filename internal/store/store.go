package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"gogetter/internal/goals"
)

// Store persists the planning hierarchy in SQLite. Read and write helpers
// are shared with Tx, so every uniqueness check can run inside the
// transaction that depends on it.
type Store struct {
	DBPath string
	db     *sql.DB
	queries
}

// Tx is a storage transaction handed to Update callbacks.
type Tx struct {
	queries
	tx *sql.Tx
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

type scanner interface {
	Scan(dest ...any) error
}

// ErrNotFound is returned by getters when no row matches.
var ErrNotFound = errors.New("not found")

// Open opens or creates the state database.
func Open(path string) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure db dir: %w", err)
	}

	dsn := "file:" + absPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; concurrent callers queue on the pool.
	db.SetMaxOpenConns(1)

	store := &Store{
		DBPath:  absPath,
		db:      db,
		queries: queries{q: db},
	}

	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Update runs fn in a single transaction. Any error from fn rolls back
// every write made through the Tx.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{queries: queries{q: sqlTx}, tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS best_pals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS go_getters (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	best_pal_id INTEGER REFERENCES best_pals(id),
	name TEXT NOT NULL,
	grade TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS goal_groups (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	go_getter_id INTEGER NOT NULL REFERENCES go_getters(id),
	title TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL,
	window_start TEXT NOT NULL,
	window_end TEXT NOT NULL,
	last_change_at TEXT,
	replan_status TEXT NOT NULL DEFAULT 'idle',
	constraints_json TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_groups_owner_status ON goal_groups(go_getter_id, status);

CREATE TABLE IF NOT EXISTS targets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	go_getter_id INTEGER NOT NULL REFERENCES go_getters(id),
	subcategory_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	subject TEXT NOT NULL,
	description TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 3,
	status TEXT NOT NULL,
	group_id INTEGER REFERENCES goal_groups(id),
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_targets_owner_subcategory ON targets(go_getter_id, subcategory_id, status);

CREATE TABLE IF NOT EXISTS goal_group_changes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	group_id INTEGER NOT NULL REFERENCES goal_groups(id),
	change_type TEXT NOT NULL,
	target_id INTEGER,
	old_value_json TEXT,
	new_value_json TEXT,
	triggered_replan_at TEXT,
	replan_plan_id INTEGER,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS plans (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	target_id INTEGER NOT NULL REFERENCES targets(id),
	group_id INTEGER REFERENCES goal_groups(id),
	status TEXT NOT NULL,
	version INTEGER NOT NULL,
	superseded_by_id INTEGER REFERENCES plans(id),
	title TEXT NOT NULL,
	overview TEXT,
	start_date TEXT NOT NULL,
	end_date TEXT NOT NULL,
	total_weeks INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_plans_target_status ON plans(target_id, status);

CREATE TABLE IF NOT EXISTS weekly_milestones (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	plan_id INTEGER NOT NULL REFERENCES plans(id),
	week_number INTEGER NOT NULL,
	title TEXT NOT NULL,
	description TEXT,
	start_date TEXT NOT NULL,
	end_date TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_milestones_plan ON weekly_milestones(plan_id, start_date);

CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	milestone_id INTEGER NOT NULL REFERENCES weekly_milestones(id),
	day_of_week INTEGER NOT NULL,
	sequence_in_day INTEGER NOT NULL,
	title TEXT NOT NULL,
	description TEXT,
	estimated_minutes INTEGER NOT NULL,
	task_type TEXT NOT NULL,
	xp_reward INTEGER NOT NULL,
	is_optional INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_milestone_status ON tasks(milestone_id, status);

CREATE TABLE IF NOT EXISTS check_ins (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id INTEGER NOT NULL REFERENCES tasks(id),
	go_getter_id INTEGER NOT NULL REFERENCES go_getters(id),
	note TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS wizards (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	go_getter_id INTEGER NOT NULL REFERENCES go_getters(id),
	state TEXT NOT NULL,
	title TEXT,
	description TEXT,
	window_start TEXT,
	window_end TEXT,
	target_specs_json TEXT,
	constraints_json TEXT,
	draft_plan_ids_json TEXT,
	generation_errors_json TEXT,
	feasibility_json TEXT,
	expires_at TEXT NOT NULL,
	goal_group_id INTEGER REFERENCES goal_groups(id),
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_wizards_owner_state ON wizards(go_getter_id, state);
CREATE INDEX IF NOT EXISTS idx_wizards_expires ON wizards(state, expires_at);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	scheduled_at TEXT NOT NULL,
	started_at TEXT,
	finished_at TEXT,
	payload_json TEXT,
	result_json TEXT,
	lease_owner TEXT,
	lease_expires_at TEXT,
	UNIQUE(type, scheduled_at)
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_scheduled ON jobs(status, scheduled_at);

CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT
);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatDay(t time.Time) string {
	return t.UTC().Format(goals.DateLayout)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s.String)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseDay(s string) time.Time {
	t, _ := goals.ParseDay(s)
	return t
}

func parseDayPtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := goals.ParseDay(s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullDay(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatDay(*t)
}

func nullID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func idPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal json: %w", err)
	}
	return string(data), nil
}

func unmarshalJSON(s sql.NullString, v any) error {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(s.String), v); err != nil {
		return fmt.Errorf("unmarshal json: %w", err)
	}
	return nil
}

func insertID(res sql.Result) (int64, error) {
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// Classify maps storage sentinels onto core error kinds. Errors that are
// already classified pass through unchanged.
func Classify(op string, err error) error {
	var classified *goals.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &classified):
		return err
	case errors.Is(err, ErrNotFound):
		return &goals.Error{Kind: goals.KindNotFound, Op: op, Err: err}
	case errors.Is(err, ErrStateChanged):
		return &goals.Error{Kind: goals.KindConflict, Op: op, Err: err}
	default:
		return err
	}
}
