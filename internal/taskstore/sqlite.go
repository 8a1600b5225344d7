package taskstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/DevaanshArora/complianceASC/internal/domain"
)

// SQLiteStore is a task store backed by a SQLite database, for deployments
// where task state must survive a restart.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the task database with WAL mode enabled and creates the
// schema if needed. Transactions take the write lock up front and waiters
// retry for up to five seconds, so concurrent Updates (progress vs. cancel)
// serialize instead of surfacing SQLITE_BUSY.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_txlock=immediate" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	progress REAL NOT NULL DEFAULT 0,
	message TEXT,
	result_location TEXT,
	checkpoint_location TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Create stores a new task (implements domain.TaskStore)
func (s *SQLiteStore) Create(ctx context.Context, task *domain.Task) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (id, status, progress, message, result_location, checkpoint_location, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`,
		task.ID.String(),
		string(task.Status),
		task.Progress,
		task.Message,
		task.ResultLocation,
		task.CheckpointLocation,
		task.CreatedAt.UTC().Format(time.RFC3339Nano),
		task.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Get returns the task by id (implements domain.TaskStore)
func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, `
SELECT id, status, progress, message, result_location, checkpoint_location, created_at, updated_at
FROM tasks
WHERE id = ?;
`, id.String()))
}

// Update applies mutate to the task inside a transaction so concurrent
// state changes serialize against each other.
func (s *SQLiteStore) Update(ctx context.Context, id uuid.UUID, mutate func(*domain.Task) error) (*domain.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	task, err := scanTask(tx.QueryRowContext(ctx, `
SELECT id, status, progress, message, result_location, checkpoint_location, created_at, updated_at
FROM tasks
WHERE id = ?;
`, id.String()))
	if err != nil {
		return nil, err
	}

	if err := mutate(task); err != nil {
		return nil, err
	}
	task.UpdatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
UPDATE tasks
SET status = ?, progress = ?, message = ?, result_location = ?, checkpoint_location = ?, updated_at = ?
WHERE id = ?;
`,
		string(task.Status),
		task.Progress,
		task.Message,
		task.ResultLocation,
		task.CheckpointLocation,
		task.UpdatedAt.Format(time.RFC3339Nano),
		task.ID.String(),
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return task, nil
}

// Close closes the database connection (implements domain.TaskStore)
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task      domain.Task
		id        string
		status    string
		createdAt string
		updatedAt string
	)
	err := row.Scan(&id, &status, &task.Progress, &task.Message, &task.ResultLocation, &task.CheckpointLocation, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}

	task.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	task.Status = domain.TaskStatus(status)
	if parsed, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
		task.CreatedAt = parsed
	}
	if parsed, perr := time.Parse(time.RFC3339Nano, updatedAt); perr == nil {
		task.UpdatedAt = parsed
	}
	return &task, nil
}

// Verify that SQLiteStore implements domain.TaskStore interface
var _ domain.TaskStore = (*SQLiteStore)(nil)
