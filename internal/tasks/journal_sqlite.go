package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRepository journals tasks to a local file. This is the default for a
// client-side install where no postgres DSN is configured.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dataDir string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dataDir, "tasks.db"))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// WAL and a busy timeout keep the journal usable while the UI reads it.
	_, _ = db.Exec(`
		PRAGMA busy_timeout = 5000;
		PRAGMA journal_mode = WAL;
	`)

	schema := `
	CREATE TABLE IF NOT EXISTS download_tasks (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		output_path TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		progress REAL NOT NULL DEFAULT 0,
		downloaded_size INTEGER NOT NULL DEFAULT 0,
		file_size INTEGER NOT NULL DEFAULT 0,
		speed INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		source_metadata TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_download_tasks_created ON download_tasks(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) SaveTask(ctx context.Context, task Task) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO download_tasks (
			id, url, title, output_path, status, progress, downloaded_size, file_size,
			speed, error, source_metadata, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			url=excluded.url,
			title=excluded.title,
			output_path=excluded.output_path,
			status=excluded.status,
			progress=excluded.progress,
			downloaded_size=excluded.downloaded_size,
			file_size=excluded.file_size,
			speed=excluded.speed,
			error=excluded.error,
			source_metadata=excluded.source_metadata,
			created_at=excluded.created_at,
			updated_at=excluded.updated_at`,
		task.ID,
		task.URL,
		task.Title,
		task.OutputPath,
		string(task.Status),
		task.Progress,
		task.DownloadedSize,
		task.FileSize,
		task.Speed,
		task.Error,
		encodeSource(task.Source),
		task.CreatedAt.UTC().Format(time.RFC3339Nano),
		task.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, url, title, output_path, status, progress, downloaded_size, file_size,
		        speed, error, source_metadata, created_at, updated_at
		   FROM download_tasks WHERE id=?`,
		taskID,
	)
	task, err := scanSQLiteRow(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return Task{}, ErrJournalNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (r *SQLiteRepository) ListTasks(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, url, title, output_path, status, progress, downloaded_size, file_size,
		        speed, error, source_metadata, created_at, updated_at
		   FROM download_tasks ORDER BY created_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0, limit)
	for rows.Next() {
		task, err := scanSQLiteRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) DeleteTasks(ctx context.Context, taskIDs ...string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(taskIDs)), ",")
	args := make([]any, len(taskIDs))
	for i, id := range taskIDs {
		args[i] = id
	}
	query := fmt.Sprintf(`DELETE FROM download_tasks WHERE id IN (%s)`, placeholders)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete tasks: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func scanSQLiteRow(scan func(dest ...any) error) (Task, error) {
	var (
		task      Task
		status    string
		source    string
		createdAt string
		updatedAt string
	)
	if err := scan(
		&task.ID,
		&task.URL,
		&task.Title,
		&task.OutputPath,
		&status,
		&task.Progress,
		&task.DownloadedSize,
		&task.FileSize,
		&task.Speed,
		&task.Error,
		&source,
		&createdAt,
		&updatedAt,
	); err != nil {
		return Task{}, err
	}
	task.Status = Status(status)
	task.Source = decodeSource(source)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		task.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		task.UpdatedAt = t
	}
	return task, nil
}
