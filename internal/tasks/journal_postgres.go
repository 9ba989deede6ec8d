package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initTaskSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresRepository{pool: pool}, nil
}

func initTaskSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS download_tasks (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			output_path TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			progress DOUBLE PRECISION NOT NULL DEFAULT 0,
			downloaded_size BIGINT NOT NULL DEFAULT 0,
			file_size BIGINT NOT NULL DEFAULT 0,
			speed BIGINT NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			source_metadata TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_download_tasks_created ON download_tasks (created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init task schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (r *PostgresRepository) SaveTask(ctx context.Context, task Task) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO download_tasks (
			id, url, title, output_path, status, progress, downloaded_size, file_size,
			speed, error, source_metadata, created_at, updated_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
		)
		ON CONFLICT (id) DO UPDATE SET
			url=EXCLUDED.url,
			title=EXCLUDED.title,
			output_path=EXCLUDED.output_path,
			status=EXCLUDED.status,
			progress=EXCLUDED.progress,
			downloaded_size=EXCLUDED.downloaded_size,
			file_size=EXCLUDED.file_size,
			speed=EXCLUDED.speed,
			error=EXCLUDED.error,
			source_metadata=EXCLUDED.source_metadata,
			created_at=EXCLUDED.created_at,
			updated_at=EXCLUDED.updated_at`,
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
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, url, title, output_path, status, progress, downloaded_size, file_size,
		        speed, error, source_metadata, created_at, updated_at
		   FROM download_tasks WHERE id=$1`,
		taskID,
	)
	task, err := scanJournalRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Task{}, ErrJournalNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (r *PostgresRepository) ListTasks(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, url, title, output_path, status, progress, downloaded_size, file_size,
		        speed, error, source_metadata, created_at, updated_at
		   FROM download_tasks ORDER BY created_at ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0, limit)
	for rows.Next() {
		task, err := scanJournalRow(rows)
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

func (r *PostgresRepository) DeleteTasks(ctx context.Context, taskIDs ...string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM download_tasks WHERE id = ANY($1)`, taskIDs); err != nil {
		return fmt.Errorf("delete tasks: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func scanJournalRow(row pgx.Row) (Task, error) {
	var (
		task   Task
		status string
		source string
	)
	if err := row.Scan(
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
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return Task{}, err
	}
	task.Status = Status(status)
	task.Source = decodeSource(source)
	return task, nil
}

func encodeSource(source map[string]string) string {
	if len(source) == 0 {
		return ""
	}
	b, err := json.Marshal(source)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeSource(raw string) map[string]string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	out := make(map[string]string)
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
