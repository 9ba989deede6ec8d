package tasks

import (
	"context"
	"errors"
	"strings"
)

var ErrJournalNotFound = errors.New("task not found in journal")

// Repository is the write-behind task journal. The in-memory Store stays
// authoritative; the journal only exists so a restart can re-list past tasks.
type Repository interface {
	SaveTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, taskID string) (Task, error)
	ListTasks(ctx context.Context, limit int) ([]Task, error)
	DeleteTasks(ctx context.Context, taskIDs ...string) error
	Close() error
}

// NewRepository picks the journal backend: postgres when a DSN is configured,
// otherwise a local sqlite file under dataDir, otherwise none.
func NewRepository(ctx context.Context, databaseURL, dataDir string) (Repository, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresRepository(ctx, databaseURL)
	}
	if strings.TrimSpace(dataDir) != "" {
		return NewSQLiteRepository(dataDir)
	}
	return nil, nil
}
