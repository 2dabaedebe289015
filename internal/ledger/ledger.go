// Package ledger persists upload history in a local SQLite database, one
// row per finished attempt. It implements uploader.Recorder.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/arsalan507/studioflow/internal/uploader"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlInsertUpload = `INSERT INTO uploads
		(id, upload_key, name, remote_id, view_link, size, status, error,
		 started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlRecentUploads = `SELECT id, upload_key, name, remote_id, view_link,
		 size, status, error, started_at, finished_at
		FROM uploads ORDER BY finished_at DESC, id LIMIT ?`
)

// Ledger is the sole writer to the upload history database.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the history database at dbPath and runs
// pending migrations. The database uses WAL mode; pragmas go in the DSN so
// they apply to every pooled connection.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Ledger, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("upload history ready", slog.String("db_path", dbPath))

	return &Ledger{db: db, logger: logger}, nil
}

// runMigrations applies all pending schema migrations using the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ledger: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("ledger: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("ledger: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Duration("duration", r.Duration),
		)
	}

	return nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record inserts one finished upload attempt.
func (l *Ledger) Record(ctx context.Context, rec uploader.UploadRecord) error {
	_, err := l.db.ExecContext(ctx, sqlInsertUpload,
		rec.ID, rec.Key, rec.Name, rec.RemoteID, rec.ViewLink,
		rec.Size, rec.Status, rec.Error,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("ledger: recording upload %s: %w", rec.ID, err)
	}

	return nil
}

// Recent returns up to limit records, most recently finished first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]uploader.UploadRecord, error) {
	rows, err := l.db.QueryContext(ctx, sqlRecentUploads, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: querying upload history: %w", err)
	}
	defer rows.Close()

	var recs []uploader.UploadRecord

	for rows.Next() {
		var rec uploader.UploadRecord
		var startedAt, finishedAt string

		if err := rows.Scan(&rec.ID, &rec.Key, &rec.Name, &rec.RemoteID, &rec.ViewLink,
			&rec.Size, &rec.Status, &rec.Error, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("ledger: scanning upload row: %w", err)
		}

		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("ledger: parsing started_at: %w", err)
		}

		if rec.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
			return nil, fmt.Errorf("ledger: parsing finished_at: %w", err)
		}

		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating upload history: %w", err)
	}

	return recs, nil
}
