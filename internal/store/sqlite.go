package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pdfbaba/pdfbaba/internal/model"

	_ "modernc.org/sqlite"
)

type SQLite struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, dbPath string) (*SQLite, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating registry directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// single writer; :memory: databases are per connection
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			name TEXT NOT NULL,
			size INTEGER NOT NULL,
			content_type TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating artifacts table: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS artifacts_expires_at ON artifacts (expires_at)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating artifacts index: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Put(ctx context.Context, a model.Artifact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, path, name, size, content_type, created_at, expires_at)
		 VALUES (?,?,?,?,?,?,?);`,
		a.ID, a.Path, a.Name, a.Size, a.ContentType, a.CreatedAt.UnixNano(), a.ExpiresAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	return nil
}

func (s *SQLite) Claim(ctx context.Context, id string) (model.Artifact, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Artifact{}, err
	}
	defer rollback(ctx, tx, id)

	row := tx.QueryRowContext(ctx,
		`SELECT id, path, name, size, content_type, created_at, expires_at FROM artifacts WHERE id=?`, id,
	)
	a, err := scanArtifact(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.Artifact{}, ErrNotFound
	case err != nil:
		return model.Artifact{}, fmt.Errorf("executing sql query failed: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE id=?`, id); err != nil {
		return model.Artifact{}, fmt.Errorf("executing sql delete failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Artifact{}, fmt.Errorf("committing transaction failed: %w", err)
	}
	return a, nil
}

func (s *SQLite) TakeExpired(ctx context.Context, now time.Time) ([]model.Artifact, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer rollback(ctx, tx, "")

	rows, err := tx.QueryContext(ctx,
		`SELECT id, path, name, size, content_type, created_at, expires_at
		 FROM artifacts WHERE expires_at < ? ORDER BY expires_at`, now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	var expired []model.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		expired = append(expired, a)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE expires_at < ?`, now.UnixNano()); err != nil {
		return nil, fmt.Errorf("executing sql delete failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction failed: %w", err)
	}
	return expired, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row scanner) (model.Artifact, error) {
	var a model.Artifact
	var created, expires int64
	err := row.Scan(&a.ID, &a.Path, &a.Name, &a.Size, &a.ContentType, &created, &expires)
	if err != nil {
		return model.Artifact{}, err
	}
	a.CreatedAt = time.Unix(0, created).UTC()
	a.ExpiresAt = time.Unix(0, expires).UTC()
	return a, nil
}

func rollback(ctx context.Context, tx *sql.Tx, id string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("id", id), slog.String("error", err.Error()))
	}
}
