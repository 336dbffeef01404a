package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Entry is one indexed artifact in the local cache.
type Entry struct {
	Name        string
	Version     string
	ContentHash string
	FilePath    string
	SizeBytes   int64
	CreatedAt   time.Time
}

// index is the SQLite-backed catalog of cached artifacts. Payloads live on
// disk; the index maps (name, version) to file path and content hash.
type index struct {
	db   *sql.DB
	path string
}

func newIndex(path string) *index {
	return &index{path: path}
}

// Init opens the database in WAL mode and runs migrations.
func (ix *index) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", ix.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open cache index: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping cache index: %w", err)
	}

	ix.db = db
	return ix.migrate()
}

func (ix *index) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(ix.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (ix *index) Close() error {
	if ix.db != nil {
		return ix.db.Close()
	}
	return nil
}

func (ix *index) insert(ctx context.Context, e *Entry) error {
	query := `
		INSERT INTO packages (name, version, content_hash, file_path, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := ix.db.ExecContext(ctx, query,
		e.Name,
		e.Version,
		e.ContentHash,
		e.FilePath,
		e.SizeBytes,
		e.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return fmt.Errorf("failed to index package: %w", err)
	}
	return nil
}

// get returns the entry for an identity, or nil when absent. Names are
// matched case-insensitively.
func (ix *index) get(ctx context.Context, name, version string) (*Entry, error) {
	query := `
		SELECT name, version, content_hash, file_path, size_bytes, created_at
		FROM packages
		WHERE name = ? COLLATE NOCASE AND version = ?
	`

	e := &Entry{}
	err := ix.db.QueryRowContext(ctx, query, name, version).Scan(
		&e.Name,
		&e.Version,
		&e.ContentHash,
		&e.FilePath,
		&e.SizeBytes,
		&e.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package: %w", err)
	}
	return e, nil
}

func (ix *index) versions(ctx context.Context, name string) ([]string, error) {
	query := `
		SELECT version FROM packages
		WHERE name = ? COLLATE NOCASE
		ORDER BY created_at ASC
	`

	rows, err := ix.db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}
	return versions, nil
}

func (ix *index) list(ctx context.Context) ([]*Entry, error) {
	query := `
		SELECT name, version, content_hash, file_path, size_bytes, created_at
		FROM packages
		ORDER BY name ASC, created_at ASC
	`

	rows, err := ix.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		e := &Entry{}
		err := rows.Scan(
			&e.Name,
			&e.Version,
			&e.ContentHash,
			&e.FilePath,
			&e.SizeBytes,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating packages: %w", err)
	}
	return entries, nil
}

func (ix *index) delete(ctx context.Context, name, version string) error {
	query := `DELETE FROM packages WHERE name = ? COLLATE NOCASE AND version = ?`

	result, err := ix.db.ExecContext(ctx, query, name, version)
	if err != nil {
		return fmt.Errorf("failed to delete package: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("package not found: %s@%s", name, version)
	}
	return nil
}
