package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations
var embedMigrations embed.FS

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// SQLStore implements Store on top of database/sql. Both supported drivers
// understand the same statements: $n placeholders, CURRENT_TIMESTAMP, and
// "ON CONFLICT ... DO UPDATE" upserts.
type SQLStore struct {
	db *sql.DB
}

// Open connects to the database, applies any pending migrations, and returns
// the store. driver is DriverSQLite or DriverPostgres.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var migrationDir string
	switch driver {
	case DriverSQLite:
		migrationDir = "migrations/sqlite"
	case DriverPostgres:
		migrationDir = "migrations/postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if driver == DriverSQLite {
		// sqlite allows a single writer; a second pooled connection would
		// also silently get a distinct database when dsn is ":memory:".
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := goose.SetDialect(driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set migration dialect: %w", err)
	}
	goose.SetBaseFS(embedMigrations)
	if err := goose.Up(db, migrationDir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) LoadState(ctx context.Context, documentID int64) ([]byte, error) {
	var state []byte
	if err := s.db.QueryRowContext(ctx,
		`SELECT state_blob FROM crdt_documents WHERE document_id = $1`,
		documentID,
	).Scan(&state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load state for document %d: %w", documentID, err)
	}
	return state, nil
}

func (s *SQLStore) SaveState(ctx context.Context, documentID int64, state []byte) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO crdt_documents (document_id, state_blob, updated_at)
		 VALUES ($1, $2, CURRENT_TIMESTAMP)
		 ON CONFLICT (document_id)
		 DO UPDATE SET state_blob = excluded.state_blob, updated_at = CURRENT_TIMESTAMP`,
		documentID, state,
	); err != nil {
		return fmt.Errorf("failed to save state for document %d: %w", documentID, err)
	}
	return nil
}

func (s *SQLStore) AppendUpdate(ctx context.Context, documentID int64, update []byte) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO crdt_updates (document_id, update_blob) VALUES ($1, $2)`,
		documentID, update,
	); err != nil {
		return fmt.Errorf("failed to append update for document %d: %w", documentID, err)
	}
	return nil
}

func (s *SQLStore) DeleteState(ctx context.Context, documentID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Error("failed to rollback", "err", err)
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM crdt_updates WHERE document_id = $1`, documentID,
	); err != nil {
		return fmt.Errorf("failed to delete updates for document %d: %w", documentID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM crdt_documents WHERE document_id = $1`, documentID,
	); err != nil {
		return fmt.Errorf("failed to delete state for document %d: %w", documentID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete for document %d: %w", documentID, err)
	}
	return nil
}

func (s *SQLStore) LoadLegacyText(ctx context.Context, documentID int64) (string, error) {
	var content sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT latex_content FROM documents WHERE id = $1`,
		documentID,
	).Scan(&content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to load latex content for document %d: %w", documentID, err)
	}
	return content.String, nil
}

func (s *SQLStore) SaveLegacyText(ctx context.Context, documentID int64, text string) error {
	// Zero rows affected is fine: the owning row is created by the CRUD
	// layer and may have been deleted since.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE documents SET latex_content = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
		text, documentID,
	); err != nil {
		return fmt.Errorf("failed to mirror latex content for document %d: %w", documentID, err)
	}
	return nil
}
