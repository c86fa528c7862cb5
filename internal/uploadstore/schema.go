package uploadstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
)

// schema.sql holds the upload_record slot and the results cache. Every
// statement is idempotent so it can be replayed on an existing database.
//
//go:embed schema.sql
var schemaSQL string

// schemaVersion changes whenever schema.sql changes shape.
const schemaVersion = 1

// ErrSchemaMismatch means the state database was written by a different crease build.
var ErrSchemaMismatch = errors.New("schema version mismatch")

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// readSchemaVersion returns the stamped version, or 0 for a database crease
// has never stamped.
func readSchemaVersion(ctx context.Context, q queryRower) (int, error) {
	var stamped int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'",
	).Scan(&stamped)
	if err != nil {
		return 0, fmt.Errorf("inspect state database: %w", err)
	}
	if stamped == 0 {
		return 0, nil
	}
	var version int
	err = q.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) mismatch(version int) error {
	return fmt.Errorf("%w: %s has version %d, this crease expects %d; finish or cancel any active upload with the build that wrote it, then remove the file",
		ErrSchemaMismatch, s.path, version, schemaVersion)
}

// ensureSchema stamps a fresh database, refuses one from another build, and
// replays schema.sql on a matching one so a dropped results table comes back.
func (s *Store) ensureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	version, err := readSchemaVersion(ctx, tx)
	if err != nil {
		return err
	}
	if version != 0 && version != schemaVersion {
		return s.mismatch(version)
	}
	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if version == 0 {
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("stamp schema version: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}
