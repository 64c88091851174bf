// Package sqlite opens the local register database used by a single till.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"kasirinaja/register/internal/store/sqlstore"
)

//go:embed schema.sql
var schema string

// Dialect relies on _txlock=immediate for write locking, so re-reads carry no
// lock clause.
var Dialect = sqlstore.Dialect{
	Name:              "sqlite",
	Schema:            schema,
	Isolation:         sql.LevelDefault,
	Rebind:            sqlstore.NumberedQuestion,
	IsUniqueViolation: isUniqueViolation,
}

// New opens (creating if needed) the database at path and migrates it.
// Use ":memory:" for a throwaway database.
func New(ctx context.Context, path string) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// one writer at a time; a single connection also keeps ":memory:" coherent
	db.SetMaxOpenConns(1)

	s := sqlstore.New(db, Dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
