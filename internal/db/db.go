package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	workspaceDir  = ".projectops"
	defaultDBName = "projectops.db"
)

type Config struct {
	Workspace string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir, defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the SQLite database with foreign keys on. Write transactions
// take the database lock at BEGIN (_txlock=immediate), so concurrent
// read-validate-write sequences serialize.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", dbPath(cfg.Workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", dbPath(cfg.Workspace), err)
	}
	return conn, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}

// Constraint names a class of SQLite constraint violation.
type Constraint int

const (
	ConstraintNone Constraint = iota
	ConstraintUnique
	ConstraintForeignKey
	ConstraintCheck
	ConstraintNotNull
)

func (c Constraint) String() string {
	switch c {
	case ConstraintUnique:
		return "unique"
	case ConstraintForeignKey:
		return "foreign_key"
	case ConstraintCheck:
		return "check"
	case ConstraintNotNull:
		return "not_null"
	default:
		return "none"
	}
}

// ClassifyConstraint reports which constraint, if any, err violated.
func ClassifyConstraint(err error) Constraint {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return ConstraintNone
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return ConstraintUnique
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return ConstraintForeignKey
	case sqlite3.SQLITE_CONSTRAINT_CHECK:
		return ConstraintCheck
	case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
		return ConstraintNotNull
	default:
		return ConstraintNone
	}
}
