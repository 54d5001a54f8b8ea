package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so a repository can run
// inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const mysqlDuplicateEntry = 1062

var (
	ErrDuplicateEmail    = errors.New("duplicate email")
	ErrDuplicateUsername = errors.New("duplicate username")
	ErrDuplicateEntry    = errors.New("duplicate entry")
)

// mapDuplicateKey turns a MySQL unique-constraint violation into one of the
// typed duplicate errors; any other error is returned untouched.
func mapDuplicateKey(err error) error {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) || mysqlErr.Number != mysqlDuplicateEntry {
		return err
	}

	switch key := duplicateKeyName(mysqlErr.Message); {
	case strings.HasSuffix(key, "uq_users_username"):
		return ErrDuplicateUsername
	case strings.HasSuffix(key, "uq_users_email"):
		return ErrDuplicateEmail
	default:
		return ErrDuplicateEntry
	}
}

// duplicateKeyName extracts the index name from a message of the form
// "Duplicate entry 'value' for key 'table.index'". The value may itself
// contain anything, so only the text after the last "for key" is used.
func duplicateKeyName(message string) string {
	const marker = "for key "
	idx := strings.LastIndex(message, marker)
	if idx < 0 {
		return ""
	}
	key := strings.Trim(strings.TrimSpace(message[idx+len(marker):]), "'`\"")
	return strings.ToLower(key)
}

type rowScanner func(dest ...interface{}) error
