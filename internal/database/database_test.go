package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func TestIsDuplicateKeyMySQL(t *testing.T) {
	err := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	require.True(t, IsDuplicateKey(err))
	require.True(t, IsDuplicateKey(fmt.Errorf("insert thread: %w", err)))
	require.False(t, IsDuplicateKey(&mysql.MySQLError{Number: 1045}))
}

func TestIsDuplicateKeyPostgres(t *testing.T) {
	err := &pq.Error{Code: "23505"}
	require.True(t, IsDuplicateKey(err))
	require.False(t, IsDuplicateKey(&pq.Error{Code: "23503"}))
}

func TestIsDuplicateKeySQLite(t *testing.T) {
	err := sqlite3.Error{
		Code:         sqlite3.ErrConstraint,
		ExtendedCode: sqlite3.ErrConstraintUnique,
	}
	require.True(t, IsDuplicateKey(err))
	require.True(t, IsDuplicateKey(sqlite3.Error{
		Code:         sqlite3.ErrConstraint,
		ExtendedCode: sqlite3.ErrConstraintPrimaryKey,
	}))
}

func TestIsDuplicateKeyNilAndUnrelated(t *testing.T) {
	require.False(t, IsDuplicateKey(nil))
	require.False(t, IsDuplicateKey(errors.New("connection refused")))
}

func TestBuildDSN(t *testing.T) {
	dsn, err := buildDSN("mysql", Config{Host: "db", Port: 3306, Name: "maildesk", User: "u", Password: "p"})
	require.NoError(t, err)
	require.Contains(t, dsn, "tcp(db:3306)")
	require.Contains(t, dsn, "/maildesk")

	dsn, err = buildDSN("postgres", Config{Host: "db", Port: 5432, Name: "maildesk", User: "u", Password: "p"})
	require.NoError(t, err)
	require.Contains(t, dsn, "host=db")

	dsn, err = buildDSN("sqlite3", Config{Path: "/tmp/maildesk.db"})
	require.NoError(t, err)
	require.Contains(t, dsn, "/tmp/maildesk.db")

	_, err = buildDSN("oracle", Config{})
	require.Error(t, err)
}
