// Package dbxtest opens migrated in-memory databases for tests.
package dbxtest

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/dmitrijs2005/gophpaste/internal/migrations"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

var seq atomic.Int64

// OpenDB returns a fresh, fully migrated in-memory SQLite database that is
// closed when the test ends. A single connection keeps every statement on
// the same in-memory database.
func OpenDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:gophpaste_test_%d?mode=memory&cache=shared", seq.Add(1))
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migrations.Up(context.Background(), db))
	return db
}
