package migrations_test

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/gophpaste/internal/dbx/dbxtest"
	"github.com/dmitrijs2005/gophpaste/internal/migrations"
	"github.com/stretchr/testify/require"
)

func TestUp_CreatesTablesAndIsIdempotent(t *testing.T) {
	db := dbxtest.OpenDB(t)

	for _, table := range []string{"metadata", "peers", "trusted_identities", "pastes", "paste_tasks"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
	}

	require.NoError(t, migrations.Up(context.Background(), db))
}

func TestUp_PeersHaveUnmatchedColumn(t *testing.T) {
	db := dbxtest.OpenDB(t)

	var unmatched int
	_, err := db.Exec(`INSERT INTO peers (app_instance_id, state, create_time, modify_time) VALUES ('p', 'CONNECTING', 1, 1)`)
	require.NoError(t, err)
	require.NoError(t, db.QueryRow(`SELECT unmatched FROM peers WHERE app_instance_id = 'p'`).Scan(&unmatched))
	require.Zero(t, unmatched)
}
