// Package storage opens the device database and builds its repositories.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/gophpaste/internal/migrations"
	"github.com/dmitrijs2005/gophpaste/internal/repositories/metadata"
	"github.com/dmitrijs2005/gophpaste/internal/repositories/pastes"
	"github.com/dmitrijs2005/gophpaste/internal/repositories/peers"
	"github.com/dmitrijs2005/gophpaste/internal/repositories/tasks"
	"github.com/dmitrijs2005/gophpaste/internal/repositories/trust"
	_ "modernc.org/sqlite"
)

type Repositories struct {
	Metadata metadata.Repository
	Peers    peers.Repository
	Trust    trust.Repository
	Pastes   pastes.Repository
	Tasks    tasks.Repository
	DB       *sql.DB
}

// Close releases the underlying database handle.
func (r *Repositories) Close() error {
	return r.DB.Close()
}

// FileDSN returns the DSN used for an on-disk database at path.
func FileDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

// InitDatabase opens dsn, applies migrations and builds the repositories.
func InitDatabase(ctx context.Context, dsn string) (*Repositories, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between the repository transactions.
	db.SetMaxOpenConns(1)

	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repositories{
		Metadata: metadata.NewSQLiteRepository(db),
		Peers:    peers.NewSQLiteRepository(db),
		Trust:    trust.NewSQLiteRepository(db),
		Pastes:   pastes.NewSQLiteRepository(db),
		Tasks:    tasks.NewSQLiteRepository(db),
		DB:       db,
	}, nil
}
