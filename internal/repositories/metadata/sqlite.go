package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/dbx"
	"github.com/google/uuid"
)

const (
	selectValue = `SELECT value FROM metadata WHERE key = ?`
	upsertValue = `INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	insertIfAbsent = `INSERT OR IGNORE INTO metadata (key, value) VALUES (?, ?)`
	deleteValue    = `DELETE FROM metadata WHERE key = ?`
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, key string) (string, error) {
	var raw []byte
	switch err := r.db.QueryRowContext(ctx, selectValue, key).Scan(&raw); {
	case errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("metadata %q: %w", key, common.ErrorNotFound)
	case err != nil:
		return "", fmt.Errorf("read metadata %q: %w", key, err)
	}
	return string(raw), nil
}

func (r *SQLiteRepository) Set(ctx context.Context, key, value string) error {
	if _, err := r.db.ExecContext(ctx, upsertValue, key, []byte(value)); err != nil {
		return fmt.Errorf("write metadata %q: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) GetOrInit(ctx context.Context, key string, gen func() string) (string, error) {
	if _, err := r.db.ExecContext(ctx, insertIfAbsent, key, []byte(gen())); err != nil {
		return "", fmt.Errorf("init metadata %q: %w", key, err)
	}
	return r.Get(ctx, key)
}

func (r *SQLiteRepository) AppInstanceID(ctx context.Context) (string, error) {
	return r.GetOrInit(ctx, KeyAppInstanceID, uuid.NewString)
}

func (r *SQLiteRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, deleteValue, key); err != nil {
		return fmt.Errorf("delete metadata %q: %w", key, err)
	}
	return nil
}
