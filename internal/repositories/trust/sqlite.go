package trust

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/dbx"
	"github.com/dmitrijs2005/gophpaste/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.TrustedIdentity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT app_instance_id, sign_public_key, crypt_public_key, create_time
		   FROM trusted_identities WHERE app_instance_id = ?`, id)
	var (
		t  models.TrustedIdentity
		ms int64
	)
	err := row.Scan(&t.AppInstanceID, &t.SignPublicKey, &t.CryptPublicKey, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	t.CreateTime = dbx.FromMillis(ms)
	return &t, nil
}

// Put replaces the row in a single statement, so readers never observe two
// identities for one peer.
func (r *SQLiteRepository) Put(ctx context.Context, t *models.TrustedIdentity) error {
	if t.CreateTime.IsZero() {
		t.CreateTime = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trusted_identities (app_instance_id, sign_public_key, crypt_public_key, create_time)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(app_instance_id) DO UPDATE SET
			sign_public_key = excluded.sign_public_key,
			crypt_public_key = excluded.crypt_public_key,
			create_time = excluded.create_time`,
		t.AppInstanceID, t.SignPublicKey, t.CryptPublicKey, dbx.Millis(t.CreateTime))
	if err != nil {
		return fmt.Errorf("failed to store trusted identity: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM trusted_identities WHERE app_instance_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete trusted identity: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.TrustedIdentity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT app_instance_id, sign_public_key, crypt_public_key, create_time FROM trusted_identities`)
	if err != nil {
		return nil, fmt.Errorf("failed to select trusted identities: %w", err)
	}
	defer rows.Close()

	var out []*models.TrustedIdentity
	for rows.Next() {
		var (
			t  models.TrustedIdentity
			ms int64
		)
		if err := rows.Scan(&t.AppInstanceID, &t.SignPublicKey, &t.CryptPublicKey, &ms); err != nil {
			return nil, err
		}
		t.CreateTime = dbx.FromMillis(ms)
		out = append(out, &t)
	}
	return out, rows.Err()
}
