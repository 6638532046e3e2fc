package pastes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/dbx"
	"github.com/dmitrijs2005/gophpaste/internal/models"
)

const selectColumns = `id, app_instance_id, remote_paste_id, paste_type, text, files, hash, size,
	source, preview, state, remote, favorite, create_time`

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// filesRow carries the fields of PasteFile that are hidden from the wire form.
type filesRow struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Path string `json:"path"`
}

func encodeFiles(files []models.PasteFile) (string, error) {
	rows := make([]filesRow, len(files))
	for i, f := range files {
		rows[i] = filesRow(f)
	}
	b, err := json.Marshal(rows)
	return string(b), err
}

func decodeFiles(s string) ([]models.PasteFile, error) {
	var rows []filesRow
	if err := json.Unmarshal([]byte(s), &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	files := make([]models.PasteFile, len(rows))
	for i, r := range rows {
		files[i] = models.PasteFile(r)
	}
	return files, nil
}

func scanPaste(row rowScanner) (*models.PasteItem, error) {
	var (
		p                       models.PasteItem
		pasteType, files, state string
		createMs                int64
	)
	err := row.Scan(&p.ID, &p.AppInstanceID, &p.RemotePasteID, &pasteType, &p.Text, &files, &p.Hash, &p.Size,
		&p.Source, &p.Preview, &state, &p.Remote, &p.Favorite, &createMs)
	if err != nil {
		return nil, err
	}
	p.Type = models.PasteType(pasteType)
	p.State = models.PasteState(state)
	p.CreateTime = dbx.FromMillis(createMs)
	if p.Files, err = decodeFiles(files); err != nil {
		return nil, fmt.Errorf("decode files of paste %d: %w", p.ID, err)
	}
	return &p, nil
}

func get(ctx context.Context, db dbx.DBTX, id int64) (*models.PasteItem, error) {
	p, err := scanPaste(db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM pastes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get paste %d: %w", id, err)
	}
	return p, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, p *models.PasteItem) error {
	if p.CreateTime.IsZero() {
		p.CreateTime = time.Now().UTC()
	}
	if p.State == "" {
		p.State = models.PasteStateLoaded
	}
	files, err := encodeFiles(p.Files)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if p.Remote {
			existing, err := getRemote(ctx, tx, p.AppInstanceID, p.RemotePasteID)
			if err == nil {
				p.ID = existing.ID
				return fmt.Errorf("paste %s/%d: %w", p.AppInstanceID, p.RemotePasteID, common.ErrorAlreadyExists)
			}
			if !errors.Is(err, common.ErrorNotFound) {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO pastes (app_instance_id, remote_paste_id, paste_type, text, files,
				hash, size, source, preview, state, remote, favorite, create_time)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.AppInstanceID, p.RemotePasteID, string(p.Type), p.Text, files,
			p.Hash, p.Size, p.Source, p.Preview, string(p.State), p.Remote, p.Favorite, dbx.Millis(p.CreateTime))
		if err != nil {
			return fmt.Errorf("failed to insert paste: %w", err)
		}
		p.ID, err = res.LastInsertId()
		return err
	})
}

func (r *SQLiteRepository) Get(ctx context.Context, id int64) (*models.PasteItem, error) {
	return get(ctx, r.db, id)
}

func getRemote(ctx context.Context, db dbx.DBTX, appInstanceID string, remoteID int64) (*models.PasteItem, error) {
	p, err := scanPaste(db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM pastes WHERE remote = 1 AND app_instance_id = ? AND remote_paste_id = ?`,
		appInstanceID, remoteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get remote paste: %w", err)
	}
	return p, nil
}

func (r *SQLiteRepository) GetRemote(ctx context.Context, appInstanceID string, remoteID int64) (*models.PasteItem, error) {
	return getRemote(ctx, r.db, appInstanceID, remoteID)
}

func (r *SQLiteRepository) Update(ctx context.Context, id int64, fn func(p *models.PasteItem) error) (*models.PasteItem, error) {
	var updated *models.PasteItem
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		p, err := get(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		files, err := encodeFiles(p.Files)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE pastes SET text = ?, files = ?, hash = ?, size = ?, source = ?,
				preview = ?, state = ?, favorite = ? WHERE id = ?`,
			p.Text, files, p.Hash, p.Size, p.Source, p.Preview, string(p.State), p.Favorite, id)
		if err != nil {
			return fmt.Errorf("failed to update paste: %w", err)
		}
		p.ID = id
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pastes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete paste: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]*models.PasteItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select pastes: %w", err)
	}
	defer rows.Close()

	var result []*models.PasteItem
	for rows.Next() {
		p, err := scanPaste(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]*models.PasteItem, error) {
	if limit <= 0 {
		limit = -1
	}
	return r.list(ctx, `SELECT `+selectColumns+` FROM pastes ORDER BY create_time DESC, id DESC LIMIT ?`, limit)
}

func (r *SQLiteRepository) ListCleanupCandidates(ctx context.Context, olderThan time.Time, maxPastes int) ([]*models.PasteItem, error) {
	var (
		conds []string
		args  []any
	)
	if !olderThan.IsZero() {
		conds = append(conds, `create_time < ?`)
		args = append(args, dbx.Millis(olderThan))
	}
	if maxPastes > 0 {
		conds = append(conds, `id NOT IN (SELECT id FROM pastes WHERE favorite = 0
			ORDER BY create_time DESC, id DESC LIMIT ?)`)
		args = append(args, maxPastes)
	}
	if len(conds) == 0 {
		return nil, nil
	}
	return r.list(ctx, `SELECT `+selectColumns+` FROM pastes WHERE favorite = 0 AND (`+
		strings.Join(conds, " OR ")+`) ORDER BY create_time, id`, args...)
}
