package tasks

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
	"github.com/dmitrijs2005/gophpaste/internal/keylock"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/google/uuid"
)

const selectColumns = `id, paste_id, task_type, status, create_time, modify_time, extra_info`

type SQLiteRepository struct {
	db    *sql.DB
	locks *keylock.KeyedMutex
	now   func() time.Time
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{
		db:    db,
		locks: keylock.New(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.PasteTask, error) {
	var (
		t                  models.PasteTask
		pasteID            sql.NullInt64
		taskType, status   string
		createMs, modifyMs int64
		extra              string
	)
	if err := row.Scan(&t.ID, &pasteID, &taskType, &status, &createMs, &modifyMs, &extra); err != nil {
		return nil, err
	}
	if pasteID.Valid {
		id := pasteID.Int64
		t.PasteID = &id
	}
	t.Type = models.TaskType(taskType)
	t.Status = models.TaskStatus(status)
	t.CreateTime = dbx.FromMillis(createMs)
	t.ModifyTime = dbx.FromMillis(modifyMs)
	if err := json.Unmarshal([]byte(extra), &t.Extra); err != nil {
		return nil, fmt.Errorf("decode extra info of task %s: %w", t.ID, err)
	}
	return &t, nil
}

func get(ctx context.Context, db dbx.DBTX, id string) (*models.PasteTask, error) {
	row := db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM paste_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return t, nil
}

func encodeExtra(e *models.ExtraInfo) (string, error) {
	if e.Kind == "" {
		e.Kind = models.ExtraKindBase
	}
	if err := e.Validate(); err != nil {
		return "", err
	}
	if e.ExecutionHistories == nil {
		e.ExecutionHistories = []models.ExecutionHistory{}
	}
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *SQLiteRepository) Create(ctx context.Context, t *models.PasteTask) error {
	t.ID = uuid.NewString()
	t.Status = models.TaskStatusPending
	now := r.now()
	t.CreateTime = now
	t.ModifyTime = now

	extra, err := encodeExtra(&t.Extra)
	if err != nil {
		return fmt.Errorf("invalid extra info: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO paste_tasks (`+selectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PasteID, string(t.Type), string(t.Status), dbx.Millis(now), dbx.Millis(now), extra)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.PasteTask, error) {
	return get(ctx, r.db, id)
}

func (r *SQLiteRepository) Update(ctx context.Context, id string, fn func(t *models.PasteTask) error) (*models.PasteTask, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	var updated *models.PasteTask
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		t, err := get(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
		t.ID = id
		t.ModifyTime = r.now()
		extra, err := encodeExtra(&t.Extra)
		if err != nil {
			return fmt.Errorf("invalid extra info: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE paste_tasks SET paste_id = ?, status = ?, modify_time = ?, extra_info = ? WHERE id = ?`,
			t.PasteID, string(t.Status), dbx.Millis(t.ModifyTime), extra, id)
		if err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]*models.PasteTask, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select tasks: %w", err)
	}
	defer rows.Close()

	var result []*models.PasteTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]*models.PasteTask, error) {
	if limit <= 0 {
		limit = -1
	}
	return r.query(ctx, `SELECT `+selectColumns+` FROM paste_tasks ORDER BY create_time DESC, id LIMIT ?`, limit)
}

func (r *SQLiteRepository) ListByStatus(ctx context.Context, statuses ...models.TaskStatus) ([]*models.PasteTask, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	return r.query(ctx,
		`SELECT `+selectColumns+` FROM paste_tasks WHERE status IN (`+marks+`) ORDER BY create_time, id`, args...)
}

func (r *SQLiteRepository) ListByPaste(ctx context.Context, pasteID int64) ([]*models.PasteTask, error) {
	return r.query(ctx, `SELECT `+selectColumns+` FROM paste_tasks WHERE paste_id = ? ORDER BY create_time, id`, pasteID)
}

func (r *SQLiteRepository) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM paste_tasks WHERE status IN (?, ?) AND modify_time < ?`,
		string(models.TaskStatusSucceeded), string(models.TaskStatusFailed), dbx.Millis(before))
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished tasks: %w", err)
	}
	return res.RowsAffected()
}
