package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/dbx/dbxtest"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	return NewSQLiteRepository(dbxtest.OpenDB(t))
}

func TestCreateGet_RoundTripsExtra(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	pasteID := int64(7)

	task := &models.PasteTask{
		PasteID: &pasteID,
		Type:    models.TaskTypePullFile,
		Extra:   models.NewPullExtra("peer-a", 42),
	}
	task.Extra.Pull.PullChunks = []bool{true, false, true}
	require.NoError(t, r.Create(ctx, task))
	require.NotEmpty(t, task.ID)
	assert.Equal(t, models.TaskStatusPending, task.Status)

	got, err := r.Get(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PasteID)
	assert.Equal(t, int64(7), *got.PasteID)
	assert.Equal(t, models.ExtraKindPull, got.Extra.Kind)
	assert.Equal(t, []bool{true, false, true}, got.Extra.Pull.PullChunks)
	assert.Equal(t, "peer-a", got.Extra.Pull.FromAppInstanceID)
}

func TestCreate_RejectsMismatchedExtra(t *testing.T) {
	r := newRepo(t)
	task := &models.PasteTask{
		Type:  models.TaskTypeSync,
		Extra: models.ExtraInfo{Kind: models.ExtraKindSync},
	}
	require.Error(t, r.Create(context.Background(), task))
}

func TestGet_NotFound(t *testing.T) {
	_, err := newRepo(t).Get(context.Background(), "nope")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestUpdate_AppendsHistory(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	task := &models.PasteTask{Type: models.TaskTypeCleanup, Extra: models.NewBaseExtra()}
	require.NoError(t, r.Create(ctx, task))

	for i := 0; i < 2; i++ {
		_, err := r.Update(ctx, task.ID, func(t *models.PasteTask) error {
			t.Status = models.TaskStatusFailed
			t.Extra.AppendHistory(models.ExecutionHistory{Status: models.TaskStatusFailed, Message: "x"})
			return nil
		})
		require.NoError(t, err)
	}

	got, err := r.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts())
	assert.Equal(t, models.TaskStatusFailed, got.Status)
}

func TestUpdate_FnErrorLeavesRowUntouched(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	task := &models.PasteTask{Type: models.TaskTypeRender, Extra: models.NewBaseExtra()}
	require.NoError(t, r.Create(ctx, task))

	boom := errors.New("boom")
	_, err := r.Update(ctx, task.ID, func(t *models.PasteTask) error {
		t.Status = models.TaskStatusSucceeded
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := r.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, got.Status)
}

func TestListByStatusAndPaste(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	p1, p2 := int64(1), int64(2)

	a := &models.PasteTask{PasteID: &p1, Type: models.TaskTypeSync, Extra: models.NewSyncExtra("")}
	b := &models.PasteTask{PasteID: &p2, Type: models.TaskTypeSync, Extra: models.NewSyncExtra("")}
	c := &models.PasteTask{Type: models.TaskTypeCleanup, Extra: models.NewBaseExtra()}
	for _, task := range []*models.PasteTask{a, b, c} {
		require.NoError(t, r.Create(ctx, task))
	}
	_, err := r.Update(ctx, b.ID, func(t *models.PasteTask) error {
		t.Status = models.TaskStatusRunning
		return nil
	})
	require.NoError(t, err)

	pending, err := r.ListByStatus(ctx, models.TaskStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	unfinished, err := r.ListByStatus(ctx, models.TaskStatusPending, models.TaskStatusRunning)
	require.NoError(t, err)
	assert.Len(t, unfinished, 3)

	byPaste, err := r.ListByPaste(ctx, 1)
	require.NoError(t, err)
	require.Len(t, byPaste, 1)
	assert.Equal(t, a.ID, byPaste[0].ID)

	all, err := r.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	two, err := r.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestDeleteFinishedBefore(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return old }

	done := &models.PasteTask{Type: models.TaskTypeCleanup, Extra: models.NewBaseExtra()}
	open := &models.PasteTask{Type: models.TaskTypeCleanup, Extra: models.NewBaseExtra()}
	require.NoError(t, r.Create(ctx, done))
	require.NoError(t, r.Create(ctx, open))
	_, err := r.Update(ctx, done.ID, func(t *models.PasteTask) error {
		t.Status = models.TaskStatusSucceeded
		return nil
	})
	require.NoError(t, err)

	n, err := r.DeleteFinishedBefore(ctx, old.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = r.Get(ctx, done.ID)
	require.ErrorIs(t, err, common.ErrorNotFound)
	_, err = r.Get(ctx, open.ID)
	require.NoError(t, err)
}
