package services

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/dbx/dbxtest"
	"github.com/dmitrijs2005/gophpaste/internal/filex"
	"github.com/dmitrijs2005/gophpaste/internal/logging"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/dmitrijs2005/gophpaste/internal/repositories/pastes"
	"github.com/dmitrijs2005/gophpaste/internal/repositories/peers"
	taskrepo "github.com/dmitrijs2005/gophpaste/internal/repositories/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubmitter struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingSubmitter) SubmitTask(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

type fixture struct {
	svc    *PasteService
	pastes *pastes.SQLiteRepository
	tasks  *taskrepo.SQLiteRepository
	peers  *peers.SQLiteRepository
	sub    *recordingSubmitter
	root   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbxtest.OpenDB(t)
	f := &fixture{
		pastes: pastes.NewSQLiteRepository(db),
		tasks:  taskrepo.NewSQLiteRepository(db),
		peers:  peers.NewSQLiteRepository(db),
		sub:    &recordingSubmitter{},
		root:   t.TempDir(),
	}
	f.svc = NewPasteService("self", f.pastes, f.tasks, f.peers, f.sub, filex.Layout{Root: f.root}, 4, logging.NewNopLogger(), nil)
	return f
}

func (f *fixture) taskTypes(t *testing.T, pasteID int64) []models.TaskType {
	t.Helper()
	list, err := f.tasks.ListByPaste(context.Background(), pasteID)
	require.NoError(t, err)
	var types []models.TaskType
	for _, task := range list {
		types = append(types, task.Type)
	}
	return types
}

func TestClassify(t *testing.T) {
	cases := map[string]models.PasteType{
		"hello":                         models.PasteTypeText,
		"https://example.com/a?b=c":     models.PasteTypeURL,
		"  http://example.com  ":        models.PasteTypeURL,
		"see https://example.com":       models.PasteTypeText,
		"ftp://example.com":             models.PasteTypeText,
		"<b>bold</b>":                   models.PasteTypeHTML,
		"<not closed":                   models.PasteTypeText,
		"<html><body>x</body></html>\n": models.PasteTypeHTML,
	}
	for in, want := range cases {
		assert.Equal(t, want, classify(in), in)
	}
}

func TestAddText_SchedulesSync(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.AddText(context.Background(), "hello", "terminal")
	require.NoError(t, err)

	assert.Equal(t, "self", p.AppInstanceID)
	assert.Equal(t, models.PasteStateLoaded, p.State)
	assert.Equal(t, int64(5), p.Size)
	assert.NotEmpty(t, p.Hash)
	assert.Equal(t, []models.TaskType{models.TaskTypeSync}, f.taskTypes(t, p.ID))
	assert.Len(t, f.sub.ids, 1)

	html, err := f.svc.AddText(context.Background(), "<i>x</i>", "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.TaskType{models.TaskTypeSync, models.TaskTypeRender}, f.taskTypes(t, html.ID))
}

func TestAddText_Empty(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AddText(context.Background(), "", "")
	assert.ErrorIs(t, err, common.ErrInvalidRequest)
}

func TestAddFiles(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(a, []byte("0123456789"), 0o600))

	p, err := f.svc.AddFiles(context.Background(), []string{a}, "")
	require.NoError(t, err)
	assert.Equal(t, models.PasteTypeFiles, p.Type)
	assert.Equal(t, int64(10), p.Size)
	require.Len(t, p.Files, 1)
	assert.Equal(t, "a.txt", p.Files[0].Name)

	_, err = f.svc.AddFiles(context.Background(), nil, "")
	assert.ErrorIs(t, err, common.ErrInvalidRequest)
	_, err = f.svc.AddFiles(context.Background(), []string{dir}, "")
	assert.ErrorIs(t, err, common.ErrInvalidRequest)
	_, err = f.svc.AddFiles(context.Background(), []string{filepath.Join(dir, "missing")}, "")
	assert.ErrorIs(t, err, common.ErrInvalidRequest)
}

func TestPasteData_AndReadChunk(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(a, []byte("abcdef"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("xyz"), 0o600))
	p, err := f.svc.AddFiles(context.Background(), []string{a, b}, "")
	require.NoError(t, err)

	_, data, err := f.svc.PasteData(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), data.ChunkSize)
	assert.Equal(t, p.ID, data.PasteID)

	var got []byte
	for i := 0; i < 3; i++ {
		var buf bytes.Buffer
		require.NoError(t, f.svc.ReadChunk(context.Background(), &buf, p.ID, i))
		got = append(got, buf.Bytes()...)
	}
	assert.Equal(t, "abcdefxyz", string(got))

	var buf bytes.Buffer
	assert.Error(t, f.svc.ReadChunk(context.Background(), &buf, p.ID, 3))

	text, err := f.svc.AddText(context.Background(), "t", "")
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.ReadChunk(context.Background(), &buf, text.ID, 0), common.ErrPullChunkFail)
	_, data, err = f.svc.PasteData(context.Background(), text.ID)
	require.NoError(t, err)
	assert.Zero(t, data.ChunkSize)
}

func TestReceivePaste_Files(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.peers.Upsert(ctx, &models.PeerRecord{AppInstanceID: "peer", AllowReceive: true, State: models.SyncStateConnected}))

	data := models.PasteData{
		AppInstanceID: "peer", PasteID: 9, Type: models.PasteTypeFiles, Size: 3, ChunkSize: 2,
		Files: []models.PasteFile{{Name: "../../evil", Size: 3}}, Source: "app",
	}
	require.NoError(t, f.svc.ReceivePaste(ctx, "peer", data))

	p, err := f.pastes.GetRemote(ctx, "peer", 9)
	require.NoError(t, err)
	assert.True(t, p.Remote)
	assert.Equal(t, models.PasteStateLoading, p.State)
	require.Len(t, p.Files, 1)
	assert.True(t, f.svc.Layout().Owns(p.Files[0].Path))
	assert.Equal(t, "evil", filepath.Base(p.Files[0].Path))
	assert.ElementsMatch(t, []models.TaskType{models.TaskTypePullFile, models.TaskTypePullIcon}, f.taskTypes(t, p.ID))

	list, err := f.tasks.ListByPaste(ctx, p.ID)
	require.NoError(t, err)
	for _, task := range list {
		require.NotNil(t, task.Extra.Pull)
		assert.Equal(t, "peer", task.Extra.Pull.FromAppInstanceID)
		if task.Type == models.TaskTypePullFile {
			assert.Equal(t, int64(2), task.Extra.Pull.ChunkSize)
			assert.Equal(t, int64(9), task.Extra.Pull.RemotePasteID)
		}
	}
}

func TestReceivePaste_SameBaseNamesKeptApart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.peers.Upsert(ctx, &models.PeerRecord{AppInstanceID: "peer", AllowReceive: true, State: models.SyncStateConnected}))

	data := models.PasteData{
		AppInstanceID: "peer", PasteID: 10, Type: models.PasteTypeFiles, Size: 5, ChunkSize: 4,
		Files: []models.PasteFile{{Name: "a/x.txt", Size: 2}, {Name: "b/x.txt", Size: 3}},
	}
	require.NoError(t, f.svc.ReceivePaste(ctx, "peer", data))

	p, err := f.pastes.GetRemote(ctx, "peer", 10)
	require.NoError(t, err)
	require.Len(t, p.Files, 2)
	assert.NotEqual(t, p.Files[0].Path, p.Files[1].Path)
	for _, file := range p.Files {
		assert.Equal(t, "x.txt", filepath.Base(file.Path))
		assert.True(t, f.svc.Layout().Owns(file.Path))
	}
}

func TestReceivePaste_UnknownPeer(t *testing.T) {
	f := newFixture(t)
	err := f.svc.ReceivePaste(context.Background(), "ghost", models.PasteData{PasteID: 1, Type: models.PasteTypeText, Text: "x"})
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDelete_RemovesReceivedFilesOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.peers.Upsert(ctx, &models.PeerRecord{AppInstanceID: "peer", AllowReceive: true}))

	require.NoError(t, f.svc.ReceivePaste(ctx, "peer", models.PasteData{
		AppInstanceID: "peer", PasteID: 1, Type: models.PasteTypeFiles, Size: 1,
		Files: []models.PasteFile{{Name: "f", Size: 1}},
	}))
	remote, err := f.pastes.GetRemote(ctx, "peer", 1)
	require.NoError(t, err)
	dir := f.svc.Layout().PasteDir("peer", 1)
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(remote.Files[0].Path, []byte("x"), 0o600))

	local := filepath.Join(t.TempDir(), "mine")
	require.NoError(t, os.WriteFile(local, []byte("keep"), 0o600))
	own, err := f.svc.AddFiles(ctx, []string{local}, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, remote.ID))
	require.NoError(t, f.svc.Delete(ctx, own.ID))

	assert.NoDirExists(t, dir)
	assert.FileExists(t, local)
	assert.ErrorIs(t, f.svc.Delete(ctx, own.ID), common.ErrorNotFound)
}

func TestIcons(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Icon(context.Background(), "app")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = f.svc.Icon(context.Background(), "")
	assert.ErrorIs(t, err, common.ErrInvalidRequest)

	require.NoError(t, f.svc.SaveIcon("app/../x", []byte("png")))
	got, err := f.svc.Icon(context.Background(), "app/../x")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), got)
	assert.True(t, f.svc.Layout().Owns(f.svc.Layout().IconFile("app/../x")))
}

func TestFavoriteAndPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.AddText(ctx, "x", "")
	require.NoError(t, err)
	require.NoError(t, f.svc.SetFavorite(ctx, p.ID, true))
	require.NoError(t, f.svc.SetPreview(ctx, p.ID, "preview"))

	got, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Favorite)
	assert.Equal(t, "preview", got.Preview)
}
