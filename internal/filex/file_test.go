package filex

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSubDir_Creates(t *testing.T) {
	tmp := t.TempDir()

	got, err := EnsureSubDir(tmp, "icons")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(tmp, "icons"), got)

	fi, err := os.Stat(got)
	require.NoError(t, err)
	require.True(t, fi.IsDir())
	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0o700), fi.Mode().Perm()&0o700)
	}

	again, err := EnsureSubDir(tmp, "icons")
	require.NoError(t, err)
	require.Equal(t, got, again)
}

func TestEnsureSubDir_FailsIfFileWithSameNameExists(t *testing.T) {
	tmp := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "icons"), []byte("x"), 0o660))

	_, err := EnsureSubDir(tmp, "icons")
	require.Error(t, err)
}

func TestLayout_PathsStayInsideRoot(t *testing.T) {
	l := Layout{Root: "/data"}

	assert.Equal(t, filepath.Join("/data", "files", "A", "7", "0", "a.txt"), l.PasteFile("A", 7, 0, "a.txt"))
	assert.True(t, l.Owns(l.PasteFile("A", 7, 1, "../../../etc/passwd")))
	assert.True(t, l.Owns(l.PasteFile("../..", 7, 0, "x")))
	assert.Equal(t, filepath.Join("/data", "icons", "com.app_editor.png"), l.IconFile("com.app/editor"))

	assert.False(t, l.Owns("/etc/passwd"))
	assert.False(t, l.Owns("/data"))
	assert.False(t, l.Owns("/database/x"))
}

func TestLayout_SameBaseNameInOnePaste(t *testing.T) {
	l := Layout{Root: "/data"}

	first := l.PasteFile("A", 7, 0, "a/x.txt")
	second := l.PasteFile("A", 7, 1, "b/x.txt")

	assert.NotEqual(t, first, second)
	assert.Equal(t, "x.txt", filepath.Base(first))
	assert.Equal(t, "x.txt", filepath.Base(second))
	assert.Equal(t, l.PasteDir("A", 7), filepath.Dir(filepath.Dir(second)))
}
