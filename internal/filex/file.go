// Package filex lays out the files a device keeps under its data directory.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// EnsureSubDir creates base/name (and parents) and returns its path.
func EnsureSubDir(base, name string) (string, error) {
	dir := filepath.Join(base, name)
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return dir, nil
}

// Layout resolves paths of received files and cached icons.
type Layout struct {
	Root string
}

// PasteDir is where the files of a received paste are written.
func (l Layout) PasteDir(appInstanceID string, remotePasteID int64) string {
	return filepath.Join(l.Root, "files", safeName(appInstanceID), strconv.FormatInt(remotePasteID, 10))
}

// PasteFile is the local path of the index-th file of a received paste.
// Each file gets its own numbered directory, so equal base names never
// share a path. Directory parts of name are dropped so a peer cannot write
// outside PasteDir.
func (l Layout) PasteFile(appInstanceID string, remotePasteID int64, index int, name string) string {
	return filepath.Join(l.PasteDir(appInstanceID, remotePasteID), strconv.Itoa(index), safeName(filepath.Base(name)))
}

// IconFile is the cached icon of a source application.
func (l Layout) IconFile(source string) string {
	return filepath.Join(l.Root, "icons", safeName(source)+".png")
}

// Owns reports whether path lies inside the layout root.
func (l Layout) Owns(path string) bool {
	rel, err := filepath.Rel(l.Root, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
