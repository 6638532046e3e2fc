package filechunk

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/gophpaste/internal/common"
)

// ReadChunk streams the bytes of c from its source files into w. A missing
// or short source file fails with common.ErrPullChunkFail.
func ReadChunk(w io.Writer, c FilesChunk) (int64, error) {
	var written int64
	for _, p := range c.Parts {
		n, err := readPart(w, p)
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func readPart(w io.Writer, p FileChunk) (int64, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", common.ErrPullChunkFail, err)
	}
	defer f.Close()

	n, err := io.Copy(w, io.NewSectionReader(f, p.Offset, p.Size))
	if err != nil {
		return n, fmt.Errorf("%w: read %s: %v", common.ErrPullChunkFail, p.Path, err)
	}
	if n != p.Size {
		return n, fmt.Errorf("%w: %s shorter than expected", common.ErrPullChunkFail, p.Path)
	}
	return n, nil
}

// WriteChunk writes data, the content of c, at the offsets c names.
// Destination files and their directories are created as needed.
func WriteChunk(c FilesChunk, data []byte) error {
	if int64(len(data)) != c.Size() {
		return fmt.Errorf("%w: got %d bytes, want %d", common.ErrInvalidChunk, len(data), c.Size())
	}
	var pos int64
	for _, p := range c.Parts {
		if err := writePart(p, data[pos:pos+p.Size]); err != nil {
			return err
		}
		pos += p.Size
	}
	return nil
}

func writePart(p FileChunk, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o750); err != nil {
		return err
	}
	f, err := os.OpenFile(p.Path, os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(data, p.Offset); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", p.Path, err)
	}
	return f.Close()
}
