// Package filechunk splits a set of files into fixed-size chunks for
// pull-based transfer and writes received chunks back at their offsets.
//
// Files are packed back to back: a chunk may cover the tail of one file and
// the head of the next. Every chunk except the last is exactly ChunkSize
// bytes.
package filechunk

import (
	"fmt"

	"github.com/dmitrijs2005/gophpaste/internal/common"
)

// FileChunk is one contiguous byte range of a single source file.
type FileChunk struct {
	Path   string
	Offset int64
	Size   int64
}

// FilesChunk is one transfer unit, made of ranges of one or more files.
type FilesChunk struct {
	Parts []FileChunk
}

// Size is the total number of bytes in the chunk.
func (c FilesChunk) Size() int64 {
	var n int64
	for _, p := range c.Parts {
		n += p.Size
	}
	return n
}

// FilesIndex is the immutable chunk layout of a file set.
type FilesIndex struct {
	chunkSize int64
	chunks    []FilesChunk
	total     int64
}

func (idx *FilesIndex) ChunkCount() int { return len(idx.chunks) }

func (idx *FilesIndex) ChunkSize() int64 { return idx.chunkSize }

// TotalSize is the sum of all file sizes.
func (idx *FilesIndex) TotalSize() int64 { return idx.total }

// Chunk returns chunk i or common.ErrChunkOutOfRange.
func (idx *FilesIndex) Chunk(i int) (FilesChunk, error) {
	if i < 0 || i >= len(idx.chunks) {
		return FilesChunk{}, fmt.Errorf("chunk %d of %d: %w", i, len(idx.chunks), common.ErrChunkOutOfRange)
	}
	return idx.chunks[i], nil
}

// FilesIndexBuilder packs files into chunks in the order they are added.
type FilesIndexBuilder struct {
	chunkSize int64
	chunks    []FilesChunk
	current   FilesChunk
	filled    int64
	total     int64
	err       error
}

// NewFilesIndexBuilder returns a builder for chunks of chunkSize bytes.
// chunkSize must be positive.
func NewFilesIndexBuilder(chunkSize int64) *FilesIndexBuilder {
	b := &FilesIndexBuilder{chunkSize: chunkSize}
	if chunkSize <= 0 {
		b.err = fmt.Errorf("chunk size %d: %w", chunkSize, common.ErrInvalidChunk)
	}
	return b
}

// AddFile appends size bytes of path, splitting across chunk boundaries.
// Empty files contribute no bytes.
func (b *FilesIndexBuilder) AddFile(path string, size int64) *FilesIndexBuilder {
	if b.err != nil {
		return b
	}
	if size < 0 {
		b.err = fmt.Errorf("file %s has negative size %d", path, size)
		return b
	}
	b.total += size

	var offset int64
	for offset < size {
		n := min(b.chunkSize-b.filled, size-offset)
		b.current.Parts = append(b.current.Parts, FileChunk{Path: path, Offset: offset, Size: n})
		b.filled += n
		offset += n
		if b.filled == b.chunkSize {
			b.chunks = append(b.chunks, b.current)
			b.current = FilesChunk{}
			b.filled = 0
		}
	}
	return b
}

// Build closes the last partial chunk and returns the index.
func (b *FilesIndexBuilder) Build() (*FilesIndex, error) {
	if b.err != nil {
		return nil, b.err
	}
	chunks := b.chunks
	if b.filled > 0 {
		chunks = append(chunks, b.current)
	}
	return &FilesIndex{chunkSize: b.chunkSize, chunks: chunks, total: b.total}, nil
}

// ChunkCount computes the chunk count of total bytes without building.
func ChunkCount(total, chunkSize int64) int {
	if total <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((total + chunkSize - 1) / chunkSize)
}
