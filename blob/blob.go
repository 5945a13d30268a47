// Package blob guards and opens serialized list configurations before they
// are handed to a sandboxed worker, and undoes the compression some backups
// apply to them.
package blob

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
)

// Errors
var (
	ErrTooLarge   = errors.New("blob: larger than the size limit")
	ErrNotRegular = errors.New("blob: not a regular file")
	ErrChanged    = errors.New("blob: file changed while opening")
	ErrBadLimit   = errors.New("blob: size limit must be positive")
)

// Blob is an open serialized configuration whose size has been checked.
type Blob struct {
	File *os.File
	Path string
	Size int64
}

func tooLarge(path string, size, limit int64) error {
	return fmt.Errorf("%w: %s is %s, limit %s", ErrTooLarge, path,
		humanize.IBytes(uint64(size)), humanize.IBytes(uint64(limit)))
}

// Open checks the size of the file at path against limit and opens it.
// The check happens before the file is opened, so an oversized blob is
// never read. A blob of exactly limit bytes is accepted.
func Open(path string, limit int64) (*Blob, error) {
	if limit <= 0 {
		return nil, ErrBadLimit
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegular, path)
	}
	if fi.Size() > limit {
		return nil, tooLarge(path, fi.Size(), limit)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	// the path may have been swapped between stat and open
	ofi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !os.SameFile(fi, ofi) {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrChanged, path)
	}
	if ofi.Size() > limit {
		f.Close()
		return nil, tooLarge(path, ofi.Size(), limit)
	}

	return &Blob{File: f, Path: path, Size: ofi.Size()}, nil
}

// Close closes the underlying file.
func (b *Blob) Close() error {
	if b == nil || b.File == nil {
		return nil
	}
	return b.File.Close()
}
