//go:build clibs
// +build clibs

package blob

import (
	"io"

	"github.com/DataDog/zstd"
)

func zstdEncode(buf []byte, level int) ([]byte, error) {
	return zstd.CompressLevel(nil, buf, level)
}

func zstdReader(r io.Reader) (io.ReadCloser, error) {
	return zstd.NewReader(r), nil
}
