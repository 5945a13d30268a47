package blob

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, size int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.pck")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())
	return path
}

func TestOpenSizeBoundary(t *testing.T) {
	const limit = 4096

	b, err := Open(writeFile(t, limit), limit)
	require.NoError(t, err)
	assert.Equal(t, int64(limit), b.Size)
	require.NoError(t, b.Close())

	_, err = Open(writeFile(t, limit+1), limit)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestOpenOversizedMessage(t *testing.T) {
	_, err := Open(writeFile(t, 10<<20), 1<<20)
	require.ErrorIs(t, err, ErrTooLarge)
	assert.Contains(t, err.Error(), "10 MiB")
	assert.Contains(t, err.Error(), "1.0 MiB")
}

func TestOpenRejects(t *testing.T) {
	_, err := Open(t.TempDir(), 1<<20)
	assert.ErrorIs(t, err, ErrNotRegular)

	_, err = Open(filepath.Join(t.TempDir(), "missing"), 1<<20)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Open(writeFile(t, 1), 0)
	assert.ErrorIs(t, err, ErrBadLimit)
}

func TestCloseNil(t *testing.T) {
	var b *Blob
	assert.NoError(t, b.Close())
}

func TestDetect(t *testing.T) {
	assert.Equal(t, Raw, Detect([]byte("\x80\x02}q\x00.")))
	assert.Equal(t, Raw, Detect([]byte("(dp0\n")))
	assert.Equal(t, Raw, Detect(nil))
	assert.Equal(t, Zlib, Detect([]byte{0x78, 0x9c}))
	assert.Equal(t, Zlib, Detect([]byte{0x78, 0x01}))
	assert.Equal(t, Raw, Detect([]byte{0x78, 0x00}))
	assert.Equal(t, Zstd, Detect([]byte{0x28, 0xb5, 0x2f, 0xfd, 0x00}))
	assert.Equal(t, Snappy, Detect([]byte("\xff\x06\x00\x00sNaPpY\x00")))
}

func TestReadAllCompressed(t *testing.T) {
	pickle := []byte("\x80\x02}q\x00(U\x04nameq\x01U\x04listq\x02u." + strings.Repeat("\x00", 4000))

	for _, f := range []Format{Raw, Zstd, Zlib, Snappy} {
		t.Run(f.String(), func(t *testing.T) {
			comp, err := Compress(f, pickle)
			require.NoError(t, err)
			assert.Equal(t, f, Detect(comp))

			got, err := ReadAll(bytes.NewReader(comp), int64(len(pickle)))
			require.NoError(t, err)
			assert.Equal(t, pickle, got)

			_, err = ReadAll(bytes.NewReader(comp), int64(len(pickle)-1))
			assert.ErrorIs(t, err, ErrTooLarge)
		})
	}
}

func TestReadAllCorrupt(t *testing.T) {
	comp, err := Compress(Zlib, []byte("hello"))
	require.NoError(t, err)
	comp[len(comp)-1] ^= 0xff

	_, err = ReadAll(bytes.NewReader(comp), 1024)
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	for _, f := range []Format{Raw, Zstd, Zlib, Snappy} {
		got, err := ParseFormat(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
	_, err := ParseFormat("lzma")
	assert.Error(t, err)
}

func TestCappedReader(t *testing.T) {
	r := &cappedReader{r: strings.NewReader("abcdef"), left: 6}
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(b))

	r = &cappedReader{r: strings.NewReader("abcdefg"), left: 6}
	b, err = io.ReadAll(r)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Equal(t, "abcdef", string(b))
}
