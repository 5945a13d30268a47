package blob

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Format is the compression applied to a blob.
type Format int

const (
	Raw Format = iota
	Zstd
	Zlib
	Snappy
)

var formatNames = map[Format]string{
	Raw:    "raw",
	Zstd:   "zstd",
	Zlib:   "zlib",
	Snappy: "snappy",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat is the inverse of Format.String.
func ParseFormat(s string) (Format, error) {
	for f, name := range formatNames {
		if name == s {
			return f, nil
		}
	}
	return Raw, fmt.Errorf("blob: unknown compression %q", s)
}

var (
	zstdMagic   = []byte{0x28, 0xb5, 0x2f, 0xfd}
	snappyMagic = []byte("\xff\x06\x00\x00sNaPpY")
)

// Detect identifies the compression of a stream from its first bytes. No
// pickle starts with any of these.
func Detect(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, zstdMagic):
		return Zstd
	case bytes.HasPrefix(head, snappyMagic):
		return Snappy
	case len(head) >= 2 && head[0] == 0x78 && (uint16(head[0])<<8|uint16(head[1]))%31 == 0:
		return Zlib
	}
	return Raw
}

// ReadAll reads r to the end, decompressing it if needed. The result,
// compressed or not, may hold at most limit bytes.
func ReadAll(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return nil, ErrBadLimit
	}

	br := bufio.NewReader(r)
	head, err := br.Peek(len(snappyMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	var src io.Reader = br
	switch f := Detect(head); f {
	case Zstd:
		zr, err := zstdReader(br)
		if err != nil {
			return nil, fmt.Errorf("blob: %s: %w", f, err)
		}
		defer zr.Close()
		src = zr
	case Zlib:
		zr, err := zlibReader(br)
		if err != nil {
			return nil, fmt.Errorf("blob: %s: %w", f, err)
		}
		defer zr.Close()
		src = zr
	case Snappy:
		src = snappyReader(br)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(&cappedReader{r: src, left: limit}); err != nil {
		if errors.Is(err, ErrTooLarge) {
			return nil, fmt.Errorf("%w: more than %d bytes after decompression", ErrTooLarge, limit)
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

// Compress applies f to b; the inverse of what ReadAll undoes.
func Compress(f Format, b []byte) ([]byte, error) {
	switch f {
	case Raw:
		return b, nil
	case Zstd:
		return zstdEncode(b, ZstdDefaultCompression)
	case Zlib:
		return zlibEncode(b, ZlibDefaultCompression)
	case Snappy:
		return snappyEncode(b)
	}
	return nil, fmt.Errorf("blob: unknown compression %v", f)
}

// cappedReader fails with ErrTooLarge once more than left bytes come
// through.
type cappedReader struct {
	r    io.Reader
	left int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.left < 0 {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > c.left+1 {
		p = p[:c.left+1]
	}
	n, err := c.r.Read(p)
	c.left -= int64(n)
	if c.left < 0 {
		return n + int(c.left), ErrTooLarge
	}
	return n, err
}
