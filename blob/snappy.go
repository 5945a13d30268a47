package blob

import (
	"bytes"
	"io"

	"github.com/golang/snappy"
)

// snappy intake uses the framing format, which carries its own checksums;
// raw snappy blocks have no magic to detect them by.

func snappyReader(r io.Reader) io.Reader { return snappy.NewReader(r) }

func snappyEncode(b []byte) ([]byte, error) {
	var comp bytes.Buffer
	w := snappy.NewBufferedWriter(&comp)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return comp.Bytes(), nil
}
