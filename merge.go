package pcksafe

import (
	"bytes"
	"errors"
)

// A Merger collects the documents of several decodes into one body, one
// document per line, in the order they were added.
type Merger struct {
	buf       []byte
	lines     int
	failed    int
	finalized bool
}

// NewMerger returns an empty Merger.
func NewMerger() *Merger {
	return &Merger{buf: make([]byte, 0, 256)}
}

// Append adds doc as the next line. A document spanning lines would shift
// every line after it and is refused.
func (m *Merger) Append(doc []byte) error {
	if m.finalized {
		return errors.New("pcksafe: merger finalized")
	}
	if len(doc) == 0 {
		return errors.New("pcksafe: empty document")
	}
	if bytes.ContainsAny(doc, "\r\n") {
		return errors.New("pcksafe: document spans lines")
	}

	m.buf = append(m.buf, doc...)
	m.buf = append(m.buf, '\n')
	m.lines++
	return nil
}

// AppendFailure adds an empty line in place of a document that could not
// be produced.
func (m *Merger) AppendFailure() error {
	if m.finalized {
		return errors.New("pcksafe: merger finalized")
	}
	m.buf = append(m.buf, '\n')
	m.lines++
	m.failed++
	return nil
}

// Lines returns the number of lines added so far, failures included.
func (m *Merger) Lines() int { return m.lines }

// Failed returns the number of failure lines.
func (m *Merger) Failed() int { return m.failed }

// Finish returns the merged body. No line can be added afterwards.
func (m *Merger) Finish() []byte {
	m.finalized = true
	return m.buf
}
