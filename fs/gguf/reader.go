package gguf

import (
	"bufio"
	"io"
)

// readSeeker buffers reads of the file header while keeping Seek(0,
// io.SeekCurrent) accurate, which is how the start of the data section is
// found.
type readSeeker struct {
	rs io.ReadSeeker
	br *bufio.Reader

	// pos is the offset of the next byte Read returns
	pos int64
}

func newReadSeeker(rs io.ReadSeeker, size int) *readSeeker {
	return &readSeeker{rs: rs, br: bufio.NewReaderSize(rs, size)}
}

func (r *readSeeker) Read(p []byte) (int, error) {
	n, err := r.br.Read(p)
	r.pos += int64(n)
	return n, err
}

func (r *readSeeker) Seek(offset int64, whence int) (int64, error) {
	if whence == io.SeekCurrent {
		offset -= int64(r.br.Buffered())
	}

	n, err := r.rs.Seek(offset, whence)
	if err != nil {
		return 0, err
	}

	r.br.Reset(r.rs)
	r.pos = n
	return n, nil
}
