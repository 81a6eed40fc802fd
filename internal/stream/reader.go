package stream

import (
	"errors"
	"io"
)

// DefaultChunkSize is the read size used when none is configured.
const DefaultChunkSize = 4096

// Reader yields records from a response body lazily, one at a time
type Reader struct {
	r     io.Reader
	dec   *Decoder
	buf   []byte
	queue []string
	err   error // terminal error, returned once the queue is empty
}

// NewReader creates a reader over r with the default chunk size.
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, DefaultChunkSize)
}

// NewReaderSize creates a reader that reads at most size bytes per chunk.
func NewReaderSize(r io.Reader, size int) *Reader {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &Reader{
		r:   r,
		dec: NewDecoder(),
		buf: make([]byte, size),
	}
}

// ReadRecord returns the next complete record. It returns io.EOF once the
// body is exhausted and the final record, if any, has been returned. Any
// other read error is returned after the records decoded before it.
func (s *Reader) ReadRecord() (string, error) {
	for len(s.queue) == 0 {
		if s.err != nil {
			return "", s.err
		}

		n, err := s.r.Read(s.buf)
		if n > 0 {
			s.queue = append(s.queue, s.dec.Write(s.buf[:n])...)
		}
		switch {
		case errors.Is(err, io.EOF):
			s.queue = append(s.queue, s.dec.Close()...)
			s.err = io.EOF
		case err != nil:
			s.err = err
		}
	}

	rec := s.queue[0]
	s.queue = s.queue[1:]
	return rec, nil
}
