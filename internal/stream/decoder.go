package stream

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decoder reassembles newline-delimited records from arbitrarily split byte
// chunks. Bytes of a multi-byte character that straddle two chunks are held
// back until the rest arrives.
type Decoder struct {
	utf8    *encoding.Decoder
	pending []byte          // undecoded trailing bytes
	partial strings.Builder // text after the last newline
}

// NewDecoder creates a decoder for one response body.
func NewDecoder() *Decoder {
	return &Decoder{utf8: unicode.UTF8.NewDecoder()}
}

// Write appends a chunk and returns every record completed by it, in order.
// Empty and whitespace-only records are dropped.
func (d *Decoder) Write(chunk []byte) []string {
	d.partial.WriteString(d.decode(chunk, false))
	return d.split()
}

// Close flushes the decoder at end of stream. The remaining text is returned
// as a final record when it is not blank; the server need not end its last
// line with a newline.
func (d *Decoder) Close() []string {
	d.partial.WriteString(d.decode(nil, true))
	records := d.split()
	if rest := strings.TrimSpace(d.partial.String()); rest != "" {
		records = append(records, rest)
	}
	d.partial.Reset()
	return records
}

// Buffered returns the text held after the last newline.
func (d *Decoder) Buffered() string {
	return d.partial.String()
}

func (d *Decoder) decode(chunk []byte, atEOF bool) string {
	src := append(d.pending, chunk...)
	d.pending = nil
	if len(src) == 0 {
		return ""
	}

	// Each invalid byte may expand to a 3-byte replacement rune.
	dst := make([]byte, 3*len(src)+utf8.UTFMax)
	var out strings.Builder
	for len(src) > 0 {
		nDst, nSrc, err := d.utf8.Transform(dst, src, atEOF)
		out.Write(dst[:nDst])
		src = src[nSrc:]
		if errors.Is(err, transform.ErrShortDst) && (nDst > 0 || nSrc > 0) {
			continue
		}
		break
	}
	if len(src) > 0 {
		d.pending = append([]byte(nil), src...)
	}
	return out.String()
}

func (d *Decoder) split() []string {
	buf := d.partial.String()
	idx := strings.LastIndexByte(buf, '\n')
	if idx < 0 {
		return nil
	}

	var records []string
	for _, line := range strings.Split(buf[:idx], "\n") {
		if line = strings.TrimSpace(line); line != "" {
			records = append(records, line)
		}
	}

	d.partial.Reset()
	d.partial.WriteString(buf[idx+1:])
	return records
}
