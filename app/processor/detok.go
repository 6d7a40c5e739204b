package processor

import "bytes"

// Detokenizer strips a tokenizer's word-split marker from lines before
// classification, joining the pieces around each removed marker. One output
// buffer is reused across calls and grows as needed.
type Detokenizer struct {
	marker []byte
	buf    []byte
}

// NewDetokenizer makes a Detokenizer for the given marker token
func NewDetokenizer(marker string) *Detokenizer {
	return &Detokenizer{marker: []byte(marker)}
}

// Strip removes every marker occurrence from line together with one space on
// each side of it, so "foo @@ bar" with marker "@@" becomes "foobar". Lines
// without the marker are returned as is. The returned slice is only valid
// until the next call.
func (d *Detokenizer) Strip(line []byte) []byte {
	if len(d.marker) == 0 || !bytes.Contains(line, d.marker) {
		return line
	}

	d.buf = d.buf[:0]
	for i := 0; i < len(line); {
		if !bytes.HasPrefix(line[i:], d.marker) {
			d.buf = append(d.buf, line[i])
			i++
			continue
		}
		if n := len(d.buf); n > 0 && d.buf[n-1] == ' ' {
			d.buf = d.buf[:n-1]
		}
		i += len(d.marker)
		if i < len(line) && line[i] == ' ' {
			i++
		}
	}
	return d.buf
}
