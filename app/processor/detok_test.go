package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetokenizer_Strip(t *testing.T) {
	tbl := []struct {
		name string
		in   string
		out  string
	}{
		{"marker between words", "foo __LW_AT__ bar", "foobar"},
		{"marker glued to words", "foo__LW_AT__bar", "foobar"},
		{"marker at start", "__LW_AT__ bar", "bar"},
		{"marker at end", "foo __LW_AT__", "foo"},
		{"several markers", "a __LW_AT__ b __LW_AT__ c", "abc"},
		{"marker only", "__LW_AT__", ""},
		{"no marker", "plain text stays put", "plain text stays put"},
		{"empty line", "", ""},
		{"one space joined per side", "a  __LW_AT__  b", "a  b"},
	}

	d := NewDetokenizer("__LW_AT__")
	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.out, string(d.Strip([]byte(tt.in))))
		})
	}
}

func TestDetokenizer_BufferReuse(t *testing.T) {
	d := NewDetokenizer("@@")

	first := d.Strip([]byte("aa @@ bb"))
	assert.Equal(t, "aabb", string(first))

	// next call reuses the buffer, a longer line must still come out right
	second := d.Strip([]byte("a much longer line with @@ one marker inside of it"))
	assert.Equal(t, "a much longer line withone marker inside of it", string(second))

	third := d.Strip([]byte("x @@ y"))
	assert.Equal(t, "xy", string(third))
}
