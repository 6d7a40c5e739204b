package langid

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Load reads a serialized model from path and returns an Identifier over it.
// The file is memory-mapped read-only and decoded straight from the mapping,
// Close releases it. A file that fails to parse or validate leaves nothing
// mapped behind.
func Load(path string) (*Identifier, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("can't open model: %w", err)
	}
	defer fh.Close() // the mapping survives the descriptor

	st, err := fh.Stat()
	if err != nil {
		return nil, fmt.Errorf("can't stat model %s: %w", path, err)
	}
	size := st.Size()
	if size == 0 {
		return nil, fmt.Errorf("model %s is empty", path)
	}
	if size != int64(int(size)) {
		return nil, fmt.Errorf("model %s is too large, %d bytes", path, size)
	}

	buf, err := unix.Mmap(int(fh.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("can't mmap model %s: %w", path, err)
	}

	m, err := UnmarshalModel(buf)
	if err != nil {
		_ = unix.Munmap(buf)
		return nil, fmt.Errorf("can't parse model %s: %w", path, err)
	}

	ident, err := New(m) // validates the decoded tables
	if err != nil {
		_ = unix.Munmap(buf)
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	ident.release = func() error { return unix.Munmap(buf) }
	return ident, nil
}
