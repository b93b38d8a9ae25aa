//go:build unix

package dol

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Open maps the file read-only and loads it. The image must be closed to
// release the mapping.
func Open(fpath string) (*Image, error) {
	f, err := os.OpenFile(fpath, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open dol %s: %w", fpath, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat dol %s: %w", fpath, err)
	}
	if fi.Size() == 0 {
		return nil, &FormatError{0, "header truncated", 0}
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap dol %s: %w", fpath, err)
	}

	im, err := Load(data)
	if err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("load %s: %w", fpath, err)
	}
	im.closer = func() error { return unix.Munmap(data) }
	return im, nil
}
