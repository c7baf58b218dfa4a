//go:build linux

package images

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// allocate reserves size zeroed bytes for f, falling back to a sparse
// truncate on filesystems without fallocate (vfat on SD cards).
func allocate(f *os.File, size int64) error {
	err := unix.Fallocate(int(f.Fd()), 0, 0, size)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOSYS) {
		return f.Truncate(size)
	}
	if errors.Is(err, unix.ENOSPC) {
		return ErrNoSpace
	}
	return err
}
