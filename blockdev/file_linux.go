//go:build linux

package blockdev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Positional I/O via raw syscalls: block-sized transfers should not be
// split by the portable io layer, and short transfers are errors.

func pread(f *os.File, p []byte, off int64) error {
	n, err := unix.Pread(int(f.Fd()), p, off)
	if err != nil {
		return fmt.Errorf("pread at %d: %w", off, err)
	}
	if n != len(p) {
		return fmt.Errorf("short read at %d: %d of %d bytes", off, n, len(p))
	}
	return nil
}

func pwrite(f *os.File, p []byte, off int64) error {
	n, err := unix.Pwrite(int(f.Fd()), p, off)
	if err != nil {
		return fmt.Errorf("pwrite at %d: %w", off, err)
	}
	if n != len(p) {
		return fmt.Errorf("short write at %d: %d of %d bytes", off, n, len(p))
	}
	return nil
}

func fsync(f *os.File) error {
	if err := unix.Fsync(int(f.Fd())); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	return nil
}
