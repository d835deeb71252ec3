//go:build !linux

package blockdev

import (
	"fmt"
	"os"
)

func pread(f *os.File, p []byte, off int64) error {
	n, err := f.ReadAt(p, off)
	if err != nil {
		return fmt.Errorf("read at %d: %w", off, err)
	}
	if n != len(p) {
		return fmt.Errorf("short read at %d: %d of %d bytes", off, n, len(p))
	}
	return nil
}

func pwrite(f *os.File, p []byte, off int64) error {
	n, err := f.WriteAt(p, off)
	if err != nil {
		return fmt.Errorf("write at %d: %w", off, err)
	}
	if n != len(p) {
		return fmt.Errorf("short write at %d: %d of %d bytes", off, n, len(p))
	}
	return nil
}

func fsync(f *os.File) error {
	return f.Sync()
}
