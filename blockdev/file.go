package blockdev

import (
	"fmt"
	"os"

	kcore "github.com/behrlich/go-kcore"
)

// File provides a block device backed by a regular file or a raw device
// node. I/O goes through positional read/write syscalls, so one File can
// serve many blocks without seek state.
type File struct {
	f         *os.File
	blockSize int
	numBlocks int64
}

// OpenFile opens (or creates) an image file sized to numBlocks blocks
func OpenFile(path string, numBlocks int64, blockSize int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening image %s: %w", path, err)
	}
	size := numBlocks * int64(blockSize)
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("sizing image %s to %d bytes: %w", path, size, err)
	}
	return &File{f: f, blockSize: blockSize, numBlocks: numBlocks}, nil
}

// ReadBlock implements the BlockDevice interface
func (d *File) ReadBlock(p []byte, num int64) error {
	if num < 0 || num >= d.numBlocks {
		return fmt.Errorf("read beyond end of device: block %d of %d", num, d.numBlocks)
	}
	return pread(d.f, p[:d.blockSize], num*int64(d.blockSize))
}

// WriteBlock implements the BlockDevice interface
func (d *File) WriteBlock(p []byte, num int64) error {
	if num < 0 || num >= d.numBlocks {
		return fmt.Errorf("write beyond end of device: block %d of %d", num, d.numBlocks)
	}
	return pwrite(d.f, p[:d.blockSize], num*int64(d.blockSize))
}

// Flush forces written blocks to stable storage
func (d *File) Flush() error {
	return fsync(d.f)
}

// NumBlocks returns the device capacity in blocks
func (d *File) NumBlocks() int64 { return d.numBlocks }

// Close implements the BlockDevice interface
func (d *File) Close() error {
	return d.f.Close()
}

// Compile-time interface checks
var (
	_ kcore.BlockDevice = (*File)(nil)
	_ kcore.FlushDevice = (*File)(nil)
)
