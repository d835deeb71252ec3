//go:build linux && giouring

package blockdev

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/pawelgaczynski/giouring"

	kcore "github.com/behrlich/go-kcore"
)

// uringEntries is the submission queue depth. The cache issues one
// synchronous transfer at a time per device, so a shallow ring suffices.
const uringEntries = 8

// Uring is a file-backed block device driving its I/O through io_uring.
// Transfers are still synchronous from the caller's perspective: each call
// submits one SQE and waits for its completion.
type Uring struct {
	mu        sync.Mutex
	ring      *giouring.Ring
	f         *os.File
	blockSize int
	numBlocks int64
}

// OpenUring opens (or creates) an image file sized to numBlocks blocks and
// sets up the ring
func OpenUring(path string, numBlocks int64, blockSize int) (kcore.BlockDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening image %s: %w", path, err)
	}
	if err := f.Truncate(numBlocks * int64(blockSize)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("sizing image %s: %w", path, err)
	}
	ring, err := giouring.CreateRing(uringEntries)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("creating io_uring: %w", err)
	}
	return &Uring{ring: ring, f: f, blockSize: blockSize, numBlocks: numBlocks}, nil
}

// submit queues one prepared SQE and waits for its completion
func (d *Uring) submit(prep func(sqe *giouring.SubmissionQueueEntry)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sqe := d.ring.GetSQE()
	if sqe == nil {
		return fmt.Errorf("submission queue full")
	}
	prep(sqe)

	if _, err := d.ring.SubmitAndWait(1); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	cqe, err := d.ring.WaitCQE()
	if err != nil {
		return fmt.Errorf("waiting for completion: %w", err)
	}
	res := cqe.Res
	d.ring.CQESeen(cqe)
	if res < 0 {
		return fmt.Errorf("io_uring completion: errno %d", -res)
	}
	if int(res) != d.blockSize {
		return fmt.Errorf("short transfer: %d of %d bytes", res, d.blockSize)
	}
	return nil
}

// ReadBlock implements the BlockDevice interface
func (d *Uring) ReadBlock(p []byte, num int64) error {
	if num < 0 || num >= d.numBlocks {
		return fmt.Errorf("read beyond end of device: block %d of %d", num, d.numBlocks)
	}
	return d.submit(func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareRead(int(d.f.Fd()), uintptr(unsafe.Pointer(&p[0])), uint32(d.blockSize), uint64(num)*uint64(d.blockSize))
	})
}

// WriteBlock implements the BlockDevice interface
func (d *Uring) WriteBlock(p []byte, num int64) error {
	if num < 0 || num >= d.numBlocks {
		return fmt.Errorf("write beyond end of device: block %d of %d", num, d.numBlocks)
	}
	return d.submit(func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareWrite(int(d.f.Fd()), uintptr(unsafe.Pointer(&p[0])), uint32(d.blockSize), uint64(num)*uint64(d.blockSize))
	})
}

// Flush forces written blocks to stable storage through the ring
func (d *Uring) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sqe := d.ring.GetSQE()
	if sqe == nil {
		return fmt.Errorf("submission queue full")
	}
	sqe.PrepareFsync(int(d.f.Fd()), 0)
	if _, err := d.ring.SubmitAndWait(1); err != nil {
		return fmt.Errorf("submit fsync: %w", err)
	}
	cqe, err := d.ring.WaitCQE()
	if err != nil {
		return fmt.Errorf("waiting for fsync completion: %w", err)
	}
	res := cqe.Res
	d.ring.CQESeen(cqe)
	if res < 0 {
		return fmt.Errorf("fsync completion: errno %d", -res)
	}
	return nil
}

// NumBlocks returns the device capacity in blocks
func (d *Uring) NumBlocks() int64 { return d.numBlocks }

// Close implements the BlockDevice interface
func (d *Uring) Close() error {
	d.ring.QueueExit()
	return d.f.Close()
}

// Compile-time interface checks
var (
	_ kcore.BlockDevice = (*Uring)(nil)
	_ kcore.FlushDevice = (*Uring)(nil)
)
