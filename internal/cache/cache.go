// Package cache implements the block buffer cache: a fixed pool of
// block-sized buffers mirroring disk blocks, indexed by a hash table and
// recycled through an LRU-ish free list. It is the sole I/O path between
// the file-system layers and the block device drivers.
//
// All list and flag manipulation happens with interrupts disabled (the
// scheduler's IrqOff/IrqOn). The per-buffer LOCKED flag is a sleep lock,
// not a spin lock: it is held across device I/O with interrupts enabled,
// and contenders sleep on the buffer's wait queue.
package cache

import (
	"fmt"

	"github.com/behrlich/go-kcore/internal/constants"
	"github.com/behrlich/go-kcore/internal/interfaces"
	"github.com/behrlich/go-kcore/internal/kpanic"
	"github.com/behrlich/go-kcore/internal/sched"
)

// Config holds cache construction parameters
type Config struct {
	NumBuffers  int
	BlockSize   int
	HashtabSize int
	Sched       *sched.Scheduler
	Logger      interfaces.Logger
	Observer    interfaces.Observer
}

// Cache owns the buffer pool, the hash index and the free list
type Cache struct {
	sched     *sched.Scheduler
	bufs      []Buffer
	arena     []byte   // NumBuffers * BlockSize, carved once at init
	free      Buffer   // free-list sentinel; freeNext is the LRU head
	hash      []Buffer // bucket sentinels
	anyFree   *sched.WaitQueue
	devices   map[int]interfaces.BlockDevice
	blockSize int
	logger    interfaces.Logger
	observer  interfaces.Observer
}

// New builds the buffer pool and links every buffer into the free list in
// index order. Runs once at boot.
func New(config Config) *Cache {
	if config.NumBuffers <= 0 {
		config.NumBuffers = constants.DefaultNumBuffers
	}
	if config.NumBuffers > constants.MaxBuffers {
		kpanic.Panicf(kpanic.CodeBadConfig, "binit", "%d buffers exceeds the %d maximum", config.NumBuffers, constants.MaxBuffers)
	}
	if config.BlockSize <= 0 {
		config.BlockSize = constants.DefaultBlockSize
	}
	if config.HashtabSize <= 0 {
		config.HashtabSize = constants.DefaultHashtabSize
	}
	if config.Sched == nil {
		kpanic.Panicf(kpanic.CodeBadConfig, "binit", "cache built without a scheduler")
	}

	c := &Cache{
		sched:     config.Sched,
		bufs:      make([]Buffer, config.NumBuffers),
		arena:     make([]byte, config.NumBuffers*config.BlockSize),
		hash:      make([]Buffer, config.HashtabSize),
		anyFree:   sched.NewWaitQueue("bfreelist"),
		devices:   make(map[int]interfaces.BlockDevice),
		blockSize: config.BlockSize,
		logger:    config.Logger,
		observer:  config.Observer,
	}

	c.free.freeNext = &c.free
	c.free.freePrev = &c.free
	for i := range c.hash {
		s := &c.hash[i]
		s.hashNext = s
		s.hashPrev = s
	}
	for i := range c.bufs {
		b := &c.bufs[i]
		b.data = c.arena[i*config.BlockSize : (i+1)*config.BlockSize]
		b.wait = sched.NewWaitQueue(fmt.Sprintf("buffer %d", i))
		b.hashNext = b
		b.hashPrev = b
		b.freeInsertBefore(&c.free)
	}
	return c
}

// BlockSize returns the configured bytes per block
func (c *Cache) BlockSize() int { return c.blockSize }

// NumBuffers returns the pool size
func (c *Cache) NumBuffers() int { return len(c.bufs) }

// BufferAt returns buffer slot i. Meant for invariant checks and the sync
// sweep, not for regular lookups.
func (c *Cache) BufferAt(i int) *Buffer { return &c.bufs[i] }

// RegisterDevice attaches a driver for device dev. Registration happens at
// boot, before any process runs.
func (c *Cache) RegisterDevice(dev int, d interfaces.BlockDevice) {
	c.sched.IrqOff()
	c.devices[dev] = d
	c.sched.IrqOn()
}

// driver resolves the device driver or panics: an I/O request against an
// unregistered device is a kernel bug, not a recoverable condition.
func (c *Cache) driver(dev int) interfaces.BlockDevice {
	d, ok := c.devices[dev]
	if !ok {
		kpanic.Panic(&kpanic.Error{Op: "bdev", Dev: dev, Block: -1, Code: kpanic.CodeUnknownDevice})
	}
	return d
}

// bucket returns the hash bucket sentinel for (dev, num)
func (c *Cache) bucket(dev int, num int64) *Buffer {
	return &c.hash[(uint64(dev)^uint64(num))%uint64(len(c.hash))]
}

// lookup probes the hash bucket for (dev, num). Interrupts must be
// disabled.
func (c *Cache) lookup(dev int, num int64) *Buffer {
	s := c.bucket(dev, num)
	for b := s.hashNext; b != s; b = b.hashNext {
		if b.dev == dev && b.num == num {
			return b
		}
	}
	return nil
}

// GetBlock returns the buffer for (dev, num), locked and referenced. The
// buffer may or may not be VALID. The caller sleeps as long as the block
// is locked elsewhere or the pool is exhausted.
//
// Eviction only recycles clean buffers: a dirty buffer at the head of the
// free list is a kernel bug while write-back is synchronous, because
// Release queues dirty buffers at the tail and SyncAll cleans them before
// they migrate forward.
func (c *Cache) GetBlock(dev int, num int64) *Buffer {
	if dev == 0 && num == 0 {
		kpanic.Panic(&kpanic.Error{Op: "getblk", Dev: dev, Block: num, Code: kpanic.CodeBadBlock, Msg: "block (0,0) requested"})
	}

	c.sched.IrqOff()
	for {
		if b := c.lookup(dev, num); b != nil {
			// Cache hit. If someone else holds the block, sleep and
			// reprobe from scratch: the buffer may have been recycled
			// for another block by the time we run again.
			if b.flags&FlagLocked != 0 {
				if c.observer != nil {
					c.observer.ObserveBufferSleep()
				}
				c.sched.Sleep(b.wait, constants.PrioBuffer)
				continue
			}
			b.count++
			if b.count == 1 {
				b.freeUnlink()
			}
			b.flags |= FlagLocked
			if c.observer != nil {
				c.observer.ObserveCacheHit()
			}
			c.sched.IrqOn()
			return b
		}

		victim := c.free.freeNext
		if victim == &c.free {
			if c.logger != nil {
				c.logger.Warnf("no free buffers for dev %d block %d", dev, num)
			}
			if c.observer != nil {
				c.observer.ObserveFreeListSleep()
			}
			c.sched.Sleep(c.anyFree, constants.PrioBuffer)
			continue
		}
		if victim.flags&FlagDirty != 0 {
			kpanic.Panic(&kpanic.Error{Op: "getblk", Dev: victim.dev, Block: victim.num, Code: kpanic.CodeDirtyVictim})
		}

		victim.freeUnlink()
		victim.count = 1
		if c.observer != nil {
			c.observer.ObserveCacheMiss()
			if victim.dev != 0 || victim.num != 0 {
				c.observer.ObserveEviction()
			}
		}
		victim.hashUnlink()
		victim.dev = dev
		victim.num = num
		victim.flags &^= FlagValid | FlagDirty
		victim.hashInsertAfter(c.bucket(dev, num))
		victim.flags |= FlagLocked
		c.sched.IrqOn()
		return victim
	}
}

// ReadBlock returns a locked, referenced, VALID buffer for (dev, num),
// reading it from the device if the cache copy is stale
func (c *Cache) ReadBlock(dev int, num int64) *Buffer {
	b := c.GetBlock(dev, num)
	if b.flags&FlagValid == 0 {
		c.deviceRead(b)
	}
	return b
}

// WriteBlock writes the buffer through to the device synchronously and
// clears DIRTY. The caller must hold the buffer lock; the reference is not
// released.
func (c *Cache) WriteBlock(b *Buffer) {
	c.deviceWrite(b)
}

// Release drops one reference to a locked buffer, returning it to the free
// pool when the count reaches zero, and hands the lock to whoever sleeps
// on it. Valid-and-dirty buffers queue at the free-list tail so they are
// reused last; everything else queues at the head.
func (c *Cache) Release(b *Buffer) {
	c.sched.IrqOff()
	b.count--
	if b.count < 0 {
		kpanic.Panic(&kpanic.Error{Op: "brelse", Dev: b.dev, Block: b.num, Code: kpanic.CodeDoubleFree})
	}
	if b.count == 0 {
		c.sched.Wakeup(c.anyFree)
		if b.flags&(FlagValid|FlagDirty) == FlagValid|FlagDirty {
			b.freeInsertBefore(&c.free)
		} else {
			b.freeInsertAfter(&c.free)
		}
	}
	b.flags &^= FlagLocked
	c.sched.Wakeup(b.wait)
	c.sched.IrqOn()
}

// Lock acquires the per-buffer sleep lock, waiting out the current holder
func (c *Cache) Lock(b *Buffer) {
	c.sched.IrqOff()
	for b.flags&FlagLocked != 0 {
		if c.observer != nil {
			c.observer.ObserveBufferSleep()
		}
		c.sched.Sleep(b.wait, constants.PrioBuffer)
	}
	b.flags |= FlagLocked
	c.sched.IrqOn()
}

// Unlock releases the per-buffer sleep lock and wakes all sleepers; the
// first one scheduled takes the lock
func (c *Cache) Unlock(b *Buffer) {
	c.sched.IrqOff()
	b.flags &^= FlagLocked
	c.sched.Wakeup(b.wait)
	c.sched.IrqOn()
}

// SyncAll writes every VALID buffer through to its device, then flushes
// drivers that buffer underneath us. Each buffer is pinned for the
// duration of its write and released here — drivers never touch reference
// counts. After a quiescent SyncAll no buffer is DIRTY.
func (c *Cache) SyncAll() {
	for i := range c.bufs {
		b := &c.bufs[i]

		c.sched.IrqOff()
		if b.flags&FlagValid == 0 {
			c.sched.IrqOn()
			continue
		}
		for b.flags&FlagLocked != 0 {
			c.sched.Sleep(b.wait, constants.PrioBuffer)
		}
		// The identity may have moved on while we slept
		if b.flags&FlagValid == 0 {
			c.sched.IrqOn()
			continue
		}
		b.flags |= FlagLocked | FlagBusy
		b.count++
		if b.count == 1 {
			b.freeUnlink()
		}
		c.sched.IrqOn()

		c.deviceWrite(b)

		c.sched.IrqOff()
		b.flags &^= FlagBusy
		c.sched.IrqOn()
		c.Release(b)
	}

	for dev, d := range c.devices {
		f, ok := d.(interfaces.FlushDevice)
		if !ok {
			continue
		}
		if err := f.Flush(); err != nil {
			kpanic.Panic(&kpanic.Error{Op: "sync", Dev: dev, Block: -1, Code: kpanic.CodeDeviceIO, Inner: err})
		}
	}
}

// deviceRead populates the buffer from the device. Interrupts stay on for
// the I/O itself; the buffer lock serialises access to the block.
func (c *Cache) deviceRead(b *Buffer) {
	d := c.driver(b.dev)
	if err := d.ReadBlock(b.data, b.num); err != nil {
		kpanic.Panic(&kpanic.Error{Op: "bread", Dev: b.dev, Block: b.num, Code: kpanic.CodeDeviceIO, Inner: err})
	}
	c.sched.IrqOff()
	b.flags |= FlagValid
	c.sched.IrqOn()
	if c.observer != nil {
		c.observer.ObserveDeviceRead()
	}
}

// deviceWrite pushes the buffer to the device and clears DIRTY
func (c *Cache) deviceWrite(b *Buffer) {
	d := c.driver(b.dev)
	if err := d.WriteBlock(b.data, b.num); err != nil {
		kpanic.Panic(&kpanic.Error{Op: "bwrite", Dev: b.dev, Block: b.num, Code: kpanic.CodeDeviceIO, Inner: err})
	}
	c.sched.IrqOff()
	b.flags &^= FlagDirty
	c.sched.IrqOn()
	if c.observer != nil {
		c.observer.ObserveDeviceWrite()
	}
}

// FreeCount walks the free list and returns its length
func (c *Cache) FreeCount() int {
	c.sched.IrqOff()
	defer c.sched.IrqOn()
	n := 0
	for b := c.free.freeNext; b != &c.free; b = b.freeNext {
		n++
	}
	return n
}

// InFreeList reports whether b is linked into the free list. Interrupts
// need not be disabled from the boot context; the links are nil whenever
// the buffer is referenced.
func (b *Buffer) InFreeList() bool { return b.freeNext != nil }
