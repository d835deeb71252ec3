package cache

import "github.com/behrlich/go-kcore/internal/sched"

// Flags is the buffer status bit set
type Flags uint32

const (
	// FlagValid means data reflects the on-disk content of (dev, num) as
	// of the last read, or the owning writer's initialisation
	FlagValid Flags = 1 << iota
	// FlagDirty means data has been modified since the last write-back
	FlagDirty
	// FlagLocked is the per-buffer sleep lock, held across device I/O
	FlagLocked
	// FlagBusy marks a buffer in transit inside a sync sweep
	FlagBusy
)

// Buffer is one cached disk block. Identity (dev, num) can be reassigned
// whenever the buffer is reused off the free list; the struct itself lives
// for the lifetime of the cache.
//
// The free-list and hash-bucket links are intrusive: removal is O(1) given
// the buffer, and nothing allocates on the hot path. List heads are
// sentinel Buffers sharing the same layout.
type Buffer struct {
	dev   int
	num   int64
	data  []byte // BlockSize bytes carved from the cache arena
	count int    // reference count; zero iff on the free list
	flags Flags
	wait  *sched.WaitQueue // processes sleeping on this buffer

	freePrev, freeNext *Buffer
	hashPrev, hashNext *Buffer
}

// Dev returns the device identifier
func (b *Buffer) Dev() int { return b.dev }

// Num returns the block number on the device
func (b *Buffer) Num() int64 { return b.num }

// Data returns the backing block region. Only the lock holder may touch it.
func (b *Buffer) Data() []byte { return b.data }

// Valid reports whether data matches the on-disk block
func (b *Buffer) Valid() bool { return b.flags&FlagValid != 0 }

// Dirty reports whether data has unwritten modifications
func (b *Buffer) Dirty() bool { return b.flags&FlagDirty != 0 }

// Locked reports whether the per-buffer sleep lock is held
func (b *Buffer) Locked() bool { return b.flags&FlagLocked != 0 }

// Count returns the reference count
func (b *Buffer) Count() int { return b.count }

// MarkDirty records that the caller modified data. The caller must hold
// the buffer lock.
func (b *Buffer) MarkDirty() { b.flags |= FlagDirty }

// MarkValid records that the caller initialised the full block itself, so
// a device read would be wasted. The caller must hold the buffer lock.
func (b *Buffer) MarkValid() { b.flags |= FlagValid }

// freeUnlink removes b from the free list
func (b *Buffer) freeUnlink() {
	b.freePrev.freeNext = b.freeNext
	b.freeNext.freePrev = b.freePrev
	b.freePrev = nil
	b.freeNext = nil
}

// freeInsertAfter inserts b after pos (head insert when pos is the
// sentinel: preferred eviction victim)
func (b *Buffer) freeInsertAfter(pos *Buffer) {
	b.freeNext = pos.freeNext
	b.freePrev = pos
	pos.freeNext.freePrev = b
	pos.freeNext = b
}

// freeInsertBefore inserts b before pos (tail insert when pos is the
// sentinel: preserved longest)
func (b *Buffer) freeInsertBefore(pos *Buffer) {
	b.freePrev = pos.freePrev
	b.freeNext = pos
	pos.freePrev.freeNext = b
	pos.freePrev = b
}

// hashUnlink removes b from its hash bucket and restores the self-loop
func (b *Buffer) hashUnlink() {
	b.hashPrev.hashNext = b.hashNext
	b.hashNext.hashPrev = b.hashPrev
	b.hashPrev = b
	b.hashNext = b
}

// hashInsertAfter inserts b at the front of the bucket headed by sentinel
func (b *Buffer) hashInsertAfter(sentinel *Buffer) {
	b.hashNext = sentinel.hashNext
	b.hashPrev = sentinel
	sentinel.hashNext.hashPrev = b
	sentinel.hashNext = b
}
