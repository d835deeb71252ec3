package cache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-kcore/internal/kpanic"
	"github.com/behrlich/go-kcore/internal/sched"
)

// countingDevice is a map-backed driver that counts calls
type countingDevice struct {
	blocks map[int64][]byte
	reads  int
	writes int
}

func newCountingDevice() *countingDevice {
	return &countingDevice{blocks: make(map[int64][]byte)}
}

func (d *countingDevice) ReadBlock(p []byte, num int64) error {
	d.reads++
	if stored, ok := d.blocks[num]; ok {
		copy(p, stored)
	} else {
		for i := range p {
			p[i] = 0
		}
	}
	return nil
}

func (d *countingDevice) WriteBlock(p []byte, num int64) error {
	d.writes++
	stored := make([]byte, len(p))
	copy(stored, p)
	d.blocks[num] = stored
	return nil
}

func (d *countingDevice) Close() error { return nil }

func newTestCache(t *testing.T, numBuffers int) (*Cache, *countingDevice) {
	t.Helper()
	s := sched.New(sched.Config{NumProcs: 4})
	c := New(Config{
		NumBuffers:  numBuffers,
		BlockSize:   64,
		HashtabSize: 7,
		Sched:       s,
	})
	dev := newCountingDevice()
	c.RegisterDevice(1, dev)
	return c, dev
}

func TestInitFreeList(t *testing.T) {
	c, _ := newTestCache(t, 8)

	if got := c.FreeCount(); got != 8 {
		t.Errorf("FreeCount() = %d, want 8", got)
	}
	for i := 0; i < c.NumBuffers(); i++ {
		b := c.BufferAt(i)
		if !b.InFreeList() {
			t.Errorf("buffer %d not on free list after init", i)
		}
		if b.Count() != 0 || b.Valid() || b.Dirty() || b.Locked() {
			t.Errorf("buffer %d not pristine after init", i)
		}
	}
	// Index order: head of the free list is slot 0.
	if c.free.freeNext != c.BufferAt(0) {
		t.Error("free list head is not buffer 0")
	}
}

func TestHitPath(t *testing.T) {
	c, dev := newTestCache(t, 8)
	dev.blocks[10] = []byte("ten")

	b1 := c.ReadBlock(1, 10)
	require.True(t, b1.Valid())
	require.True(t, b1.Locked())
	require.Equal(t, 1, b1.Count())
	require.Equal(t, 1, dev.reads)
	assert.Equal(t, byte('t'), b1.Data()[0])
	c.Release(b1)

	b2 := c.ReadBlock(1, 10)
	assert.Same(t, b1, b2, "second read must hit the same buffer slot")
	assert.Equal(t, 1, dev.reads, "hit path must not reissue the device read")
	c.Release(b2)
}

func TestReleaseRestoresFreeList(t *testing.T) {
	c, _ := newTestCache(t, 4)

	b := c.ReadBlock(1, 3)
	assert.False(t, b.InFreeList())
	assert.Equal(t, 3, c.FreeCount())

	c.Release(b)
	assert.True(t, b.InFreeList())
	assert.Equal(t, 0, b.Count())
	assert.Equal(t, 4, c.FreeCount())
	assert.False(t, b.Locked())
}

func TestEviction(t *testing.T) {
	c, dev := newTestCache(t, 4)

	var first *Buffer
	for i := int64(1); i <= 5; i++ {
		b := c.ReadBlock(1, i)
		if i == 1 {
			first = b
		}
		c.Release(b)
	}

	// The LRU victim for (1,5) is the buffer that held (1,1).
	assert.Equal(t, int64(5), first.Num())
	assert.Nil(t, c.lookup(1, 1), "(1,1) must be gone from its hash bucket")
	assert.Same(t, first, c.lookup(1, 5))
	assert.Equal(t, 5, dev.reads)
}

func TestDirtyPreservationOrder(t *testing.T) {
	c, _ := newTestCache(t, 4)

	b7 := c.ReadBlock(1, 7)
	b7.MarkDirty()
	c.Release(b7)

	b8 := c.ReadBlock(1, 8)
	c.Release(b8)

	// Clean buffers are reused before valid-and-dirty ones: the next
	// eviction victim is the (1,8) buffer, not (1,7).
	got := c.GetBlock(1, 9)
	assert.Same(t, b8, got)
	assert.Same(t, c.lookup(1, 7), b7, "dirty buffer must survive at the tail")
	c.Release(got)
}

func TestHashCollisionsCoexist(t *testing.T) {
	c, _ := newTestCache(t, 8)

	// HashtabSize is 7: (1 XOR 2) and (1 XOR 11) land in the same bucket.
	require.Equal(t, c.bucket(1, 2), c.bucket(1, 11))

	b1 := c.ReadBlock(1, 2)
	b2 := c.ReadBlock(1, 11)
	require.NotSame(t, b1, b2)

	assert.Same(t, b1, c.lookup(1, 2))
	assert.Same(t, b2, c.lookup(1, 11))
	c.Release(b1)
	c.Release(b2)
}

func TestGetBlockZeroIdentityPanics(t *testing.T) {
	c, _ := newTestCache(t, 4)

	defer func() {
		r := recover()
		require.NotNil(t, r, "get_block(0,0) must panic")
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, &kpanic.Error{Code: kpanic.CodeBadBlock}))
	}()
	c.GetBlock(0, 0)
}

func TestDoubleReleasePanics(t *testing.T) {
	c, _ := newTestCache(t, 4)

	b := c.ReadBlock(1, 1)
	c.Release(b)

	defer func() {
		r := recover()
		require.NotNil(t, r, "releasing a free buffer must panic")
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, &kpanic.Error{Code: kpanic.CodeDoubleFree}))
	}()
	c.Release(b)
}

func TestDirtyVictimPanics(t *testing.T) {
	c, _ := newTestCache(t, 2)

	// Fill the pool with valid-and-dirty buffers. They all sit at the
	// free-list tail, so the head victim for a new block is dirty.
	for i := int64(1); i <= 2; i++ {
		b := c.ReadBlock(1, i)
		b.MarkDirty()
		c.Release(b)
	}

	defer func() {
		r := recover()
		require.NotNil(t, r, "recycling a dirty victim must panic")
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, &kpanic.Error{Code: kpanic.CodeDirtyVictim}))
	}()
	c.GetBlock(1, 3)
}

func TestUnknownDevicePanics(t *testing.T) {
	c, _ := newTestCache(t, 4)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, &kpanic.Error{Code: kpanic.CodeUnknownDevice}))
	}()
	c.ReadBlock(9, 1)
}

func TestWriteBlockClearsDirty(t *testing.T) {
	c, dev := newTestCache(t, 4)

	b := c.ReadBlock(1, 5)
	copy(b.Data(), "payload")
	b.MarkDirty()
	c.WriteBlock(b)

	assert.False(t, b.Dirty())
	assert.Equal(t, 1, dev.writes)
	assert.Equal(t, byte('p'), dev.blocks[5][0])
	assert.True(t, b.Locked(), "bwrite keeps the caller's lock")
	c.Release(b)
}

func TestSyncAllWritesValidBuffers(t *testing.T) {
	c, dev := newTestCache(t, 8)

	b1 := c.ReadBlock(1, 1)
	copy(b1.Data(), "one")
	b1.MarkDirty()
	c.Release(b1)

	b2 := c.ReadBlock(1, 2)
	c.Release(b2)

	c.SyncAll()

	assert.Equal(t, 2, dev.writes, "sync writes every VALID buffer")
	assert.Equal(t, byte('o'), dev.blocks[1][0])
	for i := 0; i < c.NumBuffers(); i++ {
		b := c.BufferAt(i)
		assert.False(t, b.Dirty(), "buffer %d still dirty after sync", i)
		if b.Valid() {
			assert.Equal(t, 0, b.Count(), "sync must release buffer %d", i)
			assert.True(t, b.InFreeList())
		}
	}
}

func TestGetBlockInvalidAfterRecycle(t *testing.T) {
	c, dev := newTestCache(t, 2)
	dev.blocks[1] = []byte("aa")
	dev.blocks[2] = []byte("bb")
	dev.blocks[3] = []byte("cc")

	for i := int64(1); i <= 2; i++ {
		c.Release(c.ReadBlock(1, i))
	}
	// (1,3) recycles the slot now holding (1,2) (clean releases go back
	// to the head, so (1,2) already took over the (1,1) slot): its old
	// contents are stale and the VALID flag must drop so the read hits
	// the device.
	b := c.ReadBlock(1, 3)
	assert.Equal(t, byte('c'), b.Data()[0])
	assert.Equal(t, 3, dev.reads)
	c.Release(b)
}

func TestLockUnlock(t *testing.T) {
	c, _ := newTestCache(t, 4)

	b := c.ReadBlock(1, 1)
	c.Release(b)
	require.False(t, b.Locked())

	c.Lock(b)
	assert.True(t, b.Locked())
	c.Unlock(b)
	assert.False(t, b.Locked())
}

func TestCountFreeListInvariant(t *testing.T) {
	c, _ := newTestCache(t, 8)

	var held []*Buffer
	for i := int64(1); i <= 4; i++ {
		held = append(held, c.ReadBlock(1, i))
	}
	for i := 0; i < c.NumBuffers(); i++ {
		b := c.BufferAt(i)
		onList := b.InFreeList()
		if (b.Count() == 0) != onList {
			t.Errorf("buffer %d: count=%d onFreeList=%v", i, b.Count(), onList)
		}
	}
	for _, b := range held {
		c.Release(b)
	}
}

func TestBadConfigPanics(t *testing.T) {
	s := sched.New(sched.Config{NumProcs: 4})

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, &kpanic.Error{Code: kpanic.CodeBadConfig}))
	}()
	New(Config{NumBuffers: 1024, Sched: s})
}

func TestArenaCarving(t *testing.T) {
	c, _ := newTestCache(t, 4)

	for i := 0; i < 4; i++ {
		b := c.BufferAt(i)
		if len(b.Data()) != 64 {
			t.Fatalf("buffer %d data length = %d, want 64", i, len(b.Data()))
		}
	}
	// Adjacent buffers back onto adjacent arena regions; scribbling on
	// one block must not bleed into the next.
	b0, b1 := c.BufferAt(0), c.BufferAt(1)
	for i := range b0.Data() {
		b0.Data()[i] = 0xff
	}
	for i, v := range b1.Data() {
		if v != 0 {
			t.Fatalf("buffer 1 byte %d dirtied by writes to buffer 0: %#x", i, v)
		}
	}
}

func TestBucketSpread(t *testing.T) {
	c, _ := newTestCache(t, 8)

	seen := make(map[*Buffer]bool)
	for num := int64(0); num < 100; num++ {
		seen[c.bucket(1, num)] = true
	}
	if len(seen) != 7 {
		t.Errorf("expected all 7 buckets used by 100 consecutive blocks, got %d", len(seen))
	}
}
