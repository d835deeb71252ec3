// Package blockdev provides standard block device drivers for kcore
package blockdev

import (
	"fmt"
	"sync"

	kcore "github.com/behrlich/go-kcore"
)

// ShardBlocks is the number of blocks covered by one lock shard. Sharding
// keeps lock overhead low while allowing the sync sweep and test harness
// goroutines to touch disjoint regions in parallel.
const ShardBlocks = 64

// Memory provides a RAM-backed block device
type Memory struct {
	data      []byte
	blockSize int
	numBlocks int64
	shards    []sync.RWMutex
}

// NewMemory creates a memory device holding numBlocks blocks of
// blockSize bytes each
func NewMemory(numBlocks int64, blockSize int) *Memory {
	numShards := (numBlocks + ShardBlocks - 1) / ShardBlocks
	if numShards < 1 {
		numShards = 1
	}
	return &Memory{
		data:      make([]byte, numBlocks*int64(blockSize)),
		blockSize: blockSize,
		numBlocks: numBlocks,
		shards:    make([]sync.RWMutex, numShards),
	}
}

func (m *Memory) shard(num int64) *sync.RWMutex {
	return &m.shards[num/ShardBlocks]
}

// ReadBlock implements the BlockDevice interface
func (m *Memory) ReadBlock(p []byte, num int64) error {
	if num < 0 || num >= m.numBlocks {
		return fmt.Errorf("read beyond end of device: block %d of %d", num, m.numBlocks)
	}
	mu := m.shard(num)
	mu.RLock()
	off := num * int64(m.blockSize)
	copy(p, m.data[off:off+int64(m.blockSize)])
	mu.RUnlock()
	return nil
}

// WriteBlock implements the BlockDevice interface
func (m *Memory) WriteBlock(p []byte, num int64) error {
	if num < 0 || num >= m.numBlocks {
		return fmt.Errorf("write beyond end of device: block %d of %d", num, m.numBlocks)
	}
	mu := m.shard(num)
	mu.Lock()
	off := num * int64(m.blockSize)
	copy(m.data[off:off+int64(m.blockSize)], p)
	mu.Unlock()
	return nil
}

// NumBlocks returns the device capacity in blocks
func (m *Memory) NumBlocks() int64 { return m.numBlocks }

// Close implements the BlockDevice interface
func (m *Memory) Close() error {
	m.data = nil
	return nil
}

// Compile-time interface check
var _ kcore.BlockDevice = (*Memory)(nil)
