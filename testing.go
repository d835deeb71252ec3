package kcore

import (
	"fmt"
	"sync"
)

// MockDevice provides a mock BlockDevice for testing. It stores blocks in
// a sparse map, tracks read/write calls, and can inject failures.
type MockDevice struct {
	mu        sync.Mutex
	blockSize int
	blocks    map[int64][]byte
	closed    bool

	readCalls  int
	writeCalls int
	failReads  error // returned from ReadBlock when set
	failWrites error // returned from WriteBlock when set
}

// NewMockDevice creates a mock device with the given block size. Unwritten
// blocks read back as zeroes.
func NewMockDevice(blockSize int) *MockDevice {
	return &MockDevice{
		blockSize: blockSize,
		blocks:    make(map[int64][]byte),
	}
}

// ReadBlock implements the BlockDevice interface
func (m *MockDevice) ReadBlock(p []byte, num int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readCalls++
	if m.failReads != nil {
		return m.failReads
	}
	if m.closed {
		return fmt.Errorf("mock device closed")
	}
	if stored, ok := m.blocks[num]; ok {
		copy(p, stored)
	} else {
		for i := range p {
			p[i] = 0
		}
	}
	return nil
}

// WriteBlock implements the BlockDevice interface
func (m *MockDevice) WriteBlock(p []byte, num int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCalls++
	if m.failWrites != nil {
		return m.failWrites
	}
	if m.closed {
		return fmt.Errorf("mock device closed")
	}
	stored := make([]byte, len(p))
	copy(stored, p)
	m.blocks[num] = stored
	return nil
}

// Close implements the BlockDevice interface
func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SetBlock seeds the backing store with block contents
func (m *MockDevice) SetBlock(num int64, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, m.blockSize)
	copy(stored, data)
	m.blocks[num] = stored
}

// Block returns a copy of the stored block, or nil if never written
func (m *MockDevice) Block(num int64) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.blocks[num]
	if !ok {
		return nil
	}
	out := make([]byte, len(stored))
	copy(out, stored)
	return out
}

// ReadCalls returns the number of ReadBlock invocations
func (m *MockDevice) ReadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCalls
}

// WriteCalls returns the number of WriteBlock invocations
func (m *MockDevice) WriteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeCalls
}

// FailReads makes subsequent reads return err (nil restores service)
func (m *MockDevice) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failReads = err
}

// FailWrites makes subsequent writes return err (nil restores service)
func (m *MockDevice) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = err
}

// Compile-time interface check
var _ BlockDevice = (*MockDevice)(nil)
