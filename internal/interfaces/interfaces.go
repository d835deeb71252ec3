// Package interfaces provides internal interface definitions for go-kcore.
// These are separate from the public interfaces to avoid circular imports
// between the main package and internal packages.
package interfaces

// BlockDevice is the downward interface to a block device driver. A driver
// moves exactly one block of data per call; p is always BlockSize bytes.
// Errors are unrecoverable at this layer: the cache converts them into a
// kernel panic. Flag transitions (VALID, DIRTY) are owned by the cache, not
// the driver.
type BlockDevice interface {
	ReadBlock(p []byte, num int64) error
	WriteBlock(p []byte, num int64) error
	Close() error
}

// FlushDevice is an optional interface for drivers with a volatile cache of
// their own (e.g. a file-backed device that wants fsync after sync).
type FlushDevice interface {
	BlockDevice
	Flush() error
}

// Logger interface for optional logging.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Clock supplies the current tick count. The scheduler reads it for alarm
// expiry and the initial lottery seed; it never writes it.
type Clock interface {
	Ticks() uint64
}

// Observer interface for metrics collection. Implementations must be
// thread-safe: cache events fire from process context, scheduler events
// from inside the dispatch path.
type Observer interface {
	ObserveCacheHit()
	ObserveCacheMiss()
	ObserveEviction()
	ObserveDeviceRead()
	ObserveDeviceWrite()
	ObserveBufferSleep()
	ObserveFreeListSleep()
	ObserveContextSwitch(idle bool)
	ObserveLotteryDraw(totalTickets int)
	ObserveCompensation(tickets int)
}
