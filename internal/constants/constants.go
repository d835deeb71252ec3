package constants

// Buffer cache configuration constants
const (
	// DefaultNumBuffers is the number of buffers in the cache pool.
	// Hard upper bound is MaxBuffers.
	DefaultNumBuffers = 256

	// MaxBuffers is the largest supported buffer pool size
	MaxBuffers = 512

	// DefaultBlockSize is the size of one disk block in bytes
	DefaultBlockSize = 1024

	// DefaultHashtabSize is the number of hash buckets in the block index.
	// Prime, so that (dev XOR num) mod DefaultHashtabSize spreads well for
	// consecutive block numbers on one device.
	DefaultHashtabSize = 53
)

// Bitmap sizing for the file-system layers above the cache. Both maps must
// fit in a small fraction of the pool so pinning them never starves regular
// block traffic.
const (
	ImapSize = 8
	ZmapSize = 8
)

// Compile-time check: IMAP + ZMAP must fit in 1/16th of the buffer pool.
var _ [DefaultNumBuffers/16 - ImapSize - ZmapSize]struct{}

// Scheduler configuration constants
const (
	// DefaultNumProcs is the number of slots in the process table,
	// including the idle slot.
	DefaultNumProcs = 64

	// ProcQuantum is the scheduling quantum in clock ticks
	ProcQuantum = 100

	// PrioBuffer is the sleep priority used while waiting on buffers
	PrioBuffer = -40

	// PrioUser is the base priority assigned to a process when it wins
	// the lottery
	PrioUser = 20

	// NormalizationValue offsets priority and nice so ticket counts stay
	// positive: tickets = -priority + NormalizationValue - nice.
	NormalizationValue = 40
)

// Pseudo-random generator parameters for the lottery draw (classic LCG)
const (
	RandMultiplier = 1103515245
	RandIncrement  = 12345
	RandRange      = 32768
)
