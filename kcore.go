// Package kcore provides the core of a single-CPU cooperative kernel:
// a block buffer cache over pluggable block device drivers, and a
// lottery-based process scheduler with compensation tickets. The two are
// built together because their contracts are inseparable — buffer
// operations block callers on per-buffer wait queues, and the scheduler
// decides who runs when they wake.
package kcore

import (
	"time"

	"github.com/behrlich/go-kcore/internal/cache"
	"github.com/behrlich/go-kcore/internal/interfaces"
	"github.com/behrlich/go-kcore/internal/logging"
	"github.com/behrlich/go-kcore/internal/sched"
)

// Buffer is one cached disk block, returned locked and referenced by
// ReadBlock/GetBlock
type Buffer = cache.Buffer

// Proc is one process table slot
type Proc = sched.Proc

// WaitQueue holds processes sleeping on one condition
type WaitQueue = sched.WaitQueue

// Signal identifies a scheduler-delivered signal
type Signal = sched.Signal

// Signals delivered by the core
const (
	SigAlrm = sched.SigAlrm
	SigChld = sched.SigChld
)

// Process states
const (
	StateReady   = sched.StateReady
	StateRunning = sched.StateRunning
	StateWaiting = sched.StateWaiting
	StateStopped = sched.StateStopped
	StateZombie  = sched.StateZombie
)

// BlockDevice is the downward driver interface; see blockdev for the
// standard implementations
type BlockDevice = interfaces.BlockDevice

// FlushDevice is the optional driver interface for devices with a
// volatile cache; SyncAll flushes them after the write sweep
type FlushDevice = interfaces.FlushDevice

// Observer receives cache and scheduler events; *Metrics is the standard
// implementation
type Observer = interfaces.Observer

// Logger is the minimal logging interface the core writes to
type Logger = interfaces.Logger

// Clock supplies the kernel tick count
type Clock = interfaces.Clock

var _ Observer = (*Metrics)(nil)

// NewWaitQueue creates a named wait queue for use with Sleep/Wakeup
func NewWaitQueue(name string) *WaitQueue { return sched.NewWaitQueue(name) }

// Params contains construction parameters for a Kernel
type Params struct {
	// Buffer cache geometry
	NumBuffers  int // buffers in the pool (default 256, max 512)
	BlockSize   int // bytes per block (default 1024)
	HashtabSize int // hash buckets (default 53)

	// Scheduler
	NumProcs int    // process table slots including idle (default 64)
	Quantum  int    // quantum in clock ticks (default 100)
	Seed     uint32 // lottery PRNG seed; 0 seeds from the clock

	// Ambient
	Clock    Clock    // tick source (default: 100Hz wall clock)
	Logger   Logger   // nil means the package default logger
	Observer Observer // nil disables metrics
	Signal   sched.SignalFunc
}

// DefaultParams returns the standard configuration
func DefaultParams() Params {
	return Params{}
}

// Kernel wires the scheduler, the buffer cache and the device registry
// into one bootable core
type Kernel struct {
	sched *sched.Scheduler
	cache *cache.Cache
}

// New boots a kernel core. The calling goroutine becomes the idle
// process; it owns the CPU until Run hands it over.
func New(params Params) *Kernel {
	if params.Clock == nil {
		params.Clock = NewWallClock(100)
	}
	var logger Logger = logging.Default()
	if params.Logger != nil {
		logger = params.Logger
	}

	s := sched.New(sched.Config{
		NumProcs: params.NumProcs,
		Quantum:  params.Quantum,
		Seed:     params.Seed,
		Clock:    params.Clock,
		Logger:   logger,
		Observer: params.Observer,
		Signal:   params.Signal,
	})
	c := cache.New(cache.Config{
		NumBuffers:  params.NumBuffers,
		BlockSize:   params.BlockSize,
		HashtabSize: params.HashtabSize,
		Sched:       s,
		Logger:      logger,
		Observer:    params.Observer,
	})
	return &Kernel{sched: s, cache: c}
}

// RegisterDevice attaches a block device driver under device number dev.
// Drivers are registered at boot, before any process runs.
func (k *Kernel) RegisterDevice(dev int, d BlockDevice) {
	k.cache.RegisterDevice(dev, d)
}

// BlockSize returns the configured bytes per block
func (k *Kernel) BlockSize() int { return k.cache.BlockSize() }

// Buffer cache operations (the upward interface used by file-system code)

// ReadBlock returns a locked, referenced, VALID buffer for (dev, num),
// issuing a device read only when the cache copy is stale
func (k *Kernel) ReadBlock(dev int, num int64) *Buffer {
	return k.cache.ReadBlock(dev, num)
}

// GetBlock returns a locked, referenced buffer for (dev, num) without
// validating its contents. For writers that initialise the whole block.
func (k *Kernel) GetBlock(dev int, num int64) *Buffer {
	return k.cache.GetBlock(dev, num)
}

// WriteBlock synchronously writes the buffer to its device and clears
// DIRTY; the caller keeps the lock and the reference
func (k *Kernel) WriteBlock(b *Buffer) { k.cache.WriteBlock(b) }

// Release drops a reference and the buffer lock
func (k *Kernel) Release(b *Buffer) { k.cache.Release(b) }

// LockBuffer acquires the per-buffer sleep lock
func (k *Kernel) LockBuffer(b *Buffer) { k.cache.Lock(b) }

// UnlockBuffer drops the per-buffer sleep lock and wakes contenders
func (k *Kernel) UnlockBuffer(b *Buffer) { k.cache.Unlock(b) }

// SyncAll writes every VALID buffer through to its device and flushes
// drivers with volatile caches
func (k *Kernel) SyncAll() { k.cache.SyncAll() }

// Process operations

// Spawn creates a READY process running body. nice shifts its ticket
// count down: tickets = -priority + NormalizationValue - nice.
func (k *Kernel) Spawn(nice int, body func()) *Proc {
	return k.sched.Spawn(nice, body)
}

// Run hands the CPU to the runnable set and returns once nothing is left
// to run. Interrupt-context wakeups that arrive while idle re-enter the
// lottery before Run returns.
func (k *Kernel) Run() {
	for {
		k.sched.Run()
		if k.sched.RunnableCount() == 0 {
			return
		}
	}
}

// Yield gives up the CPU voluntarily; unused quantum converts into
// compensation tickets
func (k *Kernel) Yield() {
	k.sched.IrqOff()
	k.sched.Yield()
	k.sched.IrqOn()
}

// Sleep blocks the current process on q. Spurious wakeups happen: callers
// re-check their condition in a loop.
func (k *Kernel) Sleep(q *WaitQueue, prio int) {
	k.sched.IrqOff()
	k.sched.Sleep(q, prio)
	k.sched.IrqOn()
}

// Wakeup readies every process sleeping on q. Safe from interrupt
// context (any goroutine).
func (k *Kernel) Wakeup(q *WaitQueue) {
	k.sched.IrqOff()
	k.sched.Wakeup(q)
	k.sched.IrqOn()
}

// Stop halts the current process and notifies its parent with SIGCHLD
func (k *Kernel) Stop() {
	k.sched.IrqOff()
	k.sched.Stop()
	k.sched.IrqOn()
}

// Resume makes a STOPPED process runnable again
func (k *Kernel) Resume(p *Proc) {
	k.sched.IrqOff()
	k.sched.Resume(p)
	k.sched.IrqOn()
}

// SetAlarm arms p's alarm for the given tick; SIGALRM is delivered at the
// first reschedule after the clock passes it
func (k *Kernel) SetAlarm(p *Proc, tick uint64) {
	k.sched.IrqOff()
	k.sched.SetAlarm(p, tick)
	k.sched.IrqOn()
}

// ClockTick accounts one quantum tick against the running process
func (k *Kernel) ClockTick() { k.sched.ClockTick() }

// Current returns the process owning the CPU
func (k *Kernel) Current() *Proc { return k.sched.Current() }

// Last returns the process that most recently gave up the CPU
func (k *Kernel) Last() *Proc { return k.sched.Last() }

// wallClock counts ticks of 1/hz seconds since boot
type wallClock struct {
	start time.Time
	tick  time.Duration
}

// NewWallClock returns a Clock ticking hz times per second
func NewWallClock(hz int) Clock {
	if hz <= 0 {
		hz = 100
	}
	return &wallClock{start: time.Now(), tick: time.Second / time.Duration(hz)}
}

func (c *wallClock) Ticks() uint64 {
	return uint64(time.Since(c.start) / c.tick)
}
