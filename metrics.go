package kcore

import "sync/atomic"

// Metrics tracks operational statistics for the buffer cache and the
// scheduler. All counters are atomic: cache events fire from process
// context, scheduler events from the dispatch path.
type Metrics struct {
	// Buffer cache counters
	CacheHits   atomic.Uint64 // lookups satisfied from the pool
	CacheMisses atomic.Uint64 // lookups that allocated a free buffer
	Evictions   atomic.Uint64 // misses that displaced a previous identity

	// Device I/O counters
	DeviceReads  atomic.Uint64 // synchronous block reads issued
	DeviceWrites atomic.Uint64 // synchronous block writes issued

	// Blocking counters
	BufferSleeps   atomic.Uint64 // sleeps on a locked buffer
	FreeListSleeps atomic.Uint64 // sleeps waiting for any free buffer

	// Scheduler counters
	ContextSwitches   atomic.Uint64 // actual CPU handoffs
	IdleSwitches      atomic.Uint64 // handoffs to the idle process
	LotteryDraws      atomic.Uint64 // non-empty lottery rounds
	TicketsDrawn      atomic.Uint64 // cumulative ticket totals across draws
	Compensations     atomic.Uint64 // compensation awards granted
	CompensationTotal atomic.Uint64 // cumulative compensation tickets
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// MetricsSnapshot is a point-in-time copy with derived values
type MetricsSnapshot struct {
	CacheHits       uint64
	CacheMisses     uint64
	Evictions       uint64
	HitRate         float64 // percentage of lookups served from the pool
	DeviceReads     uint64
	DeviceWrites    uint64
	BufferSleeps    uint64
	FreeListSleeps  uint64
	ContextSwitches uint64
	IdleSwitches    uint64
	LotteryDraws    uint64
	AvgTickets      float64 // average ticket pool per draw
	Compensations   uint64
}

// Snapshot returns a consistent-enough copy for reporting
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		CacheHits:       m.CacheHits.Load(),
		CacheMisses:     m.CacheMisses.Load(),
		Evictions:       m.Evictions.Load(),
		DeviceReads:     m.DeviceReads.Load(),
		DeviceWrites:    m.DeviceWrites.Load(),
		BufferSleeps:    m.BufferSleeps.Load(),
		FreeListSleeps:  m.FreeListSleeps.Load(),
		ContextSwitches: m.ContextSwitches.Load(),
		IdleSwitches:    m.IdleSwitches.Load(),
		LotteryDraws:    m.LotteryDraws.Load(),
		Compensations:   m.Compensations.Load(),
	}
	if lookups := s.CacheHits + s.CacheMisses; lookups > 0 {
		s.HitRate = float64(s.CacheHits) / float64(lookups) * 100.0
	}
	if s.LotteryDraws > 0 {
		s.AvgTickets = float64(m.TicketsDrawn.Load()) / float64(s.LotteryDraws)
	}
	return s
}

// Observer implementation

func (m *Metrics) ObserveCacheHit()      { m.CacheHits.Add(1) }
func (m *Metrics) ObserveCacheMiss()     { m.CacheMisses.Add(1) }
func (m *Metrics) ObserveEviction()      { m.Evictions.Add(1) }
func (m *Metrics) ObserveDeviceRead()    { m.DeviceReads.Add(1) }
func (m *Metrics) ObserveDeviceWrite()   { m.DeviceWrites.Add(1) }
func (m *Metrics) ObserveBufferSleep()   { m.BufferSleeps.Add(1) }
func (m *Metrics) ObserveFreeListSleep() { m.FreeListSleeps.Add(1) }

func (m *Metrics) ObserveContextSwitch(idle bool) {
	m.ContextSwitches.Add(1)
	if idle {
		m.IdleSwitches.Add(1)
	}
}

func (m *Metrics) ObserveLotteryDraw(totalTickets int) {
	m.LotteryDraws.Add(1)
	m.TicketsDrawn.Add(uint64(totalTickets))
}

func (m *Metrics) ObserveCompensation(tickets int) {
	m.Compensations.Add(1)
	m.CompensationTotal.Add(uint64(tickets))
}
