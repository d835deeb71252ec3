// Package sched implements the process scheduler: a single-CPU cooperative
// kernel model where the next runnable process is picked by lottery, with
// compensation tickets for processes that yield before their quantum is up.
//
// Concurrency model: every process is a goroutine, but exactly one of them
// owns the CPU at any time. Ownership is handed over through per-process
// resume channels; everything else parks. Interrupt masking (IrqOff/IrqOn)
// is a single mutex over all scheduler and wait-queue state, and it is the
// sole mutual-exclusion primitive — there are no finer-grained locks.
//
// Locking convention: Sleep, Wakeup, Yield, Sched, Stop, Resume and
// SetAlarm must be called with interrupts disabled (between IrqOff and
// IrqOn). Spawn, Run, ClockTick, Current and Last do their own masking.
package sched

import (
	"sync"

	"github.com/behrlich/go-kcore/internal/constants"
	"github.com/behrlich/go-kcore/internal/interfaces"
	"github.com/behrlich/go-kcore/internal/kpanic"
)

// Config holds scheduler construction parameters
type Config struct {
	NumProcs int
	Quantum  int
	Seed     uint32 // lottery PRNG seed; 0 means seed from the clock
	Clock    interfaces.Clock
	Logger   interfaces.Logger
	Observer interfaces.Observer
	Signal   SignalFunc
}

// Scheduler owns the process table and the CPU
type Scheduler struct {
	mu sync.Mutex // the interrupt mask

	procs []*Proc // fixed table; procs[0] is the idle slot
	idle  *Proc
	curr  *Proc
	last  *Proc

	quantum  int
	seed     uint32
	nextPID  int
	clock    interfaces.Clock
	logger   interfaces.Logger
	observer interfaces.Observer
	signal   SignalFunc
}

// New creates a scheduler. The calling goroutine becomes the idle process:
// it owns the CPU until Run hands it over.
func New(config Config) *Scheduler {
	if config.NumProcs <= 1 {
		config.NumProcs = constants.DefaultNumProcs
	}
	if config.Quantum <= 0 {
		config.Quantum = constants.ProcQuantum
	}
	s := &Scheduler{
		procs:    make([]*Proc, config.NumProcs),
		quantum:  config.Quantum,
		seed:     config.Seed,
		clock:    config.Clock,
		logger:   config.Logger,
		observer: config.Observer,
		signal:   config.Signal,
	}
	if s.seed == 0 && s.clock != nil {
		s.seed = uint32(s.clock.Ticks())
	}
	s.idle = &Proc{
		pid:    0,
		state:  StateRunning,
		resume: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	s.procs[0] = s.idle
	s.curr = s.idle
	s.last = s.idle
	return s
}

// IrqOff disables interrupts. Every inspection or mutation of scheduler or
// buffer state happens between IrqOff and IrqOn.
func (s *Scheduler) IrqOff() { s.mu.Lock() }

// IrqOn re-enables interrupts
func (s *Scheduler) IrqOn() { s.mu.Unlock() }

// Current returns the process owning the CPU
func (s *Scheduler) Current() *Proc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curr
}

// Last returns the process that most recently gave up the CPU
func (s *Scheduler) Last() *Proc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Idle returns the idle process
func (s *Scheduler) Idle() *Proc { return s.idle }

// Spawn allocates a process table slot and starts the process body in its
// own goroutine. The process is READY; it runs when the lottery picks it.
func (s *Scheduler) Spawn(nice int, body func()) *Proc {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := -1
	for i := 1; i < len(s.procs); i++ {
		if s.procs[i] == nil || s.procs[i].state == StateZombie {
			slot = i
			break
		}
	}
	if slot < 0 {
		kpanic.Panicf(kpanic.CodeProcTableFull, "spawn", "all %d process slots in use", len(s.procs)-1)
	}

	s.nextPID++
	p := &Proc{
		pid:      s.nextPID,
		state:    StateReady,
		priority: constants.PrioUser,
		nice:     nice,
		father:   s.curr,
		resume:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		body:     body,
	}
	p.tickets = -p.priority + constants.NormalizationValue - p.nice
	s.procs[slot] = p

	go s.trampoline(p)
	return p
}

func (s *Scheduler) trampoline(p *Proc) {
	<-p.resume
	if p.body != nil {
		p.body()
	}
	s.exit(p)
}

// exit retires the current process. The goroutine returns once the CPU has
// been handed to the next winner.
func (s *Scheduler) exit(p *Proc) {
	s.mu.Lock()
	p.state = StateZombie
	if p.father != nil && s.signal != nil {
		s.signal(p.father, SigChld)
	}
	close(p.done)
	s.Yield()
	s.mu.Unlock()
}

// Sched marks a process runnable with an exhausted quantum
func (s *Scheduler) Sched(p *Proc) {
	p.state = StateReady
	p.counter = 0
}

// Stop halts the current process, notifies its parent, and gives up the CPU
func (s *Scheduler) Stop() {
	p := s.curr
	p.state = StateStopped
	if p.father != nil && s.signal != nil {
		s.signal(p.father, SigChld)
	}
	s.Yield()
}

// Resume makes a stopped process runnable again. No effect on any other
// state.
func (s *Scheduler) Resume(p *Proc) {
	if p.state == StateStopped {
		s.Sched(p)
	}
}

// SetAlarm arms the process alarm: SIGALRM is delivered at the first yield
// after the clock passes tick. Zero disarms.
func (s *Scheduler) SetAlarm(p *Proc, tick uint64) {
	p.alarm = tick
}

// Sleep puts the current process to sleep on q at the given priority and
// gives up the CPU. When Sleep returns the condition must be re-checked:
// wakeups are broadcast and arbitrary state changes happened in between.
func (s *Scheduler) Sleep(q *WaitQueue, prio int) {
	p := s.curr
	if p == s.idle {
		kpanic.Panicf(kpanic.CodeIdleSleep, "sleep", "idle process slept on %q", q.name)
	}
	p.priority = prio
	p.state = StateWaiting
	p.queue = q
	q.procs = append(q.procs, p)
	if s.logger != nil {
		s.logger.Debugf("pid %d sleeping on %q", p.pid, q.name)
	}
	s.Yield()
}

// Wakeup readies every process sleeping on q and severs queue membership.
// Which sleeper runs first is up to the lottery.
func (s *Scheduler) Wakeup(q *WaitQueue) {
	for _, p := range q.procs {
		p.queue = nil
		if p.state == StateWaiting {
			s.Sched(p)
		}
	}
	q.procs = q.procs[:0]
}

// ClockTick accounts one tick of the running process's quantum. Interrupt
// context: does its own masking.
func (s *Scheduler) ClockTick() {
	s.mu.Lock()
	if s.curr != s.idle && s.curr.counter > 0 {
		s.curr.counter--
	}
	s.mu.Unlock()
}

// RunnableCount returns the number of READY processes
func (s *Scheduler) RunnableCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.procs {
		if p != nil && p != s.idle && p.state == StateReady {
			n++
		}
	}
	return n
}

// Run hands the CPU away from the idle context and returns once the
// lottery comes up empty and idle is selected again. Interrupt-context
// wakeups may ready more processes after that point; callers that care
// should check RunnableCount and call Run again.
func (s *Scheduler) Run() {
	s.mu.Lock()
	for {
		s.Yield()
		if s.curr == s.idle {
			break
		}
	}
	s.mu.Unlock()
}

// Yield runs the lottery and switches to the winner. Interrupts must be
// disabled; they are still disabled when Yield returns in the caller's
// context, however much later that is.
func (s *Scheduler) Yield() {
	prev := s.curr

	// A process that still holds the CPU is yielding voluntarily: award
	// compensation for the unused part of its quantum before it goes back
	// in the pool. Blocked, stopped and dead processes get nothing.
	if prev.state == StateRunning {
		if prev != s.idle {
			prev.compensation = compensate(prev.tickets, s.quantum, prev.counter)
			if prev.compensation != 0 && s.observer != nil {
				s.observer.ObserveCompensation(prev.compensation)
			}
		}
		prev.state = StateReady
	}
	s.last = prev

	// One pass over the table: total the effective tickets of the ready
	// set and deliver expired alarms.
	var now uint64
	if s.clock != nil {
		now = s.clock.Ticks()
	}
	total := 0
	for _, p := range s.procs {
		if p == nil || p == s.idle || p.state == StateUnused {
			continue
		}
		if p.alarm != 0 && p.alarm < now {
			p.alarm = 0
			if s.signal != nil {
				s.signal(p, SigAlrm)
			}
		}
		if p.state == StateReady {
			total += p.tickets + p.compensation
		}
	}

	next := s.idle
	if total > 0 {
		winning := int(s.rand())*total/constants.RandRange + 1
		if s.observer != nil {
			s.observer.ObserveLotteryDraw(total)
		}
		acc := 0
		for _, p := range s.procs {
			if p == nil || p == s.idle || p.state != StateReady {
				continue
			}
			acc += p.tickets + p.compensation
			if acc >= winning {
				next = p
				break
			}
		}
	}

	if next == s.idle {
		next.state = StateRunning
	} else {
		next.priority = constants.PrioUser
		next.state = StateRunning
		next.counter = s.quantum
		next.tickets = -next.priority + constants.NormalizationValue - next.nice
		next.compensation = 0
	}
	s.switchTo(next)
}

// switchTo hands the CPU to next. Called with interrupts disabled. If the
// previous process is still live, its goroutine parks here until it is
// scheduled again; a ZOMBIE hands the CPU over and falls through so its
// goroutine can return.
func (s *Scheduler) switchTo(next *Proc) {
	prev := s.curr
	s.curr = next
	if next == prev {
		return
	}
	if s.observer != nil {
		s.observer.ObserveContextSwitch(next == s.idle)
	}
	if s.logger != nil {
		s.logger.Debugf("switch pid %d -> pid %d", prev.pid, next.pid)
	}
	next.resume <- struct{}{}
	if prev.state == StateZombie {
		return
	}
	s.mu.Unlock()
	<-prev.resume
	s.mu.Lock()
}

// rand advances the persistent linear congruential state and returns a
// value in [0, RandRange)
func (s *Scheduler) rand() uint32 {
	s.seed = s.seed*constants.RandMultiplier + constants.RandIncrement
	return (s.seed / 65536) % constants.RandRange
}

// compensate computes the bonus tickets for a quantum that was used only
// partially: tickets*quantum/used - tickets, truncated. All integer; the
// original floating-point formulation has no place in a kernel.
func compensate(tickets, quantum, counter int) int {
	used := quantum - counter
	if used <= 0 || used >= quantum {
		return 0
	}
	return tickets*quantum/used - tickets
}
