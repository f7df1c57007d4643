// Package scheduler drives a machine at a target instruction rate while
// decaying its timers at a fixed 60 Hz, independent of how many instructions
// run per tick.
package scheduler

import (
	"context"
	"time"

	"github.com/retroenv/retrogolib/log"
)

const (
	// DefaultRate is the default number of instructions executed per second.
	DefaultRate = 600
	// TimerHz is the fixed delay/sound timer cadence.
	TimerHz = 60
	// TimerPeriod is the interval between two timer decrements.
	TimerPeriod = time.Second / TimerHz
	// MaxCyclesPerTick bounds the burst after a long stall, e.g. a dragged window.
	MaxCyclesPerTick = 10000

	MinRate = 1
	MaxRate = 100000
)

// Stepper is the machine being driven.
type Stepper interface {
	Step() error
	TickTimers()
}

// Resetter is implemented by machines that can return to their initial state.
type Resetter interface {
	Reset()
}

// Clock supplies wall-clock time. Tests inject a fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Scheduler is not safe for concurrent use; tick it from a single goroutine.
type Scheduler struct {
	machine Stepper
	clock   Clock
	logger  *log.Logger

	rate    int
	running bool
	paused  bool

	last     time.Time
	timerAcc time.Duration

	cycles uint64
	faults uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithRate(ips int) Option {
	return func(s *Scheduler) { s.rate = clampRate(ips) }
}

func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// New creates a stopped scheduler for m.
func New(m Stepper, opts ...Option) *Scheduler {
	s := &Scheduler{
		machine: m,
		clock:   systemClock{},
		rate:    DefaultRate,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		cfg := log.DefaultConfig()
		cfg.Level = log.ErrorLevel
		s.logger = log.NewWithConfig(cfg)
	}
	return s
}

// Start begins accepting ticks. The elapsed-time baseline is reset so the
// time spent stopped is not replayed.
func (s *Scheduler) Start() {
	s.running = true
	s.last = s.clock.Now()
	s.timerAcc = 0
}

// Stop makes further ticks no-ops.
func (s *Scheduler) Stop() {
	s.running = false
}

func (s *Scheduler) Running() bool { return s.running }

// SetPaused suspends instruction execution. Timers keep decaying at their
// fixed cadence and no instruction backlog builds up while paused.
func (s *Scheduler) SetPaused(paused bool) {
	s.paused = paused
}

func (s *Scheduler) Paused() bool { return s.paused }

// SetRate changes the target instructions per second, clamped to [MinRate, MaxRate].
func (s *Scheduler) SetRate(ips int) {
	s.rate = clampRate(ips)
}

func (s *Scheduler) Rate() int { return s.rate }

// Cycles returns the number of instructions executed since creation.
func (s *Scheduler) Cycles() uint64 { return s.cycles }

// Faults returns the number of steps that reported an error.
func (s *Scheduler) Faults() uint64 { return s.faults }

// Reset clears the pause flag and timer backlog and resets the machine if it
// supports it.
func (s *Scheduler) Reset() {
	s.paused = false
	s.timerAcc = 0
	s.last = s.clock.Now()
	if r, ok := s.machine.(Resetter); ok {
		r.Reset()
	}
}

// Update reads the clock and ticks with the time elapsed since the previous
// update (or since Start).
func (s *Scheduler) Update() int {
	now := s.clock.Now()
	if s.last.IsZero() {
		s.last = now
	}
	elapsed := now.Sub(s.last)
	s.last = now
	return s.Tick(elapsed)
}

// Tick runs max(1, floor(rate*elapsed)) instructions unless paused and then
// decrements the timers once for every whole TimerPeriod accumulated. It
// returns the number of instructions executed.
func (s *Scheduler) Tick(elapsed time.Duration) int {
	if !s.running {
		return 0
	}
	if elapsed < 0 {
		elapsed = 0
	}

	n := s.execute(elapsed)

	s.timerAcc += elapsed
	for s.timerAcc >= TimerPeriod {
		s.machine.TickTimers()
		s.timerAcc -= TimerPeriod
	}

	return n
}

func (s *Scheduler) execute(elapsed time.Duration) int {
	if s.paused {
		return 0
	}

	n := int(int64(s.rate) * int64(elapsed) / int64(time.Second))
	if n < 1 {
		n = 1
	}
	if n > MaxCyclesPerTick {
		n = MaxCyclesPerTick
	}

	for i := 0; i < n; i++ {
		if err := s.machine.Step(); err != nil {
			s.faults++
			s.logger.Debug("Instruction fault", log.Err(err))
		}
	}
	s.cycles += uint64(n)
	return n
}

// Run starts the scheduler and calls Update every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if !s.running {
		s.Start()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Update()
		case <-ctx.Done():
			s.Stop()
			return ctx.Err()
		}
	}
}

func clampRate(ips int) int {
	if ips < MinRate {
		return MinRate
	}
	if ips > MaxRate {
		return MaxRate
	}
	return ips
}
