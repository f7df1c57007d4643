// Package session ties a machine, its scheduler, the ROM library and the
// save-state store together behind the actions every front-end exposes.
package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/retroenv/retrogolib/log"

	"gochip8/pkg/chip8"
	"gochip8/pkg/config"
	"gochip8/pkg/rom"
	"gochip8/pkg/savestate"
	"gochip8/pkg/scheduler"
)

// RateStep is the amount AdjustRate changes the rate by per call.
const RateStep = 100

var ErrNoROM = errors.New("no rom loaded")

type Session struct {
	Machine   *chip8.Machine
	Scheduler *scheduler.Scheduler
	Library   *rom.Library
	Saves     *savestate.Store

	cfg    config.Config
	logger *log.Logger

	rom  string
	slot int
}

// Option configures a Session.
type Option func(*options)

type options struct {
	clock  scheduler.Clock
	random func() byte
	keypad *chip8.Keypad
}

// WithClock injects the scheduler clock.
func WithClock(c scheduler.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithRandom injects the RND byte source.
func WithRandom(fn func() byte) Option {
	return func(o *options) { o.random = fn }
}

// WithKeypad shares a keypad written by an input goroutine.
func WithKeypad(k *chip8.Keypad) Option {
	return func(o *options) { o.keypad = k }
}

// New creates a session. The ROM directory and save directory are scanned
// but no program is loaded yet.
func New(cfg config.Config, logger *log.Logger, opts ...Option) (*Session, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	machineOpts := []chip8.Option{
		chip8.WithExtended(cfg.Extended),
		chip8.WithLogger(logger),
	}
	if o.random != nil {
		machineOpts = append(machineOpts, chip8.WithRandom(o.random))
	}
	if o.keypad != nil {
		machineOpts = append(machineOpts, chip8.WithKeypad(o.keypad))
	}
	machine := chip8.New(machineOpts...)

	schedOpts := []scheduler.Option{
		scheduler.WithRate(cfg.Rate),
		scheduler.WithLogger(logger),
	}
	if o.clock != nil {
		schedOpts = append(schedOpts, scheduler.WithClock(o.clock))
	}

	s := &Session{
		Machine:   machine,
		Scheduler: scheduler.New(machine, schedOpts...),
		Library:   rom.NewLibrary(),
		Saves:     savestate.NewStore(),
		cfg:       cfg,
		logger:    logger,
	}

	if cfg.ROMDir != "" {
		skipped, err := s.Library.LoadFrom(cfg.ROMDir)
		if err != nil {
			return nil, err
		}
		for _, name := range skipped {
			logger.Warn("Skipping ROM", log.String("name", name))
		}
	}
	if cfg.SaveDir != "" {
		if err := s.Saves.LoadFrom(cfg.SaveDir); err != nil {
			return nil, fmt.Errorf("loading save states: %w", err)
		}
	}

	return s, nil
}

// ROM returns the name of the running program, empty if none.
func (s *Session) ROM() string { return s.rom }

// Slot returns the selected save slot number.
func (s *Session) Slot() int { return s.slot }

// Open reads a ROM from the host, adds it to the library and runs it.
func (s *Session) Open(path string) error {
	data, err := rom.ReadFile(path)
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	if err := s.Library.Add(name, data); err != nil {
		return err
	}
	return s.Select(name)
}

// Select runs the library entry called name.
func (s *Session) Select(name string) error {
	entry, err := s.Library.Select(name)
	if err != nil {
		return err
	}
	return s.run(entry)
}

// RunCurrent runs the library entry under the cursor.
func (s *Session) RunCurrent() error {
	entry, err := s.Library.Current()
	if err != nil {
		return err
	}
	return s.run(entry)
}

// NextROM runs the following library entry, wrapping around.
func (s *Session) NextROM() error {
	entry, err := s.Library.Next()
	if err != nil {
		return err
	}
	return s.run(entry)
}

// PrevROM runs the preceding library entry, wrapping around.
func (s *Session) PrevROM() error {
	entry, err := s.Library.Prev()
	if err != nil {
		return err
	}
	return s.run(entry)
}

// Reload resets the machine and reloads the running program.
func (s *Session) Reload() error {
	if s.rom == "" {
		return ErrNoROM
	}
	entry, err := s.Library.Get(s.rom)
	if err != nil {
		return err
	}
	return s.run(entry)
}

func (s *Session) run(entry *rom.Entry) error {
	s.Scheduler.Reset()
	if err := s.Machine.LoadProgram(entry.Data); err != nil {
		return err
	}
	s.rom = entry.Name
	s.Scheduler.Start()

	s.logger.Info("Running ROM",
		log.String("name", entry.Name),
		log.Int("size", len(entry.Data)))
	return nil
}

// TogglePause flips the scheduler pause state and returns the new state.
func (s *Session) TogglePause() bool {
	paused := !s.Scheduler.Paused()
	s.Scheduler.SetPaused(paused)
	return paused
}

// AdjustRate changes the instruction rate by steps*RateStep and returns the result.
func (s *Session) AdjustRate(steps int) int {
	s.Scheduler.SetRate(s.Scheduler.Rate() + steps*RateStep)
	return s.Scheduler.Rate()
}

// NextSlot selects the following save slot, wrapping after the last.
func (s *Session) NextSlot() int {
	s.slot = (s.slot + 1) % savestate.SlotCount
	return s.slot
}

// SaveSlot snapshots the machine into the selected slot.
func (s *Session) SaveSlot() error {
	if s.rom == "" {
		return ErrNoROM
	}
	name, err := savestate.SlotName(s.rom, s.slot)
	if err != nil {
		return err
	}
	meta := savestate.Meta{ROM: s.rom, Extended: s.Machine.Extended(), Saved: time.Now()}
	if err := s.Saves.Save(name, s.Machine, meta); err != nil {
		return fmt.Errorf("saving slot %d: %w", s.slot, err)
	}

	s.logger.Debug("State saved", log.String("slot", name))
	return nil
}

// LoadSlot restores the selected slot. The scheduler baseline is reset so
// the restore does not count as elapsed time.
func (s *Session) LoadSlot() error {
	if s.rom == "" {
		return ErrNoROM
	}
	name, err := savestate.SlotName(s.rom, s.slot)
	if err != nil {
		return err
	}
	meta, err := s.Saves.Load(name, s.Machine)
	if err != nil {
		return fmt.Errorf("loading slot %d: %w", s.slot, err)
	}
	if meta.ROM != s.rom {
		s.logger.Warn("Save state belongs to another ROM",
			log.String("slot", name),
			log.String("saved", meta.ROM),
			log.String("running", s.rom))
	}
	if s.Scheduler.Running() {
		s.Scheduler.Start()
	}

	s.logger.Debug("State loaded", log.String("slot", name))
	return nil
}

// Screenshot writes the display as a PNG into dir and returns the file path.
func (s *Session) Screenshot(dir string) (string, error) {
	base := "screenshot"
	if s.rom != "" {
		base = rom.Title(s.rom)
	}
	name := fmt.Sprintf("%s_%s.png", base, time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)

	if err := s.Machine.Display().SaveScreenshot(path, s.cfg.Foreground, s.cfg.Background, s.cfg.Scale); err != nil {
		return "", err
	}
	return path, nil
}

// Flush persists dirty save slots to the configured save directory.
func (s *Session) Flush() error {
	if s.cfg.SaveDir == "" || !s.Saves.Dirty() {
		return nil
	}
	return s.Saves.PersistTo(s.cfg.SaveDir)
}

// StartSyncer flushes the save store every interval until stop is closed.
func (s *Session) StartSyncer(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				s.logger.Error("Flushing save states failed", log.Err(err))
			}
		case <-stop:
			return
		}
	}
}
