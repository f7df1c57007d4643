//go:build !js

// Package main implements a headless CHIP-8 runner and assembler.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/k0kubun/pp/v3"
	"github.com/retroenv/retrogolib/app"
	"github.com/retroenv/retrogolib/log"

	"gochip8/pkg/asm"
	"gochip8/pkg/config"
	"gochip8/pkg/savestate"
	"gochip8/pkg/scheduler"
	"gochip8/pkg/session"
	"gochip8/pkg/utils"
)

// options are the headless-only flags.
type options struct {
	asmPath    string
	outPath    string
	frames     int
	duration   time.Duration
	dump       bool
	screenshot string
	saveState  string
	loadState  string
}

// registerDump is the subset of machine state printed by -dump.
type registerDump struct {
	ROM        string
	PC         string
	I          string
	V          []string
	Stack      []string
	DelayTimer byte
	SoundTimer byte
	Cycles     uint64
	Faults     uint64
	LitPixels  int
}

func main() {
	ctx := app.Context()

	cfg := config.Default()
	cfg.ROMDir = ""
	var opts options

	flags := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	config.RegisterFlags(flags, &cfg)
	flags.StringVar(&opts.asmPath, "asm", "", "assemble the given source file")
	flags.StringVar(&opts.outPath, "out", "", "output ROM file path (default: source with .ch8 extension)")
	flags.IntVar(&opts.frames, "frames", 0, "number of 1/60 s frames to run")
	flags.DurationVar(&opts.duration, "duration", 0, "run in real time for the given duration")
	flags.BoolVar(&opts.dump, "dump", false, "print the machine state after running")
	flags.StringVar(&opts.screenshot, "screenshot", "", "write the final display to a PNG file")
	flags.StringVar(&opts.saveState, "save-state", "", "write a save state archive after running")
	flags.StringVar(&opts.loadState, "load-state", "", "restore a save state archive before running")
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "usage: gochip8 [options] [rom file]\n\n")
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	logger := config.CreateLogger(cfg.Debug, cfg.Quiet)
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", log.Err(err))
	}

	romPath := flags.Arg(0)
	if opts.asmPath != "" {
		output, err := assembleFile(opts.asmPath, opts.outPath)
		if err != nil {
			logger.Fatal("Assembly failed", log.Err(err))
		}
		logger.Info("Assembled", log.String("output", output))
		if romPath == "" && (opts.frames > 0 || opts.duration > 0) {
			romPath = output
		}
	}

	if romPath == "" {
		if opts.asmPath != "" {
			return
		}
		fmt.Fprintln(os.Stderr, "nothing to do: provide -asm to assemble or a ROM file to run")
		flags.Usage()
		os.Exit(2)
	}

	if err := run(ctx, logger, cfg, opts, romPath); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("Operation cancelled")
			return
		}
		logger.Error("Run failed", log.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *log.Logger, cfg config.Config, opts options, romPath string) error {
	fullPath, _, err := utils.GetPathInfo(romPath)
	if err != nil {
		return err
	}

	sess, err := session.New(cfg, logger)
	if err != nil {
		return err
	}
	if err := sess.Open(fullPath); err != nil {
		return err
	}

	if opts.loadState != "" {
		meta, err := savestate.LoadFile(opts.loadState, sess.Machine)
		if err != nil {
			return fmt.Errorf("loading state: %w", err)
		}
		if meta.ROM != sess.ROM() {
			logger.Warn("Save state belongs to another ROM",
				log.String("saved", meta.ROM),
				log.String("running", sess.ROM()))
		}
		logger.Debug("State restored", log.String("rom", meta.ROM))
	}

	switch {
	case opts.frames > 0:
		runFrames(sess.Scheduler, opts.frames)
	case opts.duration > 0:
		runCtx, cancel := context.WithTimeout(ctx, opts.duration)
		err := sess.Scheduler.Run(runCtx, time.Second/scheduler.TimerHz)
		cancel()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}

	logger.Info("Run complete",
		log.String("rom", sess.ROM()),
		log.Hex("pc", sess.Machine.PC),
		log.Int("cycles", int(sess.Scheduler.Cycles())),
		log.Int("faults", int(sess.Scheduler.Faults())))

	if opts.dump {
		_, _ = pp.Println(dumpState(sess))
	}

	if opts.screenshot != "" {
		if err := sess.Machine.Display().SaveScreenshot(opts.screenshot, cfg.Foreground, cfg.Background, cfg.Scale); err != nil {
			return err
		}
		logger.Info("Screenshot written", log.String("path", opts.screenshot))
	}

	if opts.saveState != "" {
		meta := savestate.Meta{ROM: sess.ROM(), Extended: cfg.Extended, Saved: time.Now()}
		if err := savestate.SaveFile(opts.saveState, sess.Machine, meta); err != nil {
			return fmt.Errorf("saving state: %w", err)
		}
	}

	return nil
}

// runFrames advances the scheduler by n simulated frames of one timer period
// each, independent of wall-clock time.
func runFrames(s *scheduler.Scheduler, n int) {
	if !s.Running() {
		s.Start()
	}
	for i := 0; i < n; i++ {
		s.Tick(scheduler.TimerPeriod)
	}
}

func dumpState(sess *session.Session) registerDump {
	m := sess.Machine
	d := registerDump{
		ROM:        sess.ROM(),
		PC:         fmt.Sprintf("0x%03X", m.PC),
		I:          fmt.Sprintf("0x%03X", m.I),
		DelayTimer: m.DelayTimer,
		SoundTimer: m.SoundTimer,
		Cycles:     sess.Scheduler.Cycles(),
		Faults:     sess.Scheduler.Faults(),
		LitPixels:  m.Display().Lit(),
	}
	for i, v := range m.V {
		d.V = append(d.V, fmt.Sprintf("V%X=0x%02X", i, v))
	}
	for _, addr := range m.Stack {
		d.Stack = append(d.Stack, fmt.Sprintf("0x%03X", addr))
	}
	return d
}

func assembleFile(inPath, outPath string) (string, error) {
	source, err := os.ReadFile(inPath)
	if err != nil {
		return "", fmt.Errorf("failed to read input file %q: %w", inPath, err)
	}

	code, _, err := asm.Assemble(string(source))
	if err != nil {
		return "", err
	}

	output := outPath
	if output == "" {
		output = utils.ReplaceExt(inPath, ".ch8")
	}
	if err := writeBinary(output, code); err != nil {
		return "", fmt.Errorf("failed to write ROM file %q: %w", output, err)
	}
	return output, nil
}

func writeBinary(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}
