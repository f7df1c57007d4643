package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/retroenv/retrogolib/log"

	"gochip8/pkg/chip8"
	"gochip8/pkg/config"
	"gochip8/pkg/session"
	"gochip8/pkg/utils"
)

const (
	frameInterval = time.Second / 60
	syncInterval  = 3 * time.Second
)

func main() {
	cfg := config.Default()
	flags := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	config.RegisterFlags(flags, &cfg)
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "usage: console [options] [rom file]\n\n")
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	// The terminal owns stdout, keep the log to errors.
	logger := config.CreateLogger(cfg.Debug, true)
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", log.Err(err))
	}

	keypad := &chip8.Keypad{}
	sess, err := session.New(cfg, logger, session.WithKeypad(keypad))
	if err != nil {
		logger.Fatal("Creating session failed", log.Err(err))
	}

	if flags.NArg() > 0 {
		fullPath, _, err := utils.GetPathInfo(flags.Arg(0))
		if err != nil {
			logger.Fatal("Resolving ROM path failed", log.Err(err))
		}
		if err := sess.Open(fullPath); err != nil {
			logger.Fatal("Loading ROM failed", log.String("path", fullPath), log.Err(err))
		}
	} else if err := sess.RunCurrent(); err != nil {
		logger.Fatal("No ROM given and none found", log.String("dir", cfg.ROMDir), log.Err(err))
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		logger.Fatal("Creating terminal screen failed", log.Err(err))
	}
	if err := screen.Init(); err != nil {
		logger.Fatal("Initializing terminal screen failed", log.Err(err))
	}

	// Start background save syncer (flushes dirty save slots to the host every 3 s)
	stopSyncer := make(chan struct{})
	go sess.StartSyncer(syncInterval, stopSyncer)

	term := newTerminal(sess, screen, cfg)
	term.run(frameInterval)
	screen.Fini()

	// Graceful shutdown: stop syncer and do a final flush
	close(stopSyncer)
	if err := sess.Flush(); err != nil {
		logger.Error("Flushing save states failed", log.Err(err))
	}
}
