package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/retroenv/retrogolib/log"

	"gochip8/pkg/config"
	"gochip8/pkg/session"
	"gochip8/pkg/utils"
)

const syncInterval = 3 * time.Second

func main() {
	cfg := config.Default()
	flags := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	config.RegisterFlags(flags, &cfg)
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "usage: desktop [options] [rom file]\n\n")
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	logger := config.CreateLogger(cfg.Debug, cfg.Quiet)
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", log.Err(err))
	}

	sess, err := session.New(cfg, logger)
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

	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSize(64*cfg.Scale, 32*cfg.Scale)
	ebiten.SetWindowTitle(windowTitle(sess.ROM()))

	// Start background save syncer (flushes dirty save slots to the host every 3 s)
	stopSyncer := make(chan struct{})
	go sess.StartSyncer(syncInterval, stopSyncer)

	game := NewGame(sess, cfg, logger)
	if err := ebiten.RunGame(game); err != nil && !errors.Is(err, ebiten.Termination) {
		logger.Error("Game loop failed", log.Err(err))
	}

	// Graceful shutdown: stop syncer and do a final flush
	close(stopSyncer)
	if err := sess.Flush(); err != nil {
		logger.Error("Flushing save states failed", log.Err(err))
	}
}
