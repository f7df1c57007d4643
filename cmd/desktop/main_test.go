package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/retroenv/retrogolib/assert"
	"github.com/retroenv/retrogolib/log"

	"gochip8/pkg/chip8"
	"gochip8/pkg/config"
	"gochip8/pkg/session"
)

func TestKeypadKeysCoverLayout(t *testing.T) {
	seen := map[byte]bool{}
	for _, hex := range keypadKeys {
		seen[hex] = true
	}
	assert.Equal(t, 16, len(seen))
	assert.Equal(t, len(config.KeyLayout), len(keypadKeys))
}

func TestGameWiringIntegration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spin.ch8")
	assert.NoError(t, os.WriteFile(path, chip8.Encode(chip8.OpJP(0x200)), 0644))

	cfg := config.Default()
	cfg.ROMDir = ""
	cfg.SaveDir = ""
	cfg.Scale = 3

	sess, err := session.New(cfg, log.NewTestLogger(t))
	assert.NoError(t, err)
	assert.NoError(t, sess.Open(path))

	game := NewGame(sess, cfg, log.NewTestLogger(t))
	w, h := game.Layout(0, 0)
	assert.Equal(t, 192, w)
	assert.Equal(t, 96, h)

	now := time.Now()
	assert.Equal(t, "", game.overlay(now))

	sess.TogglePause()
	game.report("ignored", errors.New("boom"))
	assert.Equal(t, "PAUSED\nboom", game.overlay(now))
	assert.Equal(t, "PAUSED", game.overlay(now.Add(statusDuration+time.Second)))

	assert.Equal(t, "GoChip8 - spin", windowTitle(sess.ROM()))
	assert.Equal(t, "GoChip8", windowTitle(""))
}
