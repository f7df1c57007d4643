package main

import (
	"fmt"
	"image/color"
	"time"

	"github.com/gdamore/tcell/v2"

	"gochip8/pkg/chip8"
	"gochip8/pkg/config"
	"gochip8/pkg/rom"
	"gochip8/pkg/session"
)

// keyHold is how long a key counts as down after its last event. Terminals
// report presses and autorepeat but no releases.
const keyHold = 150 * time.Millisecond

// statusRow is the first terminal row below the half-block display.
const statusRow = chip8.DisplayHeight / 2

type terminal struct {
	sess   *session.Session
	screen tcell.Screen
	fg, bg tcell.Color

	release [chip8.KeyCount]time.Time
	status  string
	quit    bool
}

func newTerminal(sess *session.Session, screen tcell.Screen, cfg config.Config) *terminal {
	return &terminal{
		sess:   sess,
		screen: screen,
		fg:     tcellColor(cfg.Foreground),
		bg:     tcellColor(cfg.Background),
	}
}

func tcellColor(c color.RGBA) tcell.Color {
	return tcell.NewRGBColor(int32(c.R), int32(c.G), int32(c.B))
}

// run polls terminal events on a separate goroutine and drives the
// scheduler once per frame until the user quits.
func (t *terminal) run(interval time.Duration) {
	events := make(chan tcell.Event, 64)
	quit := make(chan struct{})
	go t.screen.ChannelEvents(events, quit)
	defer close(quit)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for !t.quit {
		select {
		case ev := <-events:
			t.handleEvent(ev, time.Now())
		case now := <-ticker.C:
			t.releaseExpired(now)
			t.sess.Scheduler.Update()
			t.draw()
		}
	}
}

func (t *terminal) handleEvent(ev tcell.Event, now time.Time) {
	switch ev := ev.(type) {
	case *tcell.EventResize:
		t.screen.Sync()
	case *tcell.EventKey:
		t.handleKey(ev, now)
	}
}

func (t *terminal) handleKey(ev *tcell.EventKey, now time.Time) {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		t.quit = true
	case tcell.KeyF5:
		t.report("Reset", t.sess.Reload())
	case tcell.KeyF6:
		t.switchROM(t.sess.PrevROM())
	case tcell.KeyF7:
		t.switchROM(t.sess.NextROM())
	case tcell.KeyF2:
		t.report(fmt.Sprintf("Saved slot %d", t.sess.Slot()), t.sess.SaveSlot())
	case tcell.KeyF3:
		t.report(fmt.Sprintf("Loaded slot %d", t.sess.Slot()), t.sess.LoadSlot())
	case tcell.KeyF4:
		t.status = fmt.Sprintf("Slot %d", t.sess.NextSlot())
	case tcell.KeyF12:
		path, err := t.sess.Screenshot(".")
		t.report("Screenshot "+path, err)
	case tcell.KeyRune:
		t.handleRune(ev.Rune(), now)
	}
}

// switchROM reports a library move once it has happened, so the status
// names the ROM now running.
func (t *terminal) switchROM(err error) {
	t.report(rom.Title(t.sess.ROM()), err)
}

func (t *terminal) handleRune(r rune, now time.Time) {
	if key, ok := config.KeyFor(r); ok {
		t.sess.Machine.Keypad().Press(key)
		t.release[key] = now.Add(keyHold)
		return
	}

	switch r {
	case 'p', 'P':
		if t.sess.TogglePause() {
			t.status = "Paused"
		} else {
			t.status = "Resumed"
		}
	case '+', '=':
		t.status = fmt.Sprintf("%d ips", t.sess.AdjustRate(1))
	case '-':
		t.status = fmt.Sprintf("%d ips", t.sess.AdjustRate(-1))
	}
}

// releaseExpired lifts keys whose hold time has run out.
func (t *terminal) releaseExpired(now time.Time) {
	keypad := t.sess.Machine.Keypad()
	for key, deadline := range t.release {
		if !deadline.IsZero() && !now.Before(deadline) {
			keypad.Release(byte(key))
			t.release[key] = time.Time{}
		}
	}
}

func (t *terminal) report(msg string, err error) {
	if err != nil {
		t.status = err.Error()
		return
	}
	t.status = msg
}

// draw renders two display rows per terminal row using upper half blocks:
// the foreground paints the top pixel and the background the bottom one.
func (t *terminal) draw() {
	display := t.sess.Machine.Display()
	for row := 0; row < chip8.DisplayHeight/2; row++ {
		for x := 0; x < chip8.DisplayWidth; x++ {
			top, bottom := t.bg, t.bg
			if display.Pixel(x, row*2) {
				top = t.fg
			}
			if display.Pixel(x, row*2+1) {
				bottom = t.fg
			}
			style := tcell.StyleDefault.Foreground(top).Background(bottom)
			t.screen.SetContent(x, row, '▀', nil, style)
		}
	}

	line := fmt.Sprintf("%s  %d ips", rom.Title(t.sess.ROM()), t.sess.Scheduler.Rate())
	if t.sess.Scheduler.Paused() {
		line += "  PAUSED"
	}
	if t.sess.Machine.SoundActive() {
		line += "  BEEP"
	}
	t.drawText(0, statusRow, line)
	t.drawText(0, statusRow+1, t.status)
	t.screen.Show()
}

func (t *terminal) drawText(x, y int, text string) {
	width, _ := t.screen.Size()
	col := x
	for _, r := range text {
		if col >= width {
			break
		}
		t.screen.SetContent(col, y, r, nil, tcell.StyleDefault)
		col++
	}
	for ; col < width; col++ {
		t.screen.SetContent(col, y, ' ', nil, tcell.StyleDefault)
	}
}
