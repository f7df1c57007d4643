package main

import (
	"fmt"
	"image/color"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/retroenv/retrogolib/log"

	"gochip8/pkg/chip8"
	"gochip8/pkg/config"
	"gochip8/pkg/rom"
	"gochip8/pkg/session"
)

const statusDuration = 2 * time.Second

// keypadKeys binds physical keys to the hex keypad, following config.KeyLayout.
var keypadKeys = map[ebiten.Key]byte{
	ebiten.KeyDigit1: 0x1, ebiten.KeyDigit2: 0x2, ebiten.KeyDigit3: 0x3, ebiten.KeyDigit4: 0xC,
	ebiten.KeyQ: 0x4, ebiten.KeyW: 0x5, ebiten.KeyE: 0x6, ebiten.KeyR: 0xD,
	ebiten.KeyA: 0x7, ebiten.KeyS: 0x8, ebiten.KeyD: 0x9, ebiten.KeyF: 0xE,
	ebiten.KeyZ: 0xA, ebiten.KeyX: 0x0, ebiten.KeyC: 0xB, ebiten.KeyV: 0xF,
}

type Game struct {
	sess   *session.Session
	fg, bg color.RGBA
	scale  int
	logger *log.Logger

	screenImg *ebiten.Image // reused 64x32 canvas

	status      string
	statusUntil time.Time
}

func NewGame(sess *session.Session, cfg config.Config, logger *log.Logger) *Game {
	return &Game{
		sess:   sess,
		fg:     cfg.Foreground,
		bg:     cfg.Background,
		scale:  cfg.Scale,
		logger: logger,
	}
}

func (g *Game) Update() error {
	keypad := g.sess.Machine.Keypad()
	for key, hex := range keypadKeys {
		keypad.Set(hex, ebiten.IsKeyPressed(key))
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}
	g.handleControls()

	g.sess.Scheduler.Update()
	return nil
}

func (g *Game) handleControls() {
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyP):
		if g.sess.TogglePause() {
			g.setStatus("Paused")
		} else {
			g.setStatus("Resumed")
		}

	case inpututil.IsKeyJustPressed(ebiten.KeyF5):
		g.report("Reset", g.sess.Reload())

	case inpututil.IsKeyJustPressed(ebiten.KeyF6):
		g.switchROM(g.sess.PrevROM())

	case inpututil.IsKeyJustPressed(ebiten.KeyF7):
		g.switchROM(g.sess.NextROM())

	case inpututil.IsKeyJustPressed(ebiten.KeyF2):
		g.report(fmt.Sprintf("Saved slot %d", g.sess.Slot()), g.sess.SaveSlot())

	case inpututil.IsKeyJustPressed(ebiten.KeyF3):
		g.report(fmt.Sprintf("Loaded slot %d", g.sess.Slot()), g.sess.LoadSlot())

	case inpututil.IsKeyJustPressed(ebiten.KeyF4):
		g.setStatus(fmt.Sprintf("Slot %d", g.sess.NextSlot()))

	case inpututil.IsKeyJustPressed(ebiten.KeyF12):
		path, err := g.sess.Screenshot(".")
		g.report("Screenshot "+path, err)

	case inpututil.IsKeyJustPressed(ebiten.KeyEqual), inpututil.IsKeyJustPressed(ebiten.KeyNumpadAdd):
		g.setStatus(fmt.Sprintf("%d ips", g.sess.AdjustRate(1)))

	case inpututil.IsKeyJustPressed(ebiten.KeyMinus), inpututil.IsKeyJustPressed(ebiten.KeyNumpadSubtract):
		g.setStatus(fmt.Sprintf("%d ips", g.sess.AdjustRate(-1)))
	}
}

func (g *Game) switchROM(err error) {
	if err == nil {
		ebiten.SetWindowTitle(windowTitle(g.sess.ROM()))
	}
	g.report(rom.Title(g.sess.ROM()), err)
}

func (g *Game) report(msg string, err error) {
	if err != nil {
		g.logger.Error("Action failed", log.Err(err))
		g.setStatus(err.Error())
		return
	}
	g.setStatus(msg)
}

func (g *Game) setStatus(msg string) {
	g.status = msg
	g.statusUntil = time.Now().Add(statusDuration)
}

func (g *Game) Draw(screen *ebiten.Image) {
	if g.screenImg == nil {
		g.screenImg = ebiten.NewImage(chip8.DisplayWidth, chip8.DisplayHeight)
	}

	g.screenImg.WritePixels(g.sess.Machine.Display().RGBA(g.fg, g.bg))

	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(float64(g.scale), float64(g.scale))
	screen.DrawImage(g.screenImg, op)

	if overlay := g.overlay(time.Now()); overlay != "" {
		ebitenutil.DebugPrint(screen, overlay)
	}
}

// overlay returns the status text shown in the top left corner.
func (g *Game) overlay(now time.Time) string {
	text := ""
	if g.sess.Scheduler.Paused() {
		text = "PAUSED"
	}
	if g.status != "" && now.Before(g.statusUntil) {
		if text != "" {
			text += "\n"
		}
		text += g.status
	}
	return text
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return chip8.DisplayWidth * g.scale, chip8.DisplayHeight * g.scale
}

func windowTitle(romName string) string {
	if romName == "" {
		return "GoChip8"
	}
	return "GoChip8 - " + rom.Title(romName)
}
