// Package config handles runtime configuration and logger setup shared by
// the front-ends.
package config

import (
	"errors"
	"flag"
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/retroenv/retrogolib/log"

	"gochip8/pkg/scheduler"
)

var ErrInvalidColor = errors.New("invalid color")

// Config holds the options common to every front-end.
type Config struct {
	Rate       int
	Scale      int
	Foreground color.RGBA
	Background color.RGBA
	ROMDir     string
	SaveDir    string
	Extended   bool
	Debug      bool
	Quiet      bool
}

// Default returns the configuration used when no flags are given.
func Default() Config {
	return Config{
		Rate:       scheduler.DefaultRate,
		Scale:      10,
		Foreground: color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF},
		Background: color.RGBA{A: 0xFF},
		ROMDir:     "roms",
		SaveDir:    "gochip8_saves",
	}
}

// RegisterFlags binds cfg to flags. Colors are parsed when the flag set is parsed.
func RegisterFlags(flags *flag.FlagSet, cfg *Config) {
	flags.IntVar(&cfg.Rate, "rate", cfg.Rate, "instructions executed per second")
	flags.IntVar(&cfg.Scale, "scale", cfg.Scale, "pixel scale factor for windows and screenshots")
	flags.Var((*colorValue)(&cfg.Foreground), "fg", "foreground color as #RRGGBB")
	flags.Var((*colorValue)(&cfg.Background), "bg", "background color as #RRGGBB")
	flags.StringVar(&cfg.ROMDir, "roms", cfg.ROMDir, "directory scanned for *.ch8 ROMs")
	flags.StringVar(&cfg.SaveDir, "saves", cfg.SaveDir, "directory save states are written to")
	flags.BoolVar(&cfg.Extended, "extended", cfg.Extended, "enable SHR/SHL/SUBN/SNE Vx,Vy/JP V0/LD Vx,K")
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debugging options for extended logging")
	flags.BoolVar(&cfg.Quiet, "q", cfg.Quiet, "perform operations quietly")
}

// Validate checks value ranges after flag parsing.
func (c Config) Validate() error {
	if c.Rate < scheduler.MinRate || c.Rate > scheduler.MaxRate {
		return fmt.Errorf("rate %d out of range %d..%d", c.Rate, scheduler.MinRate, scheduler.MaxRate)
	}
	if c.Scale < 1 || c.Scale > 64 {
		return fmt.Errorf("scale %d out of range 1..64", c.Scale)
	}
	return nil
}

// CreateLogger creates a logger with appropriate settings
func CreateLogger(debug, quiet bool) *log.Logger {
	cfg := log.DefaultConfig()
	if debug {
		cfg.Level = log.DebugLevel
	} else if quiet {
		cfg.Level = log.ErrorLevel
	}
	return log.NewWithConfig(cfg)
}

// ParseColor parses #RRGGBB or RRGGBB.
func ParseColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xFF}, nil
}

// FormatColor is the inverse of ParseColor.
func FormatColor(c color.RGBA) string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

type colorValue color.RGBA

func (c *colorValue) String() string {
	if c == nil {
		return ""
	}
	return FormatColor(color.RGBA(*c))
}

func (c *colorValue) Set(s string) error {
	parsed, err := ParseColor(s)
	if err != nil {
		return err
	}
	*c = colorValue(parsed)
	return nil
}
