package chip8

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"golang.org/x/image/draw"
)

var (
	DefaultForeground = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	DefaultBackground = color.RGBA{A: 0xFF}
)

// RGBA decodes the display into a DisplayWidth*DisplayHeight RGBA8888 byte
// slice, lit cells in fg and dark cells in bg.
func (d *Display) RGBA(fg, bg color.RGBA) []byte {
	pixels := make([]byte, len(d.cells)*4)
	for i, on := range d.cells {
		c := bg
		if on {
			c = fg
		}
		pixels[i*4+0] = c.R
		pixels[i*4+1] = c.G
		pixels[i*4+2] = c.B
		pixels[i*4+3] = c.A
	}
	return pixels
}

// Image returns the display as an *image.RGBA, each cell scaled to a
// scale x scale block. A scale below 1 is treated as 1.
func (d *Display) Image(fg, bg color.RGBA, scale int) *image.RGBA {
	src := &image.RGBA{
		Pix:    d.RGBA(fg, bg),
		Stride: DisplayWidth * 4,
		Rect:   image.Rect(0, 0, DisplayWidth, DisplayHeight),
	}
	if scale <= 1 {
		return src
	}

	dst := image.NewRGBA(image.Rect(0, 0, DisplayWidth*scale, DisplayHeight*scale))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// SaveScreenshot encodes the display as a PNG and writes it to filename.
func (d *Display) SaveScreenshot(filename string, fg, bg color.RGBA, scale int) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create screenshot: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, d.Image(fg, bg, scale)); err != nil {
		return fmt.Errorf("encode screenshot: %w", err)
	}
	return nil
}
