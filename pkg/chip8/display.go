package chip8

const (
	DisplayWidth  = 64
	DisplayHeight = 32
)

// Display is the 64x32 monochrome framebuffer. Coordinates wrap around both
// edges. Only the clear and draw instructions mutate it.
type Display struct {
	cells [DisplayWidth * DisplayHeight]bool
}

// Clear switches every pixel off.
func (d *Display) Clear() {
	d.cells = [DisplayWidth * DisplayHeight]bool{}
}

// Pixel reports whether the cell at (x, y) is lit. Out of range coordinates wrap.
func (d *Display) Pixel(x, y int) bool {
	return d.cells[index(x, y)]
}

// DrawSprite XORs an 8-pixel-wide sprite onto the display, one byte per row,
// most significant bit leftmost. It reports whether any lit pixel was turned off.
func (d *Display) DrawSprite(x, y int, sprite []byte) bool {
	collision := false
	for row, bits := range sprite {
		for col := 0; col < 8; col++ {
			if bits&(0x80>>col) == 0 {
				continue
			}
			i := index(x+col, y+row)
			if d.cells[i] {
				collision = true
			}
			d.cells[i] = !d.cells[i]
		}
	}
	return collision
}

// Lit counts the pixels currently switched on.
func (d *Display) Lit() int {
	n := 0
	for _, on := range d.cells {
		if on {
			n++
		}
	}
	return n
}

// Bits packs the display into DisplayWidth*DisplayHeight/8 bytes, row major, MSB first.
func (d *Display) Bits() []byte {
	out := make([]byte, len(d.cells)/8)
	for i, on := range d.cells {
		if on {
			out[i/8] |= 0x80 >> (i % 8)
		}
	}
	return out
}

// SetBits is the inverse of Bits. Short input leaves the remaining cells off.
func (d *Display) SetBits(packed []byte) {
	d.Clear()
	for i := range d.cells {
		if i/8 >= len(packed) {
			return
		}
		d.cells[i] = packed[i/8]&(0x80>>(i%8)) != 0
	}
}

func index(x, y int) int {
	x %= DisplayWidth
	if x < 0 {
		x += DisplayWidth
	}
	y %= DisplayHeight
	if y < 0 {
		y += DisplayHeight
	}
	return y*DisplayWidth + x
}
