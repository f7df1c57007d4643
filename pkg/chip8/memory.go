package chip8

const (
	MemorySize    = 4096
	RegisterCount = 16
	KeyCount      = 16

	// FontAddress is where the sixteen 5-byte hex digit glyphs live.
	FontAddress uint16 = 0x050
	// GlyphSize is the height in bytes (and rows) of a font glyph.
	GlyphSize = 5

	// ProgramStart is the load address of every program image.
	ProgramStart uint16 = 0x200
	// MaxProgramSize is the largest image that fits between ProgramStart and the end of memory.
	MaxProgramSize = MemorySize - int(ProgramStart)

	// MaxStackDepth caps the call stack. Deep enough for any real ROM.
	MaxStackDepth = 64

	addrMask uint16 = 0x0FFF
)

var fontSet = [16 * GlyphSize]byte{
	0xF0, 0x90, 0x90, 0x90, 0xF0, // 0
	0x20, 0x60, 0x20, 0x20, 0x70, // 1
	0xF0, 0x10, 0xF0, 0x80, 0xF0, // 2
	0xF0, 0x10, 0xF0, 0x10, 0xF0, // 3
	0x90, 0x90, 0xF0, 0x10, 0x10, // 4
	0xF0, 0x80, 0xF0, 0x10, 0xF0, // 5
	0xF0, 0x80, 0xF0, 0x90, 0xF0, // 6
	0xF0, 0x10, 0x20, 0x40, 0x40, // 7
	0xF0, 0x90, 0xF0, 0x90, 0xF0, // 8
	0xF0, 0x90, 0xF0, 0x10, 0xF0, // 9
	0xF0, 0x90, 0xF0, 0x90, 0x90, // A
	0xE0, 0x90, 0xE0, 0x90, 0xE0, // B
	0xF0, 0x80, 0x80, 0x80, 0xF0, // C
	0xE0, 0x90, 0x90, 0x90, 0xE0, // D
	0xF0, 0x80, 0xF0, 0x80, 0xF0, // E
	0xF0, 0x80, 0xF0, 0x80, 0x80, // F
}

// Font returns a copy of the built-in hex digit glyphs.
func Font() []byte {
	out := make([]byte, len(fontSet))
	copy(out, fontSet[:])
	return out
}

// Memory is the flat 4 KiB address space. Addresses are masked to 12 bits,
// so reads and writes past 0xFFF wrap to the start.
type Memory [MemorySize]byte

func (m *Memory) Read(addr uint16) byte {
	return m[addr&addrMask]
}

func (m *Memory) Write(addr uint16, val byte) {
	m[addr&addrMask] = val
}

// Read16 reads a big-endian word at addr and addr+1.
func (m *Memory) Read16(addr uint16) uint16 {
	hi := uint16(m.Read(addr))
	lo := uint16(m.Read(addr + 1))
	return hi<<8 | lo
}

// Slice copies n bytes starting at addr, wrapping at the end of memory.
func (m *Memory) Slice(addr uint16, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = m.Read(addr + uint16(i))
	}
	return out
}

// reset zero-fills memory and reinstalls the font.
func (m *Memory) reset() {
	*m = Memory{}
	copy(m[FontAddress:], fontSet[:])
}
