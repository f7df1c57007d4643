package chip8

import (
	"errors"
	"testing"

	"github.com/retroenv/retrogolib/assert"
	"github.com/retroenv/retrogolib/log"
)

func newTestMachine(t *testing.T, opts ...Option) *Machine {
	t.Helper()
	opts = append([]Option{WithLogger(log.NewTestLogger(t))}, opts...)
	return New(opts...)
}

// loadProgram writes opcodes at ProgramStart and rewinds PC.
func loadProgram(t *testing.T, m *Machine, ops ...Opcode) {
	t.Helper()
	assert.NoError(t, m.LoadProgram(Encode(ops...)))
}

// run steps the machine n times, failing the test on any fault.
func run(t *testing.T, m *Machine, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		assert.NoError(t, m.Step())
	}
}

func TestNewMachine(t *testing.T) {
	m := newTestMachine(t)

	assert.Equal(t, ProgramStart, m.PC)
	assert.Equal(t, uint16(0), m.I)
	assert.Equal(t, 0, len(m.Stack))
	assert.Equal(t, 0, m.Display().Lit())

	for i, b := range fontSet {
		if got := m.Memory[int(FontAddress)+i]; got != b {
			t.Errorf("font byte %d: expected 0x%02X, got 0x%02X", i, b, got)
		}
	}
	for addr := 0; addr < int(FontAddress); addr++ {
		if m.Memory[addr] != 0 {
			t.Errorf("memory[0x%03X]: expected 0, got 0x%02X", addr, m.Memory[addr])
		}
	}
	for addr := int(FontAddress) + len(fontSet); addr < MemorySize; addr++ {
		if m.Memory[addr] != 0 {
			t.Errorf("memory[0x%03X]: expected 0, got 0x%02X", addr, m.Memory[addr])
		}
	}
}

func TestThreeInstructionScenario(t *testing.T) {
	m := newTestMachine(t)
	m.Memory[0x200], m.Memory[0x201] = 0x60, 0x05
	m.Memory[0x202], m.Memory[0x203] = 0x61, 0x03
	m.Memory[0x204], m.Memory[0x205] = 0x80, 0x14

	run(t, m, 3)

	assert.Equal(t, byte(8), m.V[0])
	assert.Equal(t, byte(3), m.V[1])
	assert.Equal(t, byte(0), m.V[VF])
	assert.Equal(t, uint16(0x206), m.PC)
}

func TestLoadProgram(t *testing.T) {
	m := newTestMachine(t)
	m.V[3] = 7
	m.DelayTimer = 9
	m.Memory[0x300] = 0xAA

	assert.NoError(t, m.LoadProgram([]byte{0x12, 0x34}))

	assert.Equal(t, byte(0x12), m.Memory[0x200])
	assert.Equal(t, byte(0x34), m.Memory[0x201])
	assert.Equal(t, byte(0), m.Memory[0x300], "program memory is zero-filled")
	assert.Equal(t, ProgramStart, m.PC)
	assert.Equal(t, byte(7), m.V[3], "registers survive a load")
	assert.Equal(t, byte(9), m.DelayTimer, "timers survive a load")
}

func TestLoadProgramTooLarge(t *testing.T) {
	m := newTestMachine(t)
	m.Memory[0x200] = 0x55

	err := m.LoadProgram(make([]byte, MaxProgramSize+1))
	assert.True(t, errors.Is(err, ErrProgramTooLarge))
	assert.Equal(t, byte(0x55), m.Memory[0x200], "memory untouched on rejection")

	assert.NoError(t, m.LoadProgram(make([]byte, MaxProgramSize)))
}

func TestResetRestoresInitialState(t *testing.T) {
	fresh := newTestMachine(t)
	m := newTestMachine(t)

	loadProgram(t, m, OpLDByte(0, 0x42), OpLDI(0x050), OpDRW(0, 0, 5), OpCALL(0x300))
	run(t, m, 4)
	m.DelayTimer = 30
	m.SoundTimer = 12
	m.Memory[FontAddress] = 0x00

	m.Reset()

	if m.Memory != fresh.Memory {
		t.Error("memory after reset differs from a fresh machine")
	}
	assert.Equal(t, fresh.V, m.V)
	assert.Equal(t, fresh.I, m.I)
	assert.Equal(t, fresh.PC, m.PC)
	assert.Equal(t, 0, len(m.Stack))
	assert.Equal(t, byte(0), m.DelayTimer)
	assert.Equal(t, byte(0), m.SoundTimer)
	assert.Equal(t, 0, m.Display().Lit())
	assert.Equal(t, byte(0xF0), m.Memory[FontAddress], "font reinstalled")
}

func TestAddByteWraps(t *testing.T) {
	tests := []struct {
		start, add, want byte
	}{
		{0, 0, 0},
		{1, 2, 3},
		{0xFF, 1, 0},
		{0x80, 0x80, 0},
		{0xF0, 0x20, 0x10},
	}
	for _, tc := range tests {
		m := newTestMachine(t)
		m.V[VF] = 0x5A
		m.V[4] = tc.start
		loadProgram(t, m, OpADDByte(4, tc.add))
		run(t, m, 1)
		if m.V[4] != tc.want {
			t.Errorf("ADD V4, 0x%02X from 0x%02X: expected 0x%02X, got 0x%02X", tc.add, tc.start, tc.want, m.V[4])
		}
		if m.V[VF] != 0x5A {
			t.Errorf("ADD Vx, byte must not touch VF: got 0x%02X", m.V[VF])
		}
	}
}

func TestAddRegisterCarry(t *testing.T) {
	for a := 0; a < 256; a += 17 {
		for b := 0; b < 256; b += 13 {
			m := newTestMachine(t)
			m.V[1] = byte(a)
			m.V[2] = byte(b)
			loadProgram(t, m, OpADDReg(1, 2))
			run(t, m, 1)

			wantCarry := byte(0)
			if a+b > 255 {
				wantCarry = 1
			}
			if m.V[1] != byte(a+b) {
				t.Errorf("ADD %d+%d: expected %d, got %d", a, b, byte(a+b), m.V[1])
			}
			if m.V[VF] != wantCarry {
				t.Errorf("ADD %d+%d: expected VF=%d, got %d", a, b, wantCarry, m.V[VF])
			}
		}
	}
}

func TestSubRegisterBorrow(t *testing.T) {
	for a := 0; a < 256; a += 15 {
		for b := 0; b < 256; b += 11 {
			m := newTestMachine(t)
			m.V[5] = byte(a)
			m.V[6] = byte(b)
			loadProgram(t, m, OpSUB(5, 6))
			run(t, m, 1)

			wantFlag := byte(0)
			if a > b {
				wantFlag = 1
			}
			if m.V[5] != byte(a-b) {
				t.Errorf("SUB %d-%d: expected %d, got %d", a, b, byte(a-b), m.V[5])
			}
			if m.V[VF] != wantFlag {
				t.Errorf("SUB %d-%d: expected VF=%d, got %d", a, b, wantFlag, m.V[VF])
			}
		}
	}
}

func TestSubEqualOperandsClearsFlag(t *testing.T) {
	m := newTestMachine(t)
	m.V[0] = 9
	m.V[1] = 9
	loadProgram(t, m, OpSUB(0, 1))
	run(t, m, 1)
	assert.Equal(t, byte(0), m.V[0])
	assert.Equal(t, byte(0), m.V[VF])
}

func TestFlagRegisterAsDestination(t *testing.T) {
	m := newTestMachine(t)
	m.V[VF] = 0xFF
	m.V[1] = 0x03
	loadProgram(t, m, OpADDReg(VF, 1))
	run(t, m, 1)
	assert.Equal(t, byte(0x02), m.V[VF], "sum overwrites the carry when VF is the destination")
}

func TestLogicOps(t *testing.T) {
	tests := []struct {
		name string
		op   Opcode
		want byte
	}{
		{"LD", OpLDReg(0, 1), 0x0F},
		{"OR", OpOR(0, 1), 0xFF},
		{"AND", OpAND(0, 1), 0x00},
		{"XOR", OpXOR(0, 1), 0xFF},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestMachine(t)
			m.V[0] = 0xF0
			m.V[1] = 0x0F
			loadProgram(t, m, tc.op)
			run(t, m, 1)
			assert.Equal(t, tc.want, m.V[0])
			assert.Equal(t, byte(0x0F), m.V[1])
		})
	}
}

func TestSkips(t *testing.T) {
	tests := []struct {
		name  string
		v0    byte
		v1    byte
		op    Opcode
		skips bool
	}{
		{"SE byte equal", 5, 0, OpSEByte(0, 5), true},
		{"SE byte differ", 5, 0, OpSEByte(0, 6), false},
		{"SNE byte equal", 5, 0, OpSNEByte(0, 5), false},
		{"SNE byte differ", 5, 0, OpSNEByte(0, 6), true},
		{"SE reg equal", 7, 7, OpSEReg(0, 1), true},
		{"SE reg differ", 7, 8, OpSEReg(0, 1), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestMachine(t)
			m.V[0] = tc.v0
			m.V[1] = tc.v1
			loadProgram(t, m, tc.op)
			run(t, m, 1)
			want := uint16(0x202)
			if tc.skips {
				want = 0x204
			}
			assert.Equal(t, want, m.PC)
		})
	}
}

func TestJumpAndCall(t *testing.T) {
	m := newTestMachine(t)
	loadProgram(t, m, OpJP(0x208))
	run(t, m, 1)
	assert.Equal(t, uint16(0x208), m.PC)

	m = newTestMachine(t)
	loadProgram(t, m, OpLDByte(0, 1), OpCALL(0x300))
	m.Memory[0x300], m.Memory[0x301] = 0x00, 0xEE
	run(t, m, 2)
	assert.Equal(t, uint16(0x300), m.PC)
	assert.Equal(t, 1, len(m.Stack))
	assert.Equal(t, uint16(0x204), m.Stack[0])

	run(t, m, 1)
	assert.Equal(t, uint16(0x204), m.PC, "RET resumes after the CALL")
	assert.Equal(t, 0, len(m.Stack))
}

func TestNestedCalls(t *testing.T) {
	m := newTestMachine(t)
	loadProgram(t, m, OpCALL(0x300))
	// 16 nested calls, each subroutine calling the next one.
	for depth := 0; depth < 16; depth++ {
		addr := uint16(0x300 + depth*2)
		next := OpCALL(addr + 2)
		if depth == 15 {
			next = OpRET()
		}
		m.Memory[addr], m.Memory[addr+1] = byte(next>>8), byte(next)
	}
	run(t, m, 16)
	assert.Equal(t, 16, len(m.Stack))
	assert.Equal(t, uint16(0x31E), m.PC)
}

func TestReturnWithEmptyStack(t *testing.T) {
	m := newTestMachine(t)
	m.V[2] = 0x11
	loadProgram(t, m, OpRET(), OpLDByte(2, 0x22))

	err := m.Step()
	assert.True(t, errors.Is(err, ErrStackUnderflow))
	assert.Equal(t, uint16(0x202), m.PC, "underflow behaves as a no-op")
	assert.Equal(t, byte(0x11), m.V[2])

	run(t, m, 1)
	assert.Equal(t, byte(0x22), m.V[2], "execution continues after the fault")
}

func TestCallStackOverflow(t *testing.T) {
	m := newTestMachine(t)
	loadProgram(t, m, OpCALL(0x200))
	run(t, m, MaxStackDepth)
	assert.Equal(t, MaxStackDepth, len(m.Stack))

	err := m.Step()
	assert.True(t, errors.Is(err, ErrStackOverflow))
	assert.Equal(t, MaxStackDepth, len(m.Stack))
	assert.Equal(t, uint16(0x202), m.PC)
}

func TestIndexOps(t *testing.T) {
	m := newTestMachine(t)
	m.V[3] = 0x10
	loadProgram(t, m, OpLDI(0xFF8), OpADDI(3))
	run(t, m, 2)
	assert.Equal(t, uint16(0x008), m.I, "I wraps modulo 4096")

	m = newTestMachine(t)
	m.V[0] = 0xA
	loadProgram(t, m, OpLDF(0))
	run(t, m, 1)
	assert.Equal(t, FontAddress+0xA*GlyphSize, m.I)
}

func TestRandomMasked(t *testing.T) {
	m := newTestMachine(t, WithRandom(func() byte { return 0xAB }))
	loadProgram(t, m, OpRND(7, 0x0F))
	run(t, m, 1)
	assert.Equal(t, byte(0x0B), m.V[7])
}

func TestBCD(t *testing.T) {
	tests := []struct {
		v       byte
		h, t, o byte
	}{
		{0, 0, 0, 0},
		{7, 0, 0, 7},
		{42, 0, 4, 2},
		{255, 2, 5, 5},
		{100, 1, 0, 0},
	}
	for _, tc := range tests {
		m := newTestMachine(t)
		m.V[9] = tc.v
		loadProgram(t, m, OpLDI(0x400), OpLDB(9))
		run(t, m, 2)
		got := [3]byte{m.Memory[0x400], m.Memory[0x401], m.Memory[0x402]}
		want := [3]byte{tc.h, tc.t, tc.o}
		if got != want {
			t.Errorf("BCD(%d): expected %v, got %v", tc.v, want, got)
		}
	}
}

func TestStoreAndLoadRegisters(t *testing.T) {
	m := newTestMachine(t)
	for i := range m.V {
		m.V[i] = byte(i * 3)
	}
	loadProgram(t, m, OpLDI(0x500), OpLDIVx(4))
	run(t, m, 2)
	for i := 0; i <= 4; i++ {
		assert.Equal(t, byte(i*3), m.Memory[0x500+i])
	}
	assert.Equal(t, byte(0), m.Memory[0x505], "only V0..Vx are stored")
	assert.Equal(t, uint16(0x500), m.I, "I is left unchanged")

	m2 := newTestMachine(t)
	loadProgram(t, m2, OpLDI(0x600), OpLDVxI(1))
	m2.Memory[0x600] = 0xDE
	m2.Memory[0x601] = 0xAD
	m2.Memory[0x602] = 0xBE
	m2.V[2] = 0x77
	run(t, m2, 2)
	assert.Equal(t, byte(0xDE), m2.V[0])
	assert.Equal(t, byte(0xAD), m2.V[1])
	assert.Equal(t, byte(0x77), m2.V[2])
}

func TestTimerOps(t *testing.T) {
	m := newTestMachine(t)
	m.V[0] = 40
	m.V[1] = 20
	loadProgram(t, m, OpLDDTVx(0), OpLDSTVx(1))
	run(t, m, 2)
	assert.Equal(t, byte(40), m.DelayTimer)
	assert.Equal(t, byte(20), m.SoundTimer)
	assert.True(t, m.SoundActive())

	m.TickTimers()
	m.PC = 0x204
	m.Memory[0x204], m.Memory[0x205] = 0xF5, 0x07
	run(t, m, 1)
	assert.Equal(t, byte(39), m.V[5])

	m.DelayTimer = 1
	m.SoundTimer = 0
	m.TickTimers()
	m.TickTimers()
	assert.Equal(t, byte(0), m.DelayTimer)
	assert.Equal(t, byte(0), m.SoundTimer)
	assert.False(t, m.SoundActive())
}

func TestKeySkips(t *testing.T) {
	m := newTestMachine(t)
	m.V[0] = 0xA
	loadProgram(t, m, OpSKP(0))
	run(t, m, 1)
	assert.Equal(t, uint16(0x202), m.PC)

	m.Keypad().Press(0xA)
	m.PC = 0x200
	run(t, m, 1)
	assert.Equal(t, uint16(0x204), m.PC)

	loadProgram(t, m, OpSKNP(0))
	run(t, m, 1)
	assert.Equal(t, uint16(0x202), m.PC)

	m.Keypad().Release(0xA)
	m.PC = 0x200
	run(t, m, 1)
	assert.Equal(t, uint16(0x204), m.PC)
}

func TestDrawFontGlyphZero(t *testing.T) {
	m := newTestMachine(t)
	loadProgram(t, m, OpLDI(uint16(FontAddress)), OpDRW(0, 0, 5))
	run(t, m, 2)

	assert.Equal(t, byte(0), m.V[VF])
	d := m.Display()
	for y := 0; y < DisplayHeight; y++ {
		for x := 0; x < DisplayWidth; x++ {
			want := false
			if x < 8 && y < 5 {
				want = fontSet[y]&(0x80>>x) != 0
			}
			if d.Pixel(x, y) != want {
				t.Errorf("pixel (%d,%d): expected %v, got %v", x, y, want, d.Pixel(x, y))
			}
		}
	}
	assert.Equal(t, 14, d.Lit())
}

func TestDrawTwiceRestoresAndCollides(t *testing.T) {
	m := newTestMachine(t)
	m.V[0] = 10
	m.V[1] = 4
	loadProgram(t, m, OpLDI(uint16(FontAddress)+5*8), OpDRW(0, 1, 5), OpDRW(0, 1, 5))

	run(t, m, 2)
	assert.Equal(t, byte(0), m.V[VF])
	assert.True(t, m.Display().Lit() > 0)

	run(t, m, 1)
	assert.Equal(t, byte(1), m.V[VF])
	assert.Equal(t, 0, m.Display().Lit())
}

func TestDrawOriginWraps(t *testing.T) {
	m := newTestMachine(t)
	m.V[0] = 64 + 63
	m.V[1] = 32 + 31
	loadProgram(t, m, OpLDI(0x400), OpDRW(0, 1, 2))
	m.Memory[0x400] = 0xC0
	m.Memory[0x401] = 0x80
	run(t, m, 2)

	d := m.Display()
	assert.True(t, d.Pixel(63, 31))
	assert.True(t, d.Pixel(0, 31))
	assert.True(t, d.Pixel(63, 0))
	assert.Equal(t, 3, d.Lit())
}

func TestClearScreen(t *testing.T) {
	m := newTestMachine(t)
	loadProgram(t, m, OpLDI(uint16(FontAddress)), OpDRW(0, 0, 5), OpCLS())
	run(t, m, 3)
	assert.Equal(t, 0, m.Display().Lit())
}

func TestZeroLengthSprite(t *testing.T) {
	m := newTestMachine(t)
	m.V[VF] = 1
	loadProgram(t, m, OpLDI(uint16(FontAddress)), OpDRW(0, 0, 0))
	run(t, m, 2)
	assert.Equal(t, 0, m.Display().Lit())
	assert.Equal(t, byte(0), m.V[VF])
}

func TestUnknownOpcodesAreNoOps(t *testing.T) {
	unknown := []Opcode{
		0x0000, 0x0123, 0x5121, 0x8016, 0x8017, 0x801E, 0x8008,
		0x9120, 0xB300, 0xE000, 0xF00A, 0xF0FF, 0xFFFF,
	}
	for _, op := range unknown {
		m := newTestMachine(t)
		for i := range m.V {
			m.V[i] = byte(0x10 + i)
		}
		m.I = 0x345
		before := m.Snapshot()

		loadProgram(t, m, op)
		run(t, m, 1)

		if m.PC != 0x202 {
			t.Errorf("opcode %s: expected PC 0x202, got 0x%03X", op, m.PC)
		}
		if m.V != before.V {
			t.Errorf("opcode %s: registers changed: %v -> %v", op, before.V, m.V)
		}
		if m.I != before.I {
			t.Errorf("opcode %s: I changed: 0x%03X -> 0x%03X", op, before.I, m.I)
		}
	}
}

func TestExtendedInstructions(t *testing.T) {
	t.Run("SHR", func(t *testing.T) {
		m := newTestMachine(t, WithExtended(true))
		m.V[2] = 0x05
		loadProgram(t, m, OpSHR(2, 0))
		run(t, m, 1)
		assert.Equal(t, byte(0x02), m.V[2])
		assert.Equal(t, byte(1), m.V[VF])
	})

	t.Run("SHL", func(t *testing.T) {
		m := newTestMachine(t, WithExtended(true))
		m.V[2] = 0x81
		loadProgram(t, m, OpSHL(2, 0))
		run(t, m, 1)
		assert.Equal(t, byte(0x02), m.V[2])
		assert.Equal(t, byte(1), m.V[VF])
	})

	t.Run("SUBN", func(t *testing.T) {
		m := newTestMachine(t, WithExtended(true))
		m.V[0] = 3
		m.V[1] = 10
		loadProgram(t, m, OpSUBN(0, 1))
		run(t, m, 1)
		assert.Equal(t, byte(7), m.V[0])
		assert.Equal(t, byte(1), m.V[VF])
	})

	t.Run("SNE reg", func(t *testing.T) {
		m := newTestMachine(t, WithExtended(true))
		m.V[0] = 1
		m.V[1] = 2
		loadProgram(t, m, OpSNEReg(0, 1))
		run(t, m, 1)
		assert.Equal(t, uint16(0x204), m.PC)
	})

	t.Run("JP V0", func(t *testing.T) {
		m := newTestMachine(t, WithExtended(true))
		m.V[0] = 0x10
		loadProgram(t, m, OpJPV0(0x300))
		run(t, m, 1)
		assert.Equal(t, uint16(0x310), m.PC)
	})

	t.Run("LD Vx K", func(t *testing.T) {
		m := newTestMachine(t, WithExtended(true))
		loadProgram(t, m, OpLDVxK(4))
		run(t, m, 3)
		assert.Equal(t, uint16(0x200), m.PC, "waits until a key is down")

		m.Keypad().Press(0xC)
		run(t, m, 1)
		assert.Equal(t, uint16(0x202), m.PC)
		assert.Equal(t, byte(0xC), m.V[4])
	})
}

func TestProgramCounterWrapsAtEndOfMemory(t *testing.T) {
	m := newTestMachine(t)
	m.PC = 0xFFF
	m.Memory[0xFFF] = 0x60
	m.Memory[0x000] = 0x00
	assert.NoError(t, m.Step())
	assert.Equal(t, uint16(0x1001), m.PC)
	assert.Equal(t, byte(0), m.V[0])
}

func TestSnapshotRestore(t *testing.T) {
	m := newTestMachine(t)
	loadProgram(t, m, OpLDByte(1, 0x33), OpCALL(0x300))
	m.Memory[0x300], m.Memory[0x301] = 0xA1, 0x23
	run(t, m, 3)
	m.DelayTimer = 17
	m.Display().DrawSprite(5, 5, []byte{0xFF})

	s := m.Snapshot()

	other := newTestMachine(t)
	other.Restore(s)

	assert.Equal(t, m.V, other.V)
	assert.Equal(t, m.I, other.I)
	assert.Equal(t, m.PC, other.PC)
	assert.Equal(t, 1, len(other.Stack))
	assert.Equal(t, m.Stack[0], other.Stack[0])
	assert.Equal(t, byte(17), other.DelayTimer)
	assert.Equal(t, 8, other.Display().Lit())
	if other.Memory != m.Memory {
		t.Error("memory differs after restore")
	}

	m.Stack[0] = 0xFFF
	assert.Equal(t, uint16(0x204), other.Stack[0], "snapshot does not alias the stack")
}
