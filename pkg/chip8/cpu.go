package chip8

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/retroenv/retrogolib/log"
)

var (
	ErrProgramTooLarge = errors.New("program too large")
	ErrStackUnderflow  = errors.New("return with empty call stack")
	ErrStackOverflow   = errors.New("call stack overflow")
)

// VF is the flags register written by ADD, SUB and DRW.
const VF = 0xF

// Machine is the complete interpreter state. The exported registers may be
// inspected freely; the display and keypad are reached through accessors.
type Machine struct {
	Memory Memory

	V  [RegisterCount]byte
	I  uint16
	PC uint16

	Stack []uint16

	DelayTimer byte
	SoundTimer byte

	display Display
	keypad  *Keypad

	extended bool
	random   func() byte
	logger   *log.Logger
}

// State is a value copy of everything the machine owns, used for save states.
type State struct {
	Memory     Memory
	V          [RegisterCount]byte
	I          uint16
	PC         uint16
	Stack      []uint16
	DelayTimer byte
	SoundTimer byte
	Display    []byte
}

// Option configures a Machine.
type Option func(*Machine)

// WithExtended enables the classic instructions outside the base table:
// SHR, SUBN, SHL, SNE Vx,Vy, JP V0,addr and LD Vx,K.
func WithExtended(enabled bool) Option {
	return func(m *Machine) { m.extended = enabled }
}

// WithRandom replaces the byte source used by RND.
func WithRandom(fn func() byte) Option {
	return func(m *Machine) { m.random = fn }
}

func WithLogger(logger *log.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}

// WithKeypad shares an existing keypad with the machine.
func WithKeypad(k *Keypad) Option {
	return func(m *Machine) { m.keypad = k }
}

// New creates a machine with the font installed and PC at ProgramStart.
func New(opts ...Option) *Machine {
	m := &Machine{}
	for _, opt := range opts {
		opt(m)
	}
	if m.keypad == nil {
		m.keypad = &Keypad{}
	}
	if m.random == nil {
		m.random = func() byte { return byte(rand.UintN(256)) }
	}
	if m.logger == nil {
		cfg := log.DefaultConfig()
		cfg.Level = log.ErrorLevel
		m.logger = log.NewWithConfig(cfg)
	}
	m.Reset()
	return m
}

// Reset returns the machine to its post-construction state. Key states are
// owned by the input side and are left alone.
func (m *Machine) Reset() {
	m.Memory.reset()
	m.V = [RegisterCount]byte{}
	m.I = 0
	m.PC = ProgramStart
	m.Stack = m.Stack[:0]
	m.DelayTimer = 0
	m.SoundTimer = 0
	m.display.Clear()
}

// LoadProgram zero-fills program memory, copies the image to ProgramStart and
// rewinds PC. Registers, timers and the stack are not touched; call Reset
// first for a fresh run. Oversized images are rejected without modifying memory.
func (m *Machine) LoadProgram(program []byte) error {
	if len(program) > MaxProgramSize {
		return fmt.Errorf("%w: %d bytes > %d bytes", ErrProgramTooLarge, len(program), MaxProgramSize)
	}
	clear(m.Memory[ProgramStart:])
	copy(m.Memory[ProgramStart:], program)
	m.PC = ProgramStart

	m.logger.Debug("Program loaded",
		log.Hex("address", ProgramStart),
		log.Int("size", len(program)))
	return nil
}

func (m *Machine) Display() *Display { return &m.display }
func (m *Machine) Keypad() *Keypad   { return m.keypad }
func (m *Machine) Extended() bool    { return m.extended }

// SoundActive reports whether the sound timer is running.
func (m *Machine) SoundActive() bool { return m.SoundTimer > 0 }

// TickTimers decrements both timers by one, stopping at zero.
func (m *Machine) TickTimers() {
	if m.DelayTimer > 0 {
		m.DelayTimer--
	}
	if m.SoundTimer > 0 {
		m.SoundTimer--
	}
}

// Fetch returns the instruction word at PC without executing it.
func (m *Machine) Fetch() Opcode {
	return Opcode(m.Memory.Read16(m.PC))
}

// Step executes exactly one instruction. Unknown opcodes are skipped. The
// returned error describes a call stack fault; the faulting instruction has
// no effect beyond advancing PC and execution may continue.
func (m *Machine) Step() error {
	op := m.Fetch()
	m.PC += 2

	x, y := op.x(), op.y()

	switch op.kind() {
	case 0x0:
		switch op {
		case 0x00E0:
			m.display.Clear()
		case 0x00EE:
			if len(m.Stack) == 0 {
				m.logger.Debug("Return with empty stack", log.Hex("pc", m.PC-2))
				return fmt.Errorf("%w at 0x%03X", ErrStackUnderflow, m.PC-2)
			}
			top := len(m.Stack) - 1
			m.PC = m.Stack[top]
			m.Stack = m.Stack[:top]
		}

	case 0x1:
		m.PC = op.nnn()

	case 0x2:
		if len(m.Stack) >= MaxStackDepth {
			m.logger.Debug("Call stack overflow", log.Hex("pc", m.PC-2))
			return fmt.Errorf("%w at 0x%03X", ErrStackOverflow, m.PC-2)
		}
		m.Stack = append(m.Stack, m.PC)
		m.PC = op.nnn()

	case 0x3:
		if m.V[x] == op.nn() {
			m.PC += 2
		}

	case 0x4:
		if m.V[x] != op.nn() {
			m.PC += 2
		}

	case 0x5:
		if op.n() == 0 && m.V[x] == m.V[y] {
			m.PC += 2
		}

	case 0x6:
		m.V[x] = op.nn()

	case 0x7:
		m.V[x] += op.nn()

	case 0x8:
		m.execALU(op.n(), x, y)

	case 0x9:
		if m.extended && op.n() == 0 && m.V[x] != m.V[y] {
			m.PC += 2
		}

	case 0xA:
		m.I = op.nnn()

	case 0xB:
		if m.extended {
			m.PC = (op.nnn() + uint16(m.V[0])) & addrMask
		}

	case 0xC:
		m.V[x] = m.random() & op.nn()

	case 0xD:
		sprite := m.Memory.Slice(m.I, int(op.n()))
		hit := m.display.DrawSprite(int(m.V[x]%DisplayWidth), int(m.V[y]%DisplayHeight), sprite)
		m.V[VF] = boolToByte(hit)

	case 0xE:
		switch op.nn() {
		case 0x9E:
			if m.keypad.IsPressed(m.V[x]) {
				m.PC += 2
			}
		case 0xA1:
			if !m.keypad.IsPressed(m.V[x]) {
				m.PC += 2
			}
		}

	case 0xF:
		m.execMisc(op.nn(), x)
	}

	return nil
}

func (m *Machine) execALU(kind, x, y uint8) {
	switch kind {
	case 0x0:
		m.V[x] = m.V[y]
	case 0x1:
		m.V[x] |= m.V[y]
	case 0x2:
		m.V[x] &= m.V[y]
	case 0x3:
		m.V[x] ^= m.V[y]
	case 0x4:
		// VF is written before Vx, so ADD VF,Vy leaves the sum in VF.
		sum := uint16(m.V[x]) + uint16(m.V[y])
		m.V[VF] = boolToByte(sum > 0xFF)
		m.V[x] = byte(sum)
	case 0x5:
		vx, vy := m.V[x], m.V[y]
		m.V[VF] = boolToByte(vx > vy)
		m.V[x] = vx - vy
	}

	if !m.extended {
		return
	}

	switch kind {
	case 0x6:
		lsb := m.V[x] & 0x01
		m.V[x] >>= 1
		m.V[VF] = lsb
	case 0x7:
		vx, vy := m.V[x], m.V[y]
		m.V[x] = vy - vx
		m.V[VF] = boolToByte(vy > vx)
	case 0xE:
		msb := m.V[x] >> 7
		m.V[x] <<= 1
		m.V[VF] = msb
	}
}

func (m *Machine) execMisc(kind byte, x uint8) {
	switch kind {
	case 0x07:
		m.V[x] = m.DelayTimer
	case 0x0A:
		if !m.extended {
			return
		}
		key, ok := m.keypad.FirstPressed()
		if !ok {
			m.PC -= 2
			return
		}
		m.V[x] = key
	case 0x15:
		m.DelayTimer = m.V[x]
	case 0x18:
		m.SoundTimer = m.V[x]
	case 0x1E:
		m.I = (m.I + uint16(m.V[x])) & addrMask
	case 0x29:
		m.I = FontAddress + uint16(m.V[x])*GlyphSize
	case 0x33:
		v := m.V[x]
		m.Memory.Write(m.I, v/100)
		m.Memory.Write(m.I+1, (v/10)%10)
		m.Memory.Write(m.I+2, v%10)
	case 0x55:
		for i := uint16(0); i <= uint16(x); i++ {
			m.Memory.Write(m.I+i, m.V[i])
		}
	case 0x65:
		for i := uint16(0); i <= uint16(x); i++ {
			m.V[i] = m.Memory.Read(m.I + i)
		}
	}
}

// Snapshot copies the full machine state.
func (m *Machine) Snapshot() State {
	stack := make([]uint16, len(m.Stack))
	copy(stack, m.Stack)
	return State{
		Memory:     m.Memory,
		V:          m.V,
		I:          m.I,
		PC:         m.PC,
		Stack:      stack,
		DelayTimer: m.DelayTimer,
		SoundTimer: m.SoundTimer,
		Display:    m.display.Bits(),
	}
}

// Restore replaces the machine state with a snapshot.
func (m *Machine) Restore(s State) {
	m.Memory = s.Memory
	m.V = s.V
	m.I = s.I
	m.PC = s.PC
	m.Stack = append(m.Stack[:0], s.Stack...)
	m.DelayTimer = s.DelayTimer
	m.SoundTimer = s.SoundTimer
	m.display.SetBits(s.Display)
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
