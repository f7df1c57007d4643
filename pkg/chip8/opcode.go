package chip8

import "fmt"

// Opcode is a raw 16-bit instruction word.
type Opcode uint16

func (op Opcode) kind() uint8 { return uint8(op >> 12) }
func (op Opcode) x() uint8    { return uint8(op>>8) & 0x0F }
func (op Opcode) y() uint8    { return uint8(op>>4) & 0x0F }
func (op Opcode) n() uint8    { return uint8(op) & 0x0F }
func (op Opcode) nn() byte    { return byte(op) }
func (op Opcode) nnn() uint16 { return uint16(op) & 0x0FFF }

func (op Opcode) String() string {
	return fmt.Sprintf("%04X", uint16(op))
}

// Encoders for the instructions the machine understands. Register operands
// are masked to a nibble, addresses to 12 bits.

func OpCLS() Opcode               { return 0x00E0 }
func OpRET() Opcode               { return 0x00EE }
func OpJP(addr uint16) Opcode     { return Opcode(0x1000 | addr&0x0FFF) }
func OpCALL(addr uint16) Opcode   { return Opcode(0x2000 | addr&0x0FFF) }
func OpSEByte(x, nn byte) Opcode  { return regByte(0x3000, x, nn) }
func OpSNEByte(x, nn byte) Opcode { return regByte(0x4000, x, nn) }
func OpSEReg(x, y byte) Opcode    { return regReg(0x5000, x, y, 0) }
func OpLDByte(x, nn byte) Opcode  { return regByte(0x6000, x, nn) }
func OpADDByte(x, nn byte) Opcode { return regByte(0x7000, x, nn) }
func OpLDReg(x, y byte) Opcode    { return regReg(0x8000, x, y, 0x0) }
func OpOR(x, y byte) Opcode       { return regReg(0x8000, x, y, 0x1) }
func OpAND(x, y byte) Opcode      { return regReg(0x8000, x, y, 0x2) }
func OpXOR(x, y byte) Opcode      { return regReg(0x8000, x, y, 0x3) }
func OpADDReg(x, y byte) Opcode   { return regReg(0x8000, x, y, 0x4) }
func OpSUB(x, y byte) Opcode      { return regReg(0x8000, x, y, 0x5) }
func OpSHR(x, y byte) Opcode      { return regReg(0x8000, x, y, 0x6) }
func OpSUBN(x, y byte) Opcode     { return regReg(0x8000, x, y, 0x7) }
func OpSHL(x, y byte) Opcode      { return regReg(0x8000, x, y, 0xE) }
func OpSNEReg(x, y byte) Opcode   { return regReg(0x9000, x, y, 0) }
func OpLDI(addr uint16) Opcode    { return Opcode(0xA000 | addr&0x0FFF) }
func OpJPV0(addr uint16) Opcode   { return Opcode(0xB000 | addr&0x0FFF) }
func OpRND(x, nn byte) Opcode     { return regByte(0xC000, x, nn) }
func OpDRW(x, y, n byte) Opcode   { return regReg(0xD000, x, y, n) }
func OpSKP(x byte) Opcode         { return regByte(0xE000, x, 0x9E) }
func OpSKNP(x byte) Opcode        { return regByte(0xE000, x, 0xA1) }
func OpLDVxDT(x byte) Opcode      { return regByte(0xF000, x, 0x07) }
func OpLDVxK(x byte) Opcode       { return regByte(0xF000, x, 0x0A) }
func OpLDDTVx(x byte) Opcode      { return regByte(0xF000, x, 0x15) }
func OpLDSTVx(x byte) Opcode      { return regByte(0xF000, x, 0x18) }
func OpADDI(x byte) Opcode        { return regByte(0xF000, x, 0x1E) }
func OpLDF(x byte) Opcode         { return regByte(0xF000, x, 0x29) }
func OpLDB(x byte) Opcode         { return regByte(0xF000, x, 0x33) }
func OpLDIVx(x byte) Opcode       { return regByte(0xF000, x, 0x55) }
func OpLDVxI(x byte) Opcode       { return regByte(0xF000, x, 0x65) }

func regByte(base uint16, x, nn byte) Opcode {
	return Opcode(base | uint16(x&0x0F)<<8 | uint16(nn))
}

func regReg(base uint16, x, y, n byte) Opcode {
	return Opcode(base | uint16(x&0x0F)<<8 | uint16(y&0x0F)<<4 | uint16(n&0x0F))
}

// Encode flattens opcodes into big-endian program bytes.
func Encode(ops ...Opcode) []byte {
	out := make([]byte, 0, len(ops)*2)
	for _, op := range ops {
		out = append(out, byte(op>>8), byte(op))
	}
	return out
}
