// Package asm implements a two-pass assembler for CHIP-8 programs using the
// conventional mnemonics (CLS, LD Vx, byte, DRW Vx, Vy, n, ...).
package asm

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"gochip8/pkg/chip8"
)

// Origin is the address of the first assembled byte.
const Origin = uint32(chip8.ProgramStart)

const addressLimit = uint32(chip8.MemorySize)

var zeroOperandOps = map[string]chip8.Opcode{
	"CLS": chip8.OpCLS(),
	"RET": chip8.OpRET(),
}

// oneRegisterOps take a single Vx operand.
var oneRegisterOps = map[string]func(x byte) chip8.Opcode{
	"SKP":  chip8.OpSKP,
	"SKNP": chip8.OpSKNP,
}

// twoRegisterOps take Vx, Vy.
var twoRegisterOps = map[string]func(x, y byte) chip8.Opcode{
	"OR":   chip8.OpOR,
	"AND":  chip8.OpAND,
	"XOR":  chip8.OpXOR,
	"SUB":  chip8.OpSUB,
	"SUBN": chip8.OpSUBN,
}

// shiftOps take Vx with an optional, ignored Vy.
var shiftOps = map[string]func(x, y byte) chip8.Opcode{
	"SHR": chip8.OpSHR,
	"SHL": chip8.OpSHL,
}

// regAndImmediateOps have a Vx, byte form and, for some, a Vx, Vy form.
var regAndImmediateOps = map[string]struct {
	imm func(x, nn byte) chip8.Opcode
	reg func(x, y byte) chip8.Opcode
}{
	"SE":  {chip8.OpSEByte, chip8.OpSEReg},
	"SNE": {chip8.OpSNEByte, chip8.OpSNEReg},
	"ADD": {chip8.OpADDByte, chip8.OpADDReg},
	"RND": {chip8.OpRND, nil},
}

var addressOps = map[string]func(addr uint16) chip8.Opcode{
	"CALL": chip8.OpCALL,
}

// loadTargets maps "LD <target>, Vx" forms.
var loadTargets = map[string]func(x byte) chip8.Opcode{
	"DT":  chip8.OpLDDTVx,
	"ST":  chip8.OpLDSTVx,
	"F":   chip8.OpLDF,
	"B":   chip8.OpLDB,
	"[I]": chip8.OpLDIVx,
}

// loadSources maps "LD Vx, <source>" forms.
var loadSources = map[string]func(x byte) chip8.Opcode{
	"DT":  chip8.OpLDVxDT,
	"K":   chip8.OpLDVxK,
	"[I]": chip8.OpLDVxI,
}

// reservedOperands cannot be used as label names.
var reservedOperands = map[string]bool{
	"I": true, "[I]": true, "DT": true, "ST": true, "K": true, "F": true, "B": true,
}

type Assembler struct {
	labels map[string]uint16
}

type parsedLine struct {
	lineNo   int
	labels   []string
	mnemonic string
	operands []string
}

func NewAssembler() *Assembler {
	return &Assembler{
		labels: make(map[string]uint16),
	}
}

// Assemble translates source into a program image that loads at Origin. The
// returned source map associates each emitting address with its line number.
func Assemble(code string) ([]byte, map[uint16]int, error) {
	return NewAssembler().Assemble(code)
}

func (a *Assembler) Assemble(code string) ([]byte, map[uint16]int, error) {
	lines := strings.Split(code, "\n")

	if err := a.pass1(lines); err != nil {
		return nil, nil, err
	}

	return a.pass2(lines)
}

// Labels returns the resolved label addresses, keyed by upper-case name.
func (a *Assembler) Labels() map[string]uint16 {
	out := make(map[string]uint16, len(a.labels))
	for k, v := range a.labels {
		out[k] = v
	}
	return out
}

func (a *Assembler) pass1(lines []string) error {
	address := Origin

	for i, raw := range lines {
		lineNo := i + 1
		p, err := parseLine(raw, lineNo)
		if err != nil {
			return err
		}

		for _, lbl := range p.labels {
			if address >= addressLimit {
				return fmt.Errorf("label '%s' on line %d points past addressable memory", lbl, lineNo)
			}
			key := normalizeLabel(lbl)
			if _, exists := a.labels[key]; exists {
				return fmt.Errorf("duplicate label '%s' on line %d", lbl, lineNo)
			}
			a.labels[key] = uint16(address)
		}

		if p.mnemonic == "" {
			continue
		}

		var length uint32
		switch p.mnemonic {
		case ".ORG":
			target, err := parseOrigin(p.operands, lineNo)
			if err != nil {
				return err
			}
			if target < address {
				return fmt.Errorf("cannot move origin backward on line %d", lineNo)
			}
			address = target
			continue
		case ".BYTE":
			if len(p.operands) == 0 {
				return fmt.Errorf(".BYTE expects at least one operand on line %d", lineNo)
			}
			length = uint32(len(p.operands))
		case ".WORD":
			if len(p.operands) == 0 {
				return fmt.Errorf(".WORD expects at least one operand on line %d", lineNo)
			}
			length = uint32(len(p.operands)) * 2
		default:
			l, ok := instructionLength(p.mnemonic)
			if !ok {
				return fmt.Errorf("unknown instruction on line %d: %s", lineNo, p.mnemonic)
			}
			length = uint32(l)
		}

		if address+length > addressLimit {
			return fmt.Errorf("program too large near line %d", lineNo)
		}
		address += length
	}

	return nil
}

func (a *Assembler) pass2(lines []string) ([]byte, map[uint16]int, error) {
	program := make([]byte, 0)
	sourceMap := make(map[uint16]int)

	for i, raw := range lines {
		lineNo := i + 1
		p, err := parseLine(raw, lineNo)
		if err != nil {
			return nil, nil, err
		}

		if p.mnemonic == "" {
			continue
		}

		mnemonic := p.mnemonic
		ops := p.operands

		if mnemonic == ".ORG" {
			target, err := parseOrigin(ops, lineNo)
			if err != nil {
				return nil, nil, err
			}
			padding := int(target-Origin) - len(program)
			if padding < 0 {
				return nil, nil, fmt.Errorf("cannot move origin backward on line %d", lineNo)
			}
			if padding > 0 {
				program = append(program, make([]byte, padding)...)
			}
			continue
		}

		sourceMap[uint16(Origin)+uint16(len(program))] = lineNo

		switch mnemonic {
		case ".BYTE":
			for _, op := range ops {
				val, err := a.parseValue(op, 0xFF, lineNo)
				if err != nil {
					return nil, nil, err
				}
				program = append(program, byte(val))
			}
			continue
		case ".WORD":
			for _, op := range ops {
				val, err := a.parseValue(op, 0xFFFF, lineNo)
				if err != nil {
					return nil, nil, err
				}
				program = append(program, byte(val>>8), byte(val))
			}
			continue
		}

		op, err := a.encode(mnemonic, ops, lineNo)
		if err != nil {
			return nil, nil, err
		}
		program = append(program, byte(op>>8), byte(op))
	}

	return program, sourceMap, nil
}

// encode assembles one instruction.
func (a *Assembler) encode(mnemonic string, ops []string, lineNo int) (chip8.Opcode, error) {
	if op, ok := zeroOperandOps[mnemonic]; ok {
		if len(ops) != 0 {
			return 0, fmt.Errorf("%s expects 0 operands on line %d", mnemonic, lineNo)
		}
		return op, nil
	}

	if enc, ok := oneRegisterOps[mnemonic]; ok {
		if len(ops) != 1 {
			return 0, fmt.Errorf("%s expects 1 operand on line %d", mnemonic, lineNo)
		}
		x, err := parseRegister(ops[0], lineNo)
		if err != nil {
			return 0, err
		}
		return enc(x), nil
	}

	if enc, ok := twoRegisterOps[mnemonic]; ok {
		if len(ops) != 2 {
			return 0, fmt.Errorf("%s expects 2 operands on line %d", mnemonic, lineNo)
		}
		x, y, err := parseRegisterPair(ops, lineNo)
		if err != nil {
			return 0, err
		}
		return enc(x, y), nil
	}

	if enc, ok := shiftOps[mnemonic]; ok {
		if len(ops) != 1 && len(ops) != 2 {
			return 0, fmt.Errorf("%s expects 1 or 2 operands on line %d", mnemonic, lineNo)
		}
		x, err := parseRegister(ops[0], lineNo)
		if err != nil {
			return 0, err
		}
		var y byte
		if len(ops) == 2 {
			if y, err = parseRegister(ops[1], lineNo); err != nil {
				return 0, err
			}
		}
		return enc(x, y), nil
	}

	if forms, ok := regAndImmediateOps[mnemonic]; ok {
		if len(ops) != 2 {
			return 0, fmt.Errorf("%s expects 2 operands on line %d", mnemonic, lineNo)
		}
		if mnemonic == "ADD" && strings.ToUpper(ops[0]) == "I" {
			x, err := parseRegister(ops[1], lineNo)
			if err != nil {
				return 0, err
			}
			return chip8.OpADDI(x), nil
		}
		x, err := parseRegister(ops[0], lineNo)
		if err != nil {
			return 0, err
		}
		if y, ok := registerIndex(ops[1]); ok {
			if forms.reg == nil {
				return 0, fmt.Errorf("%s does not take a register source on line %d", mnemonic, lineNo)
			}
			return forms.reg(x, y), nil
		}
		nn, err := a.parseValue(ops[1], 0xFF, lineNo)
		if err != nil {
			return 0, err
		}
		return forms.imm(x, byte(nn)), nil
	}

	if enc, ok := addressOps[mnemonic]; ok {
		if len(ops) != 1 {
			return 0, fmt.Errorf("%s expects 1 operand on line %d", mnemonic, lineNo)
		}
		addr, err := a.parseValue(ops[0], 0xFFF, lineNo)
		if err != nil {
			return 0, err
		}
		return enc(addr), nil
	}

	switch mnemonic {
	case "JP":
		switch len(ops) {
		case 1:
			addr, err := a.parseValue(ops[0], 0xFFF, lineNo)
			if err != nil {
				return 0, err
			}
			return chip8.OpJP(addr), nil
		case 2:
			if x, ok := registerIndex(ops[0]); !ok || x != 0 {
				return 0, fmt.Errorf("JP with offset requires V0 on line %d", lineNo)
			}
			addr, err := a.parseValue(ops[1], 0xFFF, lineNo)
			if err != nil {
				return 0, err
			}
			return chip8.OpJPV0(addr), nil
		}
		return 0, fmt.Errorf("JP expects 1 or 2 operands on line %d", lineNo)

	case "DRW":
		if len(ops) != 3 {
			return 0, fmt.Errorf("DRW expects 3 operands on line %d", lineNo)
		}
		x, y, err := parseRegisterPair(ops[:2], lineNo)
		if err != nil {
			return 0, err
		}
		n, err := a.parseValue(ops[2], 0xF, lineNo)
		if err != nil {
			return 0, err
		}
		return chip8.OpDRW(x, y, byte(n)), nil

	case "LD":
		if len(ops) != 2 {
			return 0, fmt.Errorf("LD expects 2 operands on line %d", lineNo)
		}
		return a.encodeLoad(ops[0], ops[1], lineNo)
	}

	return 0, fmt.Errorf("unknown instruction on line %d: %s", lineNo, mnemonic)
}

func (a *Assembler) encodeLoad(dst, src string, lineNo int) (chip8.Opcode, error) {
	dstKey, srcKey := strings.ToUpper(dst), strings.ToUpper(src)

	if dstKey == "I" {
		addr, err := a.parseValue(src, 0xFFF, lineNo)
		if err != nil {
			return 0, err
		}
		return chip8.OpLDI(addr), nil
	}

	if enc, ok := loadTargets[dstKey]; ok {
		x, err := parseRegister(src, lineNo)
		if err != nil {
			return 0, err
		}
		return enc(x), nil
	}

	x, err := parseRegister(dst, lineNo)
	if err != nil {
		return 0, err
	}
	if enc, ok := loadSources[srcKey]; ok {
		return enc(x), nil
	}
	if y, ok := registerIndex(src); ok {
		return chip8.OpLDReg(x, y), nil
	}
	nn, err := a.parseValue(src, 0xFF, lineNo)
	if err != nil {
		return 0, err
	}
	return chip8.OpLDByte(x, byte(nn)), nil
}

func parseLine(raw string, lineNo int) (parsedLine, error) {
	p := parsedLine{lineNo: lineNo}

	line := strings.TrimSpace(stripComments(raw))
	if line == "" {
		return p, nil
	}

	for {
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			break
		}

		beforeColon := strings.TrimSpace(line[:colon])
		if strings.ContainsAny(beforeColon, " \t") {
			break
		}

		if !isIdentifier(beforeColon) || isReserved(beforeColon) {
			return p, fmt.Errorf("invalid label '%s' on line %d", beforeColon, lineNo)
		}

		p.labels = append(p.labels, beforeColon)
		line = strings.TrimSpace(line[colon+1:])
		if line == "" {
			return p, nil
		}
	}

	line = normalizeInstructionText(line)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return p, nil
	}

	p.mnemonic = strings.ToUpper(fields[0])
	if len(fields) > 1 {
		p.operands = fields[1:]
	}

	if p.mnemonic == ".ORG" && len(p.operands) != 1 {
		return p, fmt.Errorf(".ORG expects exactly one operand on line %d", lineNo)
	}

	return p, nil
}

func stripComments(line string) string {
	semicolon := strings.Index(line, ";")
	doubleSlash := strings.Index(line, "//")

	cut := -1
	if semicolon >= 0 {
		cut = semicolon
	}
	if doubleSlash >= 0 && (cut == -1 || doubleSlash < cut) {
		cut = doubleSlash
	}
	if cut >= 0 {
		return line[:cut]
	}
	return line
}

// normalizeInstructionText turns commas into separators and collapses "[ I ]" to "[I]".
func normalizeInstructionText(line string) string {
	replacer := strings.NewReplacer(",", " ", "[", " [", "]", "] ")
	line = replacer.Replace(line)

	fields := strings.Fields(line)
	out := make([]string, 0, len(fields))
	for i := 0; i < len(fields); i++ {
		if fields[i] == "[" && i+2 < len(fields) && fields[i+2] == "]" {
			out = append(out, "["+fields[i+1]+"]")
			i += 2
			continue
		}
		out = append(out, fields[i])
	}
	return strings.Join(out, " ")
}

// registerIndex parses V0..VF.
func registerIndex(token string) (byte, bool) {
	if len(token) != 2 || (token[0] != 'V' && token[0] != 'v') {
		return 0, false
	}
	v, err := strconv.ParseUint(token[1:], 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(v), true
}

func parseRegister(token string, lineNo int) (byte, error) {
	if x, ok := registerIndex(token); ok {
		return x, nil
	}
	return 0, fmt.Errorf("invalid register '%s' on line %d", token, lineNo)
}

func parseRegisterPair(ops []string, lineNo int) (byte, byte, error) {
	x, err := parseRegister(ops[0], lineNo)
	if err != nil {
		return 0, 0, err
	}
	y, err := parseRegister(ops[1], lineNo)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func parseOrigin(ops []string, lineNo int) (uint32, error) {
	if len(ops) != 1 {
		return 0, fmt.Errorf(".ORG expects exactly one operand on line %d", lineNo)
	}
	target, err := strconv.ParseUint(ops[0], 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid .ORG value on line %d: %s", lineNo, ops[0])
	}
	if target < uint64(Origin) || target >= uint64(addressLimit) {
		return 0, fmt.Errorf(".ORG out of range on line %d: %s", lineNo, ops[0])
	}
	return uint32(target), nil
}

// parseValue resolves a numeric literal or label and checks it against limit.
func (a *Assembler) parseValue(token string, limit uint16, lineNo int) (uint16, error) {
	if value, err := strconv.ParseUint(token, 0, 32); err == nil {
		if value > uint64(limit) {
			return 0, fmt.Errorf("value out of range on line %d: %s", lineNo, token)
		}
		return uint16(value), nil
	}

	if addr, ok := a.labels[normalizeLabel(token)]; ok {
		if addr > limit {
			return 0, fmt.Errorf("label '%s' out of range on line %d", token, lineNo)
		}
		return addr, nil
	}

	if isIdentifier(token) {
		return 0, fmt.Errorf("undefined label '%s' on line %d", token, lineNo)
	}

	return 0, fmt.Errorf("invalid value '%s' on line %d", token, lineNo)
}

// instructionLength returns the byte length of an instruction. Every CHIP-8
// instruction is a single 2-byte word.
func instructionLength(mnemonic string) (uint16, bool) {
	mnemonic = strings.ToUpper(mnemonic)

	switch mnemonic {
	case "JP", "DRW", "LD":
		return 2, true
	}
	if _, ok := zeroOperandOps[mnemonic]; ok {
		return 2, true
	}
	if _, ok := oneRegisterOps[mnemonic]; ok {
		return 2, true
	}
	if _, ok := twoRegisterOps[mnemonic]; ok {
		return 2, true
	}
	if _, ok := shiftOps[mnemonic]; ok {
		return 2, true
	}
	if _, ok := regAndImmediateOps[mnemonic]; ok {
		return 2, true
	}
	if _, ok := addressOps[mnemonic]; ok {
		return 2, true
	}
	return 0, false
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' {
				return false
			}
			continue
		}

		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}

	return true
}

// isReserved reports whether s names a register or special operand.
func isReserved(s string) bool {
	if _, ok := registerIndex(s); ok {
		return true
	}
	return reservedOperands[strings.ToUpper(s)]
}

func normalizeLabel(label string) string {
	return strings.ToUpper(label)
}
