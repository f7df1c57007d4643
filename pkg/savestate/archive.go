// Package savestate serialises machine snapshots into zip archives and keeps
// them in named slots that can be flushed to a host directory.
package savestate

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gochip8/pkg/chip8"
)

// FormatVersion is bumped whenever the archive layout changes.
const FormatVersion = 1

const (
	entryState   = "cpu_state.json"
	entryMemory  = "memory.bin"
	entryDisplay = "display.bin"
)

var (
	ErrInvalidArchive         = errors.New("invalid save state archive")
	ErrInstructionSetMismatch = errors.New("save state instruction set does not match machine")
)

// Meta describes the program a snapshot belongs to.
type Meta struct {
	ROM      string    `json:"rom"`
	Extended bool      `json:"extended"`
	Saved    time.Time `json:"saved"`
}

// humanReadableState is the JSON-serializable part of a snapshot.
type humanReadableState struct {
	Version    int                       `json:"version"`
	Meta       Meta                      `json:"meta"`
	V          [chip8.RegisterCount]byte `json:"v"`
	I          uint16                    `json:"i"`
	PC         uint16                    `json:"pc"`
	Stack      []uint16                  `json:"stack"`
	DelayTimer byte                      `json:"delay_timer"`
	SoundTimer byte                      `json:"sound_timer"`
}

// Encode writes the snapshot into an in-memory zip archive and returns the raw bytes.
func Encode(s chip8.State, meta Meta) ([]byte, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	stack := s.Stack
	if stack == nil {
		stack = []uint16{}
	}
	state := humanReadableState{
		Version:    FormatVersion,
		Meta:       meta,
		V:          s.V,
		I:          s.I,
		PC:         s.PC,
		Stack:      stack,
		DelayTimer: s.DelayTimer,
		SoundTimer: s.SoundTimer,
	}

	jsonData, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal cpu_state: %w", err)
	}
	if err := writeZipEntry(zw, entryState, jsonData); err != nil {
		return nil, err
	}
	if err := writeZipEntry(zw, entryMemory, s.Memory[:]); err != nil {
		return nil, err
	}
	if err := writeZipEntry(zw, entryDisplay, s.Display); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses an archive produced by Encode.
func Decode(data []byte) (chip8.State, Meta, error) {
	var s chip8.State

	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return s, Meta{}, fmt.Errorf("%w: open zip: %w", ErrInvalidArchive, err)
	}

	fileMap := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		fileMap[f.Name] = f
	}

	jsonData, err := readZipEntry(fileMap, entryState)
	if err != nil {
		return s, Meta{}, err
	}
	var state humanReadableState
	if err := json.Unmarshal(jsonData, &state); err != nil {
		return s, Meta{}, fmt.Errorf("%w: unmarshal cpu_state: %w", ErrInvalidArchive, err)
	}
	if state.Version != FormatVersion {
		return s, Meta{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidArchive, state.Version)
	}
	if len(state.Stack) > chip8.MaxStackDepth {
		return s, Meta{}, fmt.Errorf("%w: stack depth %d", ErrInvalidArchive, len(state.Stack))
	}

	memData, err := readZipEntry(fileMap, entryMemory)
	if err != nil {
		return s, Meta{}, err
	}
	if len(memData) != chip8.MemorySize {
		return s, Meta{}, fmt.Errorf("%w: memory size %d", ErrInvalidArchive, len(memData))
	}

	displayData, err := readZipEntry(fileMap, entryDisplay)
	if err != nil {
		return s, Meta{}, err
	}
	if len(displayData) != chip8.DisplayWidth*chip8.DisplayHeight/8 {
		return s, Meta{}, fmt.Errorf("%w: display size %d", ErrInvalidArchive, len(displayData))
	}

	copy(s.Memory[:], memData)
	s.V = state.V
	s.I = state.I
	s.PC = state.PC
	s.Stack = state.Stack
	s.DelayTimer = state.DelayTimer
	s.SoundTimer = state.SoundTimer
	s.Display = displayData
	return s, state.Meta, nil
}

// SaveFile snapshots m and writes the archive to path.
func SaveFile(path string, m *chip8.Machine, meta Meta) error {
	data, err := Encode(m.Snapshot(), meta)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadFile reads an archive from path and restores it into m.
func LoadFile(path string, m *chip8.Machine) (Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, err
	}
	s, meta, err := Decode(data)
	if err != nil {
		return Meta{}, err
	}
	if err := restore(m, s, meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// restore applies s to m unless the snapshot was taken with a different
// instruction set. m is untouched on error.
func restore(m *chip8.Machine, s chip8.State, meta Meta) error {
	if meta.Extended != m.Extended() {
		return fmt.Errorf("%w: saved extended=%t, machine extended=%t",
			ErrInstructionSetMismatch, meta.Extended, m.Extended())
	}
	m.Restore(s)
	return nil
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create zip entry %q: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}

func readZipEntry(fileMap map[string]*zip.File, name string) ([]byte, error) {
	f, ok := fileMap[name]
	if !ok {
		return nil, fmt.Errorf("%w: zip entry %q not found", ErrInvalidArchive, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry %q: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
