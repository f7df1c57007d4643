package savestate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"gochip8/pkg/chip8"
)

// MaxStoreBytes bounds the total size of all slots held in memory.
const MaxStoreBytes = 4 << 20

// Extension is appended to slot names when they are persisted.
const Extension = ".c8s"

// SlotCount is the number of numbered slots per program.
const SlotCount = 10

// validSlot is the regex for sanitizing slot names.
var validSlot = regexp.MustCompile(`^[a-zA-Z0-9_\-]{1,48}$`)

var (
	ErrSlotNotFound  = errors.New("save slot not found")
	ErrInvalidSlot   = errors.New("invalid save slot")
	ErrQuotaExceeded = errors.New("save store quota exceeded")
)

// SlotName builds the slot name for numbered slot n of the given ROM file.
func SlotName(rom string, n int) (string, error) {
	if n < 0 || n >= SlotCount {
		return "", fmt.Errorf("%w: slot %d", ErrInvalidSlot, n)
	}
	base := strings.TrimSuffix(filepath.Base(rom), filepath.Ext(rom))
	if base == "." || base == string(filepath.Separator) {
		base = ""
	}
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, base)
	if len(base) > 40 {
		base = base[:40]
	}
	if base == "" {
		base = "untitled"
	}
	return fmt.Sprintf("%s_%d", base, n), nil
}

type slotEntry struct {
	Data     []byte
	Created  time.Time
	Modified time.Time
}

// Store keeps encoded save states in memory and tracks which slots changed
// since the last PersistTo.
type Store struct {
	mu        sync.RWMutex
	slots     map[string]*slotEntry
	dirty     map[string]bool
	usedBytes int
}

func NewStore() *Store {
	return &Store{
		slots: make(map[string]*slotEntry),
		dirty: make(map[string]bool),
	}
}

// Put stores a copy of an encoded archive under name, replacing the slot if it exists.
func (s *Store) Put(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validSlot.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidSlot, name)
	}

	oldSize := 0
	entry, ok := s.slots[name]
	if ok {
		oldSize = len(entry.Data)
	}
	if s.usedBytes-oldSize+len(data) > MaxStoreBytes {
		return ErrQuotaExceeded
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	now := time.Now()
	if !ok {
		entry = &slotEntry{Created: now}
		s.slots[name] = entry
	}
	entry.Data = buf
	entry.Modified = now

	s.dirty[name] = true
	s.usedBytes += len(data) - oldSize
	return nil
}

// Save snapshots m into slot name.
func (s *Store) Save(name string, m *chip8.Machine, meta Meta) error {
	if meta.Saved.IsZero() {
		meta.Saved = time.Now()
	}
	data, err := Encode(m.Snapshot(), meta)
	if err != nil {
		return err
	}
	return s.Put(name, data)
}

// Load restores slot name into m. The machine is left untouched if the slot
// is missing, its archive does not decode or it was saved with the other
// instruction set.
func (s *Store) Load(name string, m *chip8.Machine) (Meta, error) {
	data, err := s.Get(name)
	if err != nil {
		return Meta{}, err
	}
	state, meta, err := Decode(data)
	if err != nil {
		return Meta{}, fmt.Errorf("slot %s: %w", name, err)
	}
	if err := restore(m, state, meta); err != nil {
		return Meta{}, fmt.Errorf("slot %s: %w", name, err)
	}
	return meta, nil
}

// Get returns the archive stored under name.
func (s *Store) Get(name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !validSlot.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSlot, name)
	}
	entry, ok := s.slots[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSlotNotFound, name)
	}
	return entry.Data, nil
}

// Delete removes a slot. The deletion is applied to disk on the next PersistTo.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validSlot.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidSlot, name)
	}
	entry, ok := s.slots[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSlotNotFound, name)
	}

	s.usedBytes -= len(entry.Data)
	delete(s.slots, name)
	s.dirty[name] = true
	return nil
}

// Modified returns the time the slot was last written.
func (s *Store) Modified(name string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.slots[name]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrSlotNotFound, name)
	}
	return entry.Modified, nil
}

// List returns the sorted slot names.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.slots))
	for name := range s.slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) UsedBytes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usedBytes
}

// Dirty reports whether any slot changed since the last successful PersistTo.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dirty) > 0
}

// LoadFrom populates the store from the *.c8s files in dir. Files with
// invalid slot names are skipped. A missing directory is not an error.
func (s *Store) LoadFrom(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read save directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != Extension {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), Extension)
		if !validSlot.MatchString(name) {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		if s.usedBytes+len(raw) > MaxStoreBytes {
			return ErrQuotaExceeded
		}

		modified := time.Now()
		if info, err := entry.Info(); err == nil {
			modified = info.ModTime()
		}
		if old, ok := s.slots[name]; ok {
			s.usedBytes -= len(old.Data)
		}
		s.slots[name] = &slotEntry{Data: raw, Created: modified, Modified: modified}
		s.usedBytes += len(raw)
	}

	return nil
}

// PersistTo writes all dirty slots to dir and removes deleted ones. The
// directory is created if needed. Slots that fail to write stay dirty.
// Returns the first error encountered.
func (s *Store) PersistTo(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create save directory: %w", err)
	}

	// Snapshot under the lock, then do the I/O without it.
	s.mu.Lock()
	snapshot := make(map[string]*slotEntry)
	var deleted []string
	for name := range s.dirty {
		if entry, ok := s.slots[name]; ok {
			data := make([]byte, len(entry.Data))
			copy(data, entry.Data)
			snapshot[name] = &slotEntry{Data: data, Created: entry.Created, Modified: entry.Modified}
		} else {
			deleted = append(deleted, name)
		}
		delete(s.dirty, name)
	}
	s.mu.Unlock()

	var firstErr error

	for _, name := range deleted {
		err := os.Remove(filepath.Join(dir, name+Extension))
		if err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}

	for name, entry := range snapshot {
		path := filepath.Join(dir, name+Extension)
		if err := os.WriteFile(path, entry.Data, 0644); err != nil {
			s.mu.Lock()
			s.dirty[name] = true
			s.mu.Unlock()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		_ = os.Chtimes(path, time.Now(), entry.Modified)
	}

	return firstErr
}
