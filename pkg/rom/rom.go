// Package rom loads CHIP-8 program images from the host file system.
package rom

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

// MaxSize is the largest image that fits between ProgramStart and the end of memory.
const MaxSize = chip8.MaxProgramSize

// validName matches ROM file names: a short base name and one of the known extensions.
var validName = regexp.MustCompile(`^[a-zA-Z0-9_\-\[\] ().]{1,64}\.(ch8|c8|rom|CH8|C8|ROM)$`)

var (
	ErrROMTooLarge = errors.New("rom too large")
	ErrEmptyROM    = errors.New("rom is empty")
	ErrROMNotFound = errors.New("rom not found")
	ErrInvalidName = errors.New("invalid rom name")
)

// Validate checks an image against the program size policy.
func Validate(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyROM
	}
	if len(data) > MaxSize {
		return fmt.Errorf("%w: %d bytes > %d bytes", ErrROMTooLarge, len(data), MaxSize)
	}
	return nil
}

// ReadFile reads and validates a single ROM image.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrROMNotFound, path)
		}
		return nil, fmt.Errorf("read rom: %w", err)
	}
	if err := Validate(data); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return data, nil
}

// ValidName reports whether name is acceptable as a library entry.
func ValidName(name string) bool {
	return validName.MatchString(name)
}

// Title derives a display title from a ROM file name.
func Title(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return strings.ReplaceAll(base, "_", " ")
}

type Entry struct {
	Name     string
	Data     []byte
	Modified time.Time
}

// Library is an in-memory collection of ROMs with a cursor for cycling
// through them. It is safe for concurrent use.
type Library struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	names   []string
	current int
}

func NewLibrary() *Library {
	return &Library{
		entries: make(map[string]*Entry),
	}
}

// Add validates and stores a copy of data under name, replacing any entry of
// the same name.
func (l *Library) Add(name string, data []byte) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if err := Validate(data); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.put(name, data, time.Now())
	return nil
}

// put stores a copy of data. The cursor stays on the same entry when the
// sorted order shifts.
func (l *Library) put(name string, data []byte, modified time.Time) {
	buf := make([]byte, len(data))
	copy(buf, data)

	if _, ok := l.entries[name]; !ok {
		var selected string
		if len(l.names) > 0 {
			selected = l.names[l.current]
		}
		l.names = append(l.names, name)
		sort.Strings(l.names)
		if selected != "" {
			l.current = sort.SearchStrings(l.names, selected)
		}
	}
	l.entries[name] = &Entry{Name: name, Data: buf, Modified: modified}
}

// LoadFrom adds every valid ROM found in dir. Files with unknown extensions
// are skipped; files that fail the size policy are skipped and reported in the
// returned list. A missing directory is not an error.
func (l *Library) LoadFrom(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rom directory: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var skipped []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !validName.MatchString(name) {
			continue
		}

		fullPath := filepath.Join(dir, name)
		data, err := ReadFile(fullPath)
		if err != nil {
			skipped = append(skipped, name)
			continue
		}

		modified := time.Now()
		if info, err := entry.Info(); err == nil {
			modified = info.ModTime()
		}
		l.put(name, data, modified)
	}

	return skipped, nil
}

// Get returns the entry stored under name.
func (l *Library) Get(name string) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrROMNotFound, name)
	}
	return entry, nil
}

// List returns the sorted entry names.
func (l *Library) List() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, len(l.names))
	copy(names, l.names)
	return names
}

func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.names)
}

// Select moves the cursor to name.
func (l *Library) Select(name string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := sort.SearchStrings(l.names, name)
	if i == len(l.names) || l.names[i] != name {
		return nil, fmt.Errorf("%w: %s", ErrROMNotFound, name)
	}
	l.current = i
	return l.entries[name], nil
}

// Current returns the entry under the cursor.
func (l *Library) Current() (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.names) == 0 {
		return nil, ErrROMNotFound
	}
	return l.entries[l.names[l.current]], nil
}

// Next advances the cursor, wrapping after the last entry.
func (l *Library) Next() (*Entry, error) {
	return l.move(1)
}

// Prev moves the cursor back, wrapping before the first entry.
func (l *Library) Prev() (*Entry, error) {
	return l.move(-1)
}

func (l *Library) move(delta int) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.names)
	if n == 0 {
		return nil, ErrROMNotFound
	}
	l.current = ((l.current+delta)%n + n) % n
	return l.entries[l.names[l.current]], nil
}
