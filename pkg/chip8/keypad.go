package chip8

import "sync/atomic"

// Keypad holds the 16 hex key states. A front-end goroutine may press and
// release keys while the interpreter reads them.
type Keypad struct {
	keys [KeyCount]atomic.Bool
}

func (k *Keypad) Press(key byte) {
	k.keys[key&0x0F].Store(true)
}

func (k *Keypad) Release(key byte) {
	k.keys[key&0x0F].Store(false)
}

// Set asserts or deasserts a key.
func (k *Keypad) Set(key byte, down bool) {
	k.keys[key&0x0F].Store(down)
}

func (k *Keypad) IsPressed(key byte) bool {
	return k.keys[key&0x0F].Load()
}

// FirstPressed returns the lowest key that is down.
func (k *Keypad) FirstPressed() (byte, bool) {
	for i := range k.keys {
		if k.keys[i].Load() {
			return byte(i), true
		}
	}
	return 0, false
}

// ReleaseAll clears every key.
func (k *Keypad) ReleaseAll() {
	for i := range k.keys {
		k.keys[i].Store(false)
	}
}
